package orchestrator

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-io/llmgateway/internal/agent"
	"github.com/fenwick-io/llmgateway/internal/conversation"
	"github.com/fenwick-io/llmgateway/internal/gate"
	"github.com/fenwick-io/llmgateway/internal/llm"
	"github.com/fenwick-io/llmgateway/internal/observability"
	"github.com/fenwick-io/llmgateway/internal/ratelimit"
)

func basePlan() *Plan {
	return &Plan{
		AgileMethodology:    "BMAD-Agile",
		ComplianceChecklist: []string{"scope reviewed"},
		Tasks: []Task{
			{ID: "draft", ProviderKey: "p1", TaskPrompt: "draft the outline"},
			{ID: "review", ProviderKey: "p1", TaskPrompt: "review the outline", Inputs: []string{"draft"}},
		},
	}
}

func registryWith(names ...string) *llm.Registry {
	r := llm.NewRegistry()
	for _, n := range names {
		r.Add(&fakeProvider{name: n})
	}
	return r
}

func TestValidatePlanRejectsWrongMethodology(t *testing.T) {
	p := basePlan()
	p.AgileMethodology = "waterfall"
	err := ValidatePlan(p, registryWith("p1"))
	assert.Error(t, err)
}

func TestValidatePlanRejectsEmptyChecklist(t *testing.T) {
	p := basePlan()
	p.ComplianceChecklist = nil
	err := ValidatePlan(p, registryWith("p1"))
	assert.Error(t, err)
}

func TestValidatePlanRejectsEmptyTaskID(t *testing.T) {
	p := basePlan()
	p.Tasks[0].ID = ""
	err := ValidatePlan(p, registryWith("p1"))
	assert.Error(t, err)
}

func TestValidatePlanRejectsDuplicateTaskID(t *testing.T) {
	p := basePlan()
	p.Tasks[1].ID = "draft"
	err := ValidatePlan(p, registryWith("p1"))
	assert.Error(t, err)
}

func TestValidatePlanRejectsUnregisteredProvider(t *testing.T) {
	p := basePlan()
	err := ValidatePlan(p, registryWith("other"))
	assert.Error(t, err)
}

func TestValidatePlanRejectsSelfDependency(t *testing.T) {
	p := basePlan()
	p.Tasks[0].Inputs = []string{"draft"}
	err := ValidatePlan(p, registryWith("p1"))
	assert.Error(t, err)
}

func TestValidatePlanRejectsUnknownInput(t *testing.T) {
	p := basePlan()
	p.Tasks[1].Inputs = []string{"missing"}
	err := ValidatePlan(p, registryWith("p1"))
	assert.Error(t, err)
}

func TestValidatePlanRejectsCycle(t *testing.T) {
	p := basePlan()
	p.Tasks[0].Inputs = []string{"review"}
	err := ValidatePlan(p, registryWith("p1"))
	assert.Error(t, err)
}

func TestValidatePlanAcceptsValidDAG(t *testing.T) {
	p := basePlan()
	err := ValidatePlan(p, registryWith("p1"))
	assert.NoError(t, err)
}

func newTestOrchestrator(t *testing.T, calls map[string]func(req llm.CompletionRequest) (llm.CompletionResponse, error)) *Orchestrator {
	t.Helper()
	reg := llm.NewRegistry()
	limiter := ratelimit.NewCombinedLimiter(ratelimit.NewInMemorySlidingWindow())
	for name, fn := range calls {
		reg.Add(&fakeProvider{name: name, callFn: fn})
		limiter.RegisterProvider(name, ratelimit.Config{RPM: 1000, Burst: 1000, WindowSize: time.Minute})
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/a1.yaml", []byte("id: a1\nname: Ada\n"), 0o644))
	loader := agent.NewLoader(dir)
	require.NoError(t, loader.Reload())

	return &Orchestrator{
		Registry:    reg,
		Gate:        gate.New(4),
		Limiter:     limiter,
		History:     conversation.NewInMemoryStore(),
		Agents:      loader,
		Logger:      observability.NewLogger("test", "t1", "", ""),
		RetryConfig: llm.DefaultRetryConfig(),
	}
}

func TestExecutePlanRunsDependencyOrderAndConcatenates(t *testing.T) {
	o := newTestOrchestrator(t, map[string]func(req llm.CompletionRequest) (llm.CompletionResponse, error){
		"p1": func(req llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "out:" + req.Messages[1].Content, ProviderName: "p1", Model: "m1"}, nil
		},
	})
	plan := basePlan()
	req := ExecutionRequest{AgentID: "a1", Task: "draft something", UserID: "u1"}
	log := o.Logger.With("req1", req.AgentID, "")

	resp, err := o.executePlan(context.Background(), log, req, plan, time.Now(), "req1")
	require.NoError(t, err)
	assert.Contains(t, resp.ResponseText, "Task draft (p1)")
	assert.Contains(t, resp.ResponseText, "Task review (p1)")
	assert.Equal(t, 2, resp.Metadata.Turns)
}

func TestExecutePlanFailsOnUnregisteredProviderMidRun(t *testing.T) {
	o := newTestOrchestrator(t, map[string]func(req llm.CompletionRequest) (llm.CompletionResponse, error){
		"p1": func(req llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "ok", ProviderName: "p1"}, nil
		},
	})
	plan := basePlan()
	plan.Tasks[1].ProviderKey = "ghost"
	req := ExecutionRequest{AgentID: "a1", Task: "draft something", UserID: "u1"}
	log := o.Logger.With("req1", req.AgentID, "")

	_, err := o.executePlan(context.Background(), log, req, plan, time.Now(), "req1")
	assert.Error(t, err)
}

func TestExecutePlanNoProgressErrorsOnUnsatisfiableGraph(t *testing.T) {
	o := newTestOrchestrator(t, map[string]func(req llm.CompletionRequest) (llm.CompletionResponse, error){
		"p1": func(req llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "ok", ProviderName: "p1"}, nil
		},
	})
	plan := &Plan{
		AgileMethodology:    "BMAD-Agile",
		ComplianceChecklist: []string{"x"},
		Tasks: []Task{
			{ID: "only", ProviderKey: "p1", Inputs: []string{"phantom"}},
		},
	}
	req := ExecutionRequest{AgentID: "a1", Task: "draft something", UserID: "u1"}
	log := o.Logger.With("req1", req.AgentID, "")

	_, err := o.executePlan(context.Background(), log, req, plan, time.Now(), "req1")
	assert.Error(t, err)
}

func TestSynthesizeOrConcatenateUsesSynthesizerWhenPresent(t *testing.T) {
	outputs := []TaskOutput{{TaskID: "a", Provider: "p1", Content: "hello"}}
	synth := func(ctx context.Context, outs []TaskOutput, prompt string) (string, error) {
		return "synthesized", nil
	}
	got := synthesizeOrConcatenate(context.Background(), synth, outputs, "")
	assert.Equal(t, "synthesized", got)
}

func TestSynthesizeOrConcatenateFallsBackOnSynthesizerError(t *testing.T) {
	outputs := []TaskOutput{{TaskID: "a", Provider: "p1", Content: "hello"}}
	synth := func(ctx context.Context, outs []TaskOutput, prompt string) (string, error) {
		return "", errors.New("synthesis failed")
	}
	got := synthesizeOrConcatenate(context.Background(), synth, outputs, "")
	assert.Contains(t, got, "Task a (p1) => hello")
}

func TestSynthesizeOrConcatenateWithNilSynthesizer(t *testing.T) {
	outputs := []TaskOutput{
		{TaskID: "a", Provider: "p1", Content: "hello"},
		{TaskID: "b", Provider: "p2", Content: "world"},
	}
	got := synthesizeOrConcatenate(context.Background(), nil, outputs, "")
	assert.Contains(t, got, "Task a (p1) => hello")
	assert.Contains(t, got, "Task b (p2) => world")
}
