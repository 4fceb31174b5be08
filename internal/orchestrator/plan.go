package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fenwick-io/llmgateway/internal/gatewayerr"
	"github.com/fenwick-io/llmgateway/internal/llm"
	"github.com/fenwick-io/llmgateway/internal/observability"
)

// Task is one node of a PromptPlan's dependency graph, per spec §3.
type Task struct {
	ID                string
	Role              string
	ProviderKey        string
	ExpertiseContext  string
	TaskPrompt        string
	Inputs            []string
	ExpectedOutputs   string
	DefinitionOfDone  string
	Blocking          bool
}

// Plan mirrors spec §3's Prompt Plan entity.
type Plan struct {
	UserRequest          string
	NormalizedProblem    string
	AgileMethodology     string
	ComplianceChecklist  []string
	Tasks                []Task
	AggregationStrategy  string
	PostProcessingPrompt string
}

// TaskOutput is one completed plan task's result, used for synthesis/
// concatenation.
type TaskOutput struct {
	TaskID   string
	Provider string
	Model    string
	Content  string
}

// ValidatePlan enforces spec §4.15's pre-execution invariants: BMAD-Agile
// metadata present, unique non-empty task ids, no self-dependency, every
// provider_key registered, and the dependency graph is a DAG (checked via
// grey/black DFS, raising on a back-edge).
func ValidatePlan(p *Plan, registry *llm.Registry) error {
	if p.AgileMethodology != "BMAD-Agile" {
		return &gatewayerr.ProcessCompliance{Reason: "agile methodology must be BMAD-Agile"}
	}
	if len(p.ComplianceChecklist) == 0 {
		return &gatewayerr.ProcessCompliance{Reason: "compliance checklist is empty"}
	}

	byID := make(map[string]Task, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return &gatewayerr.ProcessCompliance{Reason: "task id must not be empty"}
		}
		if _, dup := byID[t.ID]; dup {
			return &gatewayerr.ProcessCompliance{Reason: fmt.Sprintf("duplicate task id %q", t.ID)}
		}
		byID[t.ID] = t
	}
	for _, t := range p.Tasks {
		if !registry.Has(t.ProviderKey) {
			return &gatewayerr.ProcessCompliance{Reason: fmt.Sprintf("task %q references unregistered provider %q", t.ID, t.ProviderKey)}
		}
		for _, dep := range t.Inputs {
			if dep == t.ID {
				return &gatewayerr.ProcessCompliance{Reason: fmt.Sprintf("task %q depends on itself", t.ID)}
			}
			if _, ok := byID[dep]; !ok {
				return &gatewayerr.ProcessCompliance{Reason: fmt.Sprintf("task %q references unknown input %q", t.ID, dep)}
			}
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Tasks))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		for _, dep := range byID[id].Inputs {
			switch color[dep] {
			case grey:
				return &gatewayerr.ProcessCompliance{Reason: fmt.Sprintf("dependency cycle detected at task %q", dep)}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, t := range p.Tasks {
		if color[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// executePlan runs the validated plan's dependency-ordered execution loop
// (spec §4.15) and composes the final response via synthesis or
// verbatim concatenation.
func (o *Orchestrator) executePlan(ctx context.Context, log *observability.Logger, req ExecutionRequest, plan *Plan, start time.Time, requestID string) (ExecutionResponse, error) {
	results := make(map[string]llm.CompletionResponse, len(plan.Tasks))
	byID := make(map[string]Task, len(plan.Tasks))
	for _, t := range plan.Tasks {
		byID[t.ID] = t
	}

	done := make(map[string]bool, len(plan.Tasks))
	var order []string
	var totalIn, totalOut int

	for len(done) < len(plan.Tasks) {
		progressed := false
		for _, t := range plan.Tasks {
			if done[t.ID] {
				continue
			}
			if !inputsSatisfied(t.Inputs, done) {
				continue
			}

			provider, ok := o.Registry.Get(t.ProviderKey)
			if !ok {
				err := &gatewayerr.ProcessCompliance{Reason: fmt.Sprintf("task %q provider %q not registered", t.ID, t.ProviderKey)}
				o.recordFailure(log, req, t.ProviderKey, "other", time.Since(start), err)
				return ExecutionResponse{}, err
			}

			userContent := t.TaskPrompt
			for _, dep := range t.Inputs {
				userContent += fmt.Sprintf("\n\nContext from %s: %s", dep, results[dep].Content)
			}
			callReq := llm.CompletionRequest{
				Messages: []llm.Message{
					{Role: "system", Content: t.ExpertiseContext},
					{Role: "user", Content: userContent},
				},
			}

			resp, err := o.callProvider(ctx, provider, callReq)
			if err != nil {
				o.recordFailure(log, req, t.ProviderKey, classifyErrorType(err), time.Since(start), err)
				return ExecutionResponse{}, err
			}

			results[t.ID] = resp
			done[t.ID] = true
			order = append(order, t.ID)
			totalIn += resp.TokensInput
			totalOut += resp.TokensOutput
			progressed = true
		}
		if !progressed {
			err := &gatewayerr.ProcessCompliance{Reason: "plan execution made no progress; unresolved dependency graph"}
			o.recordFailure(log, req, "", "other", time.Since(start), err)
			return ExecutionResponse{}, err
		}
	}

	outputs := make([]TaskOutput, 0, len(order))
	for _, id := range order {
		r := results[id]
		outputs = append(outputs, TaskOutput{TaskID: id, Provider: r.ProviderName, Model: r.Model, Content: r.Content})
	}

	final := synthesizeOrConcatenate(ctx, o.Synthesizer, outputs, plan.PostProcessingPrompt)

	last := results[order[len(order)-1]]
	fallbackUsed := false
	resp := llm.CompletionResponse{
		Content:      final,
		ProviderName: last.ProviderName,
		Model:        last.Model,
		TokensInput:  totalIn,
		TokensOutput: totalOut,
	}

	agentRec, _ := o.Agents.Get(req.AgentID)
	return o.recordSuccess(ctx, log, req, agentRec, resp, fallbackUsed, len(order), start, requestID)
}

func inputsSatisfied(inputs []string, done map[string]bool) bool {
	for _, dep := range inputs {
		if !done[dep] {
			return false
		}
	}
	return true
}

// synthesizeOrConcatenate implements spec §4.15's final composition step:
// prefer the synthesizer's answer; on its absence or failure, concatenate
// task outputs verbatim in completion order.
func synthesizeOrConcatenate(ctx context.Context, synth func(ctx context.Context, outputs []TaskOutput, postProcessingPrompt string) (string, error), outputs []TaskOutput, postProcessingPrompt string) string {
	if synth != nil {
		if out, err := synth(ctx, outputs, postProcessingPrompt); err == nil {
			return out
		}
	}
	var b strings.Builder
	for i, o := range outputs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Task %s (%s) => %s", o.TaskID, o.Provider, o.Content)
	}
	return b.String()
}
