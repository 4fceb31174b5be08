package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-io/llmgateway/internal/agent"
	"github.com/fenwick-io/llmgateway/internal/audit"
	"github.com/fenwick-io/llmgateway/internal/conversation"
	"github.com/fenwick-io/llmgateway/internal/cost"
	"github.com/fenwick-io/llmgateway/internal/discovery"
	"github.com/fenwick-io/llmgateway/internal/fallback"
	"github.com/fenwick-io/llmgateway/internal/gate"
	"github.com/fenwick-io/llmgateway/internal/gatewayerr"
	"github.com/fenwick-io/llmgateway/internal/llm"
	"github.com/fenwick-io/llmgateway/internal/observability"
	"github.com/fenwick-io/llmgateway/internal/pii"
	"github.com/fenwick-io/llmgateway/internal/prompt"
	"github.com/fenwick-io/llmgateway/internal/ratelimit"
	"github.com/fenwick-io/llmgateway/internal/throttle"
)

// Orchestrator owns the request lifecycle of spec §4.14: setup, optional
// plan, provider selection, agent load, prompt assembly, the upstream call
// (direct or plan), post-success/error recording, and log-context teardown.
type Orchestrator struct {
	Registry  *llm.Registry
	Gate      *gate.Gate
	Limiter   *ratelimit.CombinedLimiter
	Throttle  *throttle.Controller
	Fallback  *fallback.Executor
	Cost      *cost.Optimizer
	History   conversation.Store
	Agents    *agent.Loader
	Metrics   *observability.Metrics
	Logger    *observability.Logger
	Audit     audit.Sink
	Aggregators map[string]*discovery.Aggregator // provider name -> aggregator, for C12

	RetryConfig       llm.RetryConfig
	CostOptimizerOn   bool
	MaxHistoryMessages int
	HistoryTTL        time.Duration

	// PlanOptimizer, when nil, leaves Execute on single-call semantics; when
	// it returns a nil plan, Execute also makes a single call.
	PlanOptimizer func(ctx context.Context, task string) (*Plan, error)
	Synthesizer   func(ctx context.Context, outputs []TaskOutput, postProcessingPrompt string) (string, error)
}

// Execute runs the full lifecycle for one request.
func (o *Orchestrator) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResponse, error) {
	if req.AgentID == "" {
		return ExecutionResponse{}, &gatewayerr.InputError{Field: "agent_id", Message: "required"}
	}
	if req.Task == "" || len(req.Task) > 10000 {
		return ExecutionResponse{}, &gatewayerr.InputError{Field: "task", Message: "must be 1-10000 chars"}
	}
	if req.UserID == "" {
		return ExecutionResponse{}, &gatewayerr.InputError{Field: "user_id", Message: "required"}
	}

	requestID := uuid.New().String()
	start := time.Now()
	log := o.Logger.With(requestID, req.AgentID, "")
	defer func() { /* log context cleared: the child logger is discarded here, never reused */ }()

	rec, ok := o.Agents.Get(req.AgentID)
	if !ok {
		return ExecutionResponse{}, &gatewayerr.InputError{Field: "agent_id", Message: fmt.Sprintf("unknown agent %q", req.AgentID)}
	}

	piiReport := pii.Detect(req.Task)
	if piiReport.HasPII {
		log.Warn("pii detected in task input", map[string]interface{}{"pii_types": piiReport.PIITypes})
	}

	var plan *Plan
	if o.PlanOptimizer != nil {
		p, err := o.PlanOptimizer(ctx, req.Task)
		if err != nil {
			o.recordFailure(log, req, "", "other", time.Since(start), err)
			return ExecutionResponse{}, err
		}
		if p != nil {
			if err := ValidatePlan(p, o.Registry); err != nil {
				o.recordFailure(log, req, "", "other", time.Since(start), err)
				return ExecutionResponse{}, err
			}
			plan = p
		}
	}

	complexity := DetermineComplexity(req.Complexity, req.AgentID, req.Task)

	history, err := o.History.GetMessages(ctx, req.UserID, req.AgentID)
	if err != nil {
		log.Warn("conversation history load failed", map[string]interface{}{"error": err.Error()})
	}

	systemPrompt := prompt.Assemble(rec, prompt.UserConfig{})

	if plan != nil {
		return o.executePlan(ctx, log, req, plan, start, requestID)
	}

	providerName, err := o.selectProvider(complexity)
	if err != nil {
		o.recordFailure(log, req, "", "other", time.Since(start), err)
		return ExecutionResponse{}, err
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, h := range history {
		messages = append(messages, llm.Message{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Task})

	taskType := taskTypeForComplexity(complexity)
	callReq := llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TaskType:    taskType,
	}

	resp, fallbackUsed, err := o.Fallback.ExecuteWithPreferred(ctx, req.AgentID, providerName, callReq, func(ctx context.Context, p llm.Provider, r llm.CompletionRequest) (llm.CompletionResponse, error) {
		return o.callProvider(ctx, p, r)
	})
	if err != nil {
		o.recordFailure(log, req, providerName, classifyErrorType(err), time.Since(start), err)
		return ExecutionResponse{}, err
	}

	return o.recordSuccess(ctx, log, req, rec, resp, fallbackUsed, 1, start, requestID)
}

// callProvider wraps a single adapter call with the gate -> combined
// limiter -> retry -> adapter pipeline per spec §2/§4.6, and feeds observed
// 429s into auto-throttle.
func (o *Orchestrator) callProvider(ctx context.Context, p llm.Provider, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	release, err := o.Gate.Acquire(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	defer release()

	if err := o.Limiter.Acquire(ctx, p.Name()); err != nil {
		o.observe429(p.Name(), err)
		return llm.CompletionResponse{}, err
	}

	start := time.Now()
	resp, err := llm.RetryWithBackoff(ctx, o.RetryConfig, func(ctx context.Context, attempt int) (llm.CompletionResponse, error) {
		if agg, ok := o.Aggregators[p.Name()]; ok {
			return o.callWithAggregator(ctx, agg, p, req)
		}
		return p.Call(ctx, req)
	})
	if o.Metrics != nil {
		o.Metrics.ProviderLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		o.observe429(p.Name(), err)
		return llm.CompletionResponse{}, err
	}
	return resp, nil
}

func (o *Orchestrator) observe429(provider string, err error) {
	if _, ok := err.(*gatewayerr.RateLimit); ok {
		o.Throttle.RecordError(provider)
		if o.Metrics != nil {
			o.Metrics.Errors429Total.WithLabelValues(provider).Inc()
		}
	}
}

// callWithAggregator threads a single adapter call through the smart
// upstream discovery bounded retry loop (C12) for aggregator providers.
func (o *Orchestrator) callWithAggregator(ctx context.Context, agg *discovery.Aggregator, p llm.Provider, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	type modelCaller interface {
		CallWithModel(ctx context.Context, req llm.CompletionRequest, model string) (llm.CompletionResponse, error)
		CurrentModel() string
	}
	mc, ok := p.(modelCaller)
	if !ok {
		return p.Call(ctx, req)
	}
	resp, _, err := agg.CallWithAutoFallback(ctx, req, mc.CurrentModel(), mc.CallWithModel, classifyAggregatorError)
	return resp, err
}

func classifyAggregatorError(err error) (int, string) {
	if api, ok := err.(*gatewayerr.APIError); ok {
		return api.Status, api.Message
	}
	return 0, err.Error()
}

func (o *Orchestrator) selectProvider(complexity cost.Complexity) (string, error) {
	if !o.CostOptimizerOn {
		names := o.Registry.Names()
		if len(names) == 0 {
			return "", &gatewayerr.AllProvidersFailed{Chain: names, ErrorsByProvider: map[string]error{}}
		}
		return names[0], nil
	}
	available := make(map[string]bool)
	for _, n := range o.Registry.Names() {
		available[n] = true
	}
	return o.Cost.SelectProvider(complexity, available)
}

func taskTypeForComplexity(c cost.Complexity) string {
	switch c {
	case cost.ComplexityCode:
		return "code"
	case cost.ComplexityComplex, cost.ComplexityCritical:
		return "reasoning"
	default:
		return "general"
	}
}

func classifyErrorType(err error) string {
	switch err.(type) {
	case *gatewayerr.RateLimit:
		return "rate_limit"
	case *gatewayerr.Timeout:
		return "timeout"
	case *gatewayerr.APIError:
		return "api"
	default:
		return "other"
	}
}

func (o *Orchestrator) recordFailure(log *observability.Logger, req ExecutionRequest, provider, errType string, latency time.Duration, err error) {
	if o.Metrics != nil {
		o.Metrics.RequestsFailedTotal.WithLabelValues(provider, req.AgentID, errType).Inc()
	}
	log.Error("execution failed", map[string]interface{}{"error": err.Error(), "error_type": errType})
	if o.Audit != nil {
		_ = o.Audit.LogExecution(context.Background(), audit.Fields{
			Timestamp: time.Now(), UserID: req.UserID, ConversationID: req.ConversationID,
			Agent: req.AgentID, Provider: provider, Action: "execute", Status: "failed",
			LatencyMs: latency.Milliseconds(), ErrorMessage: err.Error(),
		})
	}
}

func (o *Orchestrator) recordSuccess(ctx context.Context, log *observability.Logger, req ExecutionRequest, rec *agent.Record, resp llm.CompletionResponse, fallbackUsed bool, turns int, start time.Time, requestID string) (ExecutionResponse, error) {
	maxMsgs := o.MaxHistoryMessages
	if maxMsgs == 0 {
		maxMsgs = conversation.DefaultMaxMessages
	}
	ttl := o.HistoryTTL
	if ttl == 0 {
		ttl = conversation.DefaultTTL
	}
	_ = o.History.AddMessage(ctx, req.UserID, req.AgentID, "user", req.Task, maxMsgs, ttl)
	_ = o.History.AddMessage(ctx, req.UserID, req.AgentID, "assistant", resp.Content, maxMsgs, ttl)

	var costUSD float64
	if o.CostOptimizerOn && o.Cost != nil {
		costUSD, _ = o.Cost.RecordUsage(resp.ProviderName, resp.Model, resp.TokensInput, resp.TokensOutput, req.UserID, req.ConversationID)
	}

	latency := time.Since(start)
	if o.Metrics != nil {
		o.Metrics.RequestsTotal.WithLabelValues(resp.ProviderName, req.AgentID, "success").Inc()
		o.Metrics.RequestDuration.WithLabelValues(resp.ProviderName, req.AgentID).Observe(latency.Seconds())
		o.Metrics.TokensTotal.WithLabelValues(resp.ProviderName, "input").Add(float64(resp.TokensInput))
		o.Metrics.TokensTotal.WithLabelValues(resp.ProviderName, "output").Add(float64(resp.TokensOutput))
		o.Metrics.TokensConsumed.WithLabelValues(resp.ProviderName, "input").Observe(float64(resp.TokensInput))
		o.Metrics.TokensConsumed.WithLabelValues(resp.ProviderName, "output").Observe(float64(resp.TokensOutput))
	}
	log.Info("execution succeeded", map[string]interface{}{
		"provider": resp.ProviderName, "latency_ms": latency.Milliseconds(), "cost_usd": costUSD,
	})
	if o.Audit != nil {
		_ = o.Audit.LogExecution(context.Background(), audit.Fields{
			Timestamp: time.Now(), UserID: req.UserID, ConversationID: req.ConversationID,
			Agent: req.AgentID, Provider: resp.ProviderName, Action: "execute", Status: "success",
			LatencyMs: latency.Milliseconds(), TokensIn: resp.TokensInput, TokensOut: resp.TokensOutput,
			RequestID: requestID,
		})
	}

	return ExecutionResponse{
		AgentID:      req.AgentID,
		AgentName:    rec.Name,
		ProviderName: resp.ProviderName,
		ModelName:    resp.Model,
		ResponseText: resp.Content,
		Metadata: ResponseMetadata{
			RequestID:    requestID,
			LatencyMs:    latency.Milliseconds(),
			TokensInput:  resp.TokensInput,
			TokensOutput: resp.TokensOutput,
			FallbackUsed: fallbackUsed,
			Turns:        turns,
		},
	}, nil
}
