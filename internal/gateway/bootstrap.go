// Package gateway wires every component package into a running process:
// config, providers, rate limiting, orchestrator, and the HTTP surface.
// Grounded on platform/agent/run.go and platform/orchestrator/run.go's
// Run()-does-all-the-wiring shape; cmd/gateway/main.go stays a one-line
// caller per the teacher's cmd/*/main.go convention.
package gateway

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/fenwick-io/llmgateway/internal/llm/anthropic"
	_ "github.com/fenwick-io/llmgateway/internal/llm/gemini"
	_ "github.com/fenwick-io/llmgateway/internal/llm/openaicompat"

	"github.com/fenwick-io/llmgateway/internal/agent"
	"github.com/fenwick-io/llmgateway/internal/audit"
	"github.com/fenwick-io/llmgateway/internal/config"
	"github.com/fenwick-io/llmgateway/internal/conversation"
	"github.com/fenwick-io/llmgateway/internal/cost"
	"github.com/fenwick-io/llmgateway/internal/discovery"
	"github.com/fenwick-io/llmgateway/internal/fallback"
	"github.com/fenwick-io/llmgateway/internal/gate"
	"github.com/fenwick-io/llmgateway/internal/httpapi"
	"github.com/fenwick-io/llmgateway/internal/llm"
	"github.com/fenwick-io/llmgateway/internal/observability"
	"github.com/fenwick-io/llmgateway/internal/orchestrator"
	"github.com/fenwick-io/llmgateway/internal/ratelimit"
	"github.com/fenwick-io/llmgateway/internal/throttle"
)

// aggregatorTypes lists adapter type keys whose upstream fronts a model
// catalog (OpenRouter-style) and therefore gets a discovery.Aggregator.
var aggregatorTypes = map[string]bool{"openrouter": true}

// Run loads configuration from the path named by GATEWAY_CONFIG (defaulting
// to "gateway.yaml"), wires every component, and blocks serving HTTP until
// the process is killed.
func Run() {
	configPath := getEnv("GATEWAY_CONFIG", "gateway.yaml")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("gateway: config load failed: %v", err)
	}

	instanceID := getEnv("HOSTNAME", "gateway-unknown")
	logger := observability.NewLogger("llmgateway", instanceID, getEnv("CONTAINER", ""), cfg.LogFile)
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	registry := llm.NewRegistry()
	limiter := ratelimit.NewCombinedLimiter(buildSlidingWindow(logger))
	throttleCtl := throttle.NewController(throttle.DefaultConfig(), nil)
	limiter.SetThrottleLookup(throttleCtl.CurrentRPM)

	aggregators := make(map[string]*discovery.Aggregator)

	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		provider, err := llm.Build(llm.Config{
			Name: p.Name, Type: p.Type, Model: p.Model, APIKeyEnv: p.APIKeyEnv,
			BaseURL: p.BaseURL, RPMLimit: p.RPMLimit, TPMLimit: p.TPMLimit,
			MaxTokens: p.MaxTokens, Temperature: p.Temperature, Timeout: p.Timeout,
			Enabled: p.Enabled,
		})
		if err != nil {
			log.Fatalf("gateway: building provider %s: %v", p.Name, err)
		}
		registry.Add(provider)
		throttleCtl.Register(p.Name, p.RPMLimit)

		perProvider := cfg.RateLimits.PerProvider[p.Name]
		limiter.RegisterProvider(p.Name, ratelimit.Config{
			RPM: p.RPMLimit, TPM: p.TPMLimit, Burst: perProvider.Burst,
			WindowSize: time.Duration(perProvider.WindowSize) * time.Second,
		})

		if aggregatorTypes[p.Type] {
			fetcher := &discovery.HTTPCatalogFetcher{
				BaseURL: p.BaseURL,
				APIKey:  config.ResolveAPIKey(p),
			}
			aggregators[p.Name] = discovery.NewAggregator(fetcher, 10*time.Minute, 3, 2*time.Second)
		}
	}

	breakers := fallback.NewBreakers(5, 30*time.Second)
	chains := make(map[string][]string, len(cfg.Router.Agents))
	for agentID, spec := range cfg.Router.Agents {
		chain := append([]string{spec.Primary}, spec.Fallback...)
		chains[agentID] = chain
	}
	executor := fallback.NewExecutor(registry, breakers, chains)

	rules := make(cost.RoutingRules, len(cfg.Cost.RoutingRules))
	for complexity, spec := range cfg.Cost.RoutingRules {
		rules[cost.Complexity(complexity)] = spec.Providers
	}
	optimizer := cost.NewOptimizer(cost.Budget{
		DailyLimit:     cfg.Cost.CostLimits.DailyBudget,
		AlertAtPercent: cfg.Cost.CostLimits.AlertAtPercent,
		ExceededAction: cost.BudgetExceededAction(cfg.Cost.CostLimits.BudgetExceededAction),
	}, rules, cost.DefaultPricing())

	agentsDir := cfg.AgentsDir
	if agentsDir == "" {
		agentsDir = "agents"
	}
	agentLoader := agent.NewLoader(agentsDir)
	if err := agentLoader.Reload(); err != nil {
		log.Printf("gateway: agent definitions load failed: %v (continuing with none loaded)", err)
	}

	history := buildConversationStore(logger)
	auditSink := buildAuditSink(logger)

	orch := &orchestrator.Orchestrator{
		Registry:           registry,
		Gate:               gate.New(cfg.RateLimits.Global.MaxConcurrent),
		Limiter:            limiter,
		Throttle:           throttleCtl,
		Fallback:           executor,
		Cost:               optimizer,
		History:            history,
		Agents:             agentLoader,
		Metrics:            metrics,
		Logger:             logger,
		Audit:              auditSink,
		Aggregators:        aggregators,
		RetryConfig:        buildRetryConfig(cfg),
		CostOptimizerOn:    cfg.Cost.CostLimits.DailyBudget > 0,
		MaxHistoryMessages: conversation.DefaultMaxMessages,
		HistoryTTL:         conversation.DefaultTTL,
	}

	server := httpapi.NewServer(orch, registry, logger)
	logger.Info("gateway starting", map[string]interface{}{"addr": cfg.HTTPAddr, "providers": registry.Names()})
	if err := server.ListenAndServe(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("gateway: http server exited: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func buildRetryConfig(cfg *config.Config) llm.RetryConfig {
	retryable := make(map[int]bool, len(cfg.RateLimits.Retry.RetryableStatusCodes))
	for _, code := range cfg.RateLimits.Retry.RetryableStatusCodes {
		retryable[code] = true
	}
	return llm.RetryConfig{
		MaxAttempts:     cfg.RateLimits.Retry.MaxAttempts,
		BaseDelay:       time.Duration(cfg.RateLimits.Retry.BaseDelay * float64(time.Second)),
		MaxDelay:        time.Duration(cfg.RateLimits.Retry.MaxDelay * float64(time.Second)),
		ExponentialBase: cfg.RateLimits.Retry.ExponentialBase,
		Jitter:          cfg.RateLimits.Retry.Jitter,
		RetryableStatus: retryable,
		MaxWait:         300 * time.Second,
	}
}

func buildSlidingWindow(logger *observability.Logger) ratelimit.SlidingWindow {
	redisURL := os.Getenv("GATEWAY_REDIS_URL")
	if redisURL == "" {
		logger.Warn("rate limiter running in-memory fallback mode", nil)
		return ratelimit.NewInMemorySlidingWindow()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid GATEWAY_REDIS_URL, falling back to in-memory rate limiting", map[string]interface{}{"error": err.Error()})
		return ratelimit.NewInMemorySlidingWindow()
	}
	client := redis.NewClient(opts)
	logger.Info("rate limiter running atomic Redis-backed mode", nil)
	return ratelimit.NewRedisSlidingWindow(client, "gateway:ratelimit")
}

func buildConversationStore(logger *observability.Logger) conversation.Store {
	redisURL := os.Getenv("GATEWAY_REDIS_URL")
	if redisURL == "" {
		return conversation.NewInMemoryStore()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid GATEWAY_REDIS_URL, conversation history falling back to in-memory", map[string]interface{}{"error": err.Error()})
		return conversation.NewInMemoryStore()
	}
	return conversation.NewRedisStore(redis.NewClient(opts))
}

func buildAuditSink(logger *observability.Logger) audit.Sink {
	dbURL := os.Getenv("GATEWAY_AUDIT_DATABASE_URL")
	if dbURL == "" {
		return audit.NoopSink{}
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Warn("audit database open failed, audit logging disabled", map[string]interface{}{"error": err.Error()})
		return audit.NoopSink{}
	}
	if err := db.Ping(); err != nil {
		logger.Warn("audit database ping failed, audit logging disabled", map[string]interface{}{"error": err.Error()})
		return audit.NoopSink{}
	}
	sink := audit.NewPostgresSink(db, logger)
	if err := sink.EnsureSchema(context.Background()); err != nil {
		logger.Warn("audit schema ensure failed", map[string]interface{}{"error": err.Error()})
	}
	return sink
}
