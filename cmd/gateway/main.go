// Package main is the entry point for the LLM gateway service.
//
// The gateway is a multi-provider LLM orchestration service that:
// - Routes requests across Anthropic, OpenAI-compatible, and Gemini providers
// - Enforces per-provider rate limits, auto-throttling, and cost budgets
// - Falls back across a configured provider chain on failure
// - Executes BMAD-Agile task plans with dependency-ordered scheduling
// - Keeps rolling conversation history and emits structured audit logs
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	GATEWAY_CONFIG - path to the YAML config file (default: gateway.yaml)
//	GATEWAY_REDIS_URL - Redis URL for atomic rate limiting and conversation history (optional)
//	GATEWAY_AUDIT_DATABASE_URL - Postgres DSN for the audit sink (optional)
//	GATEWAY_HTTP_ADDR - HTTP listen address (default: :8080)
//	GATEWAY_AGENTS_DIR - directory of agent definition YAML files (default: agents)
//	ANTHROPIC_API_KEY, OPENAI_API_KEY, GROQ_API_KEY, CEREBRAS_API_KEY,
//	OPENROUTER_API_KEY, GEMINI_API_KEY - per-provider credentials, named by
//	each provider's configured api_key_env
package main

import (
	"github.com/fenwick-io/llmgateway/internal/gateway"
)

func main() {
	gateway.Run()
}
