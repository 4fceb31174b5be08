package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fenwick-io/llmgateway/internal/cost"
	"github.com/fenwick-io/llmgateway/internal/gatewayerr"
	"github.com/fenwick-io/llmgateway/internal/llm"
	"github.com/fenwick-io/llmgateway/internal/orchestrator"
)

type executeRequestBody struct {
	AgentID        string            `json:"agent_id"`
	Task           string            `json:"task"`
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature,omitempty"`
	Complexity     string            `json:"complexity,omitempty"`
}

type executeResponseBody struct {
	AgentID      string                       `json:"agent_id"`
	AgentName    string                       `json:"agent_name"`
	ProviderName string                       `json:"provider_name"`
	ModelName    string                       `json:"model_name"`
	ResponseText string                       `json:"response_text"`
	Metadata     orchestrator.ResponseMetadata `json:"metadata"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "input", "malformed request body: "+err.Error())
		return
	}

	req := orchestrator.ExecutionRequest{
		AgentID:        body.AgentID,
		Task:           body.Task,
		UserID:         body.UserID,
		ConversationID: body.ConversationID,
		Metadata:       body.Metadata,
		MaxTokens:      body.MaxTokens,
		Temperature:    body.Temperature,
	}
	if body.Complexity != "" {
		req.Complexity = cost.Complexity(body.Complexity)
	}

	resp, err := s.orchestrator.Execute(r.Context(), req)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executeResponseBody{
		AgentID:      resp.AgentID,
		AgentName:    resp.AgentName,
		ProviderName: resp.ProviderName,
		ModelName:    resp.ModelName,
		ResponseText: resp.ResponseText,
		Metadata:     resp.Metadata,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	statuses := make(map[string]llm.HealthStatus)
	healthy := true
	for _, name := range s.registry.Names() {
		p, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		hs := p.HealthCheck(ctx)
		statuses[name] = hs
		if !hs.Healthy {
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy":   healthy,
		"providers": statuses,
		"checked_at": time.Now().UTC(),
	})
}

func writeTaxonomyError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *gatewayerr.InputError:
		writeError(w, http.StatusBadRequest, "input", e.Error())
	case *gatewayerr.RateLimit:
		writeError(w, http.StatusTooManyRequests, "rate_limit", e.Error())
	case *gatewayerr.Timeout:
		writeError(w, http.StatusGatewayTimeout, "timeout", e.Error())
	case *gatewayerr.APIError:
		status := e.Status
		if status == 0 {
			status = http.StatusBadGateway
		}
		writeError(w, status, "api", e.Error())
	case *gatewayerr.ProcessCompliance:
		writeError(w, http.StatusUnprocessableEntity, "process_compliance", e.Error())
	case *gatewayerr.AllProvidersFailed:
		writeError(w, http.StatusServiceUnavailable, "all_providers_failed", e.Error())
	default:
		writeError(w, http.StatusInternalServerError, "other", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: message, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
