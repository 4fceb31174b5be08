// Package httpapi is the thin outer HTTP surface: decode, call the
// orchestrator, encode. Grounded on platform/agent/run.go's gorilla/mux +
// rs/cors wiring; carries no business logic of its own.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/fenwick-io/llmgateway/internal/llm"
	"github.com/fenwick-io/llmgateway/internal/observability"
	"github.com/fenwick-io/llmgateway/internal/orchestrator"
)

// Server wires the gateway's HTTP surface.
type Server struct {
	handler      http.Handler
	orchestrator *orchestrator.Orchestrator
	registry     *llm.Registry
	logger       *observability.Logger
}

// NewServer builds the routed, CORS-wrapped HTTP handler.
func NewServer(orch *orchestrator.Orchestrator, registry *llm.Registry, logger *observability.Logger) *Server {
	s := &Server{orchestrator: orch, registry: registry, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/v1/execute", s.handleExecute).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	s.handler = corsMiddleware.Handler(router)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe starts the HTTP server on addr, blocking until it exits.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.handler)
}
