package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"

	"github.com/fenwick-io/llmgateway/internal/observability"
)

// PostgresSink writes audit rows into a gateway_audit_log table, grounded
// on the teacher's usage.UsageRecorder.RecordLLMRequest insert-and-swallow
// shape, via database/sql + lib/pq.
type PostgresSink struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPostgresSink wraps an existing *sql.DB (opened with driver name
// "postgres"). Callers are responsible for connection lifecycle.
func NewPostgresSink(db *sql.DB, logger *observability.Logger) *PostgresSink {
	return &PostgresSink{db: db, logger: logger}
}

const insertAuditRow = `
INSERT INTO gateway_audit_log
	(timestamp, user_id, conversation_id, agent, provider, action, status,
	 latency_ms, tokens_in, tokens_out, error_message, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (request_id) DO NOTHING
`

// LogExecution writes one audit row. Per spec §7/§6, failures here are
// logged and returned; the orchestrator discards the returned error, so they
// never reach the orchestrator's caller.
func (s *PostgresSink) LogExecution(ctx context.Context, f Fields) error {
	metadata, err := json.Marshal(f.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, insertAuditRow,
		f.Timestamp, f.UserID, f.ConversationID, f.Agent, f.Provider, f.Action, f.Status,
		f.LatencyMs, f.TokensIn, f.TokensOut, f.ErrorMessage, f.RequestID, metadata,
	)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("audit sink write failed", map[string]interface{}{"error": err.Error(), "request_id": f.RequestID})
		}
		return err
	}
	return nil
}

// EnsureSchema creates the gateway_audit_log table if it doesn't exist yet.
// Intended for local development and tests; production deployments should
// manage schema via migrations.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS gateway_audit_log (
	id              BIGSERIAL PRIMARY KEY,
	timestamp       TIMESTAMPTZ NOT NULL,
	user_id         TEXT NOT NULL,
	conversation_id TEXT,
	agent           TEXT NOT NULL,
	provider        TEXT,
	action          TEXT NOT NULL,
	status          TEXT NOT NULL,
	latency_ms      BIGINT,
	tokens_in       INTEGER,
	tokens_out      INTEGER,
	error_message   TEXT,
	request_id      TEXT UNIQUE,
	metadata        JSONB
)`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}
