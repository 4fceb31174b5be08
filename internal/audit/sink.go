// Package audit implements the opaque audit-log sink (C21): the core emits
// structured records; storage is an implementation detail behind the Sink
// interface.
package audit

import (
	"context"
	"time"
)

// Fields is one audit row, per spec §6's persisted-state schema.
type Fields struct {
	Timestamp    time.Time
	UserID       string
	ConversationID string
	Agent        string
	Provider     string
	Action       string
	Status       string
	LatencyMs    int64
	TokensIn     int
	TokensOut    int
	ErrorMessage string
	RequestID    string
	Metadata     map[string]string
}

// Sink is the interface the orchestrator calls opportunistically;
// implementations log their own errors and may also return them. The
// orchestrator discards the returned error, so audit failures never alter
// the caller-visible outcome.
type Sink interface {
	LogExecution(ctx context.Context, fields Fields) error
}

// NoopSink discards every record; used when no audit sink is configured.
type NoopSink struct{}

func (NoopSink) LogExecution(context.Context, Fields) error { return nil }
