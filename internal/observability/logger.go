// Package observability implements the structured logger (C20) and
// Prometheus metrics registry (C22) that together realize the observability
// adapter (C18).
package observability

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type logLine struct {
	Timestamp   string                 `json:"timestamp"`
	Level       Level                  `json:"level"`
	Component   string                 `json:"component"`
	InstanceID  string                 `json:"instance_id,omitempty"`
	Container   string                 `json:"container,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
	Agent       string                 `json:"agent,omitempty"`
	Provider    string                 `json:"provider,omitempty"`
	Message     string                 `json:"message"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
}

// Logger is a JSON-line structured logger with a With(...)-scoped ambient
// context, grounded on the teacher's shared/logger.Logger. Safe for
// concurrent use; With returns an independent child so concurrent requests
// never clobber each other's context.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	component  string
	instanceID string
	container  string
	requestID  string
	agent      string
	provider   string
}

// NewLogger builds a root logger writing JSON lines to stdout, or to a
// rotating file sink when filePath is non-empty (gopkg.in/natefinch/lumberjack.v2,
// see SPEC_FULL.md §4.19). The file rotates by size only, at lumberjack's
// default of 100 MB; it is not rotated daily. Rotated files older than 30
// days are removed.
func NewLogger(component, instanceID, container string, filePath string) *Logger {
	var out io.Writer = os.Stdout
	if filePath != "" {
		out = &lumberjack.Logger{
			Filename:   filePath,
			MaxAge:     30,
			MaxBackups: 30,
			Compress:   true,
		}
	}
	return &Logger{out: out, component: component, instanceID: instanceID, container: container}
}

// With returns a child logger with additional ambient context set. The
// orchestrator calls this at the start of execute() and discards the child
// at the end, satisfying the "log context cleared before return" invariant
// without any shared mutable state to clear.
func (l *Logger) With(requestID, agent, provider string) *Logger {
	return &Logger{
		out:        l.out,
		component:  l.component,
		instanceID: l.instanceID,
		container:  l.container,
		requestID:  requestID,
		agent:      agent,
		provider:   provider,
	}
}

func (l *Logger) write(level Level, message string, fields map[string]interface{}) {
	line := logLine{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.component,
		InstanceID: l.instanceID,
		Container:  l.container,
		RequestID:  l.requestID,
		Agent:      l.agent,
		Provider:   l.provider,
		Message:    message,
		Fields:     fields,
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		return
	}
	encoded = append(encoded, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(encoded)
}

func (l *Logger) Debug(message string, fields map[string]interface{}) { l.write(LevelDebug, message, fields) }
func (l *Logger) Info(message string, fields map[string]interface{})  { l.write(LevelInfo, message, fields) }
func (l *Logger) Warn(message string, fields map[string]interface{})  { l.write(LevelWarn, message, fields) }
func (l *Logger) Error(message string, fields map[string]interface{}) { l.write(LevelError, message, fields) }
