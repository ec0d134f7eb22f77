package safety

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrNilWriter is returned by AuditLogger.Log when the logger has no
// destination.
var ErrNilWriter = errors.New("audit logger: writer is nil")

// AuditEntry records one mutating API call: who asked for what, and
// how it went. Switching antenna power is the kind of thing people ask
// about after the fact.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Op        string    `json:"op"`
	Remote    string    `json:"remote,omitempty"`
	Outputs   []string  `json:"outputs,omitempty"`
	Result    string    `json:"result"`
	Duration  int64     `json:"duration_ms"`
}

// AuditLogger appends AuditEntry records as newline-delimited JSON.
// Safe for concurrent use. A nil *AuditLogger is a valid no-op.
type AuditLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewAuditLogger returns an AuditLogger writing to w, or nil when w is
// nil so call sites can pass it through unconditionally.
func NewAuditLogger(w io.Writer) *AuditLogger {
	if w == nil {
		return nil
	}
	return &AuditLogger{w: w}
}

// Log serialises entry as one JSON line.
func (l *AuditLogger) Log(entry AuditEntry) error {
	if l == nil || l.w == nil {
		return ErrNilWriter
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(data)
	return err
}
