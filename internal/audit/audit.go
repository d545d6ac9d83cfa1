// Package audit records every balance-mutating operation as a structured,
// queryable trail rather than relying on log output alone.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record captures a single mutation with its surrounding state.
type Record struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Result    string          `json:"result"`
	Error     string          `json:"error,omitempty"`
}

// Sink persists audit records.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// New builds a record with a fresh id and timestamp.
func New(actor, action string) Record {
	return Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
	}
}

// Snapshot marshals v for the before/after fields, ignoring errors; a nil
// value yields an empty field.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// MemorySink keeps records in memory for tests and DSN-less runs.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink constructs an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores a copy of the record.
func (m *MemorySink) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything appended so far.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) Append(context.Context, Record) error { return nil }

var (
	_ Sink = (*MemorySink)(nil)
	_ Sink = NopSink{}
)
