package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// MemoryKV implements KV in process memory.
// Records are held encoded so callers never share memory with the store.
type MemoryKV[T any] struct {
	mu      sync.Mutex
	records map[string][]byte
}

// NewMemoryKV returns an empty in-memory KV.
func NewMemoryKV[T any]() *MemoryKV[T] {
	return &MemoryKV[T]{records: make(map[string][]byte)}
}

// Load returns a copy of every record.
func (m *MemoryKV[T]) Load(_ context.Context) (map[string]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]T, len(m.records))
	for k, raw := range m.records {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			slog.Warn("malformed record, loading store as empty", "key", k, "error", err)
			return make(map[string]T), nil
		}
		out[k] = v
	}
	return out, nil
}

// ReplaceAll swaps in a copy of records.
func (m *MemoryKV[T]) ReplaceAll(_ context.Context, records map[string]T) error {
	next := make(map[string][]byte, len(records))
	for k, v := range records {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode record %q: %w", k, err)
		}
		next[k] = data
	}

	m.mu.Lock()
	m.records = next
	m.mu.Unlock()
	return nil
}
