// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
)

// KV is a persisted mapping from a string key to a record of type T.
//
// There is no partial-key update: callers load the full map, mutate it and
// write it back with ReplaceAll. Implementations do not serialize those
// sequences; callers must.
type KV[T any] interface {
	// Load returns every record. An absent or malformed store loads as empty.
	Load(ctx context.Context) (map[string]T, error)

	// ReplaceAll overwrites the store with records.
	ReplaceAll(ctx context.Context, records map[string]T) error
}

// Reset empties kv.
func Reset[T any](ctx context.Context, kv KV[T]) error {
	if err := kv.ReplaceAll(ctx, map[string]T{}); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	return nil
}

// Bucket names for the two logical stores.
const (
	BucketSessions  = "sessions"
	BucketCooldowns = "cooldowns"
)
