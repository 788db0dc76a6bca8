package store

import (
	"context"
	"fmt"

	"github.com/ashureev/shsh-relay/internal/domain"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Stores bundles the session and cooldown stores of one backend.
type Stores struct {
	Sessions  KV[domain.UserSession]
	Cooldowns KV[domain.CooldownEntry]

	db *SQLiteDB
}

// Open builds both stores for backend. dbPath is used by the SQLite backend,
// dataDir by the file backend.
func Open(backend, dbPath, dataDir string) (*Stores, error) {
	switch backend {
	case BackendSQLite:
		db, err := OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Sessions:  NewSQLiteKV[domain.UserSession](db, BucketSessions),
			Cooldowns: NewSQLiteKV[domain.CooldownEntry](db, BucketCooldowns),
			db:        db,
		}, nil
	case BackendFile:
		return &Stores{
			Sessions:  NewFileKV[domain.UserSession](dataDir, BucketSessions),
			Cooldowns: NewFileKV[domain.CooldownEntry](dataDir, BucketCooldowns),
		}, nil
	case BackendMemory:
		return &Stores{
			Sessions:  NewMemoryKV[domain.UserSession](),
			Cooldowns: NewMemoryKV[domain.CooldownEntry](),
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// ResetAll empties both stores. Called once at startup.
func (s *Stores) ResetAll(ctx context.Context) error {
	if err := Reset(ctx, s.Sessions); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	if err := Reset(ctx, s.Cooldowns); err != nil {
		return fmt.Errorf("cooldowns: %w", err)
	}
	return nil
}

// Ping checks the backing database, if any.
func (s *Stores) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

// Close releases the backing database, if any.
func (s *Stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
