// Package cooldown tracks per-user windows between completion requests.
package cooldown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/shsh-relay/internal/domain"
	"github.com/ashureev/shsh-relay/internal/store"
)

// DefaultWindow is the cooldown used when none is configured.
const DefaultWindow = 30 * time.Second

// Tracker decides whether a user may trigger a new completion request.
// Entries are never deleted; a stale entry simply compares as expired.
type Tracker struct {
	mu     sync.Mutex // serializes load -> modify -> persist on kv
	kv     store.KV[domain.CooldownEntry]
	window time.Duration
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker with the given fixed window.
func NewTracker(kv store.KV[domain.CooldownEntry], window time.Duration, opts ...Option) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tracker{
		kv:     kv,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Window returns the configured cooldown window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// IsExpired reports whether userID may make a request now: true when no entry
// exists or now is strictly after the entry's expiry.
func (t *Tracker) IsExpired(ctx context.Context, userID string) (bool, error) {
	entry, ok, err := t.entry(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return entry.ExpiredAt(t.now()), nil
}

// Arm starts a new window for userID, overwriting any prior entry.
func (t *Tracker) Arm(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.kv.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cooldowns: %w", err)
	}
	entries[userID] = domain.CooldownEntry{ExpiresAt: t.now().Add(t.window)}
	if err := t.kv.ReplaceAll(ctx, entries); err != nil {
		return fmt.Errorf("persist cooldowns: %w", err)
	}
	return nil
}

// RemainingSeconds returns the whole seconds left in userID's window,
// rounded down and never negative.
func (t *Tracker) RemainingSeconds(ctx context.Context, userID string) (int, error) {
	entry, ok, err := t.entry(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	remaining := int(entry.ExpiresAt.Sub(t.now()) / time.Second)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (t *Tracker) entry(ctx context.Context, userID string) (domain.CooldownEntry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.kv.Load(ctx)
	if err != nil {
		return domain.CooldownEntry{}, false, fmt.Errorf("load cooldowns: %w", err)
	}
	entry, ok := entries[userID]
	return entry, ok, nil
}
