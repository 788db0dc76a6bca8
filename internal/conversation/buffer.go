// Package conversation buffers each user's recent turns into a rolling context.
package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/shsh-relay/internal/domain"
	"github.com/ashureev/shsh-relay/internal/store"
)

// DefaultResetThreshold is the turn count at which a saved buffer starts over.
const DefaultResetThreshold = 10

// Buffer owns the per-user sessions stored in kv.
type Buffer struct {
	mu        sync.Mutex // serializes load -> modify -> persist on kv
	kv        store.KV[domain.UserSession]
	threshold int
}

// NewBuffer creates a buffer that resets saved sessions after threshold turns.
func NewBuffer(kv store.KV[domain.UserSession], threshold int) *Buffer {
	if threshold <= 0 {
		threshold = DefaultResetThreshold
	}
	return &Buffer{kv: kv, threshold: threshold}
}

// Threshold returns the reset threshold.
func (b *Buffer) Threshold() int {
	return b.threshold
}

// Append folds text into userID's buffer and returns the combined context,
// which always includes text.
//
// With persist set the turn is kept, and once the count reaches the threshold
// the buffer is cleared after the context is computed, so only the next turn
// starts fresh. Without persist the turn is rolled back before writing, leaving
// the stored session exactly as it was.
//
// If the write fails the context is still returned alongside the error.
func (b *Buffer) Append(ctx context.Context, userID, text string, persist bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sessions, err := b.kv.Load(ctx)
	if err != nil {
		return text, fmt.Errorf("load sessions: %w", err)
	}

	sess := sessions[userID]
	sess.Append(text)
	combined := sess.Combined()

	if persist {
		if sess.Count >= b.threshold {
			sess.Clear()
		}
	} else {
		sess.DropLast()
	}
	if sess.Messages == nil {
		sess.Messages = []string{}
	}
	sessions[userID] = sess

	if err := b.kv.ReplaceAll(ctx, sessions); err != nil {
		return combined, fmt.Errorf("persist sessions: %w", err)
	}
	return combined, nil
}

// CreateSession turns on save mode with an empty buffer. It reports
// alreadyActive and changes nothing if save mode is already on.
func (b *Buffer) CreateSession(ctx context.Context, userID string) (alreadyActive bool, err error) {
	err = b.update(ctx, func(sessions map[string]domain.UserSession) bool {
		if sessions[userID].SaveMode {
			alreadyActive = true
			return false
		}
		sessions[userID] = domain.UserSession{Messages: []string{}, SaveMode: true}
		return true
	})
	return alreadyActive, err
}

// DeleteSession turns off save mode and clears the buffer. It reports
// hadActive=false and changes nothing if save mode was not on.
func (b *Buffer) DeleteSession(ctx context.Context, userID string) (hadActive bool, err error) {
	err = b.update(ctx, func(sessions map[string]domain.UserSession) bool {
		if !sessions[userID].SaveMode {
			return false
		}
		hadActive = true
		sessions[userID] = domain.UserSession{Messages: []string{}}
		return true
	})
	return hadActive, err
}

// ResetHistory clears the buffered turns but keeps save mode. It reports
// hadHistory=false and changes nothing if there was nothing buffered.
func (b *Buffer) ResetHistory(ctx context.Context, userID string) (hadHistory bool, err error) {
	err = b.update(ctx, func(sessions map[string]domain.UserSession) bool {
		sess, ok := sessions[userID]
		if !ok || sess.Count == 0 {
			return false
		}
		hadHistory = true
		sess.Clear()
		sessions[userID] = sess
		return true
	})
	return hadHistory, err
}

// SaveMode reports whether userID has save mode on. Unknown users default to off.
func (b *Buffer) SaveMode(ctx context.Context, userID string) (bool, error) {
	sess, _, err := b.Session(ctx, userID)
	return sess.SaveMode, err
}

// Session returns a copy of userID's stored session.
func (b *Buffer) Session(ctx context.Context, userID string) (domain.UserSession, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sessions, err := b.kv.Load(ctx)
	if err != nil {
		return domain.UserSession{}, false, fmt.Errorf("load sessions: %w", err)
	}
	sess, ok := sessions[userID]
	return sess.Clone(), ok, nil
}

// update applies fn under the store lock and persists only if fn reports a change.
func (b *Buffer) update(ctx context.Context, fn func(map[string]domain.UserSession) bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sessions, err := b.kv.Load(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	if !fn(sessions) {
		return nil
	}
	if err := b.kv.ReplaceAll(ctx, sessions); err != nil {
		return fmt.Errorf("persist sessions: %w", err)
	}
	return nil
}
