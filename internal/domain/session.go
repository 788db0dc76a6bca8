// Package domain contains core domain types for the relay.
package domain

import (
	"strings"
	"time"
)

// UserSession holds the buffered conversation turns for a user.
// Count always equals len(Messages) at rest.
type UserSession struct {
	Messages []string `json:"messages"`
	Count    int      `json:"count"`
	SaveMode bool     `json:"save_mode"`
}

// Append adds a turn to the end of the buffer.
func (s *UserSession) Append(text string) {
	s.Messages = append(s.Messages, text)
	s.Count++
}

// DropLast removes the most recent turn, if any.
func (s *UserSession) DropLast() {
	if len(s.Messages) == 0 {
		return
	}
	s.Messages = s.Messages[:len(s.Messages)-1]
	s.Count--
}

// Clear empties the buffer but keeps SaveMode.
func (s *UserSession) Clear() {
	s.Messages = []string{}
	s.Count = 0
}

// Combined returns the buffered turns joined with newlines, oldest first.
func (s *UserSession) Combined() string {
	return strings.Join(s.Messages, "\n")
}

// Clone returns a copy that shares no memory with s.
func (s UserSession) Clone() UserSession {
	msgs := make([]string, len(s.Messages))
	copy(msgs, s.Messages)
	s.Messages = msgs
	return s
}

// CooldownEntry records when a user may next trigger a completion request.
type CooldownEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the entry has expired at now.
// The boundary instant itself is still inside the window.
func (e CooldownEntry) ExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
