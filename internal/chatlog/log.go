// Package chatlog holds the append-only conversation record. The log is the
// single source of truth for what the presentation layer renders.
package chatlog

import (
	"fmt"
	"sync"

	"webpilot/internal/domain"
)

// Log is an ordered, append-only sequence of conversation entries. Order is
// insertion order and is never re-sorted. There is no removal; the log grows
// for the lifetime of a session.
type Log struct {
	mu      sync.RWMutex
	entries []domain.Message
}

func New() *Log { return &Log{} }

// Append adds msg to the end of the log. The only validation is that the
// kind is one of the four known tags.
func (l *Log) Append(msg domain.Message) error {
	if !msg.Kind.Valid() {
		return fmt.Errorf("append message: unknown kind %q", msg.Kind)
	}
	l.mu.Lock()
	l.entries = append(l.entries, msg)
	l.mu.Unlock()
	return nil
}

// Snapshot returns the entries in insertion order. The returned slice is a
// copy; callers may not mutate the log through it.
func (l *Log) Snapshot() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
