// Package history keeps the most recent confirmed reports in memory
package history

import (
	"sync"
	"time"

	"github.com/gridscout/platform/internal/orchestrator/report"
)

// DefaultMaxEntries bounds the log when the caller does not.
const DefaultMaxEntries = 500

// Log is a bounded in-memory log of sent reports, oldest first.
type Log struct {
	mu      sync.RWMutex
	entries []report.Event
	maxSize int
	now     func() time.Time
}

// New creates a log holding at most maxEntries reports.
func New(maxEntries int) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{
		entries: make([]report.Event, 0, maxEntries),
		maxSize: maxEntries,
		now:     time.Now,
	}
}

// Add appends a sent report.
func (l *Log) Add(evt report.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, evt)
	if len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
	}
}

// Recent returns reports sent within window, optionally only those of key.
// A zero window returns everything held.
func (l *Log) Recent(window time.Duration, key string) []report.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var cutoff time.Time
	if window > 0 {
		cutoff = l.now().Add(-window)
	}
	out := []report.Event{}
	for _, e := range l.entries {
		if key != "" && e.Key != key {
			continue
		}
		if e.Payload.SentAt.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Forget drops every report of key.
func (l *Log) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Key != key {
			kept = append(kept, e)
		}
	}
	clear(l.entries[len(kept):])
	l.entries = kept
}

// Len returns the number of reports held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
