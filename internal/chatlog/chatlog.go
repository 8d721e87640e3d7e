// Package chatlog keeps the append-only, time-ordered record of chat text and
// system narration for one room.
package chatlog

import (
	"sort"
	"sync"
	"time"
)

// Entry is one rendered line. Self marks entries authored locally and
// appended at send time, as opposed to entries appended on receipt.
type Entry struct {
	Message  string    `json:"message"`
	Username string    `json:"username"`
	Time     time.Time `json:"time"`
	Self     bool      `json:"self"`
}

// Log is safe for concurrent use. There is no edit or delete; a room's log
// only grows until the session ends.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

func New() *Log {
	return &Log{}
}

func (l *Log) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	l.entries = append(l.entries, e)
}

// Entries returns a copy sorted ascending by time, tolerating any append
// order from the transport.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops all entries; called when a session ends.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
