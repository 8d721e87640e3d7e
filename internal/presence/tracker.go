// Package presence tracks the participants associated with a room, merged
// from the ambient lobby feed and the room's own membership events.
package presence

import (
	"sort"
	"sync"

	"groupwatch/internal/protocol"
)

// Tracker holds the two disjoint observable sets keyed by browser ID.
// While a session is still forming, the visible list is the deduplicated
// union of both, so a newly invited user shows up before they have joined.
type Tracker struct {
	mu    sync.RWMutex
	lobby map[string]protocol.Member
	room  map[string]protocol.Member
}

func NewTracker() *Tracker {
	return &Tracker{
		lobby: make(map[string]protocol.Member),
		room:  make(map[string]protocol.Member),
	}
}

// SetLobby replaces the ambient lobby set from a presence push.
func (t *Tracker) SetLobby(members []protocol.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lobby = make(map[string]protocol.Member, len(members))
	for _, m := range members {
		t.lobby[m.BrowserID] = m
	}
}

// SetRoom replaces the room set from a presence push.
func (t *Tracker) SetRoom(members []protocol.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.room = make(map[string]protocol.Member, len(members))
	for _, m := range members {
		t.room[m.BrowserID] = m
	}
}

// AddRoomMember applies a join event.
func (t *Tracker) AddRoomMember(m protocol.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.room[m.BrowserID] = m
}

// RemoveRoomMember applies a leave or evicted event.
func (t *Tracker) RemoveRoomMember(browserID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.room, browserID)
}

// IsMember reports whether browserID is currently in the room set. This is
// the test that decides whether a membership dialog invites or evicts.
func (t *Tracker) IsMember(browserID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.room[browserID]
	return ok
}

// Visible returns the participant list to render. With includeLobby it is
// the deduplicated union of lobby and room sets; room entries win on
// username conflicts for the same browser ID.
func (t *Tracker) Visible(includeLobby bool) []protocol.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()

	merged := make(map[string]protocol.Member, len(t.room)+len(t.lobby))
	if includeLobby {
		for id, m := range t.lobby {
			merged[id] = m
		}
	}
	for id, m := range t.room {
		merged[id] = m
	}

	out := make([]protocol.Member, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].BrowserID < out[j].BrowserID
	})
	return out
}

// Reset clears both sets; called when a session ends.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lobby = make(map[string]protocol.Member)
	t.room = make(map[string]protocol.Member)
}
