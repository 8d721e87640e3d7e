package presence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"groupwatch/internal/presence"
	"groupwatch/internal/protocol"
)

func member(id, name string) protocol.Member {
	return protocol.Member{BrowserID: id, Username: name}
}

func ids(members []protocol.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.BrowserID)
	}
	return out
}

func TestVisibleDedupUnion(t *testing.T) {
	tracker := presence.NewTracker()
	tracker.SetLobby([]protocol.Member{member("a", "Ann"), member("b", "Bob")})
	tracker.SetRoom([]protocol.Member{member("b", "Bob"), member("c", "Cid")})

	// While the session is still forming, the visible set is the union.
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(tracker.Visible(true)))

	// Once the session is running, only room presence counts.
	assert.ElementsMatch(t, []string{"b", "c"}, ids(tracker.Visible(false)))
}

func TestVisibleSortedByUsername(t *testing.T) {
	tracker := presence.NewTracker()
	tracker.SetRoom([]protocol.Member{member("z", "Zed"), member("a", "Ann"), member("m", "Mia")})

	visible := tracker.Visible(false)
	assert.Equal(t, []string{"a", "m", "z"}, ids(visible))
}

func TestJoinLeaveEvents(t *testing.T) {
	tracker := presence.NewTracker()
	tracker.AddRoomMember(member("a", "Ann"))
	tracker.AddRoomMember(member("b", "Bob"))
	assert.True(t, tracker.IsMember("a"))

	tracker.RemoveRoomMember("a")
	assert.False(t, tracker.IsMember("a"))
	assert.ElementsMatch(t, []string{"b"}, ids(tracker.Visible(false)))
}

func TestRoomEntryWinsOverLobby(t *testing.T) {
	tracker := presence.NewTracker()
	tracker.SetLobby([]protocol.Member{member("a", "old-name")})
	tracker.SetRoom([]protocol.Member{member("a", "new-name")})

	visible := tracker.Visible(true)
	assert.Len(t, visible, 1)
	assert.Equal(t, "new-name", visible[0].Username)
}

func TestReset(t *testing.T) {
	tracker := presence.NewTracker()
	tracker.SetLobby([]protocol.Member{member("a", "Ann")})
	tracker.SetRoom([]protocol.Member{member("b", "Bob")})

	tracker.Reset()
	assert.Empty(t, tracker.Visible(true))
	assert.False(t, tracker.IsMember("b"))
}
