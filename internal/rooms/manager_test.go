package rooms

import (
	"encoding/json"
	"testing"

	"groupwatch/internal/protocol"
)

func drain(t *testing.T, p *Participant) []protocol.InboundEnvelope {
	t.Helper()
	var out []protocol.InboundEnvelope
	for {
		select {
		case data, ok := <-p.send:
			if !ok {
				return out
			}
			var env protocol.InboundEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("unmarshal queued envelope: %v", err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func kinds(envs []protocol.InboundEnvelope) []protocol.Kind {
	var out []protocol.Kind
	for _, env := range envs {
		out = append(out, env.Kind)
	}
	return out
}

func hasKind(envs []protocol.InboundEnvelope, kind protocol.Kind) bool {
	for _, env := range envs {
		if env.Kind == kind {
			return true
		}
	}
	return false
}

func TestCreateRoomForMedia(t *testing.T) {
	manager := NewManager()

	snapshot, err := manager.CreateRoomForMedia(MediaParams{
		MediaID:   "media-1",
		MediaName: "The Movie",
	})
	if err != nil {
		t.Fatalf("CreateRoomForMedia failed: %v", err)
	}

	if snapshot.RoomID == "" {
		t.Error("RoomID should not be empty")
	}
	if snapshot.MediaID != "media-1" {
		t.Errorf("MediaID mismatch: expected media-1, got %s", snapshot.MediaID)
	}

	got, err := manager.GetSnapshot(snapshot.RoomID)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if got != snapshot {
		t.Errorf("snapshot mismatch: %+v vs %+v", got, snapshot)
	}
}

func TestCreateRoomForMediaRequiresID(t *testing.T) {
	manager := NewManager()
	if _, err := manager.CreateRoomForMedia(MediaParams{MediaName: "nameless"}); err != ErrInvalidRequest {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
}

func TestCreateRoomForPlayback(t *testing.T) {
	manager := NewManager()

	snapshot, err := manager.CreateRoomForPlayback(PlaybackParams{
		PlaybackID: "pb-1",
		MediaName:  "The Movie",
	})
	if err != nil {
		t.Fatalf("CreateRoomForPlayback failed: %v", err)
	}
	if snapshot.PlaybackID != "pb-1" {
		t.Errorf("PlaybackID mismatch: got %s", snapshot.PlaybackID)
	}
}

func TestGetSnapshotNonExistentRoom(t *testing.T) {
	manager := NewManager()
	if _, err := manager.GetSnapshot("nope"); err != ErrRoomNotFound {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}
}

func TestConnectAnnouncesJoinAndPresence(t *testing.T) {
	manager := NewManager()
	snapshot, _ := manager.CreateRoomForMedia(MediaParams{MediaID: "media-1"})
	room, _ := manager.GetRoom(snapshot.RoomID)

	alice := manager.Connect(room, "b-alice", "alice")
	got := drain(t, alice)
	if !hasKind(got, protocol.KindJoin) {
		t.Errorf("expected join notification, got kinds %v", kinds(got))
	}
	if !hasKind(got, protocol.KindPresence) {
		t.Errorf("expected presence push, got kinds %v", kinds(got))
	}

	bob := manager.Connect(room, "b-bob", "bob")
	got = drain(t, alice)
	if !hasKind(got, protocol.KindJoin) {
		t.Errorf("alice should see bob's join, got kinds %v", kinds(got))
	}
	_ = bob

	members := room.Members()
	if len(members) != 2 {
		t.Errorf("expected 2 members, got %d", len(members))
	}
}

func TestRouteRelaysOpaquely(t *testing.T) {
	manager := NewManager()
	snapshot, _ := manager.CreateRoomForMedia(MediaParams{MediaID: "media-1"})
	room, _ := manager.GetRoom(snapshot.RoomID)

	alice := manager.Connect(room, "b-alice", "alice")
	bob := manager.Connect(room, "b-bob", "bob")
	drain(t, alice)
	drain(t, bob)

	raw, _ := json.Marshal(protocol.Envelope{
		Kind:     protocol.KindPlayState,
		SenderID: "b-alice",
		Data:     protocol.PlayState{Time: 42, IsPaused: true, Username: "alice", BrowserID: "b-alice"},
	})
	manager.Route(room, alice, raw)

	// Fan-out reaches everyone, the sender included; receivers self-exclude.
	for _, p := range []*Participant{alice, bob} {
		got := drain(t, p)
		if !hasKind(got, protocol.KindPlayState) {
			t.Errorf("%s should receive playState, got kinds %v", p.Username, kinds(got))
		}
	}
}

func TestRouteEvictTranslates(t *testing.T) {
	manager := NewManager()
	snapshot, _ := manager.CreateRoomForMedia(MediaParams{MediaID: "media-1"})
	room, _ := manager.GetRoom(snapshot.RoomID)

	alice := manager.Connect(room, "b-alice", "alice")
	bob := manager.Connect(room, "b-bob", "bob")
	drain(t, alice)
	drain(t, bob)

	raw, _ := json.Marshal(protocol.Envelope{
		Kind:     protocol.KindEvict,
		SenderID: "b-alice",
		Data:     protocol.Target{BrowserID: "b-bob"},
	})
	manager.Route(room, alice, raw)

	// Bob gets a direct evicted notification, then his queue closes.
	bobGot := drain(t, bob)
	if !hasKind(bobGot, protocol.KindEvicted) {
		t.Errorf("bob should receive evicted, got kinds %v", kinds(bobGot))
	}

	// The rest of the room sees a leave plus fresh presence; the evictor
	// keeps its own membership.
	aliceGot := drain(t, alice)
	if !hasKind(aliceGot, protocol.KindLeave) {
		t.Errorf("alice should see bob leave, got kinds %v", kinds(aliceGot))
	}
	if _, ok := room.Get("b-bob"); ok {
		t.Error("bob should be detached")
	}
	if _, ok := room.Get("b-alice"); !ok {
		t.Error("alice should still be attached")
	}
}

func TestRouteEvictAbsentTargetIsNoop(t *testing.T) {
	manager := NewManager()
	snapshot, _ := manager.CreateRoomForMedia(MediaParams{MediaID: "media-1"})
	room, _ := manager.GetRoom(snapshot.RoomID)

	alice := manager.Connect(room, "b-alice", "alice")
	drain(t, alice)

	raw, _ := json.Marshal(protocol.Envelope{
		Kind:     protocol.KindEvict,
		SenderID: "b-alice",
		Data:     protocol.Target{BrowserID: "b-ghost"},
	})
	manager.Route(room, alice, raw)

	if got := drain(t, alice); len(got) != 0 {
		t.Errorf("expected no broadcasts, got kinds %v", kinds(got))
	}
}

func TestRouteInviteStampsRoomAndReachesLobby(t *testing.T) {
	manager := NewManager()
	snapshot, _ := manager.CreateRoomForMedia(MediaParams{MediaID: "media-1"})
	room, _ := manager.GetRoom(snapshot.RoomID)

	alice := manager.Connect(room, "b-alice", "alice")
	drain(t, alice)
	carol := manager.AttachLobby("b-carol", "carol")

	raw, _ := json.Marshal(protocol.Envelope{
		Kind:     protocol.KindInvite,
		SenderID: "b-alice",
		Data:     protocol.Target{BrowserID: "b-carol"},
	})
	manager.Route(room, alice, raw)

	got := drain(t, carol)
	if len(got) != 1 || got[0].Kind != protocol.KindInvite {
		t.Fatalf("carol should receive the invite, got kinds %v", kinds(got))
	}
	var target protocol.Target
	if err := json.Unmarshal(got[0].Data, &target); err != nil {
		t.Fatalf("unmarshal invite target: %v", err)
	}
	if target.RoomID != room.ID() {
		t.Errorf("invite should be stamped with room ID, got %q", target.RoomID)
	}
	if target.BrowserID != "b-carol" {
		t.Errorf("invite target mismatch: %q", target.BrowserID)
	}
}

func TestLobbyPresenceListedInPush(t *testing.T) {
	manager := NewManager()
	snapshot, _ := manager.CreateRoomForMedia(MediaParams{MediaID: "media-1"})
	room, _ := manager.GetRoom(snapshot.RoomID)

	manager.AttachLobby("b-carol", "carol")
	alice := manager.Connect(room, "b-alice", "alice")

	got := drain(t, alice)
	var presence *protocol.Presence
	for _, env := range got {
		if env.Kind != protocol.KindPresence {
			continue
		}
		var p protocol.Presence
		if err := json.Unmarshal(env.Data, &p); err != nil {
			t.Fatalf("unmarshal presence: %v", err)
		}
		presence = &p
	}
	if presence == nil {
		t.Fatal("expected a presence push")
	}
	if len(presence.Room) != 1 || presence.Room[0].BrowserID != "b-alice" {
		t.Errorf("room presence mismatch: %+v", presence.Room)
	}
	if len(presence.Lobby) != 1 || presence.Lobby[0].BrowserID != "b-carol" {
		t.Errorf("lobby presence mismatch: %+v", presence.Lobby)
	}
}

func TestDisconnectCleansUpEmptyRoom(t *testing.T) {
	manager := NewManager()
	snapshot, _ := manager.CreateRoomForMedia(MediaParams{MediaID: "media-1"})
	room, _ := manager.GetRoom(snapshot.RoomID)

	alice := manager.Connect(room, "b-alice", "alice")
	manager.Disconnect(room, alice)

	if _, err := manager.GetRoom(snapshot.RoomID); err != ErrRoomNotFound {
		t.Errorf("empty room should be cleaned up, got %v", err)
	}
}

func TestStaleDisconnectKeepsFreshParticipant(t *testing.T) {
	manager := NewManager()
	snapshot, _ := manager.CreateRoomForMedia(MediaParams{MediaID: "media-1"})
	room, _ := manager.GetRoom(snapshot.RoomID)

	bob := manager.Connect(room, "b-bob", "bob")
	stale := manager.Connect(room, "b-alice", "alice")
	fresh := manager.Connect(room, "b-alice", "alice")
	drain(t, bob)
	drain(t, fresh)

	// A reload replaced alice's connection; the stale handler's teardown
	// runs afterwards and must not touch the fresh slot.
	manager.Disconnect(room, stale)

	got, ok := room.Get("b-alice")
	if !ok || got != fresh {
		t.Fatal("fresh participant should survive the stale disconnect")
	}
	if hasKind(drain(t, bob), protocol.KindLeave) {
		t.Error("no leave should be announced for a still-connected user")
	}
	if hasKind(drain(t, fresh), protocol.KindLeave) {
		t.Error("fresh connection should not see its own false leave")
	}

	// The fresh connection's own teardown still works.
	manager.Disconnect(room, fresh)
	if _, ok := room.Get("b-alice"); ok {
		t.Error("fresh participant should be detached by its own disconnect")
	}
	if !hasKind(drain(t, bob), protocol.KindLeave) {
		t.Error("the real disconnect should announce a leave")
	}
}

func TestStaleDetachLobbyKeepsFreshEntry(t *testing.T) {
	manager := NewManager()

	stale := manager.AttachLobby("b-carol", "carol")
	fresh := manager.AttachLobby("b-carol", "carol")

	manager.DetachLobby(stale)
	if len(manager.LobbyMembers()) != 1 {
		t.Fatal("fresh lobby entry should survive the stale detach")
	}
	if !manager.SendToLobby("b-carol", protocol.Envelope{Kind: protocol.KindPresence}) {
		t.Error("fresh lobby entry should still be reachable")
	}

	manager.DetachLobby(fresh)
	if len(manager.LobbyMembers()) != 0 {
		t.Error("own detach should remove the fresh entry")
	}
}

type stubConn struct {
	writes [][]byte
	closed bool
}

func (c *stubConn) WriteMessage(messageType int, data []byte) error {
	c.writes = append(c.writes, data)
	return nil
}

func (c *stubConn) Close() error {
	c.closed = true
	return nil
}

func TestSendLoopDrainsUntilQueueCloses(t *testing.T) {
	manager := NewManager()
	snapshot, _ := manager.CreateRoomForMedia(MediaParams{MediaID: "media-1"})
	room, _ := manager.GetRoom(snapshot.RoomID)

	alice := room.Attach("b-alice", "alice", 8)
	conn := &stubConn{}
	alice.BindConnection(conn)

	done := make(chan struct{})
	go func() {
		alice.SendLoop()
		close(done)
	}()

	if !alice.SendEnvelope(protocol.Envelope{Kind: protocol.KindPresence}) {
		t.Fatal("enqueue should succeed")
	}
	room.Detach(alice)
	<-done

	if len(conn.writes) != 1 {
		t.Errorf("expected 1 write, got %d", len(conn.writes))
	}
	if !conn.closed {
		t.Error("connection should be closed when the loop exits")
	}
}

func TestReattachReplacesStaleConnection(t *testing.T) {
	manager := NewManager()
	snapshot, _ := manager.CreateRoomForMedia(MediaParams{MediaID: "media-1"})
	room, _ := manager.GetRoom(snapshot.RoomID)

	first := room.Attach("b-alice", "alice", 8)
	second := room.Attach("b-alice", "alice", 8)

	if first == second {
		t.Error("reattach should produce a fresh participant")
	}
	if room.ParticipantCount() != 1 {
		t.Errorf("expected 1 participant, got %d", room.ParticipantCount())
	}
	// The stale queue is closed so its send loop exits.
	if _, ok := <-first.send; ok {
		t.Error("stale participant queue should be closed")
	}
}
