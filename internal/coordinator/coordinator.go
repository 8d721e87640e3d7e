// Package coordinator implements the group-watch sync state machine: room
// lifecycle, the leader convention, drift correction and buffering
// reconciliation, plus the chat log and participant list the UI renders.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RanFeng/ilog"

	"groupwatch/internal/chatlog"
	"groupwatch/internal/presence"
	"groupwatch/internal/protocol"
)

// DriftTolerance is the maximum acceptable gap, in seconds, between the local
// playback clock and a reported remote clock before a corrective seek.
const DriftTolerance = 2.0

var (
	ErrAlreadyConnected = errors.New("already connected to a room")
	ErrNotConnected     = errors.New("not connected to a room")
	ErrNotInLobby       = errors.New("session already started")
)

// State is the coordinator's lifecycle position. isChatOpen is an orthogonal
// overlay on Active, not a fourth state.
type State int

const (
	StateDisconnected State = iota
	StateLobbyPending
	StateActive
)

func (s State) String() string {
	switch s {
	case StateLobbyPending:
		return "lobbyPending"
	case StateActive:
		return "active"
	default:
		return "disconnected"
	}
}

// Room is the local projection of a shared session. There is no server-side
// room entity owned by this subsystem; everything here is reconstructed from
// transport events and the provisioning snapshot.
type Room struct {
	ID         string
	MediaID    string
	PlaybackID string
	MediaName  string
	Poster     string
	Backdrop   string
	Logo       string
	IsLeader   bool
}

// Invite is a pending invitation surfaced to the UI after an addressed
// invite arrives over the lobby feed.
type Invite struct {
	RoomID string
	From   string
}

// Snapshot is the observable state pushed to subscribers after every
// mutation.
type Snapshot struct {
	State           State
	Room            *Room
	CreatingSession bool
	IsChatOpen      bool
	EligibleToLead  bool
	PendingInvite   *Invite
	Participants    []protocol.Member
	Log             []chatlog.Entry
}

// Deps are the injected collaborators. Multiple independent coordinators can
// coexist, one per participant, which is how the tests drive both ends of a
// session.
type Deps struct {
	Transport   Transport
	Bridge      PlaybackBridge
	Router      Router
	Provisioner Provisioner
	BrowserID   string
	Username    string
}

type Coordinator struct {
	mu sync.Mutex

	transport   Transport
	bridge      PlaybackBridge
	router      Router
	provisioner Provisioner

	browserID string
	username  string

	state           State
	room            *Room
	creatingSession bool
	isChatOpen      bool
	eligibleToLead  bool
	pendingInvite   *Invite
	buffering       bool

	log      *chatlog.Log
	presence *presence.Tracker

	watcherMu sync.Mutex
	watchers  []func(Snapshot)
}

func New(deps Deps) *Coordinator {
	return &Coordinator{
		transport:   deps.Transport,
		bridge:      deps.Bridge,
		router:      deps.Router,
		provisioner: deps.Provisioner,
		browserID:   deps.BrowserID,
		username:    deps.Username,
		state:       StateDisconnected,
		log:         chatlog.New(),
		presence:    presence.NewTracker(),
	}
}

// Subscribe registers a state observer. Observers are invoked after every
// mutation with a fresh snapshot, outside the coordinator's lock.
func (c *Coordinator) Subscribe(fn func(Snapshot)) {
	c.watcherMu.Lock()
	defer c.watcherMu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Coordinator) notify() {
	snap := c.SnapshotState()
	c.watcherMu.Lock()
	watchers := make([]func(Snapshot), len(c.watchers))
	copy(watchers, c.watchers)
	c.watcherMu.Unlock()
	for _, fn := range watchers {
		fn(snap)
	}
}

// SnapshotState returns a copy of the observable state.
func (c *Coordinator) SnapshotState() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:           c.state,
		CreatingSession: c.creatingSession,
		IsChatOpen:      c.isChatOpen,
		EligibleToLead:  c.eligibleToLead,
		Participants:    c.presence.Visible(c.creatingSession),
		Log:             c.log.Entries(),
	}
	if c.room != nil {
		room := *c.room
		snap.Room = &room
	}
	if c.pendingInvite != nil {
		inv := *c.pendingInvite
		snap.PendingInvite = &inv
	}
	return snap
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Log() []chatlog.Entry {
	return c.log.Entries()
}

func (c *Coordinator) Participants() []protocol.Member {
	c.mu.Lock()
	creating := c.creatingSession
	c.mu.Unlock()
	return c.presence.Visible(creating)
}

// IsMember reports whether browserID is currently in the room. The UI uses
// this to decide whether a membership dialog invites or removes, which in
// turn decides protocol direction.
func (c *Coordinator) IsMember(browserID string) bool {
	return c.presence.IsMember(browserID)
}

// CreateRoomFromMedia provisions a room for a media item and enters the
// lobby as leader. If already connected, the only effect is re-opening the
// session modal: no new room is created.
func (c *Coordinator) CreateRoomFromMedia(ctx context.Context, media MediaInfo) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.creatingSession = true
		c.mu.Unlock()
		c.notify()
		return nil
	}
	c.mu.Unlock()

	roomID, err := c.provisioner.CreateRoomForMedia(ctx, media)
	if err != nil {
		ilog.EventError(ctx, err, "groupwatch_create_room", "mediaId", media.ID)
		return err
	}

	room := &Room{
		ID:        roomID,
		MediaID:   media.ID,
		MediaName: media.Name,
		Poster:    media.Poster,
		Backdrop:  media.Backdrop,
		Logo:      media.Logo,
		IsLeader:  true,
	}
	return c.enterLobby(ctx, room, mediaPath(room))
}

// CreateRoomFromPlayback provisions a room for an in-progress playback and
// enters the lobby as leader.
func (c *Coordinator) CreateRoomFromPlayback(ctx context.Context, playback PlaybackInfo) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.creatingSession = true
		c.mu.Unlock()
		c.notify()
		return nil
	}
	c.mu.Unlock()

	roomID, err := c.provisioner.CreateRoomForPlayback(ctx, playback)
	if err != nil {
		ilog.EventError(ctx, err, "groupwatch_create_room", "playbackId", playback.ID)
		return err
	}

	room := &Room{
		ID:         roomID,
		MediaID:    playback.MediaID,
		PlaybackID: playback.ID,
		MediaName:  playback.MediaName,
		Poster:     playback.Poster,
		Backdrop:   playback.Backdrop,
		Logo:       playback.Logo,
		IsLeader:   true,
	}
	return c.enterLobby(ctx, room, mediaPath(room))
}

func (c *Coordinator) enterLobby(ctx context.Context, room *Room, mask string) error {
	c.router.Navigate(roomPath(room.ID), mask)

	if err := c.transport.Join(ctx, room.ID, c.joinParams()); err != nil {
		ilog.EventError(ctx, err, "groupwatch_transport_join", "roomId", room.ID)
		return err
	}

	c.mu.Lock()
	c.room = room
	c.state = StateLobbyPending
	c.creatingSession = true
	c.pendingInvite = nil
	c.mu.Unlock()
	c.RequestSync()
	c.notify()
	return nil
}

// JoinRoom enters an existing room as a follower, e.g. after arriving via a
// shared link or accepting an invite. It is a no-op if this coordinator is
// already in the room, already connected elsewhere, or if the current route
// no longer matches the room URL (a stale async result).
func (c *Coordinator) JoinRoom(ctx context.Context, snap protocol.RoomSnapshot) error {
	c.mu.Lock()
	if c.room != nil && c.room.ID == snap.RoomID {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	if c.router.CurrentPath() != roomPath(snap.RoomID) {
		ilog.EventInfo(ctx, "groupwatch_join_stale", "roomId", snap.RoomID, "path", c.router.CurrentPath())
		return nil
	}

	if err := c.transport.Join(ctx, snap.RoomID, c.joinParams()); err != nil {
		ilog.EventError(ctx, err, "groupwatch_transport_join", "roomId", snap.RoomID)
		return err
	}

	c.mu.Lock()
	c.room = &Room{
		ID:         snap.RoomID,
		MediaID:    snap.MediaID,
		PlaybackID: snap.PlaybackID,
		MediaName:  snap.MediaName,
		Poster:     snap.Poster,
		Backdrop:   snap.Backdrop,
		Logo:       snap.Logo,
		IsLeader:   false,
	}
	c.state = StateLobbyPending
	c.creatingSession = true
	c.pendingInvite = nil
	c.mu.Unlock()

	// Late-join resync: ask the room for the authoritative clock right away
	// rather than waiting for the next connectivity flip.
	c.RequestSync()
	c.notify()
	return nil
}

// StartSession moves the room from lobby to active playback. The caller
// becomes leader and broadcasts the start time so followers begin at the
// same point.
func (c *Coordinator) StartSession() error {
	c.mu.Lock()
	if c.state != StateLobbyPending {
		c.mu.Unlock()
		if c.state == StateDisconnected {
			return ErrNotConnected
		}
		return ErrNotInLobby
	}
	c.room.IsLeader = true
	c.state = StateActive
	c.creatingSession = false
	c.mu.Unlock()

	now := c.bridge.CurrentTime()
	c.send(protocol.KindStartSession, protocol.StartSession{Time: now})
	c.bridge.StartSession()
	c.notify()
	return nil
}

// EndSession tears the session down from any state: leaves the transport
// topic and clears room, membership and chat history.
func (c *Coordinator) EndSession() {
	c.mu.Lock()
	wasConnected := c.state != StateDisconnected
	c.state = StateDisconnected
	c.room = nil
	c.creatingSession = false
	c.isChatOpen = false
	c.eligibleToLead = false
	c.buffering = false
	c.mu.Unlock()

	if wasConnected {
		if err := c.transport.Leave(); err != nil {
			ilog.EventError(context.Background(), err, "groupwatch_transport_leave")
		}
	}
	c.log.Clear()
	c.presence.Reset()
	c.notify()
}

// HandleRouteChange is wired as the router's pre-navigation hook; leaving
// the room route always ends the session.
func (c *Coordinator) HandleRouteChange() {
	c.EndSession()
}

// InviteUser sends a directed invite. The transport fans it out room-wide
// and delivers it to the target's lobby connection; only the addressed
// browser ID acts on it.
func (c *Coordinator) InviteUser(member protocol.Member) {
	c.send(protocol.KindInvite, protocol.Target{BrowserID: member.BrowserID})
	c.log.Append(chatlog.Entry{
		Message:  fmt.Sprintf("you invited %s", member.Username),
		Username: c.username,
		Self:     true,
	})
	c.notify()
}

// EvictUser sends a directed evict. Translating it into the target's
// removal is the transport layer's job; the evictor stays in the room.
func (c *Coordinator) EvictUser(member protocol.Member) {
	c.send(protocol.KindEvict, protocol.Target{BrowserID: member.BrowserID})
	c.log.Append(chatlog.Entry{
		Message:  fmt.Sprintf("you removed %s", member.Username),
		Username: c.username,
		Self:     true,
	})
	c.notify()
}

// SendMessage appends the chat entry locally first, so the sender's UI never
// waits on a round trip, then broadcasts it.
func (c *Coordinator) SendMessage(text string) {
	c.log.Append(chatlog.Entry{
		Message:  text,
		Username: c.username,
		Self:     true,
	})
	c.send(protocol.KindMessage, protocol.Chat{
		Text:      text,
		Username:  c.username,
		BrowserID: c.browserID,
	})
	c.notify()
}

// RequestSync asks the room for the authoritative playback time.
func (c *Coordinator) RequestSync() {
	c.send(protocol.KindRequestSync, nil)
}

func (c *Coordinator) ToggleChat() {
	c.mu.Lock()
	c.isChatOpen = !c.isChatOpen
	c.mu.Unlock()
	c.notify()
}

// HandleLocalSeek is called by the player glue when the user seeks. Only
// user seeks broadcast; corrective seeks never re-enter here.
func (c *Coordinator) HandleLocalSeek(seconds float64) {
	if !c.connected() {
		return
	}
	c.send(protocol.KindSeeked, protocol.Seeked{Time: seconds, Username: c.username})
	c.log.Append(chatlog.Entry{
		Message:  fmt.Sprintf("you jumped to %s", formatClock(seconds)),
		Username: c.username,
		Self:     true,
	})
	c.notify()
}

// TogglePlayback flips the local player between playing and paused and
// broadcasts the resulting state, the same as a direct control press.
func (c *Coordinator) TogglePlayback() {
	if !c.connected() {
		return
	}
	c.bridge.PlayOrPause()
	c.HandleLocalPlayPause()
}

// HandleLocalPlayPause is called when the user toggles play/pause via their
// own controls; the resulting state is broadcast as authoritative.
func (c *Coordinator) HandleLocalPlayPause() {
	if !c.connected() {
		return
	}
	paused := c.bridge.IsPaused()
	now := c.bridge.CurrentTime()
	c.send(protocol.KindPlayState, protocol.PlayState{
		Time:      now,
		IsPaused:  paused,
		Username:  c.username,
		BrowserID: c.browserID,
	})
	verb := "resumed"
	if paused {
		verb = "paused"
	}
	c.log.Append(chatlog.Entry{
		Message:  fmt.Sprintf("you %s at %s", verb, formatClock(now)),
		Username: c.username,
		Self:     true,
	})
	c.notify()
}

// SetBuffering is called whenever the local buffering flag changes. The
// transition is only broadcast while playing; a paused player stalling is
// not actionable for peers.
func (c *Coordinator) SetBuffering(buffering bool) {
	c.mu.Lock()
	if c.buffering == buffering {
		c.mu.Unlock()
		return
	}
	c.buffering = buffering
	c.mu.Unlock()

	if !c.connected() || c.bridge.IsPaused() {
		return
	}
	c.send(protocol.KindBufferState, protocol.BufferState{
		Time:      c.bridge.CurrentTime(),
		Buffering: buffering,
		Username:  c.username,
		BrowserID: c.browserID,
	})
}

// HandleConnected is wired to the transport's connectivity observable. Every
// flip to connected triggers a resync request; this is the whole reconnect
// recovery path.
func (c *Coordinator) HandleConnected(connected bool) {
	if !connected {
		return
	}
	if !c.connected() {
		return
	}
	c.RequestSync()
}

// HandlePresence is wired to the transport's presence observable.
func (c *Coordinator) HandlePresence(p protocol.Presence) {
	c.presence.SetRoom(p.Room)
	c.presence.SetLobby(p.Lobby)
	c.notify()
}

// AcceptInvite clears the pending invite; the caller then fetches the room
// snapshot and joins.
func (c *Coordinator) AcceptInvite() *Invite {
	c.mu.Lock()
	inv := c.pendingInvite
	c.pendingInvite = nil
	c.mu.Unlock()
	c.notify()
	return inv
}

// DeclineInvite drops the pending invite.
func (c *Coordinator) DeclineInvite() {
	c.mu.Lock()
	c.pendingInvite = nil
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateDisconnected
}

func (c *Coordinator) joinParams() map[string]string {
	return map[string]string{
		"browserId": c.browserID,
		"username":  c.username,
	}
}

func (c *Coordinator) send(kind protocol.Kind, data interface{}) {
	err := c.transport.Send(protocol.Envelope{
		Kind:     kind,
		SenderID: c.browserID,
		Data:     data,
	})
	if err != nil {
		ilog.EventError(context.Background(), err, "groupwatch_send", "kind", string(kind))
	}
}

func roomPath(roomID string) string {
	return "/groupwatch/" + roomID
}

func mediaPath(room *Room) string {
	switch {
	case room == nil:
		return "/"
	case room.MediaID != "":
		return "/media/" + room.MediaID
	case room.PlaybackID != "":
		return "/playback/" + room.PlaybackID
	default:
		return "/"
	}
}

func formatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
