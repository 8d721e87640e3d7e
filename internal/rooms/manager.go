package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/google/uuid"

	"groupwatch/internal/protocol"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidRequest      = errors.New("invalid request")
)

// MediaParams describes the media item a room is provisioned for.
type MediaParams struct {
	MediaID   string `json:"mediaId"`
	MediaName string `json:"mediaName"`
	Poster    string `json:"poster,omitempty"`
	Backdrop  string `json:"backdrop,omitempty"`
	Logo      string `json:"logo,omitempty"`
}

// PlaybackParams describes the in-progress playback a room is provisioned
// for.
type PlaybackParams struct {
	PlaybackID string `json:"playbackId"`
	MediaID    string `json:"mediaId,omitempty"`
	MediaName  string `json:"mediaName"`
	Poster     string `json:"poster,omitempty"`
	Backdrop   string `json:"backdrop,omitempty"`
	Logo       string `json:"logo,omitempty"`
}

// Manager owns the live rooms and the ambient lobby: every open browser app
// holds one lobby connection, independent of room membership, so invites can
// reach users who have not joined anything yet.
type Manager struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	lobby      map[string]*Participant
	sendBuffer int
}

func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
		lobby: make(map[string]*Participant),
	}
}

// SetSendBuffer overrides the per-participant send queue size.
func (m *Manager) SetSendBuffer(n int) {
	m.sendBuffer = n
}

// CreateRoomForMedia provisions a room for a media item. No participant is
// attached yet; the creator joins over the websocket like everyone else.
func (m *Manager) CreateRoomForMedia(params MediaParams) (protocol.RoomSnapshot, error) {
	if params.MediaID == "" {
		return protocol.RoomSnapshot{}, ErrInvalidRequest
	}
	snapshot := protocol.RoomSnapshot{
		RoomID:    newRoomID(),
		MediaID:   params.MediaID,
		MediaName: params.MediaName,
		Poster:    params.Poster,
		Backdrop:  params.Backdrop,
		Logo:      params.Logo,
	}
	m.addRoom(snapshot)
	ilog.EventInfo(context.Background(), "room_created", "roomId", snapshot.RoomID, "mediaId", params.MediaID)
	return snapshot, nil
}

// CreateRoomForPlayback provisions a room for an in-progress playback.
func (m *Manager) CreateRoomForPlayback(params PlaybackParams) (protocol.RoomSnapshot, error) {
	if params.PlaybackID == "" {
		return protocol.RoomSnapshot{}, ErrInvalidRequest
	}
	snapshot := protocol.RoomSnapshot{
		RoomID:     newRoomID(),
		PlaybackID: params.PlaybackID,
		MediaID:    params.MediaID,
		MediaName:  params.MediaName,
		Poster:     params.Poster,
		Backdrop:   params.Backdrop,
		Logo:       params.Logo,
	}
	m.addRoom(snapshot)
	ilog.EventInfo(context.Background(), "room_created", "roomId", snapshot.RoomID, "playbackId", params.PlaybackID)
	return snapshot, nil
}

func (m *Manager) addRoom(snapshot protocol.RoomSnapshot) {
	room := NewRoom(snapshot, time.Now().UTC())
	m.mu.Lock()
	m.rooms[snapshot.RoomID] = room
	m.mu.Unlock()
}

func (m *Manager) GetRoom(roomID string) (*Room, error) {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// GetSnapshot returns the metadata snapshot served to late joiners.
func (m *Manager) GetSnapshot(roomID string) (protocol.RoomSnapshot, error) {
	room, err := m.GetRoom(roomID)
	if err != nil {
		return protocol.RoomSnapshot{}, err
	}
	return room.Snapshot(), nil
}

// AttachLobby registers an ambient app-wide connection.
func (m *Manager) AttachLobby(browserID, username string) *Participant {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.lobby[browserID]; ok {
		prev.closeSend()
	}
	participant := &Participant{
		BrowserID:   browserID,
		Username:    username,
		send:        make(chan []byte, m.lobbyBuffer()),
		connectedAt: time.Now().UTC(),
	}
	m.lobby[browserID] = participant
	return participant
}

// DetachLobby removes a lobby entry, guarded by instance identity so a stale
// connection's teardown cannot drop the fresh entry a reload put in its place.
func (m *Manager) DetachLobby(participant *Participant) {
	if participant == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.lobby[participant.BrowserID]
	if ok && current == participant {
		participant.closeSend()
		delete(m.lobby, participant.BrowserID)
	}
}

// LobbyMembers lists ambient presence app-wide.
func (m *Manager) LobbyMembers() []protocol.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := make([]protocol.Member, 0, len(m.lobby))
	for _, p := range m.lobby {
		members = append(members, protocol.Member{
			BrowserID: p.BrowserID,
			Username:  p.Username,
		})
	}
	return members
}

// SendToLobby delivers an envelope to one lobby connection.
func (m *Manager) SendToLobby(browserID string, env protocol.Envelope) bool {
	m.mu.RLock()
	participant, ok := m.lobby[browserID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return participant.SendEnvelope(env)
}

// CleanupRoom drops a room once its last participant is gone.
func (m *Manager) CleanupRoom(room *Room) {
	if room == nil {
		return
	}
	if room.ParticipantCount() > 0 {
		return
	}
	roomID := room.ID()
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rooms[roomID]
	if ok && current == room {
		delete(m.rooms, roomID)
	}
}

func (m *Manager) lobbyBuffer() int {
	if m.sendBuffer > 0 {
		return m.sendBuffer
	}
	return 8
}

func newRoomID() string {
	return "room_" + uuid.NewString()
}
