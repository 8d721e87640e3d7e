package rooms

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"groupwatch/internal/protocol"
)

// Conn is the subset of a websocket connection the relay writes to. Both the
// gorilla and hertz websocket connections satisfy it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Participant is one connected identity, keyed by browser ID so a reload
// re-attaches to the same slot.
type Participant struct {
	BrowserID string
	Username  string

	mu          sync.Mutex
	conn        Conn
	send        chan []byte
	connectedAt time.Time
	closeOnce   sync.Once
}

// Room relays envelopes between its participants. The relay does not
// interpret sync payloads; it owns only membership and fan-out.
type Room struct {
	id           string
	snapshot     protocol.RoomSnapshot
	createdAt    time.Time
	participants map[string]*Participant
	mu           sync.RWMutex
}

func NewRoom(snapshot protocol.RoomSnapshot, now time.Time) *Room {
	return &Room{
		id:           snapshot.RoomID,
		snapshot:     snapshot,
		createdAt:    now,
		participants: make(map[string]*Participant),
	}
}

func (r *Room) ID() string {
	return r.id
}

// Snapshot returns the room's immutable media metadata.
func (r *Room) Snapshot() protocol.RoomSnapshot {
	return r.snapshot
}

// Attach adds or replaces the participant for browserID. A stale connection
// under the same browser ID is closed first; the browser reloaded.
func (r *Room) Attach(browserID, username string, sendBuffer int) *Participant {
	if sendBuffer <= 0 {
		sendBuffer = 8
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.participants[browserID]; ok {
		prev.closeSend()
	}

	participant := &Participant{
		BrowserID:   browserID,
		Username:    username,
		send:        make(chan []byte, sendBuffer),
		connectedAt: time.Now().UTC(),
	}
	r.participants[browserID] = participant
	return participant
}

// Detach removes the participant, but only while the room still holds that
// same instance. A reload attaches a fresh participant under the same browser
// ID before the stale connection's teardown runs; the stale teardown must not
// remove the fresh one.
func (r *Room) Detach(participant *Participant) bool {
	if participant == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.participants[participant.BrowserID]
	if !ok || current != participant {
		return false
	}
	participant.closeSend()
	delete(r.participants, participant.BrowserID)
	return true
}

func (r *Room) Get(browserID string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	participant, ok := r.participants[browserID]
	return participant, ok
}

// Broadcast fans an envelope out to every participant, the sender included;
// receivers drop their own messages by sender ID.
func (r *Room) Broadcast(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	r.BroadcastRaw(data)
}

// BroadcastRaw fans out pre-encoded bytes. Slow consumers lose messages
// rather than stall the room; the resync protocol covers the gap.
func (r *Room) BroadcastRaw(data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, participant := range r.participants {
		participant.enqueue(data)
	}
}

// SendTo delivers an envelope to a single participant.
func (r *Room) SendTo(browserID string, env protocol.Envelope) bool {
	r.mu.RLock()
	participant, ok := r.participants[browserID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return participant.SendEnvelope(env)
}

// Members lists current room presence.
func (r *Room) Members() []protocol.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]protocol.Member, 0, len(r.participants))
	for _, p := range r.participants {
		members = append(members, protocol.Member{
			BrowserID: p.BrowserID,
			Username:  p.Username,
		})
	}
	return members
}

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// BindConnection attaches the upgraded websocket connection.
func (p *Participant) BindConnection(conn Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

func (p *Participant) connection() Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// SendLoop drains the send queue onto the connection until the queue closes
// or a write fails.
func (p *Participant) SendLoop() {
	defer p.Close()
	for msg := range p.send {
		conn := p.connection()
		if conn == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (p *Participant) SendEnvelope(env protocol.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		return false
	}
	return p.enqueue(data)
}

func (p *Participant) enqueue(data []byte) bool {
	if p.send == nil {
		return false
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

func (p *Participant) closeSend() {
	p.closeOnce.Do(func() {
		close(p.send)
	})
}

func (p *Participant) Close() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
