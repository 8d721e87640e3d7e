package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/RanFeng/ilog"

	"groupwatch/internal/chatlog"
	"groupwatch/internal/protocol"
)

// HandleEnvelope is the single entry point for inbound transport messages.
// Envelopes originating from this coordinator's own browser ID are dropped:
// the relay fans every message back to its sender, and applying our own
// corrections would loop forever. Membership notifications are the exception,
// they come from the relay itself and are applied regardless.
func (c *Coordinator) HandleEnvelope(env protocol.InboundEnvelope) {
	switch env.Kind {
	case protocol.KindJoin, protocol.KindLeave, protocol.KindEvicted:
	default:
		if env.SenderID == c.browserID {
			return
		}
	}

	switch env.Kind {
	case protocol.KindPromote:
		c.handlePromote()
	case protocol.KindPlayState:
		var p protocol.PlayState
		if decode(env.Data, &p) {
			c.handlePlayState(p)
		}
	case protocol.KindBufferState:
		var p protocol.BufferState
		if decode(env.Data, &p) {
			c.handleBufferState(p)
		}
	case protocol.KindSeeked:
		var p protocol.Seeked
		if decode(env.Data, &p) {
			c.handleSeeked(p)
		}
	case protocol.KindRequestSync:
		c.handleRequestSync()
	case protocol.KindSync:
		var p protocol.Sync
		if decode(env.Data, &p) {
			c.handleSync(p)
		}
	case protocol.KindStartSession:
		var p protocol.StartSession
		if decode(env.Data, &p) {
			c.handleStartSession(p)
		}
	case protocol.KindMessage:
		var p protocol.Chat
		if decode(env.Data, &p) {
			c.handleChat(p)
		}
	case protocol.KindInvite:
		var p protocol.Target
		if decode(env.Data, &p) {
			c.handleInvite(env.SenderID, p)
		}
	case protocol.KindEvict:
		// Interpreted by the relay; the targeted participant hears about it
		// as an evicted notification instead.
	case protocol.KindJoin:
		var p protocol.Membership
		if decode(env.Data, &p) {
			c.handleJoin(p)
		}
	case protocol.KindLeave:
		var p protocol.Membership
		if decode(env.Data, &p) {
			c.handleLeave(p)
		}
	case protocol.KindEvicted:
		var p protocol.Membership
		if decode(env.Data, &p) {
			c.handleEvicted(p)
		}
	default:
		ilog.EventInfo(context.Background(), "groupwatch_unknown_kind", "kind", string(env.Kind))
	}
}

// handlePromote marks this participant as eligible to lead. When it arrives
// while still in the lobby the session is already running elsewhere, so the
// lobby is skipped and a resync requested.
func (c *Coordinator) handlePromote() {
	c.mu.Lock()
	c.eligibleToLead = true
	skippedLobby := false
	if c.state == StateLobbyPending {
		c.state = StateActive
		c.creatingSession = false
		skippedLobby = true
	}
	c.mu.Unlock()

	if skippedLobby {
		c.bridge.StartSession()
		c.RequestSync()
	}
	c.notify()
}

// handlePlayState applies a peer's play/pause transition unconditionally:
// silent seek to the reported time, then match the reported paused flag.
// Applying the same message twice is a harmless redundant seek.
func (c *Coordinator) handlePlayState(p protocol.PlayState) {
	c.bridge.SilentSeek(p.Time)
	verb := "resumed"
	if p.IsPaused {
		c.bridge.Pause()
		verb = "paused"
	} else {
		c.bridge.Play()
	}
	c.log.Append(chatlog.Entry{
		Message:  fmt.Sprintf("%s %s at %s", p.Username, verb, formatClock(p.Time)),
		Username: p.Username,
	})
	c.notify()
}

// handleBufferState corrects position only when the peer recovers, and only
// when drift exceeds the tolerance. A peer entering a stall gets narration
// and nothing else: the stall may resolve on its own, and seeking against a
// frozen peer is wasted work.
func (c *Coordinator) handleBufferState(p protocol.BufferState) {
	if p.Buffering {
		c.log.Append(chatlog.Entry{
			Message:  fmt.Sprintf("%s is having connection issues", p.Username),
			Username: p.Username,
		})
		c.notify()
		return
	}

	if math.Abs(c.bridge.CurrentTime()-p.Time) > DriftTolerance {
		c.bridge.SilentSeek(p.Time)
	}
	c.bridge.Play()
	c.log.Append(chatlog.Entry{
		Message:  fmt.Sprintf("%s recovered", p.Username),
		Username: p.Username,
	})
	c.notify()
}

// handleSeeked applies a peer's jump silently; a corrective seek must never
// rebroadcast as another seeked.
func (c *Coordinator) handleSeeked(p protocol.Seeked) {
	c.bridge.SilentSeek(p.Time)
	c.log.Append(chatlog.Entry{
		Message:  fmt.Sprintf("%s jumped to %s", p.Username, formatClock(p.Time)),
		Username: p.Username,
	})
	c.notify()
}

// handleRequestSync answers with the authoritative time. Only the leader
// answers; followers stay quiet so the requester is not flooded with
// conflicting clocks.
func (c *Coordinator) handleRequestSync() {
	c.mu.Lock()
	leader := c.room != nil && c.room.IsLeader
	c.mu.Unlock()
	if !leader {
		return
	}
	c.send(protocol.KindSync, protocol.Sync{Time: c.bridge.CurrentTime()})
}

// handleSync applies the authoritative time as silent bookkeeping: no
// narration, no chat entry, unlike the seeked path.
func (c *Coordinator) handleSync(p protocol.Sync) {
	c.bridge.SetSyncTime(p.Time)
}

// handleStartSession moves a lobby participant into active playback at the
// leader's reported time.
func (c *Coordinator) handleStartSession(p protocol.StartSession) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateActive
	c.creatingSession = false
	c.mu.Unlock()

	c.bridge.SilentSeek(p.Time)
	c.bridge.StartSession()
	c.notify()
}

func (c *Coordinator) handleChat(p protocol.Chat) {
	c.log.Append(chatlog.Entry{
		Message:  p.Text,
		Username: p.Username,
	})
	c.notify()
}

// handleInvite surfaces an invite addressed to this browser; invites for
// other participants are fan-out noise and ignored.
func (c *Coordinator) handleInvite(from string, p protocol.Target) {
	if p.BrowserID != c.browserID {
		return
	}
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.pendingInvite = &Invite{RoomID: p.RoomID, From: from}
	c.mu.Unlock()
	c.notify()
}

// handleJoin narrates the arrival and, when this participant leads an
// already-active session, promotes the late joiner past the lobby and hands
// it the current clock.
func (c *Coordinator) handleJoin(p protocol.Membership) {
	c.presence.AddRoomMember(protocol.Member{BrowserID: p.BrowserID, Username: p.Username})

	self := p.BrowserID == c.browserID
	msg := fmt.Sprintf("%s joined", p.Username)
	if self {
		msg = "you joined"
	}
	c.log.Append(chatlog.Entry{
		Message:  msg,
		Username: p.Username,
		Self:     self,
	})

	c.mu.Lock()
	leadActive := !self && c.state == StateActive && c.room != nil && c.room.IsLeader
	c.mu.Unlock()
	if leadActive {
		c.send(protocol.KindPromote, nil)
		c.send(protocol.KindSync, protocol.Sync{Time: c.bridge.CurrentTime()})
	}
	c.notify()
}

func (c *Coordinator) handleLeave(p protocol.Membership) {
	if p.BrowserID == c.browserID {
		return
	}
	c.presence.RemoveRoomMember(p.BrowserID)
	c.log.Append(chatlog.Entry{
		Message:  fmt.Sprintf("%s left", p.Username),
		Username: p.Username,
	})
	c.notify()
}

// handleEvicted degrades this participant to solo playback when the room is
// still known locally, otherwise sends it home.
func (c *Coordinator) handleEvicted(p protocol.Membership) {
	if p.BrowserID != c.browserID {
		c.presence.RemoveRoomMember(p.BrowserID)
		c.notify()
		return
	}

	c.mu.Lock()
	room := c.room
	c.mu.Unlock()

	target := "/"
	if room != nil {
		target = mediaPath(room)
	}
	c.EndSession()
	c.router.Navigate(target, "")
}

func decode(data json.RawMessage, out interface{}) bool {
	if err := json.Unmarshal(data, out); err != nil {
		ilog.EventError(context.Background(), err, "groupwatch_decode")
		return false
	}
	return true
}
