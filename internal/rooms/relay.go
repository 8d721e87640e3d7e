package rooms

import (
	"context"
	"encoding/json"

	"github.com/RanFeng/ilog"

	"groupwatch/internal/protocol"
)

// Connect attaches a participant to the room, announces the join and pushes
// fresh presence. Both websocket handlers call this after upgrading.
func (m *Manager) Connect(room *Room, browserID, username string) *Participant {
	participant := room.Attach(browserID, username, m.sendBuffer)
	room.Broadcast(protocol.Envelope{
		Kind: protocol.KindJoin,
		Data: protocol.Membership{BrowserID: browserID, Username: username},
	})
	m.PushPresence(room)
	return participant
}

// Disconnect detaches a participant, announces the leave and pushes fresh
// presence. Keyed on the participant instance, not the browser ID: a stale
// connection's teardown after a reload, or an evicted participant's, finds
// its instance already replaced or removed and announces nothing.
func (m *Manager) Disconnect(room *Room, participant *Participant) {
	if room.Detach(participant) {
		room.Broadcast(protocol.Envelope{
			Kind: protocol.KindLeave,
			Data: protocol.Membership{
				BrowserID: participant.BrowserID,
				Username:  participant.Username,
			},
		})
		m.PushPresence(room)
	}
	m.CleanupRoom(room)
}

// Route handles one inbound envelope from a participant. Membership
// directives are interpreted here; everything else is relayed opaquely to
// the whole room, sender included, and receivers self-exclude by sender ID.
func (m *Manager) Route(room *Room, sender *Participant, raw []byte) {
	var inbound protocol.InboundEnvelope
	if err := json.Unmarshal(raw, &inbound); err != nil {
		ilog.EventError(context.Background(), err, "relay_decode", "roomId", room.ID())
		return
	}

	switch inbound.Kind {
	case protocol.KindInvite:
		m.routeInvite(room, inbound)
	case protocol.KindEvict:
		m.routeEvict(room, sender, inbound)
	default:
		room.BroadcastRaw(raw)
	}
}

// routeInvite fans the invite out room-wide and additionally delivers it,
// stamped with the room ID, to the target's lobby connection so a user who
// has not joined anything yet still sees it.
func (m *Manager) routeInvite(room *Room, inbound protocol.InboundEnvelope) {
	var target protocol.Target
	if err := json.Unmarshal(inbound.Data, &target); err != nil {
		return
	}
	target.RoomID = room.ID()

	env := protocol.Envelope{
		Kind:     protocol.KindInvite,
		SenderID: inbound.SenderID,
		Data:     target,
	}
	room.Broadcast(env)
	delivered := m.SendToLobby(target.BrowserID, env)
	ilog.EventInfo(context.Background(), "relay_invite",
		"roomId", room.ID(), "target", target.BrowserID, "lobbyDelivered", delivered)
}

// routeEvict translates an addressed evict into the target's removal: a
// direct evicted notification to the target, then a leave broadcast for the
// rest of the room. The evictor keeps its own membership untouched.
func (m *Manager) routeEvict(room *Room, sender *Participant, inbound protocol.InboundEnvelope) {
	var target protocol.Target
	if err := json.Unmarshal(inbound.Data, &target); err != nil {
		return
	}

	evicted, ok := room.Get(target.BrowserID)
	if !ok {
		// Evicting an absent browser ID is not an error; nothing to do.
		return
	}

	membership := protocol.Membership{
		BrowserID: evicted.BrowserID,
		Username:  evicted.Username,
	}
	room.SendTo(target.BrowserID, protocol.Envelope{
		Kind: protocol.KindEvicted,
		Data: membership,
	})
	room.Detach(evicted)
	room.Broadcast(protocol.Envelope{
		Kind: protocol.KindLeave,
		Data: membership,
	})
	m.PushPresence(room)
	ilog.EventInfo(context.Background(), "relay_evict",
		"roomId", room.ID(), "by", sender.BrowserID, "target", target.BrowserID)
}

// PushPresence broadcasts both observable participant sets to the room.
func (m *Manager) PushPresence(room *Room) {
	room.Broadcast(protocol.Envelope{
		Kind: protocol.KindPresence,
		Data: protocol.Presence{
			Room:  room.Members(),
			Lobby: m.LobbyMembers(),
		},
	})
}
