package protocol

import "encoding/json"

// Kind identifies one variant of the closed sync-message set. Every envelope
// on the wire carries exactly one kind; unknown kinds are dropped by receivers.
type Kind string

const (
	// Sync protocol variants.
	KindPromote      Kind = "promote"
	KindPlayState    Kind = "playState"
	KindBufferState  Kind = "bufferState"
	KindSeeked       Kind = "seeked"
	KindRequestSync  Kind = "requestSync"
	KindSync         Kind = "sync"
	KindStartSession Kind = "startSession"
	KindMessage      Kind = "message"

	// Membership-control directives.
	KindInvite Kind = "invite"
	KindEvict  Kind = "evict"

	// Relay-originated membership notifications. These are the only kinds a
	// receiver applies even when SenderID matches its own browser ID.
	KindJoin    Kind = "join"
	KindLeave   Kind = "leave"
	KindEvicted Kind = "evicted"

	// Transport-level feeds.
	KindPresence Kind = "presence"
	KindError    Kind = "error"
)

// Envelope is the outbound wire unit. SenderID is the originating browser ID
// and is what receivers use for self-exclusion; the relay never rewrites it.
type Envelope struct {
	Kind     Kind        `json:"kind"`
	SenderID string      `json:"senderId,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// InboundEnvelope defers payload decoding until the kind is known.
type InboundEnvelope struct {
	Kind     Kind            `json:"kind"`
	SenderID string          `json:"senderId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Member is one connected identity, as listed in presence feeds.
type Member struct {
	BrowserID string `json:"browserId"`
	Username  string `json:"username"`
}

// PlayState reports an authoritative play/pause transition taken by BrowserID
// at its local playback time.
type PlayState struct {
	Time      float64 `json:"time"`
	IsPaused  bool    `json:"isPaused"`
	Username  string  `json:"username"`
	BrowserID string  `json:"browserId"`
}

// BufferState reports that BrowserID entered (Buffering=true) or left
// (Buffering=false) a buffering stall at its local playback time.
type BufferState struct {
	Time      float64 `json:"time"`
	Buffering bool    `json:"buffering"`
	Username  string  `json:"username"`
	BrowserID string  `json:"browserId"`
}

// Seeked reports a user-initiated jump to Time.
type Seeked struct {
	Time     float64 `json:"time"`
	Username string  `json:"username"`
}

// Sync carries the answering participant's authoritative playback time.
type Sync struct {
	Time float64 `json:"time"`
}

// StartSession tells all lobby participants to begin playback at Time.
type StartSession struct {
	Time float64 `json:"time"`
}

// Chat is a human-authored text message.
type Chat struct {
	Text      string `json:"text"`
	Username  string `json:"username"`
	BrowserID string `json:"browserId"`
}

// Target addresses a single participant for invite/evict directives.
// RoomID is stamped by the relay when an invite is forwarded to the target's
// lobby connection, so the invitee knows which room to fetch.
type Target struct {
	BrowserID string `json:"browserId"`
	RoomID    string `json:"roomId,omitempty"`
}

// Membership identifies the participant a join/leave/evicted notification
// is about.
type Membership struct {
	BrowserID string `json:"browserId"`
	Username  string `json:"username"`
}

// Presence is the relay's push of both observable participant sets.
type Presence struct {
	Room  []Member `json:"room"`
	Lobby []Member `json:"lobby"`
}

// RoomSnapshot is the immutable room metadata served to late joiners.
type RoomSnapshot struct {
	RoomID     string `json:"roomId"`
	MediaID    string `json:"mediaId,omitempty"`
	PlaybackID string `json:"playbackId,omitempty"`
	MediaName  string `json:"mediaName"`
	Poster     string `json:"poster,omitempty"`
	Backdrop   string `json:"backdrop,omitempty"`
	Logo       string `json:"logo,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
