package coordinator

import (
	"context"

	"groupwatch/internal/protocol"
)

// Transport is the per-room channel the coordinator publishes on. Delivery is
// at-least-once and unordered; inbound traffic is pushed back into the
// coordinator via HandleEnvelope/HandleConnected/HandlePresence, so the
// interface itself stays outbound-only.
type Transport interface {
	Join(ctx context.Context, topic string, params map[string]string) error
	Leave() error
	Send(env protocol.Envelope) error
}

// PlaybackBridge is the local video element. The coordinator calls it; it
// never calls back into the coordinator. Playback observations arrive as
// explicit HandleLocal* calls from the player glue.
//
// SilentSeek and UserSeek are distinct operations on purpose: only a user
// seek may ever be rebroadcast, and keeping the two apart makes the
// self-exclusion rule visible at every call site.
type PlaybackBridge interface {
	CurrentTime() float64
	IsPaused() bool
	SilentSeek(seconds float64)
	UserSeek(seconds float64)
	Play()
	Pause()
	PlayOrPause()
	SetSyncTime(seconds float64)
	StartSession()
}

// Router abstracts the surrounding app's navigation. Mask, when non-empty,
// is the URL shown to the user in place of the real path.
type Router interface {
	Navigate(path, mask string)
	CurrentPath() string
}

// Provisioner is the room-provisioning API collaborator.
type Provisioner interface {
	CreateRoomForMedia(ctx context.Context, media MediaInfo) (string, error)
	CreateRoomForPlayback(ctx context.Context, playback PlaybackInfo) (string, error)
}

// MediaInfo describes the media item a room is created from.
type MediaInfo struct {
	ID       string
	Name     string
	Poster   string
	Backdrop string
	Logo     string
}

// PlaybackInfo describes an in-progress playback a room is created from.
type PlaybackInfo struct {
	ID        string
	MediaID   string
	MediaName string
	Poster    string
	Backdrop  string
	Logo      string
}
