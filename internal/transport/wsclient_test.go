package transport_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupwatch/internal/coordinator"
	"groupwatch/internal/httpapi"
	"groupwatch/internal/protocol"
	"groupwatch/internal/rooms"
	"groupwatch/internal/transport"
)

func startRelay(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	manager := rooms.NewManager()
	api := httpapi.NewServer(manager)
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestProvisionerCreateAndFetch(t *testing.T) {
	srv, _ := startRelay(t)
	provisioner := transport.NewHTTPProvisioner(srv.URL)

	roomID, err := provisioner.CreateRoomForMedia(context.Background(), coordinator.MediaInfo{
		ID:   "media-1",
		Name: "The Movie",
	})
	require.NoError(t, err)
	require.NotEmpty(t, roomID)

	snapshot, err := provisioner.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, "media-1", snapshot.MediaID)
	assert.Equal(t, "The Movie", snapshot.MediaName)

	_, err = provisioner.GetRoom(context.Background(), "missing")
	assert.Error(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	srv, wsURL := startRelay(t)
	provisioner := transport.NewHTTPProvisioner(srv.URL)
	roomID, err := provisioner.CreateRoomForMedia(context.Background(), coordinator.MediaInfo{ID: "media-1"})
	require.NoError(t, err)

	envelopes := make(chan protocol.InboundEnvelope, 16)
	presences := make(chan protocol.Presence, 16)

	receiver := transport.NewClient(wsURL)
	receiver.OnEnvelope(func(env protocol.InboundEnvelope) { envelopes <- env })
	receiver.OnPresence(func(p protocol.Presence) { presences <- p })
	require.NoError(t, receiver.Join(context.Background(), roomID, map[string]string{
		"browserId": "b-recv",
		"username":  "recv",
	}))
	defer receiver.Leave()

	// The relay announces our own join and pushes presence.
	env := waitFor(t, envelopes, "join notification")
	assert.Equal(t, protocol.KindJoin, env.Kind)
	p := waitFor(t, presences, "presence push")
	require.Len(t, p.Room, 1)
	assert.Equal(t, "b-recv", p.Room[0].BrowserID)

	sender := transport.NewClient(wsURL)
	require.NoError(t, sender.Join(context.Background(), roomID, map[string]string{
		"browserId": "b-send",
		"username":  "send",
	}))
	defer sender.Leave()

	// Drain the second join notice, then exchange a chat message.
	env = waitFor(t, envelopes, "second join notification")
	assert.Equal(t, protocol.KindJoin, env.Kind)

	require.NoError(t, sender.Send(protocol.Envelope{
		Kind:     protocol.KindMessage,
		SenderID: "b-send",
		Data:     protocol.Chat{Text: "hello", Username: "send", BrowserID: "b-send"},
	}))

	for {
		env = waitFor(t, envelopes, "chat message")
		if env.Kind != protocol.KindMessage {
			continue
		}
		assert.Equal(t, "b-send", env.SenderID)
		break
	}
}

func TestClientSendBeforeJoin(t *testing.T) {
	client := transport.NewClient("ws://127.0.0.1:1")
	err := client.Send(protocol.Envelope{Kind: protocol.KindRequestSync})
	assert.ErrorIs(t, err, transport.ErrNotJoined)
}
