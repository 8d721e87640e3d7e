package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"groupwatch/internal/coordinator"
	"groupwatch/internal/protocol"
	"groupwatch/internal/rooms"
)

// HTTPProvisioner calls the relay's room-provisioning REST API. It satisfies
// coordinator.Provisioner.
type HTTPProvisioner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvisioner takes the relay's base HTTP URL, e.g. "http://host:8080".
func NewHTTPProvisioner(baseURL string) *HTTPProvisioner {
	return &HTTPProvisioner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProvisioner) CreateRoomForMedia(ctx context.Context, media coordinator.MediaInfo) (string, error) {
	snapshot, err := p.post(ctx, "/api/rooms/media", rooms.MediaParams{
		MediaID:   media.ID,
		MediaName: media.Name,
		Poster:    media.Poster,
		Backdrop:  media.Backdrop,
		Logo:      media.Logo,
	})
	if err != nil {
		return "", err
	}
	return snapshot.RoomID, nil
}

func (p *HTTPProvisioner) CreateRoomForPlayback(ctx context.Context, playback coordinator.PlaybackInfo) (string, error) {
	snapshot, err := p.post(ctx, "/api/rooms/playback", rooms.PlaybackParams{
		PlaybackID: playback.ID,
		MediaID:    playback.MediaID,
		MediaName:  playback.MediaName,
		Poster:     playback.Poster,
		Backdrop:   playback.Backdrop,
		Logo:       playback.Logo,
	})
	if err != nil {
		return "", err
	}
	return snapshot.RoomID, nil
}

// GetRoom fetches the metadata snapshot a late joiner populates its local
// room projection from.
func (p *HTTPProvisioner) GetRoom(ctx context.Context, roomID string) (protocol.RoomSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/rooms/"+roomID, nil)
	if err != nil {
		return protocol.RoomSnapshot{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return protocol.RoomSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return protocol.RoomSnapshot{}, fmt.Errorf("transport: get room %s: status %d", roomID, resp.StatusCode)
	}
	var snapshot protocol.RoomSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return protocol.RoomSnapshot{}, err
	}
	return snapshot, nil
}

func (p *HTTPProvisioner) post(ctx context.Context, path string, body interface{}) (protocol.RoomSnapshot, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return protocol.RoomSnapshot{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return protocol.RoomSnapshot{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return protocol.RoomSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return protocol.RoomSnapshot{}, fmt.Errorf("transport: %s: status %d", path, resp.StatusCode)
	}

	var snapshot protocol.RoomSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return protocol.RoomSnapshot{}, err
	}
	return snapshot, nil
}
