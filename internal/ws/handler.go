package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"groupwatch/internal/rooms"
)

// Handler upgrades and serves the relay's websocket endpoints: one per-room
// topic plus the ambient lobby feed.
type Handler struct {
	manager  *rooms.Manager
	upgrader websocket.Upgrader
}

func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeRoom handles GET /ws/rooms/:roomId?browserId=..&username=..
func (h *Handler) ServeRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	browserID, username, ok := identity(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("browserId and username are required"))
		return
	}

	room, err := h.manager.GetRoom(roomID)
	if err != nil {
		log.Printf("ws: room lookup failed for %s: %v", roomID, err)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(err.Error()))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed for room %s: %v", roomID, err)
		return
	}

	participant := h.manager.Connect(room, browserID, username)
	participant.BindConnection(conn)
	go participant.SendLoop()

	h.readLoop(room, participant, conn)
	h.manager.Disconnect(room, participant)
}

// ServeLobby handles GET /ws/lobby?browserId=..&username=.., the ambient
// "app is open" presence connection, independent of any room.
func (h *Handler) ServeLobby(w http.ResponseWriter, r *http.Request) {
	browserID, username, ok := identity(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("browserId and username are required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: lobby upgrade failed: %v", err)
		return
	}

	participant := h.manager.AttachLobby(browserID, username)
	participant.BindConnection(conn)
	go participant.SendLoop()

	// Lobby connections only receive; drain reads until the browser closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.manager.DetachLobby(participant)
}

func (h *Handler) readLoop(room *rooms.Room, participant *rooms.Participant, conn *websocket.Conn) {
	defer participant.Close()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.manager.Route(room, participant, data)
	}
}

func identity(r *http.Request) (browserID, username string, ok bool) {
	browserID = r.URL.Query().Get("browserId")
	username = r.URL.Query().Get("username")
	if browserID == "" || username == "" {
		return "", "", false
	}
	return browserID, username, true
}
