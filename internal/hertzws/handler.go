package hertzws

import (
	"context"
	"log"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/websocket"

	"groupwatch/internal/rooms"
)

const readTimeout = 60 * time.Second

// Handler serves the relay websocket endpoints on the hertz engine.
type Handler struct {
	manager  *rooms.Manager
	upgrader websocket.HertzUpgrader
}

func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.HertzUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(ctx *app.RequestContext) bool {
				return true
			},
		},
	}
}

// HandleRoomSocket handles GET /ws/rooms/:roomId?browserId=..&username=..
func (h *Handler) HandleRoomSocket(c context.Context, ctx *app.RequestContext) {
	roomID := ctx.Param("roomId")
	browserID := ctx.Query("browserId")
	username := ctx.Query("username")
	if browserID == "" || username == "" {
		ctx.String(400, "browserId and username are required")
		return
	}

	room, err := h.manager.GetRoom(roomID)
	if err != nil {
		ctx.String(404, err.Error())
		return
	}

	err = h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		participant := h.manager.Connect(room, browserID, username)
		participant.BindConnection(conn)
		go participant.SendLoop()

		h.readLoop(room, participant, conn)
		h.manager.Disconnect(room, participant)
	})
	if err != nil {
		log.Printf("hertzws: upgrade failed for room %s: %v", roomID, err)
	}
}

// HandleLobbySocket handles GET /ws/lobby?browserId=..&username=..
func (h *Handler) HandleLobbySocket(c context.Context, ctx *app.RequestContext) {
	browserID := ctx.Query("browserId")
	username := ctx.Query("username")
	if browserID == "" || username == "" {
		ctx.String(400, "browserId and username are required")
		return
	}

	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		participant := h.manager.AttachLobby(browserID, username)
		participant.BindConnection(conn)
		go participant.SendLoop()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.manager.DetachLobby(participant)
	})
	if err != nil {
		log.Printf("hertzws: lobby upgrade failed: %v", err)
	}
}

func (h *Handler) readLoop(room *rooms.Room, participant *rooms.Participant, conn *websocket.Conn) {
	defer participant.Close()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("hertzws: read error in room %s: %v", room.ID(), err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.manager.Route(room, participant, data)
		conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}
