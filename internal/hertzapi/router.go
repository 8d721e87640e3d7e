package hertzapi

import (
	"context"
	"errors"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"groupwatch/internal/hertzws"
	"groupwatch/internal/rooms"
)

// NewRouter wires the provisioning REST API and relay websocket endpoints
// onto a hertz server.
func NewRouter(h *server.Hertz, roomManager *rooms.Manager) *server.Hertz {
	wsHandler := hertzws.NewHandler(roomManager)

	h.Use(recoveryMiddleware())

	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.String(consts.StatusOK, "ok")
	})

	api := h.Group("/api")
	{
		roomsGroup := api.Group("/rooms")
		{
			roomsGroup.POST("/media", handleCreateRoomForMedia(roomManager))
			roomsGroup.POST("/playback", handleCreateRoomForPlayback(roomManager))
			roomsGroup.GET("/:roomId", handleGetRoom(roomManager))
		}
	}

	h.GET("/ws/rooms/:roomId", wsHandler.HandleRoomSocket)
	h.GET("/ws/lobby", wsHandler.HandleLobbySocket)

	return h
}

func recoveryMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				ctx.String(consts.StatusInternalServerError, "Internal Server Error")
			}
		}()
		ctx.Next(c)
	}
}

func handleCreateRoomForMedia(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var params rooms.MediaParams
		if err := ctx.Bind(&params); err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
		if params.MediaID == "" {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "mediaId is required")
			return
		}

		snapshot, err := roomManager.CreateRoomForMedia(params)
		if err != nil {
			respondError(ctx, consts.StatusInternalServerError, "create_failed", err.Error())
			return
		}
		ilog.EventInfo(c, "create_room_media", "roomId", snapshot.RoomID)
		ctx.JSON(consts.StatusCreated, snapshot)
	}
}

func handleCreateRoomForPlayback(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var params rooms.PlaybackParams
		if err := ctx.Bind(&params); err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
		if params.PlaybackID == "" {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "playbackId is required")
			return
		}

		snapshot, err := roomManager.CreateRoomForPlayback(params)
		if err != nil {
			respondError(ctx, consts.StatusInternalServerError, "create_failed", err.Error())
			return
		}
		ilog.EventInfo(c, "create_room_playback", "roomId", snapshot.RoomID)
		ctx.JSON(consts.StatusCreated, snapshot)
	}
}

func handleGetRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		snapshot, err := roomManager.GetSnapshot(roomID)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "snapshot_failed", err.Error())
			return
		}
		ctx.JSON(consts.StatusOK, snapshot)
	}
}

func respondError(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, map[string]interface{}{
		"kind": "error",
		"data": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
