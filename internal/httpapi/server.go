package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"groupwatch/internal/protocol"
	"groupwatch/internal/rooms"
	"groupwatch/internal/ws"
)

// Server is the echo-based engine: the room-provisioning REST API plus the
// relay websocket endpoints.
type Server struct {
	rooms  *rooms.Manager
	ws     *ws.Handler
	router *echo.Echo
}

func NewServer(manager *rooms.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		rooms:  manager,
		ws:     ws.NewHandler(manager),
		router: e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.POST("/api/rooms/media", server.handleCreateRoomForMedia)
	e.POST("/api/rooms/playback", server.handleCreateRoomForPlayback)
	e.GET("/api/rooms/:roomId", server.handleGetRoom)
	e.GET("/ws/rooms/:roomId", server.handleRoomSocket)
	e.GET("/ws/lobby", server.handleLobbySocket)

	return server
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleCreateRoomForMedia(c echo.Context) error {
	var params rooms.MediaParams
	if err := c.Bind(&params); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if params.MediaID == "" {
		return respondError(c, http.StatusBadRequest, "invalid_request", "mediaId is required")
	}
	snapshot, err := s.rooms.CreateRoomForMedia(params)
	if err != nil {
		return respondError(c, http.StatusInternalServerError, "create_failed", err.Error())
	}
	return c.JSON(http.StatusCreated, snapshot)
}

func (s *Server) handleCreateRoomForPlayback(c echo.Context) error {
	var params rooms.PlaybackParams
	if err := c.Bind(&params); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if params.PlaybackID == "" {
		return respondError(c, http.StatusBadRequest, "invalid_request", "playbackId is required")
	}
	snapshot, err := s.rooms.CreateRoomForPlayback(params)
	if err != nil {
		return respondError(c, http.StatusInternalServerError, "create_failed", err.Error())
	}
	return c.JSON(http.StatusCreated, snapshot)
}

func (s *Server) handleGetRoom(c echo.Context) error {
	roomID := c.Param("roomId")
	snapshot, err := s.rooms.GetSnapshot(roomID)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			return respondError(c, http.StatusNotFound, "room_not_found", err.Error())
		}
		return respondError(c, http.StatusInternalServerError, "snapshot_failed", err.Error())
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleRoomSocket(c echo.Context) error {
	// The websocket handler takes full control of the connection; return nil
	// so echo writes nothing further.
	s.ws.ServeRoom(c.Response(), c.Request(), c.Param("roomId"))
	return nil
}

func (s *Server) handleLobbySocket(c echo.Context) error {
	s.ws.ServeLobby(c.Response(), c.Request())
	return nil
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, protocol.Envelope{
		Kind: protocol.KindError,
		Data: protocol.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}
