package handlers

import (
	"net/http"

	"github.com/geocoder89/barterhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type StreamServer interface {
	Serve(conn *websocket.Conn, userID string)
}

type StreamHandler struct {
	hub      StreamServer
	upgrader websocket.Upgrader
}

func NewStreamHandler(hub StreamServer, origins middlewares.Origins) *StreamHandler {
	return &StreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return origins.Allows(r.Header.Get("Origin"))
			},
		},
	}
}

// GET /trades/stream upgrades to a websocket carrying the caller's trade events.
func (h *StreamHandler) Stream(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)

	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		return
	}

	h.hub.Serve(conn, userID)
}
