package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"zapbridge/internal/service"
	"zapbridge/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth happens via the bearer token; origin is not the gate.
		return true
	},
}

// WebSocketHandler upgrades dashboard connections onto the event hub.
type WebSocketHandler struct {
	hub *ws.Hub
}

func NewWebSocketHandler(hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// GET /ws
//
// Tenant-scoped tokens only receive their own tenant's events; admin tokens
// receive the full stream.
func (h *WebSocketHandler) Serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	client := ws.NewClient(h.hub, conn)
	if claims, ok := c.Get("claims").(*service.Claims); ok && claims.Role != "admin" {
		client.TenantID = claims.TenantID
	}

	h.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
	return nil
}
