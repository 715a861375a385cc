package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/socket"
)

type Controller interface {
	Health(c echo.Context) error
}

type controller struct {
	transport socket.Transport
	hub       *StreamHub
}

func NewHandler(transport socket.Transport, hub *StreamHub) Controller {
	return &controller{
		transport: transport,
		hub:       hub,
	}
}

func (h *controller) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"service":        "consult-live",
		"realtime":       h.transport.Connected(),
		"stream_clients": h.hub.ClientCount(),
	})
}
