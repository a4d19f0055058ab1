package rtmp

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	server *Server
}

func NewHandler(server *Server) *Handler {
	return &Handler{
		server: server,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/status", h.GetStatus)
	g.GET("/connections", h.GetConnections)
	g.GET("/pending", h.GetPending)
}

// GetStatus returns the RTMP server status
func (h *Handler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "running",
		"type":   "joy5",
		"stats":  h.server.GetStats(),
		"config": h.server.GetConfig(),
	})
}

// GetConnections returns all active connections
func (h *Handler) GetConnections(c echo.Context) error {
	connections := h.server.GetConnections()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connections": connections,
		"count":       len(connections),
	})
}

// GetPending lists validated publishes and whether they were confirmed.
func (h *Handler) GetPending(c echo.Context) error {
	pending := h.server.bridge.Pending().Snapshot()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"pending": pending,
		"count":   len(pending),
	})
}
