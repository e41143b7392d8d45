// Package api provides HTTP handlers for the archive server.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chatgpt-archive/archive"
	"chatgpt-archive/config"
)

// Handler handles HTTP requests.
type Handler struct {
	engine *archive.Engine
	config *config.Config
}

// NewHandler creates a new handler.
func NewHandler(engine *archive.Engine, config *config.Config) *Handler {
	return &Handler{
		engine: engine,
		config: config,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Query API
	e.GET("/api/ping", h.Ping)
	e.GET("/api/projects", h.ListProjects)
	e.GET("/api/models", h.ListModels)
	e.GET("/api/conversations", h.SearchConversations)
	e.GET("/api/conversation/:id", h.GetConversation)
	e.GET("/api/export/txt", h.ExportText)
	e.GET("/api/imports", h.ListImports)

	// Mutation API
	e.POST("/api/project/rename", h.RenameProject)
	e.POST("/api/conversation/move", h.MoveConversation)
	e.POST("/api/conversation/delete", h.DeleteConversation)
	e.POST("/api/imports", h.RunImport)
	e.POST("/api/reset", h.Reset)

	// Generated artifacts are served directly from the archive tree.
	e.Static("/files", h.engine.Root())
}

// Ping returns liveness status.
func (h *Handler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
