package api

import (
	stderrors "errors"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"chatgpt-archive/archive"
	"chatgpt-archive/importer"
	"chatgpt-archive/naming"
)

// RenameProject sets a project's display name.
// POST /api/project/rename
func (h *Handler) RenameProject(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		ProjectUID string `json:"project_uid"`
		ProjectID  string `json:"project_id"`
		SourceID   string `json:"source_id"`
		HumanName  string `json:"human_name"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	rawProject := strings.TrimSpace(req.ProjectUID)
	if rawProject == "" {
		rawProject = strings.TrimSpace(req.ProjectID)
	}
	if rawProject == "" || strings.TrimSpace(req.HumanName) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "project_id/project_uid and human_name are required"})
	}

	project, err := h.engine.RenameProject(ctx, rawProject, strings.TrimSpace(req.SourceID), req.HumanName)
	if err != nil {
		if stderrors.Is(err, archive.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Project not found"})
		}
		log.Error().Err(err).Str("project", rawProject).Msg("rename failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "rename failed"})
	}
	return c.JSON(http.StatusOK, project)
}

// MoveConversation reassigns a conversation to another project.
// POST /api/conversation/move
func (h *Handler) MoveConversation(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		ConversationID  string `json:"conversation_id"`
		TargetProjectID string `json:"target_project_id"`
		TargetSourceID  string `json:"target_source_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	targetProject := strings.TrimSpace(req.TargetProjectID)
	if conversationID == "" || targetProject == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "conversation_id and target_project_id are required"})
	}

	result, err := h.engine.MoveConversation(ctx, conversationID, targetProject, strings.TrimSpace(req.TargetSourceID))
	if err != nil {
		switch {
		case stderrors.Is(err, archive.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
		case stderrors.Is(err, archive.ErrCrossAccountMove):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Cross-account moves are not supported"})
		}
		log.Error().Err(err).Str("conversation", conversationID).Msg("move failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "move failed"})
	}
	return c.JSON(http.StatusOK, result)
}

// DeleteConversation removes a conversation from the archive and the index.
// POST /api/conversation/delete
func (h *Handler) DeleteConversation(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "conversation_id is required"})
	}

	if err := h.engine.DeleteConversation(ctx, conversationID); err != nil {
		if stderrors.Is(err, archive.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
		}
		log.Error().Err(err).Str("conversation", conversationID).Msg("delete failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "delete failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// RunImport runs an import of an export archive that lives inside the
// archive root.
// POST /api/imports
func (h *Handler) RunImport(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Archive     string `json:"archive"`
		Path        string `json:"path"`
		Account     string `json:"account"`
		SourceID    string `json:"source_id"`
		Incremental *bool  `json:"incremental"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	rawArchive := strings.TrimSpace(req.Archive)
	if rawArchive == "" {
		rawArchive = strings.TrimSpace(req.Path)
	}
	if rawArchive == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "archive is required"})
	}
	account := strings.TrimSpace(req.Account)
	if account == "" {
		account = strings.TrimSpace(req.SourceID)
	}
	if account == "" {
		account = naming.DefaultSourceID
	}
	incremental := true
	if req.Incremental != nil {
		incremental = *req.Incremental
	}

	candidate, ok := resolveInsideRoot(h.engine.Root(), rawArchive)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "archive must be inside archive root"})
	}
	if _, err := os.Stat(candidate); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "archive not found"})
	}

	var result *importer.Result
	err := h.engine.WithExclusive(func() error {
		var runErr error
		result, runErr = importer.Run(ctx, importer.Options{
			ExportPath:  candidate,
			OutputRoot:  h.engine.Root(),
			SourceID:    account,
			Incremental: incremental,
		})
		if runErr != nil {
			return runErr
		}
		return h.engine.Reload()
	})
	if err != nil {
		log.Error().Err(err).Str("archive", rawArchive).Msg("import failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"archive": rawArchive,
		"result":  result,
	})
}

// Reset clears one account or the whole archive.
// POST /api/reset
func (h *Handler) Reset(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		SourceID string `json:"source_id"`
		Account  string `json:"account"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	raw := strings.TrimSpace(req.SourceID)
	if raw == "" {
		raw = strings.TrimSpace(req.Account)
	}
	sourceID := ""
	if raw != "" {
		sourceID = naming.NormalizeSourceID(raw)
	}

	if err := h.engine.Reset(ctx, sourceID); err != nil {
		log.Error().Err(err).Str("source_id", sourceID).Msg("reset failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "reset failed"})
	}
	scope := "all"
	if sourceID != "" {
		scope = sourceID
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "scope": scope})
}
