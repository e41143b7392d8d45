package api

import (
	stderrors "errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"chatgpt-archive/archive"
	"chatgpt-archive/domain"
)

// ListProjects returns project aggregates with display-name overrides applied.
// GET /api/projects
func (h *Handler) ListProjects(c echo.Context) error {
	ctx := c.Request().Context()

	projects, err := h.engine.ListProjects(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list projects failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list projects"})
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	return c.JSON(http.StatusOK, projects)
}

// ListModels returns the distinct model labels present in the index.
// GET /api/models
func (h *Handler) ListModels(c echo.Context) error {
	ctx := c.Request().Context()

	models, err := h.engine.ListModels(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list models failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list models"})
	}
	if models == nil {
		models = []string{}
	}
	return c.JSON(http.StatusOK, models)
}

// SearchConversations returns conversation summaries matching the filters.
// GET /api/conversations
func (h *Handler) SearchConversations(c echo.Context) error {
	ctx := c.Request().Context()

	filter := domain.SearchFilter{
		Query:       strings.TrimSpace(c.QueryParam("q")),
		ProjectID:   strings.TrimSpace(c.QueryParam("project_id")),
		ProjectName: c.QueryParam("project_name"),
		SourceID:    strings.TrimSpace(c.QueryParam("source_id")),
		Role:        strings.TrimSpace(c.QueryParam("role")),
		Model:       strings.TrimSpace(c.QueryParam("model")),
	}
	if raw := strings.TrimSpace(c.QueryParam("date_from")); raw != "" {
		ts, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "date_from must be a unix timestamp"})
		}
		filter.DateFrom = ts
	}
	if raw := strings.TrimSpace(c.QueryParam("date_to")); raw != "" {
		ts, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "date_to must be a unix timestamp"})
		}
		filter.DateTo = ts
	}

	conversations, err := h.engine.Search(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("search failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "search failed"})
	}
	if conversations == nil {
		conversations = []domain.Conversation{}
	}
	return c.JSON(http.StatusOK, conversations)
}

// GetConversation returns one conversation with its rendered artifacts.
// GET /api/conversation/:id
func (h *Handler) GetConversation(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := url.PathUnescape(c.Param("id"))
	if err != nil || strings.TrimSpace(id) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "conversation id is required"})
	}

	detail, err := h.engine.GetConversation(ctx, id)
	if err != nil {
		if stderrors.Is(err, archive.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
		}
		log.Error().Err(err).Str("id", id).Msg("get conversation failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
	}
	return c.JSON(http.StatusOK, detail)
}

// ExportText streams the selected conversations as one plain-text transcript.
// GET /api/export/txt
func (h *Handler) ExportText(c echo.Context) error {
	ctx := c.Request().Context()

	text, filename, err := h.engine.ExportText(
		ctx,
		c.QueryParam("project_id"),
		c.QueryParam("project_name"),
		c.QueryParam("source_id"),
	)
	if err != nil {
		if stderrors.Is(err, archive.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "No data to export"})
		}
		log.Error().Err(err).Msg("export failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "export failed"})
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, buildContentDisposition(filename))
	return c.Blob(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

// ImportFile is a selectable export archive inside the archive root.
type ImportFile struct {
	Name  string  `json:"name"`
	Path  string  `json:"path"`
	Size  int64   `json:"size"`
	MTime float64 `json:"mtime"`
}

// ListImports lists export zips sitting in the archive root.
// GET /api/imports
func (h *Handler) ListImports(c echo.Context) error {
	entries, err := os.ReadDir(h.engine.Root())
	if err != nil {
		log.Error().Err(err).Msg("list imports failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list imports"})
	}

	files := []ImportFile{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, ImportFile{
			Name:  entry.Name(),
			Path:  entry.Name(),
			Size:  info.Size(),
			MTime: float64(info.ModTime().Unix()),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return c.JSON(http.StatusOK, files)
}

var asciiFilenameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// buildContentDisposition returns an ASCII-safe attachment header with a
// UTF-8 filename* parameter for non-ASCII names.
func buildContentDisposition(filename string) string {
	if filename == "" {
		filename = "export.txt"
	}
	asciiName := strings.Trim(asciiFilenameRe.ReplaceAllString(filename, "_"), "_")
	if asciiName == "" {
		asciiName = "export.txt"
	}
	return `attachment; filename="` + asciiName + `"; filename*=UTF-8''` + url.PathEscape(filename)
}

// resolveInsideRoot resolves a possibly relative path against the archive
// root and rejects anything escaping it.
func resolveInsideRoot(root, raw string) (string, bool) {
	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)
	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return candidate, true
}
