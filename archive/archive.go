// Package archive keeps the relational index, the generated folder tree, and
// the override document mutually consistent. Every mutating operation follows
// the same ordering: override-store write, then filesystem change, then index
// change, then recomputation, so a crash between steps is self-healing on
// the next recomputation.
package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"chatgpt-archive/artifact"
	"chatgpt-archive/domain"
	"chatgpt-archive/naming"
	"chatgpt-archive/overrides"
	"chatgpt-archive/store"
)

// IndexFile is the relational index file name inside the archive root.
const IndexFile = "index.db"

// DefaultPageSize caps search results.
const DefaultPageSize = 400

// ErrNotFound marks a missing query or mutation target.
var ErrNotFound = errors.New("not found")

// ErrCrossAccountMove rejects conversation moves across accounts.
var ErrCrossAccountMove = errors.New("cross-account moves are not supported")

// Engine serves queries and mutations over one archive root. Mutations are
// serialized behind the write half of an internal lock; queries share the
// read half, so a reload never swaps the store out from under them.
type Engine struct {
	mu        sync.RWMutex
	root      string
	store     *store.SQLiteStore
	overrides *overrides.Store
	pageSize  int
}

// Open opens the archive at root, creating an empty index when none exists.
// A legacy index schema is rebuilt rather than migrated.
func Open(root string) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve archive root %s", root)
	}
	st, err := store.Open(filepath.Join(abs, IndexFile), false)
	if err != nil {
		return nil, err
	}
	return &Engine{
		root:      abs,
		store:     st,
		overrides: overrides.NewStore(abs),
		pageSize:  DefaultPageSize,
	}, nil
}

// Root returns the absolute archive root.
func (e *Engine) Root() string {
	return e.root
}

// DBPath returns the index file path.
func (e *Engine) DBPath() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Path()
}

// SetPageSize overrides the search result cap.
func (e *Engine) SetPageSize(n int) {
	if n > 0 {
		e.mu.Lock()
		e.pageSize = n
		e.mu.Unlock()
	}
}

// Close closes the underlying index connection.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Close()
}

// WithExclusive runs fn while holding the mutation lock. Import runs use it
// so no query or mutation observes a half-written index swap.
func (e *Engine) WithExclusive(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

// Reload reopens the index connection, picking up schema or data replaced by
// an out-of-band import run. Callers serialize through WithExclusive, which
// holds the write lock queries contend on.
func (e *Engine) Reload() error {
	return e.reload(false)
}

func (e *Engine) reload(rebuild bool) error {
	_ = e.store.Close()
	st, err := store.Open(filepath.Join(e.root, IndexFile), rebuild)
	if err != nil {
		return err
	}
	e.store = st
	return nil
}

// ListProjects lists project aggregates with override names applied.
func (e *Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listProjects(ctx)
}

func (e *Engine) listProjects(ctx context.Context) ([]domain.Project, error) {
	projects, err := e.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	names := e.overrides.Load().Names
	for i := range projects {
		if name := overrideName(names, projects[i].ProjectUID, projects[i].ProjectID); name != "" {
			projects[i].HumanName = name
		}
	}
	return projects, nil
}

// ListModels lists the distinct model labels in the index.
func (e *Engine) ListModels(ctx context.Context) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.ListModels(ctx)
}

// Search resolves a display-name filter to a project uid set and queries the
// index. An unresolvable display name yields no results rather than an error.
func (e *Engine) Search(ctx context.Context, f domain.SearchFilter) ([]domain.Conversation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if name := strings.TrimSpace(f.ProjectName); name != "" {
		uids, err := e.findProjectUIDsByName(ctx, f.ProjectName)
		if err != nil {
			return nil, err
		}
		if len(uids) == 0 {
			return nil, nil
		}
		f.ProjectUIDs = uids
	}
	if f.Limit <= 0 {
		f.Limit = e.pageSize
	}
	return e.store.Search(ctx, f)
}

// findProjectUIDsByName resolves a display name to every matching project
// uid, consulting both the aggregate rows and the override document.
func (e *Engine) findProjectUIDsByName(ctx context.Context, rawName string) ([]string, error) {
	normalized := naming.NormalizeProjectName(rawName)
	if normalized == "" {
		return nil, nil
	}
	rows, err := e.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, row := range rows {
		if naming.NormalizeProjectName(row.HumanName) == normalized {
			matches = append(matches, row.ProjectUID)
		}
	}
	// Overrides may carry names the aggregate rows have not picked up yet.
	for key, name := range e.overrides.Load().Names {
		if naming.NormalizeProjectName(name) != normalized {
			continue
		}
		if strings.Contains(key, ":") {
			matches = append(matches, key)
			continue
		}
		for _, row := range rows {
			if row.ProjectID == key {
				matches = append(matches, row.ProjectUID)
			}
		}
	}
	return uniquePreserveOrder(matches), nil
}

// GetConversation fetches a conversation by uid (or lenient bare id) and
// hydrates its rendered artifacts from disk. Missing artifact files degrade
// to empty fields; only a missing index row is a not-found.
func (e *Engine) GetConversation(ctx context.Context, id string) (*domain.ConversationDetail, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	row, err := e.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.Wrap(ErrNotFound, "conversation")
	}
	base, err := e.resolveFolder(row.Folder)
	if err != nil {
		return nil, err
	}

	detail := &domain.ConversationDetail{
		ConversationUID: row.ConversationUID,
		ConversationID:  row.ConversationID,
		SourceID:        row.SourceID,
		ProjectID:       row.ProjectID,
		ProjectUID:      row.ProjectUID,
		Paths: domain.DetailPaths{
			JSON:     filepath.Join(base, artifact.RecordFile),
			Markdown: filepath.Join(base, artifact.MarkdownFile),
			HTML:     filepath.Join(base, artifact.HTMLFile),
			Obsidian: filepath.Join(base, artifact.ObsidianFile),
			Web: domain.WebPaths{
				JSON:     "/files/" + row.Folder + "/" + artifact.RecordFile,
				Markdown: "/files/" + row.Folder + "/" + artifact.MarkdownFile,
				HTML:     "/files/" + row.Folder + "/" + artifact.HTMLFile,
				Obsidian: "/files/" + row.Folder + "/" + artifact.ObsidianFile,
			},
		},
	}
	if data, err := os.ReadFile(detail.Paths.JSON); err == nil {
		var record domain.ConversationRecord
		if err := json.Unmarshal(data, &record); err == nil {
			detail.Record = &record
		}
	}
	detail.Markdown = readFileOrEmpty(detail.Paths.Markdown)
	detail.HTML = readFileOrEmpty(detail.Paths.HTML)
	detail.Obsidian = readFileOrEmpty(detail.Paths.Obsidian)
	return detail, nil
}

// RecomputeProjects derives project aggregates from the current conversation
// rows, re-applies name overrides, and rewrites the projects table and every
// sidecar metadata file. Idempotent and safe after any structural change.
func (e *Engine) RecomputeProjects(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recomputeProjects(ctx)
}

// recomputeProjects runs under a lock already held by the caller.
func (e *Engine) recomputeProjects(ctx context.Context) error {
	return RecomputeProjects(ctx, e.store, e.root, e.overrides.Load().Names)
}

// RecomputeProjects is the shared recomputation used by both the engine and
// the import orchestrator.
func RecomputeProjects(ctx context.Context, st *store.SQLiteStore, root string, names map[string]string) error {
	aggregates, err := st.ProjectAggregates(ctx)
	if err != nil {
		return err
	}
	projects := make([]domain.Project, 0, len(aggregates))
	for _, agg := range aggregates {
		uid := naming.MakeProjectUID(agg.SourceID, agg.ProjectID)
		name := overrideName(names, uid, agg.ProjectID)
		if name == "" {
			name = naming.DefaultProjectName(agg.ProjectID)
		}
		p := domain.Project{
			ProjectUID:        uid,
			SourceID:          agg.SourceID,
			ProjectID:         agg.ProjectID,
			HumanName:         name,
			ConversationCount: agg.Count,
			FirstMessageTime:  agg.FirstMessageTime,
			LastMessageTime:   agg.LastMessageTime,
		}
		if err := WriteProjectMeta(root, p); err != nil {
			return err
		}
		projects = append(projects, p)
	}
	return st.ReplaceProjects(ctx, projects)
}

// WriteProjectMeta writes the _meta.json sidecar mirroring a project's
// aggregate row.
func WriteProjectMeta(root string, p domain.Project) error {
	metaPath := filepath.Join(root, "projects", p.SourceID, p.ProjectID, "_meta.json")
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return errors.Wrap(err, "create project dir")
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal project meta")
	}
	if err := os.WriteFile(metaPath, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", metaPath)
	}
	return nil
}

// resolveFolder maps a stored relative folder onto the filesystem, rejecting
// anything escaping the archive root.
func (e *Engine) resolveFolder(folder string) (string, error) {
	base := filepath.Join(e.root, filepath.FromSlash(folder))
	rel, err := filepath.Rel(e.root, base)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", errors.Errorf("folder escapes archive root: %s", folder)
	}
	return base, nil
}

func overrideName(names map[string]string, projectUID, projectID string) string {
	if name, ok := names[projectUID]; ok {
		return name
	}
	return names[projectID]
}

func readFileOrEmpty(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func uniquePreserveOrder(values []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
