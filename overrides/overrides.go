// Package overrides persists user-authored corrections (project display
// names, conversation relocations) that must survive index rebuilds and
// re-imports.
package overrides

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FileName is the override document's file name. The document lives at the
// parent of the archive root; a copy found inside the root is a legacy
// location and gets migrated.
const FileName = "project_overrides.json"

// Overrides is the full override document. ProjectMoves and Projects are
// reserved sections, round-tripped untouched.
type Overrides struct {
	Names        map[string]string `json:"names"`
	Moves        map[string]string `json:"moves"`
	ProjectMoves map[string]string `json:"project_moves"`
	Projects     []string          `json:"projects"`
}

func emptyOverrides() *Overrides {
	return &Overrides{
		Names:        map[string]string{},
		Moves:        map[string]string{},
		ProjectMoves: map[string]string{},
		Projects:     []string{},
	}
}

// Store guards the override document behind a read-merge-write contract.
// Independent features (rename vs move) mutate disjoint subsections, so
// callers must never blind-overwrite the document.
type Store struct {
	mu   sync.Mutex
	root string
}

// NewStore returns a store for the archive rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) primaryPath() string {
	return filepath.Join(filepath.Dir(filepath.Clean(s.root)), FileName)
}

func (s *Store) legacyPath() string {
	return filepath.Join(s.root, FileName)
}

// Load reads the current override document.
func (s *Store) Load() *Overrides {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Update applies fn to a freshly loaded document and persists the result,
// holding the store lock for the whole read-merge-write cycle.
func (s *Store) Update(fn func(*Overrides)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.load()
	fn(o)
	return s.save(o)
}

func (s *Store) load() *Overrides {
	primary := s.primaryPath()
	legacy := s.legacyPath()

	path := primary
	if _, err := os.Stat(primary); err != nil {
		if _, err := os.Stat(legacy); err == nil {
			// One-time migration; failures tolerated, the legacy copy stays.
			data := parseRaw(legacy)
			if writeErr := writeDocument(primary, coerce(data)); writeErr == nil {
				_ = os.Remove(legacy)
			} else {
				log.Debug().Err(writeErr).Msg("override migration failed")
				path = legacy
			}
		} else {
			if writeErr := writeDocument(primary, emptyOverrides()); writeErr != nil {
				log.Debug().Err(writeErr).Msg("override bootstrap failed")
			}
			return emptyOverrides()
		}
	}

	return coerce(parseRaw(path))
}

func (s *Store) save(o *Overrides) error {
	if o.Names == nil {
		o.Names = map[string]string{}
	}
	if o.Moves == nil {
		o.Moves = map[string]string{}
	}
	if o.ProjectMoves == nil {
		o.ProjectMoves = map[string]string{}
	}
	o.Projects = dedupeStrings(o.Projects)
	return writeDocument(s.primaryPath(), o)
}

func writeDocument(path string, o *Overrides) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create overrides dir")
	}
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal overrides")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func parseRaw(path string) map[string]json.RawMessage {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

// coerce normalizes a raw document: non-string values are stringified and
// trimmed, empties dropped. A legacy flat document degrades to names-only;
// anything unparsable degrades to an empty document.
func coerce(raw map[string]json.RawMessage) *Overrides {
	o := emptyOverrides()
	if raw == nil {
		return o
	}
	_, hasNames := raw["names"]
	_, hasMoves := raw["moves"]
	_, hasProjectMoves := raw["project_moves"]
	_, hasProjects := raw["projects"]
	if hasNames || hasMoves || hasProjectMoves || hasProjects {
		o.Names = coerceStringMap(raw["names"])
		o.Moves = coerceStringMap(raw["moves"])
		o.ProjectMoves = coerceStringMap(raw["project_moves"])
		o.Projects = dedupeStrings(coerceStringList(raw["projects"]))
		return o
	}
	// Legacy flat format: every top-level entry is a display name.
	for key, value := range raw {
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			continue
		}
		if name := stringify(v); name != "" {
			o.Names[key] = name
		}
	}
	return o
}

func coerceStringMap(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for key, value := range m {
		if s := stringify(value); s != "" {
			out[key] = s
		}
	}
	return out
}

func coerceStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	var out []string
	for _, value := range list {
		if s := stringify(value); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func dedupeStrings(values []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
