package overrides

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func newRoot(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "output")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return root
}

func TestLoadBootstrapsEmptyDocument(t *testing.T) {
	root := newRoot(t)
	s := NewStore(root)

	o := s.Load()
	if len(o.Names) != 0 || len(o.Moves) != 0 {
		t.Fatalf("expected empty overrides, got %+v", o)
	}
	// The document lives next to the archive root, not inside it, so a full
	// reset of the root keeps user overrides.
	primary := filepath.Join(filepath.Dir(root), FileName)
	if _, err := os.Stat(primary); err != nil {
		t.Fatalf("bootstrap file missing: %v", err)
	}
}

func TestUpdatePersistsAcrossStores(t *testing.T) {
	root := newRoot(t)
	s := NewStore(root)

	err := s.Update(func(o *Overrides) {
		o.Names["default:g-p-abc"] = "My Project"
		o.Moves["default:conv-1"] = "default:g-p-abc"
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fresh := NewStore(root).Load()
	if fresh.Names["default:g-p-abc"] != "My Project" {
		t.Fatalf("name override lost: %+v", fresh)
	}
	if fresh.Moves["default:conv-1"] != "default:g-p-abc" {
		t.Fatalf("move override lost: %+v", fresh)
	}
}

func TestUpdateMergesDisjointSections(t *testing.T) {
	root := newRoot(t)
	s := NewStore(root)

	if err := s.Update(func(o *Overrides) { o.Names["p1"] = "First" }); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.Update(func(o *Overrides) { o.Moves["c1"] = "default:p2" }); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	o := s.Load()
	if o.Names["p1"] != "First" {
		t.Fatal("second update clobbered the names section")
	}
	if o.Moves["c1"] != "default:p2" {
		t.Fatal("move missing after merge")
	}
}

func TestLegacyFlatFormatCoercion(t *testing.T) {
	root := newRoot(t)
	legacy := map[string]any{
		"g-p-abc":  "Flat Name",
		"g-p-num":  42,
		"g-p-null": nil,
	}
	data, _ := json.Marshal(legacy)
	if err := os.WriteFile(filepath.Join(root, FileName), data, 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	o := NewStore(root).Load()
	if o.Names["g-p-abc"] != "Flat Name" {
		t.Fatalf("flat name not coerced: %+v", o.Names)
	}
	if o.Names["g-p-num"] != "42" {
		t.Fatalf("numeric value not stringified: %+v", o.Names)
	}
	if _, ok := o.Names["g-p-null"]; ok {
		t.Fatal("null value must be dropped")
	}
	if len(o.Moves) != 0 {
		t.Fatalf("legacy format has no moves, got %+v", o.Moves)
	}

	// The legacy file migrates to the primary location.
	if _, err := os.Stat(filepath.Join(root, FileName)); !os.IsNotExist(err) {
		t.Fatal("legacy file should be removed after migration")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), FileName)); err != nil {
		t.Fatalf("migrated file missing: %v", err)
	}
}

func TestCorruptDocumentFallsBackToEmpty(t *testing.T) {
	root := newRoot(t)
	primary := filepath.Join(filepath.Dir(root), FileName)
	if err := os.WriteFile(primary, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	o := NewStore(root).Load()
	if len(o.Names) != 0 || len(o.Moves) != 0 {
		t.Fatalf("corrupt document must load as empty, got %+v", o)
	}
}

func TestProjectsListDeduped(t *testing.T) {
	root := newRoot(t)
	s := NewStore(root)

	if err := s.Update(func(o *Overrides) {
		o.Projects = []string{"g-p-a", "g-p-b", "g-p-a"}
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	o := s.Load()
	if len(o.Projects) != 2 {
		t.Fatalf("expected dedupe, got %v", o.Projects)
	}
}
