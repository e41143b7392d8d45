// Package helpers builds throwaway export trees and archives for tests.
package helpers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"chatgpt-archive/archive"
	"chatgpt-archive/importer"
	"chatgpt-archive/store"
)

// WriteExport writes conversationsJSON as a conversations.json inside a fresh
// export directory and returns its path.
func WriteExport(t *testing.T, conversationsJSON string) string {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "conversations.json"), []byte(conversationsJSON), 0o644); err != nil {
		t.Fatalf("failed to write conversations.json: %v", err)
	}
	return dir
}

// WriteExportAsset drops an asset file into an export directory so the asset
// index can pick it up.
func WriteExportAsset(t *testing.T, exportDir, name string, content []byte) {
	t.Helper()

	if err := os.WriteFile(filepath.Join(exportDir, name), content, 0o644); err != nil {
		t.Fatalf("failed to write asset %s: %v", name, err)
	}
}

// RunImport imports an export into root and fails the test on error.
func RunImport(t *testing.T, exportDir, root, sourceID string, incremental bool) *importer.Result {
	t.Helper()

	result, err := importer.Run(context.Background(), importer.Options{
		ExportPath:  exportDir,
		OutputRoot:  root,
		SourceID:    sourceID,
		Incremental: incremental,
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	return result
}

// OpenEngine opens an archive engine over root with cleanup registered.
func OpenEngine(t *testing.T, root string) *archive.Engine {
	t.Helper()

	engine, err := archive.Open(root)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	t.Cleanup(func() {
		_ = engine.Close()
	})
	return engine
}

// NewTestStore opens an index store in a temp dir with cleanup registered.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"), true)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// SimpleConversation renders a linear two-message conversation in export
// mapping form. Timestamps are seconds since epoch.
func SimpleConversation(id, title string, createTime, updateTime float64, userText, assistantText string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"title": %q,
		"create_time": %g,
		"update_time": %g,
		"current_node": "n2",
		"mapping": {
			"root": {"id": "root", "parent": null, "message": null, "children": ["n1"]},
			"n1": {"id": "n1", "parent": "root", "children": ["n2"], "message": {
				"author": {"role": "user"},
				"create_time": %g,
				"content": {"content_type": "text", "parts": [%q]},
				"metadata": {}
			}},
			"n2": {"id": "n2", "parent": "n1", "children": [], "message": {
				"author": {"role": "assistant"},
				"create_time": %g,
				"content": {"content_type": "text", "parts": [%q]},
				"metadata": {"model_slug": "gpt-4o"}
			}}
		}
	}`, id, title, createTime, updateTime, createTime, userText, updateTime, assistantText)
}
