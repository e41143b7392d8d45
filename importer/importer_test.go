package importer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"chatgpt-archive/domain"
	"chatgpt-archive/importer"
	"chatgpt-archive/overrides"
	"chatgpt-archive/tests/helpers"
)

func TestRunImportsLinearConversation(t *testing.T) {
	exportDir := helpers.WriteExport(t, "["+helpers.SimpleConversation(
		"conv-1", "hi", 1714564800, 1714565800, "hello there", "hi, how can I help?")+"]")
	root := filepath.Join(t.TempDir(), "output")

	result := helpers.RunImport(t, exportDir, root, "", false)

	if result.Imported != 1 || result.Conversations != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.SourceID != "default" {
		t.Fatalf("empty account must normalize to default: %+v", result)
	}
	if len(result.Models) != 1 || result.Models[0] != "gpt-4o" {
		t.Fatalf("models wrong: %v", result.Models)
	}

	chatDir := filepath.Join(root, "projects", "default", "no_project", "2024-05-01 - hi")
	for _, name := range []string{
		"conversation.json", "conversation.md", "conversation.html", "conversation-obsidian.md",
	} {
		if _, err := os.Stat(filepath.Join(chatDir, name)); err != nil {
			t.Fatalf("artifact %s missing: %v", name, err)
		}
	}

	store := helpers.OpenEngine(t, root)
	detail, err := store.GetConversation(context.Background(), "default:conv-1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if detail.Record == nil || len(detail.Record.Messages) != 2 {
		t.Fatalf("record not hydrated: %+v", detail)
	}
	if detail.Record.Messages[0].Text != "hello there" {
		t.Fatalf("unexpected first message: %+v", detail.Record.Messages[0])
	}
}

func TestRunDerivesTitleFromFirstUserMessage(t *testing.T) {
	exportDir := helpers.WriteExport(t, "["+helpers.SimpleConversation(
		"conv-2", "", 1714564800, 1714565800, "name this chat", "done")+"]")
	root := filepath.Join(t.TempDir(), "output")

	helpers.RunImport(t, exportDir, root, "", false)

	chatDir := filepath.Join(root, "projects", "default", "no_project", "2024-05-01 - name this chat")
	if _, err := os.Stat(chatDir); err != nil {
		t.Fatalf("derived-title folder missing: %v", err)
	}
}

func TestRunSkipsEmptyConversations(t *testing.T) {
	empty := `{"id": "conv-3", "title": "Empty", "mapping": {
		"root": {"id": "root", "parent": null, "message": null}
	}}`
	exportDir := helpers.WriteExport(t, "["+empty+"]")
	root := filepath.Join(t.TempDir(), "output")

	result := helpers.RunImport(t, exportDir, root, "", false)
	if result.Imported != 0 {
		t.Fatalf("empty conversation must be dropped: %+v", result)
	}
}

func TestIncrementalSkipsUnchanged(t *testing.T) {
	conv := helpers.SimpleConversation("conv-1", "hi", 1714564800, 1714565800, "hello", "world")
	exportDir := helpers.WriteExport(t, "["+conv+"]")
	root := filepath.Join(t.TempDir(), "output")

	helpers.RunImport(t, exportDir, root, "", false)
	second := helpers.RunImport(t, exportDir, root, "", true)

	if second.SkippedExisting != 1 || second.Imported != 0 {
		t.Fatalf("unchanged conversation must be skipped: %+v", second)
	}
}

func TestIncrementalReplacesUpdatedAndRemovesOldFolder(t *testing.T) {
	root := filepath.Join(t.TempDir(), "output")

	first := helpers.WriteExport(t, "["+helpers.SimpleConversation(
		"conv-1", "old title", 1714564800, 1714565800, "hello", "world")+"]")
	helpers.RunImport(t, first, root, "", false)

	oldDir := filepath.Join(root, "projects", "default", "no_project", "2024-05-01 - old title")
	if _, err := os.Stat(oldDir); err != nil {
		t.Fatalf("first folder missing: %v", err)
	}

	// Same conversation, newer update time and a new title.
	updated := helpers.WriteExport(t, "["+helpers.SimpleConversation(
		"conv-1", "new title", 1714564800, 1714569999, "hello", "world again")+"]")
	result := helpers.RunImport(t, updated, root, "", true)

	if result.Imported != 1 || result.SkippedExisting != 0 {
		t.Fatalf("updated conversation must be re-imported: %+v", result)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Fatal("stale folder must be removed")
	}
	newDir := filepath.Join(root, "projects", "default", "no_project", "2024-05-01 - new title")
	if _, err := os.Stat(newDir); err != nil {
		t.Fatalf("new folder missing: %v", err)
	}

	engine := helpers.OpenEngine(t, root)
	rows, err := engine.Search(context.Background(), domain.SearchFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "new title" {
		t.Fatalf("index not replaced: %+v", rows)
	}
}

func TestImportReplaysMoveOverride(t *testing.T) {
	root := filepath.Join(t.TempDir(), "output")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ov := overrides.NewStore(root)
	if err := ov.Update(func(o *overrides.Overrides) {
		o.Moves["default:conv-1"] = "default:g-p-target"
	}); err != nil {
		t.Fatalf("seed override: %v", err)
	}

	exportDir := helpers.WriteExport(t, "["+helpers.SimpleConversation(
		"conv-1", "hi", 1714564800, 1714565800, "hello", "world")+"]")
	helpers.RunImport(t, exportDir, root, "", false)

	moved := filepath.Join(root, "projects", "default", "g-p-target", "2024-05-01 - hi")
	if _, err := os.Stat(moved); err != nil {
		t.Fatalf("conversation must land in override target: %v", err)
	}

	engine := helpers.OpenEngine(t, root)
	detail, err := engine.GetConversation(context.Background(), "default:conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.ProjectUID != "default:g-p-target" {
		t.Fatalf("index row has wrong project: %+v", detail)
	}
}

func TestImportIgnoresCrossAccountMoveOverride(t *testing.T) {
	root := filepath.Join(t.TempDir(), "output")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ov := overrides.NewStore(root)
	if err := ov.Update(func(o *overrides.Overrides) {
		o.Moves["work:conv-1"] = "other:g-p-target"
	}); err != nil {
		t.Fatalf("seed override: %v", err)
	}

	exportDir := helpers.WriteExport(t, "["+helpers.SimpleConversation(
		"conv-1", "hi", 1714564800, 1714565800, "hello", "world")+"]")
	helpers.RunImport(t, exportDir, root, "work", false)

	if _, err := os.Stat(filepath.Join(root, "projects", "work", "no_project", "2024-05-01 - hi")); err != nil {
		t.Fatalf("conversation must stay in its own account: %v", err)
	}
}

func TestImportTwoAccountsKeepBothTrees(t *testing.T) {
	root := filepath.Join(t.TempDir(), "output")

	exportA := helpers.WriteExport(t, "["+helpers.SimpleConversation(
		"conv-1", "personal chat", 1714564800, 1714565800, "a", "b")+"]")
	helpers.RunImport(t, exportA, root, "", false)

	exportB := helpers.WriteExport(t, "["+helpers.SimpleConversation(
		"conv-1", "work chat", 1714564800, 1714565800, "c", "d")+"]")
	// A full (non-incremental) run rebuilds the index; both accounts must be
	// re-imported to coexist, so the work import is incremental here.
	helpers.RunImport(t, exportB, root, "work", true)

	engine := helpers.OpenEngine(t, root)
	rows, err := engine.Search(context.Background(), domain.SearchFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected both accounts, got %+v", rows)
	}

	projects, err := engine.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	uids := map[string]bool{}
	for _, p := range projects {
		uids[p.ProjectUID] = true
	}
	if !uids["default:no_project"] || !uids["work:no_project"] {
		t.Fatalf("per-account aggregates missing: %v", uids)
	}
}

func TestImportCopiesAttachments(t *testing.T) {
	conv := `{
		"id": "conv-img", "title": "with image", "create_time": 1714564800, "update_time": 1714565800,
		"current_node": "n1",
		"mapping": {
			"root": {"id": "root", "parent": null, "message": null},
			"n1": {"id": "n1", "parent": "root", "message": {
				"author": {"role": "user"}, "create_time": 1714564800,
				"content": {"content_type": "multimodal_text", "parts": [
					{"asset_pointer": "file-service://file_IMG1", "width": 10, "height": 10},
					"see attached"
				]},
				"metadata": {}
			}}
		}
	}`
	exportDir := helpers.WriteExport(t, "["+conv+"]")
	helpers.WriteExportAsset(t, exportDir, "file_IMG1-photo.png", []byte("png-bytes"))
	root := filepath.Join(t.TempDir(), "output")

	helpers.RunImport(t, exportDir, root, "", false)

	copied := filepath.Join(root, "projects", "default", "no_project",
		"2024-05-01 - with image", "images", "file_IMG1-photo.png")
	if _, err := os.Stat(copied); err != nil {
		t.Fatalf("attachment not copied: %v", err)
	}

	engine := helpers.OpenEngine(t, root)
	detail, err := engine.GetConversation(context.Background(), "default:conv-img")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	att := detail.Record.Messages[0].Attachments[0]
	if att.LocalPath != "images/file_IMG1-photo.png" {
		t.Fatalf("record attachment path wrong: %+v", att)
	}
}

func TestRunRejectsMissingExport(t *testing.T) {
	_, err := importer.Run(context.Background(), importer.Options{
		ExportPath: filepath.Join(t.TempDir(), "nope.zip"),
		OutputRoot: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error for missing export")
	}
}
