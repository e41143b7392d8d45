package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatgpt-archive/archive"
	"chatgpt-archive/domain"
	"chatgpt-archive/tests/helpers"
)

func importTwoConversations(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "output")
	exportDir := helpers.WriteExport(t, "["+
		helpers.SimpleConversation("conv-1", "chess talk", 1714564800, 1714565800, "teach me chess", "sure")+","+
		helpers.SimpleConversation("conv-2", "cooking", 1714560000, 1714561000, "how to make pasta", "boil water")+
		"]")
	helpers.RunImport(t, exportDir, root, "", false)
	return root
}

func TestSearchByProjectNameUsesOverrides(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)
	ctx := context.Background()

	if _, err := engine.RenameProject(ctx, "default:no_project", "", "Inbox"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	// Case-, width- and whitespace-insensitive display-name match.
	rows, err := engine.Search(ctx, domain.SearchFilter{ProjectName: "  inbox "})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected both conversations, got %+v", rows)
	}

	// Unknown display names resolve to nothing rather than everything.
	rows, err = engine.Search(ctx, domain.SearchFilter{ProjectName: "does not exist"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no results, got %+v", rows)
	}
}

func TestRenameProjectPersistsAndSurvivesReimport(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)
	ctx := context.Background()

	p, err := engine.RenameProject(ctx, "default:no_project", "", "Inbox")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if p.HumanName != "Inbox" {
		t.Fatalf("unexpected project: %+v", p)
	}

	// The sidecar mirrors the renamed row.
	meta, err := os.ReadFile(filepath.Join(root, "projects", "default", "no_project", "_meta.json"))
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	if !strings.Contains(string(meta), "Inbox") {
		t.Fatalf("sidecar not updated: %s", meta)
	}

	// A full re-import rebuilds the index; the name must come back from the
	// override store.
	exportDir := helpers.WriteExport(t, "["+
		helpers.SimpleConversation("conv-1", "chess talk", 1714564800, 1714565800, "teach me chess", "sure")+
		"]")
	helpers.RunImport(t, exportDir, root, "", false)
	if err := engine.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	projects, err := engine.ListProjects(ctx)
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if len(projects) != 1 || projects[0].HumanName != "Inbox" {
		t.Fatalf("override lost on re-import: %+v", projects)
	}
}

func TestRenameProjectAccountHintWinsOverUID(t *testing.T) {
	root := filepath.Join(t.TempDir(), "output")
	exportDir := helpers.WriteExport(t, "["+
		helpers.SimpleConversation("conv-1", "standup", 1714564800, 1714565800, "notes", "ack")+
		"]")
	helpers.RunImport(t, exportDir, root, "work", false)
	engine := helpers.OpenEngine(t, root)
	ctx := context.Background()

	// The hint rebinds the uid's account, so default:no_project resolves to
	// the work account where the aggregate actually lives.
	p, err := engine.RenameProject(ctx, "default:no_project", "work", "Standups")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if p.ProjectUID != "work:no_project" || p.HumanName != "Standups" {
		t.Fatalf("unexpected project: %+v", p)
	}

	if _, err := engine.RenameProject(ctx, "default:no_project", "", "Nope"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("expected not-found without hint, got %v", err)
	}
}

func TestRenameProjectUnknownTarget(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)

	_, err := engine.RenameProject(context.Background(), "default:g-p-missing", "", "Name")
	if !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestMoveConversation(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)
	ctx := context.Background()

	result, err := engine.MoveConversation(ctx, "default:conv-1", "g-p-chess", "")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !result.Moved || result.ProjectUID != "default:g-p-chess" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Folder physically relocated.
	newDir := filepath.Join(root, "projects", "default", "g-p-chess", "2024-05-01 - chess talk")
	if _, err := os.Stat(newDir); err != nil {
		t.Fatalf("moved folder missing: %v", err)
	}

	// Index row and aggregates follow.
	detail, err := engine.GetConversation(ctx, "default:conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.ProjectUID != "default:g-p-chess" {
		t.Fatalf("index row not updated: %+v", detail)
	}
	if detail.Record == nil || detail.Record.ProjectUID != "default:g-p-chess" {
		t.Fatalf("record not patched: %+v", detail.Record)
	}
	projects, err := engine.ListProjects(ctx)
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("aggregates not recomputed: %+v", projects)
	}
}

func TestMoveConversationSameProjectIsNoOp(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)

	result, err := engine.MoveConversation(context.Background(), "default:conv-1", "no_project", "")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if result.Moved {
		t.Fatalf("same-project move must be a no-op: %+v", result)
	}
}

func TestMoveConversationRejectsCrossAccount(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)

	_, err := engine.MoveConversation(context.Background(), "default:conv-1", "work:g-p-x", "")
	if !errors.Is(err, archive.ErrCrossAccountMove) {
		t.Fatalf("expected cross-account rejection, got %v", err)
	}
}

func TestMoveConversationBareTargetStaysInAccount(t *testing.T) {
	root := filepath.Join(t.TempDir(), "output")
	exportDir := helpers.WriteExport(t, "["+
		helpers.SimpleConversation("conv-1", "standup", 1714564800, 1714565800, "notes", "ack")+
		"]")
	helpers.RunImport(t, exportDir, root, "work", false)
	engine := helpers.OpenEngine(t, root)

	// A bare target id resolves within the conversation's own account, so
	// moving inside a non-default account needs no uid qualifier.
	result, err := engine.MoveConversation(context.Background(), "work:conv-1", "g-p-planning", "")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if result.ProjectUID != "work:g-p-planning" {
		t.Fatalf("unexpected target: %+v", result)
	}
}

func TestDeleteConversationRemovesEverything(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)
	ctx := context.Background()

	detail, err := engine.GetConversation(ctx, "default:conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	folder := detail.Paths.JSON

	if err := engine.DeleteConversation(ctx, "default:conv-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(folder)); !os.IsNotExist(err) {
		t.Fatal("folder must be removed")
	}
	if _, err := engine.GetConversation(ctx, "default:conv-1"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
	rows, err := engine.Search(ctx, domain.SearchFilter{Query: "chess"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("full-text rows survived delete: %+v", rows)
	}
}

func TestGetConversationMissingArtifactsDegrade(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)
	ctx := context.Background()

	detail, err := engine.GetConversation(ctx, "default:conv-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := os.Remove(detail.Paths.Markdown); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}

	detail, err = engine.GetConversation(ctx, "default:conv-2")
	if err != nil {
		t.Fatalf("artifact loss must not fail the lookup: %v", err)
	}
	if detail.Markdown != "" {
		t.Fatal("missing markdown must degrade to empty")
	}
	if detail.HTML == "" {
		t.Fatal("surviving artifacts must still hydrate")
	}
}

func TestQueriesDuringReload(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)
	ctx := context.Background()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if _, err := engine.Search(ctx, domain.SearchFilter{}); err != nil {
				t.Errorf("search during reload: %v", err)
				return
			}
			if _, err := engine.ListProjects(ctx); err != nil {
				t.Errorf("projects during reload: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			if err := engine.WithExclusive(engine.Reload); err != nil {
				t.Errorf("reload: %v", err)
				return
			}
		}
		close(done)
	}()
	wg.Wait()
}

func TestExportText(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)
	ctx := context.Background()

	text, filename, err := engine.ExportText(ctx, "", "", "")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filename != "export-all.txt" {
		t.Fatalf("unexpected filename: %q", filename)
	}
	userTS := time.Unix(1714564800, 0).Format("2006-01-02 15:04:05")
	assistantTS := time.Unix(1714565800, 0).Format("2006-01-02 15:04:05")
	for _, want := range []string{
		"################ ACCOUNT: default ################",
		"======== PROJECT: No project (default:no_project) ========",
		"---- CONVERSATION: chess talk ----",
		"[user @ " + userTS + "] teach me chess",
		"[assistant @ " + assistantTS + "] sure",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("export missing %q:\n%s", want, text)
		}
	}

	_, filename, err = engine.ExportText(ctx, "no_project", "", "")
	if err != nil {
		t.Fatalf("scoped export: %v", err)
	}
	if filename != "export-no_project.txt" {
		t.Fatalf("unexpected filename: %q", filename)
	}

	if _, _, err := engine.ExportText(ctx, "g-p-missing", "", ""); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("empty selection must be not-found, got %v", err)
	}
}

func TestResetScopedToAccount(t *testing.T) {
	root := importTwoConversations(t)
	workExport := helpers.WriteExport(t, "["+
		helpers.SimpleConversation("conv-9", "work chat", 1714564800, 1714565800, "w", "x")+
		"]")
	helpers.RunImport(t, workExport, root, "work", true)

	engine := helpers.OpenEngine(t, root)
	ctx := context.Background()

	if err := engine.Reset(ctx, "work"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "projects", "work")); !os.IsNotExist(err) {
		t.Fatal("work tree must be removed")
	}
	if _, err := os.Stat(filepath.Join(root, "projects", "default")); err != nil {
		t.Fatalf("default tree must survive: %v", err)
	}
	rows, err := engine.Search(ctx, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, row := range rows {
		if row.SourceID == "work" {
			t.Fatalf("work rows survived reset: %+v", rows)
		}
	}
}

func TestResetFullRecreatesEmptyIndex(t *testing.T) {
	root := importTwoConversations(t)
	engine := helpers.OpenEngine(t, root)
	ctx := context.Background()

	if err := engine.Reset(ctx, ""); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "projects")); !os.IsNotExist(err) {
		t.Fatal("projects tree must be removed")
	}

	rows, err := engine.Search(ctx, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("index must be usable after reset: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty index, got %+v", rows)
	}
}
