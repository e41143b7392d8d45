// Package importer turns a raw conversation export into the canonical archive
// tree plus its relational index. A run is a pipeline: unpack, parse,
// linearize, render artifacts, bulk-index, recompute project aggregates.
package importer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"chatgpt-archive/archive"
	"chatgpt-archive/artifact"
	"chatgpt-archive/domain"
	"chatgpt-archive/export"
	"chatgpt-archive/naming"
	"chatgpt-archive/overrides"
	"chatgpt-archive/store"
)

const snippetLength = 240

// Options configures one import run.
type Options struct {
	// ExportPath is the export zip or an already-extracted directory.
	ExportPath string
	// OutputRoot is the archive root; created when missing.
	OutputRoot string
	// SourceID is the account the export belongs to; normalized, empty
	// means "default".
	SourceID string
	// Incremental keeps the existing index and skips conversations whose
	// upstream update time has not advanced. Off means a full rebuild.
	Incremental bool
	// AllowNetworkImages is reserved; remote asset pointers are currently
	// kept as references only.
	AllowNetworkImages bool
}

// Result summarizes one import run.
type Result struct {
	Conversations   int      `json:"conversations"`
	Imported        int      `json:"imported_conversations"`
	SkippedExisting int      `json:"skipped_existing"`
	Projects        int      `json:"projects"`
	Models          []string `json:"models"`
	SourceID        string   `json:"source_id"`
	DBPath          string   `json:"db_path"`
	OutputRoot      string   `json:"output_root"`
	AppendMode      bool     `json:"append_mode"`
}

// Run executes an import. Conversations that linearize to zero messages are
// dropped. In incremental mode a conversation is re-imported as a full
// replacement: old rows and the old folder go away before the new ones land.
func Run(ctx context.Context, opts Options) (*Result, error) {
	startedAt := float64(time.Now().Unix())

	base, cleanup, err := export.Unpack(opts.ExportPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	conversations, err := export.LoadConversations(base)
	if err != nil {
		return nil, err
	}
	assets := export.BuildAssetIndex(base)
	sourceID := naming.NormalizeSourceID(opts.SourceID)

	outputRoot, err := filepath.Abs(opts.OutputRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve output root %s", opts.OutputRoot)
	}
	if err := os.MkdirAll(filepath.Join(outputRoot, "projects"), 0o755); err != nil {
		return nil, errors.Wrap(err, "create output root")
	}

	ov := overrides.NewStore(outputRoot).Load()

	st, err := store.Open(filepath.Join(outputRoot, archive.IndexFile), !opts.Incremental)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	existing := map[string]domain.ExistingConversation{}
	if opts.Incremental {
		existing, err = st.ExistingConversations(ctx, sourceID)
		if err != nil {
			return nil, err
		}
	}

	var convRows []domain.Conversation
	var msgRows []domain.Message
	modelSet := map[string]bool{}
	imported := 0
	skipped := 0

	for idx, conv := range conversations {
		convID := naming.GenerateConversationID(conv.ID)
		convUID := naming.MakeConversationUID(sourceID, convID)
		messages := export.ExtractMessages(conv.Mapping, conv.CurrentNode, assets)
		if len(messages) == 0 {
			continue
		}

		title := deriveTitle(conv.Title, messages, convID)
		createdAt := conv.CreateTime
		if createdAt == 0 {
			createdAt = messages[0].Timestamp
		}
		updatedAt := conv.UpdateTime
		if updatedAt == 0 {
			updatedAt = messages[len(messages)-1].Timestamp
		}

		projectID := export.CollectGizmoID(messages)
		if projectID == "" {
			projectID = naming.NoProject
		}
		model := export.CollectModel(messages)
		if model != "" {
			modelSet[model] = true
		}

		// Replay a pending move so the conversation lands directly in its
		// target project. Overrides from other accounts are ignored.
		if target := moveTarget(ov.Moves, convUID, convID); target != "" {
			overrideSource, overrideProject := naming.SplitProjectUID(target)
			if overrideSource == sourceID {
				projectID = overrideProject
			}
		}

		prior, known := existing[convUID]
		if opts.Incremental && known && updatedAt != 0 && prior.UpdatedAt != 0 && updatedAt <= prior.UpdatedAt {
			skipped++
			continue
		}

		folderName := naming.ConversationFolder(title, createdAt, convID)
		projectUID := naming.MakeProjectUID(sourceID, projectID)
		relFolder := "projects/" + sourceID + "/" + projectID + "/" + folderName
		chatDir := filepath.Join(outputRoot, "projects", sourceID, projectID, folderName)
		if err := os.RemoveAll(chatDir); err != nil {
			return nil, errors.Wrapf(err, "clear %s", relFolder)
		}
		if err := os.MkdirAll(chatDir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", relFolder)
		}

		if opts.Incremental && known {
			removeOldFolder(outputRoot, prior.Folder, relFolder)
			if err := st.DeleteConversationRows(ctx, convUID); err != nil {
				return nil, err
			}
		}

		artifact.CopyAttachments(messages, chatDir, relFolder)

		record := &domain.ConversationRecord{
			ConversationUID: convUID,
			ConversationID:  convID,
			ProjectID:       projectID,
			ProjectUID:      projectUID,
			SourceID:        sourceID,
			SourceIndex:     idx,
			Title:           title,
			CreatedAt:       createdAt,
			UpdatedAt:       updatedAt,
			Messages:        messages,
			Metadata: domain.RecordMetadata{
				GizmoID:  projectID,
				Model:    model,
				SourceID: sourceID,
			},
			Files: domain.RecordFiles{
				Markdown: artifact.MarkdownFile,
				HTML:     artifact.HTMLFile,
				Obsidian: artifact.ObsidianFile,
			},
		}
		if err := artifact.WriteRecord(record, filepath.Join(chatDir, artifact.RecordFile)); err != nil {
			return nil, err
		}
		if err := artifact.WriteMarkdown(title, createdAt, messages, filepath.Join(chatDir, artifact.MarkdownFile)); err != nil {
			return nil, err
		}
		if err := artifact.WriteHTML(title, createdAt, messages, filepath.Join(chatDir, artifact.HTMLFile)); err != nil {
			return nil, err
		}
		if err := artifact.WriteObsidian(title, createdAt, projectUID, model, messages, filepath.Join(chatDir, artifact.ObsidianFile)); err != nil {
			return nil, err
		}

		convRows = append(convRows, domain.Conversation{
			ConversationUID: convUID,
			SourceID:        sourceID,
			ConversationID:  convID,
			ProjectID:       projectID,
			ProjectUID:      projectUID,
			Title:           title,
			CreatedAt:       createdAt,
			UpdatedAt:       updatedAt,
			Snippet:         firstUserSnippet(messages),
			Folder:          relFolder,
			Model:           model,
		})
		for _, msg := range messages {
			msgRows = append(msgRows, domain.Message{
				ConversationUID: convUID,
				SourceID:        sourceID,
				Role:            msg.Role,
				Content:         msg.Text,
				CreatedAt:       msg.Timestamp,
			})
		}
		imported++
	}

	if err := st.BulkInsert(ctx, convRows, msgRows); err != nil {
		return nil, err
	}
	if err := archive.RecomputeProjects(ctx, st, outputRoot, ov.Names); err != nil {
		return nil, err
	}
	if err := st.RecordImport(ctx, domain.ImportRun{
		ImportID:      uuid.New().String(),
		SourceID:      sourceID,
		StartedAt:     startedAt,
		CompletedAt:   float64(time.Now().Unix()),
		Conversations: imported,
	}); err != nil {
		return nil, err
	}

	projects, err := st.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	models := make([]string, 0, len(modelSet))
	for model := range modelSet {
		models = append(models, model)
	}
	sort.Strings(models)

	log.Info().
		Str("source_id", sourceID).
		Int("imported", imported).
		Int("skipped", skipped).
		Bool("incremental", opts.Incremental).
		Msg("import finished")

	return &Result{
		Conversations:   len(convRows),
		Imported:        imported,
		SkippedExisting: skipped,
		Projects:        len(projects),
		Models:          models,
		SourceID:        sourceID,
		DBPath:          st.Path(),
		OutputRoot:      outputRoot,
		AppendMode:      opts.Incremental,
	}, nil
}

// deriveTitle prefers the export title, then the first user message, then a
// short-id placeholder.
func deriveTitle(exportTitle string, messages []domain.TranscriptMessage, convID string) string {
	if title := strings.TrimSpace(exportTitle); title != "" {
		return title
	}
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		line := strings.TrimSpace(msg.Text)
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line != "" {
			return naming.SafeName(line, naming.MaxFolderTitle)
		}
	}
	return "Untitled " + naming.ShortID(convID)
}

func moveTarget(moves map[string]string, convUID, convID string) string {
	if target := moves[convUID]; target != "" {
		return target
	}
	return moves[convID]
}

// removeOldFolder deletes the folder a conversation previously occupied when
// the new placement differs, refusing anything outside the archive root.
func removeOldFolder(outputRoot, oldFolder, newFolder string) {
	if oldFolder == "" || oldFolder == newFolder {
		return
	}
	oldPath := filepath.Join(outputRoot, filepath.FromSlash(oldFolder))
	rel, err := filepath.Rel(outputRoot, oldPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return
	}
	if err := os.RemoveAll(oldPath); err != nil {
		log.Debug().Err(err).Str("folder", oldFolder).Msg("stale folder removal failed")
	}
}

func firstUserSnippet(messages []domain.TranscriptMessage) string {
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		runes := []rune(msg.Text)
		if len(runes) > snippetLength {
			runes = runes[:snippetLength]
		}
		return string(runes)
	}
	return ""
}
