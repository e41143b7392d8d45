package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"chatgpt-archive/artifact"
	"chatgpt-archive/domain"
	"chatgpt-archive/naming"
	"chatgpt-archive/overrides"
)

// MoveResult reports the outcome of MoveConversation.
type MoveResult struct {
	ConversationUID string `json:"conversation_uid"`
	ProjectUID      string `json:"project_uid"`
	Folder          string `json:"folder"`
	Moved           bool   `json:"moved"`
}

// RenameProject sets a project's display name. The name is written to the
// override store first so it survives full re-imports, then the aggregate row
// and its sidecar file are updated. The target must have at least one
// conversation; aggregates only exist for populated projects.
func (e *Engine) RenameProject(ctx context.Context, project, sourceHint, humanName string) (*domain.Project, error) {
	humanName = strings.TrimSpace(humanName)
	if humanName == "" {
		return nil, errors.New("project name must not be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	sourceID, projectID := naming.SplitProjectUID(project)
	// An explicit account hint wins, even over the uid's own account.
	if sourceHint != "" {
		sourceID = sourceHint
	}
	uid := naming.MakeProjectUID(sourceID, projectID)

	row, err := e.store.GetProject(ctx, uid)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.Wrapf(ErrNotFound, "project %s", uid)
	}

	if err := e.overrides.Update(func(o *overrides.Overrides) {
		o.Names[uid] = humanName
	}); err != nil {
		return nil, err
	}
	if err := e.store.UpdateProjectName(ctx, uid, humanName); err != nil {
		return nil, err
	}
	row.HumanName = humanName
	if err := WriteProjectMeta(e.root, *row); err != nil {
		return nil, err
	}
	log.Info().Str("project_uid", uid).Str("name", humanName).Msg("project renamed")
	return row, nil
}

// MoveConversation reassigns a conversation to another project in the same
// account. The move is recorded as an override before anything else changes,
// then the folder is relocated, the index row updated, the on-disk record
// patched, and project aggregates recomputed. Moving a conversation to the
// project it is already in is a no-op and records nothing.
func (e *Engine) MoveConversation(ctx context.Context, conversationID, targetProject, targetSourceHint string) (*MoveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	row, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.Wrap(ErrNotFound, "conversation")
	}

	targetSource, targetProjectID := naming.SplitProjectUID(targetProject)
	if !strings.Contains(targetProject, ":") {
		if targetSourceHint != "" {
			targetSource = targetSourceHint
		} else {
			targetSource = row.SourceID
		}
	}
	if targetSource != row.SourceID {
		return nil, errors.Wrapf(ErrCrossAccountMove, "%s -> %s", row.SourceID, targetSource)
	}
	targetUID := naming.MakeProjectUID(targetSource, targetProjectID)

	if row.ProjectUID == targetUID {
		return &MoveResult{
			ConversationUID: row.ConversationUID,
			ProjectUID:      targetUID,
			Folder:          row.Folder,
			Moved:           false,
		}, nil
	}

	// Override first: a crash after this point is repaired by the next
	// import run, which replays moves before placing conversations.
	if err := e.overrides.Update(func(o *overrides.Overrides) {
		o.Moves[row.ConversationUID] = targetUID
	}); err != nil {
		return nil, err
	}

	newFolder, err := e.relocateFolder(row, targetSource, targetProjectID)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateConversationProject(ctx, row.ConversationUID, targetProjectID, targetUID, newFolder); err != nil {
		return nil, err
	}
	e.patchRecordProject(newFolder, targetProjectID, targetUID)
	if err := e.recomputeProjects(ctx); err != nil {
		return nil, err
	}
	log.Info().
		Str("conversation_uid", row.ConversationUID).
		Str("project_uid", targetUID).
		Msg("conversation moved")
	return &MoveResult{
		ConversationUID: row.ConversationUID,
		ProjectUID:      targetUID,
		Folder:          newFolder,
		Moved:           true,
	}, nil
}

// relocateFolder moves the conversation directory under its new project and
// returns the new relative folder. A name collision in the target project is
// resolved with a short-uid suffix.
func (e *Engine) relocateFolder(row *domain.Conversation, targetSource, targetProjectID string) (string, error) {
	oldAbs, err := e.resolveFolder(row.Folder)
	if err != nil {
		return "", err
	}
	leaf := filepath.Base(oldAbs)
	newRel := "projects/" + targetSource + "/" + targetProjectID + "/" + leaf
	newAbs := filepath.Join(e.root, "projects", targetSource, targetProjectID, leaf)
	if pathExists(newAbs) && newAbs != oldAbs {
		leaf = leaf + "-" + naming.ShortID(row.ConversationUID)
		newRel = "projects/" + targetSource + "/" + targetProjectID + "/" + leaf
		newAbs = filepath.Join(e.root, "projects", targetSource, targetProjectID, leaf)
	}
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return "", errors.Wrap(err, "create target project dir")
	}
	if pathExists(oldAbs) {
		if err := os.Rename(oldAbs, newAbs); err != nil {
			return "", errors.Wrapf(err, "move %s", row.Folder)
		}
	}
	return newRel, nil
}

// patchRecordProject rewrites the project fields inside conversation.json so
// the on-disk record matches the index. Best effort; the record is rebuilt on
// the next import anyway.
func (e *Engine) patchRecordProject(folder, projectID, projectUID string) {
	recordPath := filepath.Join(e.root, filepath.FromSlash(folder), artifact.RecordFile)
	record, err := artifact.ReadRecord(recordPath)
	if err != nil {
		log.Debug().Err(err).Str("path", recordPath).Msg("record patch skipped")
		return
	}
	record.ProjectID = projectID
	record.ProjectUID = projectUID
	record.Metadata.GizmoID = projectID
	if err := artifact.WriteRecord(record, recordPath); err != nil {
		log.Debug().Err(err).Str("path", recordPath).Msg("record patch failed")
	}
}

// DeleteConversation removes a conversation's folder, index rows, and any
// pending move override, then recomputes aggregates. The conversation returns
// on the next import of its export unless it was deleted upstream too.
func (e *Engine) DeleteConversation(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	row, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if row == nil {
		return errors.Wrap(ErrNotFound, "conversation")
	}
	if err := e.overrides.Update(func(o *overrides.Overrides) {
		delete(o.Moves, row.ConversationUID)
	}); err != nil {
		return err
	}
	abs, err := e.resolveFolder(row.Folder)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return errors.Wrapf(err, "remove %s", row.Folder)
	}
	if err := e.store.DeleteConversationRows(ctx, row.ConversationUID); err != nil {
		return err
	}
	if err := e.recomputeProjects(ctx); err != nil {
		return err
	}
	log.Info().Str("conversation_uid", row.ConversationUID).Msg("conversation deleted")
	return nil
}

// Reset clears archive state. With a source id only that account's tree and
// rows are removed; without one the whole index and generated tree are
// deleted and the index recreated empty. Name overrides are kept either way
// so renames survive the next import.
func (e *Engine) Reset(ctx context.Context, sourceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sourceID != "" {
		if err := os.RemoveAll(filepath.Join(e.root, "projects", sourceID)); err != nil {
			return errors.Wrapf(err, "remove source tree %s", sourceID)
		}
		if err := e.store.DeleteSource(ctx, sourceID); err != nil {
			return err
		}
		log.Info().Str("source_id", sourceID).Msg("source reset")
		return e.recomputeProjects(ctx)
	}

	if err := e.store.Close(); err != nil {
		log.Debug().Err(err).Msg("close before reset")
	}
	dbPath := filepath.Join(e.root, IndexFile)
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %s", p)
		}
	}
	if err := os.RemoveAll(filepath.Join(e.root, "projects")); err != nil {
		return errors.Wrap(err, "remove projects tree")
	}
	log.Info().Str("root", e.root).Msg("archive reset")
	return e.reload(true)
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
