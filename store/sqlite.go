// Package store implements the relational index over the archive using
// SQLite, including the full-text index mirroring message content.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"chatgpt-archive/domain"
)

// SQLiteStore is the relational index. One instance holds one persistent
// connection reused across all serving operations.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the index at path. With rebuild, or when the file
// carries a legacy schema missing the identity columns, the schema is dropped
// and recreated instead of migrated.
func Open(path string, rebuild bool) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database dir")
		}
	}
	existed := false
	if _, err := os.Stat(path); err == nil {
		existed = true
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// WAL may be unavailable on some filesystems; not fatal.
	_, _ = db.Exec("PRAGMA journal_mode=WAL")

	s := &SQLiteStore{db: db, path: path}
	needsReset := rebuild || !existed
	if !needsReset && !s.schemaCurrent() {
		needsReset = true
	}
	if needsReset {
		if err := s.resetSchema(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) schemaCurrent() bool {
	rows, err := s.db.Query("PRAGMA table_info(conversations)")
	if err != nil {
		return false
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return false
		}
		cols[name] = true
	}
	return cols["conversation_uid"] && cols["source_id"]
}

func (s *SQLiteStore) resetSchema() error {
	statements := []string{
		`DROP TABLE IF EXISTS conversations`,
		`DROP TABLE IF EXISTS messages`,
		`DROP TABLE IF EXISTS projects`,
		`DROP TABLE IF EXISTS messages_fts`,
		`DROP TABLE IF EXISTS imports`,
		`CREATE TABLE conversations (
			conversation_uid TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			conversation_id TEXT,
			project_id TEXT,
			project_uid TEXT,
			title TEXT,
			created_at REAL,
			updated_at REAL,
			snippet TEXT,
			folder TEXT,
			model TEXT
		)`,
		`CREATE TABLE messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_uid TEXT,
			source_id TEXT,
			role TEXT,
			content TEXT,
			created_at REAL
		)`,
		`CREATE TABLE projects (
			project_uid TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			human_name TEXT,
			conversation_count INTEGER,
			first_message_time REAL,
			last_message_time REAL
		)`,
		`CREATE VIRTUAL TABLE messages_fts USING fts5(
			content,
			conversation_uid UNINDEXED,
			role UNINDEXED,
			source_id UNINDEXED
		)`,
		`CREATE TABLE imports (
			import_id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			started_at REAL,
			completed_at REAL,
			conversations INTEGER
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "schema reset failed: %s", stmt)
		}
	}
	return nil
}

// ExistingConversations returns the incremental-import comparison slice for
// every indexed conversation of one source.
func (s *SQLiteStore) ExistingConversations(ctx context.Context, sourceID string) (map[string]domain.ExistingConversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_uid, updated_at, folder FROM conversations WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, errors.Wrap(err, "query existing conversations")
	}
	defer rows.Close()

	existing := map[string]domain.ExistingConversation{}
	for rows.Next() {
		var uid string
		var updatedAt sql.NullFloat64
		var folder sql.NullString
		if err := rows.Scan(&uid, &updatedAt, &folder); err != nil {
			return nil, errors.Wrap(err, "scan existing conversation")
		}
		existing[uid] = domain.ExistingConversation{
			UpdatedAt: updatedAt.Float64,
			Folder:    folder.String,
		}
	}
	return existing, rows.Err()
}

// DeleteConversationRows removes a conversation's row and its message and
// full-text rows as one transaction-scoped pair.
func (s *SQLiteStore) DeleteConversationRows(ctx context.Context, conversationUID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM messages WHERE conversation_uid = ?`,
		`DELETE FROM messages_fts WHERE conversation_uid = ?`,
		`DELETE FROM conversations WHERE conversation_uid = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, conversationUID); err != nil {
			return errors.Wrap(err, "delete conversation rows")
		}
	}
	return tx.Commit()
}

// BulkInsert inserts the staged conversation and message rows of an import
// run in one transaction, mirroring each message into the full-text index.
func (s *SQLiteStore) BulkInsert(ctx context.Context, conversations []domain.Conversation, messages []domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin bulk insert")
	}
	defer tx.Rollback()

	convStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO conversations (conversation_uid, source_id, conversation_id, project_id, project_uid, title, created_at, updated_at, snippet, folder, model)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare conversation insert")
	}
	defer convStmt.Close()
	for _, c := range conversations {
		if _, err := convStmt.ExecContext(ctx,
			c.ConversationUID, c.SourceID, c.ConversationID, c.ProjectID, c.ProjectUID,
			c.Title, c.CreatedAt, c.UpdatedAt, c.Snippet, c.Folder, c.Model); err != nil {
			return errors.Wrapf(err, "insert conversation %s", c.ConversationUID)
		}
	}

	msgStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (conversation_uid, source_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare message insert")
	}
	defer msgStmt.Close()
	ftsStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages_fts (content, conversation_uid, role, source_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare fts insert")
	}
	defer ftsStmt.Close()
	for _, m := range messages {
		if _, err := msgStmt.ExecContext(ctx, m.ConversationUID, m.SourceID, m.Role, m.Content, m.CreatedAt); err != nil {
			return errors.Wrap(err, "insert message")
		}
		if _, err := ftsStmt.ExecContext(ctx, m.Content, m.ConversationUID, m.Role, m.SourceID); err != nil {
			return errors.Wrap(err, "insert fts row")
		}
	}
	return tx.Commit()
}

// RecordImport records one completed import run.
func (s *SQLiteStore) RecordImport(ctx context.Context, run domain.ImportRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imports (import_id, source_id, started_at, completed_at, conversations) VALUES (?, ?, ?, ?, ?)`,
		run.ImportID, run.SourceID, run.StartedAt, run.CompletedAt, run.Conversations)
	return errors.Wrap(err, "record import")
}

// ProjectAggregates derives project groupings from the current conversation
// rows. Aggregates are never authoritative state; they are recomputed on
// demand.
func (s *SQLiteStore) ProjectAggregates(ctx context.Context) ([]domain.ProjectAggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, project_id, COUNT(*), MIN(created_at), MAX(updated_at)
		 FROM conversations GROUP BY source_id, project_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query project aggregates")
	}
	defer rows.Close()

	var aggregates []domain.ProjectAggregate
	for rows.Next() {
		var agg domain.ProjectAggregate
		var first, last sql.NullFloat64
		if err := rows.Scan(&agg.SourceID, &agg.ProjectID, &agg.Count, &first, &last); err != nil {
			return nil, errors.Wrap(err, "scan project aggregate")
		}
		agg.FirstMessageTime = first.Float64
		agg.LastMessageTime = last.Float64
		aggregates = append(aggregates, agg)
	}
	return aggregates, rows.Err()
}

// ReplaceProjects rewrites the projects table from scratch.
func (s *SQLiteStore) ReplaceProjects(ctx context.Context, projects []domain.Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin project replace")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM projects`); err != nil {
		return errors.Wrap(err, "clear projects")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO projects (project_uid, source_id, project_id, human_name, conversation_count, first_message_time, last_message_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare project insert")
	}
	defer stmt.Close()
	for _, p := range projects {
		if _, err := stmt.ExecContext(ctx,
			p.ProjectUID, p.SourceID, p.ProjectID, p.HumanName,
			p.ConversationCount, p.FirstMessageTime, p.LastMessageTime); err != nil {
			return errors.Wrapf(err, "insert project %s", p.ProjectUID)
		}
	}
	return tx.Commit()
}

// ListProjects lists project aggregate rows.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_uid, source_id, project_id, human_name, conversation_count, first_message_time, last_message_time
		 FROM projects ORDER BY source_id, human_name`)
	if err != nil {
		return nil, errors.Wrap(err, "query projects")
	}
	defer rows.Close()
	return scanProjects(rows)
}

// GetProject fetches one project aggregate row.
func (s *SQLiteStore) GetProject(ctx context.Context, projectUID string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_uid, source_id, project_id, human_name, conversation_count, first_message_time, last_message_time
		 FROM projects WHERE project_uid = ?`, projectUID)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query project")
	}
	return p, nil
}

// UpdateProjectName updates the cached display name on an aggregate row.
func (s *SQLiteStore) UpdateProjectName(ctx context.Context, projectUID, humanName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET human_name = ? WHERE project_uid = ?`, humanName, projectUID)
	return errors.Wrap(err, "update project name")
}

// ListModels lists the distinct model labels present in the index.
func (s *SQLiteStore) ListModels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT model FROM conversations WHERE model IS NOT NULL AND model != '' ORDER BY model`)
	if err != nil {
		return nil, errors.Wrap(err, "query models")
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var model string
		if err := rows.Scan(&model); err != nil {
			return nil, errors.Wrap(err, "scan model")
		}
		models = append(models, model)
	}
	return models, rows.Err()
}

// Search selects conversations matching the filter, newest-updated first.
// A non-nil empty ProjectUIDs set short-circuits to no results.
func (s *SQLiteStore) Search(ctx context.Context, f domain.SearchFilter) ([]domain.Conversation, error) {
	if f.ProjectUIDs != nil && len(f.ProjectUIDs) == 0 {
		return nil, nil
	}

	var clauses []string
	var params []any
	join := ""

	useFTS := f.Query != "" || f.Role != ""
	if useFTS {
		join = "JOIN messages_fts f ON c.conversation_uid = f.conversation_uid"
	}
	if f.ProjectID != "" {
		if strings.Contains(f.ProjectID, ":") {
			clauses = append(clauses, "c.project_uid = ?")
		} else {
			clauses = append(clauses, "c.project_id = ?")
		}
		params = append(params, f.ProjectID)
	}
	if len(f.ProjectUIDs) > 0 {
		placeholders := strings.Repeat("?,", len(f.ProjectUIDs))
		clauses = append(clauses, fmt.Sprintf("c.project_uid IN (%s)", placeholders[:len(placeholders)-1]))
		for _, uid := range f.ProjectUIDs {
			params = append(params, uid)
		}
	}
	if f.SourceID != "" {
		clauses = append(clauses, "c.source_id = ?")
		params = append(params, f.SourceID)
	}

	switch strings.ToLower(f.Model) {
	case "":
	case "research":
		clauses = append(clauses, "c.model LIKE 'research%'")
	case "chat":
		clauses = append(clauses, "(c.model IS NULL OR c.model NOT LIKE 'research%')")
	default:
		clauses = append(clauses, "c.model = ?")
		params = append(params, f.Model)
	}

	if f.DateFrom != 0 {
		clauses = append(clauses, "c.updated_at >= ?")
		params = append(params, f.DateFrom)
	}
	if f.DateTo != 0 {
		clauses = append(clauses, "c.updated_at <= ?")
		params = append(params, f.DateTo)
	}
	if f.Role != "" {
		clauses = append(clauses, "f.role = ?")
		params = append(params, f.Role)
	}
	if f.Query != "" {
		clauses = append(clauses, "messages_fts MATCH ?")
		params = append(params, f.Query)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 400
	}
	query := fmt.Sprintf(
		`SELECT DISTINCT c.conversation_uid, c.source_id, c.conversation_id, c.project_id, c.project_uid,
			c.title, c.created_at, c.updated_at, c.snippet, c.folder, c.model
		 FROM conversations c %s %s ORDER BY c.updated_at DESC LIMIT %d`, join, where, limit)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, errors.Wrap(err, "search conversations")
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *c)
	}
	return conversations, rows.Err()
}

const conversationColumns = `conversation_uid, source_id, conversation_id, project_id, project_uid,
	title, created_at, updated_at, snippet, folder, model`

// GetConversation fetches one conversation by composite uid, or leniently by
// bare legacy id (newest match). Returns nil when no row matches.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE conversation_uid = ?`, id)
	c, err := scanConversation(row)
	if err == nil {
		return c, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	if strings.Contains(id, ":") {
		return nil, nil
	}
	row = s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE conversation_id = ? ORDER BY updated_at DESC LIMIT 1`, id)
	c, err = scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateConversationProject rewrites a conversation's project fields and
// folder after a move.
func (s *SQLiteStore) UpdateConversationProject(ctx context.Context, conversationUID, projectID, projectUID, folder string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET project_id = ?, project_uid = ?, folder = ? WHERE conversation_uid = ?`,
		projectID, projectUID, folder, conversationUID)
	return errors.Wrap(err, "update conversation project")
}

// DeleteSource removes every row belonging to one source/account.
func (s *SQLiteStore) DeleteSource(ctx context.Context, sourceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin source delete")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM messages WHERE source_id = ?`,
		`DELETE FROM messages_fts WHERE source_id = ?`,
		`DELETE FROM conversations WHERE source_id = ?`,
		`DELETE FROM projects WHERE source_id = ?`,
		`DELETE FROM imports WHERE source_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, sourceID); err != nil {
			return errors.Wrap(err, "delete source rows")
		}
	}
	return tx.Commit()
}

// ExportRows joins conversations with their messages for the flat-transcript
// export, ordered by account, project, conversation and message time.
func (s *SQLiteStore) ExportRows(ctx context.Context, f domain.SearchFilter) ([]domain.ExportRow, error) {
	if f.ProjectUIDs != nil && len(f.ProjectUIDs) == 0 {
		return nil, nil
	}

	var clauses []string
	var params []any
	if f.ProjectID != "" {
		if strings.Contains(f.ProjectID, ":") {
			clauses = append(clauses, "c.project_uid = ?")
		} else {
			clauses = append(clauses, "c.project_id = ?")
		}
		params = append(params, f.ProjectID)
	}
	if len(f.ProjectUIDs) > 0 {
		placeholders := strings.Repeat("?,", len(f.ProjectUIDs))
		clauses = append(clauses, fmt.Sprintf("c.project_uid IN (%s)", placeholders[:len(placeholders)-1]))
		for _, uid := range f.ProjectUIDs {
			params = append(params, uid)
		}
	}
	if f.SourceID != "" {
		clauses = append(clauses, "c.source_id = ?")
		params = append(params, f.SourceID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT c.source_id, c.project_id, c.project_uid, c.title, c.conversation_uid, c.created_at, c.updated_at,
			m.role, m.content, m.created_at
		 FROM conversations c
		 JOIN messages m ON c.conversation_uid = m.conversation_uid
		 %s
		 ORDER BY c.source_id, c.project_uid, c.updated_at, c.conversation_uid, m.created_at`, where), params...)
	if err != nil {
		return nil, errors.Wrap(err, "query export rows")
	}
	defer rows.Close()

	var out []domain.ExportRow
	for rows.Next() {
		var r domain.ExportRow
		var title, role, content sql.NullString
		var created, updated, msgCreated sql.NullFloat64
		if err := rows.Scan(&r.SourceID, &r.ProjectID, &r.ProjectUID, &title, &r.ConversationUID,
			&created, &updated, &role, &content, &msgCreated); err != nil {
			return nil, errors.Wrap(err, "scan export row")
		}
		r.Title = title.String
		r.CreatedAt = created.Float64
		r.UpdatedAt = updated.Float64
		r.Role = role.String
		r.Content = content.String
		r.MessageCreated = msgCreated.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var c domain.Conversation
	var conversationID, projectID, projectUID, title, snippet, folder, model sql.NullString
	var createdAt, updatedAt sql.NullFloat64
	err := row.Scan(&c.ConversationUID, &c.SourceID, &conversationID, &projectID, &projectUID,
		&title, &createdAt, &updatedAt, &snippet, &folder, &model)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan conversation")
	}
	c.ConversationID = conversationID.String
	c.ProjectID = projectID.String
	c.ProjectUID = projectUID.String
	c.Title = title.String
	c.CreatedAt = createdAt.Float64
	c.UpdatedAt = updatedAt.Float64
	c.Snippet = snippet.String
	c.Folder = folder.String
	c.Model = model.String
	return &c, nil
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	var humanName sql.NullString
	var first, last sql.NullFloat64
	err := row.Scan(&p.ProjectUID, &p.SourceID, &p.ProjectID, &humanName,
		&p.ConversationCount, &first, &last)
	if err != nil {
		return nil, err
	}
	p.HumanName = humanName.String
	p.FirstMessageTime = first.Float64
	p.LastMessageTime = last.Float64
	return &p, nil
}

func scanProjects(rows *sql.Rows) ([]domain.Project, error) {
	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan project")
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}
