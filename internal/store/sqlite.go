package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/pkg/models"
)

// DB is the SQLite-backed Store. Elements are persisted as JSON
// documents with a few extracted columns for querying.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens an SQLite store at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, `
			CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				status TEXT NOT NULL,
				assignee TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				deleted_at TEXT,
				doc TEXT NOT NULL
			)
		`},
		{2, `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`},
		{3, `CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee)`},
		{4, `
			CREATE TABLE IF NOT EXISTS agents (
				id TEXT PRIMARY KEY,
				role TEXT NOT NULL,
				session_status TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				deleted_at TEXT,
				doc TEXT NOT NULL
			)
		`},
		{5, `CREATE INDEX IF NOT EXISTS idx_agents_role ON agents(role)`},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := db.conn.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := db.conn.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

const timeLayout = time.RFC3339Nano

// GetTask implements TaskStore.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT doc FROM tasks WHERE id = ? AND deleted_at IS NULL", id)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindExternal, err, "get task %s", id)
	}
	t := &models.Task{}
	if err := json.Unmarshal([]byte(doc), t); err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "decode task %s", id)
	}
	return t, nil
}

// ListTasks implements TaskStore.
func (db *DB) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	query := "SELECT doc FROM tasks WHERE deleted_at IS NULL"
	var args []any

	if len(filter.Status) > 0 {
		query += " AND status IN (?" + strings.Repeat(",?", len(filter.Status)-1) + ")"
		for _, s := range filter.Status {
			args = append(args, string(s))
		}
	}
	if filter.Assignee != "" {
		query += " AND assignee = ?"
		args = append(args, filter.Assignee)
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "list tasks")
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, errs.Wrap(errs.KindExternal, err, "scan task")
		}
		t := &models.Task{}
		if err := json.Unmarshal([]byte(doc), t); err != nil {
			return nil, errs.Wrap(errs.KindExternal, err, "decode task")
		}
		// Tags, merge status and assignee presence are evaluated in
		// process; they live inside the document.
		if !matchTask(t, filter) {
			continue
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "list tasks")
	}
	start, end := page(len(out), filter.Limit, filter.Offset)
	return out[start:end], nil
}

// CreateTask implements TaskStore.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	if t.ID == "" {
		return nil, errs.New(errs.KindValidation, "task id is required")
	}
	stored := cloneTask(t)
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Version = 1

	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "encode task %s", t.ID)
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO tasks (id, status, assignee, created_at, updated_at, doc) VALUES (?, ?, ?, ?, ?, ?)",
		stored.ID, string(stored.Status), stored.Assignee,
		now.Format(timeLayout), now.Format(timeLayout), string(doc))
	if err != nil {
		return nil, errs.Wrap(errs.KindConflict, err, "create task %s", t.ID)
	}
	return stored, nil
}

// UpdateTask implements TaskStore.
func (db *DB) UpdateTask(ctx context.Context, t *models.Task, opts UpdateOptions) (*models.Task, error) {
	current, err := db.GetTask(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errs.New(errs.KindNotFound, "task %s not found", t.ID)
	}
	if !opts.ExpectedUpdatedAt.IsZero() && !opts.ExpectedUpdatedAt.Equal(current.UpdatedAt) {
		return nil, errs.Wrap(errs.KindConflict, ErrVersionMismatch,
			"task %s: expected %s, have %s", t.ID,
			opts.ExpectedUpdatedAt.Format(timeLayout),
			current.UpdatedAt.Format(timeLayout))
	}

	stored := cloneTask(t)
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = touch(current.UpdatedAt)
	stored.Version = current.Version + 1

	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "encode task %s", t.ID)
	}

	// The updated_at guard re-checks the version token at write time
	// so two racing updates cannot both land.
	res, err := db.conn.ExecContext(ctx,
		"UPDATE tasks SET status = ?, assignee = ?, updated_at = ?, doc = ? WHERE id = ? AND updated_at = ? AND deleted_at IS NULL",
		string(stored.Status), stored.Assignee, stored.UpdatedAt.Format(timeLayout),
		string(doc), stored.ID, current.UpdatedAt.Format(timeLayout))
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "update task %s", t.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "update task %s", t.ID)
	}
	if affected == 0 {
		return nil, errs.Wrap(errs.KindConflict, ErrVersionMismatch, "task %s: concurrent write", t.ID)
	}
	return stored, nil
}

// DeleteTask implements TaskStore.
func (db *DB) DeleteTask(ctx context.Context, id string, opts DeleteOptions) error {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		"UPDATE tasks SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		now.Format(timeLayout), id)
	if err != nil {
		return errs.Wrap(errs.KindExternal, err, "delete task %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindExternal, err, "delete task %s", id)
	}
	if affected == 0 {
		return errs.New(errs.KindNotFound, "task %s not found", id)
	}
	return nil
}

// GetAgent implements AgentStore.
func (db *DB) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT doc FROM agents WHERE id = ? AND deleted_at IS NULL", id)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindExternal, err, "get agent %s", id)
	}
	a := &models.Agent{}
	if err := json.Unmarshal([]byte(doc), a); err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "decode agent %s", id)
	}
	return a, nil
}

// ListAgents implements AgentStore.
func (db *DB) ListAgents(ctx context.Context, filter AgentFilter) ([]*models.Agent, error) {
	query := "SELECT doc FROM agents WHERE deleted_at IS NULL"
	var args []any
	if len(filter.Role) > 0 {
		query += " AND role IN (?" + strings.Repeat(",?", len(filter.Role)-1) + ")"
		for _, r := range filter.Role {
			args = append(args, string(r))
		}
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "list agents")
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, errs.Wrap(errs.KindExternal, err, "scan agent")
		}
		a := &models.Agent{}
		if err := json.Unmarshal([]byte(doc), a); err != nil {
			return nil, errs.Wrap(errs.KindExternal, err, "decode agent")
		}
		if !matchAgent(a, filter) {
			continue
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "list agents")
	}
	start, end := page(len(out), filter.Limit, filter.Offset)
	return out[start:end], nil
}

// CreateAgent implements AgentStore.
func (db *DB) CreateAgent(ctx context.Context, a *models.Agent) (*models.Agent, error) {
	if a.ID == "" {
		return nil, errs.New(errs.KindValidation, "agent id is required")
	}
	stored := cloneAgent(a)
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Version = 1

	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "encode agent %s", a.ID)
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO agents (id, role, session_status, created_at, updated_at, doc) VALUES (?, ?, ?, ?, ?, ?)",
		stored.ID, string(stored.Role), string(stored.SessionStatus),
		now.Format(timeLayout), now.Format(timeLayout), string(doc))
	if err != nil {
		return nil, errs.Wrap(errs.KindConflict, err, "create agent %s", a.ID)
	}
	return stored, nil
}

// UpdateAgent implements AgentStore.
func (db *DB) UpdateAgent(ctx context.Context, a *models.Agent, opts UpdateOptions) (*models.Agent, error) {
	current, err := db.GetAgent(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errs.New(errs.KindNotFound, "agent %s not found", a.ID)
	}
	if !opts.ExpectedUpdatedAt.IsZero() && !opts.ExpectedUpdatedAt.Equal(current.UpdatedAt) {
		return nil, errs.Wrap(errs.KindConflict, ErrVersionMismatch,
			"agent %s: expected %s, have %s", a.ID,
			opts.ExpectedUpdatedAt.Format(timeLayout),
			current.UpdatedAt.Format(timeLayout))
	}

	stored := cloneAgent(a)
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = touch(current.UpdatedAt)
	stored.Version = current.Version + 1

	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "encode agent %s", a.ID)
	}
	res, err := db.conn.ExecContext(ctx,
		"UPDATE agents SET role = ?, session_status = ?, updated_at = ?, doc = ? WHERE id = ? AND updated_at = ? AND deleted_at IS NULL",
		string(stored.Role), string(stored.SessionStatus), stored.UpdatedAt.Format(timeLayout),
		string(doc), stored.ID, current.UpdatedAt.Format(timeLayout))
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "update agent %s", a.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "update agent %s", a.ID)
	}
	if affected == 0 {
		return nil, errs.Wrap(errs.KindConflict, ErrVersionMismatch, "agent %s: concurrent write", a.ID)
	}
	return stored, nil
}

// DeleteAgent implements AgentStore.
func (db *DB) DeleteAgent(ctx context.Context, id string, opts DeleteOptions) error {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		"UPDATE agents SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		now.Format(timeLayout), id)
	if err != nil {
		return errs.Wrap(errs.KindExternal, err, "delete agent %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindExternal, err, "delete agent %s", id)
	}
	if affected == 0 {
		return errs.New(errs.KindNotFound, "agent %s not found", id)
	}
	return nil
}

// Compile-time verification that DB implements Store.
var _ Store = (*DB)(nil)
