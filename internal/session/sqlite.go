package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// schema is the full current schema. Migrations only upgrade databases
// created before a change.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    agent TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    tool_method TEXT NOT NULL,
    summary TEXT,
    cwd TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    rounds INTEGER DEFAULT 0,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0,
    trace_digest TEXT,
    trace BLOB,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_updated_at ON runs(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// schemaVersion is the current schema version. Increment when adding a
// migration.
const schemaVersion = 2

type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

var migrations = []migration{
	{
		version:     1,
		description: "add cwd and summary columns",
		up: func(db *sql.DB) error {
			for _, stmt := range []string{
				"ALTER TABLE runs ADD COLUMN cwd TEXT",
				"ALTER TABLE runs ADD COLUMN summary TEXT",
			} {
				if _, err := db.Exec(stmt); err != nil && !isDuplicateColumnError(err) {
					return err
				}
			}
			return nil
		},
	},
	{
		version:     2,
		description: "add status index",
		up: func(db *sql.DB) error {
			_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`)
			return err
		},
	},
}

// NewSQLiteStore opens (creating if needed) the run database.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		if dbPath, err = GetDBPath(); err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg}
	if err := store.cleanup(context.Background()); err != nil {
		slog.Warn("run history cleanup failed", "error", err)
	}
	return store, nil
}

// initSchema creates the schema and runs pending migrations. When the
// version is current it costs a single query.
func initSchema(db *sql.DB) error {
	var current int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&current)
	if err == nil && current >= schemaVersion {
		return nil
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && !strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("get current version: %w", err)
		}
		// A fresh database already has the full schema.
		current = schemaVersion
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", current); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			return fmt.Errorf("update version to %d: %w", m.version, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// cleanup keeps at most MaxCount runs.
func (s *SQLiteStore) cleanup(ctx context.Context) error {
	if s.cfg.MaxCount <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id IN (
			SELECT id FROM runs
			ORDER BY updated_at DESC
			LIMIT -1 OFFSET ?
		)`, s.cfg.MaxCount)
	if err != nil {
		return fmt.Errorf("enforce max count: %w", err)
	}
	return nil
}

// Create inserts a new active run.
func (s *SQLiteStore) Create(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, agent, provider, model, tool_method, summary, cwd, status,
		                  rounds, input_tokens, output_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullString(r.Agent), r.Provider, r.Model, r.ToolMethod, nullString(r.Summary), nullString(r.CWD),
		string(r.Status), r.Rounds, r.InputTokens, r.OutputTokens, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return s.cleanup(ctx)
}

// Finish stores the outcome and trace of a run.
func (s *SQLiteStore) Finish(ctx context.Context, id string, status RunStatus, m Metrics, trace []byte, digest string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, rounds = ?, input_tokens = ?, output_tokens = ?,
		                trace = ?, trace_digest = ?, updated_at = ?
		WHERE id = ?`,
		string(status), m.Rounds, m.InputTokens, m.OutputTokens, trace, nullString(digest), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const runColumns = `id, agent, provider, model, tool_method, summary, cwd, status,
	rounds, input_tokens, output_tokens, trace_digest, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var agent, summary, cwd, digest sql.NullString
	var status string
	err := row.Scan(&r.ID, &agent, &r.Provider, &r.Model, &r.ToolMethod, &summary, &cwd, &status,
		&r.Rounds, &r.InputTokens, &r.OutputTokens, &digest, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Agent = agent.String
	r.Summary = summary.String
	r.CWD = cwd.String
	r.TraceDigest = digest.String
	r.Status = RunStatus(status)
	return &r, nil
}

// Get returns a run by ID, or by unique ID prefix.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? || '%' LIMIT 2`, id, id)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.ID == id {
			return r, nil
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return found[0], nil
	}
	return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
}

// List returns runs, newest first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if opts.Agent != "" {
		query += " AND agent = ?"
		args = append(args, opts.Agent)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY created_at DESC, id"

	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// LoadTrace returns the stored trace artifact of a run.
func (s *SQLiteStore) LoadTrace(ctx context.Context, id string) ([]byte, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var trace []byte
	if err := s.db.QueryRowContext(ctx, `SELECT trace FROM runs WHERE id = ?`, r.ID).Scan(&trace); err != nil {
		return nil, fmt.Errorf("load trace: %w", err)
	}
	if len(trace) == 0 {
		return nil, fmt.Errorf("run %s: %w", r.ID, ErrNoTrace)
	}
	return trace, nil
}

// Delete removes a run.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
