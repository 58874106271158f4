package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBPath returns ~/.ada/jobs.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".ada")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "jobs.db"), nil
}

// SQLiteStore keeps jobs in a local SQLite database.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s := &SQLiteStore{conn: conn, path: path}
	if err := s.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.conn.Close() }

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    task_id     TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    backend     TEXT NOT NULL,
    repo        TEXT NOT NULL,
    status      TEXT NOT NULL CHECK(status IN ('PENDING','RUNNING','SUCCESS','FAILED')),
    error       TEXT NOT NULL DEFAULT '',
    task_json   TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL,
    started_at  TEXT,
    finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_task ON jobs(task_id, created_at DESC);

CREATE TABLE IF NOT EXISTS job_logs (
    id     INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES jobs(id),
    at     TEXT NOT NULL,
    line   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id, id);
`

// Migrate applies the schema once.
func (s *SQLiteStore) Migrate() error {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sqliteSchemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// timeLayout is fixed width so stored timestamps sort as text. Values are
// always UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func (s *SQLiteStore) Create(ctx context.Context, j *Job) error {
	taskJSON := string(j.Task)
	if taskJSON == "" {
		taskJSON = "{}"
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO jobs (id, task_id, title, backend, repo, status, error, task_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.TaskID, j.Title, j.Backend, j.Repo, string(j.Status), j.Error, taskJSON,
		j.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status Status, errMsg string) error {
	now := time.Now().UTC().Format(timeLayout)
	query := `UPDATE jobs SET status = ?, error = ? WHERE id = ?`
	args := []any{string(status), errMsg, id}
	switch {
	case status == StatusRunning:
		query = `UPDATE jobs SET status = ?, error = ?, started_at = ? WHERE id = ?`
		args = []any{string(status), errMsg, now, id}
	case status.Terminal():
		query = `UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE id = ?`
		args = []any{string(status), errMsg, now, id}
	}
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return nil
}

const sqliteColumns = `id, task_id, title, backend, repo, status, error, task_json, created_at, started_at, finished_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOpts) ([]Job, error) {
	var where []string
	var args []any
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, opts.TaskID)
	}
	query := `SELECT ` + sqliteColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) AppendLog(ctx context.Context, id, line string) error {
	var exists int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, at, line) VALUES (?, ?, ?)`,
		id, time.Now().UTC().Format(timeLayout), line)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Logs(ctx context.Context, id string) ([]LogLine, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT at, line FROM job_logs WHERE job_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("read job log: %w", err)
	}
	defer rows.Close()

	var lines []LogLine
	for rows.Next() {
		var at string
		var l LogLine
		if err := rows.Scan(&at, &l.Line); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		if l.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parse log time: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scanner) (*Job, error) {
	var (
		j                 Job
		status, taskJSON  string
		created           string
		started, finished sql.NullString
	)
	if err := row.Scan(&j.ID, &j.TaskID, &j.Title, &j.Backend, &j.Repo, &status, &j.Error,
		&taskJSON, &created, &started, &finished); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.Task = []byte(taskJSON)

	var err error
	if j.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if j.StartedAt, err = parseNullTime(started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if j.FinishedAt, err = parseNullTime(finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	return &j, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
