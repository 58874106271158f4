package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps jobs in Postgres, for deployments where several
// workers share one job table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool to dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS ada_schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ada_jobs (
    id          TEXT PRIMARY KEY,
    task_id     TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    backend     TEXT NOT NULL,
    repo        TEXT NOT NULL,
    status      TEXT NOT NULL CHECK(status IN ('PENDING','RUNNING','SUCCESS','FAILED')),
    error       TEXT NOT NULL DEFAULT '',
    task_json   JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL,
    started_at  TIMESTAMPTZ,
    finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_ada_jobs_status ON ada_jobs(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ada_jobs_task ON ada_jobs(task_id, created_at DESC);

CREATE TABLE IF NOT EXISTS ada_job_logs (
    id     BIGSERIAL PRIMARY KEY,
    job_id TEXT NOT NULL REFERENCES ada_jobs(id) ON DELETE CASCADE,
    at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    line   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ada_job_logs_job ON ada_job_logs(job_id, id);
`

// Migrate applies the schema once.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, postgresSchemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ada_schema_version (version) VALUES (1) ON CONFLICT DO NOTHING`); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Create(ctx context.Context, j *Job) error {
	taskJSON := string(j.Task)
	if taskJSON == "" {
		taskJSON = "{}"
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ada_jobs (id, task_id, title, backend, repo, status, error, task_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)`,
		j.ID, j.TaskID, j.Title, j.Backend, j.Repo, string(j.Status), j.Error, taskJSON, j.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status, errMsg string) error {
	query := `UPDATE ada_jobs SET status = $1, error = $2 WHERE id = $3`
	switch {
	case status == StatusRunning:
		query = `UPDATE ada_jobs SET status = $1, error = $2, started_at = now() WHERE id = $3`
	case status.Terminal():
		query = `UPDATE ada_jobs SET status = $1, error = $2, finished_at = now() WHERE id = $3`
	}
	tag, err := s.pool.Exec(ctx, query, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return nil
}

const postgresColumns = `id, task_id, title, backend, repo, status, error, task_json::text, created_at, started_at, finished_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresColumns+` FROM ada_jobs WHERE id = $1`, id)
	j, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOpts) ([]Job, error) {
	var where []string
	var args []any
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.TaskID != "" {
		args = append(args, opts.TaskID)
		where = append(where, fmt.Sprintf("task_id = $%d", len(args)))
	}
	query := `SELECT ` + postgresColumns + ` FROM ada_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanPostgresJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) AppendLog(ctx context.Context, id, line string) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO ada_job_logs (job_id, line) SELECT id, $2 FROM ada_jobs WHERE id = $1`, id, line)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return nil
}

func (s *PostgresStore) Logs(ctx context.Context, id string) ([]LogLine, error) {
	rows, err := s.pool.Query(ctx, `SELECT at, line FROM ada_job_logs WHERE job_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("read job log: %w", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LogLine, error) {
		var l LogLine
		err := row.Scan(&l.At, &l.Line)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan job log: %w", err)
	}
	return lines, nil
}

func scanPostgresJob(row pgx.Row) (*Job, error) {
	var (
		j                 Job
		status, taskJSON  string
		started, finished *time.Time
	)
	if err := row.Scan(&j.ID, &j.TaskID, &j.Title, &j.Backend, &j.Repo, &status, &j.Error,
		&taskJSON, &j.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.Task = []byte(taskJSON)
	j.StartedAt = started
	j.FinishedAt = finished
	return &j, nil
}
