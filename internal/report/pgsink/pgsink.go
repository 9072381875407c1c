// Package pgsink mirrors run reports into a PostgreSQL database so runs of
// several machines can be queried in one place.
package pgsink

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inovacc/tfsarchive/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS tfsarchive_runs (
	run_id      TEXT PRIMARY KEY,
	project     TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	total       INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	cancelled   BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS tfsarchive_tasks (
	run_id              TEXT NOT NULL REFERENCES tfsarchive_runs (run_id) ON DELETE CASCADE,
	repo_name           TEXT NOT NULL,
	repo_id             TEXT NOT NULL,
	remote_url          TEXT NOT NULL,
	status              TEXT NOT NULL,
	stage_reached       TEXT NOT NULL,
	failed_stage        TEXT NOT NULL DEFAULT '',
	skip_reason         TEXT NOT NULL DEFAULT '',
	artifact_path       TEXT NOT NULL DEFAULT '',
	artifact_size_bytes BIGINT NOT NULL DEFAULT 0,
	sha256              TEXT NOT NULL DEFAULT '',
	error               TEXT NOT NULL DEFAULT '',
	duration_ms         BIGINT NOT NULL DEFAULT 0,
	finished_at         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, repo_name)
);
`

// Sink writes task records and the run summary to PostgreSQL.
type Sink struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	runID   string
}

// Open connects to dsn, creates the tables when missing and registers the run.
func Open(ctx context.Context, dsn, runID, project string, started time.Time) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot create db pool for %s: %w", RedactDSN(dsn), err)
	}

	s := &Sink{pool: pool, timeout: 5 * time.Second, runID: runID}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := pool.Ping(tctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot ping database %s: %w", RedactDSN(dsn), err)
	}

	if _, err := pool.Exec(tctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating report tables: %w", err)
	}

	_, err = pool.Exec(tctx,
		`INSERT INTO tfsarchive_runs (run_id, project, started_at) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id) DO NOTHING`,
		runID, project, started,
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("registering run: %w", err)
	}

	return s, nil
}

func (s *Sink) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Sink) Write(rec model.TaskRecord) error {
	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	_, err := s.pool.Exec(ctx, `
	INSERT INTO tfsarchive_tasks (run_id, repo_name, repo_id, remote_url, status, stage_reached, failed_stage,
		skip_reason, artifact_path, artifact_size_bytes, sha256, error, duration_ms, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (run_id, repo_name) DO NOTHING
	`,
		s.runID, rec.RepoName, rec.RepoID, rec.RemoteURL, rec.Status, rec.StageReached, rec.FailedStage,
		rec.SkipReason, rec.ArtifactPath, rec.ArtifactSize, rec.Checksum, rec.Error, rec.DurationMS, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", rec.RepoName, err)
	}

	return nil
}

func (s *Sink) Finish(report *model.RunReport) error {
	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	_, err := s.pool.Exec(ctx, `
	UPDATE tfsarchive_runs
	SET finished_at = $2, total = $3, succeeded = $4, skipped = $5, failed = $6, cancelled = $7
	WHERE run_id = $1
	`,
		s.runID, report.FinishedAt, report.Summary.Total, report.Summary.Succeeded,
		report.Summary.Skipped, report.Summary.Failed, report.Cancelled,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}

	return nil
}

func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

type taskStatus struct {
	Name   string
	Status string
}

// Statuses returns the task statuses recorded for runID keyed by repository name.
func (s *Sink) Statuses(ctx context.Context, runID string) (map[string]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT repo_name, status FROM tfsarchive_tasks WHERE run_id = $1`, runID)
	if err != nil {
		return nil, err
	}

	list, err := pgx.CollectRows(rows, pgx.RowToStructByPos[taskStatus])
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(list))
	for _, ts := range list {
		out[ts.Name] = ts.Status
	}

	return out, nil
}

// RedactDSN hides the password of a connection string.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}

	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}

	return u.String()
}
