package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/inovacc/tfsarchive/internal/model"
)

// SQLite is the ledger backend for users who want to query it with SQL.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the SQLite ledger at path and migrates it.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't handle multiple writers well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := NewMigrator(db).MigrateUp(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// sortableTime keeps a fixed width so text order matches time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *SQLite) RecordTask(ctx context.Context, project string, rec model.TaskRecord) error {
	e := entryFromRecord(project, rec)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (project, repo_id, repo_name, run_id, status, stage_reached, failed_stage,
			artifact_path, artifact_size_bytes, sha256, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project, repo_id) DO UPDATE SET
			repo_name = excluded.repo_name,
			run_id = excluded.run_id,
			status = excluded.status,
			stage_reached = excluded.stage_reached,
			failed_stage = excluded.failed_stage,
			artifact_path = excluded.artifact_path,
			artifact_size_bytes = excluded.artifact_size_bytes,
			sha256 = excluded.sha256,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, project, e.RepoID, e.RepoName, e.RunID, e.Status, e.StageReached, e.FailedStage,
		e.ArtifactPath, e.ArtifactSize, e.Checksum, e.Error, formatTime(e.FinishedAt))
	if err != nil {
		return fmt.Errorf("recording %s: %w", rec.RepoName, err)
	}

	return nil
}

func (s *SQLite) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, project, started_at, finished_at, total, succeeded, skipped, failed, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.Project, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Summary.Total, run.Summary.Succeeded, run.Summary.Skipped, run.Summary.Failed, run.Cancelled)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.RunID, err)
	}

	return nil
}

func (s *SQLite) LastStatus(ctx context.Context, project, repoID string) (model.Status, bool, error) {
	var status string

	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM entries WHERE project = ? AND repo_id = ?`, project, repoID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StatusPending, false, nil
	}

	if err != nil {
		return model.StatusPending, false, err
	}

	return model.ParseStatus(status), true, nil
}

func (s *SQLite) Entries(ctx context.Context, project string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project, repo_id, repo_name, run_id, status, stage_reached, failed_stage,
			artifact_path, artifact_size_bytes, sha256, error, finished_at
		FROM entries WHERE project = ? ORDER BY repo_id
	`, project)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry

	for rows.Next() {
		var (
			e        Entry
			finished string
		)

		if err := rows.Scan(&e.Project, &e.RepoID, &e.RepoName, &e.RunID, &e.Status, &e.StageReached,
			&e.FailedStage, &e.ArtifactPath, &e.ArtifactSize, &e.Checksum, &e.Error, &finished); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}

		e.FinishedAt = parseTime(finished)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Runs returns the most recent runs of project, newest first.
func (s *SQLite) Runs(ctx context.Context, project string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, project, started_at, finished_at, total, succeeded, skipped, failed, cancelled
		FROM runs WHERE (? = '' OR project = ?)
		ORDER BY started_at DESC LIMIT ?
	`, project, project, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run

	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)

		if err := rows.Scan(&r.RunID, &r.Project, &started, &finished,
			&r.Summary.Total, &r.Summary.Succeeded, &r.Summary.Skipped, &r.Summary.Failed, &r.Cancelled); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}

		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
