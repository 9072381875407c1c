// Package ledger remembers the last outcome of every repository and the
// history of runs, so later runs can resume or retry failures.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/inovacc/tfsarchive/internal/model"
)

// Entry is the last recorded outcome of one repository.
type Entry struct {
	Project      string    `json:"project"`
	RepoID       string    `json:"repo_id"`
	RepoName     string    `json:"repo_name"`
	RunID        string    `json:"run_id"`
	Status       string    `json:"status"`
	StageReached string    `json:"stage_reached"`
	FailedStage  string    `json:"failed_stage,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	ArtifactSize int64     `json:"artifact_size_bytes"`
	Checksum     string    `json:"sha256,omitempty"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Run summarizes one finished run.
type Run struct {
	RunID      string        `json:"run_id"`
	Project    string        `json:"project"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Summary    model.Summary `json:"summary"`
	Cancelled  bool          `json:"cancelled"`
}

// Ledger persists entries and runs.
type Ledger interface {
	RecordTask(ctx context.Context, project string, rec model.TaskRecord) error
	RecordRun(ctx context.Context, run Run) error
	LastStatus(ctx context.Context, project, repoID string) (model.Status, bool, error)
	Entries(ctx context.Context, project string) ([]Entry, error)
	Runs(ctx context.Context, project string, limit int) ([]Run, error)
	Close() error
}

// Open opens the ledger at path with the given backend.
func Open(backend model.LedgerBackend, path string) (Ledger, error) {
	switch backend {
	case model.LedgerBolt, "":
		return OpenBolt(path)
	case model.LedgerSQLite:
		return OpenSQLite(path)
	}

	return nil, fmt.Errorf("unknown ledger backend %q", backend)
}

func entryFromRecord(project string, rec model.TaskRecord) Entry {
	return Entry{
		Project:      project,
		RepoID:       repoKey(rec),
		RepoName:     rec.RepoName,
		RunID:        rec.RunID,
		Status:       rec.Status,
		StageReached: rec.StageReached,
		FailedStage:  rec.FailedStage,
		ArtifactPath: rec.ArtifactPath,
		ArtifactSize: rec.ArtifactSize,
		Checksum:     rec.Checksum,
		Error:        rec.Error,
		FinishedAt:   rec.FinishedAt,
	}
}

func repoKey(rec model.TaskRecord) string {
	if rec.RepoID != "" {
		return rec.RepoID
	}

	return rec.RepoName
}

// Sink feeds finalized tasks and the finished run into a ledger.
type Sink struct {
	l       Ledger
	project string
}

// NewSink returns a report sink writing to l.
func NewSink(l Ledger, project string) *Sink {
	return &Sink{l: l, project: project}
}

func (s *Sink) Write(rec model.TaskRecord) error {
	return s.l.RecordTask(context.Background(), s.project, rec)
}

func (s *Sink) Finish(report *model.RunReport) error {
	return s.l.RecordRun(context.Background(), Run{
		RunID:      report.RunID,
		Project:    report.Project,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Summary:    report.Summary,
		Cancelled:  report.Cancelled,
	})
}

// Close does not close the ledger; its owner does.
func (s *Sink) Close() error { return nil }
