package model

import "time"

// Summary holds the run-level counts.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Count adds one finalized task to the summary.
func (s *Summary) Count(st Status) {
	s.Total++

	switch st {
	case StatusSucceeded:
		s.Succeeded++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
}

// RunReport is the ordered record of one run.
type RunReport struct {
	RunID      string
	Project    string
	StartedAt  time.Time
	FinishedAt time.Time

	// Tasks are finalized tasks in completion order
	Tasks   []ArchivalTask
	Summary Summary

	Cancelled bool

	CSVPath  string
	JSONPath string
	LogPath  string
}

// ExitCode is zero when no task failed.
func (r *RunReport) ExitCode() int {
	if r.Summary.Failed > 0 {
		return 1
	}

	return 0
}

// TaskRecord is the flattened, serializable view of a finalized task.
type TaskRecord struct {
	RunID        string    `json:"run_id"`
	RepoName     string    `json:"repo_name"`
	RepoID       string    `json:"repo_id"`
	RemoteURL    string    `json:"remote_url"`
	Status       string    `json:"status"`
	StageReached string    `json:"stage_reached"`
	FailedStage  string    `json:"failed_stage,omitempty"`
	SkipReason   string    `json:"skip_reason,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	ArtifactSize int64     `json:"artifact_size_bytes"`
	Checksum     string    `json:"sha256,omitempty"`
	Error        string    `json:"error,omitempty"`
	Empty        bool      `json:"empty,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Record flattens t. remoteURL is passed in already sanitized.
func (t *ArchivalTask) Record(runID, remoteURL string) TaskRecord {
	rec := TaskRecord{
		RunID:        runID,
		RepoName:     t.Descriptor.Name,
		RepoID:       t.Descriptor.ID,
		RemoteURL:    remoteURL,
		Status:       t.Status.String(),
		StageReached: t.StageReached.String(),
		SkipReason:   t.SkipReason.String(),
		ArtifactPath: t.ArtifactPath,
		ArtifactSize: t.ArtifactSize,
		Checksum:     t.Checksum,
		Error:        t.ErrorDetail,
		Empty:        t.Empty,
		Warnings:     t.Warnings,
		DurationMS:   t.Duration().Milliseconds(),
		FinishedAt:   t.FinishedAt,
	}

	if t.Status == StatusFailed {
		rec.FailedStage = t.FailedStage.String()
	}

	return rec
}
