package model

import (
	"errors"
	"fmt"
	"time"
)

// Stage is one step of the per-repository pipeline. Stages are ordered.
type Stage int

const (
	StageNone Stage = iota
	StageDiscover
	StageMirror
	StageBundle
	StageVerify
	StagePackage
	StageCleanup
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "pending"
	case StageDiscover:
		return "discover"
	case StageMirror:
		return "mirror"
	case StageBundle:
		return "bundle"
	case StageVerify:
		return "verify"
	case StagePackage:
		return "package"
	case StageCleanup:
		return "cleanup"
	}

	return fmt.Sprintf("stage(%d)", int(s))
}

// Status is the lifecycle state of an ArchivalTask.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusSucceeded:
		return "OK"
	case StatusSkipped:
		return "SKIPPED"
	case StatusFailed:
		return "FAIL"
	}

	return "UNKNOWN"
}

// Terminal reports whether s is one of Succeeded, Skipped or Failed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusSkipped || s == StatusFailed
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) Status {
	switch s {
	case "RUNNING":
		return StatusRunning
	case "OK":
		return StatusSucceeded
	case "SKIPPED":
		return StatusSkipped
	case "FAIL":
		return StatusFailed
	default:
		return StatusPending
	}
}

// SkipReason categorizes why a task was skipped.
type SkipReason int

const (
	SkipReasonNone SkipReason = iota
	SkipReasonArtifactExists
	SkipReasonDisabled
	SkipReasonCancelled
)

func (r SkipReason) String() string {
	switch r {
	case SkipReasonArtifactExists:
		return "artifact exists"
	case SkipReasonDisabled:
		return "repository disabled"
	case SkipReasonCancelled:
		return "run cancelled"
	}

	return ""
}

var (
	// ErrStageRegression is returned when a task is asked to enter an earlier stage.
	ErrStageRegression = errors.New("stage regression")

	// ErrTaskFinalized is returned when a finalized task is mutated.
	ErrTaskFinalized = errors.New("task already finalized")
)

// ArchivalTask is the unit of work and the result record for one repository.
type ArchivalTask struct {
	Descriptor RepositoryDescriptor

	MirrorPath string
	BundlePath string
	ZipPath    string

	Status       Status
	StageReached Stage
	FailedStage  Stage
	SkipReason   SkipReason

	// Err is the underlying failure; ErrorDetail is its redacted text
	Err         error
	ErrorDetail string

	// Empty marks a repository without refs, archived as a degenerate bundle
	Empty bool

	ArtifactPath string
	ArtifactSize int64
	Checksum     string

	// Warnings collects non-fatal problems such as cleanup failures
	Warnings []string

	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewTask creates a pending task for d.
func NewTask(d RepositoryDescriptor) *ArchivalTask {
	return &ArchivalTask{Descriptor: d}
}

// Enter records that the task started stage s.
func (t *ArchivalTask) Enter(s Stage) error {
	if t.Status.Terminal() {
		return ErrTaskFinalized
	}

	if s < t.StageReached {
		return fmt.Errorf("%w: %s after %s", ErrStageRegression, s, t.StageReached)
	}

	if t.Status == StatusPending {
		t.Status = StatusRunning
		t.StartedAt = time.Now()
	}

	t.StageReached = s

	return nil
}

// Succeed finalizes the task with the artifact that passed verification.
func (t *ArchivalTask) Succeed(artifact string) error {
	if t.Status.Terminal() {
		return ErrTaskFinalized
	}

	t.Status = StatusSucceeded
	t.ArtifactPath = artifact
	t.FinishedAt = time.Now()

	return nil
}

// Skip finalizes the task as skipped. artifact may be empty.
func (t *ArchivalTask) Skip(reason SkipReason, artifact string) error {
	if t.Status.Terminal() {
		return ErrTaskFinalized
	}

	if t.StageReached < StageDiscover {
		t.StageReached = StageDiscover
	}

	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}

	t.Status = StatusSkipped
	t.SkipReason = reason
	t.ArtifactPath = artifact
	t.FinishedAt = time.Now()

	return nil
}

// Fail finalizes the task as failed in stage s. detail is the redacted
// diagnostic shown in reports.
func (t *ArchivalTask) Fail(s Stage, err error, detail string) error {
	if t.Status.Terminal() {
		return ErrTaskFinalized
	}

	if s > t.StageReached {
		t.StageReached = s
	}

	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}

	t.Status = StatusFailed
	t.FailedStage = s
	t.Err = err
	t.ErrorDetail = detail
	t.FinishedAt = time.Now()

	return nil
}

// Warn appends a non-fatal warning.
func (t *ArchivalTask) Warn(msg string) {
	t.Warnings = append(t.Warnings, msg)
}

// Duration is the wall time between start and finish.
func (t *ArchivalTask) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}

	return t.FinishedAt.Sub(t.StartedAt)
}

// Message summarizes the outcome for display.
func (t *ArchivalTask) Message() string {
	switch t.Status {
	case StatusFailed:
		return fmt.Sprintf("%s failed: %s", t.FailedStage, t.ErrorDetail)
	case StatusSkipped:
		return "skipped: " + t.SkipReason.String()
	case StatusSucceeded:
		if t.Empty {
			return "OK (empty repository)"
		}

		return "OK"
	}

	return t.Status.String()
}
