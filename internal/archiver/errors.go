package archiver

import (
	"errors"
	"fmt"

	"github.com/inovacc/tfsarchive/internal/model"
)

// ErrCancelled is returned when a run was interrupted. The report returned
// alongside it is complete: every task has a terminal status.
var ErrCancelled = errors.New("run cancelled")

// StageError is a task-scoped failure of one pipeline stage
type StageError struct {
	Stage model.Stage
	Repo  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Repo, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Kind names the error class of the failed stage.
func (e *StageError) Kind() string {
	switch e.Stage {
	case model.StageMirror:
		return "MirrorError"
	case model.StageBundle:
		return "BundleError"
	case model.StageVerify:
		return "VerifyError"
	case model.StagePackage:
		return "PackageError"
	case model.StageCleanup:
		return "CleanupError"
	}

	return "StageError"
}

// PathCollisionError indicates two repositories map to the same output name
type PathCollisionError struct {
	Path     string
	Repo     string
	Existing string
}

func (e *PathCollisionError) Error() string {
	return fmt.Sprintf("path collision: %s for %q is already used by %q", e.Path, e.Repo, e.Existing)
}

// FailedStage extracts the stage from a StageError, or StageNone.
func FailedStage(err error) model.Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}

	return model.StageNone
}
