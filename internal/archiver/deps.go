package archiver

import (
	"context"

	"github.com/inovacc/tfsarchive/internal/archive"
	"github.com/inovacc/tfsarchive/internal/git"
	"github.com/inovacc/tfsarchive/internal/model"
)

// Lister enumerates the repositories of the project.
type Lister interface {
	ListRepositories(ctx context.Context) ([]model.RepositoryDescriptor, error)
}

// VCS is the version-control collaborator.
type VCS interface {
	Mirror(ctx context.Context, remoteURL, dest, authHeader string) error
	HasRefs(ctx context.Context, dir string) (bool, error)
	CreateBundle(ctx context.Context, dir, bundlePath string) error
	VerifyBundle(ctx context.Context, dir, bundlePath string) error
}

// TaskVCS is a VCS that can route progress output per task.
type TaskVCS interface {
	VCS
	ForTask(onOutput func(line string)) VCS
}

// Packager builds containers.
type Packager interface {
	Package(ctx context.Context, req archive.Request) (*archive.Result, error)
}

// Recorder accepts finalized tasks and assembles the run report.
// Implementations serialize concurrent calls to Add.
type Recorder interface {
	Add(task *model.ArchivalTask) error
	Finish(cancelled bool) (*model.RunReport, error)
}

// History answers what happened to a repository in earlier runs.
type History interface {
	LastStatus(ctx context.Context, project, repoID string) (model.Status, bool, error)
}

// GitVCS adapts a git client to TaskVCS.
type GitVCS struct {
	*git.Client
}

// ForTask returns a VCS whose git progress lines go to onOutput.
func (g GitVCS) ForTask(onOutput func(line string)) VCS {
	return GitVCS{Client: g.WithOutput(onOutput)}
}
