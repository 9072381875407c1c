package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/inovacc/tfsarchive/internal/archive"
	"github.com/inovacc/tfsarchive/internal/encoding"
	"github.com/inovacc/tfsarchive/internal/git"
	"github.com/inovacc/tfsarchive/internal/model"
)

// mirror clones the repository, retrying network failures when configured.
// Every attempt starts from an empty mirror directory. No attempt is started
// once stop is closed.
func (r *Runner) mirror(ctx context.Context, stop <-chan struct{}, t *model.ArchivalTask, vcs VCS) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.NetworkRetries; attempt++ {
		t.Attempts++

		err := vcs.Mirror(ctx, t.Descriptor.RemoteURL, t.MirrorPath, r.opts.AuthHeader)
		if err == nil {
			return nil
		}

		lastErr = err

		if !r.opts.Retryable(err) || attempt == r.cfg.NetworkRetries {
			break
		}

		// Exponential backoff: 1s, 2s, 4s...
		backoff := min(r.opts.RetryBackoff<<attempt, 30*time.Second)

		r.logger.Warn("mirror failed with a network error, retrying",
			slog.String("repo", t.Descriptor.Name),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)

		select {
		case <-stop:
			return fmt.Errorf("run cancelled, no retry after %d attempts: %w", t.Attempts, lastErr)
		case <-time.After(backoff):
		}
	}

	if t.Attempts > 1 {
		return fmt.Errorf("failed after %d attempts: %w", t.Attempts, lastErr)
	}

	return lastErr
}

// bundle serializes every ref of the mirror. A mirror without refs gets an
// empty bundle instead of an error.
func (r *Runner) bundle(ctx context.Context, t *model.ArchivalTask, vcs VCS) error {
	hasRefs, err := vcs.HasRefs(ctx, t.MirrorPath)
	if err != nil {
		return err
	}

	if hasRefs {
		err = vcs.CreateBundle(ctx, t.MirrorPath, t.BundlePath)
		if err == nil || !git.IsEmptyBundle(err) {
			return err
		}
	}

	r.logger.Warn("repository has no refs, writing empty bundle", slog.String("repo", t.Descriptor.Name))
	t.Empty = true
	t.Warn("repository is empty")

	return git.WriteEmptyBundle(t.BundlePath)
}

// verify checks the bundle and records its checksum and size.
func (r *Runner) verify(ctx context.Context, t *model.ArchivalTask, vcs VCS) error {
	var err error
	if t.Empty {
		err = git.VerifyEmptyBundle(t.BundlePath)
	} else {
		err = vcs.VerifyBundle(ctx, t.MirrorPath, t.BundlePath)
	}

	if err != nil {
		return err
	}

	t.Checksum, t.ArtifactSize, err = encoding.HashFile(t.BundlePath)

	return err
}

// pack wraps the verified bundle and its restore notes into a container.
func (r *Runner) pack(ctx context.Context, t *model.ArchivalTask, _ VCS) error {
	now := time.Now()

	docs, err := RestoreDocuments(t.Descriptor, t.Empty, now)
	if err != nil {
		return fmt.Errorf("failed to render restore notes: %w", err)
	}

	res, err := r.opts.Packager.Package(ctx, archive.Request{
		BundlePath: t.BundlePath,
		ZipPath:    t.ZipPath,
		Documents:  docs,
		Manifest: archive.Manifest{
			Repository:   t.Descriptor.Name,
			RepositoryID: t.Descriptor.ID,
			Empty:        t.Empty,
			CreatedAt:    now.UTC(),
		},
		Replace: !r.cfg.SkipExisting,
	})
	if err != nil {
		return err
	}

	if res.Replaced {
		t.Warn("replaced existing container")
	}

	t.Checksum = res.SHA256
	t.ArtifactSize = res.Size

	return nil
}

func (r *Runner) removeBundleEnabled() bool {
	return r.cfg.ZipEnabled && r.cfg.DeleteAfterZip
}

func (r *Runner) cleanupEnabled() bool {
	return r.removeBundleEnabled() || !r.cfg.KeepMirrors
}

// cleanup removes the mirror and the raw bundle as configured. It only runs
// after the last producing stage succeeded, never touches the container,
// and failures become warnings on an otherwise successful task.
func (r *Runner) cleanup(t *model.ArchivalTask) {
	warn := func(err error) {
		se := &StageError{Stage: model.StageCleanup, Repo: t.Descriptor.Name, Err: err}
		t.Warn(se.Error())
		r.logger.Warn("cleanup failed", slog.String("repo", t.Descriptor.Name), slog.String("error", err.Error()))
	}

	if r.removeBundleEnabled() {
		switch {
		case !encoding.FileExists(t.ZipPath):
			warn(fmt.Errorf("container %s missing, keeping bundle", t.ZipPath))
		default:
			if err := os.Remove(t.BundlePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				warn(err)
			} else {
				r.logger.Debug("deleted bundle after packaging", slog.String("bundle", t.BundlePath))
			}
		}
	}

	if !r.cfg.KeepMirrors {
		if err := os.RemoveAll(t.MirrorPath); err != nil {
			warn(err)
		}
	}
}
