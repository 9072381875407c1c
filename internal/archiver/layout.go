package archiver

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inovacc/tfsarchive/internal/archive"
	"github.com/inovacc/tfsarchive/internal/encoding"
	"github.com/inovacc/tfsarchive/internal/model"
)

// Output layout names under the output root
const (
	BundlesDir = "bundles"
	LogsDir    = "logs"
	ReportsDir = "reports"
	MirrorsDir = "mirrors"
	StateDir   = "state"

	RootReadmeName = "README_RESTORE.md"
)

// Layout resolves every path the archiver writes under one output root.
type Layout struct {
	Root    string
	Bundles string
	Logs    string
	Reports string
	Mirrors string
	State   string
}

// NewLayout returns the layout rooted at root.
func NewLayout(root string) *Layout {
	return &Layout{
		Root:    root,
		Bundles: filepath.Join(root, BundlesDir),
		Logs:    filepath.Join(root, LogsDir),
		Reports: filepath.Join(root, ReportsDir),
		Mirrors: filepath.Join(root, MirrorsDir),
		State:   filepath.Join(root, StateDir),
	}
}

// Prepare creates the output directories. It is safe to call concurrently
// and on an existing layout.
func (l *Layout) Prepare() error {
	for _, dir := range []string{l.Root, l.Bundles, l.Logs, l.Reports, l.Mirrors, l.State} {
		if err := encoding.EnsureDir(dir); err != nil {
			return err
		}
	}

	return nil
}

// WriteReadme renders README_RESTORE.md at the output root.
func (l *Layout) WriteReadme(project string, zip bool, now time.Time) error {
	data, err := renderRootReadme(rootReadmeData{
		Project: project,
		Root:    l.Root,
		Zip:     zip,
		Date:    now.Format(time.DateTime),
	})
	if err != nil {
		return err
	}

	return encoding.WriteFileAtomic(filepath.Join(l.Root, RootReadmeName), data, 0o644)
}

// MirrorPath is where the bare mirror of a repository is cloned.
func (l *Layout) MirrorPath(safe string) string {
	return filepath.Join(l.Mirrors, safe+".git")
}

// BundlePath is the raw bundle of a repository.
func (l *Layout) BundlePath(safe string) string {
	return filepath.Join(l.Bundles, safe+archive.BundleExt)
}

// ZipPath is the packaged container of a repository.
func (l *Layout) ZipPath(safe string) string {
	return filepath.Join(l.Bundles, safe+archive.ContainerExt)
}

// ArtifactPath is the final artifact a successful run leaves for safe.
func (l *Layout) ArtifactPath(cfg model.RunConfiguration, safe string) string {
	if cfg.ZipEnabled {
		return l.ZipPath(safe)
	}

	return l.BundlePath(safe)
}

// LogPath is the per-run log file.
func (l *Layout) LogPath(project, runID string) string {
	return filepath.Join(l.Logs, fmt.Sprintf("archive_%s_%s.log", model.SafeFilename(project), runID))
}

// ReportPath is the per-run report with the given extension.
func (l *Layout) ReportPath(project, runID, ext string) string {
	return filepath.Join(l.Reports, fmt.Sprintf("report_%s_%s%s", model.SafeFilename(project), runID, ext))
}

// LedgerPath is the resume ledger for backend.
func (l *Layout) LedgerPath(backend model.LedgerBackend) string {
	return filepath.Join(l.State, "ledger."+string(backend))
}

// LockPath guards the output root against concurrent runs.
func (l *Layout) LockPath() string {
	return filepath.Join(l.Root, ".tfsarchive.lock")
}

// RemoveEmptyMirrors deletes the mirrors directory when nothing is left in it.
func (l *Layout) RemoveEmptyMirrors() error {
	empty, err := encoding.IsDirEmpty(l.Mirrors)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	if !empty {
		return nil
	}

	return os.Remove(l.Mirrors)
}
