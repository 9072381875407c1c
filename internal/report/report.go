// Package report accumulates finalized archival tasks and writes them to
// the configured sinks as they arrive.
package report

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inovacc/tfsarchive/internal/common"
	"github.com/inovacc/tfsarchive/internal/model"
)

// Sink receives one record per finalized task.
type Sink interface {
	Write(rec model.TaskRecord) error
	Close() error
}

// Finisher is implemented by sinks that need the complete report.
type Finisher interface {
	Finish(report *model.RunReport) error
}

// Reporter is the run reporter. It is safe for concurrent use; each task is
// fully recorded before the next one is accepted.
type Reporter struct {
	mu sync.Mutex

	runID     string
	project   string
	startedAt time.Time

	tasks   []model.ArchivalTask
	summary model.Summary
	sinks   []Sink
	logger  *slog.Logger
	closed  bool

	csvPath  string
	jsonPath string
	logPath  string
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger used for sink failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) {
		r.logger = l
	}
}

// WithSinks adds sinks.
func WithSinks(sinks ...Sink) Option {
	return func(r *Reporter) {
		r.sinks = append(r.sinks, sinks...)
	}
}

// WithPaths records where the report and log files live.
func WithPaths(csvPath, jsonPath, logPath string) Option {
	return func(r *Reporter) {
		r.csvPath = csvPath
		r.jsonPath = jsonPath
		r.logPath = logPath
	}
}

// New creates a Reporter for one run.
func New(runID, project string, opts ...Option) *Reporter {
	r := &Reporter{
		runID:     runID,
		project:   project,
		startedAt: time.Now(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Add records a finalized task in completion order.
func (r *Reporter) Add(task *model.ArchivalTask) error {
	if !task.Status.Terminal() {
		return fmt.Errorf("task %s is not finalized (%s)", task.Descriptor.Name, task.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("reporter is closed")
	}

	cp := *task
	cp.Warnings = append([]string(nil), task.Warnings...)

	r.tasks = append(r.tasks, cp)
	r.summary.Count(cp.Status)

	rec := cp.Record(r.runID, common.SanitizeGitURL(cp.Descriptor.RemoteURL))

	var errs []error

	for _, s := range r.sinks {
		if err := s.Write(rec); err != nil {
			r.logger.Warn("report sink failed", slog.String("repo", rec.RepoName), slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Snapshot returns the tasks recorded so far.
func (r *Reporter) Snapshot() []model.ArchivalTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.ArchivalTask, len(r.tasks))
	copy(out, r.tasks)

	return out
}

// Summary returns the counts recorded so far.
func (r *Reporter) Summary() model.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.summary
}

// Finish closes every sink and returns the run report. Calling it again
// returns a fresh copy of the same report.
func (r *Reporter) Finish(cancelled bool) (*model.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := &model.RunReport{
		RunID:      r.runID,
		Project:    r.project,
		StartedAt:  r.startedAt,
		FinishedAt: time.Now(),
		Tasks:      append([]model.ArchivalTask(nil), r.tasks...),
		Summary:    r.summary,
		Cancelled:  cancelled,
		CSVPath:    r.csvPath,
		JSONPath:   r.jsonPath,
		LogPath:    r.logPath,
	}

	if r.closed {
		return report, nil
	}

	r.closed = true

	var errs []error

	for _, s := range r.sinks {
		if f, ok := s.(Finisher); ok {
			if err := f.Finish(report); err != nil {
				errs = append(errs, err)
			}
		}

		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return report, errors.Join(errs...)
}
