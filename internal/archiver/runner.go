// Package archiver drives every repository of a project through the
// mirror, bundle, verify, package and cleanup stages and records one
// outcome per repository.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/inovacc/tfsarchive/internal/common"
	"github.com/inovacc/tfsarchive/internal/encoding"
	"github.com/inovacc/tfsarchive/internal/git"
	"github.com/inovacc/tfsarchive/internal/model"
)

// Options carries the collaborators of a Runner.
type Options struct {
	Lister   Lister
	VCS      VCS
	Packager Packager
	Recorder Recorder
	History  History
	Observer Observer
	Logger   *slog.Logger

	// Layout defaults to NewLayout(cfg.OutRoot)
	Layout *Layout

	// RunID defaults to a new UUID
	RunID string

	// AuthHeader is passed to git as the Authorization header value
	AuthHeader string

	// Secrets are redacted from every diagnostic
	Secrets []string

	// Retryable classifies mirror errors worth another attempt,
	// git.IsNetworkError unless set
	Retryable func(error) bool

	// RetryBackoff is the first mirror retry delay, doubled per attempt
	RetryBackoff time.Duration
}

// Runner is the run orchestrator.
type Runner struct {
	cfg    model.RunConfiguration
	opts   Options
	layout *Layout
	logger *slog.Logger
	runID  string

	emitMu sync.Mutex
	done   atomic.Int32
	total  int
}

// PlannedTask is a repository selected for this run together with what
// the runner intends to do with it.
type PlannedTask struct {
	Index     int
	Task      *model.ArchivalTask
	Action    string
	collision *PathCollisionError
}

// Planned actions
const (
	ActionArchive      = "archive"
	ActionSkipExisting = "skip (artifact exists)"
	ActionSkipDisabled = "skip (disabled)"
	ActionCollision    = "fail (path collision)"
)

// New creates a Runner for cfg.
func New(cfg model.RunConfiguration, opts Options) (*Runner, error) {
	if opts.Lister == nil {
		return nil, fmt.Errorf("lister is required")
	}

	if !cfg.DryRun && (opts.VCS == nil || opts.Recorder == nil) {
		return nil, fmt.Errorf("vcs and recorder are required")
	}

	if cfg.ZipEnabled && !cfg.DryRun && opts.Packager == nil {
		return nil, fmt.Errorf("packager is required when zip is enabled")
	}

	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Layout == nil {
		opts.Layout = NewLayout(cfg.OutRoot)
	}

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	if opts.Retryable == nil {
		opts.Retryable = git.IsNetworkError
	}

	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Second
	}

	return &Runner{
		cfg:    cfg,
		opts:   opts,
		layout: opts.Layout,
		logger: opts.Logger,
		runID:  opts.RunID,
	}, nil
}

// RunID identifies this run in logs and reports.
func (r *Runner) RunID() string {
	return r.runID
}

// Layout returns the output layout of the run.
func (r *Runner) Layout() *Layout {
	return r.layout
}

// Plan discovers the repositories, applies the selection filters and
// decides an action for each. It never touches the network beyond the
// listing call and never writes to the output root.
func (r *Runner) Plan(ctx context.Context) ([]PlannedTask, error) {
	repos, err := r.opts.Lister.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	r.logger.Info("repositories discovered", slog.Int("count", len(repos)))
	r.emit(Event{Kind: EventDiscovered, Total: len(repos)})

	repos = r.selectRepos(ctx, repos)

	plan := make([]PlannedTask, 0, len(repos))
	owners := make(map[string]string, len(repos))

	for i, d := range repos {
		safe := d.SafeName()
		task := model.NewTask(d)
		task.MirrorPath = r.layout.MirrorPath(safe)
		task.BundlePath = r.layout.BundlePath(safe)

		if r.cfg.ZipEnabled {
			task.ZipPath = r.layout.ZipPath(safe)
		}

		p := PlannedTask{Index: i + 1, Task: task, Action: ActionArchive}

		key := strings.ToLower(safe)
		if owner, ok := owners[key]; ok {
			p.Action = ActionCollision
			p.collision = &PathCollisionError{Path: task.MirrorPath, Repo: d.Name, Existing: owner}
		} else {
			owners[key] = d.Name
		}

		switch {
		case p.collision != nil:
		case d.Disabled:
			p.Action = ActionSkipDisabled
		case r.cfg.SkipExisting && encoding.FileExists(r.layout.ArtifactPath(r.cfg, safe)):
			p.Action = ActionSkipExisting
		}

		plan = append(plan, p)
	}

	return plan, nil
}

func (r *Runner) selectRepos(ctx context.Context, repos []model.RepositoryDescriptor) []model.RepositoryDescriptor {
	if only := strings.ToLower(strings.TrimSpace(r.cfg.Only)); only != "" {
		repos = lo.Filter(repos, func(d model.RepositoryDescriptor, _ int) bool {
			return strings.Contains(strings.ToLower(d.Name), only)
		})
		r.logger.Info("filtered repositories by substring", slog.String("only", only), slog.Int("count", len(repos)))
	}

	if r.cfg.Filter != nil {
		repos = lo.Filter(repos, func(d model.RepositoryDescriptor, _ int) bool {
			return r.cfg.Filter.MatchString(d.Name)
		})
		r.logger.Info("filtered repositories by pattern", slog.String("filter", r.cfg.Filter.String()), slog.Int("count", len(repos)))
	}

	if r.cfg.RetryFailed && r.opts.History != nil {
		repos = lo.Filter(repos, func(d model.RepositoryDescriptor, _ int) bool {
			key := lo.Ternary(d.ID != "", d.ID, d.Name)

			status, ok, err := r.opts.History.LastStatus(ctx, r.cfg.Project, key)
			if err != nil {
				r.logger.Warn("ledger lookup failed, keeping repository", slog.String("repo", d.Name), slog.String("error", err.Error()))
				return true
			}

			return !ok || status != model.StatusSucceeded
		})
		r.logger.Info("kept repositories without a successful run", slog.Int("count", len(repos)))
	}

	if r.cfg.MaxRepos > 0 && len(repos) > r.cfg.MaxRepos {
		repos = repos[:r.cfg.MaxRepos]
		r.logger.Info("limited repositories", slog.Int("max_repos", r.cfg.MaxRepos))
	}

	return repos
}

// Run executes the whole pipeline. A discovery failure is returned before
// any task starts. When ctx is cancelled the task in flight finishes its
// current stage and fails, tasks not yet started are skipped, and Run
// returns the complete report together with ErrCancelled.
func (r *Runner) Run(ctx context.Context) (*model.RunReport, error) {
	started := time.Now()

	r.logger.Info("run started",
		slog.String("run_id", r.runID),
		slog.String("collection", common.SanitizeGitURL(r.cfg.CollectionURL)),
		slog.String("project", r.cfg.Project),
		slog.String("out_root", r.layout.Root),
		slog.Bool("zip", r.cfg.ZipEnabled),
		slog.Bool("delete_bundle_after_zip", r.cfg.DeleteAfterZip),
		slog.Bool("skip_existing", r.cfg.SkipExisting),
		slog.Bool("keep_mirrors", r.cfg.KeepMirrors),
		slog.Int("parallel", r.cfg.Parallel),
	)
	r.emit(Event{Kind: EventRunStarted, Message: r.cfg.Project})

	if !r.cfg.DryRun {
		if err := r.layout.Prepare(); err != nil {
			return nil, err
		}

		if err := r.layout.WriteReadme(r.cfg.Project, r.cfg.ZipEnabled, started); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", RootReadmeName, err)
		}
	}

	plan, err := r.Plan(ctx)
	if err != nil {
		r.logger.Error("repository discovery failed", slog.String("error", common.Redact(err.Error(), r.opts.Secrets...)))
		return nil, err
	}

	r.total = len(plan)

	if r.cfg.DryRun {
		return r.dryRun(plan, started), nil
	}

	r.dispatch(ctx, plan)

	if !r.cfg.KeepMirrors {
		if err := r.layout.RemoveEmptyMirrors(); err != nil {
			r.logger.Warn("failed to remove empty mirrors directory", slog.String("error", err.Error()))
		}
	}

	cancelled := ctx.Err() != nil

	report, err := r.opts.Recorder.Finish(cancelled)
	if err != nil {
		r.logger.Error("failed to finalize report", slog.String("error", err.Error()))
	}

	if report != nil {
		r.logger.Info("run finished",
			slog.Int("total", report.Summary.Total),
			slog.Int("ok", report.Summary.Succeeded),
			slog.Int("skipped", report.Summary.Skipped),
			slog.Int("failed", report.Summary.Failed),
			slog.Duration("duration", time.Since(started).Round(time.Millisecond)),
		)
	}

	r.emit(Event{Kind: EventRunFinished, Report: report})

	if cancelled {
		return report, ErrCancelled
	}

	return report, err
}

func (r *Runner) dryRun(plan []PlannedTask, started time.Time) *model.RunReport {
	for _, p := range plan {
		r.logger.Info("planned",
			slog.String("repo", p.Task.Descriptor.Name),
			slog.String("action", p.Action),
		)
		r.emit(Event{
			Kind:    EventPlanned,
			Repo:    p.Task.Descriptor.Name,
			Task:    snapshot(p.Task),
			Index:   p.Index,
			Total:   len(plan),
			Message: p.Action,
		})
	}

	report := &model.RunReport{
		RunID:      r.runID,
		Project:    r.cfg.Project,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Summary:    model.Summary{Total: len(plan)},
	}

	r.emit(Event{Kind: EventRunFinished, Report: report})

	return report
}

// dispatch feeds the plan to the worker pool and finalizes every task.
func (r *Runner) dispatch(ctx context.Context, plan []PlannedTask) {
	workQueue := make(chan PlannedTask)

	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Parallel; i++ {
		wg.Go(func() {
			for p := range workQueue {
				r.process(ctx, p)
				r.pause(ctx)
			}
		})
	}

	next := 0

queue:
	for ; next < len(plan); next++ {
		if ctx.Err() != nil {
			break
		}

		select {
		case workQueue <- plan[next]:
		case <-ctx.Done():
			break queue
		}
	}

	close(workQueue)
	wg.Wait()

	for _, p := range plan[next:] {
		_ = p.Task.Skip(model.SkipReasonCancelled, "")
		r.finalize(p)
	}
}

// pause honors the configured delay between repositories.
func (r *Runner) pause(ctx context.Context) {
	if r.cfg.Sleep <= 0 {
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(r.cfg.Sleep):
	}
}

type stageFunc func(ctx context.Context, t *model.ArchivalTask, vcs VCS) error

// process drives one task through its stages. Stage operations run on a
// context that is not cancelled with ctx; cancellation is observed
// between stages.
func (r *Runner) process(ctx context.Context, p PlannedTask) {
	t := p.Task
	defer r.finalize(p)

	name := t.Descriptor.Name
	logger := r.logger.With(slog.String("repo", name))

	if ctx.Err() != nil {
		_ = t.Skip(model.SkipReasonCancelled, "")
		return
	}

	logger.Info("processing repository", slog.Int("index", p.Index), slog.Int("total", r.total))

	switch p.Action {
	case ActionCollision:
		_ = t.Enter(model.StageMirror)
		r.fail(t, model.StageMirror, p.collision)

		return
	case ActionSkipDisabled:
		_ = t.Skip(model.SkipReasonDisabled, "")
		logger.Info("skipped", slog.String("reason", t.SkipReason.String()))

		return
	case ActionSkipExisting:
		artifact := r.layout.ArtifactPath(r.cfg, t.Descriptor.SafeName())
		_ = t.Skip(model.SkipReasonArtifactExists, artifact)

		if sum, size, err := encoding.HashFile(artifact); err == nil {
			t.ArtifactSize = size
			t.Checksum = sum
		}

		logger.Info("skipped", slog.String("reason", t.SkipReason.String()), slog.String("artifact", artifact))

		return
	}

	vcs := r.opts.VCS
	if tv, ok := vcs.(TaskVCS); ok {
		vcs = tv.ForTask(func(line string) {
			r.emit(Event{Kind: EventOutput, Repo: name, Stage: t.StageReached, Index: p.Index, Total: r.total, Message: line})
		})
	}

	stages := []struct {
		stage model.Stage
		run   stageFunc
	}{
		{model.StageMirror, func(opCtx context.Context, task *model.ArchivalTask, vcs VCS) error {
			return r.mirror(opCtx, ctx.Done(), task, vcs)
		}},
		{model.StageBundle, r.bundle},
		{model.StageVerify, r.verify},
	}

	if r.cfg.ZipEnabled {
		stages = append(stages, struct {
			stage model.Stage
			run   stageFunc
		}{model.StagePackage, r.pack})
	}

	opCtx := context.WithoutCancel(ctx)

	for _, st := range stages {
		if ctx.Err() != nil {
			if t.StageReached < model.StageMirror {
				_ = t.Skip(model.SkipReasonCancelled, "")
				return
			}

			r.fail(t, t.StageReached, ErrCancelled)

			return
		}

		if err := t.Enter(st.stage); err != nil {
			r.fail(t, st.stage, err)
			return
		}

		r.emit(Event{Kind: EventStageStarted, Repo: name, Stage: st.stage, Task: snapshot(t), Index: p.Index, Total: r.total})
		logger.Debug("stage started", slog.String("stage", st.stage.String()))

		if err := st.run(opCtx, t, vcs); err != nil {
			r.fail(t, st.stage, &StageError{Stage: st.stage, Repo: name, Err: err})
			return
		}
	}

	if r.cleanupEnabled() {
		_ = t.Enter(model.StageCleanup)
		r.emit(Event{Kind: EventStageStarted, Repo: name, Stage: model.StageCleanup, Task: snapshot(t), Index: p.Index, Total: r.total})
		r.cleanup(t)
	}

	artifact := t.BundlePath
	if r.cfg.ZipEnabled {
		artifact = t.ZipPath
	}

	_ = t.Succeed(artifact)
	logger.Info("archived",
		slog.String("artifact", artifact),
		slog.Int64("size", t.ArtifactSize),
		slog.Bool("empty", t.Empty),
	)
}

func (r *Runner) fail(t *model.ArchivalTask, stage model.Stage, err error) {
	detail := common.Redact(err.Error(), r.opts.Secrets...)
	if errors.Is(err, ErrCancelled) {
		detail = ErrCancelled.Error()
	}

	_ = t.Fail(stage, err, detail)

	r.logger.Error("repository failed",
		slog.String("repo", t.Descriptor.Name),
		slog.String("stage", stage.String()),
		slog.String("error", detail),
	)
}

// finalize hands a terminal task to the recorder and observers.
func (r *Runner) finalize(p PlannedTask) {
	t := p.Task

	if err := r.opts.Recorder.Add(t); err != nil {
		r.logger.Warn("failed to record task", slog.String("repo", t.Descriptor.Name), slog.String("error", err.Error()))
	}

	n := r.done.Add(1)
	r.emit(Event{
		Kind:    EventTaskFinished,
		Repo:    t.Descriptor.Name,
		Stage:   t.StageReached,
		Task:    snapshot(t),
		Index:   int(n),
		Total:   r.total,
		Message: t.Message(),
	})
}

func (r *Runner) emit(e Event) {
	if r.opts.Observer == nil {
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.opts.Observer.OnEvent(e)
}

func snapshot(t *model.ArchivalTask) *model.ArchivalTask {
	cp := *t
	cp.Warnings = append([]string(nil), t.Warnings...)

	return &cp
}
