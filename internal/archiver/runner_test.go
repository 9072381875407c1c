package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inovacc/tfsarchive/internal/archive"
	"github.com/inovacc/tfsarchive/internal/model"
	"github.com/inovacc/tfsarchive/internal/report"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeLister struct {
	repos []model.RepositoryDescriptor
	err   error
}

func (l *fakeLister) ListRepositories(context.Context) ([]model.RepositoryDescriptor, error) {
	return l.repos, l.err
}

// fakeVCS writes real files so the stages downstream of it have something
// to work with.
type fakeVCS struct {
	mu        sync.Mutex
	calls     []string
	mirrorErr map[string][]error // per repo name, consumed one per attempt
	empty     map[string]bool
	onMirror  func(name string)
	delay     time.Duration

	running    atomic.Int32
	maxRunning atomic.Int32
}

func repoName(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}

func (f *fakeVCS) record(op, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, op+":"+name)
}

func (f *fakeVCS) callsFor(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string

	for _, c := range f.calls {
		if strings.HasSuffix(c, ":"+name) {
			out = append(out, c)
		}
	}

	return out
}

func (f *fakeVCS) Mirror(_ context.Context, remoteURL, dest, _ string) error {
	name := repoName(remoteURL)
	f.record("mirror", name)

	n := f.running.Add(1)
	defer f.running.Add(-1)

	for {
		m := f.maxRunning.Load()
		if n <= m || f.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.onMirror != nil {
		f.onMirror(name)
	}

	f.mu.Lock()
	errs := f.mirrorErr[name]
	if len(errs) > 0 {
		f.mirrorErr[name] = errs[1:]
	}
	f.mu.Unlock()

	if len(errs) > 0 && errs[0] != nil {
		return errs[0]
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dest, "HEAD"), []byte("ref: refs/heads/master\n"), 0o644)
}

func (f *fakeVCS) HasRefs(_ context.Context, dir string) (bool, error) {
	return !f.empty[strings.TrimSuffix(filepath.Base(dir), ".git")], nil
}

func (f *fakeVCS) CreateBundle(_ context.Context, dir, bundlePath string) error {
	f.record("bundle", strings.TrimSuffix(filepath.Base(dir), ".git"))

	content := "# v2 git bundle\n" + strings.Repeat("a", 40) + " refs/heads/master\n\nPACK-DATA"

	return os.WriteFile(bundlePath, []byte(content), 0o644)
}

func (f *fakeVCS) VerifyBundle(_ context.Context, dir, bundlePath string) error {
	f.record("verify", strings.TrimSuffix(filepath.Base(dir), ".git"))

	_, err := os.Stat(bundlePath)

	return err
}

type failingPackager struct{}

func (failingPackager) Package(context.Context, archive.Request) (*archive.Result, error) {
	return nil, errors.New("disk full")
}

type fakeHistory map[string]model.Status

func (h fakeHistory) LastStatus(_ context.Context, _ string, repoID string) (model.Status, bool, error) {
	st, ok := h[repoID]
	return st, ok, nil
}

func repo(name string) model.RepositoryDescriptor {
	return model.RepositoryDescriptor{
		ID:            "id-" + name,
		Name:          name,
		RemoteURL:     "https://tfs.example.com/tfs/DefaultCollection/Proj/_git/" + name,
		DefaultBranch: "refs/heads/master",
	}
}

func testConfig(t *testing.T) model.RunConfiguration {
	t.Helper()

	cfg := model.DefaultRunConfiguration()
	cfg.CollectionURL = "https://tfs.example.com/tfs/DefaultCollection"
	cfg.Project = "Proj"
	cfg.OutRoot = filepath.Join(t.TempDir(), "out")
	cfg.Credentials = model.TokenCredentials{Token: "s3cr3t-token"}

	return cfg
}

type harness struct {
	vcs    *fakeVCS
	lister *fakeLister
	opts   Options

	mu     sync.Mutex
	events []Event
}

func newHarness(repos ...model.RepositoryDescriptor) *harness {
	h := &harness{
		vcs:    &fakeVCS{mirrorErr: map[string][]error{}, empty: map[string]bool{}},
		lister: &fakeLister{repos: repos},
	}

	h.opts = Options{
		Lister:       h.lister,
		VCS:          h.vcs,
		Packager:     archive.NewPackager(discard),
		Logger:       discard,
		RunID:        "run-1",
		Secrets:      []string{"s3cr3t-token"},
		RetryBackoff: time.Millisecond,
		Observer: ObserverFunc(func(e Event) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		}),
	}

	return h
}

func (h *harness) run(t *testing.T, ctx context.Context, cfg model.RunConfiguration) (*model.RunReport, error) {
	t.Helper()

	h.opts.Recorder = report.New("run-1", cfg.Project, report.WithLogger(discard))

	r, err := New(cfg, h.opts)
	require.NoError(t, err)

	return r.Run(ctx)
}

func (h *harness) eventsOf(kind EventKind) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Event

	for _, e := range h.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}

	return out
}

func taskByName(t *testing.T, rep *model.RunReport, name string) model.ArchivalTask {
	t.Helper()

	for _, task := range rep.Tasks {
		if task.Descriptor.Name == name {
			return task
		}
	}

	t.Fatalf("task %s not in report", name)

	return model.ArchivalTask{}
}

func TestRun_FailureIsIsolated(t *testing.T) {
	cfg := testConfig(t)
	cfg.ZipEnabled = true

	h := newHarness(repo("repoA"), repo("repoB"))
	h.vcs.mirrorErr["repoB"] = []error{errors.New("fatal: unable to access 'https://tfs.example.com/': Connection timed out")}

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, rep.Tasks, 2)
	assert.Equal(t, model.Summary{Total: 2, Succeeded: 1, Failed: 1}, rep.Summary)
	assert.Equal(t, 1, rep.ExitCode())

	a := taskByName(t, rep, "repoA")
	assert.Equal(t, model.StatusSucceeded, a.Status)
	assert.Equal(t, model.StageCleanup, a.StageReached)
	assert.Equal(t, filepath.Join(cfg.OutRoot, "bundles", "repoA.zip"), a.ArtifactPath)
	assert.FileExists(t, a.ArtifactPath)
	assert.NoFileExists(t, filepath.Join(cfg.OutRoot, "bundles", "repoA.bundle"))
	assert.NoDirExists(t, filepath.Join(cfg.OutRoot, "mirrors", "repoA.git"))

	_, err = archive.Verify(context.Background(), a.ArtifactPath, "repoA.bundle", RestoreEN, RestoreRU)
	require.NoError(t, err)

	b := taskByName(t, rep, "repoB")
	assert.Equal(t, model.StatusFailed, b.Status)
	assert.Equal(t, model.StageMirror, b.StageReached)
	assert.Equal(t, model.StageMirror, b.FailedStage)
	assert.Contains(t, b.ErrorDetail, "Connection timed out")
	assert.Equal(t, model.StageMirror, FailedStage(b.Err))
	assert.Empty(t, b.ArtifactPath)

	assert.FileExists(t, filepath.Join(cfg.OutRoot, RootReadmeName))
	assert.Len(t, h.eventsOf(EventTaskFinished), 2)
	assert.Len(t, h.eventsOf(EventRunFinished), 1)
}

func TestRun_SkipsExistingArtifact(t *testing.T) {
	cfg := testConfig(t)
	cfg.ZipEnabled = true

	layout := NewLayout(cfg.OutRoot)
	require.NoError(t, layout.Prepare())
	require.NoError(t, os.WriteFile(layout.ZipPath("repoA"), []byte("previous"), 0o644))

	h := newHarness(repo("repoA"))

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	task := taskByName(t, rep, "repoA")
	assert.Equal(t, model.StatusSkipped, task.Status)
	assert.Equal(t, model.SkipReasonArtifactExists, task.SkipReason)
	assert.Equal(t, model.StageDiscover, task.StageReached)
	assert.Equal(t, layout.ZipPath("repoA"), task.ArtifactPath)
	assert.Equal(t, int64(len("previous")), task.ArtifactSize)
	assert.Empty(t, h.vcs.callsFor("repoA"))
	assert.Equal(t, 0, rep.ExitCode())

	data, err := os.ReadFile(layout.ZipPath("repoA"))
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
}

func TestRun_ReplacesExistingArtifactWhenNotSkipping(t *testing.T) {
	cfg := testConfig(t)
	cfg.ZipEnabled = true
	cfg.SkipExisting = false

	layout := NewLayout(cfg.OutRoot)
	require.NoError(t, layout.Prepare())
	require.NoError(t, os.WriteFile(layout.ZipPath("repoA"), []byte("previous"), 0o644))

	h := newHarness(repo("repoA"))

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	task := taskByName(t, rep, "repoA")
	assert.Equal(t, model.StatusSucceeded, task.Status)
	assert.Contains(t, task.Warnings, "replaced existing container")

	_, err = archive.Verify(context.Background(), layout.ZipPath("repoA"))
	require.NoError(t, err)
}

func TestRun_PackageFailureSkipsCleanup(t *testing.T) {
	cfg := testConfig(t)
	cfg.ZipEnabled = true

	h := newHarness(repo("repoA"))
	h.opts.Packager = failingPackager{}

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	task := taskByName(t, rep, "repoA")
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, model.StagePackage, task.FailedStage)
	assert.Equal(t, model.StagePackage, task.StageReached)
	assert.Contains(t, task.ErrorDetail, "disk full")

	var se *StageError
	require.ErrorAs(t, task.Err, &se)
	assert.Equal(t, "PackageError", se.Kind())

	// intermediates are kept for inspection
	assert.FileExists(t, task.BundlePath)
	assert.DirExists(t, task.MirrorPath)
	assert.NoFileExists(t, task.ZipPath)
}

func TestRun_CleanupFlags(t *testing.T) {
	tests := []struct {
		name          string
		zip           bool
		deleteBundle  bool
		keepMirrors   bool
		wantBundle    bool
		wantMirror    bool
		wantArtifact  string
		wantLastStage model.Stage
	}{
		{"bundle only", false, true, false, true, false, ".bundle", model.StageCleanup},
		{"bundle only keep mirror", false, true, true, true, true, ".bundle", model.StageVerify},
		{"zip keep everything", true, false, true, true, true, ".zip", model.StagePackage},
		{"zip delete bundle keep mirror", true, true, true, false, true, ".zip", model.StageCleanup},
		{"zip keep bundle drop mirror", true, false, false, true, false, ".zip", model.StageCleanup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.ZipEnabled = tt.zip
			cfg.DeleteAfterZip = tt.deleteBundle
			cfg.KeepMirrors = tt.keepMirrors

			h := newHarness(repo("repoA"))

			rep, err := h.run(t, context.Background(), cfg)
			require.NoError(t, err)

			task := taskByName(t, rep, "repoA")
			require.Equal(t, model.StatusSucceeded, task.Status, task.ErrorDetail)
			assert.Equal(t, tt.wantLastStage, task.StageReached)
			assert.Equal(t, tt.wantArtifact, filepath.Ext(task.ArtifactPath))
			assert.FileExists(t, task.ArtifactPath)
			assert.Empty(t, task.Warnings)

			if tt.wantBundle {
				assert.FileExists(t, task.BundlePath)
			} else {
				assert.NoFileExists(t, task.BundlePath)
			}

			if tt.wantMirror {
				assert.DirExists(t, task.MirrorPath)
			} else {
				assert.NoDirExists(t, task.MirrorPath)
			}
		})
	}
}

func TestRun_EmptyRepository(t *testing.T) {
	cfg := testConfig(t)
	cfg.ZipEnabled = true

	h := newHarness(repo("empty"))
	h.vcs.empty["empty"] = true

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	task := taskByName(t, rep, "empty")
	assert.Equal(t, model.StatusSucceeded, task.Status)
	assert.True(t, task.Empty)
	assert.Contains(t, task.Warnings, "repository is empty")
	assert.Equal(t, "OK (empty repository)", task.Message())
	assert.NotContains(t, h.vcs.callsFor("empty"), "bundle:empty")

	m, err := archive.Verify(context.Background(), task.ArtifactPath)
	require.NoError(t, err)
	assert.True(t, m.Empty)
	assert.Equal(t, int64(len("# v2 git bundle\n\n")), m.BundleSize)
}

func TestRun_PathCollision(t *testing.T) {
	cfg := testConfig(t)

	h := newHarness(repo("My Repo"), repo("My_Repo"))

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	first := taskByName(t, rep, "My Repo")
	assert.Equal(t, model.StatusSucceeded, first.Status)

	second := taskByName(t, rep, "My_Repo")
	assert.Equal(t, model.StatusFailed, second.Status)
	assert.Equal(t, model.StageMirror, second.FailedStage)

	var pc *PathCollisionError
	require.ErrorAs(t, second.Err, &pc)
	assert.Equal(t, "My Repo", pc.Existing)
	assert.Empty(t, h.vcs.callsFor("My_Repo"))
}

func TestRun_DisabledRepository(t *testing.T) {
	cfg := testConfig(t)

	d := repo("old")
	d.Disabled = true

	h := newHarness(d)

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	task := taskByName(t, rep, "old")
	assert.Equal(t, model.StatusSkipped, task.Status)
	assert.Equal(t, model.SkipReasonDisabled, task.SkipReason)
	assert.Empty(t, h.vcs.callsFor("old"))
}

func TestRun_Cancellation(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(repo("repoA"), repo("repoB"), repo("repoC"))
	h.vcs.onMirror = func(name string) {
		if name == "repoA" {
			cancel()
		}
	}

	rep, err := h.run(t, ctx, cfg)
	require.ErrorIs(t, err, ErrCancelled)
	require.NotNil(t, rep)

	assert.True(t, rep.Cancelled)
	require.Len(t, rep.Tasks, 3)
	assert.Equal(t, 3, rep.Summary.Total)

	a := taskByName(t, rep, "repoA")
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, model.StageMirror, a.FailedStage)
	assert.ErrorIs(t, a.Err, ErrCancelled)

	for _, name := range []string{"repoB", "repoC"} {
		task := taskByName(t, rep, name)
		assert.Equal(t, model.StatusSkipped, task.Status)
		assert.Equal(t, model.SkipReasonCancelled, task.SkipReason)
		assert.Empty(t, h.vcs.callsFor(name))
	}

	for _, task := range rep.Tasks {
		assert.True(t, task.Status.Terminal())
	}
}

func TestRun_Parallel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Parallel = 3

	var repos []model.RepositoryDescriptor
	for i := range 6 {
		repos = append(repos, repo(fmt.Sprintf("repo%d", i)))
	}

	h := newHarness(repos...)
	h.vcs.delay = 100 * time.Millisecond

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, model.Summary{Total: 6, Succeeded: 6}, rep.Summary)
	assert.LessOrEqual(t, h.vcs.maxRunning.Load(), int32(3))
	assert.Greater(t, h.vcs.maxRunning.Load(), int32(1))

	seen := map[int]bool{}
	for _, e := range h.eventsOf(EventTaskFinished) {
		assert.Equal(t, 6, e.Total)
		seen[e.Index] = true
	}

	assert.Len(t, seen, 6)
}

func TestRun_RetriesNetworkErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.NetworkRetries = 2

	h := newHarness(repo("flaky"))
	h.vcs.mirrorErr["flaky"] = []error{errors.New("Could not resolve host: tfs.example.com")}
	h.opts.Retryable = func(error) bool { return true }

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	task := taskByName(t, rep, "flaky")
	assert.Equal(t, model.StatusSucceeded, task.Status)
	assert.Equal(t, 2, task.Attempts)
}

func TestRun_GivesUpAfterRetries(t *testing.T) {
	cfg := testConfig(t)
	cfg.NetworkRetries = 1

	netErr := errors.New("Could not resolve host: tfs.example.com")

	h := newHarness(repo("down"))
	h.vcs.mirrorErr["down"] = []error{netErr, netErr, netErr}
	h.opts.Retryable = func(error) bool { return true }

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	task := taskByName(t, rep, "down")
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, 2, task.Attempts)
	assert.Contains(t, task.ErrorDetail, "failed after 2 attempts")
	assert.ErrorIs(t, task.Err, netErr)
}

func TestRun_CancellationStopsMirrorRetries(t *testing.T) {
	netErr := errors.New("Could not resolve host: tfs.example.com")

	tests := []struct {
		name   string
		cancel func(cancel context.CancelFunc)
	}{
		{
			name:   "during attempt",
			cancel: func(cancel context.CancelFunc) { cancel() },
		},
		{
			name:   "during backoff",
			cancel: func(cancel context.CancelFunc) { time.AfterFunc(50*time.Millisecond, cancel) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.NetworkRetries = 3

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			h := newHarness(repo("down"), repo("next"))
			h.vcs.mirrorErr["down"] = []error{netErr, netErr, netErr, netErr}
			h.opts.Retryable = func(error) bool { return true }
			h.opts.RetryBackoff = 10 * time.Second
			h.vcs.onMirror = func(name string) {
				if name == "down" {
					tt.cancel(cancel)
				}
			}

			started := time.Now()

			rep, err := h.run(t, ctx, cfg)
			require.ErrorIs(t, err, ErrCancelled)
			assert.Less(t, time.Since(started), 5*time.Second)

			task := taskByName(t, rep, "down")
			assert.Equal(t, model.StatusFailed, task.Status)
			assert.Equal(t, model.StageMirror, task.FailedStage)
			assert.Equal(t, 1, task.Attempts)
			assert.ErrorIs(t, task.Err, netErr)
			assert.Equal(t, []string{"mirror:down"}, h.vcs.callsFor("down"))

			next := taskByName(t, rep, "next")
			assert.Equal(t, model.StatusSkipped, next.Status)
			assert.Equal(t, model.SkipReasonCancelled, next.SkipReason)
		})
	}
}

func TestRun_SecondRunSkipsEverything(t *testing.T) {
	cfg := testConfig(t)
	cfg.ZipEnabled = true

	h := newHarness(repo("repoA"), repo("repoB"))

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, model.Summary{Total: 2, Succeeded: 2}, rep.Summary)

	h.vcs.mu.Lock()
	before := len(h.vcs.calls)
	h.vcs.mu.Unlock()

	rep, err = h.run(t, context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, model.Summary{Total: 2, Skipped: 2}, rep.Summary)

	h.vcs.mu.Lock()
	assert.Len(t, h.vcs.calls, before, "no version control work on the second run")
	h.vcs.mu.Unlock()

	layout := NewLayout(cfg.OutRoot)

	for _, task := range rep.Tasks {
		assert.Equal(t, model.SkipReasonArtifactExists, task.SkipReason)
		assert.Equal(t, layout.ZipPath(task.Descriptor.SafeName()), task.ArtifactPath)
		assert.FileExists(t, task.ArtifactPath)
	}
}

func TestRun_StagesAdvanceInOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.ZipEnabled = true
	cfg.Parallel = 3

	h := newHarness(repo("repoA"), repo("repoB"), repo("repoC"), repo("broken"))
	h.vcs.mirrorErr["broken"] = []error{errors.New("fatal: repository not found")}

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	seen := map[string][]model.Stage{}

	for _, e := range h.eventsOf(EventStageStarted) {
		require.NotNil(t, e.Task)
		assert.Equal(t, e.Stage, e.Task.StageReached, e.Repo)
		seen[e.Repo] = append(seen[e.Repo], e.Stage)
	}

	for name, stages := range seen {
		for i := 1; i < len(stages); i++ {
			assert.GreaterOrEqual(t, stages[i], stages[i-1], name)
		}

		task := taskByName(t, rep, name)
		assert.Equal(t, stages[len(stages)-1], task.StageReached, name)
	}

	full := []model.Stage{model.StageMirror, model.StageBundle, model.StageVerify, model.StagePackage, model.StageCleanup}
	for _, name := range []string{"repoA", "repoB", "repoC"} {
		assert.Equal(t, full, seen[name], name)
	}

	assert.Equal(t, []model.Stage{model.StageMirror}, seen["broken"])
}

func TestRun_RedactsSecrets(t *testing.T) {
	cfg := testConfig(t)

	h := newHarness(repo("repoA"))
	h.vcs.mirrorErr["repoA"] = []error{errors.New("fatal: Authentication failed for token s3cr3t-token")}

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	task := taskByName(t, rep, "repoA")
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.NotContains(t, task.ErrorDetail, "s3cr3t-token")
	assert.Contains(t, task.ErrorDetail, "Authentication failed")
}

func TestRun_DiscoveryFailure(t *testing.T) {
	cfg := testConfig(t)

	h := newHarness()
	h.lister.err = errors.New("401 Unauthorized")

	rep, err := h.run(t, context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.Empty(t, h.eventsOf(EventTaskFinished))
}

func TestRun_DryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.DryRun = true
	cfg.ZipEnabled = true

	d := repo("old")
	d.Disabled = true

	h := newHarness(repo("repoA"), d)

	rep, err := h.run(t, context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Summary.Total)
	assert.Empty(t, rep.Tasks)
	assert.NoDirExists(t, cfg.OutRoot)
	assert.Empty(t, h.vcs.callsFor("repoA"))

	planned := h.eventsOf(EventPlanned)
	require.Len(t, planned, 2)
	assert.Equal(t, ActionArchive, planned[0].Message)
	assert.Equal(t, ActionSkipDisabled, planned[1].Message)
}

func TestPlan_Selection(t *testing.T) {
	repos := []model.RepositoryDescriptor{repo("Core.Api"), repo("core-web"), repo("Billing"), repo("CoreTools")}

	tests := []struct {
		name    string
		mutate  func(*model.RunConfiguration)
		history fakeHistory
		want    []string
	}{
		{
			name: "all",
			want: []string{"Core.Api", "core-web", "Billing", "CoreTools"},
		},
		{
			name:   "only substring ignores case",
			mutate: func(c *model.RunConfiguration) { c.Only = "CORE" },
			want:   []string{"Core.Api", "core-web", "CoreTools"},
		},
		{
			name:   "filter pattern",
			mutate: func(c *model.RunConfiguration) { c.Filter = regexp.MustCompile(`^Core`) },
			want:   []string{"Core.Api", "CoreTools"},
		},
		{
			name:   "max repos after filters",
			mutate: func(c *model.RunConfiguration) { c.Only = "core"; c.MaxRepos = 2 },
			want:   []string{"Core.Api", "core-web"},
		},
		{
			name:   "retry failed",
			mutate: func(c *model.RunConfiguration) { c.RetryFailed = true },
			history: fakeHistory{
				"id-Core.Api":  model.StatusSucceeded,
				"id-core-web":  model.StatusFailed,
				"id-CoreTools": model.StatusSkipped,
			},
			want: []string{"core-web", "Billing", "CoreTools"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			h := newHarness(repos...)
			if tt.history != nil {
				h.opts.History = tt.history
			}

			h.opts.Recorder = report.New("run-1", cfg.Project)

			r, err := New(cfg, h.opts)
			require.NoError(t, err)

			plan, err := r.Plan(context.Background())
			require.NoError(t, err)

			var got []string
			for i, p := range plan {
				assert.Equal(t, i+1, p.Index)
				got = append(got, p.Task.Descriptor.Name)
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	cfg := testConfig(t)

	_, err := New(cfg, Options{})
	assert.Error(t, err)

	_, err = New(cfg, Options{Lister: &fakeLister{}})
	assert.Error(t, err)

	cfg.ZipEnabled = true
	_, err = New(cfg, Options{Lister: &fakeLister{}, VCS: &fakeVCS{}, Recorder: report.New("r", "p")})
	assert.Error(t, err)

	cfg.DryRun = true
	r, err := New(cfg, Options{Lister: &fakeLister{}})
	require.NoError(t, err)
	assert.NotEmpty(t, r.RunID())
}
