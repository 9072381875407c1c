package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/inovacc/tfsarchive/internal/archive"
	"github.com/inovacc/tfsarchive/internal/archiver"
	"github.com/inovacc/tfsarchive/internal/cli"
	"github.com/inovacc/tfsarchive/internal/config"
	"github.com/inovacc/tfsarchive/internal/console"
	"github.com/inovacc/tfsarchive/internal/encoding"
	"github.com/inovacc/tfsarchive/internal/ledger"
	"github.com/inovacc/tfsarchive/internal/model"
	"github.com/inovacc/tfsarchive/internal/process"
	"github.com/inovacc/tfsarchive/internal/report"
	"github.com/inovacc/tfsarchive/internal/report/pgsink"
	"github.com/inovacc/tfsarchive/internal/tfs"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive every repository of a Team Project",
	Long: `Archive lists the Git repositories of the project and runs each one through
mirror, bundle, verify, optional zip packaging and cleanup.

A repository that fails never stops the run. Artifacts that already exist are
skipped unless --skip-existing=false, so an interrupted run can simply be
started again. Press Ctrl+C once to stop after the current stage; the report
is still written.

Examples:
  tfsarchive archive --collection-url https://tfs.example.com/tfs/DefaultCollection \
      --project Payments --out /srv/archive --zip
  TFS_PAT=... tfsarchive archive -p Payments -o ./archive --only billing --dry-run
  tfsarchive archive --config ./tfsarchive.yaml --retry-failed --parallel 4`,
	Args: cobra.NoArgs,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)

	config.RegisterConnectionFlags(archiveCmd.Flags())
	config.RegisterRunFlags(archiveCmd.Flags())
}

func runArchive(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	cfg, err := runConfiguration(settings)
	if err != nil {
		return err
	}

	layout := archiver.NewLayout(cfg.OutRoot)
	runID := uuid.NewString()

	useTUI := !settings.NoTUI && !settings.JSONLogs && !cfg.DryRun && config.IsTerminal(int(os.Stdout.Fd()))

	var (
		logWriter io.Writer = os.Stderr
		logPath   string
	)

	if !cfg.DryRun {
		if err := layout.Prepare(); err != nil {
			return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to prepare %s: %w", layout.Root, err)}
		}

		lock, err := process.Acquire(layout.LockPath(), runID)
		if err != nil {
			return &ExitError{Code: ExitUsage, Err: err}
		}

		defer func() {
			if err := lock.Release(); err != nil {
				slog.Warn("failed to release run lock", slog.String("error", err.Error()))
			}
		}()

		logPath = layout.LogPath(cfg.Project, runID)

		w, closeLog, err := openRunLog(logPath, !useTUI)
		if err != nil {
			return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to open log %s: %w", logPath, err)}
		}

		defer func() { _ = closeLog() }()

		logWriter = w
	}

	logger := setupLogger(logWriter, settings.LogLevel, settings.JSONLogs).With(slog.String("run_id", runID))
	slog.SetDefault(logger)

	lister, err := newLister(cfg, logger)
	if err != nil {
		return err
	}

	authHeader, err := tfs.AuthorizationHeader(cfg.Credentials)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	secrets := tfs.Secrets(cfg.Credentials)

	opts := archiver.Options{
		Lister:     lister,
		Logger:     logger,
		Layout:     layout,
		RunID:      runID,
		AuthHeader: authHeader,
		Secrets:    secrets,
	}

	ctx := context.Background()

	history, err := openHistory(cfg, layout)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	if history != nil {
		defer func() { _ = history.Close() }()
		opts.History = history
	}

	if !cfg.DryRun {
		gitClient, err := newGitClient(logger, secrets)
		if err != nil {
			return err
		}

		opts.VCS = archiver.GitVCS{Client: gitClient}
		opts.Packager = archive.NewPackager(logger)

		reporter, err := newReporter(ctx, cfg, layout, runID, logPath, history, logger)
		if err != nil {
			return &ExitError{Code: ExitUsage, Err: err}
		}

		opts.Recorder = reporter
	}

	ctx, cancel := signalContext(ctx)
	defer cancel()

	var rep *model.RunReport

	if useTUI {
		rep, err = runWithTUI(ctx, cancel, cfg, opts)
	} else {
		opts.Observer = console.New(os.Stdout, logger.Enabled(ctx, slog.LevelDebug))
		rep, err = runPlain(ctx, cfg, opts)
	}

	if rep != nil && !cfg.DryRun {
		report.PrintSummary(os.Stdout, rep)

		if rep.JSONPath != "" {
			_, _ = fmt.Fprintf(os.Stdout, "  JSON:     %s\n", rep.JSONPath)
		}
	}

	switch {
	case errors.Is(err, archiver.ErrCancelled):
		_, _ = fmt.Fprintln(os.Stderr, "Run cancelled.")
		return &ExitError{Code: ExitCancelled, Err: err}
	case err != nil && rep == nil:
		return &ExitError{Code: ExitUsage, Err: err}
	case err != nil:
		logger.Error("run finished with errors", slog.String("error", err.Error()))
	}

	if rep != nil && rep.ExitCode() == ExitFailures {
		return &ExitError{Code: ExitFailures, Err: fmt.Errorf("%d of %d repositories failed", rep.Summary.Failed, rep.Summary.Total)}
	}

	return nil
}

// openHistory opens the ledger for a real run, and for a dry run only when
// it already exists and failed repositories are being selected.
func openHistory(cfg model.RunConfiguration, layout *archiver.Layout) (ledger.Ledger, error) {
	path := layout.LedgerPath(cfg.LedgerBackend)

	if cfg.DryRun && (!cfg.RetryFailed || !encoding.FileExists(path)) {
		return nil, nil
	}

	l, err := ledger.Open(cfg.LedgerBackend, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}

	return l, nil
}

func newReporter(ctx context.Context, cfg model.RunConfiguration, layout *archiver.Layout, runID, logPath string, history ledger.Ledger, logger *slog.Logger) (*report.Reporter, error) {
	csvPath := layout.ReportPath(cfg.Project, runID, ".csv")
	jsonPath := layout.ReportPath(cfg.Project, runID, ".json")

	csvSink, err := report.NewCSVSink(csvPath)
	if err != nil {
		return nil, err
	}

	sinks := []report.Sink{csvSink, report.NewJSONSink(jsonPath)}

	if history != nil {
		sinks = append(sinks, ledger.NewSink(history, cfg.Project))
	}

	if cfg.ReportDSN != "" {
		pg, err := pgsink.Open(ctx, cfg.ReportDSN, runID, cfg.Project, time.Now())
		if err != nil {
			_ = csvSink.Close()
			return nil, err
		}

		logger.Info("reporting to database", slog.String("dsn", pgsink.RedactDSN(cfg.ReportDSN)))

		sinks = append(sinks, pg)
	}

	return report.New(runID, cfg.Project,
		report.WithLogger(logger),
		report.WithSinks(sinks...),
		report.WithPaths(csvPath, jsonPath, logPath),
	), nil
}

// signalContext cancels on the first SIGINT or SIGTERM and exits on the
// second.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			slog.Warn("interrupt received, finishing the current stage")
			cancel()
		case <-ctx.Done():
			signal.Stop(sigCh)
			return
		}

		select {
		case <-sigCh:
			_, _ = fmt.Fprintln(os.Stderr, "Forced exit.")
			os.Exit(ExitCancelled)
		case <-parent.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func runPlain(ctx context.Context, cfg model.RunConfiguration, opts archiver.Options) (*model.RunReport, error) {
	runner, err := archiver.New(cfg, opts)
	if err != nil {
		return nil, err
	}

	return runner.Run(ctx)
}

func runWithTUI(ctx context.Context, cancel context.CancelFunc, cfg model.RunConfiguration, opts archiver.Options) (*model.RunReport, error) {
	m := cli.NewArchiveModel(cfg.Project, cancel)
	p := tea.NewProgram(m)

	opts.Observer = cli.NewObserver(p)

	runner, err := archiver.New(cfg, opts)
	if err != nil {
		return nil, err
	}

	var (
		rep    *model.RunReport
		runErr error
		done   = make(chan struct{})
	)

	go func() {
		defer close(done)

		rep, runErr = runner.Run(ctx)

		// discovery failures end the run without a finish event
		if rep == nil {
			p.Quit()
		}
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done

		return rep, fmt.Errorf("TUI error: %w", err)
	}

	if m.Aborted() {
		_, _ = fmt.Fprintln(os.Stderr, "Waiting for the current stage to finish...")
	}

	<-done

	return rep, runErr
}
