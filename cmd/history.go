package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/inovacc/tfsarchive/internal/archiver"
	"github.com/inovacc/tfsarchive/internal/config"
	"github.com/inovacc/tfsarchive/internal/encoding"
	"github.com/inovacc/tfsarchive/internal/ledger"
	"github.com/inovacc/tfsarchive/internal/model"
)

var (
	historyLimit   int
	historyRepos   bool
	historyJSONOut bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show previous runs recorded in the resume ledger",
	Long: `History reads the resume ledger of an output root and prints the most recent
runs, or with --repos the last recorded outcome of every repository.

Examples:
  tfsarchive history -o /srv/archive
  tfsarchive history -o /srv/archive -p Payments --repos`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	def := config.Default()

	historyCmd.Flags().String(config.FlagConfig, "", "Path to a yaml configuration file")
	historyCmd.Flags().StringP(config.FlagOut, "o", "", "Output root directory")
	historyCmd.Flags().StringP(config.FlagProject, "p", "", "Only show this Team Project")
	historyCmd.Flags().String(config.FlagLedger, def.Ledger, "Resume ledger backend: bolt or sqlite")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 = all)")
	historyCmd.Flags().BoolVar(&historyRepos, "repos", false, "Show the last outcome of every repository instead of runs")
	historyCmd.Flags().BoolVar(&historyJSONOut, "output-json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	settings, _, err := config.Load(cmd.Flags(), os.Getenv)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	if settings.OutRoot == "" {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("output root is required")}
	}

	backend := model.LedgerBackend(settings.Ledger)
	path := archiver.NewLayout(settings.OutRoot).LedgerPath(backend)

	if !encoding.FileExists(path) {
		_, _ = fmt.Fprintf(os.Stdout, "No ledger at %s.\n", path)
		return nil
	}

	l, err := ledger.Open(backend, path)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	defer func() { _ = l.Close() }()

	ctx := cmd.Context()

	if historyRepos {
		if settings.Project == "" {
			return &ExitError{Code: ExitUsage, Err: fmt.Errorf("--repos needs a project")}
		}

		entries, err := l.Entries(ctx, settings.Project)
		if err != nil {
			return err
		}

		if historyJSONOut {
			return printJSON(entries)
		}

		return printEntries(entries)
	}

	runs, err := l.Runs(ctx, settings.Project, historyLimit)
	if err != nil {
		return err
	}

	if historyJSONOut {
		return printJSON(runs)
	}

	return printRuns(runs)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func printRuns(runs []ledger.Run) error {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "STARTED\tPROJECT\tTOTAL\tOK\tSKIPPED\tFAILED\tDURATION\tRUN")
	_, _ = fmt.Fprintln(w, "-------\t-------\t-----\t--\t-------\t------\t--------\t---")

	for _, r := range runs {
		duration := r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		if r.Cancelled {
			duration += " (cancelled)"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Project,
			r.Summary.Total,
			r.Summary.Succeeded,
			r.Summary.Skipped,
			r.Summary.Failed,
			duration,
			r.RunID,
		)
	}

	return w.Flush()
}

func printEntries(entries []ledger.Entry) error {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No repositories recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "REPOSITORY\tSTATUS\tSTAGE\tFINISHED\tARTIFACT\tERROR")
	_, _ = fmt.Fprintln(w, "----------\t------\t-----\t--------\t--------\t-----")

	for _, e := range entries {
		stage := e.StageReached
		if e.FailedStage != "" {
			stage = e.FailedStage
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.RepoName,
			e.Status,
			stage,
			e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			artifactName(e.ArtifactPath),
			firstLine(e.Error),
		)
	}

	return w.Flush()
}

func artifactName(path string) string {
	if path == "" {
		return "-"
	}

	return filepath.Base(path)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return truncate(line, 60)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n-3] + "..."
}
