package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/inovacc/tfsarchive/internal/config"
	"github.com/inovacc/tfsarchive/internal/model"
)

var listFormat string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the repositories of a Team Project",
	Long: `List every Git repository the server reports for the project, with its
identifier, size, default branch and whether it is disabled.

Examples:
  tfsarchive list -p Payments
  tfsarchive list -p Payments --format json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	config.RegisterConnectionFlags(listCmd.Flags())
	listCmd.Flags().StringVar(&listFormat, "format", "table", "Output format: table or json")
}

func runList(cmd *cobra.Command, _ []string) error {
	if listFormat != "table" && listFormat != "json" {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("unknown format %q", listFormat)}
	}

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	// listing writes nothing locally
	if settings.OutRoot == "" {
		settings.OutRoot = "."
	}

	cfg, err := runConfiguration(settings)
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stderr, settings.LogLevel, settings.JSONLogs)

	lister, err := newLister(cfg, logger)
	if err != nil {
		return err
	}

	repos, err := lister.ListRepositories(cmd.Context())
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	if listFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(lo.Ternary(repos == nil, []model.RepositoryDescriptor{}, repos))
	}

	if len(repos) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "No repositories in %s.\n", cfg.Project)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "NAME\tID\tSIZE\tDEFAULT BRANCH\tDISABLED")
	_, _ = fmt.Fprintln(w, "----\t--\t----\t--------------\t--------")

	for _, r := range repos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Name,
			r.ID,
			humanize.Bytes(uint64(max(r.Size, 0))),
			strings.TrimPrefix(r.DefaultBranch, "refs/heads/"),
			lo.Ternary(r.Disabled, "yes", ""),
		)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	size := lo.SumBy(repos, func(r model.RepositoryDescriptor) int64 { return max(r.Size, 0) })
	_, _ = fmt.Fprintf(os.Stdout, "\n%d repositories, %s reported by the server\n", len(repos), humanize.Bytes(uint64(size)))

	return nil
}
