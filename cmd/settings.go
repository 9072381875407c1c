package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/inovacc/tfsarchive/internal/config"
	"github.com/inovacc/tfsarchive/internal/git"
	"github.com/inovacc/tfsarchive/internal/model"
	"github.com/inovacc/tfsarchive/internal/tfs"
)

// loadSettings resolves the settings of cmd and asks for a missing basic
// auth password when a terminal is available.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	s, path, err := config.Load(cmd.Flags(), os.Getenv)
	if err != nil {
		return s, &ExitError{Code: ExitUsage, Err: err}
	}

	if path != "" {
		slog.Debug("configuration file loaded", slog.String("path", path))
	}

	if s.NeedsPassword() {
		password, err := config.PromptPassword(os.Stderr, int(os.Stdin.Fd()), s.Auth.Username)
		if err != nil {
			return s, &ExitError{Code: ExitUsage, Err: err}
		}

		s.Auth.Password = password
	}

	return s, nil
}

func runConfiguration(s config.Settings) (model.RunConfiguration, error) {
	cfg, err := s.RunConfiguration()
	if err != nil {
		return cfg, &ExitError{Code: ExitUsage, Err: fmt.Errorf("invalid configuration: %w", err)}
	}

	return cfg, nil
}

func newLister(cfg model.RunConfiguration, logger *slog.Logger) (*tfs.Client, error) {
	client, err := tfs.NewClient(cfg.CollectionURL, cfg.Project, cfg.APIVersion, cfg.Credentials, tfs.WithLogger(logger))
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Err: err}
	}

	return client, nil
}

func newGitClient(logger *slog.Logger, secrets []string) (*git.Client, error) {
	client, err := git.NewClient()
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Err: err}
	}

	client.Logger = logger
	client.Secrets = secrets

	return client, nil
}
