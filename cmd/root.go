package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inovacc/tfsarchive/internal/application"
)

// Process exit codes
const (
	ExitOK        = 0
	ExitFailures  = 1
	ExitUsage     = 2
	ExitCancelled = 130
)

// ExitError carries the exit code a command wants the process to end with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}

	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

var rootCmd = &cobra.Command{
	Use:   application.AppName,
	Short: "Archive every Git repository of a TFS / Azure DevOps Team Project",
	Long: `tfsarchive lists the Git repositories of a Team Project on an on-premise
TFS or Azure DevOps Server and archives each one as a verified, self-contained
git bundle, optionally packaged into a zip with restoration notes.

Every repository is processed independently: one failure never stops the run,
existing artifacts are skipped so interrupted runs can be resumed, and each run
leaves a CSV and JSON report next to its log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	os.Exit(run())
}

func run() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitOK
	}

	code := ExitUsage

	var ee *ExitError
	if errors.As(err, &ee) {
		code = ee.Code
	}

	if code != ExitCancelled {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	return code
}

// GetRootCmd returns the root command for introspection purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}
