package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inovacc/tfsarchive/internal/application"
	"github.com/inovacc/tfsarchive/internal/git"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), application.VersionString())

		client, err := git.NewClient()
		if err != nil {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "git: not found")
			return nil
		}

		v, err := client.Version(context.Background())
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
