package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/inovacc/tfsarchive/internal/archive"
	"github.com/inovacc/tfsarchive/internal/git"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <artifact|dir>...",
	Short: "Verify archived bundles and zip containers",
	Long: `Verify re-checks artifacts produced by archive. A bundle is checked with
git bundle verify. A zip container is read entry by entry, its bundle is
compared with the manifest checksum, then extracted and verified with git.

A directory argument verifies every .bundle and .zip directly inside it.

Examples:
  tfsarchive verify /srv/archive/bundles
  tfsarchive verify /srv/archive/bundles/Billing.zip`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	paths, err := collectArtifacts(args)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	if len(paths) == 0 {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("no .bundle or .zip artifacts found")}
	}

	gc, err := git.NewClient()
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	failed := verifyArtifacts(cmd.Context(), os.Stdout, gc, paths)
	if failed > 0 {
		return &ExitError{Code: ExitFailures, Err: fmt.Errorf("%d of %d artifacts failed verification", failed, len(paths))}
	}

	return nil
}

// collectArtifacts expands directories into the artifacts they contain.
func collectArtifacts(args []string) ([]string, error) {
	var out []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			out = append(out, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}

		for _, e := range entries {
			if e.IsDir() || !isArtifact(e.Name()) {
				continue
			}

			out = append(out, filepath.Join(arg, e.Name()))
		}
	}

	slices.Sort(out)

	return slices.Compact(out), nil
}

func isArtifact(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == archive.BundleExt || ext == archive.ContainerExt
}

type bundleVerifier interface {
	VerifyBundle(ctx context.Context, dir, bundlePath string) error
}

func verifyArtifacts(ctx context.Context, w io.Writer, v bundleVerifier, paths []string) int {
	ok := color.New(color.FgGreen)
	fail := color.New(color.FgRed)

	failed := 0

	for _, path := range paths {
		detail, err := verifyArtifact(ctx, v, path)
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(w, "%s %s: %v\n", fail.Sprint("FAIL"), path, err)

			continue
		}

		_, _ = fmt.Fprintf(w, "%s   %s%s\n", ok.Sprint("OK"), path, detail)
	}

	return failed
}

func verifyArtifact(ctx context.Context, v bundleVerifier, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case archive.BundleExt:
		return verifyBundleFile(ctx, v, path)

	case archive.ContainerExt:
		manifest, err := archive.Verify(ctx, path)
		if err != nil {
			return "", err
		}

		tmp, err := os.MkdirTemp("", "tfsarchive-verify-*")
		if err != nil {
			return "", err
		}
		defer func() { _ = os.RemoveAll(tmp) }()

		bundle, err := archive.ExtractBundle(ctx, path, tmp)
		if err != nil {
			return "", err
		}

		detail, err := verifyBundleFile(ctx, v, bundle)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf(" (%s%s)", manifest.Repository, detail), nil
	}

	return "", fmt.Errorf("not a .bundle or .zip artifact")
}

func verifyBundleFile(ctx context.Context, v bundleVerifier, path string) (string, error) {
	h, err := git.ReadBundleHeader(path)
	if err != nil {
		return "", err
	}

	if len(h.Refs) == 0 {
		if err := git.VerifyEmptyBundle(path); err != nil {
			return "", err
		}

		return " empty", nil
	}

	if err := v.VerifyBundle(ctx, "", path); err != nil {
		return "", err
	}

	return fmt.Sprintf(" %d refs", len(h.Refs)), nil
}
