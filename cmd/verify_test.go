package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inovacc/tfsarchive/internal/archive"
	"github.com/inovacc/tfsarchive/internal/git"
)

type fakeVerifier struct {
	calls []string
	err   error
}

func (f *fakeVerifier) VerifyBundle(_ context.Context, dir, bundlePath string) error {
	f.calls = append(f.calls, dir+"|"+filepath.Base(bundlePath))
	return f.err
}

func writeRefBundle(t *testing.T, path string) {
	t.Helper()

	content := "# v2 git bundle\n" + strings.Repeat("a", 40) + " refs/heads/master\n\nPACK"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollectArtifacts(t *testing.T) {
	dir := t.TempDir()

	writeRefBundle(t, filepath.Join(dir, "b.bundle"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.zip"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.bundle"), 0o755))

	got, err := collectArtifacts([]string{dir, filepath.Join(dir, "b.bundle")})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "a.zip"), filepath.Join(dir, "b.bundle")}, got)

	_, err = collectArtifacts([]string{filepath.Join(dir, "missing")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVerifyArtifact_Bundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.bundle")
	writeRefBundle(t, path)

	v := &fakeVerifier{}

	detail, err := verifyArtifact(context.Background(), v, path)
	require.NoError(t, err)
	assert.Equal(t, " 1 refs", detail)
	assert.Equal(t, []string{"|repo.bundle"}, v.calls)

	v.err = errors.New("bad pack")

	_, err = verifyArtifact(context.Background(), v, path)
	assert.EqualError(t, err, "bad pack")
}

func TestVerifyArtifact_EmptyBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bundle")
	require.NoError(t, git.WriteEmptyBundle(path))

	v := &fakeVerifier{}

	detail, err := verifyArtifact(context.Background(), v, path)
	require.NoError(t, err)
	assert.Equal(t, " empty", detail)
	assert.Empty(t, v.calls)
}

func TestVerifyArtifact_Container(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(dir, "repo.bundle")
	writeRefBundle(t, bundle)

	zipPath := filepath.Join(dir, "repo.zip")
	packager := archive.NewPackager(slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := packager.Package(context.Background(), archive.Request{
		BundlePath: bundle,
		ZipPath:    zipPath,
		Manifest:   archive.Manifest{Repository: "repo", RepositoryID: "1"},
	})
	require.NoError(t, err)

	v := &fakeVerifier{}

	detail, err := verifyArtifact(context.Background(), v, zipPath)
	require.NoError(t, err)
	assert.Equal(t, " (repo 1 refs)", detail)
	assert.Equal(t, []string{"|repo.bundle"}, v.calls)
}

func TestVerifyArtifacts_CountsFailures(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.bundle")
	require.NoError(t, git.WriteEmptyBundle(good))

	bad := filepath.Join(dir, "bad.bundle")
	require.NoError(t, os.WriteFile(bad, []byte("not a bundle"), 0o644))

	var out bytes.Buffer

	failed := verifyArtifacts(context.Background(), &out, &fakeVerifier{}, []string{good, bad})
	assert.Equal(t, 1, failed)
	assert.Contains(t, out.String(), "good.bundle empty")
	assert.Contains(t, out.String(), "bad.bundle: ")
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := &ExitError{Code: ExitFailures, Err: inner}

	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "exit status 2", (&ExitError{Code: ExitUsage}).Error())
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "first", firstLine("first\nsecond"))
	assert.Len(t, firstLine(strings.Repeat("x", 100)), 60)
	assert.Equal(t, "-", artifactName(""))
	assert.Equal(t, "repo.zip", artifactName("/out/bundles/repo.zip"))
}
