// Package archive builds and checks the per-repository zip container that
// wraps a bundle together with its restoration documents.
package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mholt/archives"

	"github.com/inovacc/tfsarchive/internal/encoding"
)

// Container format constants
const (
	ManifestVersion  = 1
	ManifestFileName = "manifest.json"
	ContainerExt     = ".zip"
	BundleExt        = ".bundle"
)

var (
	// ErrContainerExists is returned when the target container is present and
	// replacing it was not requested.
	ErrContainerExists = errors.New("container already exists")

	// ErrCorruptContainer is returned when a container fails its integrity check.
	ErrCorruptContainer = errors.New("container integrity check failed")
)

// Manifest describes the bundle stored in a container.
type Manifest struct {
	Version      int       `json:"version"`
	Repository   string    `json:"repository"`
	RepositoryID string    `json:"repository_id,omitempty"`
	Bundle       string    `json:"bundle"`
	BundleSize   int64     `json:"bundle_size"`
	BundleSHA256 string    `json:"bundle_sha256"`
	Empty        bool      `json:"empty,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Document is a text file stored next to the bundle.
type Document struct {
	Name    string
	Content []byte
}

// Request describes one container to build.
type Request struct {
	BundlePath string
	ZipPath    string
	Documents  []Document
	Manifest   Manifest
	// Replace allows an existing container at ZipPath to be overwritten.
	Replace bool
}

// Result describes a container that was written and verified.
type Result struct {
	Path     string
	Size     int64
	SHA256   string
	Replaced bool
}

// Packager writes containers.
type Packager struct {
	// Compression is the zip method, zip.Deflate unless set.
	Compression uint16
	Logger      *slog.Logger
}

// NewPackager returns a Packager using deflate compression.
func NewPackager(logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Packager{Compression: zip.Deflate, Logger: logger}
}

// Package builds the container described by req. The container is written
// to a temporary file next to ZipPath, synced, verified and only then
// renamed into place, so ZipPath is either absent, the previous container,
// or a complete new one.
func (p *Packager) Package(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Path: req.ZipPath}

	if encoding.FileExists(req.ZipPath) {
		if !req.Replace {
			return nil, fmt.Errorf("%w: %s", ErrContainerExists, req.ZipPath)
		}

		res.Replaced = true
		p.Logger.Warn("replacing existing container", slog.String("path", req.ZipPath))
	}

	sum, size, err := encoding.HashFile(req.BundlePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	manifest := req.Manifest
	manifest.Version = ManifestVersion
	manifest.Bundle = filepath.Base(req.BundlePath)
	manifest.BundleSize = size
	manifest.BundleSHA256 = sum

	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}

	staging, err := os.MkdirTemp("", "tfsarchive-docs-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	files, err := stageFiles(ctx, staging, req.BundlePath, req.Documents, manifest)
	if err != nil {
		return nil, err
	}

	p.removeStaleTemps(req.ZipPath)

	tmp, err := os.CreateTemp(filepath.Dir(req.ZipPath), tempPattern(req.ZipPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary container: %w", err)
	}

	tmpPath := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	format := archives.Zip{Compression: p.Compression, SelectiveCompression: true}
	if err := format.Archive(ctx, tmp, files); err != nil {
		return nil, fmt.Errorf("failed to write container: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync container: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close container: %w", err)
	}

	required := []string{manifest.Bundle, ManifestFileName}
	for _, d := range req.Documents {
		required = append(required, d.Name)
	}

	if _, err := Verify(ctx, tmpPath, required...); err != nil {
		return nil, err
	}

	if err := os.Rename(tmpPath, req.ZipPath); err != nil {
		return nil, fmt.Errorf("failed to move container into place: %w", err)
	}

	committed = true

	if err := encoding.SyncDir(filepath.Dir(req.ZipPath)); err != nil {
		p.Logger.Debug("directory sync failed", slog.String("error", err.Error()))
	}

	res.SHA256, res.Size, err = encoding.HashFile(req.ZipPath)
	if err != nil {
		return nil, err
	}

	return res, nil
}

func tempPattern(zipPath string) string {
	return "." + filepath.Base(zipPath) + ".tmp-*"
}

// removeStaleTemps deletes temporary containers an interrupted earlier run
// left next to zipPath.
func (p *Packager) removeStaleTemps(zipPath string) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(zipPath), tempPattern(zipPath)))
	if err != nil {
		return
	}

	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.Logger.Warn("failed to remove stale temporary container", slog.String("path", m), slog.String("error", err.Error()))
			continue
		}

		p.Logger.Debug("removed stale temporary container", slog.String("path", m))
	}
}

func stageFiles(ctx context.Context, staging, bundlePath string, docs []Document, manifest Manifest) ([]archives.FileInfo, error) {
	names := map[string]string{
		bundlePath: filepath.Base(bundlePath),
	}

	for _, d := range docs {
		path := filepath.Join(staging, d.Name)
		if err := os.WriteFile(path, d.Content, 0o644); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", d.Name, err)
		}

		names[path] = d.Name
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	manifestPath := filepath.Join(staging, ManifestFileName)
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stage manifest: %w", err)
	}

	names[manifestPath] = ManifestFileName

	files, err := archives.FilesFromDisk(ctx, nil, names)
	if err != nil {
		return nil, fmt.Errorf("failed to collect container files: %w", err)
	}

	// bundle first, then documents by name
	slices.SortFunc(files, func(a, b archives.FileInfo) int {
		aBundle := a.NameInArchive == manifest.Bundle
		bBundle := b.NameInArchive == manifest.Bundle

		switch {
		case aBundle && !bBundle:
			return -1
		case bBundle && !aBundle:
			return 1
		}

		return strings.Compare(a.NameInArchive, b.NameInArchive)
	})

	return files, nil
}

// Verify reads every entry of the container at path, which makes the zip
// reader validate each CRC, checks that the required entries are present
// and that the bundle matches the manifest checksum.
func Verify(ctx context.Context, path string, required ...string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var (
		manifest *Manifest
		seen     = map[string]bool{}
		sums     = map[string]string{}
	)

	err = archives.Zip{}.Extract(ctx, f, func(ctx context.Context, info archives.FileInfo) error {
		if info.IsDir() {
			return nil
		}

		rc, err := info.Open()
		if err != nil {
			return fmt.Errorf("%s: %w", info.NameInArchive, err)
		}
		defer func() { _ = rc.Close() }()

		var (
			h    hash.Hash = sha256.New()
			body strings.Builder
			w    io.Writer = h
		)

		if info.NameInArchive == ManifestFileName {
			w = io.MultiWriter(h, &body)
		}

		if _, err := io.Copy(w, rc); err != nil {
			return fmt.Errorf("%s: %w", info.NameInArchive, err)
		}

		seen[info.NameInArchive] = true
		sums[info.NameInArchive] = hex.EncodeToString(h.Sum(nil))

		if info.NameInArchive == ManifestFileName {
			var m Manifest
			if err := json.Unmarshal([]byte(body.String()), &m); err != nil {
				return fmt.Errorf("%s: %w", ManifestFileName, err)
			}

			manifest = &m
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptContainer, err)
	}

	for _, name := range required {
		if !seen[name] {
			return nil, fmt.Errorf("%w: missing entry %s", ErrCorruptContainer, name)
		}
	}

	if manifest == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrCorruptContainer, ManifestFileName)
	}

	if got, ok := sums[manifest.Bundle]; !ok || got != manifest.BundleSHA256 {
		return nil, fmt.Errorf("%w: bundle %s does not match manifest checksum", ErrCorruptContainer, manifest.Bundle)
	}

	return manifest, nil
}

// ExtractBundle copies the bundle stored in the container at path into
// destDir and returns its location.
func ExtractBundle(ctx context.Context, path, destDir string) (string, error) {
	manifest, err := Verify(ctx, path)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	dest := filepath.Join(destDir, filepath.Base(manifest.Bundle))

	err = archives.Zip{}.Extract(ctx, f, func(ctx context.Context, info archives.FileInfo) error {
		if info.NameInArchive != manifest.Bundle {
			return nil
		}

		rc, err := info.Open()
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()

		out, err := os.Create(dest)
		if err != nil {
			return err
		}

		if _, err := io.Copy(out, rc); err != nil {
			_ = out.Close()
			return err
		}

		return out.Close()
	})
	if err != nil {
		return "", fmt.Errorf("failed to extract bundle: %w", err)
	}

	return dest, nil
}
