package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// ErrNotMirror is returned when a directory is not a bare mirror clone.
var ErrNotMirror = errors.New("not a bare mirror")

// CoreSection is the [core] section of a repository config.
type CoreSection struct {
	RepositoryFormatVersion int  `ini:"repositoryformatversion"`
	Bare                    bool `ini:"bare"`
}

// RemoteSection is a [remote "name"] section of a repository config.
type RemoteSection struct {
	URL    string `ini:"url"`
	Fetch  string `ini:"fetch"`
	Mirror bool   `ini:"mirror"`
}

// MirrorConfig is the subset of a mirror's config that matters for archival.
type MirrorConfig struct {
	Core   CoreSection
	Origin RemoteSection
}

// ReadMirrorConfig parses <dir>/config.
func ReadMirrorConfig(dir string) (*MirrorConfig, error) {
	path := filepath.Join(dir, "config")

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s has no config", ErrNotMirror, dir)
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var mc MirrorConfig

	if err := cfg.Section("core").MapTo(&mc.Core); err != nil {
		return nil, err
	}

	if sec, err := cfg.GetSection(`remote "origin"`); err == nil {
		if err := sec.MapTo(&mc.Origin); err != nil {
			return nil, err
		}
	}

	return &mc, nil
}

// CheckMirror confirms that dir holds a bare mirror clone.
func CheckMirror(dir string) error {
	mc, err := ReadMirrorConfig(dir)
	if err != nil {
		return err
	}

	if !mc.Core.Bare {
		return fmt.Errorf("%w: core.bare is false in %s", ErrNotMirror, dir)
	}

	return nil
}
