package application

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// AppName is the application name used for directories and identification
	AppName = "tfsarchive"
)

// Build information, set with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	once   sync.Once
	appDir string
	errDir error
)

// ConfigDirectory returns the tfsarchive configuration directory path.
// Linux: ~/.config/tfsarchive (via os.UserConfigDir)
// Windows: C:\Users\{username}\AppData\Local\tfsarchive (via os.UserCacheDir)
func ConfigDirectory() (string, error) {
	once.Do(lazyLoad)

	if errDir != nil {
		return "", errDir
	}

	return appDir, nil
}

func lazyLoad() {
	var (
		baseDir string
		err     error
	)

	switch runtime.GOOS {
	case "windows":
		baseDir, err = os.UserCacheDir()
	default:
		baseDir, err = os.UserConfigDir()
	}

	if err != nil {
		errDir = fmt.Errorf("failed to get config directory: %w", err)
		return
	}

	appDir = filepath.Join(baseDir, AppName)
}

// VersionString describes the running build.
func VersionString() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s/%s)", AppName, Version, Commit, BuildDate, runtime.GOOS, runtime.GOARCH)
}
