// Package config assembles a run configuration from defaults, a yaml file,
// .env files, the environment and command line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/inovacc/tfsarchive/internal/application"
	"github.com/inovacc/tfsarchive/internal/model"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "tfsarchive.yaml"

// Environment variables
const (
	EnvCollectionURL = "TFS_COLLECTION_URL"
	EnvProject       = "TFS_PROJECT"
	EnvPAT           = "TFS_PAT"
	EnvUsername      = "TFS_USERNAME"
	EnvPassword      = "TFS_PASSWORD"
	EnvOutRoot       = "TFS_OUT_ROOT"
	EnvReportDSN     = "TFSARCHIVE_REPORT_DSN"
)

// ErrPasswordRequired is returned when basic auth has no password and no
// terminal to ask for one.
var ErrPasswordRequired = errors.New("password is required for auth mode userpass")

// Auth holds the credential settings.
type Auth struct {
	Mode     string `yaml:"mode"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Settings is the user-facing form of a run configuration.
type Settings struct {
	CollectionURL string `yaml:"collection_url"`
	Project       string `yaml:"project"`
	OutRoot       string `yaml:"out_root"`
	APIVersion    string `yaml:"api_version"`

	Auth Auth `yaml:"auth"`

	Zip            bool `yaml:"zip"`
	DeleteAfterZip bool `yaml:"delete_bundle_after_zip"`
	SkipExisting   bool `yaml:"skip_existing"`
	KeepMirrors    bool `yaml:"keep_mirrors"`

	Only           string        `yaml:"only"`
	Filter         string        `yaml:"filter"`
	MaxRepos       int           `yaml:"max_repos"`
	Sleep          time.Duration `yaml:"sleep"`
	Parallel       int           `yaml:"parallel"`
	NetworkRetries int           `yaml:"network_retries"`
	RetryFailed    bool          `yaml:"retry_failed"`

	Ledger    string `yaml:"ledger"`
	ReportDSN string `yaml:"report_dsn"`

	LogLevel string `yaml:"log_level"`
	JSONLogs bool   `yaml:"json_logs"`
	NoTUI    bool   `yaml:"no_tui"`

	DryRun bool `yaml:"-"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	def := model.DefaultRunConfiguration()

	return Settings{
		APIVersion:     def.APIVersion,
		Auth:           Auth{Mode: string(model.AuthModePAT)},
		DeleteAfterZip: def.DeleteAfterZip,
		SkipExisting:   def.SkipExisting,
		Parallel:       def.Parallel,
		Ledger:         string(def.LedgerBackend),
		LogLevel:       "info",
	}
}

// FindFile resolves the configuration file. An explicit path must exist;
// otherwise ./tfsarchive.yaml and then the user config directory are
// tried. An empty result means no file.
func FindFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}

		return explicit, nil
	}

	candidates := []string{FileName}

	if dir, err := application.ConfigDirectory(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}

	return "", nil
}

// LoadFile merges the yaml document at path into s. Keys absent from the
// document keep their current value.
func (s *Settings) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("yaml parse %s: %w", path, err)
	}

	return nil
}

// LoadDotEnv loads .env.local and .env from dir into the process
// environment. Variables already set are never overridden, so .env.local
// wins over .env.
func LoadDotEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading %s: %w", name, err)
		}
	}

	return nil
}

// ApplyEnv overrides s with the variables returned by getenv.
func (s *Settings) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&s.CollectionURL, EnvCollectionURL)
	set(&s.Project, EnvProject)
	set(&s.OutRoot, EnvOutRoot)
	set(&s.Auth.Token, EnvPAT)
	set(&s.Auth.Username, EnvUsername)
	set(&s.Auth.Password, EnvPassword)
	set(&s.ReportDSN, EnvReportDSN)

	// a username without a token selects basic auth
	if getenv(EnvUsername) != "" && getenv(EnvPAT) == "" && s.Auth.Token == "" {
		s.Auth.Mode = string(model.AuthModeUserPass)
	}
}

// NeedsPassword reports whether basic auth is selected without a password.
func (s *Settings) NeedsPassword() bool {
	return s.Auth.Mode == string(model.AuthModeUserPass) && s.Auth.Password == ""
}

// Credentials builds the credential variant selected by Auth.Mode.
func (s *Settings) Credentials() (model.Credentials, error) {
	mode, err := model.ParseAuthMode(s.Auth.Mode)
	if err != nil {
		return nil, err
	}

	var creds model.Credentials

	switch mode {
	case model.AuthModePAT:
		creds = model.TokenCredentials{Token: s.Auth.Token}
	case model.AuthModeUserPass:
		if s.Auth.Password == "" {
			return nil, ErrPasswordRequired
		}

		creds = model.BasicCredentials{Username: s.Auth.Username, Password: s.Auth.Password}
	}

	if err := creds.Validate(); err != nil {
		return nil, err
	}

	return creds, nil
}

// RunConfiguration converts and validates s.
func (s *Settings) RunConfiguration() (model.RunConfiguration, error) {
	cfg := model.DefaultRunConfiguration()

	creds, err := s.Credentials()
	if err != nil {
		return cfg, err
	}

	cfg.CollectionURL = strings.TrimRight(strings.TrimSpace(s.CollectionURL), "/")
	cfg.Project = strings.TrimSpace(s.Project)
	cfg.OutRoot = s.OutRoot
	cfg.Credentials = creds
	cfg.ZipEnabled = s.Zip
	cfg.DeleteAfterZip = s.DeleteAfterZip
	cfg.SkipExisting = s.SkipExisting
	cfg.KeepMirrors = s.KeepMirrors
	cfg.Only = s.Only
	cfg.MaxRepos = s.MaxRepos
	cfg.Sleep = s.Sleep
	cfg.Parallel = s.Parallel
	cfg.NetworkRetries = s.NetworkRetries
	cfg.RetryFailed = s.RetryFailed
	cfg.DryRun = s.DryRun
	cfg.LedgerBackend = model.LedgerBackend(s.Ledger)
	cfg.ReportDSN = s.ReportDSN

	if s.APIVersion != "" {
		cfg.APIVersion = s.APIVersion
	}

	if cfg.OutRoot != "" {
		abs, err := filepath.Abs(cfg.OutRoot)
		if err != nil {
			return cfg, fmt.Errorf("output root: %w", err)
		}

		cfg.OutRoot = abs
	}

	if s.Filter != "" {
		re, err := regexp.Compile(s.Filter)
		if err != nil {
			return cfg, fmt.Errorf("invalid filter pattern: %w", err)
		}

		cfg.Filter = re
	}

	if cfg.Sleep < 0 {
		return cfg, fmt.Errorf("sleep cannot be negative")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}
