package config

import (
	"github.com/spf13/pflag"
)

// Flag names shared by the commands that accept run settings.
const (
	FlagConfig         = "config"
	FlagCollectionURL  = "collection-url"
	FlagProject        = "project"
	FlagOut            = "out"
	FlagAPIVersion     = "api-version"
	FlagAuth           = "auth"
	FlagPAT            = "pat"
	FlagUsername       = "username"
	FlagPassword       = "password"
	FlagZip            = "zip"
	FlagDeleteAfterZip = "delete-bundle-after-zip"
	FlagSkipExisting   = "skip-existing"
	FlagKeepMirrors    = "keep-mirrors"
	FlagOnly           = "only"
	FlagFilter         = "filter"
	FlagMaxRepos       = "max-repos"
	FlagSleep          = "sleep"
	FlagParallel       = "parallel"
	FlagNetworkRetries = "network-retries"
	FlagRetryFailed    = "retry-failed"
	FlagDryRun         = "dry-run"
	FlagLedger         = "ledger"
	FlagReportDSN      = "report-dsn"
	FlagLogLevel       = "log-level"
	FlagJSON           = "json"
	FlagNoTUI          = "no-tui"
)

// RegisterConnectionFlags adds the flags needed to reach the server.
func RegisterConnectionFlags(fs *pflag.FlagSet) {
	def := Default()

	fs.String(FlagConfig, "", "Path to a yaml configuration file")
	fs.String(FlagCollectionURL, "", "Collection URL, e.g. https://tfs.example.com/tfs/DefaultCollection")
	fs.StringP(FlagProject, "p", "", "Team Project name")
	fs.String(FlagAPIVersion, def.APIVersion, "REST API version")
	fs.String(FlagAuth, def.Auth.Mode, "Authentication mode: pat or userpass")
	fs.String(FlagPAT, "", "Personal access token (prefer "+EnvPAT+")")
	fs.StringP(FlagUsername, "u", "", "Username for userpass auth")
	fs.String(FlagPassword, "", "Password for userpass auth (prefer "+EnvPassword+" or the prompt)")
	fs.String(FlagLogLevel, def.LogLevel, "Log level: debug, info, warn, error")
	fs.Bool(FlagJSON, false, "Write logs as JSON")
}

// RegisterRunFlags adds the flags that shape an archive run.
func RegisterRunFlags(fs *pflag.FlagSet) {
	def := Default()

	fs.StringP(FlagOut, "o", "", "Output root directory")
	fs.Bool(FlagZip, def.Zip, "Package each bundle into a zip with restore notes")
	fs.Bool(FlagDeleteAfterZip, def.DeleteAfterZip, "Delete the raw bundle once the zip is verified")
	fs.Bool(FlagSkipExisting, def.SkipExisting, "Skip repositories whose final artifact already exists")
	fs.Bool(FlagKeepMirrors, def.KeepMirrors, "Keep the bare mirrors after bundling")
	fs.String(FlagOnly, "", "Only archive repositories whose name contains this text")
	fs.String(FlagFilter, "", "Only archive repositories whose name matches this regular expression")
	fs.Int(FlagMaxRepos, 0, "Archive at most this many repositories (0 = all)")
	fs.Duration(FlagSleep, 0, "Pause between repositories")
	fs.IntP(FlagParallel, "j", def.Parallel, "Number of repositories archived concurrently (1-10)")
	fs.Int(FlagNetworkRetries, 0, "Retry a mirror this many times on network errors")
	fs.Bool(FlagRetryFailed, false, "Only archive repositories without a successful previous run")
	fs.Bool(FlagDryRun, false, "List what would be archived without writing anything")
	fs.String(FlagLedger, def.Ledger, "Resume ledger backend: bolt or sqlite")
	fs.String(FlagReportDSN, "", "PostgreSQL DSN to also store the run report in (prefer "+EnvReportDSN+")")
	fs.Bool(FlagNoTUI, false, "Print plain progress lines instead of the interactive view")
}

// ApplyFlags copies every flag the user set explicitly into s. Flags that
// were not registered on fs are ignored.
func (s *Settings) ApplyFlags(fs *pflag.FlagSet) error {
	var err error

	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetString(name)
		}
	}

	boolean := func(name string, dst *bool) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetBool(name)
		}
	}

	integer := func(name string, dst *int) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetInt(name)
		}
	}

	str(FlagCollectionURL, &s.CollectionURL)
	str(FlagProject, &s.Project)
	str(FlagOut, &s.OutRoot)
	str(FlagAPIVersion, &s.APIVersion)
	str(FlagAuth, &s.Auth.Mode)
	str(FlagPAT, &s.Auth.Token)
	str(FlagUsername, &s.Auth.Username)
	str(FlagPassword, &s.Auth.Password)
	boolean(FlagZip, &s.Zip)
	boolean(FlagDeleteAfterZip, &s.DeleteAfterZip)
	boolean(FlagSkipExisting, &s.SkipExisting)
	boolean(FlagKeepMirrors, &s.KeepMirrors)
	str(FlagOnly, &s.Only)
	str(FlagFilter, &s.Filter)
	integer(FlagMaxRepos, &s.MaxRepos)
	integer(FlagParallel, &s.Parallel)
	integer(FlagNetworkRetries, &s.NetworkRetries)
	boolean(FlagRetryFailed, &s.RetryFailed)
	boolean(FlagDryRun, &s.DryRun)
	str(FlagLedger, &s.Ledger)
	str(FlagReportDSN, &s.ReportDSN)
	str(FlagLogLevel, &s.LogLevel)
	boolean(FlagJSON, &s.JSONLogs)
	boolean(FlagNoTUI, &s.NoTUI)

	if err == nil && fs.Changed(FlagSleep) {
		s.Sleep, err = fs.GetDuration(FlagSleep)
	}

	return err
}

// Load resolves settings for a command: defaults, then the yaml file, then
// .env files and the environment of the working directory, then the flags
// set on fs.
func Load(fs *pflag.FlagSet, getenv func(string) string) (Settings, string, error) {
	s := Default()

	explicit := ""
	if fs.Lookup(FlagConfig) != nil {
		explicit, _ = fs.GetString(FlagConfig)
	}

	path, err := FindFile(explicit)
	if err != nil {
		return s, "", err
	}

	if path != "" {
		if err := s.LoadFile(path); err != nil {
			return s, path, err
		}
	}

	if err := LoadDotEnv("."); err != nil {
		return s, path, err
	}

	s.ApplyEnv(getenv)

	if err := s.ApplyFlags(fs); err != nil {
		return s, path, err
	}

	return s, path, nil
}
