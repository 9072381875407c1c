package model

import (
	"fmt"
	"regexp"
	"time"
)

// AuthMode selects the credential variant.
type AuthMode string

const (
	AuthModePAT      AuthMode = "pat"
	AuthModeUserPass AuthMode = "userpass"
)

// ParseAuthMode validates s.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(s) {
	case AuthModePAT, AuthModeUserPass:
		return AuthMode(s), nil
	}

	return "", fmt.Errorf("unknown auth mode %q (want pat or userpass)", s)
}

// Credentials is a sealed sum type: TokenCredentials or BasicCredentials.
type Credentials interface {
	Mode() AuthMode
	Validate() error
	String() string
	credentials()
}

// TokenCredentials carries a personal access token, sent as HTTP Basic with
// an empty user name.
type TokenCredentials struct {
	Token string
}

func (TokenCredentials) Mode() AuthMode { return AuthModePAT }
func (TokenCredentials) credentials()   {}

func (c TokenCredentials) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("PAT is required for auth mode %s", AuthModePAT)
	}

	return nil
}

func (TokenCredentials) String() string { return "pat(***)" }

// BasicCredentials carries a username and password for HTTP Basic auth.
type BasicCredentials struct {
	Username string
	Password string
}

func (BasicCredentials) Mode() AuthMode { return AuthModeUserPass }
func (BasicCredentials) credentials()   {}

func (c BasicCredentials) Validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("username and password are required for auth mode %s", AuthModeUserPass)
	}

	return nil
}

func (c BasicCredentials) String() string { return fmt.Sprintf("basic(%s:***)", c.Username) }

// Secrets returns the raw secret strings held by c, for redaction.
func Secrets(c Credentials) []string {
	switch v := c.(type) {
	case TokenCredentials:
		return []string{v.Token}
	case BasicCredentials:
		return []string{v.Password}
	}

	return nil
}

// LedgerBackend selects the storage used for cross-run state.
type LedgerBackend string

const (
	LedgerBolt   LedgerBackend = "bolt"
	LedgerSQLite LedgerBackend = "sqlite"
)

// DefaultAPIVersion is the REST API version used when none is configured.
const DefaultAPIVersion = "6.0"

// RunConfiguration is supplied once per run and never mutated by stages.
type RunConfiguration struct {
	CollectionURL string
	Project       string
	OutRoot       string
	APIVersion    string

	Credentials Credentials

	ZipEnabled     bool
	DeleteAfterZip bool
	SkipExisting   bool
	KeepMirrors    bool

	// Only keeps repositories whose name contains this substring (case-insensitive)
	Only string

	// Filter keeps repositories whose name matches this expression
	Filter *regexp.Regexp

	// MaxRepos limits the number of processed repositories (0 = all)
	MaxRepos int

	// Sleep is the pause between repositories on each worker
	Sleep time.Duration

	// Parallel is the number of concurrent repository pipelines
	Parallel int

	// NetworkRetries bounds mirror retries on network errors (0 = none)
	NetworkRetries int

	// RetryFailed restricts the run to repositories whose last recorded outcome was not a success
	RetryFailed bool

	DryRun bool

	LedgerBackend LedgerBackend

	// ReportDSN enables the PostgreSQL report sink when set
	ReportDSN string
}

// DefaultRunConfiguration returns the defaults used by the CLI.
func DefaultRunConfiguration() RunConfiguration {
	return RunConfiguration{
		APIVersion:     DefaultAPIVersion,
		DeleteAfterZip: true,
		SkipExisting:   true,
		Parallel:       1,
		LedgerBackend:  LedgerBolt,
	}
}

// Validate checks the fields required to start a run.
func (c RunConfiguration) Validate() error {
	if c.CollectionURL == "" {
		return fmt.Errorf("collection URL is required")
	}

	if c.Project == "" {
		return fmt.Errorf("project is required")
	}

	if c.OutRoot == "" {
		return fmt.Errorf("output root is required")
	}

	if c.Credentials == nil {
		return fmt.Errorf("credentials are required")
	}

	if err := c.Credentials.Validate(); err != nil {
		return err
	}

	if c.Parallel < 1 || c.Parallel > 10 {
		return fmt.Errorf("parallel must be between 1 and 10")
	}

	if c.MaxRepos < 0 {
		return fmt.Errorf("max repos cannot be negative")
	}

	if c.NetworkRetries < 0 || c.NetworkRetries > 10 {
		return fmt.Errorf("network retries must be between 0 and 10")
	}

	switch c.LedgerBackend {
	case LedgerBolt, LedgerSQLite:
	default:
		return fmt.Errorf("unknown ledger backend %q", c.LedgerBackend)
	}

	return nil
}

// ArtifactExtension is the extension of the final per-repository artifact.
func (c RunConfiguration) ArtifactExtension() string {
	if c.ZipEnabled {
		return ".zip"
	}

	return ".bundle"
}
