package model

import (
	"strings"
	"testing"
)

func validConfig() RunConfiguration {
	cfg := DefaultRunConfiguration()
	cfg.CollectionURL = "https://tfs.example.local/tfs/DefaultCollection"
	cfg.Project = "Platform"
	cfg.OutRoot = "/srv/archive"
	cfg.Credentials = TokenCredentials{Token: "secret-pat"}

	return cfg
}

func TestRunConfiguration_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunConfiguration)
		wantErr string
	}{
		{"valid", func(*RunConfiguration) {}, ""},
		{"missing url", func(c *RunConfiguration) { c.CollectionURL = "" }, "collection URL"},
		{"missing project", func(c *RunConfiguration) { c.Project = "" }, "project"},
		{"missing out root", func(c *RunConfiguration) { c.OutRoot = "" }, "output root"},
		{"no credentials", func(c *RunConfiguration) { c.Credentials = nil }, "credentials"},
		{"empty pat", func(c *RunConfiguration) { c.Credentials = TokenCredentials{} }, "PAT is required"},
		{"basic without password", func(c *RunConfiguration) { c.Credentials = BasicCredentials{Username: "u"} }, "username and password"},
		{"parallel zero", func(c *RunConfiguration) { c.Parallel = 0 }, "parallel"},
		{"parallel too high", func(c *RunConfiguration) { c.Parallel = 11 }, "parallel"},
		{"bad ledger", func(c *RunConfiguration) { c.LedgerBackend = "redis" }, "ledger"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}

				return
			}

			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCredentials_DoNotPrintSecrets(t *testing.T) {
	creds := []Credentials{
		TokenCredentials{Token: "secret-pat"},
		BasicCredentials{Username: "svc", Password: "hunter2"},
	}

	for _, c := range creds {
		s := c.String()
		for _, secret := range Secrets(c) {
			if strings.Contains(s, secret) {
				t.Errorf("%T.String() = %q leaks secret", c, s)
			}
		}
	}
}

func TestParseAuthMode(t *testing.T) {
	if m, err := ParseAuthMode("pat"); err != nil || m != AuthModePAT {
		t.Errorf("ParseAuthMode(pat) = %v, %v", m, err)
	}

	if _, err := ParseAuthMode("ntlm"); err == nil {
		t.Error("ParseAuthMode(ntlm) expected error")
	}
}

func TestArtifactExtension(t *testing.T) {
	cfg := validConfig()
	if cfg.ArtifactExtension() != ".bundle" {
		t.Errorf("ArtifactExtension() = %q, want .bundle", cfg.ArtifactExtension())
	}

	cfg.ZipEnabled = true
	if cfg.ArtifactExtension() != ".zip" {
		t.Errorf("ArtifactExtension() = %q, want .zip", cfg.ArtifactExtension())
	}
}
