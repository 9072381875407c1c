package model

import (
	"strings"
	"unicode"
)

// RepositoryDescriptor identifies one repository of a Team Project.
type RepositoryDescriptor struct {
	// ID is the server-side repository identifier (GUID on TFS/Azure DevOps)
	ID string `json:"id"`

	// Name is the repository display name
	Name string `json:"name"`

	// RemoteURL is the URL used to clone the repository
	RemoteURL string `json:"remote_url"`

	// DefaultBranch is the full default ref, e.g. refs/heads/master
	DefaultBranch string `json:"default_branch,omitempty"`

	// Size is the repository size reported by the server, in bytes
	Size int64 `json:"size,omitempty"`

	// Disabled repositories cannot be cloned
	Disabled bool `json:"disabled,omitempty"`
}

// SafeName returns the deterministic file system name used for the mirror,
// the bundle and the container of this repository.
func (d RepositoryDescriptor) SafeName() string {
	return SafeFilename(d.Name)
}

// BranchHint returns the short default branch name, falling back to master.
func (d RepositoryDescriptor) BranchHint() string {
	b := strings.TrimPrefix(d.DefaultBranch, "refs/heads/")
	if b == "" {
		return "master"
	}

	return b
}

// SafeFilename replaces every rune that is not a letter, digit, '-', '_' or '.'
// with '_' and trims leading and trailing underscores.
func SafeFilename(name string) string {
	var b strings.Builder

	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}

		b.WriteRune('_')
	}

	out := strings.Trim(b.String(), "_")
	if out == "" || out == "." || out == ".." {
		return "repo"
	}

	return out
}
