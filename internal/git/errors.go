package git

import (
	"errors"
	"os/exec"
	"strings"
)

// Common error messages from git
const (
	errMsgNotRepository    = "not a git repository"
	errMsgAuthFailed       = "Authentication failed"
	errMsgPermissionDenied = "Permission denied"
	errMsgForbidden        = "403"
	errMsgUnauthorized     = "401"
	errMsgRepoNotFound     = "repository not found"
	errMsgNotFound         = "not found"
	errMsgEmptyBundle      = "Refusing to create empty bundle"
	errMsgNoSpace          = "No space left on device"
)

// networkIndicators are stderr fragments of transient transport failures.
var networkIndicators = []string{
	"could not resolve host",
	"connection refused",
	"connection reset",
	"connection timed out",
	"operation timed out",
	"timeout",
	"early eof",
	"the remote end hung up unexpectedly",
	"rpc failed",
	"network is unreachable",
	"tls handshake",
	"ssl_read",
	"gnutls",
	"http 502",
	"http 503",
	"http 504",
}

// IsNotRepository checks if the error indicates not a git repository
func IsNotRepository(err error) bool {
	return containsError(err, errMsgNotRepository)
}

// IsAuthRequired checks if the error indicates the server rejected the credentials
func IsAuthRequired(err error) bool {
	return containsError(err, errMsgAuthFailed) ||
		containsError(err, errMsgPermissionDenied) ||
		containsError(err, "returned error: "+errMsgUnauthorized) ||
		containsError(err, "returned error: "+errMsgForbidden)
}

// IsRepositoryNotFound checks if the remote repository does not exist
func IsRepositoryNotFound(err error) bool {
	return containsError(err, errMsgRepoNotFound) ||
		(containsError(err, "remote: ") && containsError(err, errMsgNotFound))
}

// IsEmptyBundle checks if git refused to bundle a repository without refs
func IsEmptyBundle(err error) bool {
	return containsError(err, errMsgEmptyBundle)
}

// IsNoSpace checks if the error indicates the disk is full
func IsNoSpace(err error) bool {
	return containsError(err, errMsgNoSpace)
}

// IsNetworkError checks if the error looks like a transient transport failure
func IsNetworkError(err error) bool {
	if err == nil || IsAuthRequired(err) {
		return false
	}

	for _, indicator := range networkIndicators {
		if containsError(err, indicator) {
			return true
		}
	}

	return false
}

// containsError checks if the error contains a specific message
func containsError(err error, msg string) bool {
	if err == nil {
		return false
	}

	var gitErr *GitError
	if errors.As(err, &gitErr) {
		return strings.Contains(strings.ToLower(gitErr.Stderr), strings.ToLower(msg))
	}

	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(msg))
}

// GetExitCode returns the exit code from a git error, or -1 if not available
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var gitErr *GitError
	if errors.As(err, &gitErr) {
		return gitErr.ExitCode
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

// NewGitError creates a GitError from command output and error
func NewGitError(args []string, stderr string, err error) *GitError {
	exitCode := -1

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return &GitError{
		ExitCode: exitCode,
		Stderr:   stderr,
		Args:     args,
		err:      err,
	}
}
