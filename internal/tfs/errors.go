package tfs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DiscoveryError is returned when the repository listing cannot be obtained.
// It is fatal to the whole run.
type DiscoveryError struct {
	// StatusCode is the HTTP status, 0 for transport or decoding failures
	StatusCode int
	URL        string
	// Body is a short, redacted excerpt of the response body
	Body string
	Err  error
}

func (e *DiscoveryError) Error() string {
	var b strings.Builder

	b.WriteString("repository discovery failed")

	if e.StatusCode != 0 {
		_, _ = fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}

	if e.URL != "" {
		_, _ = fmt.Fprintf(&b, " for %s", e.URL)
	}

	if e.Err != nil {
		_, _ = fmt.Fprintf(&b, ": %v", e.Err)
	}

	if e.Body != "" {
		_, _ = fmt.Fprintf(&b, " (%s)", e.Body)
	}

	return b.String()
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// IsAuth reports whether the server rejected the credentials.
func (e *DiscoveryError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ErrMalformedResponse marks a listing response that could not be understood.
var ErrMalformedResponse = errors.New("malformed repository listing")

// IsAuthError reports whether err is a DiscoveryError caused by 401/403.
func IsAuthError(err error) bool {
	var de *DiscoveryError
	if errors.As(err, &de) {
		return de.IsAuth()
	}

	return false
}

// StatusCode extracts the HTTP status of a DiscoveryError, or 0.
func StatusCode(err error) int {
	var de *DiscoveryError
	if errors.As(err, &de) {
		return de.StatusCode
	}

	return 0
}
