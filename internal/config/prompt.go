package config

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// PromptPassword asks for the basic auth password on the terminal fd
// without echoing it.
func PromptPassword(w io.Writer, fd int, username string) (string, error) {
	if !term.IsTerminal(fd) {
		return "", ErrPasswordRequired
	}

	_, _ = fmt.Fprintf(w, "Password for %s: ", username)

	password, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(w)

	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	p := strings.TrimRight(string(password), "\r\n")
	if p == "" {
		return "", ErrPasswordRequired
	}

	return p, nil
}

// IsTerminal reports whether fd is an interactive terminal.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}
