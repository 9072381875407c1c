// Package git drives the git executable for mirroring, bundling and bundle
// verification. Credentials are injected per command through
// http.extraHeader and never reach the remote URL, the log or an error.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/inovacc/tfsarchive/internal/common"
)

// ErrGitNotFound is returned when no git executable is on PATH.
var ErrGitNotFound = errors.New("git executable not found in PATH")

// Client wraps git operations with header-based authentication
type Client struct {
	GitPath string // Path to git executable
	Logger  *slog.Logger
	// OnOutput receives every redacted progress line git prints.
	OnOutput func(line string)
	// Secrets are masked in logs, progress lines and errors.
	Secrets []string
	mu      sync.Mutex
}

// NewClient creates a new git client
func NewClient() (*Client, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, ErrGitNotFound
	}

	return &Client{
		GitPath: gitPath,
		Logger:  slog.Default(),
	}, nil
}

// WithOutput returns a client sharing c's settings whose progress lines go
// to fn instead.
func (c *Client) WithOutput(fn func(line string)) *Client {
	return &Client{
		GitPath:  c.GitPath,
		Logger:   c.Logger,
		OnOutput: fn,
		Secrets:  c.Secrets,
	}
}

// Command creates a git command that can never prompt for credentials
func (c *Client) Command(ctx context.Context, dir string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.GitPath, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GCM_INTERACTIVE=never")

	return cmd
}

// AuthArgs returns the -c options that authenticate a single git invocation.
func AuthArgs(authHeader string) []string {
	args := []string{"-c", "credential.helper=", "-c", "core.askPass="}
	if authHeader != "" {
		args = append([]string{"-c", "http.extraHeader=Authorization: " + authHeader}, args...)
	}

	return args
}

// MaskArgs returns args with credentials removed, safe for logging.
func (c *Client) MaskArgs(args []string) []string {
	masked := make([]string, len(args))
	for i, a := range args {
		masked[i] = common.Redact(common.SanitizeGitURL(a), c.Secrets...)
	}

	return masked
}

// run executes git, streaming combined output to the logger and OnOutput.
func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	masked := c.MaskArgs(args)
	cmdLine := "git " + strings.Join(masked, " ")
	c.logger().Debug("running git", slog.String("cmd", cmdLine), slog.String("dir", dir))

	var captured bytes.Buffer

	lw := &lineWriter{emit: c.emit}
	out := io.MultiWriter(&captured, lw)

	cmd := c.Command(ctx, dir, args...)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	lw.Flush()

	text := common.Redact(captured.String(), c.Secrets...)
	if err != nil {
		return text, NewGitError(masked, lastLines(text, 20), err)
	}

	return text, nil
}

func (c *Client) emit(line string) {
	line = strings.TrimSpace(common.Redact(line, c.Secrets...))
	if line == "" {
		return
	}

	c.logger().Debug("git", slog.String("output", line))

	if c.OnOutput != nil {
		c.mu.Lock()
		c.OnOutput(line)
		c.mu.Unlock()
	}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}

	return c.Logger
}

// Mirror creates a bare, full-history clone of remoteURL at dest. Any
// previous content of dest is removed first, and a failed clone leaves
// nothing behind.
func (c *Client) Mirror(ctx context.Context, remoteURL, dest, authHeader string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to reset mirror directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create mirror parent: %w", err)
	}

	args := append(AuthArgs(authHeader), "clone", "--mirror", "--progress", remoteURL, dest)

	if _, err := c.run(ctx, "", args...); err != nil {
		_ = os.RemoveAll(dest)
		return err
	}

	return CheckMirror(dest)
}

// HasRefs reports whether the repository at dir has at least one ref.
func (c *Client) HasRefs(ctx context.Context, dir string) (bool, error) {
	out, err := c.run(ctx, dir, "for-each-ref", "--count=1", "--format=%(refname)")
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(out) != "", nil
}

// CreateBundle writes every ref of the repository at dir into bundlePath.
func (c *Client) CreateBundle(ctx context.Context, dir, bundlePath string) error {
	abs, err := filepath.Abs(bundlePath)
	if err != nil {
		return err
	}

	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale bundle: %w", err)
	}

	if _, err := c.run(ctx, dir, "bundle", "create", abs, "--all"); err != nil {
		_ = os.Remove(abs)
		return err
	}

	return nil
}

// VerifyBundle checks the structural integrity of bundlePath. When dir is
// empty a throwaway bare repository is used as the verification context.
func (c *Client) VerifyBundle(ctx context.Context, dir, bundlePath string) error {
	abs, err := filepath.Abs(bundlePath)
	if err != nil {
		return err
	}

	if dir == "" {
		tmp, err := os.MkdirTemp("", "tfsarchive-verify-*")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(tmp) }()

		if _, err := c.run(ctx, tmp, "init", "--bare", "--quiet"); err != nil {
			return err
		}

		dir = tmp
	}

	_, err = c.run(ctx, dir, "bundle", "verify", abs)

	return err
}

// Version returns the git version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.Command(ctx, "", "version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

// GitError represents a git command error
type GitError struct {
	ExitCode int
	Stderr   string
	Args     []string
	err      error
}

func (e *GitError) Error() string {
	op := "git command"
	if len(e.Args) > 0 {
		op = "git " + gitSubcommand(e.Args)
	}

	if e.Stderr == "" {
		return fmt.Errorf("%s failed: %w", op, e.err).Error()
	}

	return fmt.Sprintf("%s failed (exit %d): %s", op, e.ExitCode, strings.TrimSpace(e.Stderr))
}

func (e *GitError) Unwrap() error {
	return e.err
}

// gitSubcommand skips the leading -c options.
func gitSubcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}

		return args[i]
	}

	return "command"
}

// lastLines keeps the tail of git output, which is where the reason is.
func lastLines(s string, n int) string {
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n")
}

// lineWriter splits git output on both \n and \r so progress updates are
// delivered as they happen.
type lineWriter struct {
	emit func(string)
	buf  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)

	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}

		w.emit(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}

func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}
