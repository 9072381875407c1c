// Package tfs lists the Git repositories of a Team Project through the
// TFS / Azure DevOps Server REST API.
package tfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inovacc/tfsarchive/internal/common"
	"github.com/inovacc/tfsarchive/internal/model"
)

// continuationHeader carries the server-driven paging token.
const continuationHeader = "X-Ms-Continuationtoken"

// RetryConfig contains settings for retrying transient listing failures
type RetryConfig struct {
	MaxRetries        int           // Maximum retry attempts (default: 3)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 30s)
	BackoffMultiplier float64       // Multiplier for exponential backoff (default: 2.0)
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Client is the repository lister.
type Client struct {
	collectionURL string
	project       string
	apiVersion    string

	httpClient *http.Client
	secrets    []string
	retry      RetryConfig
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the base transport the auth layer wraps.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a lister for project in the collection at collectionURL.
func NewClient(collectionURL, project, apiVersion string, creds model.Credentials, opts ...Option) (*Client, error) {
	if collectionURL == "" || project == "" {
		return nil, fmt.Errorf("collection URL and project are required")
	}

	if apiVersion == "" {
		apiVersion = model.DefaultAPIVersion
	}

	c := &Client{
		collectionURL: strings.TrimRight(collectionURL, "/"),
		project:       project,
		apiVersion:    apiVersion,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		secrets:       Secrets(creds),
		retry:         DefaultRetryConfig(),
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	rt, err := authTransport(c.httpClient.Transport, creds)
	if err != nil {
		return nil, err
	}

	c.httpClient.Transport = rt

	return c, nil
}

type repositoryList struct {
	Count int              `json:"count"`
	Value []repositoryItem `json:"value"`
}

type repositoryItem struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RemoteURL     string `json:"remoteUrl"`
	URL           string `json:"url"`
	DefaultBranch string `json:"defaultBranch"`
	Size          int64  `json:"size"`
	IsDisabled    bool   `json:"isDisabled"`
}

// ListURL returns the listing endpoint for the first page.
func (c *Client) ListURL() string {
	return c.pageURL("")
}

func (c *Client) pageURL(token string) string {
	q := url.Values{}
	q.Set("api-version", c.apiVersion)

	if token != "" {
		q.Set("continuationToken", token)
	}

	return fmt.Sprintf("%s/%s/_apis/git/repositories?%s", c.collectionURL, url.PathEscape(c.project), q.Encode())
}

// ListRepositories returns every repository of the project in server order,
// following continuation tokens until the server reports no further page.
func (c *Client) ListRepositories(ctx context.Context) ([]model.RepositoryDescriptor, error) {
	var (
		out   []model.RepositoryDescriptor
		token string
		seen  = map[string]bool{}
		page  int
	)

	for {
		page++

		list, next, err := c.fetchPageWithRetry(ctx, token)
		if err != nil {
			return nil, err
		}

		for _, item := range list.Value {
			remote := item.RemoteURL
			if remote == "" {
				remote = item.URL
			}

			if item.Name == "" || remote == "" {
				c.logger.Warn("ignoring repository entry without name or remote URL",
					slog.String("id", item.ID),
					slog.Int("page", page),
				)

				continue
			}

			out = append(out, model.RepositoryDescriptor{
				ID:            item.ID,
				Name:          item.Name,
				RemoteURL:     remote,
				DefaultBranch: item.DefaultBranch,
				Size:          item.Size,
				Disabled:      item.IsDisabled,
			})
		}

		c.logger.Debug("fetched repository page",
			slog.Int("page", page),
			slog.Int("count", len(list.Value)),
			slog.Bool("more", next != ""),
		)

		if next == "" {
			break
		}

		if seen[next] {
			return nil, &DiscoveryError{
				URL: c.pageURL(""),
				Err: fmt.Errorf("%w: continuation token repeated on page %d", ErrMalformedResponse, page),
			}
		}

		seen[next] = true
		token = next
	}

	return out, nil
}

func (c *Client) fetchPageWithRetry(ctx context.Context, token string) (*repositoryList, string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		list, next, err := c.fetchPage(ctx, token)
		if err == nil {
			return list, next, nil
		}

		if !isTransient(err) || ctx.Err() != nil {
			return nil, "", err
		}

		lastErr = err

		if attempt == c.retry.MaxRetries {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("transient listing error, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, "", &DiscoveryError{URL: c.pageURL(""), Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}

	return nil, "", lastErr
}

func (c *Client) fetchPage(ctx context.Context, token string) (*repositoryList, string, error) {
	target := c.pageURL(token)
	shown := common.Redact(target, c.secrets...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", &DiscoveryError{URL: shown, Err: err}
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &DiscoveryError{URL: shown, Err: errors.New(common.Redact(err.Error(), c.secrets...))}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, "", &DiscoveryError{
			StatusCode: resp.StatusCode,
			URL:        shown,
			Body:       common.Redact(strings.TrimSpace(string(excerpt)), c.secrets...),
		}
	}

	var list repositoryList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, "", &DiscoveryError{URL: shown, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	if list.Value == nil {
		return nil, "", &DiscoveryError{URL: shown, Err: fmt.Errorf("%w: missing value array", ErrMalformedResponse)}
	}

	return &list, resp.Header.Get(continuationHeader), nil
}

// calculateBackoff computes exponential backoff with jitter
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.retry.InitialBackoff) * math.Pow(c.retry.BackoffMultiplier, float64(attempt))

	if backoff > float64(c.retry.MaxBackoff) {
		backoff = float64(c.retry.MaxBackoff)
	}

	// Add jitter (10%)
	jitter := backoff * 0.1 * (rand.Float64()*2 - 1)
	backoff += jitter

	return time.Duration(backoff)
}

// isTransient reports whether a listing error is worth retrying.
func isTransient(err error) bool {
	var de *DiscoveryError
	if !errors.As(err, &de) {
		return false
	}

	switch de.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	case 0:
	default:
		return false
	}

	if de.Err == nil || errors.Is(de.Err, ErrMalformedResponse) || errors.Is(de.Err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(de.Err.Error())
	for _, indicator := range []string{"timeout", "connection refused", "connection reset", "temporary failure", "eof"} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}

	return false
}
