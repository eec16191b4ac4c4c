// Package github fetches pull request and review history from GitHub and
// assigns reviewers.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/cache"
	"github.com/codeGROOVE-dev/retry"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// Retry constants.
const (
	maxRetryAttempts  = 25              // Maximum retry attempts for API calls
	initialRetryDelay = 1 * time.Second // Initial delay for retry attempts
	maxRetryDelay     = 2 * time.Minute // Maximum delay cap
	maxErrorBodyBytes = 1024
)

// errTransient marks failures worth retrying.
var errTransient = errors.New("transient failure")

// Client handles all GitHub API interactions.
// Clients returned by ForOrg share credentials and caches with their parent.
type Client struct {
	cache         cache.Store
	httpClient    HTTPDoer
	accounts      *accountCache
	app           *appAuth // nil for personal token auth
	org           string
	token         string
	baseURL       string
	retryDelay    time.Duration
	retryAttempts uint
}

// Config holds configuration for creating a new GitHub client.
type Config struct {
	Cache         cache.Store // nil = memory-only cache with CacheTTL
	HTTPDoer      HTTPDoer    // nil = http.Client with HTTPTimeout
	APIURL        string      // empty = DefaultAPIURL
	AppID         string
	AppKeyPath    string
	Token         string // Personal access token (for non-app auth)
	HTTPTimeout   time.Duration
	CacheTTL      time.Duration
	RetryAttempts uint
	UseAppAuth    bool
}

// New creates a GitHub API client using a personal token or GitHub App authentication.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.TTLHistory
	}

	c := &Client{
		cache:         cfg.Cache,
		httpClient:    cfg.HTTPDoer,
		accounts:      newAccountCache(),
		baseURL:       strings.TrimSuffix(cfg.APIURL, "/"),
		retryAttempts: cfg.RetryAttempts,
	}
	if c.cache == nil {
		c.cache = cache.New(cfg.CacheTTL)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if c.baseURL == "" {
		c.baseURL = DefaultAPIURL
	}

	if cfg.UseAppAuth {
		app, err := newAppAuth(cfg.AppID, cfg.AppKeyPath)
		if err != nil {
			return nil, err
		}
		c.app = app
		return c, nil
	}

	token, err := resolveToken(ctx, cfg.Token)
	if err != nil {
		return nil, err
	}
	c.token = token
	slog.Info("Using personal access token authentication", "component", "auth")
	return c, nil
}

// ForOrg returns a client that authenticates with the installation token
// for org. For personal token auth it returns a copy of c.
func (c *Client) ForOrg(org string) *Client {
	clone := *c
	clone.org = org
	return &clone
}

// Token returns the credential used for API calls, e.g. for the event stream.
// App clients scoped with ForOrg return the installation token.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.app == nil {
		return c.token, nil
	}
	if c.org != "" {
		return c.installationToken(ctx, c.org)
	}
	return c.app.currentJWT(time.Now())
}

// IsUserAccount reports whether an app installation belongs to a user rather
// than an organization.
func (c *Client) IsUserAccount(account string) bool {
	if c.app == nil {
		return false
	}
	c.app.mu.RLock()
	defer c.app.mu.RUnlock()
	return c.app.installationTypes[account] == "User"
}

func (c *Client) url(format string, args ...any) string {
	return c.baseURL + fmt.Sprintf(format, args...)
}

func (c *Client) authorization(ctx context.Context) (string, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return "", err
	}
	if c.app != nil {
		return "Bearer " + token, nil
	}
	return "token " + token, nil
}

// drainAndCloseBody drains and closes an HTTP response body to prevent resource leaks.
func drainAndCloseBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		slog.Warn("Failed to drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Warn("Failed to close response body", "error", err)
	}
}

// doRequest makes an HTTP request to the GitHub API with retry logic.
// The caller owns the returned body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body any) (*http.Response, error) {
	auth, err := c.authorization(ctx)
	if err != nil {
		return nil, fmt.Errorf("authorization: %w", err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	slog.Debug("HTTP request", "component", "http", "method", method, "url", apiURL)

	var resp *http.Response
	err = c.retry(ctx, method+" "+apiURL, func() error {
		var bodyReader io.Reader = http.NoBody
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", auth)
		req.Header.Set("Accept", "application/vnd.github+json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		r, err := c.httpClient.Do(req) //nolint:bodyclose // closed by caller or drained below
		if err != nil {
			return classifyNetError(err)
		}

		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= http.StatusInternalServerError {
			drainAndCloseBody(r.Body)
			slog.Warn("Retryable response from GitHub", "component", "http", "method", method, "url", apiURL, "status", r.StatusCode)
			return fmt.Errorf("http %d: %w", r.StatusCode, errTransient)
		}

		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("HTTP response", "component", "http", "method", method, "url", apiURL, "status", resp.StatusCode)
	return resp, nil
}

// getJSON fetches apiURL and decodes a 200 response into v.
func (c *Client) getJSON(ctx context.Context, apiURL string, v any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", apiURL, err)
	}
	return nil
}

func classifyNetError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request failed: %w: %w", errTransient, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("request failed: %w: %w", errTransient, err)
	}
	return fmt.Errorf("request failed: %w", err)
}

// retry executes fn with exponential backoff using the codeGROOVE retry library.
func (c *Client) retry(ctx context.Context, operation string, fn func() error) error {
	attempts := c.retryAttempts
	if attempts == 0 {
		attempts = maxRetryAttempts
	}
	delay := c.retryDelay
	if delay <= 0 {
		delay = initialRetryDelay
	}

	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(delay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retry attempt", "component", "retry", "operation", operation, "attempt", n+1, "max_attempts", attempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errTransient)
		}),
	)
}

// AddReviewers requests reviews from the given identities on a pull request.
func (c *Client) AddReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error {
	apiURL := c.url("/repos/%s/%s/pulls/%d/requested_reviewers", owner, repo, number)
	payload := map[string]any{"reviewers": reviewers}

	resp, err := c.doRequest(ctx, http.MethodPost, apiURL, payload)
	if err != nil {
		return fmt.Errorf("failed to add reviewers: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("failed to add reviewers: %w", newAPIError(resp))
	}

	slog.InfoContext(ctx, "Added reviewers to PR", "owner", owner, "repo", repo, "pr", number, "reviewers", reviewers)
	return nil
}
