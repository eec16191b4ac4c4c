package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authentication constants.
const (
	maxTokenLength     = 100 // Maximum expected length for GitHub tokens
	minTokenLength     = 40  // Minimum expected length for GitHub tokens
	classicTokenLength = 40  // Length of classic GitHub tokens
	maxAppID           = 999999999
	filePermReadOnly   = 0o400
	filePermOwnerRW    = 0o600
	jwtLifetime        = 10 * time.Minute // GitHub rejects app JWTs living longer
	jwtRefreshAfter    = 9 * time.Minute
	installTokenSlack  = 5 * time.Minute
)

// appAuth holds GitHub App credentials and the tokens minted from them.
// It is shared by every Client derived with ForOrg.
type appAuth struct {
	jwtExpiry          time.Time
	installationTokens map[string]string
	installationExpiry map[string]time.Time
	installationIDs    map[string]int
	installationTypes  map[string]string
	appID              string
	jwt                string
	privateKey         []byte
	mu                 sync.RWMutex
}

// resolveToken picks the personal token from the flag, GITHUB_TOKEN, or the gh CLI.
func resolveToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		out, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
		if err != nil {
			return "", fmt.Errorf("failed to get GitHub token (set GITHUB_TOKEN or run 'gh auth login'): %w", err)
		}
		token = strings.TrimSpace(string(out))
	}
	if err := validateToken(token); err != nil {
		return "", err
	}
	return token, nil
}

// validateToken validates a GitHub personal access token.
func validateToken(token string) error {
	if token == "" {
		return errors.New("no GitHub token found")
	}
	if len(token) > maxTokenLength || len(token) < minTokenLength {
		return errors.New("invalid token length")
	}

	for _, prefix := range []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_"} {
		if strings.HasPrefix(token, prefix) {
			return nil
		}
	}

	// Classic tokens are 40 lowercase hex characters.
	if len(token) != classicTokenLength {
		return errors.New("invalid token format")
	}
	for _, r := range token {
		if (r < 'a' || r > 'f') && (r < '0' || r > '9') {
			return errors.New("invalid classic token format")
		}
	}
	return nil
}

// newAppAuth resolves app credentials from arguments or the environment.
// GITHUB_APP_KEY (key content) wins over GITHUB_APP_KEY_PATH.
func newAppAuth(appID, keyPath string) (*appAuth, error) {
	if appID == "" {
		appID = os.Getenv("GITHUB_APP_ID")
	}
	if appID == "" {
		return nil, errors.New("GitHub App ID is required: use -app-id or set GITHUB_APP_ID")
	}
	if err := validateAppID(appID); err != nil {
		return nil, err
	}

	var key []byte
	switch {
	case keyPath != "":
		slog.Info("Using private key file from command line", "component", "auth", "path", keyPath)
	case os.Getenv("GITHUB_APP_KEY") != "":
		key = []byte(os.Getenv("GITHUB_APP_KEY"))
		slog.Info("Using GITHUB_APP_KEY environment variable", "component", "auth", "bytes", len(key))
	default:
		keyPath = os.Getenv("GITHUB_APP_KEY_PATH")
	}

	key, err := loadPrivateKey(key, keyPath)
	if err != nil {
		return nil, err
	}

	a := &appAuth{
		appID:              appID,
		privateKey:         key,
		installationTokens: make(map[string]string),
		installationExpiry: make(map[string]time.Time),
		installationIDs:    make(map[string]int),
		installationTypes:  make(map[string]string),
	}
	if _, err := a.currentJWT(time.Now()); err != nil {
		return nil, err
	}
	slog.Info("Generated JWT for GitHub App", "component", "auth", "app_id", appID)
	return a, nil
}

// validateAppID validates the GitHub App ID.
func validateAppID(appID string) error {
	n, err := strconv.Atoi(appID)
	if err != nil {
		return fmt.Errorf("GITHUB_APP_ID must be numeric: %w", err)
	}
	if n <= 0 || n > maxAppID {
		return errors.New("GITHUB_APP_ID out of valid range")
	}
	return nil
}

// loadPrivateKey returns key content, reading keyPath when content is empty.
func loadPrivateKey(content []byte, keyPath string) ([]byte, error) {
	key := content
	if len(key) == 0 {
		if keyPath == "" {
			return nil, errors.New("GitHub App private key is required: use -app-key-path, GITHUB_APP_KEY or GITHUB_APP_KEY_PATH")
		}
		var err error
		key, err = readPrivateKeyFile(keyPath)
		if err != nil {
			return nil, err
		}
	}

	if !bytes.Contains(key, []byte("BEGIN RSA PRIVATE KEY")) &&
		!bytes.Contains(key, []byte("BEGIN PRIVATE KEY")) {
		return nil, errors.New("private key does not appear to be a valid PEM private key")
	}
	return key, nil
}

// readPrivateKeyFile reads a key file that only its owner may read.
func readPrivateKeyFile(keyPath string) ([]byte, error) {
	cleanPath := filepath.Clean(keyPath)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("private key path must be absolute")
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("cannot access private key file: %w", err)
	}
	if info.IsDir() {
		return nil, errors.New("private key path must be a file, not a directory")
	}
	if perm := info.Mode().Perm(); perm != filePermOwnerRW && perm != filePermReadOnly {
		return nil, fmt.Errorf("private key file has insecure permissions %04o (must be 0600 or 0400)", perm)
	}
	return os.ReadFile(cleanPath)
}

// generateJWT signs a GitHub App JWT issued at now.
func generateJWT(appID string, privateKey []byte, now time.Time) (string, error) {
	block, _ := pem.Decode(privateKey)
	if block == nil {
		return "", errors.New("failed to parse PEM block containing the private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		if key, ok = parsed.(*rsa.PrivateKey); !ok {
			return "", errors.New("private key is not RSA")
		}
	}

	claims := jwt.MapClaims{
		"iat": now.Add(-time.Minute).Unix(), // tolerate clock drift
		"exp": now.Add(jwtLifetime).Unix(),
		"iss": appID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// currentJWT returns a valid JWT, minting a new one when it is about to expire.
func (a *appAuth) currentJWT(now time.Time) (string, error) {
	a.mu.RLock()
	token, expiry := a.jwt, a.jwtExpiry
	a.mu.RUnlock()
	if token != "" && now.Before(expiry) {
		return token, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.jwt != "" && now.Before(a.jwtExpiry) {
		return a.jwt, nil
	}

	token, err := generateJWT(a.appID, a.privateKey, now)
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT: %w", err)
	}
	a.jwt = token
	a.jwtExpiry = now.Add(jwtRefreshAfter)
	slog.Debug("Refreshed GitHub App JWT", "component", "auth")
	return token, nil
}

// installationToken gets or refreshes the installation access token for org.
func (c *Client) installationToken(ctx context.Context, org string) (string, error) {
	a := c.app
	now := time.Now()

	a.mu.RLock()
	token, ok := a.installationTokens[org]
	expiry := a.installationExpiry[org]
	_, known := a.installationIDs[org]
	a.mu.RUnlock()
	if ok && now.Before(expiry) {
		return token, nil
	}

	if !known {
		if _, err := c.ForOrg("").ListAppInstallations(ctx); err != nil {
			return "", err
		}
	}

	a.mu.RLock()
	id, ok := a.installationIDs[org]
	a.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no installation found for %s (is the app installed?)", org)
	}

	jwtToken, err := a.currentJWT(now)
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Creating installation access token", "component", "auth", "org", org, "installation_id", id)
	apiURL := c.url("/app/installations/%d/access_tokens", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get installation token: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("failed to create installation token for %s: %w", org, newAPIError(resp))
	}

	var body struct {
		ExpiresAt time.Time `json:"expires_at"`
		Token     string    `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("received empty installation token")
	}

	a.mu.Lock()
	a.installationTokens[org] = body.Token
	a.installationExpiry[org] = body.ExpiresAt.Add(-installTokenSlack)
	a.mu.Unlock()

	slog.InfoContext(ctx, "Created installation access token", "component", "auth", "org", org, "expires_at", body.ExpiresAt.Format(time.RFC3339))
	return body.Token, nil
}

// Installation represents a GitHub App installation.
type Installation struct {
	Account struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"account"`
	ID int `json:"id"`
}

// ListAppInstallations returns every account (organization or user) where
// the app is installed and remembers their installation IDs.
func (c *Client) ListAppInstallations(ctx context.Context) ([]string, error) {
	if c.app == nil {
		return nil, errors.New("app installations can only be listed with GitHub App authentication")
	}

	var installations []Installation
	if err := c.getJSON(ctx, c.url("/app/installations?per_page=100"), &installations); err != nil {
		return nil, fmt.Errorf("failed to list app installations: %w", err)
	}

	accounts := make([]string, 0, len(installations))
	c.app.mu.Lock()
	for _, inst := range installations {
		accounts = append(accounts, inst.Account.Login)
		c.app.installationIDs[inst.Account.Login] = inst.ID
		c.app.installationTypes[inst.Account.Login] = inst.Account.Type
	}
	c.app.mu.Unlock()

	slog.InfoContext(ctx, "Found app installations", "component", "auth", "count", len(accounts), "accounts", accounts)
	return accounts, nil
}
