package github

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/cache"
)

// teamHistoryLimit caps how many closed pull requests TeamMembers inspects.
const teamHistoryLimit = 300

// Login fragments that mark automation and service accounts.
var (
	botPatterns = []string{ //nolint:gochecknoglobals // read-only pattern list
		"[bot]", "-bot", "_bot", "bot-", "bot_", ".bot",
		"github-actions", "dependabot", "renovate", "greenkeeper", "snyk",
		"codecov", "coveralls", "travis", "circleci", "jenkins", "buildkite",
		"semaphore", "appveyor", "azure-pipelines", "github-classroom",
		"imgbot", "allcontributors", "whitesource", "mergify", "sonarcloud",
		"deepsource", "codefactor", "lgtm", "codacy", "hound", "stale",
	}
	serviceAccountPatterns = []string{ //nolint:gochecknoglobals // read-only pattern list
		"octo-sts", "-sts", "-svc", "-service", "-system", "-automation",
		"-ci", "-cd", "-deploy", "-release", "release-manager", "-build",
		"-test", "-admin", "-security", "security-scanner", "-compliance",
		"compliance-checker",
	}
)

// accountCache remembers account types reported by GraphQL.
type accountCache struct {
	types map[string]string
	mu    sync.RWMutex
}

func newAccountCache() *accountCache {
	return &accountCache{types: make(map[string]string)}
}

func (a *accountCache) remember(login, typeName string) {
	if a == nil || login == "" || typeName == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.types[login] = typeName
}

func (a *accountCache) lookup(login string) (string, bool) {
	if a == nil {
		return "", false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.types[login]
	return t, ok
}

// IsBot reports whether login belongs to an automation account, using
// account types seen in API responses before login heuristics.
func (c *Client) IsBot(login string) bool {
	if t, ok := c.accounts.lookup(login); ok && t == "Bot" {
		return true
	}
	return LooksLikeBot(login)
}

// LooksLikeBot applies login heuristics for bots and service accounts.
func LooksLikeBot(login string) bool {
	lower := strings.ToLower(login)
	for _, p := range botPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, p := range serviceAccountPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// CurrentUser returns the login of the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	if c.app != nil {
		return "", errors.New("current user is not available with GitHub App authentication")
	}

	sum := sha256.Sum256([]byte(c.token))
	key := "user:" + hex.EncodeToString(sum[:8])
	var login string
	if _, ok := c.cache.Fetch(key, &login); ok && login != "" {
		return login, nil
	}

	var user struct {
		Login string `json:"login"`
	}
	if err := c.getJSON(ctx, c.url("/user"), &user); err != nil {
		return "", fmt.Errorf("current user: %w", err)
	}
	if user.Login == "" {
		return "", errors.New("current user: empty login")
	}
	c.cache.Put(key, user.Login, cache.TTLUserDetails)
	return user.Login, nil
}

// Collaborators returns users with push access to the repository, including
// organization members. Bot accounts are dropped.
func (c *Client) Collaborators(ctx context.Context, owner, repo string) ([]string, error) {
	key := fmt.Sprintf("collaborators:%s/%s", owner, repo)
	var logins []string
	if hit, ok := c.cache.Fetch(key, &logins); ok {
		slog.InfoContext(ctx, "Fetched collaborators", "component", "api", "owner", owner, "repo", repo, "count", len(logins), "cache", hit)
		return logins, nil
	}

	var collaborators []struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	}
	apiURL := c.url("/repos/%s/%s/collaborators?affiliation=all&permission=push&per_page=%d", owner, repo, perPageLimit)
	if err := c.getJSON(ctx, apiURL, &collaborators); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden {
			slog.WarnContext(ctx, "No permission to list collaborators", "component", "api", "owner", owner, "repo", repo)
		}
		return nil, fmt.Errorf("collaborators for %s/%s: %w", owner, repo, err)
	}

	logins = make([]string, 0, len(collaborators))
	for _, collab := range collaborators {
		c.accounts.remember(collab.Login, collab.Type)
		if collab.Type != "Bot" {
			logins = append(logins, collab.Login)
		}
	}
	sort.Strings(logins)

	c.cache.Put(key, logins, cache.TTLCollaborators)
	slog.InfoContext(ctx, "Fetched collaborators", "component", "api", "owner", owner, "repo", repo, "count", len(logins), "cache", cache.Miss)
	return logins, nil
}

// TeamMembers returns the identities that authored, reviewed, or were asked
// to review pull requests closed in the last days days, without bots.
func (c *Client) TeamMembers(ctx context.Context, owner, repo string, days int) ([]string, error) {
	key := fmt.Sprintf("team:%s/%s:%d", owner, repo, days)
	var members []string
	if _, ok := c.cache.Fetch(key, &members); ok {
		return members, nil
	}

	since := time.Now().AddDate(0, 0, -days)
	prs, err := c.ClosedPullRequests(ctx, owner, repo, since, teamHistoryLimit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	add := func(login string) {
		if login == "" || seen[login] || c.IsBot(login) {
			return
		}
		seen[login] = true
		members = append(members, login)
	}
	for _, pr := range prs {
		add(pr.Author)
		for _, login := range pr.ReviewRequests {
			add(login)
		}
		for _, r := range pr.Reviews {
			add(r.Author)
		}
	}
	sort.Strings(members)

	c.cache.Put(key, members, cache.TTLTeamMembers)
	slog.InfoContext(ctx, "Detected team members", "component", "api", "owner", owner, "repo", repo, "days", days, "count", len(members))
	return members, nil
}
