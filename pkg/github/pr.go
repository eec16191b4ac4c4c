package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/cache"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

// PR-related constants.
const (
	perPageLimit       = 100 // GitHub API per_page limit
	maxReviewsPerPR    = 100
	defaultHistorySize = 200
)

const closedPullRequestsQuery = `query ClosedPullRequests($owner: String!, $repo: String!, $pageSize: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequests(states: [CLOSED, MERGED], first: $pageSize, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        number
        title
        closedAt
        updatedAt
        author { login __typename }
        reviews(first: 100) {
          nodes { state submittedAt author { login __typename } }
        }
        reviewRequests(first: 50) {
          nodes { requestedReviewer { __typename ... on User { login } ... on Bot { login } ... on Mannequin { login } ... on Team { slug } } }
        }
      }
    }
  }
}`

const openPullRequestsQuery = `query OpenPullRequests($owner: String!, $repo: String!, $pageSize: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequests(states: [OPEN], first: $pageSize, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        number
        title
        url
        state
        isDraft
        createdAt
        updatedAt
        reviewDecision
        headRefName
        author { login __typename }
        reviewRequests(first: 50) {
          nodes { requestedReviewer { __typename ... on User { login } ... on Bot { login } ... on Mannequin { login } ... on Team { slug } } }
        }
      }
    }
  }
}`

type closedPRNode struct {
	ClosedAt       time.Time          `json:"closedAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	Author         *actor             `json:"author"`
	Title          string             `json:"title"`
	ReviewRequests reviewRequestNodes `json:"reviewRequests"`
	Reviews        struct {
		Nodes []struct {
			SubmittedAt time.Time `json:"submittedAt"`
			Author      *actor    `json:"author"`
			State       string    `json:"state"`
		} `json:"nodes"`
	} `json:"reviews"`
	Number int `json:"number"`
}

type openPRNode struct {
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	Author         *actor             `json:"author"`
	Title          string             `json:"title"`
	URL            string             `json:"url"`
	State          string             `json:"state"`
	ReviewDecision string             `json:"reviewDecision"`
	HeadRefName    string             `json:"headRefName"`
	ReviewRequests reviewRequestNodes `json:"reviewRequests"`
	Number         int                `json:"number"`
	IsDraft        bool               `json:"isDraft"`
}

// ClosedPullRequests returns closed and merged pull requests closed at or
// after since, newest activity first, with their reviews and review requests.
// At most limit pull requests are returned; limit <= 0 uses a default of 200.
// Results are cached for cache.TTLHistory.
func (c *Client) ClosedPullRequests(ctx context.Context, owner, repo string, since time.Time, limit int) ([]types.PullRequest, error) {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	key := fmt.Sprintf("history:%s/%s:%s:%d", owner, repo, since.UTC().Format(time.DateOnly), limit)
	var prs []types.PullRequest
	if hit, ok := c.cache.Fetch(key, &prs); ok {
		slog.InfoContext(ctx, "Fetched closed PRs", "component", "api", "owner", owner, "repo", repo, "count", len(prs), "cache", hit)
		return prs, nil
	}

	var cursor *string
	for page := 1; ; page++ {
		var data struct {
			Repository *struct {
				PullRequests struct {
					Nodes    []closedPRNode `json:"nodes"`
					PageInfo pageInfo       `json:"pageInfo"`
				} `json:"pullRequests"`
			} `json:"repository"`
		}
		vars := map[string]any{"owner": owner, "repo": repo, "pageSize": perPageLimit, "cursor": cursor}
		if err := c.query(ctx, closedPullRequestsQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("closed pull requests for %s/%s: %w", owner, repo, err)
		}
		if data.Repository == nil {
			return nil, fmt.Errorf("repository %s/%s: %w", owner, repo, ErrNotFound)
		}

		conn := data.Repository.PullRequests
		done := false
		for i := range conn.Nodes {
			n := &conn.Nodes[i]
			// Ordered by update time, which is never before close time.
			if n.UpdatedAt.Before(since) {
				done = true
				break
			}
			if n.ClosedAt.Before(since) {
				continue
			}
			prs = append(prs, c.closedPR(n))
			if len(prs) >= limit {
				done = true
				break
			}
		}
		slog.DebugContext(ctx, "Fetched page of closed PRs", "component", "api", "owner", owner, "repo", repo, "page", page, "total", len(prs))

		if done || !conn.PageInfo.HasNextPage {
			break
		}
		next := conn.PageInfo.EndCursor
		cursor = &next
	}

	slog.InfoContext(ctx, "Fetched closed PRs", "component", "api", "owner", owner, "repo", repo, "count", len(prs), "cache", cache.Miss)
	c.cache.Put(key, prs, cache.TTLHistory)
	return prs, nil
}

func (c *Client) closedPR(n *closedPRNode) types.PullRequest {
	pr := types.PullRequest{
		Number:         n.Number,
		Title:          n.Title,
		Author:         c.login(n.Author),
		ClosedAt:       n.ClosedAt,
		ReviewRequests: c.requested(n.ReviewRequests),
	}
	if len(n.Reviews.Nodes) >= maxReviewsPerPR {
		slog.Debug("Review list truncated", "component", "api", "pr", n.Number, "limit", maxReviewsPerPR)
	}
	for _, r := range n.Reviews.Nodes {
		pr.Reviews = append(pr.Reviews, types.Review{
			Author:      c.login(r.Author),
			State:       types.ReviewState(r.State),
			SubmittedAt: r.SubmittedAt,
		})
	}
	return pr
}

// OpenPullRequests returns every open pull request in a repository with its
// pending review requests. Results are never cached.
func (c *Client) OpenPullRequests(ctx context.Context, owner, repo string) ([]types.OpenPullRequest, error) {
	var prs []types.OpenPullRequest
	var cursor *string
	for {
		var data struct {
			Repository *struct {
				PullRequests struct {
					Nodes    []openPRNode `json:"nodes"`
					PageInfo pageInfo     `json:"pageInfo"`
				} `json:"pullRequests"`
			} `json:"repository"`
		}
		vars := map[string]any{"owner": owner, "repo": repo, "pageSize": perPageLimit, "cursor": cursor}
		if err := c.query(ctx, openPullRequestsQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("open pull requests for %s/%s: %w", owner, repo, err)
		}
		if data.Repository == nil {
			return nil, fmt.Errorf("repository %s/%s: %w", owner, repo, ErrNotFound)
		}

		conn := data.Repository.PullRequests
		for i := range conn.Nodes {
			n := &conn.Nodes[i]
			prs = append(prs, types.OpenPullRequest{
				Number:         n.Number,
				Title:          n.Title,
				Author:         c.login(n.Author),
				URL:            n.URL,
				State:          n.State,
				Owner:          owner,
				Repository:     repo,
				ReviewDecision: n.ReviewDecision,
				HeadRef:        n.HeadRefName,
				Draft:          n.IsDraft,
				CreatedAt:      n.CreatedAt,
				UpdatedAt:      n.UpdatedAt,
				ReviewRequests: c.requested(n.ReviewRequests),
			})
		}
		if !conn.PageInfo.HasNextPage {
			break
		}
		next := conn.PageInfo.EndCursor
		cursor = &next
	}

	slog.InfoContext(ctx, "Fetched open PRs", "component", "api", "owner", owner, "repo", repo, "count", len(prs))
	return prs, nil
}

// restPullRequest is the subset of the REST pull request object we read.
type restPullRequest struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	MergedAt  time.Time `json:"merged_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Title              string `json:"title"`
	State              string `json:"state"`
	HTMLURL            string `json:"html_url"`
	RequestedReviewers []struct {
		Login string `json:"login"`
	} `json:"requested_reviewers"`
	Number int  `json:"number"`
	Draft  bool `json:"draft"`
}

func (r *restPullRequest) convert(owner, repo string) *types.OpenPullRequest {
	state := strings.ToUpper(r.State)
	if !r.MergedAt.IsZero() {
		state = "MERGED"
	}
	pr := &types.OpenPullRequest{
		Number:     r.Number,
		Title:      r.Title,
		Author:     r.User.Login,
		URL:        r.HTMLURL,
		State:      state,
		Owner:      owner,
		Repository: repo,
		HeadRef:    r.Head.Ref,
		Draft:      r.Draft,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	for _, rv := range r.RequestedReviewers {
		pr.ReviewRequests = append(pr.ReviewRequests, rv.Login)
	}
	return pr
}

// PullRequest fetches a single pull request in any state.
func (c *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*types.OpenPullRequest, error) {
	var raw restPullRequest
	if err := c.getJSON(ctx, c.url("/repos/%s/%s/pulls/%d", owner, repo, number), &raw); err != nil {
		return nil, fmt.Errorf("pull request %s/%s#%d: %w", owner, repo, number, err)
	}
	return raw.convert(owner, repo), nil
}

// PullRequestForBranch returns the open pull request whose head is branch.
// It returns ErrNoPullRequest when there is none.
func (c *Client) PullRequestForBranch(ctx context.Context, owner, repo, branch string) (*types.OpenPullRequest, error) {
	q := url.Values{}
	q.Set("state", "open")
	q.Set("head", owner+":"+branch)
	var raw []restPullRequest
	if err := c.getJSON(ctx, c.url("/repos/%s/%s/pulls?%s", owner, repo, q.Encode()), &raw); err != nil {
		return nil, fmt.Errorf("pull requests for branch %s: %w", branch, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", branch, ErrNoPullRequest)
	}
	return raw[0].convert(owner, repo), nil
}

// SearchPullRequests runs an issue search query (e.g. "is:pr is:open
// review-requested:alice") and returns matches, most recently updated first.
func (c *Client) SearchPullRequests(ctx context.Context, query string) ([]types.OpenPullRequest, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "updated")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(perPageLimit))

	var result struct {
		Items []struct {
			CreatedAt     time.Time `json:"created_at"`
			UpdatedAt     time.Time `json:"updated_at"`
			Title         string    `json:"title"`
			State         string    `json:"state"`
			HTMLURL       string    `json:"html_url"`
			RepositoryURL string    `json:"repository_url"`
			User          struct {
				Login string `json:"login"`
			} `json:"user"`
			Number int  `json:"number"`
			Draft  bool `json:"draft"`
		} `json:"items"`
		TotalCount int `json:"total_count"`
	}
	if err := c.getJSON(ctx, c.url("/search/issues?%s", q.Encode()), &result); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	prs := make([]types.OpenPullRequest, 0, len(result.Items))
	for _, it := range result.Items {
		owner, repo := splitRepositoryURL(it.RepositoryURL)
		prs = append(prs, types.OpenPullRequest{
			Number:     it.Number,
			Title:      it.Title,
			Author:     it.User.Login,
			URL:        it.HTMLURL,
			State:      strings.ToUpper(it.State),
			Owner:      owner,
			Repository: repo,
			Draft:      it.Draft,
			CreatedAt:  it.CreatedAt,
			UpdatedAt:  it.UpdatedAt,
		})
	}
	sort.SliceStable(prs, func(i, j int) bool { return prs[i].UpdatedAt.After(prs[j].UpdatedAt) })

	slog.InfoContext(ctx, "Searched PRs", "component", "api", "query", query, "count", len(prs), "total", result.TotalCount)
	return prs, nil
}

// splitRepositoryURL extracts owner and name from .../repos/{owner}/{repo}.
func splitRepositoryURL(u string) (owner, repo string) {
	parts := strings.Split(strings.TrimSuffix(u, "/"), "/")
	if len(parts) < 2 {
		return "", ""
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}

// FileContents returns a file from the default branch. A missing file
// yields an error wrapping ErrNotFound.
func (c *Client) FileContents(ctx context.Context, owner, repo, path string) ([]byte, error) {
	var file struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
		Type     string `json:"type"`
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	if err := c.getJSON(ctx, c.url("/repos/%s/%s/contents/%s", owner, repo, strings.Join(segments, "/")), &file); err != nil {
		return nil, fmt.Errorf("contents of %s in %s/%s: %w", path, owner, repo, err)
	}
	if file.Type != "" && file.Type != "file" {
		return nil, fmt.Errorf("%s in %s/%s is a %s, not a file", path, owner, repo, file.Type)
	}
	if file.Encoding != "base64" {
		return []byte(file.Content), nil
	}
	b, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return b, nil
}
