package github

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
)

func TestClient_PullRequest_Merged(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/pulls/7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"number":    7,
			"title":     "Fix",
			"state":     "closed",
			"merged_at": "2026-05-01T00:00:00Z",
			"user":      map[string]any{"login": "eve"},
			"head":      map[string]any{"ref": "fix"},
			"requested_reviewers": []map[string]any{
				{"login": "bob"},
			},
		})
	}))

	pr, err := c.PullRequest(context.Background(), "acme", "widgets", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pr.State != "MERGED" || pr.IsOpen() {
		t.Errorf("expected merged PR, got state %q", pr.State)
	}
	if pr.Author != "eve" || pr.HeadRef != "fix" || len(pr.ReviewRequests) != 1 {
		t.Errorf("unexpected PR %+v", pr)
	}
}

func TestClient_PullRequestForBranch(t *testing.T) {
	tests := []struct {
		name    string
		body    []map[string]any
		wantErr error
		want    int
	}{
		{name: "found", body: []map[string]any{{"number": 12, "state": "open"}}, want: 12},
		{name: "none", body: []map[string]any{}, wantErr: ErrNoPullRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("head"); got != "acme:feature/x" {
					t.Errorf("expected head filter acme:feature/x, got %q", got)
				}
				writeJSON(t, w, http.StatusOK, tt.body)
			}))

			pr, err := c.PullRequestForBranch(context.Background(), "acme", "widgets", "feature/x")

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if pr.Number != tt.want || !pr.IsOpen() {
				t.Errorf("unexpected PR %+v", pr)
			}
		})
	}
}

func TestClient_SearchPullRequests(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/issues" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if q := r.URL.Query().Get("q"); q != "is:pr is:open review-requested:alice" {
			t.Errorf("unexpected query %q", q)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"total_count": 2,
			"items": []map[string]any{
				{
					"number": 1, "state": "open", "updated_at": "2026-05-01T00:00:00Z",
					"repository_url": "https://api.github.com/repos/acme/widgets",
				},
				{
					"number": 2, "state": "open", "updated_at": "2026-05-03T00:00:00Z",
					"repository_url": "https://api.github.com/repos/acme/gadgets",
				},
			},
		})
	}))

	prs, err := c.SearchPullRequests(context.Background(), "is:pr is:open review-requested:alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(prs) != 2 {
		t.Fatalf("expected 2 PRs, got %d", len(prs))
	}
	if prs[0].Number != 2 || prs[0].Repository != "gadgets" || prs[0].Owner != "acme" {
		t.Errorf("expected most recently updated first, got %+v", prs[0])
	}
	if prs[1].State != "OPEN" {
		t.Errorf("expected upper-cased state, got %q", prs[1].State)
	}
}

func TestClient_FileContents(t *testing.T) {
	content := "team:\n  - alice\n  - bob\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	wrapped := encoded[:10] + "\n" + encoded[10:]

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/contents/.github/reviewers.yaml":
			writeJSON(t, w, http.StatusOK, map[string]any{"type": "file", "encoding": "base64", "content": wrapped})
		case "/repos/acme/widgets/contents/.github":
			writeJSON(t, w, http.StatusOK, map[string]any{"type": "dir"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	got, err := c.FileContents(context.Background(), "acme", "widgets", ".github/reviewers.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != content {
		t.Errorf("expected %q, got %q", content, got)
	}

	if _, err := c.FileContents(context.Background(), "acme", "widgets", ".github"); err == nil {
		t.Error("expected error for a directory")
	}

	_, err = c.FileContents(context.Background(), "acme", "widgets", "missing.yaml")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSplitRepositoryURL(t *testing.T) {
	owner, repo := splitRepositoryURL("https://api.github.com/repos/acme/widgets/")
	if owner != "acme" || repo != "widgets" {
		t.Errorf("got %q/%q", owner, repo)
	}
	if owner, repo := splitRepositoryURL(""); owner != "" || repo != "" {
		t.Errorf("expected empty result, got %q/%q", owner, repo)
	}
}
