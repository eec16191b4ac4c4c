package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/config"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/github"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/metrics"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // fixed test clock

func daysBefore(n int) time.Time {
	return testNow.AddDate(0, 0, -n)
}

type fakeGitHub struct {
	files    map[string]string // owner/repo -> config file
	closed   map[string][]types.PullRequest
	open     map[string][]types.OpenPullRequest
	prs      map[string]*types.OpenPullRequest // owner/repo#n
	search   map[string][]types.OpenPullRequest
	missing  map[string]bool
	assigned map[string][]string
	addErr   error
	fetches  int
	mu       sync.Mutex
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		files: map[string]string{},
		closed: map[string][]types.PullRequest{
			"acme/widgets": {
				{Number: 1, Author: "dave", ClosedAt: daysBefore(2), Reviews: []types.Review{
					{Author: "alice", State: types.ReviewApproved, SubmittedAt: daysBefore(2)},
				}},
				{Number: 2, Author: "alice", ClosedAt: daysBefore(5), Reviews: []types.Review{
					{Author: "bob", State: types.ReviewApproved, SubmittedAt: daysBefore(5)},
				}},
				{Number: 3, Author: "bob", ClosedAt: daysBefore(20), Reviews: []types.Review{
					{Author: "carol", State: types.ReviewCommented, SubmittedAt: daysBefore(20)},
				}},
			},
		},
		open: map[string][]types.OpenPullRequest{},
		prs: map[string]*types.OpenPullRequest{
			"acme/widgets#7": openPR("acme", "widgets", 7, "dave"),
		},
		search:   map[string][]types.OpenPullRequest{},
		missing:  map[string]bool{},
		assigned: map[string][]string{},
	}
}

func openPR(owner, repo string, number int, author string) *types.OpenPullRequest {
	return &types.OpenPullRequest{
		Owner:      owner,
		Repository: repo,
		Number:     number,
		Author:     author,
		State:      "OPEN",
		UpdatedAt:  testNow.Add(-time.Hour),
		URL:        fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, number),
	}
}

func (f *fakeGitHub) ClosedPullRequests(_ context.Context, owner, repo string, _ time.Time, _ int) ([]types.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[owner+"/"+repo] {
		return nil, fmt.Errorf("repository %s/%s: %w", owner, repo, github.ErrNotFound)
	}
	return f.closed[owner+"/"+repo], nil
}

func (f *fakeGitHub) OpenPullRequests(_ context.Context, owner, repo string) ([]types.OpenPullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[owner+"/"+repo], nil
}

func (*fakeGitHub) IsBot(login string) bool {
	return github.LooksLikeBot(login)
}

func (f *fakeGitHub) FileContents(_ context.Context, owner, repo, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[owner+"/"+repo]
	if !ok {
		return nil, &github.APIError{StatusCode: 404, Message: "Not Found"}
	}
	return []byte(data), nil
}

func (f *fakeGitHub) PullRequest(_ context.Context, owner, repo string, number int) (*types.OpenPullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	pr, ok := f.prs[fmt.Sprintf("%s/%s#%d", owner, repo, number)]
	if !ok {
		return nil, fmt.Errorf("pull request %d: %w", number, github.ErrNotFound)
	}
	cp := *pr
	return &cp, nil
}

func (f *fakeGitHub) SearchPullRequests(_ context.Context, query string) ([]types.OpenPullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.search[query], nil
}

func (f *fakeGitHub) AddReviewers(_ context.Context, owner, repo string, number int, reviewers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	key := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	f.assigned[key] = append(f.assigned[key], reviewers...)
	return nil
}

func (*fakeGitHub) Token(context.Context) (string, error) {
	return "ghs_test", nil
}

func (f *fakeGitHub) assignedTo(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.assigned[key])
}

type fakeApps struct {
	users map[string]bool
	orgs  []string
	err   error
}

func (a *fakeApps) ListAppInstallations(context.Context) ([]string, error) {
	return a.orgs, a.err
}

func (a *fakeApps) IsUserAccount(account string) bool {
	return a.users[account]
}

func newTestBot(gh *fakeGitHub, apps *fakeApps) *Bot {
	return &Bot{
		apps:         apps,
		clientFor:    func(string) gitHub { return gh },
		metrics:      metrics.NewManager(),
		stats:        newRunStats(),
		monitors:     make(map[string]eventMonitor),
		now:          func() time.Time { return testNow },
		maxReviewers: 2,
		minAge:       2 * time.Minute,
	}
}

// counterValue reads a labelled counter from reg, or 0 when absent.
func counterValue(t *testing.T, reg prometheus.Gatherer, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabel(m, label, value) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestProcessPR_AssignsTopReviewers(t *testing.T) {
	gh := newFakeGitHub()
	b := newTestBot(gh, &fakeApps{})

	outcome, err := b.processPR(context.Background(), gh, openPR("acme", "widgets", 7, "dave"))

	if err != nil || outcome != metrics.OutcomeAssigned {
		t.Fatalf("processPR() = %q, %v", outcome, err)
	}
	if got := gh.assignedTo("acme/widgets#7"); !slices.Equal(got, []string{"carol", "bob"}) {
		t.Errorf("expected carol and bob, got %v", got)
	}
	if v := counterValue(t, b.metrics.Registry(), "fair_reviewer_bot_elections_total", "outcome", "assigned"); v != 1 {
		t.Errorf("expected one assigned election, got %v", v)
	}
}

func TestProcessPR_Skips(t *testing.T) {
	tests := []struct {
		edit func(*types.OpenPullRequest)
		name string
	}{
		{name: "draft", edit: func(pr *types.OpenPullRequest) { pr.Draft = true }},
		{name: "merged", edit: func(pr *types.OpenPullRequest) { pr.State = "MERGED" }},
		{name: "already requested", edit: func(pr *types.OpenPullRequest) { pr.ReviewRequests = []string{"erin"} }},
		{name: "recently updated", edit: func(pr *types.OpenPullRequest) { pr.UpdatedAt = testNow.Add(-30 * time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh := newFakeGitHub()
			b := newTestBot(gh, &fakeApps{})
			pr := openPR("acme", "widgets", 7, "dave")
			tt.edit(pr)

			outcome, err := b.processPR(context.Background(), gh, pr)

			if err != nil || outcome != metrics.OutcomeSkipped {
				t.Errorf("processPR() = %q, %v; want skipped", outcome, err)
			}
			if len(gh.assignedTo("acme/widgets#7")) > 0 {
				t.Error("nothing should be assigned")
			}
		})
	}
}

func TestProcessPR_DryRun(t *testing.T) {
	gh := newFakeGitHub()
	b := newTestBot(gh, &fakeApps{})
	b.dryRun = true

	outcome, err := b.processPR(context.Background(), gh, openPR("acme", "widgets", 7, "dave"))

	if err != nil || outcome != metrics.OutcomeDryRun {
		t.Errorf("processPR() = %q, %v; want dry_run", outcome, err)
	}
	if len(gh.assignedTo("acme/widgets#7")) > 0 {
		t.Error("dry run must not assign")
	}
}

func TestProcessPR_RepositoryConfig(t *testing.T) {
	tests := []struct {
		wantErr     error
		name        string
		file        string
		wantOutcome string
		want        []string
	}{
		{
			name:        "team and exclusions",
			file:        "team: [alice, bob]\nexcluded: [bob]\n",
			wantOutcome: metrics.OutcomeAssigned,
			want:        []string{"alice"},
		},
		{
			name:        "author is the whole team",
			file:        "team: [dave]\n",
			wantOutcome: metrics.OutcomeNoCandidate,
		},
		{
			name:        "invalid file",
			file:        "historyDays: 0\n",
			wantOutcome: metrics.OutcomeError,
			wantErr:     config.ErrInvalidConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh := newFakeGitHub()
			gh.files["acme/widgets"] = tt.file
			b := newTestBot(gh, &fakeApps{})

			outcome, err := b.processPR(context.Background(), gh, openPR("acme", "widgets", 7, "dave"))

			if outcome != tt.wantOutcome {
				t.Errorf("outcome = %q, want %q", outcome, tt.wantOutcome)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if got := gh.assignedTo("acme/widgets#7"); !slices.Equal(got, tt.want) {
				t.Errorf("assigned %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessPR_AssignFailure(t *testing.T) {
	gh := newFakeGitHub()
	gh.addErr = &github.APIError{StatusCode: 422, Message: "Reviews may only be requested from collaborators"}
	b := newTestBot(gh, &fakeApps{})

	outcome, err := b.processPR(context.Background(), gh, openPR("acme", "widgets", 7, "dave"))

	if err == nil || outcome != metrics.OutcomeError {
		t.Errorf("processPR() = %q, %v; want error", outcome, err)
	}
	if v := counterValue(t, b.metrics.Registry(), "fair_reviewer_bot_github_errors_total", "operation", "add_reviewers"); v != 1 {
		t.Errorf("expected one add_reviewers error, got %v", v)
	}
}

func TestProcessSinglePR(t *testing.T) {
	gh := newFakeGitHub()
	b := newTestBot(gh, &fakeApps{})

	if err := b.processSinglePR(context.Background(), "acme", "widgets", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.processSinglePR(context.Background(), "acme", "widgets", 99); !errors.Is(err, github.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	report := b.stats.report()
	if report.PRsSeen != 1 || report.PRsModified != 1 {
		t.Errorf("expected one seen and modified PR, got %+v", report)
	}
}

func TestSweep(t *testing.T) {
	gh := newFakeGitHub()
	gh.prs["acme/widgets#8"] = openPR("acme", "widgets", 8, "alice")
	gh.prs["acme/widgets#8"].Draft = true
	gh.search["is:pr is:open draft:false review:none org:acme"] = []types.OpenPullRequest{
		{Owner: "acme", Repository: "widgets", Number: 7},
		{Owner: "acme", Repository: "widgets", Number: 8},
	}
	gh.search["is:pr is:open draft:false review:none user:dana"] = []types.OpenPullRequest{
		{Owner: "dana", Repository: "tools", Number: 1},
	}
	b := newTestBot(gh, &fakeApps{orgs: []string{"acme", "dana"}, users: map[string]bool{"dana": true}})

	if err := b.sweep(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := gh.assignedTo("acme/widgets#7"); !slices.Equal(got, []string{"carol", "bob"}) {
		t.Errorf("expected #7 assigned, got %v", got)
	}
	if got := gh.assignedTo("acme/widgets#8"); len(got) > 0 {
		t.Errorf("draft should be skipped, got %v", got)
	}
	report := b.stats.report()
	if report.Orgs != 2 || report.PRsSeen != 2 || report.PRsModified != 1 || report.Runs != 1 {
		t.Errorf("unexpected stats %+v", report)
	}
	if !report.LastRun.Equal(testNow) {
		t.Errorf("expected last run at %v, got %v", testNow, report.LastRun)
	}
	if v := counterValue(t, b.metrics.Registry(), "fair_reviewer_bot_github_errors_total", "operation", "pull_request"); v != 1 {
		t.Errorf("expected the missing dana PR counted as an API error, got %v", v)
	}
}

func TestSweep_InstallationsError(t *testing.T) {
	b := newTestBot(newFakeGitHub(), &fakeApps{err: errors.New("bad credentials")})
	if err := b.sweep(context.Background()); err == nil {
		t.Error("expected error")
	}
	if b.stats.report().Runs != 0 {
		t.Error("a failed sweep should not count as a run")
	}
}

type fakeMonitor struct {
	org     string
	started bool
	stopped bool
}

func (m *fakeMonitor) start(context.Context) error {
	m.started = true
	return nil
}

func (m *fakeMonitor) stop() {
	m.stopped = true
}

func (m *fakeMonitor) healthStatus() map[string]any {
	return map[string]any{"org": m.org, "running": m.started && !m.stopped}
}

func TestUpdateMonitors(t *testing.T) {
	apps := &fakeApps{orgs: []string{"acme", "globex"}}
	b := newTestBot(newFakeGitHub(), apps)
	created := map[string]*fakeMonitor{}
	b.newMonitor = func(org string) eventMonitor {
		m := &fakeMonitor{org: org}
		created[org] = m
		return m
	}

	b.updateMonitors(context.Background())
	apps.orgs = []string{"globex", "initech"}
	b.updateMonitors(context.Background())

	if !created["acme"].stopped {
		t.Error("acme monitor should stop after the app is uninstalled")
	}
	if created["globex"].stopped || !created["initech"].started {
		t.Error("globex should keep running and initech should start")
	}
	if len(b.monitors) != 2 || len(b.monitorHealth()) != 2 {
		t.Errorf("expected 2 monitors, got %d", len(b.monitors))
	}

	b.stopMonitors()
	if !created["globex"].stopped || !created["initech"].stopped || len(b.monitors) != 0 {
		t.Error("stopMonitors should stop everything")
	}
}
