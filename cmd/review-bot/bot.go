package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/election"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/metrics"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

// gitHub is the installation-scoped API the bot needs. *github.Client satisfies it.
type gitHub interface {
	election.Source
	election.ConfigSource
	PullRequest(ctx context.Context, owner, repo string, number int) (*types.OpenPullRequest, error)
	SearchPullRequests(ctx context.Context, query string) ([]types.OpenPullRequest, error)
	AddReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error
	Token(ctx context.Context) (string, error)
}

// installations lists the accounts the app is installed on.
type installations interface {
	ListAppInstallations(ctx context.Context) ([]string, error)
	IsUserAccount(account string) bool
}

// eventMonitor delivers pull request events for one organization.
type eventMonitor interface {
	start(ctx context.Context) error
	stop()
	healthStatus() map[string]any
}

// Bot assigns reviewers across every account the app is installed on.
type Bot struct {
	apps       installations
	clientFor  func(org string) gitHub
	newMonitor func(org string) eventMonitor
	metrics    *metrics.Manager
	stats      *runStats
	monitors   map[string]eventMonitor
	now        func() time.Time

	maxReviewers int
	minAge       time.Duration
	dryRun       bool

	monitorsMu sync.Mutex
	sweepMu    sync.Mutex // held for the duration of a sweep
}

// processSinglePR fetches and processes one pull request. It is used for
// webhook-style events where only the URL is known.
func (b *Bot) processSinglePR(ctx context.Context, owner, repo string, number int) error {
	gh := b.clientFor(owner)
	pr, err := gh.PullRequest(ctx, owner, repo, number)
	if err != nil {
		b.metrics.APIError("pull_request")
		return fmt.Errorf("fetch %s/%s#%d: %w", owner, repo, number, err)
	}
	b.stats.recordSeen(owner, repo, number)

	outcome, err := b.processPR(ctx, gh, pr)
	if outcome == metrics.OutcomeAssigned {
		b.stats.recordModified(owner, repo, number)
	}
	return err
}

// processPR elects reviewers for pr and assigns them unless it should be left alone.
// It returns the election outcome recorded in metrics.
func (b *Bot) processPR(ctx context.Context, gh gitHub, pr *types.OpenPullRequest) (string, error) {
	log := slog.With("owner", pr.Owner, "repo", pr.Repository, "pr", pr.Number)

	if reason := b.skipReason(pr); reason != "" {
		log.Debug("Skipping PR", "reason", reason)
		b.metrics.Election(metrics.OutcomeSkipped)
		return metrics.OutcomeSkipped, nil
	}

	start := time.Now()
	cfg, err := election.RepoConfig(ctx, gh, pr.Owner, pr.Repository)
	if err != nil {
		b.metrics.Election(metrics.OutcomeError)
		return metrics.OutcomeError, err
	}
	snap, err := election.Prepare(ctx, gh, pr.Owner, pr.Repository, cfg, election.Options{Now: b.now})
	if err != nil {
		b.metrics.APIError("history")
		b.metrics.Election(metrics.OutcomeError)
		return metrics.OutcomeError, err
	}
	queue, ok := snap.Selector.Queue(pr.Author, b.maxReviewers, snap.Table)
	b.metrics.ObserveSelection(time.Since(start))
	if !ok {
		log.Info("No eligible reviewers", "author", pr.Author, "identities", len(snap.Table))
		b.metrics.Election(metrics.OutcomeNoCandidate)
		return metrics.OutcomeNoCandidate, nil
	}

	reviewers := make([]string, 0, len(queue))
	for _, r := range queue {
		if r.Overloaded {
			log.Warn("Assigning overloaded reviewer", "reviewer", r.Reviewer, "pending", r.Stats.PendingReviews)
		}
		reviewers = append(reviewers, r.Reviewer)
	}

	if b.dryRun {
		log.Info("Would assign reviewers (dry-run)", "reviewers", reviewers, "top_score", queue[0].Score)
		b.metrics.Election(metrics.OutcomeDryRun)
		return metrics.OutcomeDryRun, nil
	}

	if err := gh.AddReviewers(ctx, pr.Owner, pr.Repository, pr.Number, reviewers); err != nil {
		log.Error("Failed to assign reviewers", "reviewers", reviewers, "error", err)
		b.metrics.APIError("add_reviewers")
		b.metrics.Election(metrics.OutcomeError)
		return metrics.OutcomeError, err
	}
	log.Info("Assigned reviewers", "reviewers", reviewers, "top_score", queue[0].Score)
	b.metrics.Election(metrics.OutcomeAssigned)
	return metrics.OutcomeAssigned, nil
}

// skipReason explains why pr gets no reviewers, or returns "".
func (b *Bot) skipReason(pr *types.OpenPullRequest) string {
	switch {
	case !pr.IsOpen():
		return "not open"
	case pr.Draft:
		return "draft"
	case len(pr.ReviewRequests) > 0:
		return "reviewers already requested"
	case b.minAge > 0 && !pr.UpdatedAt.IsZero() && b.now().Sub(pr.UpdatedAt) < b.minAge:
		return "recently updated"
	}
	return ""
}

// sweep processes every open, unreviewed pull request of every installation.
func (b *Bot) sweep(ctx context.Context) error {
	runID := uuid.NewString()
	log := slog.With("run_id", runID)

	orgs, err := b.apps.ListAppInstallations(ctx)
	if err != nil {
		b.metrics.APIError("list_installations")
		return fmt.Errorf("list app installations: %w", err)
	}
	if len(orgs) == 0 {
		log.Info("No installations found")
	}

	var processed, assigned int
	for i, org := range orgs {
		log.Info("Processing organization", "org", org, "progress", fmt.Sprintf("%d/%d", i+1, len(orgs)))
		p, a := b.processOrg(ctx, log, org)
		processed += p
		assigned += a
		b.stats.recordOrg(org)
	}

	now := b.now()
	b.stats.recordRun(now)
	b.metrics.SweepCompleted(now)
	log.Info("Sweep completed", "orgs", len(orgs), "prs", processed, "assigned", assigned)
	return nil
}

// processOrg searches one account for open pull requests that have no reviews.
func (b *Bot) processOrg(ctx context.Context, log *slog.Logger, org string) (processed, assigned int) {
	qualifier := "org:"
	if b.apps.IsUserAccount(org) {
		qualifier = "user:"
	}
	gh := b.clientFor(org)
	found, err := gh.SearchPullRequests(ctx, "is:pr is:open draft:false review:none "+qualifier+org)
	if err != nil {
		b.metrics.APIError("search")
		log.Warn("Failed to search PRs", "org", org, "error", err)
		return 0, 0
	}

	for _, hit := range found {
		b.metrics.Event("sweep")
		// Search results carry no review requests.
		pr, err := gh.PullRequest(ctx, hit.Owner, hit.Repository, hit.Number)
		if err != nil {
			b.metrics.APIError("pull_request")
			log.Warn("Failed to fetch PR", "owner", hit.Owner, "repo", hit.Repository, "pr", hit.Number, "error", err)
			continue
		}
		processed++
		b.stats.recordSeen(pr.Owner, pr.Repository, pr.Number)

		outcome, err := b.processPR(ctx, gh, pr)
		if err != nil {
			log.Warn("Failed to process PR", "owner", pr.Owner, "repo", pr.Repository, "pr", pr.Number, "error", err)
			continue
		}
		if outcome == metrics.OutcomeAssigned {
			assigned++
			b.stats.recordModified(pr.Owner, pr.Repository, pr.Number)
		}
	}
	return processed, assigned
}

// runServeMode sweeps every loopDelay until ctx is done, with event monitors
// running in between.
func (b *Bot) runServeMode(ctx context.Context, loopDelay time.Duration) {
	defer b.stopMonitors()

	for {
		slog.Info("Starting reviewer assignment run")
		start := time.Now()
		if b.sweepMu.TryLock() {
			if err := b.sweep(ctx); err != nil {
				slog.Error("Sweep failed", "error", err)
			}
			b.sweepMu.Unlock()
		} else {
			slog.Info("Sweep already in progress, skipping scheduled run")
		}
		b.updateMonitors(ctx)
		slog.Info("Run completed", "duration", time.Since(start), "sleep_duration", loopDelay)

		timer := time.NewTimer(loopDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Context cancelled, shutting down")
			return
		case <-timer.C:
		}
	}
}

// updateMonitors starts monitors for new installations and stops those for
// removed ones.
func (b *Bot) updateMonitors(ctx context.Context) {
	if b.newMonitor == nil {
		return
	}
	orgs, err := b.apps.ListAppInstallations(ctx)
	if err != nil {
		slog.Warn("Failed to list installations for event monitors", "error", err)
		return
	}
	current := make(map[string]bool, len(orgs))
	for _, org := range orgs {
		current[org] = true
	}

	b.monitorsMu.Lock()
	defer b.monitorsMu.Unlock()
	for org, m := range b.monitors {
		if !current[org] {
			slog.Info("Stopping event monitor for removed installation", "org", org)
			m.stop()
			delete(b.monitors, org)
		}
	}
	for _, org := range orgs {
		if _, ok := b.monitors[org]; ok {
			continue
		}
		m := b.newMonitor(org)
		if err := m.start(ctx); err != nil {
			slog.Error("Failed to start event monitor", "org", org, "error", err)
			continue
		}
		b.monitors[org] = m
		slog.Info("Started event monitor", "org", org)
	}
}

func (b *Bot) stopMonitors() {
	b.monitorsMu.Lock()
	defer b.monitorsMu.Unlock()
	for org, m := range b.monitors {
		slog.Info("Stopping event monitor", "org", org)
		m.stop()
		delete(b.monitors, org)
	}
}

func (b *Bot) monitorHealth() []map[string]any {
	b.monitorsMu.Lock()
	defer b.monitorsMu.Unlock()
	out := make([]map[string]any, 0, len(b.monitors))
	for _, m := range b.monitors {
		out = append(out, m.healthStatus())
	}
	return out
}

// runStats tracks what the health endpoint reports.
type runStats struct {
	orgs     map[string]bool
	seen     map[string]bool
	modified map[string]bool
	lastRun  time.Time
	runs     int64
	mu       sync.RWMutex
}

func newRunStats() *runStats {
	return &runStats{
		orgs:     make(map[string]bool),
		seen:     make(map[string]bool),
		modified: make(map[string]bool),
	}
}

func (s *runStats) recordOrg(org string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org] = true
}

func (s *runStats) recordSeen(owner, repo string, number int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[fmt.Sprintf("%s/%s#%d", owner, repo, number)] = true
}

func (s *runStats) recordModified(owner, repo string, number int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified[fmt.Sprintf("%s/%s#%d", owner, repo, number)] = true
}

func (s *runStats) recordRun(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = at
	s.runs++
}

// healthReport is the /health response body.
type healthReport struct {
	LastRun     time.Time        `json:"last_run"`
	Status      string           `json:"status"`
	Monitors    []map[string]any `json:"monitors"`
	Runs        int64            `json:"runs"`
	Orgs        int              `json:"orgs"`
	PRsSeen     int              `json:"prs_seen"`
	PRsModified int              `json:"prs_modified"`
}

func (s *runStats) report() healthReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return healthReport{
		Status:      "ok",
		LastRun:     s.lastRun,
		Runs:        s.runs,
		Orgs:        len(s.orgs),
		PRsSeen:     len(s.seen),
		PRsModified: len(s.modified),
	}
}
