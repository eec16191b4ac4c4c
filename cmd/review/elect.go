package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/config"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/election"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/github"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/reviewer"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

// gitHub is the part of *github.Client the CLI uses.
type gitHub interface {
	election.Source
	PullRequest(ctx context.Context, owner, repo string, number int) (*types.OpenPullRequest, error)
	PullRequestForBranch(ctx context.Context, owner, repo, branch string) (*types.OpenPullRequest, error)
	AddReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error
	CurrentUser(ctx context.Context) (string, error)
	SearchPullRequests(ctx context.Context, query string) ([]types.OpenPullRequest, error)
	TeamMembers(ctx context.Context, owner, repo string, days int) ([]string, error)
	Collaborators(ctx context.Context, owner, repo string) ([]string, error)
}

// session is a connected client plus the repository and policy a command works on.
type session struct {
	gh    gitHub
	cfg   *config.Config
	owner string
	repo  string
}

func (a *app) open(ctx context.Context, c *common) (*session, error) {
	a.setupLogging(c.verbose)
	owner, repo, err := a.resolveRepo(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("could not determine repository (use -repo owner/repo): %w", err)
	}
	gh, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	return &session{gh: gh, cfg: a.loadConfig(), owner: owner, repo: repo}, nil
}

func (a *app) prepare(ctx context.Context, s *session, days int) (*election.Snapshot, error) {
	return election.Prepare(ctx, s.gh, s.owner, s.repo, s.cfg, election.Options{Now: a.now, HistoryDays: days})
}

func (a *app) elect(ctx context.Context, args []string) error {
	var c common
	fs := a.flags("elect", &c)
	number := fs.Int("pr", 0, "Pull request number (default: PR for the current branch)")
	autoAssign := fs.Bool("auto-assign", false, "Assign the elected reviewer without asking")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.open(ctx, &c)
	if err != nil {
		return err
	}

	pr, err := a.targetPR(ctx, s, *number)
	if err != nil {
		return err
	}
	if !pr.IsOpen() {
		return fmt.Errorf("PR #%d is %s; only open pull requests can get reviewers", pr.Number, strings.ToLower(pr.State))
	}
	fmt.Fprintf(a.out, "PR #%d: %s (by @%s)\n\n", pr.Number, pr.Title, pr.Author)

	snap, err := a.prepare(ctx, s, 0)
	if err != nil {
		return err
	}
	ranked, ok := snap.Selector.Queue(pr.Author, 0, snap.Table)
	if !ok {
		a.noCandidates()
		return nil
	}
	winner := ranked[0]

	avg := snap.Selector.Averages(pr.Author, snap.Table)
	st := winner.Stats
	box(a.out, []string{
		"Selected reviewer: @" + winner.Reviewer,
		"",
		fmt.Sprintf("Score:          %.2f", winner.Score),
		"Last approval:  " + daysAgo(st.DaysSinceLastApproval),
		"Last review:    " + daysAgo(st.DaysSinceLastReview),
		fmt.Sprintf("Approvals:      %d (team avg %.1f)", st.TotalApprovals, avg.Approvals),
		fmt.Sprintf("Reviews:        %d (team avg %.1f)", st.TotalReviews, avg.Reviews),
		fmt.Sprintf("Pending:        %d of %d", st.PendingReviews, s.cfg.MaxPendingReviews),
	})
	if winner.Overloaded {
		if allOverloaded(ranked) {
			fmt.Fprintln(a.out, "\nWarning: every eligible reviewer is at or above the pending review limit.")
		} else {
			fmt.Fprintf(a.out, "\nWarning: @%s is at or above the pending review limit.\n", winner.Reviewer)
		}
	}

	if !*autoAssign && !a.prompt.confirm(fmt.Sprintf("\nAssign @%s to PR #%d?", winner.Reviewer, pr.Number), false) {
		fmt.Fprintln(a.out, "Not assigned.")
		return nil
	}
	if err := s.gh.AddReviewers(ctx, s.owner, s.repo, pr.Number, []string{winner.Reviewer}); err != nil {
		return fmt.Errorf("assign @%s: %w", winner.Reviewer, err)
	}
	slog.Info("Assigned reviewer", "owner", s.owner, "repo", s.repo, "pr", pr.Number, "reviewer", winner.Reviewer)
	fmt.Fprintf(a.out, "Assigned @%s to PR #%d.\n", winner.Reviewer, pr.Number)
	return nil
}

func allOverloaded(ranked []types.ScoreResult) bool {
	for _, r := range ranked {
		if !r.Overloaded {
			return false
		}
	}
	return true
}

func (a *app) targetPR(ctx context.Context, s *session, number int) (*types.OpenPullRequest, error) {
	if number > 0 {
		return s.gh.PullRequest(ctx, s.owner, s.repo, number)
	}
	branch, err := a.branch(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not determine current branch (use -pr N): %w", err)
	}
	pr, err := s.gh.PullRequestForBranch(ctx, s.owner, s.repo, branch)
	if errors.Is(err, github.ErrNoPullRequest) {
		return nil, fmt.Errorf("branch %q (use -pr N): %w", branch, err)
	}
	return pr, err
}

func (a *app) noCandidates() {
	fmt.Fprintln(a.out, "No eligible reviewers found.")
	fmt.Fprintln(a.out, "\nPossible reasons:")
	fmt.Fprintln(a.out, "  - the team list only contains the PR author")
	fmt.Fprintln(a.out, "  - every team member is excluded or marked unavailable")
	fmt.Fprintln(a.out, "  - nobody has reviewed within the history window (try 'review stats -days 90')")
}

func (a *app) next(ctx context.Context, args []string) error {
	var c common
	fs := a.flags("next", &c)
	count := fs.Int("n", 3, "Number of reviewers to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.open(ctx, &c)
	if err != nil {
		return err
	}
	snap, err := a.prepare(ctx, s, 0)
	if err != nil {
		return err
	}
	queue, ok := snap.Selector.Queue("", *count, snap.Table)
	if !ok {
		a.noCandidates()
		return nil
	}

	fmt.Fprintf(a.out, "Next reviewers for %s/%s:\n\n", s.owner, s.repo)
	for i, r := range queue {
		line := fmt.Sprintf("%d. @%-20s score %7.2f", i+1, r.Reviewer, r.Score)
		if r.Overloaded {
			line += "  (overloaded)"
		}
		fmt.Fprintln(a.out, line)
		if c.verbose {
			for _, f := range reviewer.Factors {
				fmt.Fprintf(a.out, "     %-18s %8.2f\n", f, r.Factors[f])
			}
		}
	}
	if c.verbose {
		fmt.Fprintln(a.out, "\nScoring:")
		fmt.Fprintln(a.out, "  approval_recency  days since last approval (capped at 30) x approvals weight")
		fmt.Fprintln(a.out, "  review_recency    days since last review (capped at 30) x recency weight")
		fmt.Fprintln(a.out, "  balance           (team avg approvals - approvals) x balance weight")
		fmt.Fprintln(a.out, "  workload          -pending reviews x 10 x workload weight")
		fmt.Fprintln(a.out, "  overload          -1000 once pending reviews reach maxPendingReviews")
	}
	return nil
}

func (a *app) stats(ctx context.Context, args []string) error {
	var c common
	fs := a.flags("stats", &c)
	days := fs.Int("days", 0, "History window in days (default: historyDays from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days < 0 || *days > config.MaxHistoryDays {
		return fmt.Errorf("-days must be between %d and %d", config.MinHistoryDays, config.MaxHistoryDays)
	}

	s, err := a.open(ctx, &c)
	if err != nil {
		return err
	}
	snap, err := a.prepare(ctx, s, *days)
	if err != nil {
		return err
	}
	window := s.cfg.HistoryDays
	if *days > 0 {
		window = *days
	}

	members := a.members(s, snap)
	store := s.cfg.Availability().WithClock(a.now)
	var top string
	if queue, ok := snap.Selector.Queue("", 1, snap.Table); ok {
		top = queue[0].Reviewer
	}

	fmt.Fprintf(a.out, "Review statistics for %s/%s (last %s)\n\n", s.owner, s.repo, plural(window, "day", "days"))
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Reviewer\tReviews\tApprovals\tPending\tLast Approval\tStatus")
	var reviews, approvals, pending int
	for _, login := range members {
		st := snap.Table[login]
		reviews += st.TotalReviews
		approvals += st.TotalApprovals
		pending += st.PendingReviews

		status := "Available"
		switch {
		case store.IsUnavailable(login):
			status = "Unavailable"
		case st.PendingReviews >= s.cfg.MaxPendingReviews:
			status = "Overloaded"
		case login == top:
			status = "Next up"
		}
		fmt.Fprintf(tw, "@%s\t%d\t%d\t%d\t%s\t%s\n", login, st.TotalReviews, st.TotalApprovals,
			st.PendingReviews, daysAgo(st.DaysSinceLastApproval), status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "\n%s, %s, %s, %s across %s\n",
		plural(len(members), "member", "members"), plural(reviews, "review", "reviews"),
		plural(approvals, "approval", "approvals"), plural(pending, "pending", "pending"),
		plural(snap.Closed, "closed PR", "closed PRs"))

	if away := store.Active(); len(away) > 0 {
		fmt.Fprintln(a.out, "\nUnavailable:")
		for _, e := range away {
			until := "until further notice"
			if !e.Indefinite() {
				until = "until " + e.Until.Format("2006-01-02")
			}
			fmt.Fprintf(a.out, "  @%s %s\n", e.Login, until)
		}
	}
	return nil
}

// members lists who stats reports on: the configured team, or everyone seen
// in history, minus bots and excluded identities.
func (*app) members(s *session, snap *election.Snapshot) []string {
	pool := s.cfg.Team
	if len(pool) == 0 {
		pool = snap.Table.Logins()
	}
	excluded := make(map[string]bool, len(s.cfg.Excluded))
	for _, login := range s.cfg.Excluded {
		excluded[login] = true
	}
	seen := make(map[string]bool, len(pool))
	var out []string
	for _, login := range pool {
		if seen[login] || excluded[login] || s.gh.IsBot(login) {
			continue
		}
		seen[login] = true
		out = append(out, login)
	}
	sort.Strings(out)
	return out
}
