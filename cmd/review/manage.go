package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/availability"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/config"
)

// teamDetectionDays is how much history init scans for team members.
const teamDetectionDays = 90

func (a *app) unavailable(args []string) error {
	fs := a.flags("unavailable", nil)
	until := fs.String("until", "", "Unavailable until this date (YYYY-MM-DD); omit for indefinitely")
	remove := fs.Bool("remove", false, "Mark the user available again")

	// Accept the login before or after the flags.
	var login string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		login, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if login == "" {
		login = fs.Arg(0)
	}
	login = availability.Normalize(login)
	if login == "" {
		return errors.New("usage: review unavailable <user> [-until YYYY-MM-DD] [-remove]")
	}
	a.setupLogging(false)

	// The file is rewritten, so it must be read as-is: no env overrides and
	// no fallback to defaults.
	cfg, err := config.LoadFile(a.cfgPath)
	if err != nil {
		return fmt.Errorf("%s must be fixed before it can be updated: %w", a.cfgPath, err)
	}
	store := cfg.Availability().WithClock(a.now)

	if *remove {
		if !store.MarkAvailable(login) {
			fmt.Fprintf(a.out, "@%s was not marked unavailable.\n", login)
			return nil
		}
		cfg.SetAvailability(store)
		if err := cfg.Save(a.cfgPath); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "@%s is available for reviews again.\n", login)
		return nil
	}

	var end time.Time
	if *until != "" {
		t, err := config.ParseDate(*until)
		if err != nil {
			return err
		}
		end = t
	}
	if err := store.MarkUnavailable(login, end); err != nil {
		return err
	}
	cfg.SetAvailability(store)
	if err := cfg.Save(a.cfgPath); err != nil {
		return err
	}

	if end.IsZero() {
		fmt.Fprintf(a.out, "@%s marked unavailable until further notice.\n", login)
	} else {
		fmt.Fprintf(a.out, "@%s marked unavailable until %s.\n", login, end.Format(time.DateOnly))
	}
	return nil
}

func (a *app) initConfig(ctx context.Context, args []string) error {
	var c common
	fs := a.flags("init", &c)
	force := fs.Bool("force", false, "Overwrite an existing configuration without asking")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if config.Exists(a.cfgPath) && !*force &&
		!a.prompt.confirm("Configuration file already exists. Overwrite?", false) {
		fmt.Fprintln(a.out, "Initialization cancelled.")
		return nil
	}

	s, err := a.open(ctx, &c)
	if err != nil {
		return err
	}
	detected, err := a.detectTeam(ctx, s)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Detected %s from recent PR history.\n\n", plural(len(detected), "team member", "team members"))

	var team []string
	for _, login := range detected {
		if a.prompt.confirm("Include @"+login+" in the reviewer rotation?", true) {
			team = append(team, login)
		}
	}
	for _, extra := range strings.Split(a.prompt.ask("Additional team members (comma-separated)", ""), ",") {
		if login := availability.Normalize(extra); login != "" && !slices.Contains(team, login) {
			team = append(team, login)
		}
	}
	if len(team) == 0 {
		return errors.New("at least one team member is required")
	}

	cfg := config.New()
	cfg.Team = team
	cfg.HistoryDays = a.prompt.askInt("Days of PR history to consider", cfg.HistoryDays, config.MinHistoryDays, config.MaxHistoryDays)
	cfg.MaxPendingReviews = a.prompt.askInt("Maximum pending reviews before deprioritizing a reviewer", cfg.MaxPendingReviews, 1, 100)
	if a.prompt.confirm("Customize scoring weights?", false) {
		w := &cfg.Weights
		w.Recency = a.prompt.askFloat("Weight for recency (days since last review)", w.Recency)
		w.Balance = a.prompt.askFloat("Weight for approval balance", w.Balance)
		w.Approvals = a.prompt.askFloat("Weight for approval recency", w.Approvals)
		w.Workload = a.prompt.askFloat("Weight for current workload", w.Workload)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(a.cfgPath); err != nil {
		return err
	}

	w := cfg.Weights
	fmt.Fprintf(a.out, "\nConfiguration saved to %s\n", a.cfgPath)
	fmt.Fprintf(a.out, "  %s\n", plural(len(team), "team member", "team members"))
	fmt.Fprintf(a.out, "  %s of history\n", plural(cfg.HistoryDays, "day", "days"))
	fmt.Fprintf(a.out, "  max %d pending reviews\n", cfg.MaxPendingReviews)
	fmt.Fprintf(a.out, "  weights: recency=%g balance=%g approvals=%g workload=%g\n", w.Recency, w.Balance, w.Approvals, w.Workload)
	fmt.Fprintln(a.out, "\nTry 'review next', 'review elect' or 'review stats'.")
	return nil
}

// detectTeam merges identities active in recent history with collaborators
// who can push. A collaborator lookup failure only costs suggestions.
func (*app) detectTeam(ctx context.Context, s *session) ([]string, error) {
	members, err := s.gh.TeamMembers(ctx, s.owner, s.repo, teamDetectionDays)
	if err != nil {
		return nil, fmt.Errorf("detect team members: %w", err)
	}
	members = slices.Clone(members)
	collaborators, err := s.gh.Collaborators(ctx, s.owner, s.repo)
	if err != nil {
		slog.Warn("Could not list collaborators", "owner", s.owner, "repo", s.repo, "error", err)
	}
	for _, login := range collaborators {
		if !slices.Contains(members, login) && !s.gh.IsBot(login) {
			members = append(members, login)
		}
	}
	slices.Sort(members)
	return members, nil
}

func (a *app) mine(ctx context.Context, args []string) error {
	var c common
	fs := a.flags("mine", &c)
	reviewing := fs.Bool("reviewing", false, "List PRs awaiting your review instead of PRs you created")
	openN := fs.Int("open", 0, "Open the Nth listed PR in the browser")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a.setupLogging(c.verbose)

	gh, err := a.connect(ctx)
	if err != nil {
		return err
	}
	login, err := gh.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("could not determine current user: %w", err)
	}

	query, heading := "is:pr is:open author:"+login, "Created by you"
	if *reviewing {
		query, heading = "is:pr is:open review-requested:"+login, "Awaiting your review"
	}
	prs, err := gh.SearchPullRequests(ctx, query)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Pull requests: %s\n\n", heading)
	if len(prs) == 0 {
		fmt.Fprintln(a.out, "No PRs found in this category.")
		return nil
	}
	now := a.now()
	for i, pr := range prs {
		detail := reviewDecision(pr.ReviewDecision)
		if *reviewing {
			detail = "by @" + pr.Author
		}
		fmt.Fprintf(a.out, "%2d. %s/%s#%d %s  %s, updated %s\n", i+1, pr.Owner, pr.Repository, pr.Number,
			truncate(pr.Title, 50), detail, relative(pr.UpdatedAt, now))
	}

	if *openN == 0 {
		return nil
	}
	if *openN < 0 || *openN > len(prs) {
		return fmt.Errorf("-open must be between 1 and %d", len(prs))
	}
	url := prs[*openN-1].URL
	if err := a.browse(ctx, url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	fmt.Fprintf(a.out, "\nOpened %s\n", url)
	return nil
}

func reviewDecision(d string) string {
	switch d {
	case "APPROVED":
		return "approved"
	case "CHANGES_REQUESTED":
		return "changes requested"
	case "REVIEW_REQUIRED":
		return "pending review"
	default:
		return "no reviews"
	}
}
