// Package election gathers review history for a repository and prepares the
// reviewer selector from a repository's configuration.
package election

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/config"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/github"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/reviewer"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/types"
)

// Source supplies review history. *github.Client satisfies it.
type Source interface {
	ClosedPullRequests(ctx context.Context, owner, repo string, since time.Time, limit int) ([]types.PullRequest, error)
	OpenPullRequests(ctx context.Context, owner, repo string) ([]types.OpenPullRequest, error)
	IsBot(login string) bool
}

// ConfigSource reads files from a repository's default branch.
type ConfigSource interface {
	FileContents(ctx context.Context, owner, repo, path string) ([]byte, error)
}

// Snapshot is the state a ranking is computed from.
type Snapshot struct {
	Selector *reviewer.Selector
	Table    reviewer.Table
	Config   *config.Config
	Closed   int // closed pull requests folded into Table
	Open     int // open pull requests counted as pending work
}

// Options tune Prepare.
type Options struct {
	Now         func() time.Time // nil = time.Now
	HistoryDays int              // overrides cfg.HistoryDays when positive
}

// Prepare fetches closed pull requests inside the history window and all open
// pull requests, then aggregates them with cfg's policy.
func Prepare(ctx context.Context, src Source, owner, repo string, cfg *config.Config, opts Options) (*Snapshot, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	days := cfg.HistoryDays
	if opts.HistoryDays > 0 {
		days = opts.HistoryDays
	}
	since := now().AddDate(0, 0, -days)

	history, err := src.ClosedPullRequests(ctx, owner, repo, since, 0)
	if err != nil {
		return nil, fmt.Errorf("review history: %w", err)
	}
	open, err := src.OpenPullRequests(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("open pull requests: %w", err)
	}

	store := cfg.Availability().WithClock(now)
	sel := reviewer.New(cfg.Reviewer(),
		reviewer.WithBotFunc(src.IsBot),
		reviewer.WithAvailability(store.IsUnavailable),
		reviewer.WithClock(now),
	)
	table := sel.Aggregate(history, open)

	slog.DebugContext(ctx, "Prepared election", "owner", owner, "repo", repo,
		"history_days", days, "closed", len(history), "open", len(open), "identities", len(table))
	return &Snapshot{
		Selector: sel,
		Table:    table,
		Config:   cfg,
		Closed:   len(history),
		Open:     len(open),
	}, nil
}

// RepoConfig loads config.FileName from the repository's default branch.
// A missing file yields the defaults.
func RepoConfig(ctx context.Context, src ConfigSource, owner, repo string) (*config.Config, error) {
	data, err := src.FileContents(ctx, owner, repo, config.FileName)
	if err != nil {
		if errors.Is(err, github.ErrNotFound) {
			slog.DebugContext(ctx, "No repository config, using defaults", "owner", owner, "repo", repo)
			return config.New(), nil
		}
		return nil, fmt.Errorf("read %s: %w", config.FileName, err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			slog.WarnContext(ctx, "Invalid repository config", "owner", owner, "repo", repo, "error", err)
		}
		return nil, fmt.Errorf("%s/%s %s: %w", owner, repo, config.FileName, err)
	}
	return cfg, nil
}
