// Package main implements a GitHub App bot that assigns fair reviewers to new
// pull requests across every installed organization.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/cache"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/github"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/metrics"
)

var (
	appID      = flag.String("app-id", "", "GitHub App ID for authentication")
	appKeyPath = flag.String("app-key-path", "", "Path to GitHub App private key file")

	loopDelay    = flag.Duration("loop-delay", 5*time.Minute, "Delay between sweeps of all installations")
	dryRun       = flag.Bool("dry-run", false, "Log elections without assigning reviewers")
	maxReviewers = flag.Int("max-reviewers", 1, "Reviewers to request per pull request")
	minAge       = flag.Duration("min-age", 2*time.Minute, "Quiet period after the last update before assigning")
	noEvents     = flag.Bool("no-events", false, "Disable the sprinkler event stream and rely on sweeps only")
	verbose      = flag.Bool("v", false, "Enable debug logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "GitHub App bot that assigns fair reviewers to pull requests across all installations.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_ID        - GitHub App ID\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY       - GitHub App private key (PEM)\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY_PATH  - Path to GitHub App private key file\n")
		fmt.Fprintf(os.Stderr, "  PORT                 - HTTP server port (default: 8080)\n")
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if *maxReviewers < 1 {
		slog.Error("max-reviewers must be at least 1", "max_reviewers", *maxReviewers)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := *appID
	if id == "" {
		id = os.Getenv("GITHUB_APP_ID")
	}
	keyPath := *appKeyPath
	if keyPath == "" {
		keyPath = os.Getenv("GITHUB_APP_KEY_PATH")
	}

	client, err := github.New(ctx, github.Config{
		Cache:       cache.New(cache.TTLHistory),
		UseAppAuth:  true,
		AppID:       id,
		AppKeyPath:  keyPath,
		HTTPTimeout: 30 * time.Second,
	})
	if err != nil {
		slog.Error("Failed to create GitHub client", "error", err)
		os.Exit(1)
	}

	bot := &Bot{
		apps:         client,
		clientFor:    func(org string) gitHub { return client.ForOrg(org) },
		metrics:      metrics.NewManager(),
		stats:        newRunStats(),
		monitors:     make(map[string]eventMonitor),
		now:          time.Now,
		maxReviewers: *maxReviewers,
		minAge:       *minAge,
		dryRun:       *dryRun,
	}
	if !*noEvents {
		bot.newMonitor = func(org string) eventMonitor { return newSprinklerMonitor(bot, org) }
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &server{bot: bot, ctx: ctx, loopDelay: *loopDelay}
	go func() {
		if err := srv.serve(ctx, ":"+port); err != nil {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	slog.Info("Starting in server mode", "loop_delay", *loopDelay, "dry_run", *dryRun, "max_reviewers", *maxReviewers)
	bot.runServeMode(ctx, *loopDelay)
}
