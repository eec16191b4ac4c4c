// Package main implements the review CLI, which elects fair code reviewers
// for GitHub pull requests.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"time"

	"github.com/codeGROOVE-dev/fair-reviewer/pkg/cache"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/config"
	"github.com/codeGROOVE-dev/fair-reviewer/pkg/github"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev" //nolint:gochecknoglobals // set by the linker

const usage = `Usage: review <command> [options]

PR reviewer election tool for fair code review rotation.

Commands:
  elect        Elect a reviewer for a PR
  next         Show who's next in line for review (dry run)
  stats        Show review statistics
  unavailable  Mark a team member as unavailable (or available with -remove)
  init         Initialize review configuration
  mine         List open PRs you created or need to review
  version      Show version information

Run 'review <command> -h' for command options.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := newApp(os.Stdout, os.Stdin)
	err := a.run(ctx, os.Args[1:])
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	default:
		slog.Error("review failed", "error", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

// app holds the command dependencies so tests can replace GitHub, git and
// the browser.
type app struct {
	out     io.Writer
	prompt  *prompter
	connect func(ctx context.Context) (gitHub, error)
	repo    func(ctx context.Context) (owner, repo string, err error)
	branch  func(ctx context.Context) (string, error)
	browse  func(ctx context.Context, url string) error
	now     func() time.Time
	cfgPath string
	logOut  io.Writer
}

func newApp(out io.Writer, in io.Reader) *app {
	return &app{
		out:     out,
		prompt:  &prompter{in: bufio.NewReader(in), out: out},
		connect: connectGitHub,
		repo:    github.RepoFromGit,
		branch:  github.CurrentBranch,
		browse:  openBrowser,
		now:     time.Now,
		cfgPath: config.FileName,
		logOut:  os.Stderr,
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "elect":
		return a.elect(ctx, rest)
	case "next":
		return a.next(ctx, rest)
	case "stats":
		return a.stats(ctx, rest)
	case "unavailable":
		return a.unavailable(rest)
	case "init":
		return a.initConfig(ctx, rest)
	case "mine":
		return a.mine(ctx, rest)
	case "version", "-version", "--version":
		a.version()
		return nil
	case "help", "-h", "-help", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		fmt.Fprintf(a.logOut, "unknown command %q\n\n", cmd)
		return errUsage
	}
}

// common holds options shared by every command that talks to GitHub.
type common struct {
	repo    string
	verbose bool
}

func (a *app) flags(name string, c *common) *flag.FlagSet {
	fs := flag.NewFlagSet("review "+name, flag.ContinueOnError)
	fs.SetOutput(a.logOut)
	if c != nil {
		fs.StringVar(&c.repo, "repo", "", "Repository as owner/repo (default: origin remote of the current directory)")
		fs.BoolVar(&c.verbose, "v", false, "Verbose output with debug logging")
	}
	return fs
}

// setupLogging installs a text logger on stderr; verbose enables debug output.
func (a *app) setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(a.logOut, &slog.HandlerOptions{Level: level})))
}

// resolveRepo returns the -repo flag value or the current git repository.
func (a *app) resolveRepo(ctx context.Context, c *common) (owner, repo string, err error) {
	if c.repo != "" {
		return github.ParseRepo(c.repo)
	}
	return a.repo(ctx)
}

// loadConfig reads the local config file for read-only commands. Errors fall
// back to the defaults with a warning. Commands that save the file use
// config.LoadFile instead.
func (a *app) loadConfig() *config.Config {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		slog.Warn("Using default configuration", "path", a.cfgPath, "error", err)
		return config.New()
	}
	return cfg
}

func connectGitHub(ctx context.Context) (gitHub, error) {
	store, err := cache.NewDiskCache(cache.TTLHistory, cache.DefaultDir())
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	client, err := github.New(ctx, github.Config{
		Cache:       store,
		HTTPTimeout: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}
	return client, nil
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	return cmd.Start()
}

func (a *app) version() {
	box(a.out, []string{
		"Review v" + version,
		"",
		"PR reviewer election tool for fair code review rotation",
		"",
		"Go:       " + runtime.Version(),
		"Platform: " + runtime.GOOS + "/" + runtime.GOARCH,
	})
}
