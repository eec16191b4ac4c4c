package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
)

// RepoFromGit returns the owner and name of the origin remote of the
// repository in the working directory.
func RepoFromGit(ctx context.Context) (owner, repo string, err error) {
	out, err := exec.CommandContext(ctx, "git", "remote", "get-url", "origin").Output()
	if err != nil {
		return "", "", fmt.Errorf("not in a git repository with an origin remote: %w", err)
	}
	return ParseRemote(strings.TrimSpace(string(out)))
}

// CurrentBranch returns the checked out branch name.
func CurrentBranch(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "branch", "--show-current").Output()
	if err != nil {
		return "", fmt.Errorf("unable to get current branch: %w", err)
	}
	branch := strings.TrimSpace(string(out))
	if branch == "" {
		return "", errors.New("detached HEAD: no current branch")
	}
	return branch, nil
}

// ParseRemote extracts owner and repository from a GitHub remote URL in
// HTTPS, SSH, or scp-like form.
func ParseRemote(remote string) (owner, repo string, err error) {
	path := remote
	switch {
	case strings.HasPrefix(remote, "git@"):
		_, p, ok := strings.Cut(remote, ":")
		if !ok {
			return "", "", fmt.Errorf("unrecognized remote %q", remote)
		}
		path = p
	case strings.Contains(remote, "://"):
		u, err := url.Parse(remote)
		if err != nil {
			return "", "", fmt.Errorf("unrecognized remote %q: %w", remote, err)
		}
		path = u.Path
	}
	return ParseRepo(strings.TrimSuffix(strings.Trim(path, "/"), ".git"))
}

// ParseRepo splits "owner/repo".
func ParseRepo(s string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.Trim(s, "/"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q (expected owner/repo)", s)
	}
	return owner, repo, nil
}

// ParsePRURL parses https://github.com/{owner}/{repo}/pull/{number}.
func ParsePRURL(prURL string) (owner, repo string, number int, err error) {
	u, err := url.Parse(prURL)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid PR URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[2] != "pull" || parts[0] == "" || parts[1] == "" {
		return "", "", 0, fmt.Errorf("invalid PR URL format: %s", prURL)
	}
	number, err = strconv.Atoi(parts[3])
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("invalid PR number in %s", prURL)
	}
	return parts[0], parts[1], number, nil
}
