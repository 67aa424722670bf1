package change

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Failure classes for change providers. Wrapped errors carry detail;
// callers match with errors.Is.
var (
	// ErrRefNotFound means base or head does not resolve in the repository.
	ErrRefNotFound = errors.New("ref not found")

	// ErrRepoUnavailable means the repository path is missing, not a git
	// repository, or git itself failed to run.
	ErrRepoUnavailable = errors.New("repository unavailable")
)

// defaultGitTimeout bounds any single git subprocess.
const defaultGitTimeout = 30 * time.Second

// repoRefPattern validates that a workspace-relative ref contains only
// safe path characters.
var repoRefPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)

// GitCLI is a Provider backed by the git command line. Repositories are
// addressed by absolute path or by a path relative to the workspace
// directory.
type GitCLI struct {
	workspace string
	timeout   time.Duration
	logger    *slog.Logger
}

// GitOption configures a GitCLI.
type GitOption func(*GitCLI)

// WithGitTimeout bounds each git subprocess.
func WithGitTimeout(d time.Duration) GitOption {
	return func(g *GitCLI) {
		g.timeout = d
	}
}

// WithGitLogger sets the logger.
func WithGitLogger(logger *slog.Logger) GitOption {
	return func(g *GitCLI) {
		g.logger = logger
	}
}

// NewGitCLI creates a git-backed change provider rooted at workspace.
func NewGitCLI(workspace string, opts ...GitOption) *GitCLI {
	g := &GitCLI{
		workspace: workspace,
		timeout:   defaultGitTimeout,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// ChangeSet computes the structured diff base..head.
func (g *GitCLI) ChangeSet(ctx context.Context, repoRef, base, head string) (*Set, error) {
	if base == "" || head == "" {
		return nil, fmt.Errorf("base and head refs are required")
	}

	dir, err := g.resolve(repoRef)
	if err != nil {
		return nil, err
	}

	out, err := g.run(ctx, dir, "diff", base+".."+head)
	if err != nil {
		return nil, err
	}

	files, err := ParseUnifiedDiff(out)
	if err != nil {
		return nil, fmt.Errorf("parse diff %s..%s: %w", base, head, err)
	}

	return &Set{
		RepoRef: repoRef,
		Base:    base,
		Head:    head,
		Files:   files,
	}, nil
}

// BranchSummary builds a PR-like summary from the commit subjects between
// the refs, newest first.
func (g *GitCLI) BranchSummary(ctx context.Context, repoRef, base, head string) (*BranchSummary, error) {
	if base == "" || head == "" {
		return nil, fmt.Errorf("base and head refs are required")
	}

	dir, err := g.resolve(repoRef)
	if err != nil {
		return nil, err
	}

	out, err := g.run(ctx, dir, "log", "--format=%s", base+".."+head)
	if err != nil {
		return nil, err
	}

	var subjects []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			subjects = append(subjects, s)
		}
	}

	title := "(no commits)"
	if len(subjects) > 0 {
		title = subjects[0]
	}

	return &BranchSummary{
		Title:       title,
		Body:        strings.Join(subjects, "\n"),
		CommitCount: len(subjects),
	}, nil
}

// DefaultBranch guesses the repository's default branch (main or master),
// falling back to the first listed branch.
func (g *GitCLI) DefaultBranch(ctx context.Context, repoRef string) (string, error) {
	dir, err := g.resolve(repoRef)
	if err != nil {
		return "", err
	}

	out, err := g.run(ctx, dir, "branch", "--list", "main", "master")
	if err != nil {
		return "", err
	}
	for _, candidate := range []string{"main", "master"} {
		if strings.Contains(out, candidate) {
			return candidate, nil
		}
	}

	out, err = g.run(ctx, dir, "branch", "--format=%(refname:short)")
	if err != nil {
		return "", err
	}
	branches := strings.Split(strings.TrimSpace(out), "\n")
	if len(branches) > 0 && branches[0] != "" {
		return branches[0], nil
	}
	return "main", nil
}

// resolve maps a repo ref onto an on-disk directory.
func (g *GitCLI) resolve(repoRef string) (string, error) {
	if repoRef == "" {
		return "", fmt.Errorf("%w: empty repo ref", ErrRepoUnavailable)
	}
	if filepath.IsAbs(repoRef) {
		return repoRef, nil
	}
	if strings.Contains(repoRef, "..") {
		return "", fmt.Errorf("%w: path traversal not allowed in %q", ErrRepoUnavailable, repoRef)
	}
	if !repoRefPattern.MatchString(repoRef) {
		return "", fmt.Errorf("%w: invalid repo ref %q", ErrRepoUnavailable, repoRef)
	}
	return filepath.Join(g.workspace, repoRef), nil
}

// run executes `git <args>` inside dir and returns stdout.
func (g *GitCLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.logger.Debug("Running git", "dir", dir, "args", args)

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", g.classify(err, args)
	}

	return string(output), nil
}

// classify maps a git failure onto the provider error classes using the
// subprocess stderr.
func (g *GitCLI) classify(err error, args []string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		stderr := strings.ToLower(string(exitErr.Stderr))
		switch {
		case strings.Contains(stderr, "unknown revision"),
			strings.Contains(stderr, "bad revision"),
			strings.Contains(stderr, "ambiguous argument"):
			return fmt.Errorf("%w: git %s: %s", ErrRefNotFound, strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		case strings.Contains(stderr, "not a git repository"),
			strings.Contains(stderr, "no such file or directory"):
			return fmt.Errorf("%w: git %s: %s", ErrRepoUnavailable, strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return fmt.Errorf("%w: git %s failed: %s", ErrRepoUnavailable, strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
	}

	return fmt.Errorf("%w: git %s: %v", ErrRepoUnavailable, strings.Join(args, " "), err)
}
