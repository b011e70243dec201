// Package gitops wraps the git CLI for the run cycle's commit and push
// step. All commands run against a fixed repository path with a
// context deadline supplied by the caller.
package gitops

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Repo runs git commands against a single repository path.
type Repo struct {
	path   string
	logger zerolog.Logger
}

// NewRepo creates a Repo for the repository at path. The path is not
// validated here; Validate reports whether it is usable.
func NewRepo(path string, logger zerolog.Logger) *Repo {
	return &Repo{
		path:   path,
		logger: logger.With().Str("component", "gitops").Logger(),
	}
}

// Path returns the repository path.
func (r *Repo) Path() string {
	return r.path
}

// Validate checks that the path is inside a git work tree.
func (r *Repo) Validate(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = r.path

	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("not a git repository: %s", r.path)
	}
	if strings.TrimSpace(string(output)) != "true" {
		return fmt.Errorf("not inside a work tree: %s", r.path)
	}
	return nil
}

// HasChanges reports whether the work tree has uncommitted changes,
// including untracked files.
func (r *Repo) HasChanges(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = r.path

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	return strings.TrimSpace(string(output)) != "", nil
}

// ChangedFiles returns the paths touched in the work tree, at most
// limit entries. A limit of 0 means no cap.
func (r *Repo) ChangedFiles(ctx context.Context, limit int) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = r.path

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	var files []string
	for _, line := range strings.Split(strings.TrimRight(string(output), "\n"), "\n") {
		if len(line) < 4 {
			continue
		}
		// Porcelain lines are "XY path"; renames are "XY old -> new".
		path := line[3:]
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		files = append(files, path)
		if limit > 0 && len(files) >= limit {
			break
		}
	}
	return files, nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = r.path

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// CommitAll stages everything and commits with the given message.
// Returns false without error when there was nothing to commit.
func (r *Repo) CommitAll(ctx context.Context, message string) (bool, error) {
	changed, err := r.HasChanges(ctx)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	add := exec.CommandContext(ctx, "git", "add", "-A")
	add.Dir = r.path
	if output, err := add.CombinedOutput(); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w, output: %s", err, string(output))
	}

	commit := exec.CommandContext(ctx, "git", "commit", "-m", message)
	commit.Dir = r.path
	if output, err := commit.CombinedOutput(); err != nil {
		return false, fmt.Errorf("failed to commit: %w, output: %s", err, string(output))
	}

	r.logger.Info().Str("message", message).Msg("Committed changes")
	return true, nil
}

// Push pushes the current branch to the named remote.
func (r *Repo) Push(ctx context.Context, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "git", "push", remote, branch)
	cmd.Dir = r.path
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to push: %w, output: %s", err, string(output))
	}

	r.logger.Info().Str("remote", remote).Str("branch", branch).Msg("Pushed changes")
	return nil
}

// CommitAndPush commits all pending changes and pushes them. Returns
// false when the work tree was clean; push failures are returned after
// a successful commit.
func (r *Repo) CommitAndPush(ctx context.Context, message, remote string) (bool, error) {
	committed, err := r.CommitAll(ctx, message)
	if err != nil || !committed {
		return committed, err
	}
	if err := r.Push(ctx, remote); err != nil {
		return true, err
	}
	return true, nil
}
