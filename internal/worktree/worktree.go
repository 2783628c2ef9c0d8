// Package worktree implements the daemon's unit of isolation: one git
// worktree per active task run, on a branch named from the task's display
// number and the machine's stable suffix.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pushhq/pushd/internal/gitutil"
)

// Manager creates, names, and removes worktrees rooted in registered
// repositories.
type Manager struct{}

// NewManager returns a ready-to-use worktree Manager.
func NewManager() *Manager { return &Manager{} }

// BranchName returns the stable branch name for a task, given the
// machine's worktree suffix.
func BranchName(displayNumber int, suffix string) string {
	return fmt.Sprintf("push-%d-%s", displayNumber, suffix)
}

// WorktreePath returns the directory the worktree is materialized into:
// a sibling of repoPath named after the branch.
func WorktreePath(repoPath, branch string) string {
	return filepath.Join(filepath.Dir(repoPath), branch)
}

// Ensure creates worktreeDir on branch, reusing an existing directory if
// already present, creating a new branch if none exists yet, or attaching
// to the existing branch otherwise. All git operations carry the 30s
// deadline baked into gitutil.
func (m *Manager) Ensure(ctx context.Context, repoPath, branch string) (string, error) {
	worktreeDir := WorktreePath(repoPath, branch)

	if info, err := os.Stat(worktreeDir); err == nil && info.IsDir() {
		return worktreeDir, nil
	}

	if gitutil.BranchExists(ctx, repoPath, branch) {
		if err := gitutil.AddWorktreeExistingBranch(ctx, repoPath, worktreeDir, branch); err != nil {
			return "", fmt.Errorf("worktree: attach existing branch %s: %w", branch, err)
		}
		return worktreeDir, nil
	}

	if err := gitutil.AddWorktreeNewBranch(ctx, repoPath, worktreeDir, branch); err != nil {
		// The branch may have been created concurrently (e.g. a previous
		// crashed run left it behind without the worktree). Retry against
		// the existing-branch path once before giving up.
		if gitutil.BranchExists(ctx, repoPath, branch) {
			if err2 := gitutil.AddWorktreeExistingBranch(ctx, repoPath, worktreeDir, branch); err2 == nil {
				return worktreeDir, nil
			}
		}
		return "", fmt.Errorf("worktree: create %s on new branch %s: %w", worktreeDir, branch, err)
	}
	return worktreeDir, nil
}

// Remove force-removes the worktree directory. The branch is never
// deleted, so subsequent runs of the same task replay commits through a
// fresh worktree on the same branch.
func (m *Manager) Remove(ctx context.Context, repoPath, worktreeDir string) error {
	if _, err := os.Stat(worktreeDir); os.IsNotExist(err) {
		return nil
	}
	if err := gitutil.RemoveWorktree(ctx, repoPath, worktreeDir); err != nil {
		return fmt.Errorf("worktree: remove %s: %w", worktreeDir, err)
	}
	return nil
}

// conventionFilePatterns are checked in order; the first match wins.
var conventionFilePatterns = []string{
	"AGENTS.md",
	"CONVENTIONS.md",
	"CLAUDE.md",
	".github/copilot-instructions.md",
}

// FindConventionFile globs the worktree root for the first recognized
// in-repo convention file, reporting its path relative to the worktree
// root so the supervisor can fold a reference to it into the agent
// prompt's constant trailer.
func FindConventionFile(worktreeDir string) (string, bool) {
	for _, pattern := range conventionFilePatterns {
		matches, err := doublestar.Glob(os.DirFS(worktreeDir), pattern)
		if err != nil || len(matches) == 0 {
			continue
		}
		return matches[0], true
	}
	return "", false
}
