// Package prhook implements the optional post-run pull request creation
// hook, wrapping an external PR-creation command with exec.Command and
// captured stdout/stderr, as gitutil does for git. Failures are logged and
// swallowed — PR creation is best-effort.
package prhook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/pushhq/pushd/internal/gitutil"
	"github.com/pushhq/pushd/internal/model"
)

const pushDeadline = 30 * time.Second

// Hook opens a pull request after a successful run, if the branch carries
// commits not on the default branch.
type Hook struct {
	enabled   bool
	remote    string
	autoMerge bool
	logger    *slog.Logger
}

// New returns a Hook. enabled gates whether PR creation is attempted at
// all (set from the --no-pr CLI flag, a hard kill switch independent of
// config); autoMerge mirrors the AUTO_MERGE config knob and determines
// whether a successfully created PR is auto-merged.
func New(enabled bool, remote string, autoMerge bool, logger *slog.Logger) *Hook {
	if remote == "" {
		remote = "origin"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hook{enabled: enabled, remote: remote, autoMerge: autoMerge, logger: logger}
}

// TryOpen pushes branch and invokes `gh pr create`, returning the PR URL
// on success or "" on any failure (logged, never propagated). merged
// reports whether AUTO_MERGE was set and the subsequent `gh pr merge`
// attempt succeeded.
func (h *Hook) TryOpen(ctx context.Context, repoPath, worktreeDir, branch string, task model.Task) (prURL string, merged bool) {
	if !h.enabled {
		return "", false
	}

	base := gitutil.DefaultBranch(ctx, repoPath)
	changed, err := gitutil.DiffNameOnly(ctx, worktreeDir, base)
	if err != nil {
		h.logger.Info("pr hook: skipping, could not diff against base", "display_number", task.DisplayNumber, "err", err)
		return "", false
	}
	if len(changed) == 0 {
		h.logger.Debug("pr hook: no commits to push", "display_number", task.DisplayNumber)
		return "", false
	}

	if err := gitutil.PushBranch(ctx, worktreeDir, h.remote, branch); err != nil {
		h.logger.Info("pr hook: push failed, skipping PR creation", "display_number", task.DisplayNumber, "err", err)
		return "", false
	}

	title := fmt.Sprintf("#%d: %s", task.DisplayNumber, task.Summary)
	body := task.Content

	runCtx, cancel := context.WithTimeout(ctx, pushDeadline)
	defer cancel()
	cmd := exec.CommandContext(runCtx, "gh", "pr", "create", "--head", branch, "--title", title, "--body", body)
	cmd.Dir = worktreeDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		h.logger.Info("pr hook: gh pr create failed, ignoring", "display_number", task.DisplayNumber, "err", err, "stderr", stderr.String())
		return "", false
	}

	firstLine := stdout.String()
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	prURL = strings.TrimSpace(firstLine)
	if prURL == "" || !h.autoMerge {
		return prURL, false
	}

	mergeCtx, mergeCancel := context.WithTimeout(ctx, pushDeadline)
	defer mergeCancel()
	mergeCmd := exec.CommandContext(mergeCtx, "gh", "pr", "merge", prURL, "--squash", "--auto")
	mergeCmd.Dir = worktreeDir
	var mergeStderr bytes.Buffer
	mergeCmd.Stderr = &mergeStderr
	if err := mergeCmd.Run(); err != nil {
		h.logger.Info("pr hook: auto-merge failed, leaving pr open", "display_number", task.DisplayNumber, "err", err, "stderr", mergeStderr.String())
		return prURL, false
	}
	return prURL, true
}
