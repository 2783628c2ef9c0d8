// Package runner assembles one task end to end: claim, worktree
// preparation, supervised dispatch, and completion reporting. The gate
// step runs before the point of no return (the atomic claim call) so a
// preparation failure never leaves the backend holding a claimed task the
// daemon isn't actually running.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pushhq/pushd/internal/backendclient"
	"github.com/pushhq/pushd/internal/config"
	"github.com/pushhq/pushd/internal/decrypt"
	"github.com/pushhq/pushd/internal/model"
	"github.com/pushhq/pushd/internal/prhook"
	"github.com/pushhq/pushd/internal/supervisor"
	"github.com/pushhq/pushd/internal/worktree"
)

// AgentExecutable is the external coding agent's binary name, resolved
// once at daemon start (normally "agent", overridable for tests).
var AgentExecutable = "agent"

// Dependencies bundles the collaborators a Runner needs. Constructed once
// at daemon start and shared across all concurrent runs.
type Dependencies struct {
	Backend      *backendclient.Client
	Config       *config.Store
	Worktree     *worktree.Manager
	PRHook       *prhook.Hook
	Decrypt      *decrypt.Adapter
	Identity     model.MachineIdentity
	Logger       *slog.Logger
	AutoCommit   bool // AUTO_COMMIT: whether the prompt asks the agent to commit
	AutoMerge    bool // AUTO_MERGE: whether an opened PR is auto-merged
	AutoComplete bool // AUTO_COMPLETE: whether completion waits on a successful merge
}

// Runner drives one task from claim to completion.
type Runner struct {
	deps Dependencies
}

// New returns a Runner over deps.
func New(deps Dependencies) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Runner{deps: deps}
}

// GateResult explains why a task was skipped before it reached claim.
type GateResult int

const (
	GatePass GateResult = iota
	GateAlreadyRunning
	GateConcurrencyCapped
	GateNoRegistry
	GatePathMissing
)

// Gate checks whether task is a candidate to run right now, given the set
// of already-running display numbers and the concurrency cap. It also
// resolves the registered local path so the caller needn't look it up
// twice.
func (r *Runner) Gate(task model.Task, running map[int]bool, maxConcurrent int) (GateResult, model.ProjectEntry) {
	if running[task.DisplayNumber] {
		return GateAlreadyRunning, model.ProjectEntry{}
	}
	if len(running) >= maxConcurrent {
		return GateConcurrencyCapped, model.ProjectEntry{}
	}
	entry, ok, err := r.deps.Config.Lookup(task.RepoURL, config.LookupExecute)
	if err != nil {
		r.deps.Logger.Warn("registry lookup failed, treating as miss", "repo_url", task.RepoURL, "err", err)
	}
	if !ok {
		return GateNoRegistry, model.ProjectEntry{}
	}
	if !pathExists(entry.LocalPath) {
		return GatePathMissing, entry
	}
	return GatePass, entry
}

// Run executes the full claim->prepare->dispatch->finalize sequence for
// one gated task. It returns the completed-today record on any terminal
// outcome, or (nil, nil) if another machine won the claim race.
func (r *Runner) Run(ctx context.Context, task model.Task, repoEntry model.ProjectEntry, register func(*model.RunningTask), unregister func(int)) (*model.CompletedTask, error) {
	claimRes, err := r.deps.Backend.Claim(ctx, task.DisplayNumber, r.deps.Identity.MachineID, r.deps.Identity.MachineName)
	if err != nil {
		return nil, fmt.Errorf("runner: claim #%d: %w", task.DisplayNumber, err)
	}
	if !claimRes.Claimed {
		r.deps.Logger.Debug("claim lost to another machine", "display_number", task.DisplayNumber, "claimed_by", claimRes.ClaimedBy)
		return nil, nil
	}

	task = r.decryptTask(task)

	branch := worktree.BranchName(task.DisplayNumber, r.deps.Identity.Suffix)
	worktreeDir, err := r.deps.Worktree.Ensure(ctx, repoEntry.LocalPath, branch)
	if err != nil {
		r.reportFailed(ctx, task, fmt.Sprintf("worktree creation failed: %v", err), nil)
		return &model.CompletedTask{
			DisplayNumber: task.DisplayNumber, Summary: task.Summary,
			CompletedAt: time.Now(), Outcome: model.OutcomeFailed,
		}, nil
	}

	running := &model.RunningTask{
		TaskID:        task.TaskID,
		DisplayNumber: task.DisplayNumber,
		Summary:       task.Summary,
		WorktreePath:  worktreeDir,
		RepoPath:      repoEntry.LocalPath,
		StartedAt:     time.Now(),
		Phase:         model.PhaseStarting,
		Tail:          model.NewRingBuffer(supervisor.TailCapacity),
	}
	register(running)
	defer unregister(task.DisplayNumber)
	defer r.deps.Worktree.Remove(context.Background(), repoEntry.LocalPath, worktreeDir)

	r.deps.Backend.UpdateStatus(ctx, backendclient.StatusUpdateRequest{
		DisplayNumber: task.DisplayNumber,
		Status:        model.StatusRunning,
		Event: &model.LifecycleEvent{
			Type: model.EventStarted, Timestamp: time.Now(), MachineName: r.deps.Identity.MachineName,
		},
	})

	conventionFile, _ := worktree.FindConventionFile(worktreeDir)
	prompt := supervisor.Prompt(task.Content, conventionFile, r.deps.AutoCommit)

	var mu sync.Mutex
	sup := supervisor.New(running, &mu, r.deps.Logger)
	result := sup.Run(ctx, AgentExecutable, prompt, "")

	completedAt := time.Now()
	duration := int(completedAt.Sub(running.StartedAt).Seconds())

	if result.TimedOut {
		reason := supervisor.TimeoutReason(completedAt.Sub(running.StartedAt))
		r.reportFailed(ctx, task, reason, nil)
		return &model.CompletedTask{
			DisplayNumber: task.DisplayNumber, Summary: task.Summary, CompletedAt: completedAt,
			DurationSeconds: duration, Outcome: model.OutcomeTimeout,
		}, nil
	}

	if result.Err != nil || result.ExitCode != 0 {
		if ctx.Err() != nil {
			// Supervisor.Run returned because the daemon's own context was
			// canceled (shutdown), not because the agent itself failed.
			r.reportFailed(context.Background(), task, "daemon shutting down", &model.LifecycleEvent{
				Type: model.EventDaemonShutdown, Timestamp: completedAt, MachineName: r.deps.Identity.MachineName,
			})
			return &model.CompletedTask{
				DisplayNumber: task.DisplayNumber, Summary: task.Summary, CompletedAt: completedAt,
				DurationSeconds: duration, Outcome: model.OutcomeFailed,
			}, nil
		}
		reason := fmt.Sprintf("agent exited with code %d: %s", result.ExitCode, result.StderrTail)
		if result.Err != nil {
			reason = fmt.Sprintf("agent failed to run: %v", result.Err)
		}
		r.reportFailed(ctx, task, reason, nil)
		return &model.CompletedTask{
			DisplayNumber: task.DisplayNumber, Summary: task.Summary, CompletedAt: completedAt,
			DurationSeconds: duration, Outcome: model.OutcomeFailed,
		}, nil
	}

	prURL, merged := r.deps.PRHook.TryOpen(ctx, repoEntry.LocalPath, worktreeDir, branch, task)

	summary := fmt.Sprintf("Completed in %ds on %s", duration, r.deps.Identity.MachineName)

	// AUTO_COMPLETE ("mark task complete after successful merge"): when a
	// PR was opened and this machine is responsible for merging it but the
	// merge did not happen, hold off reporting session_finished so the
	// backend keeps showing the task as running until the PR actually
	// lands.
	if prURL != "" && r.deps.AutoMerge && r.deps.AutoComplete && !merged {
		r.deps.Logger.Info("pr opened but not yet merged, deferring completion", "display_number", task.DisplayNumber, "pr_url", prURL)
		r.deps.Backend.UpdateStatus(ctx, backendclient.StatusUpdateRequest{
			DisplayNumber: task.DisplayNumber,
			Status:        model.StatusRunning,
			Summary:       "awaiting pr merge",
			PRURL:         prURL,
		})
	} else {
		r.deps.Backend.UpdateStatus(ctx, backendclient.StatusUpdateRequest{
			DisplayNumber: task.DisplayNumber,
			Status:        model.StatusSessionFinished,
			Summary:       summary,
			SessionID:     result.SessionID,
			PRURL:         prURL,
			Event: &model.LifecycleEvent{
				Type: model.EventSessionFinished, Timestamp: completedAt,
				MachineName: r.deps.Identity.MachineName, SessionID: result.SessionID,
			},
		})
	}

	return &model.CompletedTask{
		DisplayNumber: task.DisplayNumber, Summary: task.Summary, CompletedAt: completedAt,
		DurationSeconds: duration, Outcome: model.OutcomeSessionFinished,
		SessionID: result.SessionID, PRURL: prURL,
	}, nil
}

// decryptTask decrypts the ciphertext fields of an encrypted task. A task
// that isn't marked Encrypted is returned unchanged.
func (r *Runner) decryptTask(task model.Task) model.Task {
	if !task.Encrypted {
		return task
	}
	task.Summary = r.deps.Decrypt.Decrypt(task.Summary)
	task.Content = r.deps.Decrypt.Decrypt(task.Content)
	if task.OriginalTranscript != "" {
		task.OriginalTranscript = r.deps.Decrypt.Decrypt(task.OriginalTranscript)
	}
	return task
}

func (r *Runner) reportFailed(ctx context.Context, task model.Task, reason string, event *model.LifecycleEvent) {
	if event == nil {
		event = &model.LifecycleEvent{
			Type: model.EventFailed, Timestamp: time.Now(), MachineName: r.deps.Identity.MachineName, Summary: reason,
		}
	}
	if _, err := r.deps.Backend.UpdateStatus(ctx, backendclient.StatusUpdateRequest{
		DisplayNumber: task.DisplayNumber,
		Status:        model.StatusFailed,
		Error:         reason,
		Event:         event,
	}); err != nil {
		r.deps.Logger.Error("failed to report task failure to backend", "display_number", task.DisplayNumber, "err", err)
	}
}

// ReportShutdownFailure reports a running task as failed with a
// daemon_shutdown lifecycle event. Nothing in the daemon calls it: Run
// reports the shutdown itself when its context is canceled.
func (r *Runner) ReportShutdownFailure(ctx context.Context, task model.Task) {
	r.reportFailed(ctx, task, "daemon shutting down", &model.LifecycleEvent{
		Type: model.EventDaemonShutdown, Timestamp: time.Now(), MachineName: r.deps.Identity.MachineName,
	})
}

var stuckPhraseRE = regexp.MustCompile(`(?i)waiting for permission|y/n|press enter|plan ready for approval|confirm:`)

// IsStuckLine reports whether a stdout line matches the stuck-phrase set.
// It has no caller in the daemon; the supervisor's live stuck detection
// scans its own phrase list.
func IsStuckLine(line string) bool {
	return stuckPhraseRE.MatchString(line)
}

func pathExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
