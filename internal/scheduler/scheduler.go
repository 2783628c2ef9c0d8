// Package scheduler drives the daemon's single periodic tick: timeout
// sweep, idle sweep, concurrency-gated poll, and ordered dispatch. Only
// the scheduler tick adds running-task records; only each task's own
// completion handler removes them.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pushhq/pushd/internal/backendclient"
	"github.com/pushhq/pushd/internal/model"
	"github.com/pushhq/pushd/internal/runner"
	"github.com/pushhq/pushd/internal/supervisor"
)

// DefaultTickInterval is the spec's 30s periodic poll.
const DefaultTickInterval = 30 * time.Second

// DefaultMaxConcurrent is the spec's concurrency cap.
const DefaultMaxConcurrent = 5

// Scheduler owns the running-task set and drives ticks against a Runner.
type Scheduler struct {
	runner        *runner.Runner
	backend       *backendclient.Client
	identity      model.MachineIdentity
	tickInterval  time.Duration
	maxConcurrent int
	logger        *slog.Logger

	mu      sync.Mutex
	running map[int]*model.RunningTask

	completedMu sync.Mutex
	completed   []model.CompletedTask

	draining bool
}

// Config bundles the tunables a Scheduler needs at construction. Any zero
// value falls back to the spec's hardcoded default.
type Config struct {
	TickInterval  time.Duration
	MaxConcurrent int
}

// New returns a Scheduler ready to Tick.
func New(r *runner.Runner, backend *backendclient.Client, identity model.MachineIdentity, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:        r,
		backend:       backend,
		identity:      identity,
		tickInterval:  cfg.TickInterval,
		maxConcurrent: cfg.MaxConcurrent,
		logger:        logger,
		running:       map[int]*model.RunningTask{},
	}
}

// Run blocks, ticking every TickInterval until ctx is canceled. It
// performs one immediate tick before entering the interval loop, per the
// spec's start sequence ("perform an immediate poll; then tick on
// interval").
func (s *Scheduler) Run(ctx context.Context, repoURLs func() []string) {
	s.Tick(ctx, repoURLs())

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, repoURLs())
		}
	}
}

// Tick performs one full cycle: timeout sweep, idle sweep, poll (if
// capacity remains), and dispatch.
func (s *Scheduler) Tick(ctx context.Context, repoURLs []string) {
	s.timeoutSweep()
	s.idleSweep()

	if s.isDraining() {
		return
	}

	s.mu.Lock()
	runningCount := len(s.running)
	s.mu.Unlock()
	if runningCount >= s.maxConcurrent {
		s.logger.Debug("concurrency cap reached, skipping poll this tick", "running", runningCount, "cap", s.maxConcurrent)
		return
	}

	poll, err := s.backend.Poll(ctx, repoURLs)
	if err != nil {
		s.logger.Warn("poll failed", "err", err)
		return
	}

	capacity := s.maxConcurrent - runningCount
	dispatched := 0
	for _, task := range poll.Tasks {
		if dispatched >= capacity {
			break
		}
		if task.ExecutionStatus != model.StatusQueued {
			continue
		}
		s.mu.Lock()
		alreadyRunning := map[int]bool{}
		for d := range s.running {
			alreadyRunning[d] = true
		}
		s.mu.Unlock()

		gateResult, entry := s.runner.Gate(task, alreadyRunning, s.maxConcurrent)
		switch gateResult {
		case runner.GatePass:
			dispatched++
			go s.dispatch(ctx, task, entry)
		case runner.GateConcurrencyCapped, runner.GateAlreadyRunning:
			// Skip silently; reconsidered next tick.
		case runner.GateNoRegistry:
			s.logger.Info("no registry entry for repo, leaving task queued", "display_number", task.DisplayNumber, "repo_url", task.RepoURL)
		case runner.GatePathMissing:
			s.logger.Warn("registered path missing on disk", "display_number", task.DisplayNumber, "repo_url", task.RepoURL, "path", entry.LocalPath)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, task model.Task, entry model.ProjectEntry) {
	completed, err := s.runner.Run(ctx, task, entry, s.register, s.unregister)
	if err != nil {
		s.logger.Error("task run failed", "display_number", task.DisplayNumber, "err", err)
		return
	}
	if completed != nil {
		s.recordCompleted(*completed)
	}
}

func (s *Scheduler) timeoutSweep() {
	// The supervisor itself enforces the wall-clock timeout on its own
	// 250ms tick and terminates the child inside its Run loop, so this
	// sweep does nothing; elapsed time in the status file is computed by
	// statusfile.BuildSnapshot.
}

func (s *Scheduler) idleSweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, rt := range s.running {
		warn, _ := supervisor.IdlePhase(rt.LastOutputAt, now)
		if warn {
			s.logger.Warn("task idle", "display_number", rt.DisplayNumber, "idle_for", now.Sub(rt.LastOutputAt).String())
		}
	}
}

// MaxConcurrent returns the configured concurrency cap, for the status
// surface.
func (s *Scheduler) MaxConcurrent() int { return s.maxConcurrent }

// Snapshot returns the current running tasks and the last 10 completed
// records, for the local status surface.
func (s *Scheduler) Snapshot() (running []*model.RunningTask, completed []model.CompletedTask) {
	s.mu.Lock()
	for _, rt := range s.running {
		running = append(running, rt)
	}
	s.mu.Unlock()

	s.completedMu.Lock()
	n := len(s.completed)
	start := 0
	if n > 10 {
		start = n - 10
	}
	completed = append(completed, s.completed[start:]...)
	s.completedMu.Unlock()
	return running, completed
}

// Drain marks the scheduler as shutting down: no further polls or
// dispatches occur. Already-running tasks are not touched here; they stop
// when their supervisors observe cancellation of the daemon's context.
func (s *Scheduler) Drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
}

func (s *Scheduler) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// RunningTasks returns a snapshot copy of the currently running tasks, for
// the daemon's graceful-shutdown wait in cmd/pushd.
func (s *Scheduler) RunningTasks() []*model.RunningTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.RunningTask, 0, len(s.running))
	for _, rt := range s.running {
		out = append(out, rt)
	}
	return out
}

func (s *Scheduler) register(rt *model.RunningTask) {
	s.mu.Lock()
	s.running[rt.DisplayNumber] = rt
	s.mu.Unlock()
}

func (s *Scheduler) unregister(displayNumber int) {
	s.mu.Lock()
	delete(s.running, displayNumber)
	s.mu.Unlock()
}

func (s *Scheduler) recordCompleted(c model.CompletedTask) {
	s.completedMu.Lock()
	s.completed = append(s.completed, c)
	s.completedMu.Unlock()
}
