package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pushhq/pushd/internal/backendclient"
	"github.com/pushhq/pushd/internal/config"
	"github.com/pushhq/pushd/internal/decrypt"
	"github.com/pushhq/pushd/internal/model"
	"github.com/pushhq/pushd/internal/prhook"
	"github.com/pushhq/pushd/internal/runner"
	"github.com/pushhq/pushd/internal/scheduler"
	"github.com/pushhq/pushd/internal/statusfile"
	"github.com/pushhq/pushd/internal/version"
	"github.com/pushhq/pushd/internal/worktree"
)

const defaultBackendURL = "https://api.push.dev"

// daemonMain is the resident process entered via `pushd daemon`. It is
// never invoked directly by the user; `start` spawns it detached.
func daemonMain(args []string) {
	configDir := defaultConfigDir()
	stateDir := defaultStateDir()
	backendURL := defaultBackendURL
	prRemote := "origin"
	prEnabled := true

	filtered := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--no-pr" {
			prEnabled = false
			continue
		}
		filtered = append(filtered, a)
	}
	_, err := parseFlags(filtered, map[string]func(string){
		"--config-dir":  func(v string) { configDir = v },
		"--state-dir":   func(v string) { stateDir = v },
		"--backend-url": func(v string) { backendURL = v },
		"--pr-remote":   func(v string) { prRemote = v },
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	surface := statusfile.New(stateDir)
	logger := newLogger(surface.LogPath())

	if err := surface.WritePID(os.Getpid()); err != nil {
		logger.Error("write pid file", "err", err)
		os.Exit(1)
	}
	defer surface.RemovePID()
	if err := surface.WriteVersion(version.Version); err != nil {
		logger.Error("write version file", "err", err)
	}

	cfgStore := config.New(configDir)
	settings, err := cfgStore.LoadSettings()
	if err != nil {
		logger.Error("load settings", "err", err)
		os.Exit(1)
	}
	identity, err := cfgStore.MachineIdentity()
	if err != nil {
		logger.Error("resolve machine identity", "err", err)
		os.Exit(1)
	}
	ops, err := cfgStore.LoadOpsOverride()
	if err != nil {
		logger.Warn("ops override ignored", "err", err)
	}

	backend := backendclient.New(backendURL, settings.APIKey, identity, logger)
	keySource := func() ([]byte, error) {
		return nil, fmt.Errorf("daemon: no keychain helper configured on this platform")
	}
	deps := runner.Dependencies{
		Backend:      backend,
		Config:       cfgStore,
		Worktree:     worktree.NewManager(),
		PRHook:       prhook.New(prEnabled, prRemote, settings.AutoMerge, logger),
		Decrypt:      decrypt.NewAdapter(keySource),
		Identity:     identity,
		Logger:       logger,
		AutoCommit:   settings.AutoCommit,
		AutoMerge:    settings.AutoMerge,
		AutoComplete: settings.AutoComplete,
	}
	rnr := runner.New(deps)

	// MAX_BATCH_SIZE is a CLI-only setting (§4.1: "used by CLI, not core")
	// and must never seed the daemon's own concurrency cap; that cap is
	// scheduler.DefaultMaxConcurrent unless daemon.yaml's maxConcurrent
	// overrides it below.
	schedCfg := scheduler.Config{MaxConcurrent: scheduler.DefaultMaxConcurrent}
	if ops.PollIntervalSeconds != nil {
		schedCfg.TickInterval = time.Duration(*ops.PollIntervalSeconds) * time.Second
	}
	if ops.MaxConcurrent != nil {
		schedCfg.MaxConcurrent = *ops.MaxConcurrent
	}
	sched := scheduler.New(rnr, backend, identity, schedCfg, logger)

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	go runStatusWriter(ctx, sched, surface, identity)

	logger.Info("daemon starting", "version", version.Version, "machine_id", identity.MachineID)
	sched.Run(ctx, func() []string { return registeredRepoURLs(cfgStore, logger) })

	gracefulShutdown(sched, surface, identity)
	logger.Info("daemon stopped")
}

func registeredRepoURLs(store *config.Store, logger *slog.Logger) []string {
	reg, err := store.LoadRegistry()
	if err != nil {
		logger.Warn("load registry for poll", "err", err)
		return nil
	}
	urls := make([]string, 0, len(reg.Projects))
	for url := range reg.Projects {
		urls = append(urls, url)
	}
	return urls
}

// runStatusWriter refreshes daemon_status.json on a short interval so
// the CLI's watch mode and ad-hoc queries see near-live data between
// scheduler ticks.
func runStatusWriter(ctx context.Context, sched *scheduler.Scheduler, surface *statusfile.Surface, identity model.MachineIdentity) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	startedAt := time.Now().UTC().Format(time.RFC3339)
	for {
		writeSnapshot(sched, surface, identity, startedAt, true)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeSnapshot(sched *scheduler.Scheduler, surface *statusfile.Surface, identity model.MachineIdentity, startedAt string, running bool) {
	runningTasks, completed := sched.Snapshot()
	snap := statusfile.BuildSnapshot(statusfile.DaemonView{
		PID:             os.Getpid(),
		Version:         version.Version,
		StartedAt:       startedAt,
		MachineName:     identity.MachineName,
		MachineIDSuffix: identity.Suffix,
	}, running, runningTasks, completed, sched.MaxConcurrent())
	if !running {
		snap.StoppedAt = time.Now().UTC().Format(time.RFC3339)
	}
	surface.Write(snap)
}

// gracefulShutdown implements §4.9's stop sequence: mark draining, let
// each running task's supervisor observe ctx cancellation (already
// delivered by sched.Run returning), then finalize the status file.
func gracefulShutdown(sched *scheduler.Scheduler, surface *statusfile.Surface, identity model.MachineIdentity) {
	sched.Drain()
	deadline := time.Now().Add(6 * time.Second)
	for len(sched.RunningTasks()) > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	writeSnapshot(sched, surface, identity, time.Now().UTC().Format(time.RFC3339), false)
}
