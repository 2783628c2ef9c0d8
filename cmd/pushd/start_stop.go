package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pushhq/pushd/internal/lifecycle"
	"github.com/pushhq/pushd/internal/statusfile"
	"github.com/pushhq/pushd/internal/version"
)

func startCmd(args []string) {
	configDir := defaultConfigDir()
	stateDir := defaultStateDir()
	if _, err := parseFlags(args, map[string]func(string){
		"--config-dir": func(v string) { configDir = v },
		"--state-dir":  func(v string) { stateDir = v },
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	surface := statusfile.New(stateDir)
	spawn := func() error { return spawnDaemon(configDir, stateDir) }
	if err := lifecycle.EnsureDaemonRunning(surface, version.Version, spawn); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("daemon running")
}

func spawnDaemon(configDir, stateDir string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}
	return lifecycle.SpawnDetached(self, "daemon", "--config-dir", configDir, "--state-dir", stateDir)
}

func stopCmd(args []string) {
	stateDir := defaultStateDir()
	grace := 5 * time.Second
	force := false
	if _, err := parseFlags(args, map[string]func(string){
		"--state-dir": func(v string) { stateDir = v },
		"--grace-ms": func(v string) {
			var ms int
			fmt.Sscanf(v, "%d", &ms)
			grace = time.Duration(ms) * time.Millisecond
		},
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, a := range args {
		if a == "--force" {
			force = true
		}
	}

	surface := statusfile.New(stateDir)
	if err := lifecycle.Stop(surface, grace, force); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("daemon stopped")
}
