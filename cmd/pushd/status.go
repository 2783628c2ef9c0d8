package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pushhq/pushd/internal/statusfile"
)

func statusCmd(args []string) {
	stateDir := defaultStateDir()
	asJSON := false
	watch := false
	intervalSec := 2
	if _, err := parseFlags(args, map[string]func(string){
		"--state-dir": func(v string) { stateDir = v },
		"--interval": func(v string) {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				intervalSec = n
			}
		},
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, a := range args {
		switch a {
		case "--json":
			asJSON = true
		case "--watch":
			watch = true
		}
	}

	surface := statusfile.New(stateDir)
	if watch {
		os.Exit(runWatchStatus(surface, asJSON, intervalSec))
	}
	os.Exit(printSnapshot(surface, asJSON))
}

func printSnapshot(surface *statusfile.Surface, asJSON bool) int {
	snap, err := surface.Read()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(snap)
		return 0
	}
	printHuman(snap)
	return 0
}

func printHuman(snap statusfile.Snapshot) {
	fmt.Printf("daemon pid=%d version=%s machine=%s-%s\n", snap.Daemon.PID, snap.Daemon.Version, snap.Daemon.MachineName, snap.Daemon.MachineIDSuffix)
	fmt.Printf("running=%v  active=%d/%d  completed_today=%d\n", snap.Running, snap.Stats.Running, snap.Stats.MaxConcurrent, snap.Stats.CompletedToday)
	for _, t := range snap.RunningTasks {
		fmt.Printf("  #%d %-30s %-10s %ds  %s\n", t.DisplayNumber, truncate(t.Summary, 30), t.Phase, t.ElapsedSeconds, t.Detail)
	}
	for _, c := range snap.CompletedToday {
		fmt.Printf("  #%d %-30s %-20s %ds\n", c.DisplayNumber, truncate(c.Summary, 30), c.Outcome, c.DurationSeconds)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func runWatchStatus(surface *statusfile.Surface, asJSON bool, intervalSec int) int {
	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()
	for {
		fmt.Print("\033[H\033[2J")
		if code := printSnapshot(surface, asJSON); code != 0 {
			return code
		}
		<-ticker.C
	}
}
