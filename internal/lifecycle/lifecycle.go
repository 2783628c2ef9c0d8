// Package lifecycle implements daemon start/stop, PID identity
// verification before signaling, and the version-mismatch self-restart
// that is the sole in-band update mechanism.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pushhq/pushd/internal/procutil"
	"github.com/pushhq/pushd/internal/statusfile"
)

// VerifiedPID pins a PID to the start-time token observed when it was
// first read, so a later signal only fires if the same process instance
// is still alive (guards against PID reuse across a stale PID file).
type VerifiedPID struct {
	PID            int
	StartTime      string
	StartTimeKnown bool
}

// Verify resolves pid into a VerifiedPID, refusing to proceed if procfs
// shows the executable is not this same daemon binary.
func Verify(pid int) (VerifiedPID, error) {
	if pid <= 0 {
		return VerifiedPID{}, fmt.Errorf("lifecycle: invalid pid %d", pid)
	}
	if !procutil.ProcFSAvailable() {
		return VerifiedPID{PID: pid}, nil
	}
	selfExe, err := procutil.SelfExePath()
	if err != nil {
		return VerifiedPID{}, fmt.Errorf("lifecycle: resolve own executable: %w", err)
	}
	targetExe, err := procutil.ExePath(pid)
	if err != nil {
		return VerifiedPID{}, fmt.Errorf("lifecycle: resolve pid %d executable: %w", pid, err)
	}
	if targetExe != selfExe {
		return VerifiedPID{}, fmt.Errorf("lifecycle: refusing to signal pid %d: executable mismatch (target=%q self=%q)", pid, targetExe, selfExe)
	}
	start, err := procutil.StartTime(pid)
	if err != nil {
		return VerifiedPID{}, fmt.Errorf("lifecycle: read pid %d start time: %w", pid, err)
	}
	return VerifiedPID{PID: pid, StartTime: start, StartTimeKnown: true}, nil
}

func (v VerifiedPID) stillSameProcess() bool {
	if !procutil.PIDAlive(v.PID) {
		return false
	}
	if !v.StartTimeKnown {
		return true
	}
	start, err := procutil.StartTime(v.PID)
	if err != nil {
		return false
	}
	return start == v.StartTime
}

// Stop sends SIGTERM to the daemon identified by surface's PID file,
// waits up to grace for it to exit, then SIGKILLs if force is set.
// Returns an error if no PID file exists, the PID is not this binary, or
// the process never exits.
func Stop(surface *statusfile.Surface, grace time.Duration, force bool) error {
	pid, err := surface.ReadPID()
	if err != nil {
		return fmt.Errorf("lifecycle: read pid file: %w", err)
	}
	if pid == 0 {
		return fmt.Errorf("lifecycle: no pid file, daemon is not running")
	}
	if !procutil.PIDAlive(pid) {
		surface.RemovePID()
		return fmt.Errorf("lifecycle: pid %d is not running (stale pid file removed)", pid)
	}

	verified, err := Verify(pid)
	if err != nil {
		return err
	}

	proc, err := os.FindProcess(verified.PID)
	if err != nil {
		return fmt.Errorf("lifecycle: find pid %d: %w", verified.PID, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("lifecycle: send SIGTERM to pid %d: %w", verified.PID, err)
	}

	if waitForExit(verified, grace) {
		return nil
	}
	if !force {
		return fmt.Errorf("lifecycle: pid %d did not exit within %s", verified.PID, grace)
	}
	if !verified.stillSameProcess() {
		return nil
	}
	if err := proc.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("lifecycle: send SIGKILL to pid %d: %w", verified.PID, err)
	}
	killWait := grace
	if killWait < time.Second {
		killWait = time.Second
	}
	if !waitForExit(verified, killWait) {
		return fmt.Errorf("lifecycle: pid %d did not exit after SIGKILL", verified.PID)
	}
	return nil
}

func waitForExit(v VerifiedPID, timeout time.Duration) bool {
	if !v.stillSameProcess() {
		return true
	}
	deadline := time.Now().Add(timeout)
	poll := timeout / 10
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	if poll > 100*time.Millisecond {
		poll = 100 * time.Millisecond
	}
	for time.Now().Before(deadline) {
		time.Sleep(poll)
		if !v.stillSameProcess() {
			return true
		}
	}
	return !v.stillSameProcess()
}

// EnsureDaemonRunning is called by every privileged CLI operation. It
// compares the daemon's recorded version to installedVersion; on
// mismatch it stops the current daemon (if any) and spawns a fresh one
// via spawn, the sole in-band update path. If no daemon is running it
// simply spawns one.
func EnsureDaemonRunning(surface *statusfile.Surface, installedVersion string, spawn func() error) error {
	pid, err := surface.ReadPID()
	if err != nil {
		return fmt.Errorf("lifecycle: read pid file: %w", err)
	}
	if pid != 0 && procutil.PIDAlive(pid) {
		recorded, err := surface.ReadVersion()
		if err != nil {
			return fmt.Errorf("lifecycle: read recorded version: %w", err)
		}
		if recorded == installedVersion {
			return nil
		}
		if err := Stop(surface, 5*time.Second, true); err != nil {
			return fmt.Errorf("lifecycle: stop stale daemon for self-restart: %w", err)
		}
	}
	return spawn()
}

// SpawnDetached starts exe with args as a detached background process,
// the default spawn implementation for EnsureDaemonRunning.
func SpawnDetached(exe string, args ...string) error {
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Start()
}
