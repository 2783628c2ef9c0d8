package lifecycle

import (
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/pushhq/pushd/internal/statusfile"
)

func requireProcFS(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("requires procfs")
	}
}

func TestVerifySelfProcess(t *testing.T) {
	requireProcFS(t)
	v, err := Verify(os.Getpid())
	if err != nil {
		t.Fatalf("Verify(self): %v", err)
	}
	if v.PID != os.Getpid() {
		t.Fatalf("unexpected pid: %d", v.PID)
	}
	if !v.stillSameProcess() {
		t.Fatalf("expected stillSameProcess true for live self")
	}
}

func TestVerifyRejectsForeignExecutable(t *testing.T) {
	requireProcFS(t)
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("requires sleep binary")
	}
	proc := exec.Command("sleep", "60")
	if err := proc.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	t.Cleanup(func() { _ = proc.Process.Kill() })

	if _, err := Verify(proc.Process.Pid); err == nil {
		t.Fatalf("expected executable-mismatch error")
	} else if !strings.Contains(err.Error(), "executable mismatch") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStopNoPIDFile(t *testing.T) {
	surface := statusfile.New(t.TempDir())
	if err := Stop(surface, time.Second, false); err == nil {
		t.Fatalf("expected error when no pid file exists")
	}
}

func TestStopStalePIDFileRemoved(t *testing.T) {
	requireProcFS(t)
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("requires sleep binary")
	}
	surface := statusfile.New(t.TempDir())

	proc := exec.Command("sleep", "0.01")
	if err := proc.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pid := proc.Process.Pid
	_ = proc.Wait()
	time.Sleep(50 * time.Millisecond)

	if err := surface.WritePID(pid); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if err := Stop(surface, time.Second, false); err == nil {
		t.Fatalf("expected error for stale (dead) pid")
	}
	if got, _ := surface.ReadPID(); got != 0 {
		t.Fatalf("expected stale pid file removed, still reads %d", got)
	}
}

func TestStopRefusesForeignProcess(t *testing.T) {
	requireProcFS(t)
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("requires sleep binary")
	}
	surface := statusfile.New(t.TempDir())
	proc := exec.Command("sleep", "60")
	if err := proc.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	t.Cleanup(func() { _ = proc.Process.Kill() })
	if err := surface.WritePID(proc.Process.Pid); err != nil {
		t.Fatalf("WritePID: %v", err)
	}

	if err := Stop(surface, time.Second, false); err == nil {
		t.Fatalf("expected Stop to refuse signaling a non-matching executable")
	}
}

func TestEnsureDaemonRunningSpawnsWhenNotRunning(t *testing.T) {
	surface := statusfile.New(t.TempDir())
	called := false
	spawn := func() error { called = true; return nil }
	if err := EnsureDaemonRunning(surface, "1.2.3", spawn); err != nil {
		t.Fatalf("EnsureDaemonRunning: %v", err)
	}
	if !called {
		t.Fatalf("expected spawn to be called when no daemon is running")
	}
}

func TestEnsureDaemonRunningNoopWhenVersionMatches(t *testing.T) {
	requireProcFS(t)
	surface := statusfile.New(t.TempDir())
	if err := surface.WritePID(os.Getpid()); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if err := surface.WriteVersion("1.2.3"); err != nil {
		t.Fatalf("WriteVersion: %v", err)
	}
	called := false
	spawn := func() error { called = true; return nil }
	if err := EnsureDaemonRunning(surface, "1.2.3", spawn); err != nil {
		t.Fatalf("EnsureDaemonRunning: %v", err)
	}
	if called {
		t.Fatalf("expected spawn not to be called when version matches a running daemon")
	}
}
