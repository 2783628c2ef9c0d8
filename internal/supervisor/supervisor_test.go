package supervisor

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/pushhq/pushd/internal/model"
)

func writeExecutable(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o755)
}

func TestPromptComposesTrailer(t *testing.T) {
	p := Prompt("fix the login bug", "AGENTS.md", true)
	if !containsAll(p, "fix the login bug", "AGENTS.md", "Commit all changes", "Exit cleanly") {
		t.Fatalf("prompt missing expected sections: %q", p)
	}
}

func TestPromptFallsBackWithoutConventionFile(t *testing.T) {
	p := Prompt("do something", "", true)
	if !containsAll(p, "any in-repo convention file") {
		t.Fatalf("expected generic convention-file instruction, got %q", p)
	}
}

func TestPromptOmitsCommitInstructionWhenAutoCommitDisabled(t *testing.T) {
	p := Prompt("fix the login bug", "AGENTS.md", false)
	if contains(p, "Commit all changes") {
		t.Fatalf("expected no commit instruction when autoCommit is false: %q", p)
	}
	if !containsAll(p, "uncommitted for manual review") {
		t.Fatalf("expected manual-review instruction, got %q", p)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	return len(sub) == 0 || (len(s) >= len(sub) && indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestExtractSessionID(t *testing.T) {
	id, ok := extractSessionID(`some text {"session_id":"S-1"} trailing`)
	if !ok || id != "S-1" {
		t.Fatalf("expected session id S-1, got %q ok=%v", id, ok)
	}
	if _, ok := extractSessionID("no session id here"); ok {
		t.Fatalf("expected no match")
	}
}

func TestTimeoutReasonFormat(t *testing.T) {
	got := TimeoutReason(3601 * time.Second)
	want := "Task timed out after 3601s (limit: 3600s)"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestIdlePhaseThresholds(t *testing.T) {
	now := time.Now()
	warn, declared := IdlePhase(now.Add(-4*time.Minute), now)
	if warn || declared {
		t.Fatalf("expected no idle signal at 4 minutes")
	}
	warn, declared = IdlePhase(now.Add(-6*time.Minute), now)
	if !warn || declared {
		t.Fatalf("expected warn-only at 6 minutes")
	}
	warn, declared = IdlePhase(now.Add(-11*time.Minute), now)
	if !warn || !declared {
		t.Fatalf("expected both warn and declared at 11 minutes")
	}
}

func newTestTask() *model.RunningTask {
	return &model.RunningTask{
		TaskID:        "t-1",
		DisplayNumber: 1,
		StartedAt:     time.Now(),
		Tail:          model.NewRingBuffer(TailCapacity),
	}
}

// fakeAgent writes a shell script to dir that mimics the agent CLI
// contract closely enough for supervisor tests: it ignores its flags,
// prints body to stdout, and exits with code.
func fakeAgent(t *testing.T, dir, body string, code int) string {
	t.Helper()
	path := dir + "/fake-agent.sh"
	script := "#!/bin/sh\n" + body + "\nexit " + itoa(code) + "\n"
	if err := writeExecutable(path, script); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func TestRunCapturesSessionIDOnCleanExit(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	agent := fakeAgent(t, dir, `echo 'working...'
echo '{"session_id":"S-42"}'`, 0)

	task := newTestTask()
	task.WorktreePath = dir
	var mu sync.Mutex
	s := New(task, &mu, nil)

	res := s.Run(context.Background(), agent, "fix the bug", "")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
	if res.SessionID != "S-42" {
		t.Fatalf("expected session id S-42, got %q", res.SessionID)
	}
}

func TestRunReportsNonZeroExit(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	agent := fakeAgent(t, dir, `echo 'failing' 1>&2`, 3)

	task := newTestTask()
	task.WorktreePath = dir
	var mu sync.Mutex
	s := New(task, &mu, nil)

	res := s.Run(context.Background(), agent, "do something", "")
	if res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d (err=%v)", res.ExitCode, res.Err)
	}
}
