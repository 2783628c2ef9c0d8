package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	run("commit", "--allow-empty", "-m", "init", "-q")
}

func TestBranchNameAndPath(t *testing.T) {
	branch := BranchName(427, "a1b2c3d4")
	if branch != "push-427-a1b2c3d4" {
		t.Fatalf("unexpected branch name: %q", branch)
	}
	p := WorktreePath("/home/u/repo", branch)
	if p != "/home/u/push-427-a1b2c3d4" {
		t.Fatalf("unexpected worktree path: %q", p)
	}
}

func TestEnsureIdempotentAcrossRuns(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	root := t.TempDir()
	repoDir := filepath.Join(root, "repo")
	if err := os.Mkdir(repoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	initRepo(t, repoDir)

	ctx := context.Background()
	m := NewManager()
	branch := BranchName(1, "deadbeef")

	wt1, err := m.Ensure(ctx, repoDir, branch)
	if err != nil {
		t.Fatalf("Ensure (1st): %v", err)
	}
	if err := m.Remove(ctx, repoDir, wt1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(wt1); !os.IsNotExist(err) {
		t.Fatalf("expected worktree dir gone after Remove")
	}

	wt2, err := m.Ensure(ctx, repoDir, branch)
	if err != nil {
		t.Fatalf("Ensure (2nd, same branch): %v", err)
	}
	if wt2 != wt1 {
		t.Fatalf("expected stable worktree path, got %q vs %q", wt1, wt2)
	}
	if err := m.Remove(ctx, repoDir, wt2); err != nil {
		t.Fatalf("Remove (2nd): %v", err)
	}
}

func TestFindConventionFile(t *testing.T) {
	dir := t.TempDir()
	if _, ok := FindConventionFile(dir); ok {
		t.Fatalf("expected no convention file in empty dir")
	}
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("rules"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, ok := FindConventionFile(dir)
	if !ok || path != "AGENTS.md" {
		t.Fatalf("expected AGENTS.md, got %q ok=%v", path, ok)
	}
}
