package prhook

import (
	"context"
	"testing"

	"github.com/pushhq/pushd/internal/model"
)

func TestTryOpenDisabledIsNoop(t *testing.T) {
	h := New(false, "", false, nil)
	url, merged := h.TryOpen(context.Background(), "/nonexistent", "/nonexistent", "branch", model.Task{DisplayNumber: 1})
	if url != "" || merged {
		t.Fatalf("expected empty URL and no merge when disabled, got %q merged=%v", url, merged)
	}
}

func TestTryOpenMissingRepoIsSwallowed(t *testing.T) {
	h := New(true, "origin", true, nil)
	url, merged := h.TryOpen(context.Background(), t.TempDir(), t.TempDir(), "push-1-abcd1234", model.Task{DisplayNumber: 1, Summary: "fix"})
	if url != "" || merged {
		t.Fatalf("expected empty URL and no merge on failure, got %q merged=%v", url, merged)
	}
}
