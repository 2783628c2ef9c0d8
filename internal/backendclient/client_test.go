package backendclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pushhq/pushd/internal/model"
)

func TestPollSuccessSetsHeartbeatHeaders(t *testing.T) {
	var gotMachineID, gotMachineName, gotRepoURLs, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMachineID = r.Header.Get("machine_id")
		gotMachineName = r.Header.Get("machine_name")
		gotRepoURLs = r.Header.Get("repo_urls")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(PollResult{Tasks: []model.Task{{DisplayNumber: 1}}})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret-key", model.MachineIdentity{MachineID: "host-aabbccdd", MachineName: "host"}, nil)
	res, err := c.Poll(t.Context(), []string{"github.com/a/b", "github.com/c/d"})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(res.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(res.Tasks))
	}
	if gotMachineID != "host-aabbccdd" || gotMachineName != "host" {
		t.Fatalf("missing heartbeat headers: machine_id=%q machine_name=%q", gotMachineID, gotMachineName)
	}
	if gotRepoURLs != "github.com/a/b,github.com/c/d" {
		t.Fatalf("unexpected repo_urls header: %q", gotRepoURLs)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
}

func TestClaimDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ClaimResult{Claimed: false, ClaimedBy: "other-machine"})
	}))
	defer srv.Close()

	c := New(srv.URL, "k", model.MachineIdentity{MachineID: "m1", MachineName: "host1"}, nil)
	res, err := c.Claim(t.Context(), 500, "m1", "host1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.Claimed {
		t.Fatalf("expected claimed=false")
	}
	if res.ClaimedBy != "other-machine" {
		t.Fatalf("unexpected claimedBy: %q", res.ClaimedBy)
	}
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "bad-key", model.MachineIdentity{MachineID: "m1", MachineName: "host1"}, nil)
	_, err := c.Poll(t.Context(), nil)
	if err == nil {
		t.Fatalf("expected error for 401")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for auth failure, got %d", calls)
	}
}

func TestClassifyStatusRetryableSet(t *testing.T) {
	retryable := []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}
	for _, code := range retryable {
		if !ClassifyStatus(code) {
			t.Errorf("expected %d to be retryable", code)
		}
	}
	if ClassifyStatus(http.StatusBadRequest) {
		t.Errorf("expected 400 to be non-retryable")
	}
}
