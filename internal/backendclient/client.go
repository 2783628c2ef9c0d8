// Package backendclient implements the daemon's only outbound network
// surface: authenticated HTTP calls to the cloud backend for poll, claim,
// and status-update, with retry and backoff on a closed set of transient
// failure conditions.
package backendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"

	"github.com/pushhq/pushd/internal/model"
)

const perAttemptDeadline = 30 * time.Second

// Client talks to the cloud backend. The zero value is not usable; use
// New.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New returns a Client pointed at baseURL, authenticating with apiKey and
// heartbeating as identity. Every outbound request carries identity's
// machine_id/machine_name headers and a fresh X-Request-Id, attached by a
// heartbeatTransport rather than threaded through each call site.
func New(baseURL, apiKey string, identity model.MachineIdentity, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: perAttemptDeadline,
			Transport: &heartbeatTransport{
				next:        http.DefaultTransport,
				machineID:   identity.MachineID,
				machineName: identity.MachineName,
			},
		},
		logger: logger,
	}
}

// heartbeatTransport attaches the machine-identity heartbeat headers and a
// fresh X-Request-Id to every outbound request, so every call site gets
// them uniformly instead of hand-setting them per request.
type heartbeatTransport struct {
	next        http.RoundTripper
	machineID   string
	machineName string
}

func (t *heartbeatTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("machine_id", t.machineID)
	req.Header.Set("machine_name", t.machineName)
	req.Header.Set("X-Request-Id", ulid.Make().String())
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(req)
}

// PollResult is the response to a poll call.
type PollResult struct {
	Tasks []model.Task `json:"todos"`
}

// ClaimResult is the response to a claim call.
type ClaimResult struct {
	Claimed   bool   `json:"claimed"`
	ClaimedBy string `json:"claimedBy,omitempty"`
}

// StatusUpdateResult is the response to an update-status call.
type StatusUpdateResult struct {
	Success bool `json:"success"`
}

// Poll fetches the queued tasks for repoURLs. Machine identity travels on
// every request via heartbeatTransport; repo_urls is call-specific payload
// and is set directly here.
func (c *Client) Poll(ctx context.Context, repoURLs []string) (PollResult, error) {
	var out PollResult
	err := c.doRetried(ctx, "poll", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/todos", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("repo_urls", strings.Join(repoURLs, ","))
		return c.do(req, &out)
	})
	return out, err
}

// Claim attempts an atomic claim of displayNumber for this machine.
func (c *Client) Claim(ctx context.Context, displayNumber int, machineID, machineName string) (ClaimResult, error) {
	var out ClaimResult
	body := map[string]any{
		"displayNumber": displayNumber,
		"status":        "running",
		"machineId":     machineID,
		"machineName":   machineName,
		"atomic":        true,
	}
	err := c.doRetried(ctx, "claim", func(ctx context.Context) error {
		req, err := c.jsonRequest(ctx, http.MethodPost, "/api/todos/claim", body)
		if err != nil {
			return backoff.Permanent(err)
		}
		return c.do(req, &out)
	})
	return out, err
}

// StatusUpdateRequest is the payload for an update-status call.
type StatusUpdateRequest struct {
	DisplayNumber int                   `json:"displayNumber"`
	Status        model.ExecutionStatus `json:"status"`
	Summary       string                `json:"summary,omitempty"`
	Error         string                `json:"error,omitempty"`
	SessionID     string                `json:"sessionId,omitempty"`
	PRURL         string                `json:"prUrl,omitempty"`
	Event         *model.LifecycleEvent `json:"event,omitempty"`
}

// UpdateStatus reports a task's new status, optionally carrying a
// lifecycle event.
func (c *Client) UpdateStatus(ctx context.Context, req StatusUpdateRequest) (StatusUpdateResult, error) {
	var out StatusUpdateResult
	err := c.doRetried(ctx, "update_status", func(ctx context.Context) error {
		httpReq, err := c.jsonRequest(ctx, http.MethodPost, "/api/todos/status", req)
		if err != nil {
			return backoff.Permanent(err)
		}
		return c.do(httpReq, &out)
	})
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("backendclient: marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("backendclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do executes a single HTTP attempt (no retry), decoding a JSON response
// body into out on success and classifying failures via Classify.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if Classify(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return backoff.Permanent(fmt.Errorf("backendclient: %s %s: %w", req.Method, req.URL.Path, ErrAuthFailed))
	}
	if resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode}
		if ClassifyStatus(resp.StatusCode) {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("backendclient: decode response: %w", err))
	}
	return nil
}

// doRetried runs op up to 3 attempts total with the spec's 2s/4s/8s
// (capped 30s) exponential schedule, logging each attempt at debug/warn.
func (c *Client) doRetried(ctx context.Context, op string, fn func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = scheduleInitial
	bo.Multiplier = scheduleFactor
	bo.MaxInterval = scheduleCap
	bo.RandomizationFactor = 0

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptDeadline)
		defer cancel()
		err := fn(attemptCtx)
		if err == nil {
			c.logger.Debug("backend call succeeded", "op", op, "attempt", attempt)
			return struct{}{}, nil
		}
		c.logger.Warn("backend call attempt failed", "op", op, "attempt", attempt, "delay", DelayForAttempt(attempt), "err", err)
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
	if err != nil {
		c.logger.Error("backend call exhausted retries", "op", op, "attempts", attempt, "err", err)
	}
	return err
}
