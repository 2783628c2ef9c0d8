// Package model defines the shared data types passed between the backend
// client, the scheduler, the task runner, and the local status surface.
package model

import "time"

// ExecutionStatus mirrors the backend's task lifecycle states.
type ExecutionStatus string

const (
	StatusQueued              ExecutionStatus = "queued"
	StatusRunning              ExecutionStatus = "running"
	StatusSessionFinished       ExecutionStatus = "session_finished"
	StatusFailed               ExecutionStatus = "failed"
	StatusNeedsClarification   ExecutionStatus = "needs_clarification"
)

// Task is a single voice-captured instruction as received from the
// backend. When Encrypted is true, Summary, Content, and
// OriginalTranscript are base64 ciphertext and must be run through
// decrypt.Adapter.Decrypt before use; the runner does this once, right
// after a successful claim.
type Task struct {
	TaskID             string          `json:"taskId"`
	DisplayNumber      int             `json:"displayNumber"`
	Summary            string          `json:"summary"`
	Content            string          `json:"content"`
	OriginalTranscript string          `json:"originalTranscript,omitempty"`
	RepoURL            string          `json:"repoUrl"`
	ExecutionStatus    ExecutionStatus `json:"executionStatus"`
	Encrypted          bool            `json:"encrypted,omitempty"`
}

// Phase describes where a running task currently is in its supervised life.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseExecuting Phase = "executing"
	PhaseStuck     Phase = "stuck"
)

// Outcome classifies how a task run ended, for the completed-today record.
type Outcome string

const (
	OutcomeSessionFinished Outcome = "session_finished"
	OutcomeFailed          Outcome = "failed"
	OutcomeTimeout         Outcome = "timeout"
)

// RingBuffer is a fixed-capacity FIFO of the most recent stdout lines.
type RingBuffer struct {
	cap  int
	buf  []string
}

// NewRingBuffer returns a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{cap: capacity}
}

// Push appends a line, evicting the oldest entry once at capacity.
func (r *RingBuffer) Push(line string) {
	r.buf = append(r.buf, line)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
}

// Lines returns a snapshot copy of the buffered lines, oldest first.
func (r *RingBuffer) Lines() []string {
	out := make([]string, len(r.buf))
	copy(out, r.buf)
	return out
}

// RunningTask is the in-memory record a runner and its supervisor share for
// the duration of one task run. The runner owns the record; the supervisor
// may only mutate LastOutputAt, Tail, Phase, PhaseDetail, and AgentPID.
type RunningTask struct {
	TaskID        string
	DisplayNumber int
	Summary       string
	WorktreePath  string
	RepoPath      string
	StartedAt     time.Time
	AgentPID      int
	LastOutputAt  time.Time
	Tail          *RingBuffer
	Phase         Phase
	PhaseDetail   string
}

// ElapsedSeconds returns the whole-second age of the run as of now.
func (r *RunningTask) ElapsedSeconds(now time.Time) int {
	return int(now.Sub(r.StartedAt).Seconds())
}

// CompletedTask is a terminal summary retained in memory for the status
// surface's "completed today" feed.
type CompletedTask struct {
	DisplayNumber   int
	Summary         string
	CompletedAt     time.Time
	DurationSeconds int
	Outcome         Outcome
	SessionID       string
	PRURL           string
}

// LifecycleEventType enumerates the event kinds sent alongside status
// updates to the backend.
type LifecycleEventType string

const (
	EventStarted        LifecycleEventType = "started"
	EventSessionFinished LifecycleEventType = "session_finished"
	EventFailed          LifecycleEventType = "failed"
	EventDaemonShutdown  LifecycleEventType = "daemon_shutdown"
)

// LifecycleEvent accompanies a status update so the backend can drive
// notifications and history independent of the bare status enum.
type LifecycleEvent struct {
	Type        LifecycleEventType `json:"type"`
	Timestamp   time.Time          `json:"timestamp"`
	MachineName string             `json:"machineName"`
	Summary     string             `json:"summary,omitempty"`
	SessionID   string             `json:"sessionId,omitempty"`
}

// ProjectEntry is one row of the project registry: a canonical repo URL
// mapped to the local checkout that satisfies it.
type ProjectEntry struct {
	LocalPath    string    `json:"localPath"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastUsed     time.Time `json:"lastUsed"`
}

// MachineIdentity is the stable per-install identity used for claim
// heartbeats and branch-naming suffixes.
type MachineIdentity struct {
	MachineID   string // "{hostname}-{8-hex}"
	MachineName string // bare hostname
	Suffix      string // the 8-hex suffix, also the worktree/branch suffix
}
