// Package statusfile implements the daemon's sole local observability
// surface: an atomically-written JSON snapshot, a PID file, a version
// file, and the daemon log's path (rotation is done by the logger in
// cmd/pushd). There is no IPC channel besides the snapshot and PID files.
package statusfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pushhq/pushd/internal/model"
)

// ActiveTaskView is the JSON shape of one entry in activeTasks/
// runningTasks/queuedTasks.
type ActiveTaskView struct {
	DisplayNumber  int    `json:"displayNumber"`
	Summary        string `json:"summary"`
	Status         string `json:"status"`
	Phase          string `json:"phase"`
	Detail         string `json:"detail,omitempty"`
	StartedAt      string `json:"startedAt"`
	ElapsedSeconds int    `json:"elapsedSeconds"`
}

// CompletedView is the JSON shape of a completedToday entry.
type CompletedView struct {
	DisplayNumber   int    `json:"displayNumber"`
	Summary         string `json:"summary"`
	CompletedAt     string `json:"completedAt"`
	DurationSeconds int    `json:"durationSeconds"`
	Outcome         string `json:"outcome"`
	SessionID       string `json:"sessionId,omitempty"`
	PRURL           string `json:"prUrl,omitempty"`
}

// Stats mirrors the spec's {running, maxConcurrent, completedToday} block.
type Stats struct {
	Running        int `json:"running"`
	MaxConcurrent  int `json:"maxConcurrent"`
	CompletedToday int `json:"completedToday"`
}

// DaemonView is the {pid, version, startedAt, machineName,
// machineId_suffix} block.
type DaemonView struct {
	PID             int    `json:"pid"`
	Version         string `json:"version"`
	StartedAt       string `json:"startedAt"`
	MachineName     string `json:"machineName"`
	MachineIDSuffix string `json:"machineId_suffix"`
}

// Snapshot is the full daemon_status.json document.
type Snapshot struct {
	Daemon         DaemonView       `json:"daemon"`
	Running        bool             `json:"running"`
	ActiveTasks    []ActiveTaskView `json:"activeTasks"`
	RunningTasks   []ActiveTaskView `json:"runningTasks"`
	QueuedTasks    []ActiveTaskView `json:"queuedTasks"`
	CompletedToday []CompletedView  `json:"completedToday"`
	Stats          Stats            `json:"stats"`
	UpdatedAt      string           `json:"updatedAt"`
	StoppedAt      string           `json:"stoppedAt,omitempty"`
}

// Surface owns the daemon_status.json and daemon.pid paths under a state
// directory and serializes writes via temp-then-rename.
type Surface struct {
	stateDir string
}

// New returns a Surface rooted at stateDir.
func New(stateDir string) *Surface {
	return &Surface{stateDir: stateDir}
}

func (s *Surface) StatusPath() string  { return filepath.Join(s.stateDir, "daemon_status.json") }
func (s *Surface) PIDPath() string     { return filepath.Join(s.stateDir, "daemon.pid") }
func (s *Surface) VersionPath() string { return filepath.Join(s.stateDir, "daemon.version") }
func (s *Surface) LogPath() string     { return filepath.Join(s.stateDir, "daemon.log") }

// WritePID writes the daemon's own PID, atomically.
func (s *Surface) WritePID(pid int) error {
	return writeAtomic(s.PIDPath(), []byte(fmt.Sprintf("%d\n", pid)))
}

// ReadPID reads a previously written PID file; returns 0, nil if absent.
func (s *Surface) ReadPID() (int, error) {
	raw, err := os.ReadFile(s.PIDPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("statusfile: read pid file: %w", err)
	}
	var pid int
	if _, err := fmt.Sscanf(string(raw), "%d", &pid); err != nil {
		return 0, fmt.Errorf("statusfile: parse pid file: %w", err)
	}
	return pid, nil
}

// RemovePID deletes the PID file; a missing file is not an error.
func (s *Surface) RemovePID() error {
	err := os.Remove(s.PIDPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("statusfile: remove pid file: %w", err)
	}
	return nil
}

// WriteVersion persists the daemon's running version.
func (s *Surface) WriteVersion(version string) error {
	return writeAtomic(s.VersionPath(), []byte(version+"\n"))
}

// ReadVersion reads the recorded version; "" if absent.
func (s *Surface) ReadVersion() (string, error) {
	raw, err := os.ReadFile(s.VersionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("statusfile: read version file: %w", err)
	}
	return trimNewline(string(raw)), nil
}

// Write serializes snap to daemon_status.json atomically, guaranteeing
// readers never observe partial JSON.
func (s *Surface) Write(snap Snapshot) error {
	snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("statusfile: marshal snapshot: %w", err)
	}
	return writeAtomic(s.StatusPath(), raw)
}

// Read parses the current status snapshot.
func (s *Surface) Read() (Snapshot, error) {
	var snap Snapshot
	raw, err := os.ReadFile(s.StatusPath())
	if err != nil {
		return snap, fmt.Errorf("statusfile: read snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("statusfile: snapshot is corrupt: %w", err)
	}
	return snap, nil
}

// BuildSnapshot assembles a Snapshot from the scheduler's live view. It is
// the single place the running/completed in-memory state is translated
// into the on-disk shape.
func BuildSnapshot(daemon DaemonView, running bool, runningTasks []*model.RunningTask, completed []model.CompletedTask, maxConcurrent int) Snapshot {
	now := time.Now()
	views := make([]ActiveTaskView, 0, len(runningTasks))
	for _, rt := range runningTasks {
		views = append(views, ActiveTaskView{
			DisplayNumber:  rt.DisplayNumber,
			Summary:        rt.Summary,
			Status:         "running",
			Phase:          string(rt.Phase),
			Detail:         rt.PhaseDetail,
			StartedAt:      rt.StartedAt.UTC().Format(time.RFC3339),
			ElapsedSeconds: rt.ElapsedSeconds(now),
		})
	}
	completedViews := make([]CompletedView, 0, len(completed))
	for _, c := range completed {
		completedViews = append(completedViews, CompletedView{
			DisplayNumber:   c.DisplayNumber,
			Summary:         c.Summary,
			CompletedAt:     c.CompletedAt.UTC().Format(time.RFC3339),
			DurationSeconds: c.DurationSeconds,
			Outcome:         string(c.Outcome),
			SessionID:       c.SessionID,
			PRURL:           c.PRURL,
		})
	}
	return Snapshot{
		Daemon:         daemon,
		Running:        running,
		ActiveTasks:    views,
		RunningTasks:   views,
		QueuedTasks:    nil,
		CompletedToday: completedViews,
		Stats: Stats{
			Running:        len(runningTasks),
			MaxConcurrent:  maxConcurrent,
			CompletedToday: len(completed),
		},
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statusfile: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("statusfile: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("statusfile: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("statusfile: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("statusfile: rename into place: %w", err)
	}
	return nil
}
