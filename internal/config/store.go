// Package config manages the daemon's three on-disk artifacts: the
// PUSH_-prefixed env-file, the machine identity file, and the project
// registry, plus the optional daemon.yaml ops override. All writes are atomic (temp-then-rename); reads tolerate
// missing or corrupt files by falling back to zero values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pushhq/pushd/internal/model"
)

const envPrefix = "PUSH_"

// Keys recognized in the env-file / environment overrides.
const (
	KeyAPIKey       = "API_KEY"
	KeyEmail        = "EMAIL"
	KeyAutoCommit   = "AUTO_COMMIT"
	KeyAutoMerge    = "AUTO_MERGE"
	KeyAutoComplete = "AUTO_COMPLETE"
	KeyMaxBatchSize = "MAX_BATCH_SIZE"
)

// Settings holds the parsed config-file values with environment overrides
// applied and defaults filled in.
type Settings struct {
	APIKey       string
	Email        string
	AutoCommit   bool
	AutoMerge    bool
	AutoComplete bool
	MaxBatchSize int
}

func defaultSettings() Settings {
	return Settings{
		AutoCommit:   true,
		AutoMerge:    true,
		AutoComplete: true,
		MaxBatchSize: 5,
	}
}

// Store is rooted at a per-user config directory holding `config`,
// `machine_id`, and `projects.json`.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is not created until a
// write occurs.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) configPath() string     { return filepath.Join(s.dir, "config") }
func (s *Store) machineIDPath() string  { return filepath.Join(s.dir, "machine_id") }
func (s *Store) registryPath() string   { return filepath.Join(s.dir, "projects.json") }
func (s *Store) opsOverridePath() string { return filepath.Join(s.dir, "daemon.yaml") }

// LoadSettings reads the `config` file (NAME=VALUE per line, bare names),
// applies environment-variable overrides of the same bare name, and fills
// in defaults for anything absent.
func (s *Store) LoadSettings() (Settings, error) {
	out := defaultSettings()

	raw, err := os.ReadFile(s.configPath())
	if err != nil && !os.IsNotExist(err) {
		return out, fmt.Errorf("config: read %s: %w", s.configPath(), err)
	}

	values := map[string]string{}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), envPrefix))
		values[name] = strings.TrimSpace(val)
	}

	// Environment variables of the bare name override the file.
	for _, key := range []string{KeyAPIKey, KeyEmail, KeyAutoCommit, KeyAutoMerge, KeyAutoComplete, KeyMaxBatchSize} {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = v
		}
	}

	if v, ok := values[KeyAPIKey]; ok {
		out.APIKey = v
	}
	if v, ok := values[KeyEmail]; ok {
		out.Email = v
	}
	if v, ok := values[KeyAutoCommit]; ok {
		out.AutoCommit = parseBool(v, out.AutoCommit)
	}
	if v, ok := values[KeyAutoMerge]; ok {
		out.AutoMerge = parseBool(v, out.AutoMerge)
	}
	if v, ok := values[KeyAutoComplete]; ok {
		out.AutoComplete = parseBool(v, out.AutoComplete)
	}
	if v, ok := values[KeyMaxBatchSize]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 20 {
			out.MaxBatchSize = n
		}
	}

	return out, nil
}

// SaveAPIKey rewrites the API_KEY line in the config file, preserving any
// other recognized keys already present. This is the only writer of
// `config` outside of interactive authentication.
func (s *Store) SaveAPIKey(apiKey string) error {
	cur, _ := s.LoadSettings()
	cur.APIKey = apiKey
	lines := []string{
		envPrefix + KeyAPIKey + "=" + cur.APIKey,
		envPrefix + KeyEmail + "=" + cur.Email,
		envPrefix + KeyAutoCommit + "=" + strconv.FormatBool(cur.AutoCommit),
		envPrefix + KeyAutoMerge + "=" + strconv.FormatBool(cur.AutoMerge),
		envPrefix + KeyAutoComplete + "=" + strconv.FormatBool(cur.AutoComplete),
		envPrefix + KeyMaxBatchSize + "=" + strconv.Itoa(cur.MaxBatchSize),
	}
	return writeAtomic(s.configPath(), []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

// MachineIdentity returns the persisted machine identity, generating and
// persisting a fresh one (hostname + random 8-hex suffix) on first use.
func (s *Store) MachineIdentity() (model.MachineIdentity, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	raw, err := os.ReadFile(s.machineIDPath())
	if err == nil {
		id := strings.TrimSpace(string(raw))
		if suffix, ok := suffixOf(id); ok {
			return model.MachineIdentity{MachineID: id, MachineName: hostname, Suffix: suffix}, nil
		}
	} else if !os.IsNotExist(err) {
		return model.MachineIdentity{}, fmt.Errorf("config: read machine_id: %w", err)
	}

	suffix, err := randomHexSuffix(4)
	if err != nil {
		return model.MachineIdentity{}, fmt.Errorf("config: generate machine suffix: %w", err)
	}
	id := fmt.Sprintf("%s-%s", hostname, suffix)
	if err := writeAtomic(s.machineIDPath(), []byte(id+"\n"), 0o644); err != nil {
		return model.MachineIdentity{}, fmt.Errorf("config: persist machine_id: %w", err)
	}
	return model.MachineIdentity{MachineID: id, MachineName: hostname, Suffix: suffix}, nil
}

func suffixOf(id string) (string, bool) {
	idx := strings.LastIndexByte(id, '-')
	if idx < 0 || idx+1 >= len(id) {
		return "", false
	}
	suffix := id[idx+1:]
	if len(suffix) != 8 {
		return "", false
	}
	return suffix, true
}

func randomHexSuffix(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Registry is the decoded form of projects.json.
type Registry struct {
	Version        int                            `json:"version"`
	Projects       map[string]model.ProjectEntry  `json:"projects"`
	DefaultProject string                         `json:"defaultProject,omitempty"`
}

// LookupMode distinguishes a read-only lookup (status queries) from an
// execute lookup (task dispatch), per the spec's resolution of whether
// last_used should be bumped on every path lookup.
type LookupMode int

const (
	LookupReadOnly LookupMode = iota
	LookupExecute
)

// LoadRegistry reads projects.json, returning an empty registry if the
// file is absent or fails schema validation (treated as corrupt: logged by
// the caller, rewritten on next save).
func (s *Store) LoadRegistry() (Registry, error) {
	reg := Registry{Version: 1, Projects: map[string]model.ProjectEntry{}}
	raw, err := os.ReadFile(s.registryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return reg, fmt.Errorf("config: read projects.json: %w", err)
	}
	if err := ValidateRegistryJSON(raw); err != nil {
		return Registry{Version: 1, Projects: map[string]model.ProjectEntry{}}, fmt.Errorf("config: projects.json failed schema validation, treating as empty: %w", err)
	}
	if err := json.Unmarshal(raw, &reg); err != nil {
		return Registry{Version: 1, Projects: map[string]model.ProjectEntry{}}, fmt.Errorf("config: projects.json malformed, treating as empty: %w", err)
	}
	if reg.Projects == nil {
		reg.Projects = map[string]model.ProjectEntry{}
	}
	return reg, nil
}

// SaveRegistry writes projects.json atomically.
func (s *Store) SaveRegistry(reg Registry) error {
	if reg.Version == 0 {
		reg.Version = 1
	}
	raw, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal projects.json: %w", err)
	}
	return writeAtomic(s.registryPath(), raw, 0o644)
}

// Lookup resolves repoURL to its registered local path, bumping LastUsed
// only when mode is LookupExecute.
func (s *Store) Lookup(repoURL string, mode LookupMode) (model.ProjectEntry, bool, error) {
	reg, err := s.LoadRegistry()
	if err != nil {
		return model.ProjectEntry{}, false, err
	}
	entry, ok := reg.Projects[repoURL]
	if !ok {
		return model.ProjectEntry{}, false, nil
	}
	if mode == LookupExecute {
		entry.LastUsed = time.Now()
		reg.Projects[repoURL] = entry
		if err := s.SaveRegistry(reg); err != nil {
			return entry, true, err
		}
	}
	return entry, true, nil
}

// Register inserts or updates the mapping for repoURL, refreshing
// RegisteredAt and preserving nothing else (re-registering replaces the
// entry outright, matching "exactly one local path per repo URL").
func (s *Store) Register(repoURL, localPath string) error {
	reg, err := s.LoadRegistry()
	if err != nil {
		if _, readErr := os.ReadFile(s.registryPath()); readErr != nil {
			return err
		}
		// projects.json is readable but corrupt: start from the empty
		// registry LoadRegistry returned, which the save below rewrites.
	}
	reg.Projects[repoURL] = model.ProjectEntry{
		LocalPath:    localPath,
		RegisteredAt: time.Now(),
		LastUsed:     time.Time{},
	}
	return s.SaveRegistry(reg)
}

// OpsOverride is the optional daemon.yaml layer of operator-tunable knobs.
// Every field is a pointer so "absent" and "explicit zero" are
// distinguishable; absent fields fall back to hardcoded defaults. The
// daemon applies only PollIntervalSeconds and MaxConcurrent; the timeout
// and idle fields are parsed and validated but not applied, so the
// supervisor's hardcoded thresholds always hold.
type OpsOverride struct {
	PollIntervalSeconds *int `yaml:"pollIntervalSeconds,omitempty" json:"pollIntervalSeconds,omitempty"`
	MaxConcurrent       *int `yaml:"maxConcurrent,omitempty" json:"maxConcurrent,omitempty"`
	ChildTimeoutSeconds *int `yaml:"childTimeoutSeconds,omitempty" json:"childTimeoutSeconds,omitempty"`
	IdleWarnSeconds     *int `yaml:"idleWarnSeconds,omitempty" json:"idleWarnSeconds,omitempty"`
	IdleSeconds         *int `yaml:"idleSeconds,omitempty" json:"idleSeconds,omitempty"`
}

// LoadOpsOverride reads daemon.yaml if present. A missing file is not an
// error; a malformed file is logged by the caller and treated as empty.
func (s *Store) LoadOpsOverride() (OpsOverride, error) {
	raw, err := os.ReadFile(s.opsOverridePath())
	if err != nil {
		if os.IsNotExist(err) {
			return OpsOverride{}, nil
		}
		return OpsOverride{}, fmt.Errorf("config: read daemon.yaml: %w", err)
	}
	var ov OpsOverride
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		return OpsOverride{}, fmt.Errorf("config: daemon.yaml malformed, ignoring: %w", err)
	}
	// Re-validate through the same JSON Schema machinery as the registry by
	// round-tripping through JSON, so one schema authors both encodings.
	asJSON, err := json.Marshal(ov)
	if err == nil {
		if err := ValidateOpsOverrideJSON(asJSON); err != nil {
			return OpsOverride{}, fmt.Errorf("config: daemon.yaml failed schema validation, ignoring: %w", err)
		}
	}
	return ov, nil
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("config: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}
