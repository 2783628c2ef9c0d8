package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s := New(t.TempDir())
	got, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !got.AutoCommit || !got.AutoMerge || !got.AutoComplete {
		t.Fatalf("expected all auto-* defaults true, got %+v", got)
	}
	if got.MaxBatchSize != 5 {
		t.Fatalf("expected default MaxBatchSize=5, got %d", got.MaxBatchSize)
	}
}

func TestLoadSettingsFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	content := "PUSH_API_KEY=file-key\nPUSH_MAX_BATCH_SIZE=10\n"
	if err := os.WriteFile(filepath.Join(dir, "config"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("API_KEY", "env-key")

	got, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got.APIKey != "env-key" {
		t.Fatalf("expected env override to win, got %q", got.APIKey)
	}
	if got.MaxBatchSize != 10 {
		t.Fatalf("expected file value 10, got %d", got.MaxBatchSize)
	}
}

func TestMachineIdentityStable(t *testing.T) {
	s := New(t.TempDir())
	first, err := s.MachineIdentity()
	if err != nil {
		t.Fatalf("MachineIdentity: %v", err)
	}
	if len(first.Suffix) != 8 {
		t.Fatalf("expected 8-hex suffix, got %q", first.Suffix)
	}
	second, err := s.MachineIdentity()
	if err != nil {
		t.Fatalf("MachineIdentity (2nd): %v", err)
	}
	if first.MachineID != second.MachineID || first.Suffix != second.Suffix {
		t.Fatalf("machine identity must be stable across calls: %+v vs %+v", first, second)
	}
}

func TestRegistryRoundTripAndLookupModes(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Register("github.com/u/r", "/home/u/r"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	entry, ok, err := s.Lookup("github.com/u/r", LookupReadOnly)
	if err != nil || !ok {
		t.Fatalf("Lookup readonly: ok=%v err=%v", ok, err)
	}
	if !entry.LastUsed.IsZero() {
		t.Fatalf("read-only lookup must not bump lastUsed, got %v", entry.LastUsed)
	}

	entry, ok, err = s.Lookup("github.com/u/r", LookupExecute)
	if err != nil || !ok {
		t.Fatalf("Lookup execute: ok=%v err=%v", ok, err)
	}
	if entry.LastUsed.IsZero() {
		t.Fatalf("execute lookup must bump lastUsed")
	}

	_, ok, err = s.Lookup("github.com/u/missing", LookupReadOnly)
	if err != nil {
		t.Fatalf("Lookup missing: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for unregistered repo")
	}
}

func TestLoadRegistryCorruptTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "projects.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(dir)
	reg, err := s.LoadRegistry()
	if err == nil {
		t.Fatalf("expected error surfaced for logging on corrupt registry")
	}
	if len(reg.Projects) != 0 {
		t.Fatalf("expected empty registry on corrupt file, got %+v", reg)
	}
}

func TestLoadOpsOverrideMissingIsNotError(t *testing.T) {
	s := New(t.TempDir())
	ov, err := s.LoadOpsOverride()
	if err != nil {
		t.Fatalf("missing daemon.yaml must not error: %v", err)
	}
	if ov.MaxConcurrent != nil {
		t.Fatalf("expected nil override fields, got %+v", ov)
	}
}

func TestLoadOpsOverrideParsesYAML(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "maxConcurrent: 8\npollIntervalSeconds: 45\n"
	if err := os.WriteFile(filepath.Join(dir, "daemon.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(dir)
	ov, err := s.LoadOpsOverride()
	if err != nil {
		t.Fatalf("LoadOpsOverride: %v", err)
	}
	if ov.MaxConcurrent == nil || *ov.MaxConcurrent != 8 {
		t.Fatalf("expected maxConcurrent=8, got %+v", ov.MaxConcurrent)
	}
	if ov.PollIntervalSeconds == nil || *ov.PollIntervalSeconds != 45 {
		t.Fatalf("expected pollIntervalSeconds=45, got %+v", ov.PollIntervalSeconds)
	}
}
