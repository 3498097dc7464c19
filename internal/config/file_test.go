package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "racepulse.yaml")
	body := "minSources: 4\nconflictThreshold: 0.25\nmaxConnections: 2500\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.MinSources != 4 {
		t.Errorf("MinSources = %d, want 4", c.MinSources)
	}
	if c.ConflictThreshold != 0.25 {
		t.Errorf("ConflictThreshold = %v, want 0.25", c.ConflictThreshold)
	}
	if c.MaxConnections != 2500 {
		t.Errorf("MaxConnections = %d, want 2500", c.MaxConnections)
	}
	// Untouched fields still carry their defaults.
	if c.HealthCheckInterval != 10*time.Second {
		t.Errorf("HealthCheckInterval = %v, want default 10s", c.HealthCheckInterval)
	}
}

func TestLoadFileEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "racepulse.yaml")
	if err := os.WriteFile(path, []byte("minSources: 4\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	os.Setenv("RP_MIN_SOURCES", "7")
	defer os.Unsetenv("RP_MIN_SOURCES")

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.MinSources != 7 {
		t.Errorf("MinSources = %d, want env override 7", c.MinSources)
	}
}

func TestLoadFileMissingReturnsError(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
