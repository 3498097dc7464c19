package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML operations file and layers it over Default(),
// then lets RP_* environment variables override the result — the same
// precedence order as the engine config package's RuntimeConfigManager
// (file overrides baseline, environment overrides file), minus its
// file-watch hot-reload: this platform re-reads CONFIG_FILE only at
// startup.
func LoadFile(path string) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&c)
	return c, nil
}
