package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global
// config, defaults. Missing files are not errors; malformed JSON
// returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskforge/config.json
// Project: .taskforge/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".taskforge", "config.json")
	projectPath := filepath.Join(".taskforge", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped. Set scalars override,
// workflows merge per key, a non-empty source list replaces the base
// list wholesale.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.ProjectID != "" {
		base.ProjectID = loaded.ProjectID
	}
	if loaded.Store.Path != "" {
		base.Store.Path = loaded.Store.Path
	}
	if loaded.Store.HistoryWindow > 0 {
		base.Store.HistoryWindow = loaded.Store.HistoryWindow
	}
	if len(loaded.Sources) > 0 {
		base.Sources = loaded.Sources
	}

	if loaded.Orchestrator.Workers > 0 {
		base.Orchestrator.Workers = loaded.Orchestrator.Workers
	}
	if loaded.Orchestrator.StepTimeoutSeconds > 0 {
		base.Orchestrator.StepTimeoutSeconds = loaded.Orchestrator.StepTimeoutSeconds
	}
	if loaded.Orchestrator.Retry.MaxAttempts > 0 {
		base.Orchestrator.Retry.MaxAttempts = loaded.Orchestrator.Retry.MaxAttempts
	}
	if loaded.Orchestrator.Retry.InitialIntervalMS > 0 {
		base.Orchestrator.Retry.InitialIntervalMS = loaded.Orchestrator.Retry.InitialIntervalMS
	}
	if loaded.Orchestrator.Retry.MaxIntervalMS > 0 {
		base.Orchestrator.Retry.MaxIntervalMS = loaded.Orchestrator.Retry.MaxIntervalMS
	}
	if loaded.Orchestrator.Retry.Multiplier > 0 {
		base.Orchestrator.Retry.Multiplier = loaded.Orchestrator.Retry.Multiplier
	}

	for key, workflow := range loaded.Workflows {
		base.Workflows[key] = workflow
	}

	return nil
}
