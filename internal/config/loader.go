package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration for the project at projectDir.
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. User config (~/.drover/config.yaml) - optional
//  3. Project config (<projectDir>/.drover/config.yaml) - optional
//  4. Environment variables (DROVER_*)
func Load(projectDir string) (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, DroverDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(cfg, userPath); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	projectPath := filepath.Join(projectDir, DroverDir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		if err := mergeFromFile(cfg, projectPath); err != nil {
			return nil, err // project config errors are fatal
		}
	}

	applyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// mergeFromFile merges configuration from a YAML file into cfg.
// Only keys present in the file override the current values.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if _, ok := raw["version"]; ok {
		cfg.Version = fileCfg.Version
	}
	if _, ok := raw["max_concurrent"]; ok {
		cfg.MaxConcurrent = fileCfg.MaxConcurrent
	}
	if _, ok := raw["attempt_timeout"]; ok {
		cfg.AttemptTimeout = fileCfg.AttemptTimeout
	}
	if _, ok := raw["acquire_retries"]; ok {
		cfg.AcquireRetries = fileCfg.AcquireRetries
	}
	if _, ok := raw["worktree_dir"]; ok {
		cfg.WorktreeDir = fileCfg.WorktreeDir
	}
	if _, ok := raw["branch_prefix"]; ok {
		cfg.BranchPrefix = fileCfg.BranchPrefix
	}
	if _, ok := raw["cleanup_worktrees"]; ok {
		cfg.CleanupWorktrees = fileCfg.CleanupWorktrees
	}
	if _, ok := raw["orphan_max_age"]; ok {
		cfg.OrphanMaxAge = fileCfg.OrphanMaxAge
	}
	if _, ok := raw["sweep_interval"]; ok {
		cfg.SweepInterval = fileCfg.SweepInterval
	}
	if _, ok := raw["keep_worktree_for_review"]; ok {
		cfg.KeepWorktreeForReview = fileCfg.KeepWorktreeForReview
	}
	if _, ok := raw["executors"]; ok {
		if cfg.Executors == nil {
			cfg.Executors = make(map[string]ExecutorConfig)
		}
		for name, ec := range fileCfg.Executors {
			cfg.Executors[name] = ec
		}
	}

	return nil
}

// applyEnvVars overrides config values from DROVER_* environment variables.
func applyEnvVars(cfg *Config) {
	if v := os.Getenv("DROVER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrent = n
		}
	}
	if v := os.Getenv("DROVER_ATTEMPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AttemptTimeout = d
		}
	}
	if v := os.Getenv("DROVER_CLEANUP_WORKTREES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CleanupWorktrees = b
		}
	}
	if v := os.Getenv("DROVER_ORPHAN_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OrphanMaxAge = d
		}
	}
	if v := os.Getenv("DROVER_WORKTREE_DIR"); v != "" {
		cfg.WorktreeDir = v
	}
	if v := os.Getenv("DROVER_BRANCH_PREFIX"); v != "" {
		cfg.BranchPrefix = v
	}
}

// Save writes the configuration to the project's .drover directory.
func Save(cfg *Config, projectDir string) error {
	dir := filepath.Join(projectDir, DroverDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
