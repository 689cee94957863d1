// Package config provides configuration management for drover.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// DroverDir is the drover configuration directory.
	DroverDir = ".drover"
	// DefaultWorktreeDir is where attempt worktrees are created,
	// relative to the repository root.
	DefaultWorktreeDir = ".worktrees"
	// DefaultBranchPrefix namespaces attempt branches.
	DefaultBranchPrefix = "drover"
)

// ExecutorConfig holds per-assistant-variant settings.
type ExecutorConfig struct {
	// Path is an operator-specified executable path. When set, command
	// resolution uses it unconditionally as the first tier.
	Path string `yaml:"path,omitempty"`

	// Model passed through to the assistant CLI when it supports one.
	Model string `yaml:"model,omitempty"`
}

// Config represents the drover configuration.
type Config struct {
	// Version is the config file version.
	Version int `yaml:"version"`

	// MaxConcurrent is the number of execution slots (default 4).
	MaxConcurrent int `yaml:"max_concurrent"`

	// AttemptTimeout is the hard per-attempt timeout (0 = unlimited).
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// AcquireRetries is how many times a task returns to the queue after
	// worktree acquisition fails before it is marked failed.
	AcquireRetries int `yaml:"acquire_retries"`

	// Worktree settings
	WorktreeDir  string `yaml:"worktree_dir"`
	BranchPrefix string `yaml:"branch_prefix"`

	// CleanupWorktrees controls whether worktrees are removed after a
	// terminal attempt and whether the orphan sweep deletes anything.
	// Disable to keep worktrees around for post-mortem debugging.
	CleanupWorktrees bool `yaml:"cleanup_worktrees"`

	// OrphanMaxAge is the minimum age before the sweep reclaims an
	// orphaned worktree.
	OrphanMaxAge time.Duration `yaml:"orphan_max_age"`

	// SweepInterval enables the periodic orphan sweep when > 0.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// KeepWorktreeForReview leaves successful worktrees in place after
	// the diff artifact is produced, for post-hoc review.
	KeepWorktreeForReview bool `yaml:"keep_worktree_for_review"`

	// Executors maps variant name (claude, claude-plan, gemini, codex)
	// to its settings. claude-plan inherits the claude entry unless it
	// has one of its own.
	Executors map[string]ExecutorConfig `yaml:"executors,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version:          1,
		MaxConcurrent:    4,
		AttemptTimeout:   0,
		AcquireRetries:   2,
		WorktreeDir:      DefaultWorktreeDir,
		BranchPrefix:     DefaultBranchPrefix,
		CleanupWorktrees: true,
		OrphanMaxAge:     1 * time.Hour,
		SweepInterval:    0,
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.AcquireRetries < 0 {
		return fmt.Errorf("acquire_retries must be >= 0, got %d", c.AcquireRetries)
	}
	if c.OrphanMaxAge < 0 {
		return fmt.Errorf("orphan_max_age must be >= 0, got %s", c.OrphanMaxAge)
	}
	return nil
}

// Executor returns the settings for a variant, or a zero value when the
// variant has no explicit configuration.
func (c *Config) Executor(variant string) ExecutorConfig {
	if c.Executors == nil {
		return ExecutorConfig{}
	}
	return c.Executors[variant]
}

// ResolveWorktreeDir returns the absolute worktree directory for a
// project rooted at projectDir.
func (c *Config) ResolveWorktreeDir(projectDir string) string {
	dir := c.WorktreeDir
	if dir == "" {
		dir = DefaultWorktreeDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(projectDir, dir)
}
