package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kvasey/drover/internal/config"
	"github.com/kvasey/drover/internal/executor"
	"github.com/kvasey/drover/internal/git"
	"github.com/kvasey/drover/internal/orchestrator"
	"github.com/kvasey/drover/internal/task"
)

const storeFileName = "drover.db"

func projectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return dir, nil
}

func droverDir(projectDir string) string {
	return filepath.Join(projectDir, config.DroverDir)
}

// requireInit fails with a hint when drover has not been initialized in
// the project.
func requireInit(projectDir string) error {
	if _, err := os.Stat(droverDir(projectDir)); os.IsNotExist(err) {
		return fmt.Errorf("drover not initialized here, run 'drover init' first")
	}
	return nil
}

func loadConfig(projectDir string) (*config.Config, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(projectDir string) (*task.SQLiteStore, error) {
	return task.OpenSQLite(filepath.Join(droverDir(projectDir), storeFileName))
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildOrchestrator wires the full pipeline for the current project.
func buildOrchestrator(projectDir string, cfg *config.Config, store task.Store, logger *slog.Logger, opts ...orchestrator.OrchestratorOption) (*orchestrator.Orchestrator, error) {
	gitCtx, err := git.NewContext(projectDir)
	if err != nil {
		return nil, err
	}
	manager := git.NewManager(gitCtx,
		git.WithWorktreesDir(cfg.ResolveWorktreeDir(projectDir)),
		git.WithPrefix(cfg.BranchPrefix),
		git.WithCleanup(cfg.CleanupWorktrees),
		git.WithKeepOnSuccess(cfg.KeepWorktreeForReview),
		git.WithManagerLogger(logger))

	registry := executor.NewRegistry(cfg, executor.WithRegistryLogger(logger))

	opts = append([]orchestrator.OrchestratorOption{orchestrator.WithLogger(logger)}, opts...)
	return orchestrator.New(cfg, store, manager, registry, opts...), nil
}
