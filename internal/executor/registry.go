package executor

import (
	"log/slog"
	"os"

	"github.com/kvasey/drover/internal/config"
)

// Registry dispatches the per-variant behaviors: command profiles,
// invocation building, and outcome interpretation.
type Registry struct {
	cfg    *config.Config
	logger *slog.Logger
	home   string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithHomeDir overrides the home directory used for settings lookup.
func WithHomeDir(dir string) RegistryOption {
	return func(r *Registry) { r.home = dir }
}

// NewRegistry creates a registry over the given configuration.
func NewRegistry(cfg *config.Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:    cfg,
		logger: slog.Default(),
	}
	if home, err := os.UserHomeDir(); err == nil {
		r.home = home
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}
