// Package resolve locates runnable commands for assistant variants.
//
// Resolution walks a fixed priority chain: an operator-configured path,
// a locally detected install, then a remote bootstrap launcher that
// needs no local install. Detection results are cached per session so a
// variant is probed at most once unless a resolved command later fails
// at runtime, in which case the failing tier is excluded and the chain
// is walked once more.
package resolve

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	droverr "github.com/kvasey/drover/internal/errors"
)

// Tier identifies where a command was resolved from.
type Tier string

const (
	// TierConfigured is an operator-specified executable path.
	TierConfigured Tier = "configured"
	// TierLocal is a locally detected install (PATH or well-known location).
	TierLocal Tier = "local"
	// TierRemote is the bootstrap launcher requiring no local install.
	TierRemote Tier = "remote-fallback"
	// TierNone marks "no tier excluded" for Resolve calls.
	TierNone Tier = ""
)

// Profile describes how to locate one assistant variant's command.
type Profile struct {
	// Name keys the session cache; one entry per assistant variant.
	Name string

	// ConfiguredPath, when non-empty, wins unconditionally. No existence
	// probe is performed beyond attempting the invocation.
	ConfiguredPath string

	// BinaryNames are searched on PATH, in order.
	BinaryNames []string

	// WellKnownPaths are fixed install locations probed after PATH.
	// A leading ~ is expanded to the home directory.
	WellKnownPaths []string

	// Remote is the bootstrap launcher invocation (argv form).
	Remote []string
}

// Command is a resolved, runnable invocation.
type Command struct {
	Path string
	Args []string
	Tier Tier

	// CacheKey is the variant identity the session cache is scoped to.
	CacheKey string
}

// Resolver resolves profiles to commands.
type Resolver struct {
	logger     *slog.Logger
	lookPath   func(file string) (string, error)
	fileExists func(path string) bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithLookPath overrides PATH lookup. Used in tests.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Resolver) { r.lookPath = fn }
}

// WithFileExists overrides well-known-location probing. Used in tests.
func WithFileExists(fn func(string) bool) Option {
	return func(r *Resolver) { r.fileExists = fn }
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		logger:     slog.Default(),
		lookPath:   exec.LookPath,
		fileExists: fileExists,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the highest-priority runnable command for the profile.
func (r *Resolver) Resolve(p Profile, sess *Session) (Command, error) {
	return r.ResolveExcluding(p, sess, TierNone)
}

// ResolveExcluding walks the tier chain skipping the excluded tier.
// Used for the one-shot runtime fallback after a launcher-level failure:
// the tier that just failed is excluded and the next one is tried.
func (r *Resolver) ResolveExcluding(p Profile, sess *Session, excluded Tier) (Command, error) {
	if excluded != TierNone {
		sess.Exclude(p.Name, excluded)
	}

	if p.ConfiguredPath != "" && !sess.IsExcluded(p.Name, TierConfigured) {
		r.logger.Info("using configured assistant path", "variant", p.Name, "path", p.ConfiguredPath)
		return Command{Path: p.ConfiguredPath, Tier: TierConfigured, CacheKey: p.Name}, nil
	}

	if !sess.IsExcluded(p.Name, TierLocal) {
		if path, ok := r.detectLocal(p, sess); ok {
			return Command{Path: path, Tier: TierLocal, CacheKey: p.Name}, nil
		}
	}

	if len(p.Remote) > 0 && !sess.IsExcluded(p.Name, TierRemote) {
		r.logger.Info("falling back to remote launcher", "variant", p.Name, "launcher", p.Remote[0])
		return Command{Path: p.Remote[0], Args: p.Remote[1:], Tier: TierRemote, CacheKey: p.Name}, nil
	}

	return Command{}, droverr.New(droverr.CodeResolutionExhausted, "no command tier available").
		WithWhy("variant "+p.Name+" has no remaining resolution tier").
		WithFix("install the assistant locally or set executors." + p.Name + ".path in config")
}

// detectLocal probes PATH and the well-known install locations, caching
// the positive or negative result for the rest of the session.
func (r *Resolver) detectLocal(p Profile, sess *Session) (string, bool) {
	if path, ok, cached := sess.Detection(p.Name); cached {
		return path, ok
	}

	for _, name := range p.BinaryNames {
		if path, err := r.lookPath(name); err == nil {
			r.logger.Info("detected local assistant on PATH", "variant", p.Name, "path", path)
			sess.StoreDetection(p.Name, path, true)
			return path, true
		}
	}

	for _, candidate := range p.WellKnownPaths {
		expanded := expandTilde(candidate)
		if r.fileExists(expanded) {
			r.logger.Info("found assistant at well-known location", "variant", p.Name, "path", expanded)
			sess.StoreDetection(p.Name, expanded, true)
			return expanded, true
		}
	}

	sess.StoreDetection(p.Name, "", false)
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
