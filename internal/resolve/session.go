package resolve

import (
	"sync"
)

// Session holds detection results and tier exclusions for the lifetime
// of one drover process. It is never persisted: a fresh session starts
// empty and its contents are discarded at process exit.
//
// Reads dominate; a single writer updates on first detection or on a
// runtime fallback.
type Session struct {
	mu         sync.RWMutex
	detections map[string]detection     // variant -> local probe result
	exclusions map[string]map[Tier]bool // variant -> tiers ruled out at runtime
}

type detection struct {
	path string
	ok   bool
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{
		detections: make(map[string]detection),
		exclusions: make(map[string]map[Tier]bool),
	}
}

// Detection returns the cached local probe result for a variant.
// cached is false when the variant has never been probed this session.
func (s *Session) Detection(variant string) (path string, ok, cached bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, found := s.detections[variant]
	return d.path, d.ok, found
}

// StoreDetection records a positive or negative local probe result.
func (s *Session) StoreDetection(variant, path string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections[variant] = detection{path: path, ok: ok}
}

// Exclude marks a tier as failed at runtime for a variant. Excluded
// tiers are skipped by every subsequent resolution this session.
func (s *Session) Exclude(variant string, tier Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exclusions[variant] == nil {
		s.exclusions[variant] = make(map[Tier]bool)
	}
	s.exclusions[variant][tier] = true
}

// IsExcluded reports whether a tier has been ruled out for a variant.
func (s *Session) IsExcluded(variant string, tier Tier) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exclusions[variant][tier]
}
