package server

import (
	"fmt"
	"image"
	"os"
	"sync"

	"captcha-engine/internal/analyze"
)

// challenge holds one loaded challenge image together with the raw file
// bytes and the color profile computed at load time. Entries are immutable
// once stored.
type challenge struct {
	raw     []byte
	img     image.Image
	profile analyze.Profile
}

// challengeStore is a read-through cache of challenge files keyed by path.
// Tool calls frequently hit the same file several times in a row (load,
// analyze, candidates, solve), so decoding and profiling happen once.
type challengeStore struct {
	mu      sync.RWMutex
	entries map[string]*challenge
}

func newChallengeStore() *challengeStore {
	return &challengeStore{entries: make(map[string]*challenge)}
}

// Load returns the cached entry for path, reading and profiling the file
// on first use.
func (s *challengeStore) Load(path string) (*challenge, error) {
	s.mu.RLock()
	if c, ok := s.entries[path]; ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read challenge file: %w", err)
	}
	profile, img, err := analyze.AnalyzeBytes(raw)
	if err != nil {
		return nil, err
	}

	c := &challenge{raw: raw, img: img, profile: profile}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[path]; ok {
		return prev, nil
	}
	s.entries[path] = c
	return c, nil
}

// Evict removes a single path from the cache.
func (s *challengeStore) Evict(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// Clear drops every cached entry.
func (s *challengeStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*challenge)
}
