package resolver

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"captcha-engine/internal/correct"
	"captcha-engine/internal/ocr"
)

// session owns the per-session state: the capture dedup hash, the set of
// rejected texts, and the manual override slot. The resolution goroutine
// is the only writer of attempts; the capture fields and rejected set are
// guarded for the caller-facing surface.
type session struct {
	id string

	mu          sync.Mutex
	active      bool
	lastCapture []byte
	lastHash    [sha256.Size]byte
	rejected    map[string]struct{}

	manual chan string

	attempts int
}

func newSession(id string) *session {
	return &session{
		id:       id,
		rejected: make(map[string]struct{}),
		manual:   make(chan string, 1),
	}
}

func (s *session) tryActivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	s.attempts = 0
	return true
}

func (s *session) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *session) captureHash() [sha256.Size]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHash
}

func (s *session) setCapture(raw []byte, sum [sha256.Size]byte) {
	s.mu.Lock()
	s.lastCapture = append([]byte(nil), raw...)
	s.lastHash = sum
	s.mu.Unlock()
}

func (s *session) pendingImage() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lastCapture) == 0 {
		return nil
	}
	return append([]byte(nil), s.lastCapture...)
}

func (s *session) recordRejected(text string) {
	s.mu.Lock()
	s.rejected[text] = struct{}{}
	s.mu.Unlock()
}

func (s *session) rejectedSet() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.rejected))
	for t := range s.rejected {
		out[t] = struct{}{}
	}
	return out
}

// takeManual drains a pending manual override without blocking.
func (s *session) takeManual() (string, bool) {
	select {
	case t := <-s.manual:
		return t, true
	default:
		return "", false
	}
}

// startSession registers the session if needed and claims it for one
// resolution loop.
func (e *Engine) startSession(id string) (*session, error) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	if !ok {
		s = newSession(id)
		e.sessions[id] = s
	}
	e.mu.Unlock()

	if !s.tryActivate() {
		return nil, fmt.Errorf("session %q already has an active resolution", id)
	}
	return s, nil
}

func (e *Engine) lookup(id string) (*session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

// SubmitManualText registers an out-of-band solution for a session. The
// text must clean up to exactly the challenge length; it races the
// automatic path and wins if it arrives before automatic resolution
// completes.
func (e *Engine) SubmitManualText(sessionID, text string) error {
	cleaned := ocr.CleanText(text)
	if len(cleaned) != correct.Length {
		return fmt.Errorf("manual text must be %d characters from A-Z and 0-9", correct.Length)
	}

	s, ok := e.lookup(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}

	select {
	case s.manual <- cleaned:
		return nil
	default:
		return fmt.Errorf("manual text already pending for session %q", sessionID)
	}
}

// PendingChallengeImage returns a copy of the session's latest capture
// for showing to a human, or nil when nothing has been captured.
func (e *Engine) PendingChallengeImage(sessionID string) []byte {
	s, ok := e.lookup(sessionID)
	if !ok {
		return nil
	}
	return s.pendingImage()
}

// ClearSession drops all state held for a session, including its rejected
// text set and any unconsumed manual override.
func (e *Engine) ClearSession(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
}
