package selector

import (
	"sync"
	"time"
)

// sessionTTL is how long an idle session's affinity entry survives before
// the GC sweep reclaims it.
const sessionTTL = 2 * time.Hour

type sessionRecord struct {
	preferredAccount string
	attempted        map[string]struct{}
	lastSeen         time.Time
}

// SessionManager maps an opaque client session id to a preferred account
// (sticky affinity) and accumulates the set of accounts already tried this
// session, generalizing the teacher's StickyStrategy (which re-derives
// stickiness from a shared cursor index) into an explicit per-session map
// so affinity and per-session retry state survive interleaved sessions.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*sessionRecord
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*sessionRecord)}
}

func (s *SessionManager) get(sessionID string) *sessionRecord {
	r, ok := s.sessions[sessionID]
	if !ok {
		r = &sessionRecord{attempted: make(map[string]struct{})}
		s.sessions[sessionID] = r
	}
	r.lastSeen = time.Now()
	return r
}

// Preferred returns the sticky account for a session, if any.
func (s *SessionManager) Preferred(sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[sessionID]
	if !ok || r.preferredAccount == "" {
		return "", false
	}
	r.lastSeen = time.Now()
	return r.preferredAccount, true
}

// SetPreferred pins a session to an account, set after every successful selection.
func (s *SessionManager) SetPreferred(sessionID, email string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(sessionID).preferredAccount = email
}

// MarkAttempted records that email has already been tried this session,
// so the retry loop's next candidate pass excludes it.
func (s *SessionManager) MarkAttempted(sessionID, email string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(sessionID).attempted[email] = struct{}{}
}

// Attempted returns the set of accounts already tried this session.
func (s *SessionManager) Attempted(sessionID string) map[string]struct{} {
	if sessionID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make(map[string]struct{}, len(r.attempted))
	for k := range r.attempted {
		out[k] = struct{}{}
	}
	return out
}

// ClearFailures resets the attempted-set on a new top-level request,
// keeping only the sticky preference.
func (s *SessionManager) ClearFailures(sessionID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[sessionID]; ok {
		r.attempted = make(map[string]struct{})
	}
}

// GC evicts sessions idle for longer than sessionTTL; intended to be
// called periodically by internal/scheduler.
func (s *SessionManager) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted int
	cutoff := time.Now().Add(-sessionTTL)
	for id, r := range s.sessions {
		if r.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}
