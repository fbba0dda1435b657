package locking

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionRegistry tracks which edit-session tokens are still open. The
// lock registry asks it whether a lock holder is alive, which replaces
// heartbeat/TTL schemes: a session that disappears without unlocking is
// reclaimed the next time somebody looks at its lock.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]sessionInfo
}

type sessionInfo struct {
	Label    string
	OpenedAt time.Time
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]sessionInfo)}
}

// Open registers a session and returns its opaque token. The label is
// what other users see ("Edited by X").
func (r *SessionRegistry) Open(label string) string {
	token := uuid.NewString()
	r.mu.Lock()
	r.sessions[token] = sessionInfo{Label: label, OpenedAt: time.Now()}
	r.mu.Unlock()
	return token
}

// Close is idempotent.
func (r *SessionRegistry) Close(token string) {
	r.mu.Lock()
	delete(r.sessions, token)
	r.mu.Unlock()
}

func (r *SessionRegistry) IsOpen(token string) bool {
	r.mu.RLock()
	_, ok := r.sessions[token]
	r.mu.RUnlock()
	return ok
}

// Label returns the display label of an open session.
func (r *SessionRegistry) Label(token string) (string, bool) {
	r.mu.RLock()
	info, ok := r.sessions[token]
	r.mu.RUnlock()
	return info.Label, ok
}
