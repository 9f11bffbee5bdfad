// Package session provides the process-wide registry of live voice-agent
// sessions and the background sweeper that reclaims idle ones.
//
// The registry is an explicitly owned object held by the serving layer —
// not an ambient singleton. Every mutation is a single atomic insert or
// delete under one mutex, so there are no partial-update races.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxread/voxread/pkg/agent"
)

// Sentinel errors returned by Registry operations. Match with errors.Is.
var (
	// ErrDuplicateSession is returned by Register when the id is taken.
	ErrDuplicateSession = errors.New("session: duplicate session id")

	// ErrSessionNotFound is returned when no session exists for an id.
	ErrSessionNotFound = errors.New("session: session not found")
)

// NewID generates a session id, unique for the process lifetime.
func NewID() string {
	return uuid.NewString()
}

// entry is one registered session with its activity bookkeeping.
type entry struct {
	session      agent.Session
	lastActivity time.Time
}

// Registry is a concurrency-safe table of live sessions keyed by id. It is
// the sole owner of the sessions it holds: Remove and Sweep close the
// underlying connection before deleting the entry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Register inserts s under id. Returns ErrDuplicateSession if id is taken;
// ids are never reused for the process lifetime.
func (r *Registry) Register(id string, s agent.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return ErrDuplicateSession
	}
	r.entries[id] = &entry{session: s, lastActivity: r.now()}
	return nil
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (agent.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// Touch records activity on id, deferring its idle eviction.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrSessionNotFound
	}
	e.lastActivity = r.now()
	return nil
}

// Remove closes the session registered under id and deletes the entry.
// Removing an absent id reports ErrSessionNotFound but leaves the registry
// unchanged, so repeated removals are harmless.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	if err := e.session.Close(); err != nil {
		slog.Warn("session close error", "session_id", id, "err", err)
	}
	return nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep closes and removes every session whose last activity is older than
// idleThreshold relative to now, returning the number evicted. Eviction is
// log-only: it is never surfaced as a caller-facing error.
func (r *Registry) Sweep(now time.Time, idleThreshold time.Duration) int {
	r.mu.Lock()
	var evicted []string
	var sessions []agent.Session
	for id, e := range r.entries {
		if now.Sub(e.lastActivity) > idleThreshold {
			evicted = append(evicted, id)
			sessions = append(sessions, e.session)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	// Close outside the lock: a slow transport close must not block
	// registration of new sessions.
	for i, s := range sessions {
		if err := s.Close(); err != nil {
			slog.Warn("idle session close error", "session_id", evicted[i], "err", err)
		}
		slog.Info("evicted idle session", "session_id", evicted[i])
	}
	return len(evicted)
}

// Close removes and closes every registered session. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for id, e := range entries {
		if err := e.session.Close(); err != nil {
			slog.Warn("session close error", "session_id", id, "err", err)
		}
	}
}
