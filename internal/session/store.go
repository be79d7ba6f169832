// Package session keeps the live form instances of the service. Each
// session owns one pipeline.Orchestrator and is evicted after a period of
// inactivity.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"waitlist/internal/pipeline"
)

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = 30 * time.Minute

// ErrNotFound is returned for unknown or evicted sessions.
var ErrNotFound = errors.New("session not found")

// Factory builds the orchestrator for a new session id.
type Factory func(id string) *pipeline.Orchestrator

// Session is one mounted form.
type Session struct {
	ID           string
	Orchestrator *pipeline.Orchestrator
	CreatedAt    time.Time

	mu         sync.Mutex
	lastAccess time.Time
}

// LastAccess returns when the session was last used.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccess = now
	s.mu.Unlock()
}

// StoreConfig configures a Store.
type StoreConfig struct {
	TTL time.Duration
	// SweepInterval defaults to a quarter of TTL, at least one second.
	SweepInterval time.Duration
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Store is an in-memory session table. A background goroutine evicts
// sessions idle for longer than TTL; call Close to stop it.
type Store struct {
	factory Factory
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	done     chan struct{}
}

// NewStore starts a store and its eviction loop.
func NewStore(factory Factory, cfg StoreConfig) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = ttl / 4
		if interval < time.Second {
			interval = time.Second
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		factory:  factory,
		ttl:      ttl,
		now:      now,
		log:      cfg.Logger,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	go s.cleanup(interval)
	return s
}

// Create mounts a new form instance.
func (s *Store) Create() *Session {
	id := uuid.NewString()
	now := s.now()
	sess := &Session{ID: id, Orchestrator: s.factory(id), CreatedAt: now, lastAccess: now}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess
}

// Get returns a live session and refreshes its idle timer.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	sess.touch(s.now())
	return sess, nil
}

// Delete unmounts a session. Its orchestrator is closed, so a registration
// still in flight has its result discarded.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.Orchestrator.Close()
	}
	return ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the eviction loop and closes every session. Safe to call
// multiple times.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		all := s.sessions
		s.sessions = make(map[string]*Session)
		s.mu.Unlock()
		for _, sess := range all {
			sess.Orchestrator.Close()
		}
	})
	return nil
}

func (s *Store) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.EvictStale()
		}
	}
}

// EvictStale removes sessions idle for longer than TTL and returns how many
// were removed. A session with a submission still pending is kept.
func (s *Store) EvictStale() int {
	cutoff := s.now().Add(-s.ttl)
	var evicted []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.LastAccess().Before(cutoff) && !sess.Orchestrator.State().Pending() {
			delete(s.sessions, id)
			evicted = append(evicted, sess)
		}
	}
	s.mu.Unlock()
	for _, sess := range evicted {
		sess.Orchestrator.Close()
	}
	if len(evicted) > 0 {
		s.log.Debug().Int("count", len(evicted)).Msg("evicted idle sessions")
	}
	return len(evicted)
}
