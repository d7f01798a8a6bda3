// Package session tracks which channels each auth token has used.
//
// A session exists per token and holds the set of channels seen on it.
// Sessions are touched on every request and evicted by a background sweep
// once idle past their TTL. A single coarse lock serializes registry
// mutations: registry operations are O(1) and rare next to per-event ack
// traffic.
package session

import (
	"log/slog"
	"sync"
	"time"

	"hecrelay/internal/logging"
)

// Session is one token's channel set. All methods must be called while
// holding no registry lock; the session carries its own mutex.
type Session struct {
	Token string

	mu          sync.Mutex
	channels    map[string]struct{}
	lastTouched time.Time
}

// AddChannel adds a channel to the set. Reports whether the set changed.
func (s *Session) AddChannel(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel]; ok {
		return false
	}
	s.channels[channel] = struct{}{}
	return true
}

// HasChannel reports whether the channel is in the set.
func (s *Session) HasChannel(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channel]
	return ok
}

// RemoveChannel removes a channel. Reports whether the set changed.
func (s *Session) RemoveChannel(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel]; !ok {
		return false
	}
	delete(s.channels, channel)
	return true
}

// Channels returns a copy of the channel set.
func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for c := range s.channels {
		out = append(out, c)
	}
	return out
}

// touch refreshes the idle timer.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastTouched = now
	s.mu.Unlock()
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastTouched.After(cutoff)
}

// Config holds registry configuration.
type Config struct {
	// MaxSessionAge is how long an untouched session survives before the
	// sweep evicts it.
	MaxSessionAge time.Duration

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time

	// Logger for structured logging.
	Logger *slog.Logger
}

// Registry maps auth tokens to sessions.
type Registry struct {
	maxSessionAge time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config) *Registry {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		maxSessionAge: cfg.MaxSessionAge,
		now:           now,
		logger:        logging.Default(cfg.Logger).With("component", "sessions"),
		sessions:      make(map[string]*Session),
	}
}

// GetOrCreate returns the token's session, creating it on first use.
// The session is touched either way.
func (r *Registry) GetOrCreate(token string) *Session {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if !ok {
		s = &Session{
			Token:    token,
			channels: make(map[string]struct{}),
		}
		r.sessions[token] = s
	}
	r.mu.Unlock()

	s.touch(r.now())
	return s
}

// Get returns the token's session, or nil if the token has none.
// An existing session is touched.
func (r *Registry) Get(token string) *Session {
	r.mu.Lock()
	s := r.sessions[token]
	r.mu.Unlock()

	if s != nil {
		s.touch(r.now())
	}
	return s
}

// Remove deletes the token's session. Reports whether one existed.
func (r *Registry) Remove(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[token]; !ok {
		return false
	}
	delete(r.sessions, token)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle past MaxSessionAge.
func (r *Registry) Sweep() {
	cutoff := r.now().Add(-r.maxSessionAge)
	evicted := 0

	r.mu.Lock()
	for token, s := range r.sessions {
		if s.idleSince(cutoff) {
			delete(r.sessions, token)
			evicted++
		}
	}
	r.mu.Unlock()

	if evicted > 0 {
		r.logger.Debug("session sweep evicted sessions", "count", evicted)
	}
}
