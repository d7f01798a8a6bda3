// Package acks tracks delivery acknowledgements per (token, channel).
//
// Each channel owns an independent id space in [0, maxAckValue]. Ids are
// allocated by scanning from a wrapping candidate counter, held in a
// pending set while the batch is in flight, marked acknowledged after
// delivery, and handed out exactly once to a polling client. A background
// sweep evicts entries (and idle empty channel states) past their TTL.
package acks

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"hecrelay/internal/logging"
)

var (
	// ErrServerBusy means a channel's pending set is at capacity: the
	// downstream is not draining acks fast enough. Retriable by the client.
	ErrServerBusy = errors.New("ack window full")

	// ErrUnknownChannel means an operation referenced a (token, channel)
	// that was never registered. Always a programming error in the caller.
	ErrUnknownChannel = errors.New("ack channel not registered")

	// ErrNotPending means Acknowledge referenced an id that is not in the
	// pending set. Must never happen when Record precedes Acknowledge.
	ErrNotPending = errors.New("ack id not pending")
)

// Key identifies one ack id space.
type Key struct {
	Token   string
	Channel string
}

// Ack is one tracked acknowledgement.
type Ack struct {
	ID           int
	Acknowledged bool
	LastUsed     time.Time
}

// channelState holds one channel's id space. All fields are guarded by mu;
// the tracker's outer lock only protects the states map itself.
type channelState struct {
	mu       sync.Mutex
	next     int
	pending  map[int]*Ack
	lastUsed time.Time
}

// Config holds tracker configuration.
type Config struct {
	// MaxAckValue is the largest ack id; the id space is [0, MaxAckValue].
	MaxAckValue int

	// MaxAckAge is how long an untouched ack survives before the sweep
	// evicts it.
	MaxAckAge time.Duration

	// Now overrides the clock. Nil means time.Now; tests inject fakes.
	Now func() time.Time

	// Logger for structured logging.
	Logger *slog.Logger
}

// Tracker allocates and tracks ack ids for every registered channel.
type Tracker struct {
	maxAckValue int
	maxAckAge   time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu     sync.RWMutex
	states map[Key]*channelState
}

// New creates a Tracker.
func New(cfg Config) *Tracker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		maxAckValue: cfg.MaxAckValue,
		maxAckAge:   cfg.MaxAckAge,
		now:         now,
		logger:      logging.Default(cfg.Logger).With("component", "acks"),
		states:      make(map[Key]*channelState),
	}
}

// Register creates the channel's id space if absent. Idempotent. Must be
// called before any other operation on the same key.
func (t *Tracker) Register(token, channel string) {
	key := Key{Token: token, Channel: channel}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.states[key]; !ok {
		t.states[key] = &channelState{
			pending:  make(map[int]*Ack),
			lastUsed: t.now(),
		}
	}
}

// state looks up a channel's id space.
func (t *Tracker) state(token, channel string) (*channelState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[Key{Token: token, Channel: channel}]
	if !ok {
		return nil, ErrUnknownChannel
	}
	return s, nil
}

// Allocate reserves the next free ack id for the channel. The id is not
// yet pending: Record inserts it, so a caller can still fail while
// building the batch without leaking an entry.
//
// Returns ErrServerBusy when the pending set exceeds the id-space
// capacity, checked before scanning.
func (t *Tracker) Allocate(token, channel string) (int, error) {
	s, err := t.state(token, channel)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > t.maxAckValue {
		return 0, ErrServerBusy
	}

	// The pending set is smaller than the id space, so a free id exists.
	id := s.next
	for {
		if _, taken := s.pending[id]; !taken {
			break
		}
		id = t.wrap(id + 1)
	}

	s.next = t.wrap(id + 1)
	s.lastUsed = t.now()
	return id, nil
}

func (t *Tracker) wrap(id int) int {
	if id > t.maxAckValue {
		return 0
	}
	return id
}

// Record inserts an allocated id into the pending set, unacknowledged.
func (t *Tracker) Record(token, channel string, id int) error {
	s, err := t.state(token, channel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	s.pending[id] = &Ack{ID: id, LastUsed: now}
	s.lastUsed = now
	return nil
}

// Acknowledge marks a pending id as delivered and refreshes its TTL.
func (t *Tracker) Acknowledge(token, channel string, id int) error {
	s, err := t.state(token, channel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ack, ok := s.pending[id]
	if !ok {
		return ErrNotPending
	}
	ack.Acknowledged = true
	now := t.now()
	ack.LastUsed = now
	s.lastUsed = now
	return nil
}

// Status reports whether an id has been acknowledged. Status is read-once:
// a successful (acknowledged) read removes the entry, so a second query
// for the same id reports false. Unacknowledged ids have their TTL
// refreshed; absent ids report false without mutation.
func (t *Tracker) Status(token, channel string, id int) (bool, error) {
	s, err := t.state(token, channel)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	s.lastUsed = now

	ack, ok := s.pending[id]
	if !ok {
		return false, nil
	}
	if ack.Acknowledged {
		delete(s.pending, id)
		return true, nil
	}
	ack.LastUsed = now
	return false, nil
}

// Current returns the channel's next candidate id.
func (t *Tracker) Current(token, channel string) (int, error) {
	s, err := t.state(token, channel)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, nil
}

// Size returns the number of pending acks on the channel.
func (t *Tracker) Size(token, channel string) (int, error) {
	s, err := t.state(token, channel)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), nil
}

// Snapshot returns a copy of the channel's pending acks, keyed by id.
func (t *Tracker) Snapshot(token, channel string) (map[int]Ack, error) {
	s, err := t.state(token, channel)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]Ack, len(s.pending))
	for id, ack := range s.pending {
		out[id] = *ack
	}
	return out, nil
}

// Channels returns the number of registered channel states.
func (t *Tracker) Channels() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

// Sweep evicts acks whose TTL expired, then removes channel states that
// are empty and idle past the same TTL. Registered states are re-created
// lazily on the next Register, so state eviction is invisible to clients.
func (t *Tracker) Sweep() {
	cutoff := t.now().Add(-t.maxAckAge)
	evictedAcks := 0
	evictedStates := 0

	t.mu.Lock()
	for key, s := range t.states {
		s.mu.Lock()
		for id, ack := range s.pending {
			if !ack.LastUsed.After(cutoff) {
				delete(s.pending, id)
				evictedAcks++
			}
		}
		idle := len(s.pending) == 0 && !s.lastUsed.After(cutoff)
		s.mu.Unlock()

		if idle {
			delete(t.states, key)
			evictedStates++
		}
	}
	t.mu.Unlock()

	if evictedAcks > 0 || evictedStates > 0 {
		t.logger.Debug("ack sweep evicted entries",
			"acks", evictedAcks, "states", evictedStates)
	}
}
