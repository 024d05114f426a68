// Package kvstore implements the server's shared in-memory map: a
// mutex-guarded value store with a secondary TTL deadline index and a
// background sweeper that reclaims expired entries.
package kvstore

import (
	"context"
	"sync"
	"time"

	"github.com/kstaniek/resp-kv-server/internal/metrics"
)

const defaultIdleSweep = 5 * time.Second

type entry struct {
	value    []byte
	deadline time.Time // zero value means no TTL
}

// Store is a thread-safe key/value map with optional per-key TTL.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry

	wake chan struct{} // single-slot, non-blocking: coalesces sweeper wakes

	now func() time.Time
}

// New constructs an empty Store. Get hides expired entries on its own;
// callers must also start Run in a goroutine for expired entries to be
// removed from memory.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Get returns the value for key, or (nil, false) if the key is absent
// or its deadline has passed. The deadline is checked inline so a
// caller never observes a logically-expired value even if the sweeper
// has not yet run.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.expired(e) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, replacing any prior entry. When ttl is
// non-nil a new deadline of now()+*ttl is installed; when ttl is nil
// the key has no expiration. The sweeper is woken whenever the new
// deadline situation could move the earliest wake time earlier.
func (s *Store) Set(key string, value []byte, ttl *time.Duration) {
	s.mu.Lock()

	prev, hadPrev := s.entries[key]
	var deadline time.Time
	if ttl != nil {
		deadline = s.now().Add(*ttl)
	}
	s.entries[key] = entry{value: value, deadline: deadline}

	wokenNeeded := false
	if ttl != nil && (!hadPrev || prev.deadline.IsZero() || deadline.Before(prev.deadline)) {
		wokenNeeded = true
	}
	if ttl == nil && hadPrev && !prev.deadline.IsZero() {
		wokenNeeded = true
	}
	s.mu.Unlock()

	if wokenNeeded {
		s.notifySweeper()
	}
}

// Stats is a point-in-time snapshot used by the metrics logger.
type Stats struct {
	Keys     int
	Expiring int
}

// Stats returns the current key count and how many keys carry a TTL.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Keys: len(s.entries)}
	for _, e := range s.entries {
		if !e.deadline.IsZero() {
			st.Expiring++
		}
	}
	return st
}

func (s *Store) expired(e entry) bool {
	return !e.deadline.IsZero() && e.deadline.Before(s.now())
}

func (s *Store) notifySweeper() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the expiration sweeper until ctx is cancelled. It is
// meant to be started once, in its own goroutine, alongside the
// Store's lifetime.
func (s *Store) Run(ctx context.Context) {
	timer := time.NewTimer(defaultIdleSweep)
	defer timer.Stop()

	for {
		wait := s.sweepOnce()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// sweepOnce removes every expired entry and returns how long to sleep
// before the next necessary sweep.
func (s *Store) sweepOnce() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var earliest time.Time
	reclaimed := 0

	for key, e := range s.entries {
		if e.deadline.IsZero() {
			continue
		}
		if e.deadline.Before(now) {
			delete(s.entries, key)
			reclaimed++
			continue
		}
		if earliest.IsZero() || e.deadline.Before(earliest) {
			earliest = e.deadline
		}
	}

	if reclaimed > 0 {
		metrics.AddExpirations(reclaimed)
	}

	if earliest.IsZero() {
		return defaultIdleSweep
	}
	if d := earliest.Sub(now); d > 0 {
		return d
	}
	return 0
}
