// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/telekom/admission-gateway/pkg/metrics"
)

// DefaultWindow is the trailing duration requests are counted over.
const DefaultWindow = 60 * time.Second

// ErrStoreUnavailable marks failures of the backing store. Callers must treat
// them as a closed gate.
var ErrStoreUnavailable = errors.New("window store unavailable")

// Admission is the outcome of an atomic count-then-record.
type Admission struct {
	// Count is the number of requests in the window before this one.
	Count int
	// Admitted reports whether the request was recorded.
	Admitted bool
	// RetryAfter is the time until the oldest entry leaves the window. Zero when admitted.
	RetryAfter time.Duration
}

// WindowStore keeps, per identity, the timestamps of admitted requests inside
// a trailing window.
type WindowStore interface {
	// Prune drops timestamps that are at least one window old.
	Prune(ctx context.Context, identity string, now time.Time) error
	// Count prunes and returns the number of remaining timestamps.
	Count(ctx context.Context, identity string, now time.Time) (int, error)
	// Record appends now to the identity's window. Only call after admission was granted.
	Record(ctx context.Context, identity string, now time.Time) error
	// Admit prunes, counts and records now if the count is below limit, atomically per identity.
	Admit(ctx context.Context, identity string, now time.Time, limit int) (Admission, error)
	// Window returns the configured trailing duration.
	Window() time.Duration
	// Backend names the implementation for logs and metrics.
	Backend() string
}

const shardCount = 64

type windowShard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// MemoryWindowStore is a process-local WindowStore. State is lost on restart.
// Identities are spread over shards by hash so that unrelated callers don't
// contend on one mutex.
type MemoryWindowStore struct {
	window        time.Duration
	sweepInterval time.Duration
	shards        [shardCount]*windowShard
	done          chan struct{}
	stopOnce      sync.Once
}

// NewMemoryWindowStore creates an empty store. A non-positive window falls back to DefaultWindow.
func NewMemoryWindowStore(window time.Duration) *MemoryWindowStore {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &MemoryWindowStore{
		window:        window,
		sweepInterval: window,
		done:          make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &windowShard{windows: make(map[string][]time.Time)}
	}
	return s
}

func (s *MemoryWindowStore) Window() time.Duration { return s.window }

func (s *MemoryWindowStore) Backend() string { return "memory" }

func (s *MemoryWindowStore) shardFor(identity string) *windowShard {
	return s.shards[xxhash.Sum64String(identity)%shardCount]
}

// pruneLocked drops expired entries of one identity. Caller holds the shard lock.
func (s *MemoryWindowStore) pruneLocked(sh *windowShard, identity string, now time.Time) []time.Time {
	ts, ok := sh.windows[identity]
	if !ok {
		return nil
	}
	cutoff := now.Add(-s.window)
	// first entry strictly newer than cutoff survives
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	if i == len(ts) {
		delete(sh.windows, identity)
		return nil
	}
	if i > 0 {
		ts = append(ts[:0], ts[i:]...)
		sh.windows[identity] = ts
	}
	return ts
}

func (s *MemoryWindowStore) recordLocked(sh *windowShard, identity string, now time.Time) {
	ts := sh.windows[identity]
	n := len(ts)
	if n == 0 || !now.Before(ts[n-1]) {
		sh.windows[identity] = append(ts, now)
		return
	}
	// clock stepped backwards: keep the slice ordered
	i := sort.Search(n, func(i int) bool { return ts[i].After(now) })
	ts = append(ts, time.Time{})
	copy(ts[i+1:], ts[i:])
	ts[i] = now
	sh.windows[identity] = ts
}

func (s *MemoryWindowStore) Prune(_ context.Context, identity string, now time.Time) error {
	sh := s.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s.pruneLocked(sh, identity, now)
	return nil
}

func (s *MemoryWindowStore) Count(_ context.Context, identity string, now time.Time) (int, error) {
	sh := s.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(s.pruneLocked(sh, identity, now)), nil
}

func (s *MemoryWindowStore) Record(_ context.Context, identity string, now time.Time) error {
	sh := s.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s.recordLocked(sh, identity, now)
	return nil
}

func (s *MemoryWindowStore) Admit(_ context.Context, identity string, now time.Time, limit int) (Admission, error) {
	sh := s.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts := s.pruneLocked(sh, identity, now)
	if len(ts) >= limit {
		var retry time.Duration
		if len(ts) > 0 {
			retry = ts[0].Add(s.window).Sub(now)
		}
		return Admission{Count: len(ts), RetryAfter: retry}, nil
	}
	s.recordLocked(sh, identity, now)
	return Admission{Count: len(ts), Admitted: true}, nil
}

// Len returns the number of tracked identities (for testing/metrics).
func (s *MemoryWindowStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}

// Sweep prunes every identity and forgets those left with an empty window.
// It returns the number of identities removed.
func (s *MemoryWindowStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for identity := range sh.windows {
			if s.pruneLocked(sh, identity, now) == nil {
				removed++
			}
		}
		sh.mu.Unlock()
	}
	metrics.WindowStoreSwept.WithLabelValues(s.Backend()).Add(float64(removed))
	metrics.WindowStoreIdentities.WithLabelValues(s.Backend()).Set(float64(s.Len()))
	return removed
}

// Start runs the janitor until ctx is done or Stop is called.
func (s *MemoryWindowStore) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case now := <-ticker.C:
				s.Sweep(now)
			}
		}
	}()
}

// Stop stops the janitor goroutine. Safe to call more than once.
func (s *MemoryWindowStore) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
