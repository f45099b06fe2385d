package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/tincan"
)

const StoreName = "memory"

func init() {
	if err := tincan.RegisterStore(StoreName, func(cfg map[string]any) (tincan.Store, error) {
		return NewStore(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("tincan/memory: failed to register store: %w", err))
	}
}

// Config controls memory store behavior.
type Config struct {
	// Now supplies the time used for key expiry (default: time.Now).
	Now func() time.Time
}

func ConfigFromMap(cfg map[string]any) Config {
	c := Config{Now: time.Now}
	if v, ok := cfg["now"].(func() time.Time); ok && v != nil {
		c.Now = v
	}
	return c
}

// Store implements tincan.Store and tincan.Inspector in process memory
// (dev/testing). Lists, sets and values live in separate key spaces.
type Store struct {
	cfg Config

	mu     sync.Mutex
	lists  map[string][]string
	sets   map[string]map[string]struct{}
	values map[string]entry
	// changed is closed and replaced on every push to wake blocked pops.
	changed chan struct{}
	done    chan struct{}

	closed atomic.Bool

	metrics *storeMetrics
}

type entry struct {
	value     string
	expiresAt time.Time
}

type storeMetrics struct {
	pushed atomic.Uint64
	popped atomic.Uint64
}

var (
	_ tincan.Store     = (*Store)(nil)
	_ tincan.Inspector = (*Store)(nil)
)

// NewStore creates a new in-memory store.
func NewStore(cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		cfg:     cfg,
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		values:  make(map[string]entry),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
		metrics: &storeMetrics{},
	}
}

func (s *Store) AddMember(_ context.Context, key, member string) error {
	if s.closed.Load() {
		return tincan.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *Store) Members(_ context.Context, key string) ([]string, error) {
	if s.closed.Load() {
		return nil, tincan.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Push(_ context.Context, key string, values ...string) error {
	if s.closed.Load() {
		return tincan.ErrStoreClosed
	}
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	s.lists[key] = append(s.lists[key], values...)
	// Wake every blocked pop; they re-scan under the lock.
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	s.metrics.pushed.Add(uint64(len(values)))
	return nil
}

// BlockingPop scans keys in order and pops the first available head,
// otherwise waits for the next push.
func (s *Store) BlockingPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if s.closed.Load() {
			return "", "", tincan.ErrStoreClosed
		}

		s.mu.Lock()
		for _, k := range keys {
			if l := s.lists[k]; len(l) > 0 {
				v := l[0]
				if len(l) == 1 {
					delete(s.lists, k)
				} else {
					s.lists[k] = l[1:]
				}
				s.mu.Unlock()
				s.metrics.popped.Add(1)
				return k, v, nil
			}
		}
		wait := s.changed
		s.mu.Unlock()

		select {
		case <-wait:
		case <-s.done:
			return "", "", tincan.ErrStoreClosed
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-deadline:
			return "", "", tincan.ErrPopTimeout
		}
	}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	if s.closed.Load() {
		return "", tincan.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok {
		return "", tincan.ErrNotFound
	}
	if !e.expiresAt.IsZero() && !s.cfg.Now().Before(e.expiresAt) {
		delete(s.values, key)
		return "", tincan.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if s.closed.Load() {
		return tincan.ErrStoreClosed
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.cfg.Now().Add(ttl)
	}
	s.mu.Lock()
	s.values[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes key from every key space.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.lists, key)
	delete(s.sets, key)
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Pop(_ context.Context, key string) (string, error) {
	if s.closed.Load() {
		return "", tincan.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[key]
	if len(l) == 0 {
		return "", tincan.ErrNotFound
	}
	if len(l) == 1 {
		delete(s.lists, key)
	} else {
		s.lists[key] = l[1:]
	}
	s.metrics.popped.Add(1)
	return l[0], nil
}

// Range follows LRANGE index semantics, including negative indexes.
func (s *Store) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	if s.closed.Load() {
		return nil, tincan.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (s *Store) Ping(_ context.Context) error {
	if s.closed.Load() {
		return tincan.ErrStoreClosed
	}
	return nil
}

// Close gracefully shuts down the store and wakes blocked pops.
func (s *Store) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}
	close(s.done)
	return nil
}

// Stats returns store telemetry.
type Stats struct {
	Pushed uint64
	Popped uint64
}

// Stats returns current store metrics.
func (s *Store) Stats() Stats {
	return Stats{
		Pushed: s.metrics.pushed.Load(),
		Popped: s.metrics.popped.Load(),
	}
}
