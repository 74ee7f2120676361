package bucket

import (
	"context"
	"sync"
	"time"

	"pixgate/internal/ratelimit/models"
)

// InMemoryBucketStore implements BucketStore with per-key fixed windows.
// Check-and-increment is atomic under one mutex, so concurrent requests from
// the same key can never admit more than the configured limit. For
// multi-instance deployments use RedisBucketStore instead.
type InMemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*fixedWindow
	now     func() time.Time
}

// fixedWindow is a single key's counter. The window is caller-relative: it
// starts on the first request and resets on the first request at or after
// windowResetAt, not on calendar-minute boundaries.
type fixedWindow struct {
	count         int
	windowResetAt time.Time
}

// Option configures an InMemoryBucketStore.
type Option func(*InMemoryBucketStore)

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryBucketStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemoryBucketStore creates a new in-memory bucket store.
func NewInMemoryBucketStore(opts ...Option) *InMemoryBucketStore {
	s := &InMemoryBucketStore{
		buckets: make(map[string]*fixedWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow checks whether a request under key is admitted and increments the
// counter. Exactly limit requests pass within one window; the limit+1-th is
// rejected until the window resets.
func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.buckets[key]
	if !ok || !now.Before(w.windowResetAt) {
		w = &fixedWindow{count: 1, windowResetAt: now.Add(window)}
		s.buckets[key] = w
		return result(true, limit, w, now), nil
	}

	if w.count < limit {
		w.count++
		return result(true, limit, w, now), nil
	}

	return result(false, limit, w, now), nil
}

// Sweep removes entries whose window has expired and returns how many were
// removed. Entries are never deleted on the request path, so without periodic
// sweeps the map grows with the number of distinct keys ever seen.
func (s *InMemoryBucketStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, w := range s.buckets {
		if !now.Before(w.windowResetAt) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked keys. Used by tests and the sweeper log.
func (s *InMemoryBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func result(allowed bool, limit int, w *fixedWindow, now time.Time) *models.Result {
	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	retryAfter := 0
	if !allowed {
		retryAfter = int(w.windowResetAt.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
	}
	return &models.Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    w.windowResetAt,
		RetryAfter: retryAfter,
	}
}
