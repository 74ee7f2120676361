package cleanup

import (
	"context"
	"log/slog"
	"time"

	"pixgate/internal/platform/metrics"
)

// Sweeper removes expired rate limit entries. Satisfied by the in-memory
// bucket store; the Redis store expires keys itself and needs no sweeper.
type Sweeper interface {
	Sweep(ctx context.Context) (removed int, err error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service periodically sweeps the bucket store so the key map stays bounded.
// Rate limit entries are never deleted on the request path; without this
// worker the map grows with every distinct caller ever seen.
type Service struct {
	store    Sweeper
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
}

func New(store Sweeper, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   slog.Default(),
		interval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the sweep loop until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			removed, err := s.RunOnce(ctx)
			duration := time.Since(start)

			if err != nil {
				s.logger.Error("ratelimit_sweep_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				if s.metrics != nil {
					s.metrics.IncrementCleanupRuns("error")
					s.metrics.ObserveCleanupDuration(duration.Seconds())
				}
				continue
			}

			s.logger.Info("ratelimit_sweep_completed",
				"entries_removed", removed,
				"duration_ms", duration.Milliseconds(),
			)
			if s.metrics != nil {
				s.metrics.IncrementCleanupRuns("success")
				s.metrics.AddCleanupEntriesRemoved(removed)
				s.metrics.ObserveCleanupDuration(duration.Seconds())
			}

		case <-ctx.Done():
			s.logger.Info("ratelimit sweep worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep. Logging is handled by the caller (Start).
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx)
}
