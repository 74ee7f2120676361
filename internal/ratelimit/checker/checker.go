package checker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pixgate/internal/ratelimit/models"
	dErrors "pixgate/pkg/domain-errors"
)

// window is fixed at one minute; policies express limits as requests per minute.
const window = time.Minute

// BucketStore is the persistence interface for rate limit counters. The store
// owns the only process-wide mutable state in the gateway and must make
// check-and-increment atomic per key. It is injected, never a package global,
// so a shared store (Redis) can replace the in-memory one without touching
// call sites.
type BucketStore interface {
	// Allow checks if a request is admitted and increments the counter.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// Service handles admission checks for upload endpoints.
type Service struct {
	buckets BucketStore
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(buckets BucketStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, fmt.Errorf("bucket store is required")
	}
	svc := &Service{
		buckets: buckets,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Admit decides whether one request under the derived key may proceed.
// Admission is independent of whether the forwarded upload later succeeds.
func (s *Service) Admit(ctx context.Context, key models.Key, requestsPerMinute int) (*models.Result, error) {
	result, err := s.buckets.Allow(ctx, key.String(), requestsPerMinute, window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
	}

	if !result.Allowed {
		s.logger.InfoContext(ctx, "rate_limit_exceeded",
			"key_class", string(key.Class),
			"limit", requestsPerMinute,
			"window_seconds", int(window.Seconds()),
			"retry_after", result.RetryAfter,
		)
	}

	return result, nil
}
