// Package service implements the upload admission gateways: single-file,
// bulk, and batch status. Validation runs against the caller's resolved
// policy; anything admitted is forwarded to the upstream host untouched.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"pixgate/internal/platform/metrics"
	"pixgate/internal/quota"
	"pixgate/internal/upstream"
	dErrors "pixgate/pkg/domain-errors"
)

const (
	defaultUploadTimeout = 30 * time.Second
	// Bulk payloads can be large; the forward deadline is extended to match.
	defaultBulkTimeout = 60 * time.Second

	millisPerDay = 24 * 60 * 60 * 1000
)

// UpstreamClient is the dependency on the image host, satisfied by
// upstream.Client.
type UpstreamClient interface {
	Upload(ctx context.Context, file upstream.File, expireAt *int64) (json.RawMessage, error)
	BulkUpload(ctx context.Context, files []upstream.File, expireAt *int64) (string, error)
	BatchStatus(ctx context.Context, batchID string) (json.RawMessage, error)
}

// Service orchestrates upload forwarding. Stateless apart from injected
// dependencies; every request is independent.
type Service struct {
	client        UpstreamClient
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	uploadTimeout time.Duration
	bulkTimeout   time.Duration
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTimeouts(upload, bulk time.Duration) Option {
	return func(s *Service) {
		if upload > 0 {
			s.uploadTimeout = upload
		}
		if bulk > 0 {
			s.bulkTimeout = bulk
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(client UpstreamClient, opts ...Option) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("upstream client is required")
	}
	s := &Service{
		client:        client,
		logger:        slog.Default(),
		now:           time.Now,
		uploadTimeout: defaultUploadTimeout,
		bulkTimeout:   defaultBulkTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upload validates one file against the policy and forwards it upstream.
// On success it returns the host's normalized payload unchanged.
func (s *Service) Upload(ctx context.Context, file upstream.File, expirationDays *int, policy quota.Policy) (json.RawMessage, error) {
	if file.Content == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "no file provided")
	}
	if file.Size > policy.MaxFileSizeBytes {
		s.countUpload("single", "rejected")
		return nil, dErrors.New(dErrors.CodeFileTooLarge,
			fmt.Sprintf("file size exceeds limit of %dMB", policy.MaxFileSizeBytes/1024/1024))
	}

	expireAt, err := s.resolveExpiry(expirationDays, policy)
	if err != nil {
		s.countUpload("single", "rejected")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	data, err := s.client.Upload(ctx, file, expireAt)
	if err != nil {
		s.countUpload("single", "upstream_error")
		return nil, err
	}

	s.countUpload("single", "success")
	if s.metrics != nil {
		s.metrics.AddUploadBytes(file.Size)
	}
	return data, nil
}

// BulkUpload validates a set of files and forwards them as one batch. The
// returned batch identifier is handed back immediately; processing continues
// upstream and clients poll BatchStatus for progress.
func (s *Service) BulkUpload(ctx context.Context, files []upstream.File, expirationDays *int, policy quota.Policy) (string, error) {
	if len(files) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "no files provided")
	}
	if len(files) > policy.MaxBulkFiles {
		s.countUpload("bulk", "rejected")
		return "", dErrors.New(dErrors.CodeQuotaViolation,
			fmt.Sprintf("too many files, limit is %d", policy.MaxBulkFiles))
	}

	// Expiration is authorized and converted once for the whole batch.
	expireAt, err := s.resolveExpiry(expirationDays, policy)
	if err != nil {
		s.countUpload("bulk", "rejected")
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.bulkTimeout)
	defer cancel()

	batchID, err := s.client.BulkUpload(ctx, files, expireAt)
	if err != nil {
		s.countUpload("bulk", "upstream_error")
		return "", err
	}

	s.countUpload("bulk", "success")
	if s.metrics != nil {
		s.metrics.BulkBatchesStarted.Inc()
		for _, f := range files {
			s.metrics.AddUploadBytes(f.Size)
		}
	}
	return batchID, nil
}

// BatchStatus relays live progress for a batch. No caching, no per-batch
// state: repeated identical calls return the same or more-advanced status.
func (s *Service) BatchStatus(ctx context.Context, batchID string) (json.RawMessage, error) {
	if batchID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "batch id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	status, err := s.client.BatchStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.BatchStatusPolls.Inc()
	}
	return status, nil
}

// resolveExpiry authorizes and converts a relative day count into the
// absolute unix-seconds timestamp the upstream host expects. The floor of
// (now_ms + days*86_400_000) / 1000 keeps "days" meaning days; dividing in
// the wrong unit here would silently change expiration semantics.
func (s *Service) resolveExpiry(expirationDays *int, policy quota.Policy) (*int64, error) {
	if expirationDays == nil {
		return nil, nil
	}
	if !policy.AllowsExpiration() {
		return nil, dErrors.New(dErrors.CodeForbidden, "custom expiration requires the pro plan")
	}
	if *expirationDays <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "expiration must be a positive number of days")
	}
	expireAt := (s.now().UnixMilli() + int64(*expirationDays)*millisPerDay) / 1000
	return &expireAt, nil
}

func (s *Service) countUpload(mode, outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementUploads(mode, outcome)
	}
}
