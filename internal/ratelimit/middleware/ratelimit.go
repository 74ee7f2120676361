package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	platformMW "pixgate/internal/platform/middleware"
	"pixgate/internal/platform/metrics"
	"pixgate/internal/quota"
	"pixgate/internal/ratelimit/models"
	"pixgate/pkg/platform/httputil"
)

// Admitter is the admission decision dependency, satisfied by checker.Service.
type Admitter interface {
	Admit(ctx context.Context, key models.Key, requestsPerMinute int) (*models.Result, error)
}

type Middleware struct {
	limiter Admitter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(limiter Admitter, logger *slog.Logger, m *metrics.Metrics) *Middleware {
	return &Middleware{
		limiter: limiter,
		logger:  logger,
		metrics: m,
	}
}

// RateLimit enforces per-caller admission on upload endpoints. The caller's
// tier decides the limit; the key is their email, their IP, or the shared
// anonymous bucket, in that order of preference.
//
// A limiter infrastructure error fails open: blocking all uploads because the
// counter store hiccuped is worse than briefly not limiting.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller := platformMW.GetCaller(ctx)
		policy := quota.Resolve(caller.Authenticated, caller.Pro)
		key := models.DeriveKey(caller.Email, platformMW.GetClientIP(ctx))

		result, err := m.limiter.Admit(ctx, key, policy.RequestsPerMinute)
		if err != nil {
			m.logger.ErrorContext(ctx, "admission check failed, allowing request",
				"error", err,
				"key_class", string(key.Class),
				"request_id", platformMW.GetRequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)

		if !result.Allowed {
			if m.metrics != nil {
				m.metrics.IncrementRateLimitRejections(string(key.Class))
			}
			writeRateLimitExceeded(w, result)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Success:    false,
		Error:      "admission_denied",
		Message:    "Rate limit exceeded. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
