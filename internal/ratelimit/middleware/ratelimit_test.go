package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformMW "pixgate/internal/platform/middleware"
	"pixgate/internal/ratelimit/checker"
	"pixgate/internal/ratelimit/models"
	"pixgate/internal/ratelimit/store/bucket"
)

func newRateLimited(t *testing.T, limiter Admitter) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	mw := New(limiter, logger, nil)
	return mw.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func anonymousRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	ctx := platformMW.WithCaller(req.Context(), platformMW.Caller{})
	ctx = platformMW.WithClientIP(ctx, ip)
	return req.WithContext(ctx)
}

func TestRateLimit(t *testing.T) {
	t.Run("rejects the limit+1-th anonymous request with 429", func(t *testing.T) {
		svc, err := checker.New(bucket.NewInMemoryBucketStore())
		require.NoError(t, err)
		handler := newRateLimited(t, svc)

		// Anonymous tier allows 10 requests per minute.
		var last *httptest.ResponseRecorder
		for range 10 {
			last = httptest.NewRecorder()
			handler.ServeHTTP(last, anonymousRequest("203.0.113.9"))
			assert.Equal(t, http.StatusOK, last.Code)
		}
		assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, anonymousRequest("203.0.113.9"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "admission_denied")
	})

	t.Run("different IPs do not share a budget", func(t *testing.T) {
		svc, err := checker.New(bucket.NewInMemoryBucketStore())
		require.NoError(t, err)
		handler := newRateLimited(t, svc)

		for range 10 {
			handler.ServeHTTP(httptest.NewRecorder(), anonymousRequest("203.0.113.9"))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, anonymousRequest("198.51.100.7"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		handler := newRateLimited(t, admitterFunc(func(context.Context, models.Key, int) (*models.Result, error) {
			return nil, errors.New("store down")
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, anonymousRequest("203.0.113.9"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("sets rate limit headers on admitted requests", func(t *testing.T) {
		svc, err := checker.New(bucket.NewInMemoryBucketStore())
		require.NoError(t, err)
		handler := newRateLimited(t, svc)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, anonymousRequest("203.0.113.9"))
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})
}

type admitterFunc func(context.Context, models.Key, int) (*models.Result, error)

func (f admitterFunc) Admit(ctx context.Context, key models.Key, limit int) (*models.Result, error) {
	return f(ctx, key, limit)
}
