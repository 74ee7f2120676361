package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "pixgate/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("caller-fixable error keeps description", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, dErrors.New(dErrors.CodeQuotaViolation, "too many files, limit is 10"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "quota_violation", body["error"])
		assert.Equal(t, "too many files, limit is 10", body["error_description"])
	})

	t.Run("server-side error hides description", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, dErrors.New(dErrors.CodeConfiguration, "DELETE_SECRET is not set"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotContains(t, body, "error_description")
	})

	t.Run("plain error maps to 500", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("boom"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestDomainCodeToHTTPStatus(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeValidation:      http.StatusBadRequest,
		dErrors.CodeQuotaViolation:  http.StatusBadRequest,
		dErrors.CodeFileTooLarge:    http.StatusRequestEntityTooLarge,
		dErrors.CodeAdmissionDenied: http.StatusTooManyRequests,
		dErrors.CodeForbidden:       http.StatusForbidden,
		dErrors.CodeUpstream:        http.StatusBadGateway,
		dErrors.CodeTimeout:         http.StatusGatewayTimeout,
		dErrors.CodeConfiguration:   http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, DomainCodeToHTTPStatus(code), string(code))
	}
}
