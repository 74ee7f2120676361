package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "pixgate/pkg/domain-errors"
	"pixgate/pkg/platform/circuit"
)

type ClientSuite struct {
	suite.Suite
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) newClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	s.T().Cleanup(srv.Close)
	c, err := New(srv.URL, "test-api-key")
	s.Require().NoError(err)
	return c, srv
}

func testFile(content string) File {
	return File{
		Name:        "cat.png",
		ContentType: "image/png",
		Size:        int64(len(content)),
		Content:     strings.NewReader(content),
	}
}

func (s *ClientSuite) TestNewValidatesConfig() {
	_, err := New("", "key")
	s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))

	_, err = New("https://host", "")
	s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func (s *ClientSuite) TestUploadSuccess() {
	var gotAPIKey, gotExpiration, gotField string
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("x-api-key")
		s.Require().NoError(r.ParseMultipartForm(1 << 20))
		gotExpiration = r.FormValue("expiration")
		if _, header, err := r.FormFile("image"); err == nil {
			gotField = header.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"id":"abc123","url":"https://img/abc123.png","size":"7"}}`))
	})

	expireAt := int64(1700604800)
	data, err := c.Upload(context.Background(), testFile("PNGDATA"), &expireAt)
	s.Require().NoError(err)

	s.Equal("test-api-key", gotAPIKey)
	s.Equal("1700604800", gotExpiration)
	s.Equal("cat.png", gotField)

	var payload map[string]any
	s.Require().NoError(json.Unmarshal(data, &payload))
	s.Equal("abc123", payload["id"])
}

func (s *ClientSuite) TestUploadOmitsExpirationWhenNil() {
	var form map[string][]string
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		s.Require().NoError(r.ParseMultipartForm(1 << 20))
		form = r.MultipartForm.Value
		w.Write([]byte(`{"success":true,"data":{"id":"x"}}`))
	})

	_, err := c.Upload(context.Background(), testFile("PNGDATA"), nil)
	s.Require().NoError(err)
	s.NotContains(form, "expiration")
}

func (s *ClientSuite) TestUploadPlainTextResponse() {
	// The host sometimes answers with a mysterious "ok" instead of JSON.
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	_, err := c.Upload(context.Background(), testFile("PNGDATA"), nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *ClientSuite) TestUploadStructuredFailure() {
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"invalid image"}`))
	})

	_, err := c.Upload(context.Background(), testFile("PNGDATA"), nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	s.Contains(err.Error(), "invalid image")
}

func (s *ClientSuite) TestUploadNon2xx() {
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"success":false,"message":"overloaded"}`))
	})

	_, err := c.Upload(context.Background(), testFile("PNGDATA"), nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *ClientSuite) TestUploadTimeoutIsDistinguishable() {
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"success":true}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Upload(ctx, testFile("PNGDATA"), nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *ClientSuite) TestBulkUploadReturnsBatchID() {
	var fileCount int
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		s.Require().NoError(r.ParseMultipartForm(1 << 20))
		fileCount = len(r.MultipartForm.File["files[]"])
		w.Write([]byte(`{"success":true,"batchId":"batch-42"}`))
	})

	id, err := c.BulkUpload(context.Background(), []File{testFile("a"), testFile("b")}, nil)
	s.Require().NoError(err)
	s.Equal("batch-42", id)
	s.Equal(2, fileCount)
}

func (s *ClientSuite) TestBulkUploadMissingBatchID() {
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	})

	_, err := c.BulkUpload(context.Background(), []File{testFile("a")}, nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *ClientSuite) TestBatchStatusRelaysBodyVerbatim() {
	// Unknown fields must survive the proxy untouched.
	const body = `{"batchId":"batch-42","total":3,"completed":2,"failed":1,"percent":100,"items":[],"extra":"kept"}`
	var gotPath string
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})

	raw, err := c.BatchStatus(context.Background(), "batch-42")
	s.Require().NoError(err)
	s.Equal("/bulk-status/batch-42", gotPath)
	s.JSONEq(body, string(raw))
}

func (s *ClientSuite) TestBatchStatusUpstreamError() {
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.BatchStatus(context.Background(), "batch-42")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *ClientSuite) TestBreakerFailsFastAfterRepeated5xx() {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	s.T().Cleanup(srv.Close)

	c, err := New(srv.URL, "test-api-key",
		WithBreaker(circuit.New("image-host", circuit.WithFailureThreshold(2), circuit.WithProbeInterval(time.Hour))))
	s.Require().NoError(err)

	for i := 0; i < 2; i++ {
		_, err := c.Upload(context.Background(), testFile("PNGDATA"), nil)
		s.Require().Error(err)
	}
	s.Equal(2, hits)

	// Circuit is now open; further calls never reach the host.
	_, err = c.Upload(context.Background(), testFile("PNGDATA"), nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	s.Equal(2, hits)

	_, err = c.BatchStatus(context.Background(), "batch-42")
	s.Require().Error(err)
	s.Equal(2, hits)
}

func (s *ClientSuite) TestBreakerRejectionDoesNotLeakBodyWriters() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	s.T().Cleanup(srv.Close)

	c, err := New(srv.URL, "test-api-key",
		WithBreaker(circuit.New("image-host", circuit.WithFailureThreshold(1), circuit.WithProbeInterval(time.Hour))))
	s.Require().NoError(err)

	// Trip the breaker.
	_, err = c.Upload(context.Background(), testFile("PNGDATA"), nil)
	s.Require().Error(err)

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		_, err := c.Upload(context.Background(), testFile("PNGDATA"), nil)
		s.Require().Error(err)
		_, err = c.BulkUpload(context.Background(), []File{testFile("a")}, nil)
		s.Require().Error(err)
	}
	// Give abandoned writers a moment to unwind.
	time.Sleep(50 * time.Millisecond)

	s.LessOrEqual(runtime.NumGoroutine(), before+2,
		"rejected uploads must not leave pipe writers behind")
}

func (s *ClientSuite) TestBatchStatusRejectsNonJSON() {
	c, _ := s.newClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	})

	_, err := c.BatchStatus(context.Background(), "batch-42")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}
