// Package upstream is the HTTP client for the external image host.
//
// The host accepts an API key (or a signed capability header) and exposes
// POST / for single uploads, POST /bulk-upload for batches, and
// GET /bulk-status/{batchId} for polling. Responses are usually JSON but the
// host occasionally answers with plain text, so decoding is a tagged result:
// structured first, explicit fallback second.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pixgate/internal/platform/metrics"
	dErrors "pixgate/pkg/domain-errors"
	"pixgate/pkg/platform/circuit"
)

// File is one file to forward upstream. Content is streamed, not buffered.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// envelope is the structured shape the host returns on upload calls.
// Success is a pointer so "absent" is distinguishable from "false".
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	BatchID string          `json:"batchId"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// response is the tagged decode result: Structured carries the parsed
// envelope, otherwise Raw holds the plain-text body.
type response struct {
	Structured bool
	Envelope   envelope
	Raw        string
}

// Client talks to the image host. Safe for concurrent use; each request runs
// independently on the shared transport.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
	breaker *circuit.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMetrics records per-operation latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBreaker guards upstream calls with a circuit breaker. Transport
// failures and 5xx responses count against it; while open, calls fail fast
// instead of tying up gateway connections on a dead host.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// New creates a client for the given base URL. The API key may not be empty:
// an unauthenticated client would fail every call, so this is a configuration
// error surfaced at startup.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "upstream base URL is not configured")
	}
	if apiKey == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "upstream API key is not configured")
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		// Deadlines come from the per-call context; the service layer sets an
		// extended one for bulk forwarding since payloads can be large.
		http:   &http.Client{},
		logger: slog.Default(),
		tracer: otel.Tracer("pixgate/upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BulkEndpoint is the URL clients use for direct capability-token uploads.
func (c *Client) BulkEndpoint() string {
	return c.baseURL + "/bulk-upload"
}

// Upload forwards one file and returns the host's normalized data payload
// unchanged. expireAt, when non-nil, is an absolute unix timestamp in seconds.
func (c *Client) Upload(ctx context.Context, file File, expireAt *int64) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.Upload",
		trace.WithAttributes(attribute.Int64("upload.size_bytes", file.Size)))
	defer span.End()

	body, contentType := multipartBody(func(mw *multipart.Writer) error {
		fw, err := mw.CreateFormFile("image", file.Name)
		if err != nil {
			return err
		}
		_, err = io.Copy(fw, file.Content)
		if err != nil {
			return err
		}
		if expireAt != nil {
			return mw.WriteField("expiration", strconv.FormatInt(*expireAt, 10))
		}
		return nil
	})

	res, err := c.do(ctx, "upload", c.baseURL, body, contentType)
	if err != nil {
		return nil, err
	}

	if !res.Structured {
		return nil, dErrors.New(dErrors.CodeUpstream,
			fmt.Sprintf("upstream returned unstructured response: %.200s", res.Raw))
	}
	if res.Envelope.Success == nil || !*res.Envelope.Success {
		return nil, dErrors.New(dErrors.CodeUpstream, upstreamMessage(res.Envelope))
	}
	if len(res.Envelope.Data) > 0 {
		return res.Envelope.Data, nil
	}
	// Some host deployments return a bare object with no envelope; treat the
	// whole body as the data payload.
	return json.RawMessage(res.Raw), nil
}

// BulkUpload forwards a set of files as one batch and returns the batch
// identifier. It does not wait for processing to finish.
func (c *Client) BulkUpload(ctx context.Context, files []File, expireAt *int64) (string, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.BulkUpload",
		trace.WithAttributes(attribute.Int("upload.file_count", len(files))))
	defer span.End()

	body, contentType := multipartBody(func(mw *multipart.Writer) error {
		for _, file := range files {
			fw, err := mw.CreateFormFile("files[]", file.Name)
			if err != nil {
				return err
			}
			if _, err := io.Copy(fw, file.Content); err != nil {
				return err
			}
		}
		if expireAt != nil {
			return mw.WriteField("expiration", strconv.FormatInt(*expireAt, 10))
		}
		return nil
	})

	res, err := c.do(ctx, "bulk_upload", c.BulkEndpoint(), body, contentType)
	if err != nil {
		return "", err
	}

	if !res.Structured || res.Envelope.BatchID == "" {
		return "", dErrors.New(dErrors.CodeUpstream, "upstream did not return a batch identifier")
	}
	return res.Envelope.BatchID, nil
}

// BatchStatus fetches live per-item progress for a batch. Pure proxy: the
// structured body is relayed verbatim, never cached, never recomputed.
func (c *Client) BatchStatus(ctx context.Context, batchID string) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.BatchStatus",
		trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer span.End()

	if err := c.admit(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bulk-status/"+batchID, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build status request")
	}
	req.Header.Set("x-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	c.observe("batch_status", start)
	if err != nil {
		c.recordOutcome(true)
		return nil, wrapTransportError(err, "status check failed")
	}
	defer resp.Body.Close()
	c.recordOutcome(resp.StatusCode >= http.StatusInternalServerError)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "failed to read status response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, dErrors.New(dErrors.CodeUpstream,
			fmt.Sprintf("status fetch returned %d", resp.StatusCode))
	}
	if !json.Valid(raw) {
		return nil, dErrors.New(dErrors.CodeUpstream, "status response is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// do posts a multipart body and decodes the tagged response. A non-2xx status
// with a structured body is still returned to the caller for inspection; the
// per-operation methods decide what counts as failure.
func (c *Client) do(ctx context.Context, operation, url string, body io.Reader, contentType string) (*response, error) {
	if err := c.admit(); err != nil {
		abandonBody(body)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		abandonBody(body)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build upstream request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	c.observe(operation, start)
	if err != nil {
		c.recordOutcome(true)
		return nil, wrapTransportError(err, "upstream call failed")
	}
	defer resp.Body.Close()
	c.recordOutcome(resp.StatusCode >= http.StatusInternalServerError)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "failed to read upstream response")
	}

	decoded := decode(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, dErrors.New(dErrors.CodeUpstream,
			fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, upstreamMessage(decoded.Envelope)))
	}
	return decoded, nil
}

// decode attempts structured parsing first and falls back to tagging the body
// as plain text. The host does not always return JSON.
func decode(raw []byte) *response {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &response{Structured: false, Raw: string(raw)}
	}
	return &response{Structured: true, Envelope: env, Raw: string(raw)}
}

func upstreamMessage(env envelope) string {
	switch {
	case env.Error != "":
		return env.Error
	case env.Message != "":
		return env.Message
	default:
		return "upstream rejected the request"
	}
}

// admit fails fast when the circuit breaker is open.
func (c *Client) admit() error {
	if c.breaker != nil && !c.breaker.Allow() {
		return dErrors.New(dErrors.CodeUpstream, "image host is unavailable, request not forwarded")
	}
	return nil
}

// recordOutcome feeds the breaker. A 4xx still counts as success here: the
// host answered, it just disliked the request.
func (c *Client) recordOutcome(failed bool) {
	if c.breaker == nil {
		return
	}
	if failed {
		if c.breaker.RecordFailure() {
			c.logger.Warn("upstream circuit opened", "breaker", c.breaker.Name())
		}
		return
	}
	if c.breaker.RecordSuccess() {
		c.logger.Info("upstream circuit closed", "breaker", c.breaker.Name())
	}
}

// wrapTransportError distinguishes deadline expiry from other transport
// failures so a timed-out forward surfaces as 504, not 502.
func wrapTransportError(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg+": deadline exceeded")
	}
	return dErrors.Wrap(err, dErrors.CodeUpstream, msg)
}

// abandonBody closes a streamed multipart body that will never be sent.
// Without this, the pipe writer goroutine blocks forever on its first write
// when a request is rejected before reaching the transport.
func abandonBody(body io.Reader) {
	if pr, ok := body.(*io.PipeReader); ok {
		pr.Close()
	}
}

// multipartBody streams a multipart form through a pipe so large uploads are
// never buffered whole in gateway memory.
func multipartBody(write func(*multipart.Writer) error) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := write(mw)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func (c *Client) observe(operation string, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveUpstreamLatency(operation, time.Since(start).Seconds())
	}
}
