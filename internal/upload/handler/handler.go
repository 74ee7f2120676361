// Package handler is the HTTP surface of the upload gateway. It parses
// multipart requests, resolves the caller's policy, and delegates to the
// upload service; no admission logic lives here.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pixgate/internal/captoken"
	platformMW "pixgate/internal/platform/middleware"
	"pixgate/internal/platform/metrics"
	"pixgate/internal/quota"
	"pixgate/internal/upstream"
	dErrors "pixgate/pkg/domain-errors"
	"pixgate/pkg/platform/httputil"
)

// parseMemoryLimit caps how much of a multipart body is held in memory while
// parsing; larger parts spill to temp files.
const parseMemoryLimit = 10 << 20

// UploadService is the admission and forwarding dependency, satisfied by
// service.Service.
type UploadService interface {
	Upload(ctx context.Context, file upstream.File, expirationDays *int, policy quota.Policy) (json.RawMessage, error)
	BulkUpload(ctx context.Context, files []upstream.File, expirationDays *int, policy quota.Policy) (string, error)
	BatchStatus(ctx context.Context, batchID string) (json.RawMessage, error)
}

// TokenIssuer mints capability tokens, satisfied by captoken.Issuer.
type TokenIssuer interface {
	Issue() (captoken.Token, error)
}

type Handler struct {
	uploads      UploadService
	tokens       TokenIssuer
	bulkEndpoint string
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// New creates a Handler. bulkEndpoint is the upstream URL handed to clients
// alongside a capability token for direct bulk uploads.
func New(uploads UploadService, tokens TokenIssuer, bulkEndpoint string, opts ...Option) *Handler {
	h := &Handler{
		uploads:      uploads,
		tokens:       tokens,
		bulkEndpoint: bulkEndpoint,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the admission-controlled routes: uploads spend the
// caller's rate limit budget, and so does token issuance.
func (h *Handler) Register(r chi.Router) {
	r.Post("/upload", h.handleUpload)
	r.Post("/bulk-upload", h.handleBulkUpload)
	r.Get("/upload-token", h.handleUploadToken)
}

// RegisterStatus mounts the polling endpoint separately. Clients poll batch
// progress on second intervals, so it must not consume upload admission
// budget or be cut off mid-batch by the limiter.
func (h *Handler) RegisterStatus(r chi.Router) {
	r.Get("/bulk-status/{batchId}", h.handleBatchStatus)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := platformMW.GetCaller(ctx)
	policy := quota.Resolve(caller.Authenticated, caller.Pro)

	if err := r.ParseMultipartForm(parseMemoryLimit); err != nil {
		h.writeError(ctx, w, parseFormError(err))
		return
	}
	defer cleanupForm(r)

	expirationDays, err := parseExpiration(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, dErrors.New(dErrors.CodeValidation, "no file provided"))
		return
	}
	defer file.Close()

	data, err := h.uploads.Upload(ctx, toUpstreamFile(file, header), expirationDays, policy)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}

func (h *Handler) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := platformMW.GetCaller(ctx)
	policy := quota.Resolve(caller.Authenticated, caller.Pro)

	if err := r.ParseMultipartForm(parseMemoryLimit); err != nil {
		h.writeError(ctx, w, parseFormError(err))
		return
	}
	defer cleanupForm(r)

	expirationDays, err := parseExpiration(r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	headers := r.MultipartForm.File["files[]"]
	files := make([]upstream.File, 0, len(headers))
	openFiles := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range openFiles {
			f.Close()
		}
	}()
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			h.writeError(ctx, w, dErrors.Wrap(err, dErrors.CodeValidation, "failed to read uploaded file"))
			return
		}
		openFiles = append(openFiles, f)
		files = append(files, toUpstreamFile(f, header))
	}

	batchID, err := h.uploads.BulkUpload(ctx, files, expirationDays, policy)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"batchId": batchID,
		"message": "Batch upload started",
	})
}

// handleBatchStatus proxies live batch progress. The no-store directive keeps
// intermediaries from serving a stale percentage to a polling client.
func (h *Handler) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.uploads.BatchStatus(ctx, chi.URLParam(r, "batchId"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(status)
}

// handleUploadToken mints a capability token for direct-to-upstream uploads.
// Anonymous callers are refused: the token bypasses the gateway's body
// limits, so it is reserved for signed-in users.
func (h *Handler) handleUploadToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := platformMW.GetCaller(ctx)

	if !caller.Authenticated {
		h.writeError(ctx, w, dErrors.New(dErrors.CodeUnauthorized, "sign in to request an upload token"))
		return
	}

	token, err := h.tokens.Issue()
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TokensIssued.Inc()
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": token.Timestamp,
		"signature": token.Signature,
		"endpoint":  h.bulkEndpoint,
	})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.HasCode(err, dErrors.CodeUpstream) ||
		dErrors.HasCode(err, dErrors.CodeTimeout) ||
		dErrors.HasCode(err, dErrors.CodeConfiguration) ||
		dErrors.HasCode(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, "upload request failed",
			"error", err,
			"request_id", platformMW.GetRequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

// parseFormError classifies multipart parse failures. A tripped transport
// body limit surfaces as http.MaxBytesError and is a size violation, not a
// malformed request.
func parseFormError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return dErrors.Wrap(err, dErrors.CodeFileTooLarge,
			fmt.Sprintf("request body exceeds limit of %d bytes", maxBytes.Limit))
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, "request body is not valid multipart form data")
}

// parseExpiration reads the optional expiration form field as a day count.
// Absent means no expiration; present but non-numeric is a client error.
func parseExpiration(r *http.Request) (*int, error) {
	raw := r.FormValue("expiration")
	if raw == "" {
		return nil, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "expiration must be a whole number of days")
	}
	return &days, nil
}

func toUpstreamFile(f multipart.File, header *multipart.FileHeader) upstream.File {
	return upstream.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     f,
	}
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}
