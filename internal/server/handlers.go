package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Marshal-AM/fireglobe/internal/ctxutil"
	"github.com/Marshal-AM/fireglobe/internal/ipfs"
	"github.com/Marshal-AM/fireglobe/internal/model"
	"github.com/Marshal-AM/fireglobe/internal/service/relay"
	"github.com/Marshal-AM/fireglobe/internal/storage"
)

// RelayService is the business logic behind the HTTP API.
// *relay.Service satisfies it.
type RelayService interface {
	UploadKG(ctx context.Context, req model.UploadKGRequest) (model.UploadKGResponse, error)
	UploadMetrics(ctx context.Context, req model.UploadMetricsRequest) (model.UploadMetricsResponse, error)
	UploadComplete(ctx context.Context, req model.UploadCompleteRequest) (model.UploadCompleteResponse, error)
	ListTestRuns(ctx context.Context, token string) (model.TestRunsResponse, error)
	UpdateWallet(ctx context.Context, req model.UpdateWalletRequest) (model.UpdateWalletResponse, error)
	AttachReward(ctx context.Context, runID string, req model.AttachRewardRequest) (model.AttachRewardResponse, error)
	Health(ctx context.Context) model.HealthResponse
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	relay               RelayService
	logger              *slog.Logger
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// NewHandlers creates Handlers.
func NewHandlers(svc RelayService, logger *slog.Logger, maxRequestBodyBytes int64) *Handlers {
	return &Handlers{relay: svc, logger: logger, maxRequestBodyBytes: maxRequestBodyBytes}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := h.relay.Health(r.Context())
	status := http.StatusOK
	if resp.Status != "OK" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// HandleUploadKG handles POST /upload-kg.
func (h *Handlers) HandleUploadKG(w http.ResponseWriter, r *http.Request) {
	var req model.UploadKGRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.relay.UploadKG(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to upload KG")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleUploadMetrics handles POST /upload-metrics.
func (h *Handlers) HandleUploadMetrics(w http.ResponseWriter, r *http.Request) {
	var req model.UploadMetricsRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.relay.UploadMetrics(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to upload metrics and complete test run")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleUploadComplete handles POST /upload-complete.
func (h *Handlers) HandleUploadComplete(w http.ResponseWriter, r *http.Request) {
	var req model.UploadCompleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.relay.UploadComplete(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to complete upload process")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleTestRuns handles GET /user/{access_token}/test-runs.
func (h *Handlers) HandleTestRuns(w http.ResponseWriter, r *http.Request) {
	resp, err := h.relay.ListTestRuns(r.Context(), r.PathValue("access_token"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to fetch test runs")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleUpdateWallet handles POST /update-wallet.
func (h *Handlers) HandleUpdateWallet(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateWalletRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.relay.UpdateWallet(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to update wallet address")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleAttachReward handles PATCH /test-runs/{run_id}/reward.
func (h *Handlers) HandleAttachReward(w http.ResponseWriter, r *http.Request) {
	var req model.AttachRewardRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.relay.AttachReward(r.Context(), r.PathValue("run_id"), req)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to attach reward transaction")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	err := decodeJSON(w, r, target, h.maxRequestBodyBytes)
	if err == nil {
		return true
	}
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput, "request body too large", "")
		return false
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body", err.Error())
	return false
}

// writeServiceError maps relay errors to status codes. details describes
// the failed operation for 5xx responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error, details string) {
	var ve *relay.ValidationError
	var oe *relay.OperationError
	switch {
	case errors.As(err, &ve):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, ve.Message, "")
	case errors.Is(err, relay.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "Invalid access token", "")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "Not found", "")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "Already set", "")
	case errors.Is(err, ipfs.ErrNotConfigured):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "IPFS storage is not configured", details)
	case errors.As(err, &oe):
		h.logger.Error("relay operation failed",
			"op", oe.Op,
			"error", oe.Err,
			"request_id", ctxutil.RequestIDFromContext(r.Context()),
			"user_id", ctxutil.UserIDFromContext(r.Context()),
		)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, oe.Op+" failed", details+": "+oe.Err.Error())
	default:
		h.logger.Error("relay request failed", "error", err, "request_id", ctxutil.RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "Internal server error", details)
	}
}
