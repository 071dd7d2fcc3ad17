package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/trancheready/internal/domain"
	"github.com/opensource-finance/trancheready/internal/evidence"
	"github.com/opensource-finance/trancheready/internal/logging"
	"github.com/opensource-finance/trancheready/internal/tadp"
	"github.com/opensource-finance/trancheready/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	cache     domain.Cache
	bus       domain.EventBus
	processor *tadp.Processor
	packs     *evidence.Builder
	store     *evidence.Store
	async     bool
	resultTTL time.Duration
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	resultTTL := deps.ResultTTL
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &Handler{
		cache:     deps.Cache,
		bus:       deps.Bus,
		processor: deps.Processor,
		packs:     deps.Packs,
		store:     deps.PackStore,
		async:     deps.Async,
		resultTTL: resultTTL,
		version:   deps.Version,
	}
}

// SubmitResponse is the response for POST /batches.
type SubmitResponse struct {
	BatchID   string `json:"batchId"`
	Status    string `json:"status"`
	StatusURL string `json:"statusUrl"`
}

// RulesetResponse is the response for GET /ruleset.
type RulesetResponse struct {
	Ruleset *domain.Ruleset `json:"ruleset"`
	Version string          `json:"version"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.ping(r.Context()); err != nil {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the cache and bus answer pings.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready": true,
	})
}

func (h *Handler) ping(ctx context.Context) error {
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			return fmt.Errorf("event bus: %w", err)
		}
	}
	return nil
}

// GetRuleset returns the active ruleset.
func (h *Handler) GetRuleset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RulesetResponse{
		Ruleset: h.processor.Ruleset(),
		Version: h.version,
	})
}

// Evaluate scores a batch synchronously and returns the Result.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	batch, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	result, err := h.processor.Process(r.Context(), batch)
	if err != nil {
		writeProcessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SubmitBatch queues a batch for asynchronous scoring.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	if !h.async || h.bus == nil || h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "asynchronous scoring is not enabled",
		})
		return
	}

	batch, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	batchID, err := worker.Submit(ctx, h.bus, h.cache, GetTenantID(ctx), batch, h.resultTTL)
	if err != nil {
		logging.L(ctx).Error("failed to submit batch", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to submit batch",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		BatchID:   batchID,
		Status:    worker.StatusPending,
		StatusURL: "/batches/" + batchID,
	})
}

// GetBatch returns the status of an asynchronous batch.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "asynchronous scoring is not enabled",
		})
		return
	}

	ctx := r.Context()
	batchID := chi.URLParam(r, "id")

	st, err := worker.Lookup(ctx, h.cache, GetTenantID(ctx), batchID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "batch not found",
		})
		return
	}
	if err != nil {
		logging.L(ctx).Error("failed to look up batch", "batch_id", batchID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to look up batch",
		})
		return
	}

	status := http.StatusOK
	switch st.Status {
	case worker.StatusPending:
		status = http.StatusAccepted
	case worker.StatusRejected:
		status = http.StatusUnprocessableEntity
	case worker.StatusFailed:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, st)
}

// BuildPack scores the posted batch and stores an evidence pack.
func (h *Handler) BuildPack(w http.ResponseWriter, r *http.Request) {
	batch, ok := decodeBatch(w, r)
	if !ok {
		return
	}
	h.buildPack(w, r, batch)
}

// BuildSamplePack builds an evidence pack from the built-in sample dataset.
func (h *Handler) BuildSamplePack(w http.ResponseWriter, r *http.Request) {
	h.buildPack(w, r, evidence.SampleBatch())
}

func (h *Handler) buildPack(w http.ResponseWriter, r *http.Request, batch domain.Batch) {
	if h.packs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "evidence packs are not enabled",
		})
		return
	}

	ctx := r.Context()
	receipt, err := h.packs.Build(ctx, GetTenantID(ctx), batch)
	if err != nil {
		writeProcessError(w, r, err)
		return
	}

	logging.L(ctx).Info("evidence pack built",
		"token", receipt.Token,
		"build_id", receipt.BuildID,
		"clients", receipt.Counts.Total,
		"high", receipt.Counts.High,
	)
	writeJSON(w, http.StatusOK, receipt)
}

// GetPack re-verifies a stored pack against its manifest.
func (h *Handler) GetPack(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "evidence packs are not enabled",
		})
		return
	}

	ctx := r.Context()
	v, err := h.store.Verify(ctx, GetTenantID(ctx), chi.URLParam(r, "token"))
	if err != nil {
		writeStoreError(w, r, err, "pack not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetPackFile serves one file of a stored pack.
func (h *Handler) GetPackFile(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "evidence packs are not enabled",
		})
		return
	}

	name := chi.URLParam(r, "name")
	if !safeFileName(name) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid file name",
		})
		return
	}

	ctx := r.Context()
	data, err := h.store.File(ctx, GetTenantID(ctx), chi.URLParam(r, "token"), name)
	if err != nil {
		writeStoreError(w, r, err, "file not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// decodeBatch reads a Batch from the request body, writing the error response
// itself when decoding fails.
func decodeBatch(w http.ResponseWriter, r *http.Request) (domain.Batch, bool) {
	var batch domain.Batch
	err := json.NewDecoder(r.Body).Decode(&batch)
	if err == nil {
		return batch, true
	}

	var (
		invalid   *domain.InvalidRecordError
		typeErr   *json.UnmarshalTypeError
		maxErr    *http.MaxBytesError
		syntaxErr *json.SyntaxError
	)
	switch {
	case errors.As(err, &maxErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
		})
	case errors.As(err, &invalid):
		writeInvalid(w, invalid)
	case errors.As(err, &typeErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": fmt.Sprintf("field %s: expected %s", typeErr.Field, typeErr.Type),
		})
	case errors.As(err, &syntaxErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset),
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
	}
	return batch, false
}

func writeInvalid(w http.ResponseWriter, invalid *domain.InvalidRecordError) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":   invalid.Error(),
		"invalid": invalid,
	})
}

func writeProcessError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *domain.InvalidRecordError
	switch {
	case errors.As(err, &invalid):
		writeInvalid(w, invalid)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scoring interrupted",
		})
	default:
		logging.L(r.Context()).Error("scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
	}
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": notFound,
		})
		return
	}
	logging.L(r.Context()).Error("pack store failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "failed to read pack",
	})
}

// safeFileName rejects path-like pack file names.
func safeFileName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
