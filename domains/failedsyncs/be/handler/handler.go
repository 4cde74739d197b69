// Package handler exposes the cron endpoint that drains the dead-letter
// queue. The endpoint is authenticated by a shared secret, not a workspace
// token, because the scheduler acts across all portals.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/platform/go/logging"

	"github.com/copilot-platforms/xero-integration/domains/failedsyncs/be/service"
)

// Retrier runs one dead-letter retry pass.
type Retrier interface {
	RetryAll(ctx context.Context) (service.Summary, error)
}

// Handler serves the retry cron endpoint.
type Handler struct {
	retrier    Retrier
	cronSecret string
	logger     *zap.Logger
}

// New constructs the cron handler.
func New(retrier Retrier, cronSecret string, logger *zap.Logger) *Handler {
	if retrier == nil {
		panic("retrier is required")
	}
	if cronSecret == "" {
		panic("cron secret is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{retrier: retrier, cronSecret: cronSecret, logger: logger}
}

// Routes mounts the cron endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/cron/retry-failed-syncs", h.HandleRetry)
}

// HandleRetry authenticates the scheduler and runs one pass.
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromRequest(r, h.logger)

	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Unauthorized"})
		return
	}

	summary, err := h.retrier.RetryAll(r.Context())
	if err != nil {
		logger.Error("dead-letter retry pass failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Retry pass failed"})
		return
	}

	logger.Info("dead-letter retry pass finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("dropped", summary.Dropped))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(summary)
}
