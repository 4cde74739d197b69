// Package handler serves the sync history download. Authentication reuses
// the webhook token flow so the portal can only read its own trail.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/synctoken"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	connectionssvc "github.com/copilot-platforms/xero-integration/domains/connections/be/service"
)

// Authorizer resolves tokens into workspace contexts.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (workspace.Context, error)
}

// Exporter streams the workspace's sync history as CSV.
type Exporter interface {
	WriteCSV(ctx context.Context, ws workspace.Context, w io.Writer) error
}

// Handler serves sync log exports.
type Handler struct {
	connections Authorizer
	logs        Exporter
	logger      *zap.Logger
}

// New constructs the sync logs handler.
func New(connections Authorizer, logs Exporter, logger *zap.Logger) *Handler {
	if connections == nil || logs == nil {
		panic("sync logs handler dependencies are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{connections: connections, logs: logs, logger: logger}
}

// Routes mounts the export endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/sync-logs", h.HandleExport)
}

// HandleExport streams the CSV download.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromRequest(r, h.logger)

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	ws, err := h.connections.Authorize(r.Context(), token)
	switch {
	case errors.Is(err, synctoken.ErrInvalidToken),
		errors.Is(err, synctoken.ErrMissingWorkspace),
		errors.Is(err, connectionssvc.ErrNotConnected):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	case err != nil:
		logger.Error("sync log export authorization failed", zap.Error(err))
		http.Error(w, "authorization failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sync-history.csv"`)
	if err := h.logs.WriteCSV(r.Context(), ws, w); err != nil {
		// Headers are already out; all we can do is log.
		logger.Error("streaming sync history failed", zap.Error(err))
	}
}
