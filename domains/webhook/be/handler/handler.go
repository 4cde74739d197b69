// Package handler exposes the webhook intake endpoint. Deliveries that must
// not be retried by the source platform (disabled sync, unknown or malformed
// events) are acknowledged with 200; only authentication problems and real
// sync failures surface as error statuses.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/synctoken"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	connectionssvc "github.com/copilot-platforms/xero-integration/domains/connections/be/service"
	settingssvc "github.com/copilot-platforms/xero-integration/domains/settings/be/service"
	"github.com/copilot-platforms/xero-integration/domains/webhook/be/service"
)

// maxBodySize bounds webhook payloads.
const maxBodySize = 1 << 20

// Authorizer resolves webhook tokens into workspace contexts.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (workspace.Context, error)
}

// SettingsReader exposes the master sync switch.
type SettingsReader interface {
	Get(ctx context.Context, ws workspace.Context) (settingssvc.Settings, error)
}

// Dispatcher handles one parsed event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ws workspace.Context, env service.Envelope) error
}

// Handler receives webhook deliveries.
type Handler struct {
	connections Authorizer
	settings    SettingsReader
	dispatcher  Dispatcher
	logger      *zap.Logger
}

// New constructs the webhook handler.
func New(connections Authorizer, settings SettingsReader, dispatcher Dispatcher, logger *zap.Logger) *Handler {
	if connections == nil || settings == nil || dispatcher == nil {
		panic("webhook handler dependencies are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{connections: connections, settings: settings, dispatcher: dispatcher, logger: logger}
}

// Routes mounts the webhook endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/webhook", h.HandleWebhook)
}

// HandleWebhook processes one delivery end to end.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromRequest(r, h.logger)

	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Missing token"})
		return
	}

	ws, err := h.connections.Authorize(ctx, token)
	switch {
	case errors.Is(err, synctoken.ErrInvalidToken), errors.Is(err, synctoken.ErrMissingWorkspace):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid token"})
		return
	case errors.Is(err, connectionssvc.ErrNotConnected):
		logger.Info("webhook for unconnected portal ignored")
		writeJSON(w, http.StatusOK, map[string]string{"message": "Portal is not connected"})
		return
	case err != nil:
		logger.Error("webhook authorization failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Authorization failed"})
		return
	}

	settings, err := h.settings.Get(ctx, ws)
	if err != nil {
		logger.Error("loading settings failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Loading settings failed"})
		return
	}
	if !settings.IsSyncEnabled {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Sync is disabled for this workspace"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Unreadable body"})
		return
	}

	env, err := service.ParseEnvelope(body)
	if errors.Is(err, service.ErrUnknownEvent) || errors.Is(err, service.ErrInvalidPayload) {
		logger.Info("ignoring webhook delivery", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"message": "Ignored webhook call for event"})
		return
	}
	if err != nil {
		logger.Error("parsing webhook delivery failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Parsing failed"})
		return
	}

	if err := h.dispatcher.Dispatch(ctx, ws, env); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Sync failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Synced"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
