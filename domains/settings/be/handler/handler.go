// Package handler exposes workspace sync settings over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/synctoken"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	connectionssvc "github.com/copilot-platforms/xero-integration/domains/connections/be/service"
	"github.com/copilot-platforms/xero-integration/domains/settings/be/service"
)

const maxBodySize = 64 << 10

// Authorizer resolves tokens into workspace contexts.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (workspace.Context, error)
}

// SettingsService reads and writes workspace settings.
type SettingsService interface {
	Get(ctx context.Context, ws workspace.Context) (service.Settings, error)
	Update(ctx context.Context, ws workspace.Context, settings service.Settings) (service.Settings, error)
}

// SyncStatusReader reports when the workspace last synced an invoice.
type SyncStatusReader interface {
	LastSyncedAt(ctx context.Context, ws workspace.Context) (*time.Time, error)
}

// settingsPayload is the wire shape of the settings resource.
type settingsPayload struct {
	SyncProductsAutomatically     bool `json:"syncProductsAutomatically"`
	AddAbsorbedFees               bool `json:"addAbsorbedFees"`
	UseCompanyName                bool `json:"useCompanyName"`
	IsSyncEnabled                 bool `json:"isSyncEnabled"`
	InitialInvoiceSettingsMapping bool `json:"initialInvoiceSettingsMapping"`
	InitialProductSettingsMapping bool `json:"initialProductSettingsMapping"`
}

// settingsResponse is the GET shape: the flags plus sync status.
type settingsResponse struct {
	settingsPayload
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
}

// Handler serves the settings resource.
type Handler struct {
	connections Authorizer
	settings    SettingsService
	syncStatus  SyncStatusReader
	logger      *zap.Logger
}

// New constructs the settings handler.
func New(connections Authorizer, settings SettingsService, syncStatus SyncStatusReader, logger *zap.Logger) *Handler {
	if connections == nil || settings == nil || syncStatus == nil {
		panic("settings handler dependencies are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{connections: connections, settings: settings, syncStatus: syncStatus, logger: logger}
}

// Routes mounts the settings endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/settings", h.HandleGet)
	r.Put("/api/settings", h.HandleUpdate)
}

// HandleGet returns the workspace's settings, creating defaults on first read.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromRequest(r, h.logger)

	ws, ok := h.authorize(w, r, logger)
	if !ok {
		return
	}

	settings, err := h.settings.Get(r.Context(), ws)
	if err != nil {
		logger.Error("reading settings failed", zap.Error(err))
		http.Error(w, "reading settings failed", http.StatusInternalServerError)
		return
	}
	lastSyncedAt, err := h.syncStatus.LastSyncedAt(r.Context(), ws)
	if err != nil {
		logger.Error("reading sync status failed", zap.Error(err))
		http.Error(w, "reading settings failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		settingsPayload: toPayload(settings),
		LastSyncedAt:    lastSyncedAt,
	})
}

// HandleUpdate replaces the workspace's settings flags.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromRequest(r, h.logger)

	ws, ok := h.authorize(w, r, logger)
	if !ok {
		return
	}

	var payload settingsPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		http.Error(w, "invalid settings payload", http.StatusBadRequest)
		return
	}

	updated, err := h.settings.Update(r.Context(), ws, service.Settings{
		SyncProductsAutomatically:     payload.SyncProductsAutomatically,
		AddAbsorbedFees:               payload.AddAbsorbedFees,
		UseCompanyName:                payload.UseCompanyName,
		IsSyncEnabled:                 payload.IsSyncEnabled,
		InitialInvoiceSettingsMapping: payload.InitialInvoiceSettingsMapping,
		InitialProductSettingsMapping: payload.InitialProductSettingsMapping,
	})
	if err != nil {
		logger.Error("updating settings failed", zap.Error(err))
		http.Error(w, "updating settings failed", http.StatusInternalServerError)
		return
	}

	logger.Info("settings updated",
		zap.String("portal_id", ws.PortalID),
		zap.Bool("is_sync_enabled", updated.IsSyncEnabled))
	writeJSON(w, http.StatusOK, toPayload(updated))
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (workspace.Context, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return workspace.Context{}, false
	}

	ws, err := h.connections.Authorize(r.Context(), token)
	switch {
	case errors.Is(err, synctoken.ErrInvalidToken),
		errors.Is(err, synctoken.ErrMissingWorkspace),
		errors.Is(err, connectionssvc.ErrNotConnected):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return workspace.Context{}, false
	case err != nil:
		logger.Error("settings authorization failed", zap.Error(err))
		http.Error(w, "authorization failed", http.StatusInternalServerError)
		return workspace.Context{}, false
	}
	return ws, true
}

func toPayload(s service.Settings) settingsPayload {
	return settingsPayload{
		SyncProductsAutomatically:     s.SyncProductsAutomatically,
		AddAbsorbedFees:               s.AddAbsorbedFees,
		UseCompanyName:                s.UseCompanyName,
		IsSyncEnabled:                 s.IsSyncEnabled,
		InitialInvoiceSettingsMapping: s.InitialInvoiceSettingsMapping,
		InitialProductSettingsMapping: s.InitialProductSettingsMapping,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
