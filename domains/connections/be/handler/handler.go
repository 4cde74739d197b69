// Package handler manages the portal's Xero connection over HTTP. The portal
// app performs the OAuth code exchange and posts the resulting token set here.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/gateway/xero"
	"github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
)

const maxBodySize = 64 << 10

// TokenDecoder verifies webhook tokens and yields the portal they belong to.
type TokenDecoder interface {
	Decode(tokenString string) (string, error)
}

// ConnectionService is the slice of the connections service the handler needs.
type ConnectionService interface {
	GetOrCreate(ctx context.Context, portalID string) (persistence.ConnectionRecord, error)
	Connect(ctx context.Context, portalID string, tokens xero.TokenSet, initiatedBy string) (persistence.ConnectionRecord, error)
	Disconnect(ctx context.Context, portalID string) error
}

type connectPayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	InitiatedBy  string `json:"initiatedBy"`
}

type statusPayload struct {
	Connected bool    `json:"connected"`
	TenantID  *string `json:"tenantId,omitempty"`
}

// Handler serves the connection resource.
type Handler struct {
	tokens      TokenDecoder
	connections ConnectionService
	logger      *zap.Logger
}

// New constructs the connections handler.
func New(tokens TokenDecoder, connections ConnectionService, logger *zap.Logger) *Handler {
	if tokens == nil || connections == nil {
		panic("connections handler dependencies are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{tokens: tokens, connections: connections, logger: logger}
}

// Routes mounts the connection endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/connection", h.HandleStatus)
	r.Post("/api/connection", h.HandleConnect)
	r.Delete("/api/connection", h.HandleDisconnect)
}

// HandleStatus reports whether the portal is connected and to which tenant.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromRequest(r, h.logger)

	portalID, ok := h.decodeToken(w, r)
	if !ok {
		return
	}

	rec, err := h.connections.GetOrCreate(r.Context(), portalID)
	if err != nil {
		logger.Error("reading connection failed", zap.Error(err))
		http.Error(w, "reading connection failed", http.StatusInternalServerError)
		return
	}

	payload := statusPayload{Connected: rec.Status}
	if rec.TenantID != nil {
		tenant := rec.TenantID.String()
		payload.TenantID = &tenant
	}
	writeJSON(w, http.StatusOK, payload)
}

// HandleConnect stores a fresh Xero authorization for the portal.
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromRequest(r, h.logger)

	portalID, ok := h.decodeToken(w, r)
	if !ok {
		return
	}

	var payload connectPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&payload); err != nil {
		http.Error(w, "invalid connect payload", http.StatusBadRequest)
		return
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		http.Error(w, "access and refresh tokens are required", http.StatusBadRequest)
		return
	}

	tokens := xero.TokenSet{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresIn:    payload.ExpiresIn,
	}
	rec, err := h.connections.Connect(r.Context(), portalID, tokens, payload.InitiatedBy)
	if err != nil {
		logger.Error("connecting portal failed",
			zap.String("portal_id", portalID), zap.Error(err))
		http.Error(w, "connecting portal failed", http.StatusInternalServerError)
		return
	}

	logger.Info("portal connected to xero",
		zap.String("portal_id", portalID), zap.Any("tenant_id", rec.TenantID))
	status := statusPayload{Connected: rec.Status}
	if rec.TenantID != nil {
		tenant := rec.TenantID.String()
		status.TenantID = &tenant
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleDisconnect drops the portal's Xero authorization.
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromRequest(r, h.logger)

	portalID, ok := h.decodeToken(w, r)
	if !ok {
		return
	}

	if err := h.connections.Disconnect(r.Context(), portalID); err != nil {
		logger.Error("disconnecting portal failed",
			zap.String("portal_id", portalID), zap.Error(err))
		http.Error(w, "disconnecting portal failed", http.StatusInternalServerError)
		return
	}

	logger.Info("portal disconnected from xero", zap.String("portal_id", portalID))
	writeJSON(w, http.StatusOK, statusPayload{Connected: false})
}

func (h *Handler) decodeToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return "", false
	}

	portalID, err := h.tokens.Decode(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return portalID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
