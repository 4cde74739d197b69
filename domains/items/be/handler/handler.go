// Package handler exposes manual catalog mapping management: mapping a price
// to a fresh Xero item and removing a mapping again.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/gateway/xero"
	"github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/synctoken"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	connectionssvc "github.com/copilot-platforms/xero-integration/domains/connections/be/service"
)

// Authorizer resolves tokens into workspace contexts.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (workspace.Context, error)
}

// ItemMapper covers manual mapping operations on the items service.
type ItemMapper interface {
	CreateItemForPrice(ctx context.Context, ws workspace.Context, priceID string) (xero.Item, error)
	DeleteSyncedItem(ctx context.Context, ws workspace.Context, priceID string) error
}

// Handler serves manual item mapping operations.
type Handler struct {
	connections Authorizer
	items       ItemMapper
	logger      *zap.Logger
}

// New constructs the items handler.
func New(connections Authorizer, items ItemMapper, logger *zap.Logger) *Handler {
	if connections == nil || items == nil {
		panic("items handler dependencies are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{connections: connections, items: items, logger: logger}
}

// Routes mounts the mapping endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/item-mappings/{priceID}", h.HandleMap)
	r.Delete("/api/item-mappings/{priceID}", h.HandleUnmap)
}

// HandleMap creates a Xero item for the price and records the mapping.
func (h *Handler) HandleMap(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromRequest(r, h.logger)

	ws, ok := h.authorize(w, r, logger)
	if !ok {
		return
	}

	priceID := chi.URLParam(r, "priceID")
	item, err := h.items.CreateItemForPrice(r.Context(), ws, priceID)
	if err != nil {
		logger.Error("mapping price to item failed",
			zap.String("price_id", priceID), zap.Error(err))
		http.Error(w, "mapping price failed", http.StatusInternalServerError)
		return
	}

	logger.Info("price mapped to item",
		zap.String("price_id", priceID), zap.String("item_code", item.Code))
	w.WriteHeader(http.StatusCreated)
}

// HandleUnmap deletes the Xero item and drops the mapping.
func (h *Handler) HandleUnmap(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromRequest(r, h.logger)

	ws, ok := h.authorize(w, r, logger)
	if !ok {
		return
	}

	priceID := chi.URLParam(r, "priceID")
	if err := h.items.DeleteSyncedItem(r.Context(), ws, priceID); err != nil {
		logger.Error("removing item mapping failed",
			zap.String("price_id", priceID), zap.Error(err))
		http.Error(w, "removing mapping failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
		logger.Error("item mapping authorization failed", zap.Error(err))
		http.Error(w, "authorization failed", http.StatusInternalServerError)
		return workspace.Context{}, false
	}
	return ws, true
}
