// Package service manages per-workspace sync preferences. Settings are
// scoped to a (portal, tenant) pair and created lazily with conservative
// defaults: nothing syncs until the workspace turns it on.
package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"
)

// Settings is the domain view of a workspace's sync preferences.
type Settings struct {
	SyncProductsAutomatically     bool
	AddAbsorbedFees               bool
	UseCompanyName                bool
	IsSyncEnabled                 bool
	InitialInvoiceSettingsMapping bool
	InitialProductSettingsMapping bool
}

// Store abstracts the settings table.
type Store interface {
	GetByScope(ctx context.Context, portalID string, tenantID uuid.UUID) (persistence.SettingsRecord, error)
	Create(ctx context.Context, rec persistence.SettingsRecord) (persistence.SettingsRecord, error)
	Update(ctx context.Context, rec persistence.SettingsRecord) (persistence.SettingsRecord, error)
}

// Service provides settings operations.
type Service struct {
	store Store
}

// New constructs the settings service.
func New(store Store) *Service {
	if store == nil {
		panic("settings store is required")
	}
	return &Service{store: store}
}

// Get returns the workspace's settings, creating the default row on first
// access. Defaults leave every sync behavior off.
func (s *Service) Get(ctx context.Context, ws workspace.Context) (Settings, error) {
	rec, err := s.store.GetByScope(ctx, ws.PortalID, ws.TenantID)
	if errors.Is(err, persistence.ErrNotFound) {
		logging.Ctx(ctx).Info("creating default settings",
			zap.String("portal_id", ws.PortalID))
		rec, err = s.store.Create(ctx, persistence.SettingsRecord{
			PortalID: ws.PortalID,
			TenantID: ws.TenantID,
		})
	}
	if err != nil {
		return Settings{}, err
	}
	return fromRecord(rec), nil
}

// Update replaces the workspace's settings flags.
func (s *Service) Update(ctx context.Context, ws workspace.Context, settings Settings) (Settings, error) {
	if _, err := s.Get(ctx, ws); err != nil {
		return Settings{}, err
	}

	rec, err := s.store.Update(ctx, persistence.SettingsRecord{
		PortalID:                      ws.PortalID,
		TenantID:                      ws.TenantID,
		SyncProductsAutomatically:     settings.SyncProductsAutomatically,
		AddAbsorbedFees:               settings.AddAbsorbedFees,
		UseCompanyName:                settings.UseCompanyName,
		IsSyncEnabled:                 settings.IsSyncEnabled,
		InitialInvoiceSettingsMapping: settings.InitialInvoiceSettingsMapping,
		InitialProductSettingsMapping: settings.InitialProductSettingsMapping,
	})
	if err != nil {
		return Settings{}, err
	}
	return fromRecord(rec), nil
}

func fromRecord(rec persistence.SettingsRecord) Settings {
	return Settings{
		SyncProductsAutomatically:     rec.SyncProductsAutomatically,
		AddAbsorbedFees:               rec.AddAbsorbedFees,
		UseCompanyName:                rec.UseCompanyName,
		IsSyncEnabled:                 rec.IsSyncEnabled,
		InitialInvoiceSettingsMapping: rec.InitialInvoiceSettingsMapping,
		InitialProductSettingsMapping: rec.InitialProductSettingsMapping,
	}
}
