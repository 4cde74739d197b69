package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingsTable stores per-(portal, organization) sync preferences.
const SettingsTable = "settings"

// SettingsRecord represents the sync preference flags for one portal and
// Xero organization pair.
type SettingsRecord struct {
	ID                            uuid.UUID `db:"id"`
	PortalID                      string    `db:"portal_id"`
	TenantID                      uuid.UUID `db:"tenant_id"`
	SyncProductsAutomatically     bool      `db:"sync_products_automatically"`
	AddAbsorbedFees               bool      `db:"add_absorbed_fees"`
	UseCompanyName                bool      `db:"use_company_name"`
	IsSyncEnabled                 bool      `db:"is_sync_enabled"`
	InitialInvoiceSettingsMapping bool      `db:"initial_invoice_settings_mapping"`
	InitialProductSettingsMapping bool      `db:"initial_product_settings_mapping"`
	CreatedAt                     time.Time `db:"created_at"`
	UpdatedAt                     time.Time `db:"updated_at"`
}

// SettingsStore provides access to the settings table.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a store; assumes bootstrap already created the table.
func NewSettingsStore(pool *pgxpool.Pool) (*SettingsStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SettingsStore{pool: pool}, nil
}

const settingsColumns = `id, portal_id, tenant_id, sync_products_automatically,
    add_absorbed_fees, use_company_name, is_sync_enabled,
    initial_invoice_settings_mapping, initial_product_settings_mapping,
    created_at, updated_at`

// GetByScope fetches the settings row for a portal and organization.
func (s *SettingsStore) GetByScope(ctx context.Context, portalID string, tenantID uuid.UUID) (SettingsRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE portal_id = $1 AND tenant_id = $2`, settingsColumns, SettingsTable)
	return scanSettingsRecord(s.pool.QueryRow(ctx, query, portalID, tenantID))
}

// Create inserts a settings row. A concurrent insert for the same scope
// resolves to the existing row.
func (s *SettingsStore) Create(ctx context.Context, rec SettingsRecord) (SettingsRecord, error) {
	if rec.PortalID == "" {
		return SettingsRecord{}, errors.New("portal id is required")
	}
	if rec.TenantID == uuid.Nil {
		return SettingsRecord{}, errors.New("tenant id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (portal_id, tenant_id, sync_products_automatically, add_absorbed_fees,
            use_company_name, is_sync_enabled, initial_invoice_settings_mapping,
            initial_product_settings_mapping)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING %s
    `, SettingsTable, settingsColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.PortalID, rec.TenantID, rec.SyncProductsAutomatically, rec.AddAbsorbedFees,
		rec.UseCompanyName, rec.IsSyncEnabled, rec.InitialInvoiceSettingsMapping,
		rec.InitialProductSettingsMapping,
	)

	out, err := scanSettingsRecord(row)
	if isUniqueViolation(err) {
		return s.GetByScope(ctx, rec.PortalID, rec.TenantID)
	}
	return out, err
}

// Update replaces the flag columns for an existing scope.
func (s *SettingsStore) Update(ctx context.Context, rec SettingsRecord) (SettingsRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET
            sync_products_automatically = $3, add_absorbed_fees = $4, use_company_name = $5,
            is_sync_enabled = $6, initial_invoice_settings_mapping = $7,
            initial_product_settings_mapping = $8, updated_at = NOW()
        WHERE portal_id = $1 AND tenant_id = $2
        RETURNING %s
    `, SettingsTable, settingsColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.PortalID, rec.TenantID, rec.SyncProductsAutomatically, rec.AddAbsorbedFees,
		rec.UseCompanyName, rec.IsSyncEnabled, rec.InitialInvoiceSettingsMapping,
		rec.InitialProductSettingsMapping,
	)
	return scanSettingsRecord(row)
}

func scanSettingsRecord(row pgx.Row) (SettingsRecord, error) {
	var rec SettingsRecord
	if err := row.Scan(&rec.ID, &rec.PortalID, &rec.TenantID, &rec.SyncProductsAutomatically, &rec.AddAbsorbedFees, &rec.UseCompanyName, &rec.IsSyncEnabled, &rec.InitialInvoiceSettingsMapping, &rec.InitialProductSettingsMapping, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SettingsRecord{}, ErrNotFound
		}
		return SettingsRecord{}, err
	}
	return rec, nil
}
