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

// SyncedContactsTable maps Copilot clients and companies to Xero contacts.
const SyncedContactsTable = "synced_contacts"

// Contact user types.
const (
	ContactUserTypeClient  = "CLIENT"
	ContactUserTypeCompany = "COMPANY"
)

// SyncedContactRecord links one Copilot client or company to a Xero contact
// within a (portal, organization) scope.
type SyncedContactRecord struct {
	ID                uuid.UUID `db:"id"`
	PortalID          string    `db:"portal_id"`
	TenantID          uuid.UUID `db:"tenant_id"`
	ClientOrCompanyID string    `db:"client_or_company_id"`
	UserType          string    `db:"user_type"`
	ContactID         uuid.UUID `db:"contact_id"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// SyncedContactStore provides access to the synced_contacts table.
type SyncedContactStore struct {
	pool *pgxpool.Pool
}

// NewSyncedContactStore creates a store; assumes bootstrap already created the table.
func NewSyncedContactStore(pool *pgxpool.Pool) (*SyncedContactStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SyncedContactStore{pool: pool}, nil
}

const syncedContactColumns = `id, portal_id, tenant_id, client_or_company_id,
    user_type, contact_id, created_at, updated_at`

// Get fetches the mapping for a Copilot client or company id.
func (s *SyncedContactStore) Get(ctx context.Context, portalID string, tenantID uuid.UUID, clientOrCompanyID string) (SyncedContactRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
        WHERE portal_id = $1 AND tenant_id = $2 AND client_or_company_id = $3`,
		syncedContactColumns, SyncedContactsTable)
	return scanSyncedContactRecord(s.pool.QueryRow(ctx, query, portalID, tenantID, clientOrCompanyID))
}

// Create inserts a new contact mapping. A concurrent insert for the same
// scope resolves to the existing row.
func (s *SyncedContactStore) Create(ctx context.Context, rec SyncedContactRecord) (SyncedContactRecord, error) {
	if rec.ClientOrCompanyID == "" {
		return SyncedContactRecord{}, errors.New("client or company id is required")
	}
	if rec.UserType != ContactUserTypeClient && rec.UserType != ContactUserTypeCompany {
		return SyncedContactRecord{}, fmt.Errorf("invalid user type %q", rec.UserType)
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (portal_id, tenant_id, client_or_company_id, user_type, contact_id)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING %s
    `, SyncedContactsTable, syncedContactColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.PortalID, rec.TenantID, rec.ClientOrCompanyID, rec.UserType, rec.ContactID,
	)

	out, err := scanSyncedContactRecord(row)
	if isUniqueViolation(err) {
		return s.Get(ctx, rec.PortalID, rec.TenantID, rec.ClientOrCompanyID)
	}
	return out, err
}

// Delete removes a mapping by row id. Used when a stored Xero contact turns
// out to be archived or deleted remotely and must be re-created.
func (s *SyncedContactStore) Delete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, SyncedContactsTable)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSyncedContactRecord(row pgx.Row) (SyncedContactRecord, error) {
	var rec SyncedContactRecord
	if err := row.Scan(&rec.ID, &rec.PortalID, &rec.TenantID, &rec.ClientOrCompanyID, &rec.UserType, &rec.ContactID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncedContactRecord{}, ErrNotFound
		}
		return SyncedContactRecord{}, err
	}
	return rec, nil
}
