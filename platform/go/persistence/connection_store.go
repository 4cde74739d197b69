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

// ConnectionsTable holds one row per portal describing its Xero link.
const ConnectionsTable = "xero_connections"

// ConnectionRecord represents a portal's Xero connection row. Token columns
// are nil until the OAuth flow completes; tenant_id is nil until the user
// picks an organization.
type ConnectionRecord struct {
	ID           uuid.UUID  `db:"id"`
	PortalID     string     `db:"portal_id"`
	TenantID     *uuid.UUID `db:"tenant_id"`
	Status       bool       `db:"status"`
	AccessToken  *string    `db:"access_token"`
	RefreshToken *string    `db:"refresh_token"`
	ExpiresAt    *time.Time `db:"expires_at"`
	InitiatedBy  *string    `db:"initiated_by"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// ConnectionStore provides access to the xero_connections table.
type ConnectionStore struct {
	pool *pgxpool.Pool
}

// NewConnectionStore creates a store; assumes bootstrap already created the table.
func NewConnectionStore(pool *pgxpool.Pool) (*ConnectionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ConnectionStore{pool: pool}, nil
}

const connectionColumns = `id, portal_id, tenant_id, status, access_token,
    refresh_token, expires_at, initiated_by, created_at, updated_at`

// GetByPortalID fetches the connection row for a portal.
func (s *ConnectionStore) GetByPortalID(ctx context.Context, portalID string) (ConnectionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE portal_id = $1`, connectionColumns, ConnectionsTable)
	return scanConnectionRecord(s.pool.QueryRow(ctx, query, portalID))
}

// Create inserts a connection row for a portal. A concurrent insert for the
// same portal resolves to the existing row.
func (s *ConnectionStore) Create(ctx context.Context, rec ConnectionRecord) (ConnectionRecord, error) {
	if rec.PortalID == "" {
		return ConnectionRecord{}, errors.New("portal id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (portal_id, tenant_id, status, access_token, refresh_token, expires_at, initiated_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING %s
    `, ConnectionsTable, connectionColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.PortalID, rec.TenantID, rec.Status, rec.AccessToken,
		rec.RefreshToken, rec.ExpiresAt, rec.InitiatedBy,
	)

	out, err := scanConnectionRecord(row)
	if isUniqueViolation(err) {
		return s.GetByPortalID(ctx, rec.PortalID)
	}
	return out, err
}

// Update replaces the mutable connection columns for a portal.
func (s *ConnectionStore) Update(ctx context.Context, rec ConnectionRecord) (ConnectionRecord, error) {
	if rec.PortalID == "" {
		return ConnectionRecord{}, errors.New("portal id is required")
	}

	query := fmt.Sprintf(`
        UPDATE %s SET
            tenant_id = $2, status = $3, access_token = $4, refresh_token = $5,
            expires_at = $6, initiated_by = $7, updated_at = NOW()
        WHERE portal_id = $1
        RETURNING %s
    `, ConnectionsTable, connectionColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.PortalID, rec.TenantID, rec.Status, rec.AccessToken,
		rec.RefreshToken, rec.ExpiresAt, rec.InitiatedBy,
	)
	return scanConnectionRecord(row)
}

// UpdateTokens stores a refreshed token pair without touching the rest of the row.
func (s *ConnectionStore) UpdateTokens(ctx context.Context, portalID, accessToken, refreshToken string, expiresAt time.Time) (ConnectionRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET access_token = $2, refresh_token = $3, expires_at = $4, updated_at = NOW()
        WHERE portal_id = $1
        RETURNING %s
    `, ConnectionsTable, connectionColumns)

	row := s.pool.QueryRow(ctx, query, portalID, accessToken, refreshToken, expiresAt)
	return scanConnectionRecord(row)
}

// Disconnect flips the connection inactive and drops its tokens.
func (s *ConnectionStore) Disconnect(ctx context.Context, portalID string) error {
	query := fmt.Sprintf(`
        UPDATE %s SET status = FALSE, access_token = NULL, refresh_token = NULL,
            expires_at = NULL, updated_at = NOW()
        WHERE portal_id = $1
    `, ConnectionsTable)

	tag, err := s.pool.Exec(ctx, query, portalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConnectionRecord(row pgx.Row) (ConnectionRecord, error) {
	var rec ConnectionRecord
	if err := row.Scan(&rec.ID, &rec.PortalID, &rec.TenantID, &rec.Status, &rec.AccessToken, &rec.RefreshToken, &rec.ExpiresAt, &rec.InitiatedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConnectionRecord{}, ErrNotFound
		}
		return ConnectionRecord{}, err
	}
	return rec, nil
}
