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

// SyncedItemsTable maps Copilot prices to Xero items. A row with a NULL
// item_id marks the price as deliberately excluded from sync.
const SyncedItemsTable = "synced_items"

// SyncedItemRecord links one Copilot price (and its parent product) to a
// Xero item within a portal scope.
type SyncedItemRecord struct {
	ID        uuid.UUID  `db:"id"`
	PortalID  string     `db:"portal_id"`
	TenantID  uuid.UUID  `db:"tenant_id"`
	ProductID string     `db:"product_id"`
	PriceID   string     `db:"price_id"`
	ItemID    *uuid.UUID `db:"item_id"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// SyncedItemStore provides access to the synced_items table.
type SyncedItemStore struct {
	pool *pgxpool.Pool
}

// NewSyncedItemStore creates a store; assumes bootstrap already created the table.
func NewSyncedItemStore(pool *pgxpool.Pool) (*SyncedItemStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SyncedItemStore{pool: pool}, nil
}

const syncedItemColumns = `id, portal_id, tenant_id, product_id, price_id,
    item_id, created_at, updated_at`

// GetByPriceID fetches the mapping for a Copilot price.
func (s *SyncedItemStore) GetByPriceID(ctx context.Context, portalID, priceID string) (SyncedItemRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE portal_id = $1 AND price_id = $2`,
		syncedItemColumns, SyncedItemsTable)
	return scanSyncedItemRecord(s.pool.QueryRow(ctx, query, portalID, priceID))
}

// ListByProductID returns every price mapping under a Copilot product.
func (s *SyncedItemStore) ListByProductID(ctx context.Context, portalID, productID string) ([]SyncedItemRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
        WHERE portal_id = $1 AND product_id = $2
        ORDER BY created_at`, syncedItemColumns, SyncedItemsTable)

	rows, err := s.pool.Query(ctx, query, portalID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SyncedItemRecord
	for rows.Next() {
		rec, err := scanSyncedItemRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Create inserts a new price mapping. A concurrent insert for the same price
// resolves to the existing row.
func (s *SyncedItemStore) Create(ctx context.Context, rec SyncedItemRecord) (SyncedItemRecord, error) {
	if rec.PriceID == "" {
		return SyncedItemRecord{}, errors.New("price id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (portal_id, tenant_id, product_id, price_id, item_id)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING %s
    `, SyncedItemsTable, syncedItemColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.PortalID, rec.TenantID, rec.ProductID, rec.PriceID, rec.ItemID,
	)

	out, err := scanSyncedItemRecord(row)
	if isUniqueViolation(err) {
		return s.GetByPriceID(ctx, rec.PortalID, rec.PriceID)
	}
	return out, err
}

// UpdateItemID rebinds a price to a different Xero item (nil excludes it).
func (s *SyncedItemStore) UpdateItemID(ctx context.Context, portalID, priceID string, itemID *uuid.UUID) (SyncedItemRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET item_id = $3, updated_at = NOW()
        WHERE portal_id = $1 AND price_id = $2
        RETURNING %s
    `, SyncedItemsTable, syncedItemColumns)
	return scanSyncedItemRecord(s.pool.QueryRow(ctx, query, portalID, priceID, itemID))
}

// DeleteByPriceID removes a price mapping.
func (s *SyncedItemStore) DeleteByPriceID(ctx context.Context, portalID, priceID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE portal_id = $1 AND price_id = $2`, SyncedItemsTable)
	tag, err := s.pool.Exec(ctx, query, portalID, priceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSyncedItemRecord(row pgx.Row) (SyncedItemRecord, error) {
	var rec SyncedItemRecord
	if err := row.Scan(&rec.ID, &rec.PortalID, &rec.TenantID, &rec.ProductID, &rec.PriceID, &rec.ItemID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncedItemRecord{}, ErrNotFound
		}
		return SyncedItemRecord{}, err
	}
	return rec, nil
}
