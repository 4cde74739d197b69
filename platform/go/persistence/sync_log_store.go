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

// SyncLogsTable is the append-only audit trail. Display fields are copied in
// at write time so the export never joins back to source systems.
const SyncLogsTable = "sync_logs"

// Sync log statuses.
const (
	SyncLogSuccess = "success"
	SyncLogFailed  = "failed"
	SyncLogInfo    = "info"
)

// SyncLogRecord is one audit entry. All display fields are optional; each
// event type fills in the subset that makes sense for it.
type SyncLogRecord struct {
	ID            uuid.UUID  `db:"id"`
	PortalID      string     `db:"portal_id"`
	TenantID      uuid.UUID  `db:"tenant_id"`
	SyncDate      time.Time  `db:"sync_date"`
	EventType     string     `db:"event_type"`
	Status        string     `db:"status"`
	EntityType    string     `db:"entity_type"`
	CopilotID     *string    `db:"copilot_id"`
	XeroID        *uuid.UUID `db:"xero_id"`
	InvoiceNumber *string    `db:"invoice_number"`
	CustomerName  *string    `db:"customer_name"`
	CustomerEmail *string    `db:"customer_email"`
	Amount        *float64   `db:"amount"`
	TaxAmount     *float64   `db:"tax_amount"`
	FeeAmount     *float64   `db:"fee_amount"`
	ProductName   *string    `db:"product_name"`
	ProductPrice  *float64   `db:"product_price"`
	XeroItemName  *string    `db:"xero_item_name"`
	ErrorMessage  *string    `db:"error_message"`
	CreatedAt     time.Time  `db:"created_at"`
}

// SyncLogStore provides access to the sync_logs table.
type SyncLogStore struct {
	pool *pgxpool.Pool
}

// NewSyncLogStore creates a store; assumes bootstrap already created the table.
func NewSyncLogStore(pool *pgxpool.Pool) (*SyncLogStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SyncLogStore{pool: pool}, nil
}

const syncLogColumns = `id, portal_id, tenant_id, sync_date, event_type, status,
    entity_type, copilot_id, xero_id, invoice_number, customer_name, customer_email,
    amount, tax_amount, fee_amount, product_name, product_price, xero_item_name,
    error_message, created_at`

// Create appends an audit entry.
func (s *SyncLogStore) Create(ctx context.Context, rec SyncLogRecord) (SyncLogRecord, error) {
	return s.create(ctx, s.pool, rec)
}

// CreateTx is Create inside a caller-owned transaction.
func (s *SyncLogStore) CreateTx(ctx context.Context, tx pgx.Tx, rec SyncLogRecord) (SyncLogRecord, error) {
	return s.create(ctx, tx, rec)
}

func (s *SyncLogStore) create(ctx context.Context, q queryRower, rec SyncLogRecord) (SyncLogRecord, error) {
	if rec.Status != SyncLogSuccess && rec.Status != SyncLogFailed && rec.Status != SyncLogInfo {
		return SyncLogRecord{}, fmt.Errorf("invalid sync log status %q", rec.Status)
	}
	if rec.SyncDate.IsZero() {
		rec.SyncDate = time.Now().UTC()
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (portal_id, tenant_id, sync_date, event_type, status, entity_type,
            copilot_id, xero_id, invoice_number, customer_name, customer_email,
            amount, tax_amount, fee_amount, product_name, product_price,
            xero_item_name, error_message)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
        RETURNING %s
    `, SyncLogsTable, syncLogColumns)

	row := q.QueryRow(ctx, query,
		rec.PortalID, rec.TenantID, rec.SyncDate, rec.EventType, rec.Status, rec.EntityType,
		rec.CopilotID, rec.XeroID, rec.InvoiceNumber, rec.CustomerName, rec.CustomerEmail,
		rec.Amount, rec.TaxAmount, rec.FeeAmount, rec.ProductName, rec.ProductPrice,
		rec.XeroItemName, rec.ErrorMessage,
	)
	return scanSyncLogRecord(row)
}

// ListForScope returns the audit trail for a portal and organization, newest first.
func (s *SyncLogStore) ListForScope(ctx context.Context, portalID string, tenantID uuid.UUID) ([]SyncLogRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
        WHERE portal_id = $1 AND tenant_id = $2
        ORDER BY created_at DESC`, syncLogColumns, SyncLogsTable)

	rows, err := s.pool.Query(ctx, query, portalID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SyncLogRecord
	for rows.Next() {
		rec, err := scanSyncLogRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetLatestForEntity returns the newest audit entry matching an event type
// and Copilot id. Paid/void/delete flows use it to carry invoice display
// fields forward from the original created entry.
func (s *SyncLogStore) GetLatestForEntity(ctx context.Context, portalID string, tenantID uuid.UUID, eventType, copilotID string) (SyncLogRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
        WHERE portal_id = $1 AND tenant_id = $2 AND event_type = $3 AND copilot_id = $4
        ORDER BY created_at DESC
        LIMIT 1`, syncLogColumns, SyncLogsTable)
	return scanSyncLogRecord(s.pool.QueryRow(ctx, query, portalID, tenantID, eventType, copilotID))
}

func scanSyncLogRecord(row pgx.Row) (SyncLogRecord, error) {
	var rec SyncLogRecord
	if err := row.Scan(&rec.ID, &rec.PortalID, &rec.TenantID, &rec.SyncDate, &rec.EventType, &rec.Status, &rec.EntityType, &rec.CopilotID, &rec.XeroID, &rec.InvoiceNumber, &rec.CustomerName, &rec.CustomerEmail, &rec.Amount, &rec.TaxAmount, &rec.FeeAmount, &rec.ProductName, &rec.ProductPrice, &rec.XeroItemName, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncLogRecord{}, ErrNotFound
		}
		return SyncLogRecord{}, err
	}
	return rec, nil
}
