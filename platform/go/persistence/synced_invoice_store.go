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

// SyncedInvoicesTable tracks per-invoice sync state. A row is written with
// status pending before any remote call so a concurrent duplicate delivery
// trips the unique constraint instead of double-creating in Xero.
const SyncedInvoicesTable = "synced_invoices"

// Invoice sync statuses.
const (
	InvoiceSyncPending = "pending"
	InvoiceSyncSuccess = "success"
	InvoiceSyncFailed  = "failed"
)

// SyncedInvoiceRecord links one Copilot invoice to its Xero counterpart.
// XeroInvoiceID stays nil while the sync is pending or failed.
type SyncedInvoiceRecord struct {
	ID               uuid.UUID  `db:"id"`
	PortalID         string     `db:"portal_id"`
	TenantID         uuid.UUID  `db:"tenant_id"`
	CopilotInvoiceID string     `db:"copilot_invoice_id"`
	XeroInvoiceID    *uuid.UUID `db:"xero_invoice_id"`
	Status           string     `db:"status"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// SyncedInvoiceStore provides access to the synced_invoices table.
type SyncedInvoiceStore struct {
	pool *pgxpool.Pool
}

// NewSyncedInvoiceStore creates a store; assumes bootstrap already created the table.
func NewSyncedInvoiceStore(pool *pgxpool.Pool) (*SyncedInvoiceStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SyncedInvoiceStore{pool: pool}, nil
}

const syncedInvoiceColumns = `id, portal_id, tenant_id, copilot_invoice_id,
    xero_invoice_id, status, created_at, updated_at`

// Get fetches the sync row for a Copilot invoice.
func (s *SyncedInvoiceStore) Get(ctx context.Context, portalID string, tenantID uuid.UUID, copilotInvoiceID string) (SyncedInvoiceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
        WHERE portal_id = $1 AND tenant_id = $2 AND copilot_invoice_id = $3`,
		syncedInvoiceColumns, SyncedInvoicesTable)
	return scanSyncedInvoiceRecord(s.pool.QueryRow(ctx, query, portalID, tenantID, copilotInvoiceID))
}

// ErrInvoiceExists signals that another delivery already claimed this invoice.
var ErrInvoiceExists = errors.New("invoice sync record already exists")

// CreatePending claims an invoice for sync by inserting its pending row.
// Returns ErrInvoiceExists when a row for the invoice is already present.
func (s *SyncedInvoiceStore) CreatePending(ctx context.Context, portalID string, tenantID uuid.UUID, copilotInvoiceID string) (SyncedInvoiceRecord, error) {
	if copilotInvoiceID == "" {
		return SyncedInvoiceRecord{}, errors.New("copilot invoice id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (portal_id, tenant_id, copilot_invoice_id, status)
        VALUES ($1,$2,$3,$4)
        RETURNING %s
    `, SyncedInvoicesTable, syncedInvoiceColumns)

	row := s.pool.QueryRow(ctx, query, portalID, tenantID, copilotInvoiceID, InvoiceSyncPending)

	out, err := scanSyncedInvoiceRecord(row)
	if isUniqueViolation(err) {
		return SyncedInvoiceRecord{}, ErrInvoiceExists
	}
	return out, err
}

// SetStatus records the outcome of a sync attempt, optionally binding the
// Xero invoice id on success.
func (s *SyncedInvoiceStore) SetStatus(ctx context.Context, id uuid.UUID, status string, xeroInvoiceID *uuid.UUID) (SyncedInvoiceRecord, error) {
	return s.setStatus(ctx, s.pool, id, status, xeroInvoiceID)
}

// SetStatusTx is SetStatus inside a caller-owned transaction.
func (s *SyncedInvoiceStore) SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, xeroInvoiceID *uuid.UUID) (SyncedInvoiceRecord, error) {
	return s.setStatus(ctx, tx, id, status, xeroInvoiceID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *SyncedInvoiceStore) setStatus(ctx context.Context, q queryRower, id uuid.UUID, status string, xeroInvoiceID *uuid.UUID) (SyncedInvoiceRecord, error) {
	if status != InvoiceSyncPending && status != InvoiceSyncSuccess && status != InvoiceSyncFailed {
		return SyncedInvoiceRecord{}, fmt.Errorf("invalid invoice sync status %q", status)
	}

	query := fmt.Sprintf(`
        UPDATE %s SET status = $2, xero_invoice_id = COALESCE($3, xero_invoice_id), updated_at = NOW()
        WHERE id = $1
        RETURNING %s
    `, SyncedInvoicesTable, syncedInvoiceColumns)
	return scanSyncedInvoiceRecord(q.QueryRow(ctx, query, id, status, xeroInvoiceID))
}

// LastSyncedAt returns the updated_at of the most recent successful sync in
// scope, or nil when nothing has synced yet.
func (s *SyncedInvoiceStore) LastSyncedAt(ctx context.Context, portalID string, tenantID uuid.UUID) (*time.Time, error) {
	query := fmt.Sprintf(`SELECT MAX(updated_at) FROM %s
        WHERE portal_id = $1 AND tenant_id = $2 AND status = $3`, SyncedInvoicesTable)

	var last *time.Time
	if err := s.pool.QueryRow(ctx, query, portalID, tenantID, InvoiceSyncSuccess).Scan(&last); err != nil {
		return nil, err
	}
	return last, nil
}

func scanSyncedInvoiceRecord(row pgx.Row) (SyncedInvoiceRecord, error) {
	var rec SyncedInvoiceRecord
	if err := row.Scan(&rec.ID, &rec.PortalID, &rec.TenantID, &rec.CopilotInvoiceID, &rec.XeroInvoiceID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncedInvoiceRecord{}, ErrNotFound
		}
		return SyncedInvoiceRecord{}, err
	}
	return rec, nil
}
