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

// SyncedPaymentsTable records Xero payments and fee expenses created by the
// sync engine, keyed by the Xero payment id so a replayed paid event cannot
// apply a second payment.
const SyncedPaymentsTable = "synced_payments"

// Payment record types.
const (
	PaymentTypePayment = "payment"
	PaymentTypeExpense = "expense"
)

// SyncedPaymentRecord links one applied Xero payment (or fee expense) to the
// Copilot invoice it settles.
type SyncedPaymentRecord struct {
	ID               uuid.UUID `db:"id"`
	PortalID         string    `db:"portal_id"`
	TenantID         uuid.UUID `db:"tenant_id"`
	CopilotInvoiceID string    `db:"copilot_invoice_id"`
	XeroInvoiceID    uuid.UUID `db:"xero_invoice_id"`
	CopilotPaymentID *string   `db:"copilot_payment_id"`
	XeroPaymentID    uuid.UUID `db:"xero_payment_id"`
	Type             string    `db:"type"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// SyncedPaymentStore provides access to the synced_payments table.
type SyncedPaymentStore struct {
	pool *pgxpool.Pool
}

// NewSyncedPaymentStore creates a store; assumes bootstrap already created the table.
func NewSyncedPaymentStore(pool *pgxpool.Pool) (*SyncedPaymentStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SyncedPaymentStore{pool: pool}, nil
}

const syncedPaymentColumns = `id, portal_id, tenant_id, copilot_invoice_id,
    xero_invoice_id, copilot_payment_id, xero_payment_id, type, created_at, updated_at`

// GetPaymentForInvoice returns the applied payment row for an invoice, if
// any. Fee expenses are excluded; only type=payment counts as "already paid".
func (s *SyncedPaymentStore) GetPaymentForInvoice(ctx context.Context, portalID string, tenantID uuid.UUID, copilotInvoiceID string) (SyncedPaymentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
        WHERE portal_id = $1 AND tenant_id = $2 AND copilot_invoice_id = $3 AND type = $4`,
		syncedPaymentColumns, SyncedPaymentsTable)
	return scanSyncedPaymentRecord(s.pool.QueryRow(ctx, query, portalID, tenantID, copilotInvoiceID, PaymentTypePayment))
}

// Create inserts a payment or expense row.
func (s *SyncedPaymentStore) Create(ctx context.Context, rec SyncedPaymentRecord) (SyncedPaymentRecord, error) {
	return s.create(ctx, s.pool, rec)
}

// CreateTx is Create inside a caller-owned transaction.
func (s *SyncedPaymentStore) CreateTx(ctx context.Context, tx pgx.Tx, rec SyncedPaymentRecord) (SyncedPaymentRecord, error) {
	return s.create(ctx, tx, rec)
}

func (s *SyncedPaymentStore) create(ctx context.Context, q queryRower, rec SyncedPaymentRecord) (SyncedPaymentRecord, error) {
	if rec.XeroPaymentID == uuid.Nil {
		return SyncedPaymentRecord{}, errors.New("xero payment id is required")
	}
	if rec.Type != PaymentTypePayment && rec.Type != PaymentTypeExpense {
		return SyncedPaymentRecord{}, fmt.Errorf("invalid payment type %q", rec.Type)
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (portal_id, tenant_id, copilot_invoice_id, xero_invoice_id,
            copilot_payment_id, xero_payment_id, type)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING %s
    `, SyncedPaymentsTable, syncedPaymentColumns)

	row := q.QueryRow(ctx, query,
		rec.PortalID, rec.TenantID, rec.CopilotInvoiceID, rec.XeroInvoiceID,
		rec.CopilotPaymentID, rec.XeroPaymentID, rec.Type,
	)
	return scanSyncedPaymentRecord(row)
}

func scanSyncedPaymentRecord(row pgx.Row) (SyncedPaymentRecord, error) {
	var rec SyncedPaymentRecord
	if err := row.Scan(&rec.ID, &rec.PortalID, &rec.TenantID, &rec.CopilotInvoiceID, &rec.XeroInvoiceID, &rec.CopilotPaymentID, &rec.XeroPaymentID, &rec.Type, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncedPaymentRecord{}, ErrNotFound
		}
		return SyncedPaymentRecord{}, err
	}
	return rec, nil
}
