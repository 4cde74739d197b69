// Package service owns the sync audit trail: every sync outcome appends one
// row, and workspaces download their history as CSV. The CSV column order is
// a contract with downstream spreadsheet consumers; never reorder it.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"
)

// Audit event types.
const (
	EventCreated  = "created"
	EventPaid     = "paid"
	EventVoided   = "voided"
	EventDeleted  = "deleted"
	EventUpdated  = "updated"
	EventMapped   = "mapped"
	EventUnmapped = "unmapped"
)

// Audit entity types.
const (
	EntityInvoice  = "invoice"
	EntityCustomer = "customer"
	EntityProduct  = "product"
	EntityExpense  = "expense"
)

// csvHeader is the export contract.
var csvHeader = []string{
	"sync_date", "sync_time", "event_type", "status", "entity_type",
	"assembly_id", "xero_id", "invoice_number", "customer_name",
	"customer_email", "amount", "tax_amount", "fee_amount", "product_name",
	"product_price", "xero_item_name", "error_message",
}

// Store abstracts the sync_logs table.
type Store interface {
	Create(ctx context.Context, rec persistence.SyncLogRecord) (persistence.SyncLogRecord, error)
	CreateTx(ctx context.Context, tx pgx.Tx, rec persistence.SyncLogRecord) (persistence.SyncLogRecord, error)
	ListForScope(ctx context.Context, portalID string, tenantID uuid.UUID) ([]persistence.SyncLogRecord, error)
	GetLatestForEntity(ctx context.Context, portalID string, tenantID uuid.UUID, eventType, copilotID string) (persistence.SyncLogRecord, error)
}

// Service provides audit log operations.
type Service struct {
	store Store
}

// New constructs the sync log service.
func New(store Store) *Service {
	if store == nil {
		panic("sync log store is required")
	}
	return &Service{store: store}
}

// Append writes one audit entry scoped to the workspace.
func (s *Service) Append(ctx context.Context, ws workspace.Context, rec persistence.SyncLogRecord) error {
	rec.PortalID = ws.PortalID
	rec.TenantID = ws.TenantID
	_, err := s.store.Create(ctx, rec)
	return err
}

// AppendTx is Append inside a caller-owned transaction.
func (s *Service) AppendTx(ctx context.Context, tx pgx.Tx, ws workspace.Context, rec persistence.SyncLogRecord) error {
	rec.PortalID = ws.PortalID
	rec.TenantID = ws.TenantID
	_, err := s.store.CreateTx(ctx, tx, rec)
	return err
}

// InvoiceCreatedEntry returns the audit entry written when an invoice was
// first synced, so later paid/void/delete entries can reuse its display
// fields. Returns a zero record when no created entry exists yet.
func (s *Service) InvoiceCreatedEntry(ctx context.Context, ws workspace.Context, copilotInvoiceID string) (persistence.SyncLogRecord, error) {
	rec, err := s.store.GetLatestForEntity(ctx, ws.PortalID, ws.TenantID, EventCreated, copilotInvoiceID)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.SyncLogRecord{}, nil
	}
	return rec, err
}

// WriteCSV streams the workspace's audit trail, newest first.
func (s *Service) WriteCSV(ctx context.Context, ws workspace.Context, w io.Writer) error {
	logs, err := s.store.ListForScope(ctx, ws.PortalID, ws.TenantID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, log := range logs {
		row := []string{
			log.SyncDate.UTC().Format("2006-01-02"),
			log.SyncDate.UTC().Format("15:04:05"),
			log.EventType,
			log.Status,
			log.EntityType,
			strDeref(log.CopilotID),
			uuidDeref(log.XeroID),
			strDeref(log.InvoiceNumber),
			strDeref(log.CustomerName),
			strDeref(log.CustomerEmail),
			floatDeref(log.Amount),
			floatDeref(log.TaxAmount),
			floatDeref(log.FeeAmount),
			strDeref(log.ProductName),
			floatDeref(log.ProductPrice),
			strDeref(log.XeroItemName),
			strDeref(log.ErrorMessage),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func uuidDeref(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func floatDeref(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
