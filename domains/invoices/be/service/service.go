// Package service is the heart of the sync: it mirrors Copilot invoices into
// Xero and keeps their lifecycle (created, paid, voided, deleted) in step.
//
// Every invoice owns one sync record keyed by its Copilot id. The record is
// claimed with a pending row before any remote call, flipped to success with
// the Xero id on completion, and to failed otherwise. Redelivered events find
// the success row and return without touching Xero again.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copilot-platforms/xero-integration/gateway/copilot"
	"github.com/copilot-platforms/xero-integration/gateway/xero"
	"github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/syncerror"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	settingssvc "github.com/copilot-platforms/xero-integration/domains/settings/be/service"
	synclogs "github.com/copilot-platforms/xero-integration/domains/synclogs/be/service"
)

// XeroGateway is the slice of the Xero client this service needs.
type XeroGateway interface {
	GetInvoice(ctx context.Context, sess xero.Session, invoiceID uuid.UUID) (xero.Invoice, error)
	CreateInvoice(ctx context.Context, sess xero.Session, invoice xero.Invoice) (xero.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, sess xero.Session, invoiceID uuid.UUID, status string) (xero.Invoice, error)
	CreatePayment(ctx context.Context, sess xero.Session, payment xero.Payment) (xero.Payment, error)
}

// CopilotGateway fetches source invoices for lazy backfill.
type CopilotGateway interface {
	GetInvoice(ctx context.Context, token, id string) (copilot.Invoice, error)
}

// ContactResolver maps an invoice's customer to a Xero contact.
type ContactResolver interface {
	Resolve(ctx context.Context, ws workspace.Context, clientID, companyID string) (xero.Contact, error)
}

// TaxRateResolver finds or provisions the tax rate for a percentage.
type TaxRateResolver interface {
	GetTaxRateForPercentage(ctx context.Context, sess xero.Session, percentage float64) (xero.TaxRate, error)
}

// ItemResolver maps price ids to Xero catalog items.
type ItemResolver interface {
	ItemsForPrices(ctx context.Context, ws workspace.Context, priceIDs []string, autoCreate bool) (map[string]xero.Item, error)
}

// SettingsReader exposes the workspace flags that shape invoice syncing.
type SettingsReader interface {
	Get(ctx context.Context, ws workspace.Context) (settingssvc.Settings, error)
}

// InvoiceStore abstracts the synced_invoices table.
type InvoiceStore interface {
	Get(ctx context.Context, portalID string, tenantID uuid.UUID, copilotInvoiceID string) (persistence.SyncedInvoiceRecord, error)
	CreatePending(ctx context.Context, portalID string, tenantID uuid.UUID, copilotInvoiceID string) (persistence.SyncedInvoiceRecord, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string, xeroInvoiceID *uuid.UUID) (persistence.SyncedInvoiceRecord, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, xeroInvoiceID *uuid.UUID) (persistence.SyncedInvoiceRecord, error)
	LastSyncedAt(ctx context.Context, portalID string, tenantID uuid.UUID) (*time.Time, error)
}

// PaymentStore abstracts the synced_payments table.
type PaymentStore interface {
	GetPaymentForInvoice(ctx context.Context, portalID string, tenantID uuid.UUID, copilotInvoiceID string) (persistence.SyncedPaymentRecord, error)
	CreateTx(ctx context.Context, tx pgx.Tx, rec persistence.SyncedPaymentRecord) (persistence.SyncedPaymentRecord, error)
}

// AuditLog appends invoice sync entries to the audit trail.
type AuditLog interface {
	Append(ctx context.Context, ws workspace.Context, rec persistence.SyncLogRecord) error
	AppendTx(ctx context.Context, tx pgx.Tx, ws workspace.Context, rec persistence.SyncLogRecord) error
	InvoiceCreatedEntry(ctx context.Context, ws workspace.Context, copilotInvoiceID string) (persistence.SyncLogRecord, error)
}

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Config carries the invoice service's static knobs.
type Config struct {
	// DeleteSyncEnabled gates mirroring invoice deletion into Xero. When
	// off, a deleted source invoice is voided at most and otherwise left
	// alone.
	DeleteSyncEnabled bool
}

// Service syncs invoice lifecycle events.
type Service struct {
	cfg      Config
	xero     XeroGateway
	copilot  CopilotGateway
	contacts ContactResolver
	taxRates TaxRateResolver
	items    ItemResolver
	settings SettingsReader
	invoices InvoiceStore
	payments PaymentStore
	audit    AuditLog
	db       TxRunner
}

// New constructs the invoices service.
func New(cfg Config, xeroGW XeroGateway, copilotGW CopilotGateway, contacts ContactResolver, taxRates TaxRateResolver, items ItemResolver, settings SettingsReader, invoices InvoiceStore, payments PaymentStore, audit AuditLog, db TxRunner) *Service {
	if xeroGW == nil || copilotGW == nil || contacts == nil || taxRates == nil || items == nil ||
		settings == nil || invoices == nil || payments == nil || audit == nil || db == nil {
		panic("invoices service dependencies are required")
	}
	return &Service{
		cfg:      cfg,
		xero:     xeroGW,
		copilot:  copilotGW,
		contacts: contacts,
		taxRates: taxRates,
		items:    items,
		settings: settings,
		invoices: invoices,
		payments: payments,
		audit:    audit,
		db:       db,
	}
}

func session(ws workspace.Context) xero.Session {
	return xero.Session{AccessToken: ws.XeroAccessToken, TenantID: ws.TenantID}
}

// SyncInvoice mirrors a source invoice into Xero. Redeliveries of an already
// synced invoice return without side effects. An invoice whose lines cannot
// all be mapped yet stays pending and is picked up again on the next attempt.
func (s *Service) SyncInvoice(ctx context.Context, ws workspace.Context, inv copilot.Invoice) error {
	rec, err := s.claim(ctx, ws, inv.ID)
	if err != nil {
		return err
	}
	if rec.Status == persistence.InvoiceSyncSuccess {
		logging.Ctx(ctx).Info("invoice already synced", zap.String("invoiceId", inv.ID))
		return nil
	}

	created, audit, err := s.createRemoteInvoice(ctx, ws, inv)
	if err != nil {
		if _, serr := s.invoices.SetStatus(ctx, rec.ID, persistence.InvoiceSyncFailed, nil); serr != nil {
			err = errors.Join(err, serr)
		}
		return err
	}
	if created == nil {
		// No mappable lines yet; leave the claim pending.
		logging.Ctx(ctx).Info("invoice has no mappable lines, deferring", zap.String("invoiceId", inv.ID))
		return nil
	}

	if _, err := s.invoices.SetStatus(ctx, rec.ID, persistence.InvoiceSyncSuccess, &created.InvoiceID); err != nil {
		return fmt.Errorf("mark invoice synced: %w", err)
	}
	if err := s.audit.Append(ctx, ws, *audit); err != nil {
		return fmt.Errorf("record invoice audit entry: %w", err)
	}
	return nil
}

// claim returns the invoice's sync record, inserting the pending row on
// first sight. Losing the insert race to another delivery is fine; the
// winner's row is used.
func (s *Service) claim(ctx context.Context, ws workspace.Context, copilotInvoiceID string) (persistence.SyncedInvoiceRecord, error) {
	rec, err := s.invoices.Get(ctx, ws.PortalID, ws.TenantID, copilotInvoiceID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return persistence.SyncedInvoiceRecord{}, fmt.Errorf("look up invoice sync record: %w", err)
	}

	rec, err = s.invoices.CreatePending(ctx, ws.PortalID, ws.TenantID, copilotInvoiceID)
	if errors.Is(err, persistence.ErrInvoiceExists) {
		rec, err = s.invoices.Get(ctx, ws.PortalID, ws.TenantID, copilotInvoiceID)
	}
	if err != nil {
		return persistence.SyncedInvoiceRecord{}, fmt.Errorf("claim invoice sync record: %w", err)
	}
	return rec, nil
}

// createRemoteInvoice resolves the contact, tax rate and items concurrently,
// then creates the Xero invoice. A nil invoice with nil error means no line
// could be mapped. The returned audit entry is ready to append.
func (s *Service) createRemoteInvoice(ctx context.Context, ws workspace.Context, inv copilot.Invoice) (*xero.Invoice, *persistence.SyncLogRecord, error) {
	settings, err := s.settings.Get(ctx, ws)
	if err != nil {
		return nil, nil, s.failure(inv, fmt.Errorf("load settings: %w", err))
	}

	sess := session(ws)

	var (
		contact xero.Contact
		taxRate xero.TaxRate
		items   map[string]xero.Item
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		contact, err = s.contacts.Resolve(gctx, ws, inv.ClientID, inv.CompanyID)
		return err
	})
	if inv.TaxAmount > 0 {
		g.Go(func() error {
			var err error
			taxRate, err = s.taxRates.GetTaxRateForPercentage(gctx, sess, inv.TaxPercentage)
			return err
		})
	}
	g.Go(func() error {
		var err error
		items, err = s.items.ItemsForPrices(gctx, ws, priceIDs(inv.LineItems), settings.SyncProductsAutomatically)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, s.failure(inv, err)
	}

	lines := buildLineItems(inv, items, taxRate)
	if len(lines) == 0 {
		return nil, nil, nil
	}

	created, err := s.xero.CreateInvoice(ctx, sess, xero.Invoice{
		Type:          xero.InvoiceTypeAccRec,
		Status:        xero.InvoiceStatusAuthorised,
		InvoiceNumber: inv.Number,
		Contact:       xero.ContactRef{ContactID: contact.ContactID},
		Date:          dateOnly(inv.SentDate),
		DueDate:       dateOnly(inv.DueDate),
		LineItems:     lines,
	})
	if err != nil {
		return nil, nil, s.failure(inv, fmt.Errorf("create invoice: %w", err))
	}

	amount := float64(inv.Total) / 100
	taxAmount := sumLineTax(lines)
	audit := persistence.SyncLogRecord{
		EventType:     synclogs.EventCreated,
		Status:        persistence.SyncLogSuccess,
		EntityType:    synclogs.EntityInvoice,
		CopilotID:     &inv.ID,
		XeroID:        &created.InvoiceID,
		InvoiceNumber: &inv.Number,
		Amount:        &amount,
		TaxAmount:     &taxAmount,
	}
	if contact.Name != "" {
		audit.CustomerName = &contact.Name
	}
	if contact.EmailAddress != "" {
		audit.CustomerEmail = &contact.EmailAddress
	}
	return &created, &audit, nil
}

// failure wraps err with the failed audit entry for this invoice. Skips pass
// through untouched so the dispatcher can report them as success.
func (s *Service) failure(inv copilot.Invoice, err error) error {
	if syncerror.IsSkip(err) {
		return err
	}
	if syncerror.AuditOf(err) != nil {
		return err
	}
	msg := err.Error()
	amount := float64(inv.Total) / 100
	return syncerror.New("sync invoice", err).WithAudit(persistence.SyncLogRecord{
		EventType:     synclogs.EventCreated,
		Status:        persistence.SyncLogFailed,
		EntityType:    synclogs.EntityInvoice,
		CopilotID:     &inv.ID,
		InvoiceNumber: &inv.Number,
		Amount:        &amount,
		ErrorMessage:  &msg,
	})
}

func priceIDs(lines []copilot.InvoiceLineItem) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.PriceID != "" {
			ids = append(ids, line.PriceID)
		}
	}
	return ids
}

// buildLineItems converts source lines to Xero lines. A line survives only
// when its price maps to a catalog item with a code; amounts move from minor
// units to decimal exactly here.
func buildLineItems(inv copilot.Invoice, items map[string]xero.Item, taxRate xero.TaxRate) []xero.LineItem {
	lines := make([]xero.LineItem, 0, len(inv.LineItems))
	for _, line := range inv.LineItems {
		item, mapped := items[line.PriceID]
		if line.PriceID == "" || !mapped || item.Code == "" {
			continue
		}

		unitAmount := float64(line.Amount) / 100
		li := xero.LineItem{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitAmount:  unitAmount,
			ItemCode:    item.Code,
			AccountCode: xero.AccountCodeSales,
		}
		if inv.TaxAmount > 0 && taxRate.TaxType != "" {
			li.TaxType = taxRate.TaxType
			li.TaxAmount = unitAmount * line.Quantity * taxRate.EffectiveRate / 100
		}
		lines = append(lines, li)
	}
	return lines
}

func sumLineTax(lines []xero.LineItem) float64 {
	var total float64
	for _, line := range lines {
		total += line.TaxAmount
	}
	return total
}

// dateOnly trims a timestamp to its date part, the granularity the
// accounting API expects.
func dateOnly(ts string) string {
	if len(ts) > 10 {
		return ts[:10]
	}
	return ts
}

// validatedRecord returns the invoice's successful sync record along with
// the live Xero invoice. Invoices never seen before are backfilled from the
// source platform and synced on the spot.
func (s *Service) validatedRecord(ctx context.Context, ws workspace.Context, copilotInvoiceID string) (persistence.SyncedInvoiceRecord, xero.Invoice, error) {
	rec, err := s.invoices.Get(ctx, ws.PortalID, ws.TenantID, copilotInvoiceID)
	if errors.Is(err, persistence.ErrNotFound) || (err == nil && rec.Status != persistence.InvoiceSyncSuccess) {
		src, ferr := s.copilot.GetInvoice(ctx, ws.Token, copilotInvoiceID)
		if ferr != nil {
			return persistence.SyncedInvoiceRecord{}, xero.Invoice{}, fmt.Errorf("backfill invoice %s: %w", copilotInvoiceID, ferr)
		}
		if serr := s.SyncInvoice(ctx, ws, src); serr != nil {
			return persistence.SyncedInvoiceRecord{}, xero.Invoice{}, serr
		}
		rec, err = s.invoices.Get(ctx, ws.PortalID, ws.TenantID, copilotInvoiceID)
	}
	if err != nil {
		return persistence.SyncedInvoiceRecord{}, xero.Invoice{}, fmt.Errorf("look up invoice sync record: %w", err)
	}
	if rec.XeroInvoiceID == nil {
		return persistence.SyncedInvoiceRecord{}, xero.Invoice{}, fmt.Errorf("invoice %s has no synced counterpart yet", copilotInvoiceID)
	}

	remote, err := s.xero.GetInvoice(ctx, session(ws), *rec.XeroInvoiceID)
	if err != nil {
		return persistence.SyncedInvoiceRecord{}, xero.Invoice{}, fmt.Errorf("fetch invoice %s: %w", *rec.XeroInvoiceID, err)
	}
	return rec, remote, nil
}

// ValidatedInvoice returns the live Xero invoice mirroring a source invoice,
// backfilling the sync when the invoice was never seen before.
func (s *Service) ValidatedInvoice(ctx context.Context, ws workspace.Context, copilotInvoiceID string) (xero.Invoice, error) {
	_, remote, err := s.validatedRecord(ctx, ws, copilotInvoiceID)
	return remote, err
}

// SyncPaidInvoice applies a payment against the mirrored invoice. The status
// flip, the payment row and the audit entry commit in one transaction, and
// an existing payment row short-circuits redeliveries.
func (s *Service) SyncPaidInvoice(ctx context.Context, ws workspace.Context, copilotInvoiceID string) error {
	// The payment row is the last write of a successful sync, so its
	// presence proves the whole transition already committed. Checking it
	// first keeps redeliveries entirely local.
	if _, err := s.payments.GetPaymentForInvoice(ctx, ws.PortalID, ws.TenantID, copilotInvoiceID); err == nil {
		logging.Ctx(ctx).Info("payment already synced", zap.String("invoiceId", copilotInvoiceID))
		return nil
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("look up synced payment: %w", err)
	}

	rec, remote, err := s.validatedRecord(ctx, ws, copilotInvoiceID)
	if err != nil {
		return s.lifecycleFailure(synclogs.EventPaid, copilotInvoiceID, err)
	}

	amount := remote.AmountDue
	if amount == 0 {
		amount = remote.Total
	}
	payment, err := s.xero.CreatePayment(ctx, session(ws), xero.Payment{
		Invoice: xero.InvoiceRef{InvoiceID: remote.InvoiceID},
		Account: xero.AccountRef{Code: xero.AccountCodeBank},
		Amount:  amount,
	})
	if err != nil {
		return s.lifecycleFailure(synclogs.EventPaid, copilotInvoiceID, fmt.Errorf("create payment: %w", err))
	}

	audit, err := s.lifecycleEntry(ctx, ws, synclogs.EventPaid, copilotInvoiceID, remote.InvoiceID)
	if err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.invoices.SetStatusTx(ctx, tx, rec.ID, persistence.InvoiceSyncSuccess, nil); err != nil {
			return err
		}
		if _, err := s.payments.CreateTx(ctx, tx, persistence.SyncedPaymentRecord{
			PortalID:         ws.PortalID,
			TenantID:         ws.TenantID,
			CopilotInvoiceID: copilotInvoiceID,
			XeroInvoiceID:    remote.InvoiceID,
			XeroPaymentID:    payment.PaymentID,
			Type:             persistence.PaymentTypePayment,
		}); err != nil {
			return err
		}
		return s.audit.AppendTx(ctx, tx, ws, audit)
	})
	if err != nil {
		return fmt.Errorf("commit payment sync: %w", err)
	}
	return nil
}

// VoidInvoice voids the mirrored invoice. The local record keeps its status;
// only the audit trail notes the void.
func (s *Service) VoidInvoice(ctx context.Context, ws workspace.Context, copilotInvoiceID string) error {
	_, remote, err := s.validatedRecord(ctx, ws, copilotInvoiceID)
	if err != nil {
		return s.lifecycleFailure(synclogs.EventVoided, copilotInvoiceID, err)
	}

	if _, err := s.xero.UpdateInvoiceStatus(ctx, session(ws), remote.InvoiceID, xero.InvoiceStatusVoided); err != nil {
		return s.lifecycleFailure(synclogs.EventVoided, copilotInvoiceID, fmt.Errorf("void invoice: %w", err))
	}

	audit, err := s.lifecycleEntry(ctx, ws, synclogs.EventVoided, copilotInvoiceID, remote.InvoiceID)
	if err != nil {
		return err
	}
	if err := s.audit.Append(ctx, ws, audit); err != nil {
		return fmt.Errorf("record void audit entry: %w", err)
	}
	return nil
}

// DeleteInvoice mirrors a source-side deletion. The invoice is voided first
// when still live; the DELETED transition itself only happens when delete
// syncing is enabled for the deployment.
func (s *Service) DeleteInvoice(ctx context.Context, ws workspace.Context, copilotInvoiceID string) error {
	_, remote, err := s.validatedRecord(ctx, ws, copilotInvoiceID)
	if err != nil {
		return s.lifecycleFailure(synclogs.EventDeleted, copilotInvoiceID, err)
	}

	sess := session(ws)
	if remote.Status != xero.InvoiceStatusVoided {
		if _, err := s.xero.UpdateInvoiceStatus(ctx, sess, remote.InvoiceID, xero.InvoiceStatusVoided); err != nil {
			return s.lifecycleFailure(synclogs.EventDeleted, copilotInvoiceID, fmt.Errorf("void invoice before delete: %w", err))
		}
	}

	if !s.cfg.DeleteSyncEnabled {
		logging.Ctx(ctx).Info("delete sync disabled, leaving invoice voided", zap.String("invoiceId", copilotInvoiceID))
		return nil
	}

	if _, err := s.xero.UpdateInvoiceStatus(ctx, sess, remote.InvoiceID, xero.InvoiceStatusDeleted); err != nil {
		return s.lifecycleFailure(synclogs.EventDeleted, copilotInvoiceID, fmt.Errorf("delete invoice: %w", err))
	}

	audit, err := s.lifecycleEntry(ctx, ws, synclogs.EventDeleted, copilotInvoiceID, remote.InvoiceID)
	if err != nil {
		return err
	}
	if err := s.audit.Append(ctx, ws, audit); err != nil {
		return fmt.Errorf("record delete audit entry: %w", err)
	}
	return nil
}

// LastSyncedAt reports when the workspace last synced an invoice successfully.
func (s *Service) LastSyncedAt(ctx context.Context, ws workspace.Context) (*time.Time, error) {
	return s.invoices.LastSyncedAt(ctx, ws.PortalID, ws.TenantID)
}

// lifecycleEntry builds the audit entry for a paid/void/delete event,
// carrying display fields forward from the original created entry.
func (s *Service) lifecycleEntry(ctx context.Context, ws workspace.Context, eventType, copilotInvoiceID string, xeroInvoiceID uuid.UUID) (persistence.SyncLogRecord, error) {
	created, err := s.audit.InvoiceCreatedEntry(ctx, ws, copilotInvoiceID)
	if err != nil {
		return persistence.SyncLogRecord{}, fmt.Errorf("look up created audit entry: %w", err)
	}
	return persistence.SyncLogRecord{
		EventType:     eventType,
		Status:        persistence.SyncLogSuccess,
		EntityType:    synclogs.EntityInvoice,
		CopilotID:     &copilotInvoiceID,
		XeroID:        &xeroInvoiceID,
		InvoiceNumber: created.InvoiceNumber,
		CustomerName:  created.CustomerName,
		CustomerEmail: created.CustomerEmail,
		Amount:        created.Amount,
		TaxAmount:     created.TaxAmount,
	}, nil
}

func (s *Service) lifecycleFailure(eventType, copilotInvoiceID string, err error) error {
	if syncerror.IsSkip(err) || syncerror.AuditOf(err) != nil {
		return err
	}
	msg := err.Error()
	return syncerror.New(eventType+" invoice", err).WithAudit(persistence.SyncLogRecord{
		EventType:    eventType,
		Status:       persistence.SyncLogFailed,
		EntityType:   synclogs.EntityInvoice,
		CopilotID:    &copilotInvoiceID,
		ErrorMessage: &msg,
	})
}
