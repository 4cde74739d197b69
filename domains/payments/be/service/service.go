// Package service books absorbed processing fees into the accounting ledger.
// When a payment succeeds and the workspace opted in, the platform-absorbed
// share of the fee becomes a SPEND bank transaction against the clearing
// asset account, charged to the fee expense account.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/copilot-platforms/xero-integration/gateway/xero"
	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/syncerror"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	synclogs "github.com/copilot-platforms/xero-integration/domains/synclogs/be/service"
)

const feeLineDescription = "Assembly Absorbed Fees"

// XeroGateway is the slice of the Xero client this service needs.
type XeroGateway interface {
	CreateBankTransaction(ctx context.Context, sess xero.Session, txn xero.BankTransaction) (xero.BankTransaction, error)
}

// InvoiceResolver returns the live Xero invoice for a source invoice id.
type InvoiceResolver interface {
	ValidatedInvoice(ctx context.Context, ws workspace.Context, copilotInvoiceID string) (xero.Invoice, error)
}

// AccountProvisioner finds or creates the accounts fee booking writes to.
type AccountProvisioner interface {
	GetOrCreateExpenseAccount(ctx context.Context, sess xero.Session) (xero.Account, error)
	GetOrCreateAssetAccount(ctx context.Context, sess xero.Session) (xero.Account, error)
}

// PaymentStore abstracts the synced_payments table.
type PaymentStore interface {
	Create(ctx context.Context, rec persistence.SyncedPaymentRecord) (persistence.SyncedPaymentRecord, error)
}

// AuditLog appends fee entries to the audit trail.
type AuditLog interface {
	Append(ctx context.Context, ws workspace.Context, rec persistence.SyncLogRecord) error
}

// FeeEvent is the slice of a payment.succeeded event the fee flow needs.
// FeePaidByPlatform is in minor units.
type FeeEvent struct {
	PaymentID         string
	InvoiceID         string
	FeePaidByPlatform int64
}

// Service books absorbed fees.
type Service struct {
	xero     XeroGateway
	invoices InvoiceResolver
	accounts AccountProvisioner
	payments PaymentStore
	audit    AuditLog
}

// New constructs the payments service.
func New(xeroGW XeroGateway, invoices InvoiceResolver, accounts AccountProvisioner, payments PaymentStore, audit AuditLog) *Service {
	if xeroGW == nil || invoices == nil || accounts == nil || payments == nil || audit == nil {
		panic("payments service dependencies are required")
	}
	return &Service{xero: xeroGW, invoices: invoices, accounts: accounts, payments: payments, audit: audit}
}

// CreateFeeExpense books the platform-absorbed fee for one successful
// payment. Events with no absorbed share are skipped.
func (s *Service) CreateFeeExpense(ctx context.Context, ws workspace.Context, event FeeEvent) error {
	if event.FeePaidByPlatform <= 0 {
		return syncerror.Skip("no platform-absorbed fee on payment " + event.PaymentID)
	}
	if err := s.createFeeExpense(ctx, ws, event); err != nil {
		if syncerror.IsSkip(err) || syncerror.AuditOf(err) != nil {
			return err
		}
		msg := err.Error()
		return syncerror.New("sync fee expense", err).WithAudit(persistence.SyncLogRecord{
			EventType:    synclogs.EventCreated,
			Status:       persistence.SyncLogFailed,
			EntityType:   synclogs.EntityExpense,
			CopilotID:    &event.PaymentID,
			ErrorMessage: &msg,
		})
	}
	return nil
}

func (s *Service) createFeeExpense(ctx context.Context, ws workspace.Context, event FeeEvent) error {
	invoice, err := s.invoices.ValidatedInvoice(ctx, ws, event.InvoiceID)
	if err != nil {
		return err
	}

	sess := xero.Session{AccessToken: ws.XeroAccessToken, TenantID: ws.TenantID}

	var assetAccount, expenseAccount xero.Account
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		assetAccount, err = s.accounts.GetOrCreateAssetAccount(gctx, sess)
		return err
	})
	g.Go(func() error {
		var err error
		expenseAccount, err = s.accounts.GetOrCreateExpenseAccount(gctx, sess)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	feeAmount := float64(event.FeePaidByPlatform) / 100
	txn, err := s.xero.CreateBankTransaction(ctx, sess, xero.BankTransaction{
		Type:        xero.BankTransactionTypeSpend,
		BankAccount: xero.AccountRef{Code: assetAccount.Code},
		Contact:     xero.ContactRef{Name: xero.ExpenseAccountName},
		Reference:   invoice.InvoiceID.String(),
		LineItems: []xero.LineItem{{
			Description: feeLineDescription,
			Quantity:    1,
			UnitAmount:  feeAmount,
			AccountCode: expenseAccount.Code,
		}},
	})
	if err != nil {
		return fmt.Errorf("create fee bank transaction: %w", err)
	}
	if txn.BankTransactionID == uuid.Nil {
		return errors.New("fee bank transaction came back without an id")
	}

	if _, err := s.payments.Create(ctx, persistence.SyncedPaymentRecord{
		PortalID:         ws.PortalID,
		TenantID:         ws.TenantID,
		CopilotInvoiceID: event.InvoiceID,
		XeroInvoiceID:    invoice.InvoiceID,
		CopilotPaymentID: &event.PaymentID,
		XeroPaymentID:    txn.BankTransactionID,
		Type:             persistence.PaymentTypeExpense,
	}); err != nil {
		return fmt.Errorf("persist fee expense record: %w", err)
	}

	rec := persistence.SyncLogRecord{
		EventType:  synclogs.EventCreated,
		Status:     persistence.SyncLogSuccess,
		EntityType: synclogs.EntityExpense,
		CopilotID:  &event.PaymentID,
		XeroID:     &txn.BankTransactionID,
		Amount:     &feeAmount,
		FeeAmount:  &feeAmount,
	}
	if invoice.InvoiceNumber != "" {
		rec.InvoiceNumber = &invoice.InvoiceNumber
	}
	if err := s.audit.Append(ctx, ws, rec); err != nil {
		return fmt.Errorf("record fee audit entry: %w", err)
	}
	return nil
}
