package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/copilot-platforms/xero-integration/gateway/copilot"
	"github.com/copilot-platforms/xero-integration/gateway/xero"
	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/syncerror"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	settingssvc "github.com/copilot-platforms/xero-integration/domains/settings/be/service"
	synclogs "github.com/copilot-platforms/xero-integration/domains/synclogs/be/service"
)

type mockXero struct {
	getInvoiceFn    func(ctx context.Context, sess xero.Session, invoiceID uuid.UUID) (xero.Invoice, error)
	createInvoiceFn func(ctx context.Context, sess xero.Session, invoice xero.Invoice) (xero.Invoice, error)
	updateStatusFn  func(ctx context.Context, sess xero.Session, invoiceID uuid.UUID, status string) (xero.Invoice, error)
	createPaymentFn func(ctx context.Context, sess xero.Session, payment xero.Payment) (xero.Payment, error)
}

func (m *mockXero) GetInvoice(ctx context.Context, sess xero.Session, invoiceID uuid.UUID) (xero.Invoice, error) {
	return m.getInvoiceFn(ctx, sess, invoiceID)
}

func (m *mockXero) CreateInvoice(ctx context.Context, sess xero.Session, invoice xero.Invoice) (xero.Invoice, error) {
	return m.createInvoiceFn(ctx, sess, invoice)
}

func (m *mockXero) UpdateInvoiceStatus(ctx context.Context, sess xero.Session, invoiceID uuid.UUID, status string) (xero.Invoice, error) {
	return m.updateStatusFn(ctx, sess, invoiceID, status)
}

func (m *mockXero) CreatePayment(ctx context.Context, sess xero.Session, payment xero.Payment) (xero.Payment, error) {
	return m.createPaymentFn(ctx, sess, payment)
}

type mockCopilot struct {
	getInvoiceFn func(ctx context.Context, token, id string) (copilot.Invoice, error)
}

func (m *mockCopilot) GetInvoice(ctx context.Context, token, id string) (copilot.Invoice, error) {
	return m.getInvoiceFn(ctx, token, id)
}

type mockContacts struct {
	contact xero.Contact
	err     error
}

func (m *mockContacts) Resolve(context.Context, workspace.Context, string, string) (xero.Contact, error) {
	return m.contact, m.err
}

type mockTaxRates struct {
	rate xero.TaxRate
}

func (m *mockTaxRates) GetTaxRateForPercentage(context.Context, xero.Session, float64) (xero.TaxRate, error) {
	return m.rate, nil
}

type mockItems struct {
	items map[string]xero.Item
}

func (m *mockItems) ItemsForPrices(context.Context, workspace.Context, []string, bool) (map[string]xero.Item, error) {
	return m.items, nil
}

type mockSettings struct {
	settings settingssvc.Settings
}

func (m *mockSettings) Get(context.Context, workspace.Context) (settingssvc.Settings, error) {
	return m.settings, nil
}

type mockInvoiceStore struct {
	records      map[string]persistence.SyncedInvoiceRecord
	statusCalls  []string
	lastSyncedAt *time.Time
}

func newMockInvoiceStore() *mockInvoiceStore {
	return &mockInvoiceStore{records: map[string]persistence.SyncedInvoiceRecord{}}
}

func (m *mockInvoiceStore) Get(_ context.Context, _ string, _ uuid.UUID, copilotInvoiceID string) (persistence.SyncedInvoiceRecord, error) {
	rec, ok := m.records[copilotInvoiceID]
	if !ok {
		return persistence.SyncedInvoiceRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (m *mockInvoiceStore) CreatePending(_ context.Context, portalID string, tenantID uuid.UUID, copilotInvoiceID string) (persistence.SyncedInvoiceRecord, error) {
	if _, exists := m.records[copilotInvoiceID]; exists {
		return persistence.SyncedInvoiceRecord{}, persistence.ErrInvoiceExists
	}
	rec := persistence.SyncedInvoiceRecord{
		ID:               uuid.New(),
		PortalID:         portalID,
		TenantID:         tenantID,
		CopilotInvoiceID: copilotInvoiceID,
		Status:           persistence.InvoiceSyncPending,
	}
	m.records[copilotInvoiceID] = rec
	return rec, nil
}

func (m *mockInvoiceStore) SetStatus(_ context.Context, id uuid.UUID, status string, xeroInvoiceID *uuid.UUID) (persistence.SyncedInvoiceRecord, error) {
	m.statusCalls = append(m.statusCalls, status)
	for key, rec := range m.records {
		if rec.ID == id {
			rec.Status = status
			if xeroInvoiceID != nil {
				rec.XeroInvoiceID = xeroInvoiceID
			}
			m.records[key] = rec
			return rec, nil
		}
	}
	return persistence.SyncedInvoiceRecord{}, persistence.ErrNotFound
}

func (m *mockInvoiceStore) SetStatusTx(ctx context.Context, _ pgx.Tx, id uuid.UUID, status string, xeroInvoiceID *uuid.UUID) (persistence.SyncedInvoiceRecord, error) {
	return m.SetStatus(ctx, id, status, xeroInvoiceID)
}

func (m *mockInvoiceStore) LastSyncedAt(context.Context, string, uuid.UUID) (*time.Time, error) {
	return m.lastSyncedAt, nil
}

type mockPaymentStore struct {
	payments map[string]persistence.SyncedPaymentRecord
}

func newMockPaymentStore() *mockPaymentStore {
	return &mockPaymentStore{payments: map[string]persistence.SyncedPaymentRecord{}}
}

func (m *mockPaymentStore) GetPaymentForInvoice(_ context.Context, _ string, _ uuid.UUID, copilotInvoiceID string) (persistence.SyncedPaymentRecord, error) {
	rec, ok := m.payments[copilotInvoiceID]
	if !ok {
		return persistence.SyncedPaymentRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (m *mockPaymentStore) CreateTx(_ context.Context, _ pgx.Tx, rec persistence.SyncedPaymentRecord) (persistence.SyncedPaymentRecord, error) {
	m.payments[rec.CopilotInvoiceID] = rec
	return rec, nil
}

type mockAudit struct {
	entries      []persistence.SyncLogRecord
	createdEntry persistence.SyncLogRecord
}

func (m *mockAudit) Append(_ context.Context, _ workspace.Context, rec persistence.SyncLogRecord) error {
	m.entries = append(m.entries, rec)
	return nil
}

func (m *mockAudit) AppendTx(ctx context.Context, _ pgx.Tx, ws workspace.Context, rec persistence.SyncLogRecord) error {
	return m.Append(ctx, ws, rec)
}

func (m *mockAudit) InvoiceCreatedEntry(context.Context, workspace.Context, string) (persistence.SyncLogRecord, error) {
	return m.createdEntry, nil
}

type mockTxRunner struct{}

func (mockTxRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fixture struct {
	xero     *mockXero
	copilot  *mockCopilot
	contacts *mockContacts
	taxRates *mockTaxRates
	items    *mockItems
	settings *mockSettings
	invoices *mockInvoiceStore
	payments *mockPaymentStore
	audit    *mockAudit
}

func newFixture() *fixture {
	return &fixture{
		xero:     &mockXero{},
		copilot:  &mockCopilot{},
		contacts: &mockContacts{contact: xero.Contact{ContactID: uuid.New(), Name: "Ada Lovelace", EmailAddress: "ada@example.com"}},
		taxRates: &mockTaxRates{},
		items:    &mockItems{},
		settings: &mockSettings{},
		invoices: newMockInvoiceStore(),
		payments: newMockPaymentStore(),
		audit:    &mockAudit{},
	}
}

func (f *fixture) service(cfg Config) *Service {
	return New(cfg, f.xero, f.copilot, f.contacts, f.taxRates, f.items, f.settings,
		f.invoices, f.payments, f.audit, mockTxRunner{})
}

func testWorkspace() workspace.Context {
	return workspace.Context{PortalID: "portal-1", TenantID: uuid.New(), Token: "copilot-token", XeroAccessToken: "xero-token"}
}

func sourceInvoice() copilot.Invoice {
	return copilot.Invoice{
		ID:               "inv-1",
		Number:           "INV-0042",
		ClientID:         "client-1",
		CollectionMethod: copilot.CollectionSendInvoice,
		DueDate:          "2026-04-30T00:00:00Z",
		SentDate:         "2026-03-14T09:26:53Z",
		Status:           copilot.InvoiceStatusOpen,
		LineItems: []copilot.InvoiceLineItem{
			{Amount: 12345, Description: "Retainer", Quantity: 1, PriceID: "price-1", ProductID: "prod-1"},
		},
		Total: 12345,
	}
}

func TestSyncInvoiceConvertsMinorUnitsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.items.items = map[string]xero.Item{"price-1": {ItemID: uuid.New(), Code: "abc123"}}

	var created xero.Invoice
	xeroID := uuid.New()
	f.xero.createInvoiceFn = func(_ context.Context, _ xero.Session, invoice xero.Invoice) (xero.Invoice, error) {
		created = invoice
		invoice.InvoiceID = xeroID
		return invoice, nil
	}

	err := f.service(Config{}).SyncInvoice(context.Background(), testWorkspace(), sourceInvoice())
	require.NoError(t, err)

	require.Equal(t, xero.InvoiceTypeAccRec, created.Type)
	require.Equal(t, xero.InvoiceStatusAuthorised, created.Status)
	require.Equal(t, "2026-03-14", created.Date)
	require.Equal(t, "2026-04-30", created.DueDate)
	require.Len(t, created.LineItems, 1)
	require.Equal(t, 123.45, created.LineItems[0].UnitAmount)

	rec := f.invoices.records["inv-1"]
	require.Equal(t, persistence.InvoiceSyncSuccess, rec.Status)
	require.Equal(t, xeroID, *rec.XeroInvoiceID)

	require.Len(t, f.audit.entries, 1)
	require.Equal(t, synclogs.EventCreated, f.audit.entries[0].EventType)
	require.Equal(t, 123.45, *f.audit.entries[0].Amount)
}

func TestSyncInvoiceIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	xeroID := uuid.New()
	f.invoices.records["inv-1"] = persistence.SyncedInvoiceRecord{
		ID:               uuid.New(),
		CopilotInvoiceID: "inv-1",
		Status:           persistence.InvoiceSyncSuccess,
		XeroInvoiceID:    &xeroID,
	}
	f.xero.createInvoiceFn = func(context.Context, xero.Session, xero.Invoice) (xero.Invoice, error) {
		t.Fatal("should not create a second invoice")
		return xero.Invoice{}, nil
	}

	err := f.service(Config{}).SyncInvoice(context.Background(), testWorkspace(), sourceInvoice())
	require.NoError(t, err)
	require.Empty(t, f.audit.entries)
}

func TestSyncInvoiceDropsUnmappedLinesAndDefersWhenEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture()
	// No items resolve, product auto-creation is off.
	f.xero.createInvoiceFn = func(context.Context, xero.Session, xero.Invoice) (xero.Invoice, error) {
		t.Fatal("should not create an invoice with no lines")
		return xero.Invoice{}, nil
	}

	err := f.service(Config{}).SyncInvoice(context.Background(), testWorkspace(), sourceInvoice())
	require.NoError(t, err)
	require.Equal(t, persistence.InvoiceSyncPending, f.invoices.records["inv-1"].Status)
}

func TestSyncInvoiceMarksFailedAndCarriesAudit(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.items.items = map[string]xero.Item{"price-1": {ItemID: uuid.New(), Code: "abc123"}}
	f.xero.createInvoiceFn = func(context.Context, xero.Session, xero.Invoice) (xero.Invoice, error) {
		return xero.Invoice{}, &xero.APIError{StatusCode: 400, Body: "validation"}
	}

	err := f.service(Config{}).SyncInvoice(context.Background(), testWorkspace(), sourceInvoice())
	require.Error(t, err)
	require.Equal(t, persistence.InvoiceSyncFailed, f.invoices.records["inv-1"].Status)

	rec := syncerror.AuditOf(err)
	require.NotNil(t, rec)
	require.Equal(t, persistence.SyncLogFailed, rec.Status)
	require.Equal(t, synclogs.EventCreated, rec.EventType)
}

func TestSyncInvoiceAppliesTaxFromEffectiveRate(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.items.items = map[string]xero.Item{"price-1": {ItemID: uuid.New(), Code: "abc123"}}
	f.taxRates.rate = xero.TaxRate{TaxType: "TAX001", EffectiveRate: 10}

	var created xero.Invoice
	f.xero.createInvoiceFn = func(_ context.Context, _ xero.Session, invoice xero.Invoice) (xero.Invoice, error) {
		created = invoice
		invoice.InvoiceID = uuid.New()
		return invoice, nil
	}

	inv := sourceInvoice()
	inv.TaxAmount = 1235
	inv.TaxPercentage = 10

	err := f.service(Config{}).SyncInvoice(context.Background(), testWorkspace(), inv)
	require.NoError(t, err)
	require.Equal(t, "TAX001", created.LineItems[0].TaxType)
	require.InDelta(t, 12.345, created.LineItems[0].TaxAmount, 1e-9)
}

func TestSyncPaidInvoiceSkipsWhenPaymentRowExists(t *testing.T) {
	t.Parallel()

	f := newFixture()
	xeroID := uuid.New()
	f.invoices.records["inv-1"] = persistence.SyncedInvoiceRecord{
		ID: uuid.New(), CopilotInvoiceID: "inv-1",
		Status: persistence.InvoiceSyncSuccess, XeroInvoiceID: &xeroID,
	}
	f.payments.payments["inv-1"] = persistence.SyncedPaymentRecord{XeroPaymentID: uuid.New()}

	var remoteCalls int
	f.xero.getInvoiceFn = func(_ context.Context, _ xero.Session, id uuid.UUID) (xero.Invoice, error) {
		remoteCalls++
		return xero.Invoice{InvoiceID: id, Status: xero.InvoiceStatusAuthorised}, nil
	}
	f.xero.createPaymentFn = func(context.Context, xero.Session, xero.Payment) (xero.Payment, error) {
		remoteCalls++
		t.Fatal("should not create a second payment")
		return xero.Payment{}, nil
	}

	err := f.service(Config{}).SyncPaidInvoice(context.Background(), testWorkspace(), "inv-1")
	require.NoError(t, err)
	require.Zero(t, remoteCalls, "a redelivered paid event must not reach the accounting API")
}

func TestSyncPaidInvoiceCommitsPaymentAndAudit(t *testing.T) {
	t.Parallel()

	f := newFixture()
	xeroID := uuid.New()
	f.invoices.records["inv-1"] = persistence.SyncedInvoiceRecord{
		ID: uuid.New(), CopilotInvoiceID: "inv-1",
		Status: persistence.InvoiceSyncSuccess, XeroInvoiceID: &xeroID,
	}
	number := "INV-0042"
	f.audit.createdEntry = persistence.SyncLogRecord{InvoiceNumber: &number}

	f.xero.getInvoiceFn = func(_ context.Context, _ xero.Session, id uuid.UUID) (xero.Invoice, error) {
		return xero.Invoice{InvoiceID: id, Status: xero.InvoiceStatusAuthorised, AmountDue: 123.45}, nil
	}
	var paid xero.Payment
	f.xero.createPaymentFn = func(_ context.Context, _ xero.Session, payment xero.Payment) (xero.Payment, error) {
		paid = payment
		payment.PaymentID = uuid.New()
		return payment, nil
	}

	err := f.service(Config{}).SyncPaidInvoice(context.Background(), testWorkspace(), "inv-1")
	require.NoError(t, err)
	require.Equal(t, 123.45, paid.Amount)
	require.Equal(t, xeroID, paid.Invoice.InvoiceID)

	require.Contains(t, f.payments.payments, "inv-1")
	require.Len(t, f.audit.entries, 1)
	require.Equal(t, synclogs.EventPaid, f.audit.entries[0].EventType)
	require.Equal(t, number, *f.audit.entries[0].InvoiceNumber)
}

func TestSyncPaidInvoiceBackfillsUnknownInvoice(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.items.items = map[string]xero.Item{"price-1": {ItemID: uuid.New(), Code: "abc123"}}

	xeroID := uuid.New()
	f.copilot.getInvoiceFn = func(_ context.Context, _, id string) (copilot.Invoice, error) {
		require.Equal(t, "inv-1", id)
		return sourceInvoice(), nil
	}
	f.xero.createInvoiceFn = func(_ context.Context, _ xero.Session, invoice xero.Invoice) (xero.Invoice, error) {
		invoice.InvoiceID = xeroID
		return invoice, nil
	}
	f.xero.getInvoiceFn = func(_ context.Context, _ xero.Session, id uuid.UUID) (xero.Invoice, error) {
		return xero.Invoice{InvoiceID: id, Status: xero.InvoiceStatusAuthorised, AmountDue: 123.45}, nil
	}
	f.xero.createPaymentFn = func(_ context.Context, _ xero.Session, payment xero.Payment) (xero.Payment, error) {
		payment.PaymentID = uuid.New()
		return payment, nil
	}

	err := f.service(Config{}).SyncPaidInvoice(context.Background(), testWorkspace(), "inv-1")
	require.NoError(t, err)
	require.Equal(t, persistence.InvoiceSyncSuccess, f.invoices.records["inv-1"].Status)
	require.Contains(t, f.payments.payments, "inv-1")
}

func TestDeleteInvoiceOnlyVoidsWhenDeleteSyncDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture()
	xeroID := uuid.New()
	f.invoices.records["inv-1"] = persistence.SyncedInvoiceRecord{
		ID: uuid.New(), CopilotInvoiceID: "inv-1",
		Status: persistence.InvoiceSyncSuccess, XeroInvoiceID: &xeroID,
	}
	f.xero.getInvoiceFn = func(_ context.Context, _ xero.Session, id uuid.UUID) (xero.Invoice, error) {
		return xero.Invoice{InvoiceID: id, Status: xero.InvoiceStatusAuthorised}, nil
	}

	var transitions []string
	f.xero.updateStatusFn = func(_ context.Context, _ xero.Session, _ uuid.UUID, status string) (xero.Invoice, error) {
		transitions = append(transitions, status)
		return xero.Invoice{}, nil
	}

	err := f.service(Config{DeleteSyncEnabled: false}).DeleteInvoice(context.Background(), testWorkspace(), "inv-1")
	require.NoError(t, err)
	require.Equal(t, []string{xero.InvoiceStatusVoided}, transitions)
	require.Empty(t, f.audit.entries)
}

func TestDeleteInvoiceVoidsThenDeletesWhenEnabled(t *testing.T) {
	t.Parallel()

	f := newFixture()
	xeroID := uuid.New()
	f.invoices.records["inv-1"] = persistence.SyncedInvoiceRecord{
		ID: uuid.New(), CopilotInvoiceID: "inv-1",
		Status: persistence.InvoiceSyncSuccess, XeroInvoiceID: &xeroID,
	}
	f.xero.getInvoiceFn = func(_ context.Context, _ xero.Session, id uuid.UUID) (xero.Invoice, error) {
		return xero.Invoice{InvoiceID: id, Status: xero.InvoiceStatusAuthorised}, nil
	}

	var transitions []string
	f.xero.updateStatusFn = func(_ context.Context, _ xero.Session, _ uuid.UUID, status string) (xero.Invoice, error) {
		transitions = append(transitions, status)
		return xero.Invoice{}, nil
	}

	err := f.service(Config{DeleteSyncEnabled: true}).DeleteInvoice(context.Background(), testWorkspace(), "inv-1")
	require.NoError(t, err)
	require.Equal(t, []string{xero.InvoiceStatusVoided, xero.InvoiceStatusDeleted}, transitions)
	require.Len(t, f.audit.entries, 1)
	require.Equal(t, synclogs.EventDeleted, f.audit.entries[0].EventType)
}

func TestVoidInvoiceAppendsAudit(t *testing.T) {
	t.Parallel()

	f := newFixture()
	xeroID := uuid.New()
	f.invoices.records["inv-1"] = persistence.SyncedInvoiceRecord{
		ID: uuid.New(), CopilotInvoiceID: "inv-1",
		Status: persistence.InvoiceSyncSuccess, XeroInvoiceID: &xeroID,
	}
	f.xero.getInvoiceFn = func(_ context.Context, _ xero.Session, id uuid.UUID) (xero.Invoice, error) {
		return xero.Invoice{InvoiceID: id, Status: xero.InvoiceStatusAuthorised}, nil
	}
	f.xero.updateStatusFn = func(_ context.Context, _ xero.Session, _ uuid.UUID, status string) (xero.Invoice, error) {
		require.Equal(t, xero.InvoiceStatusVoided, status)
		return xero.Invoice{}, nil
	}

	err := f.service(Config{}).VoidInvoice(context.Background(), testWorkspace(), "inv-1")
	require.NoError(t, err)
	require.Len(t, f.audit.entries, 1)
	require.Equal(t, synclogs.EventVoided, f.audit.entries[0].EventType)
}
