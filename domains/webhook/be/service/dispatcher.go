package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/metrics"
	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/syncerror"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	copilotgw "github.com/copilot-platforms/xero-integration/gateway/copilot"
	"github.com/copilot-platforms/xero-integration/gateway/xero"

	paymentssvc "github.com/copilot-platforms/xero-integration/domains/payments/be/service"
	settingssvc "github.com/copilot-platforms/xero-integration/domains/settings/be/service"
)

// InvoiceSyncer covers the invoice lifecycle operations.
type InvoiceSyncer interface {
	SyncInvoice(ctx context.Context, ws workspace.Context, inv copilotgw.Invoice) error
	SyncPaidInvoice(ctx context.Context, ws workspace.Context, copilotInvoiceID string) error
	VoidInvoice(ctx context.Context, ws workspace.Context, copilotInvoiceID string) error
	DeleteInvoice(ctx context.Context, ws workspace.Context, copilotInvoiceID string) error
}

// ItemSyncer covers the catalog operations.
type ItemSyncer interface {
	UpdateItemsForProduct(ctx context.Context, ws workspace.Context, productID, name, description string) error
	CreateItemForPrice(ctx context.Context, ws workspace.Context, priceID string) (xero.Item, error)
}

// FeeSyncer books absorbed fees.
type FeeSyncer interface {
	CreateFeeExpense(ctx context.Context, ws workspace.Context, event paymentssvc.FeeEvent) error
}

// SettingsReader exposes the flags that gate event handling.
type SettingsReader interface {
	Get(ctx context.Context, ws workspace.Context) (settingssvc.Settings, error)
}

// AuditLog persists failure entries prepared by the sync services.
type AuditLog interface {
	Append(ctx context.Context, ws workspace.Context, rec persistence.SyncLogRecord) error
}

// DeadLetters captures events that failed hard so the retry loop can replay
// them later.
type DeadLetters interface {
	Upsert(ctx context.Context, rec persistence.FailedSyncRecord) (persistence.FailedSyncRecord, error)
}

// Dispatcher routes parsed webhook events to the sync services and owns the
// failure path: failed audit entry first, then the dead-letter row, then the
// error back to the caller. Deliberate skips count as success so the source
// platform stops redelivering.
type Dispatcher struct {
	invoices    InvoiceSyncer
	items       ItemSyncer
	fees        FeeSyncer
	settings    SettingsReader
	audit       AuditLog
	deadLetters DeadLetters
}

// NewDispatcher constructs the dispatcher.
func NewDispatcher(invoices InvoiceSyncer, items ItemSyncer, fees FeeSyncer, settings SettingsReader, audit AuditLog, deadLetters DeadLetters) *Dispatcher {
	if invoices == nil || items == nil || fees == nil || settings == nil || audit == nil || deadLetters == nil {
		panic("dispatcher dependencies are required")
	}
	return &Dispatcher{
		invoices:    invoices,
		items:       items,
		fees:        fees,
		settings:    settings,
		audit:       audit,
		deadLetters: deadLetters,
	}
}

// Dispatch handles one parsed event under the given workspace. The returned
// error is nil for both synced and skipped events.
func (d *Dispatcher) Dispatch(ctx context.Context, ws workspace.Context, env Envelope) error {
	start := time.Now()
	err := d.dispatch(ctx, ws, env)
	metrics.SyncDuration.WithLabelValues(string(env.Type)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.WebhookEvents.WithLabelValues(string(env.Type), metrics.OutcomeSynced).Inc()
		return nil
	case syncerror.IsSkip(err):
		logging.Ctx(ctx).Info("event skipped",
			zap.String("eventType", string(env.Type)),
			zap.String("reason", err.Error()))
		metrics.WebhookEvents.WithLabelValues(string(env.Type), metrics.OutcomeSkipped).Inc()
		return nil
	}

	metrics.WebhookEvents.WithLabelValues(string(env.Type), metrics.OutcomeFailed).Inc()
	return d.fail(ctx, ws, env, err)
}

func (d *Dispatcher) dispatch(ctx context.Context, ws workspace.Context, env Envelope) error {
	switch event := env.Event.(type) {
	case InvoiceCreated:
		if event.Invoice.Status == copilotgw.InvoiceStatusDraft {
			return syncerror.Skip("draft invoice " + event.Invoice.ID)
		}
		if event.Invoice.CollectionMethod == copilotgw.CollectionChargeAutomatically {
			return syncerror.Skip("auto-charged invoice " + event.Invoice.ID)
		}
		return d.invoices.SyncInvoice(ctx, ws, event.Invoice)

	case InvoicePaid:
		return d.invoices.SyncPaidInvoice(ctx, ws, event.InvoiceID)

	case InvoiceVoided:
		return d.invoices.VoidInvoice(ctx, ws, event.InvoiceID)

	case InvoiceDeleted:
		return d.invoices.DeleteInvoice(ctx, ws, event.InvoiceID)

	case ProductUpdated:
		if err := d.requireFlag(ctx, ws, flagProductSync); err != nil {
			return err
		}
		return d.items.UpdateItemsForProduct(ctx, ws, event.ID, event.Name, event.Description)

	case PriceCreated:
		if err := d.requireFlag(ctx, ws, flagProductSync); err != nil {
			return err
		}
		_, err := d.items.CreateItemForPrice(ctx, ws, event.ID)
		return err

	case PaymentSucceeded:
		if err := d.requireFlag(ctx, ws, flagAbsorbedFees); err != nil {
			return err
		}
		return d.fees.CreateFeeExpense(ctx, ws, paymentssvc.FeeEvent{
			PaymentID:         event.ID,
			InvoiceID:         event.InvoiceID,
			FeePaidByPlatform: event.FeePaidByPlatform,
		})

	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, env.Event)
	}
}

type settingsFlag int

const (
	flagProductSync settingsFlag = iota
	flagAbsorbedFees
)

func (d *Dispatcher) requireFlag(ctx context.Context, ws workspace.Context, flag settingsFlag) error {
	settings, err := d.settings.Get(ctx, ws)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	switch flag {
	case flagProductSync:
		if !settings.SyncProductsAutomatically {
			return syncerror.Skip("automatic product sync is off")
		}
	case flagAbsorbedFees:
		if !settings.AddAbsorbedFees {
			return syncerror.Skip("absorbed fee booking is off")
		}
	}
	return nil
}

// fail persists the failure trail in order: the audit entry the service
// prepared, then the dead-letter row, then the original error back up.
func (d *Dispatcher) fail(ctx context.Context, ws workspace.Context, env Envelope, err error) error {
	logger := logging.Ctx(ctx)

	if rec := syncerror.AuditOf(err); rec != nil {
		if aerr := d.audit.Append(ctx, ws, *rec); aerr != nil {
			logger.Error("persisting failure audit entry failed", zap.Error(aerr))
		}
	}

	resourceID := env.Event.ResourceID()
	if resourceID == "" {
		logger.Error("failed event has no resource id, cannot dead-letter",
			zap.String("eventType", string(env.Type)))
		return err
	}
	if _, derr := d.deadLetters.Upsert(ctx, persistence.FailedSyncRecord{
		PortalID:   ws.PortalID,
		TenantID:   ws.TenantID,
		EventType:  string(env.Type),
		Token:      ws.Token,
		ResourceID: resourceID,
		Payload:    env.Data,
	}); derr != nil {
		logger.Error("dead-lettering event failed", zap.Error(derr))
	}

	logger.Error("event sync failed",
		zap.String("eventType", string(env.Type)),
		zap.String("resourceId", resourceID),
		zap.Error(err))
	return err
}
