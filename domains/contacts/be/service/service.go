// Package service resolves the Xero contact for an invoice's customer,
// creating or repairing the mapping as needed. Contacts are keyed per
// workspace by the Copilot client or company id; a mapping whose contact was
// deleted on the Xero side is dropped and rebuilt rather than trusted.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

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
	GetContact(ctx context.Context, sess xero.Session, contactID uuid.UUID) (xero.Contact, error)
	CreateContact(ctx context.Context, sess xero.Session, contact xero.Contact) (xero.Contact, error)
	UpdateContact(ctx context.Context, sess xero.Session, contact xero.Contact) (xero.Contact, error)
}

// CopilotGateway is the slice of the Copilot client this service needs.
type CopilotGateway interface {
	GetClient(ctx context.Context, token, id string) (copilot.ClientUser, error)
	GetCompany(ctx context.Context, token, id string) (copilot.Company, error)
}

// SettingsReader exposes the workspace flags that shape contact resolution.
type SettingsReader interface {
	Get(ctx context.Context, ws workspace.Context) (settingssvc.Settings, error)
}

// MappingStore abstracts the synced_contacts table.
type MappingStore interface {
	Get(ctx context.Context, portalID string, tenantID uuid.UUID, clientOrCompanyID string) (persistence.SyncedContactRecord, error)
	Create(ctx context.Context, rec persistence.SyncedContactRecord) (persistence.SyncedContactRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuditLog appends contact sync entries to the audit trail.
type AuditLog interface {
	Append(ctx context.Context, ws workspace.Context, rec persistence.SyncLogRecord) error
}

// Service resolves invoice customers to Xero contacts.
type Service struct {
	xero     XeroGateway
	copilot  CopilotGateway
	settings SettingsReader
	mappings MappingStore
	audit    AuditLog
}

// New constructs the contacts service.
func New(xeroGW XeroGateway, copilotGW CopilotGateway, settings SettingsReader, mappings MappingStore, audit AuditLog) *Service {
	if xeroGW == nil || copilotGW == nil || settings == nil || mappings == nil || audit == nil {
		panic("contacts service dependencies are required")
	}
	return &Service{xero: xeroGW, copilot: copilotGW, settings: settings, mappings: mappings, audit: audit}
}

// desiredContact is what the Xero contact should look like for the customer.
type desiredContact struct {
	sourceID string
	userType string
	contact  xero.Contact
}

// Resolve returns the Xero contact for an invoice's customer. The company is
// used when the workspace prefers company names or the invoice carries no
// client id; otherwise the individual client is used. Existing contacts are
// updated only when a tracked field actually changed.
func (s *Service) Resolve(ctx context.Context, ws workspace.Context, clientID, companyID string) (xero.Contact, error) {
	contact, err := s.resolve(ctx, ws, clientID, companyID)
	if err != nil {
		msg := err.Error()
		return xero.Contact{}, syncerror.New("sync customer", err).WithAudit(persistence.SyncLogRecord{
			EventType:    synclogs.EventCreated,
			Status:       persistence.SyncLogFailed,
			EntityType:   synclogs.EntityCustomer,
			ErrorMessage: &msg,
		})
	}
	return contact, nil
}

func (s *Service) resolve(ctx context.Context, ws workspace.Context, clientID, companyID string) (xero.Contact, error) {
	desired, err := s.desiredContact(ctx, ws, clientID, companyID)
	if err != nil {
		return xero.Contact{}, err
	}

	sess := xero.Session{AccessToken: ws.XeroAccessToken, TenantID: ws.TenantID}

	mapping, err := s.mappings.Get(ctx, ws.PortalID, ws.TenantID, desired.sourceID)
	switch {
	case err == nil:
		existing, err := s.xero.GetContact(ctx, sess, mapping.ContactID)
		if xero.IsNotFound(err) {
			// The contact was deleted out from under the mapping.
			if err := s.mappings.Delete(ctx, mapping.ID); err != nil {
				return xero.Contact{}, fmt.Errorf("drop stale contact mapping: %w", err)
			}
		} else if err != nil {
			return xero.Contact{}, fmt.Errorf("fetch contact %s: %w", mapping.ContactID, err)
		} else {
			return s.reconcile(ctx, sess, existing, desired.contact)
		}
	case !errors.Is(err, persistence.ErrNotFound):
		return xero.Contact{}, fmt.Errorf("look up contact mapping: %w", err)
	}

	return s.create(ctx, ws, sess, desired)
}

func (s *Service) desiredContact(ctx context.Context, ws workspace.Context, clientID, companyID string) (desiredContact, error) {
	settings, err := s.settings.Get(ctx, ws)
	if err != nil {
		return desiredContact{}, fmt.Errorf("load settings: %w", err)
	}

	if settings.UseCompanyName || clientID == "" {
		if companyID == "" {
			return desiredContact{}, errors.New("invoice has neither client nor company")
		}
		company, err := s.copilot.GetCompany(ctx, ws.Token, companyID)
		if err != nil {
			return desiredContact{}, fmt.Errorf("fetch company %s: %w", companyID, err)
		}
		contact := xero.Contact{Name: company.Name}
		// Companies carry no email of their own; best effort from the client.
		if clientID != "" {
			if client, err := s.copilot.GetClient(ctx, ws.Token, clientID); err == nil {
				contact.EmailAddress = client.Email
			} else {
				logging.Ctx(ctx).Warn("company contact email fallback failed",
					zap.String("client_id", clientID), zap.Error(err))
			}
		}
		return desiredContact{
			sourceID: company.ID,
			userType: persistence.ContactUserTypeCompany,
			contact:  contact,
		}, nil
	}

	client, err := s.copilot.GetClient(ctx, ws.Token, clientID)
	if err != nil {
		return desiredContact{}, fmt.Errorf("fetch client %s: %w", clientID, err)
	}
	return desiredContact{
		sourceID: client.ID,
		userType: persistence.ContactUserTypeClient,
		contact: xero.Contact{
			Name:         clientName(client),
			FirstName:    client.GivenName,
			LastName:     client.FamilyName,
			EmailAddress: client.Email,
		},
	}, nil
}

// reconcile pushes desired onto existing when any tracked field differs.
func (s *Service) reconcile(ctx context.Context, sess xero.Session, existing, desired xero.Contact) (xero.Contact, error) {
	if existing.Name == desired.Name &&
		existing.FirstName == desired.FirstName &&
		existing.LastName == desired.LastName &&
		existing.EmailAddress == desired.EmailAddress {
		return existing, nil
	}

	desired.ContactID = existing.ContactID
	updated, err := s.xero.UpdateContact(ctx, sess, desired)
	if err != nil {
		return xero.Contact{}, fmt.Errorf("update contact %s: %w", existing.ContactID, err)
	}
	return updated, nil
}

func (s *Service) create(ctx context.Context, ws workspace.Context, sess xero.Session, desired desiredContact) (xero.Contact, error) {
	created, err := s.xero.CreateContact(ctx, sess, desired.contact)
	if err != nil {
		return xero.Contact{}, fmt.Errorf("create contact: %w", err)
	}

	if _, err := s.mappings.Create(ctx, persistence.SyncedContactRecord{
		PortalID:          ws.PortalID,
		TenantID:          ws.TenantID,
		ClientOrCompanyID: desired.sourceID,
		UserType:          desired.userType,
		ContactID:         created.ContactID,
	}); err != nil {
		return xero.Contact{}, fmt.Errorf("persist contact mapping: %w", err)
	}

	rec := persistence.SyncLogRecord{
		EventType:    synclogs.EventMapped,
		Status:       persistence.SyncLogSuccess,
		EntityType:   synclogs.EntityCustomer,
		CopilotID:    &desired.sourceID,
		XeroID:       &created.ContactID,
		CustomerName: &created.Name,
	}
	if created.EmailAddress != "" {
		rec.CustomerEmail = &created.EmailAddress
	}
	if err := s.audit.Append(ctx, ws, rec); err != nil {
		return xero.Contact{}, fmt.Errorf("record contact audit entry: %w", err)
	}
	return created, nil
}

func clientName(client copilot.ClientUser) string {
	return strings.TrimSpace(client.GivenName + " " + client.FamilyName)
}
