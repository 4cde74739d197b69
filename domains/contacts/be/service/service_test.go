package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
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
	getContactFn    func(ctx context.Context, sess xero.Session, contactID uuid.UUID) (xero.Contact, error)
	createContactFn func(ctx context.Context, sess xero.Session, contact xero.Contact) (xero.Contact, error)
	updateContactFn func(ctx context.Context, sess xero.Session, contact xero.Contact) (xero.Contact, error)
}

func (m *mockXero) GetContact(ctx context.Context, sess xero.Session, contactID uuid.UUID) (xero.Contact, error) {
	return m.getContactFn(ctx, sess, contactID)
}

func (m *mockXero) CreateContact(ctx context.Context, sess xero.Session, contact xero.Contact) (xero.Contact, error) {
	return m.createContactFn(ctx, sess, contact)
}

func (m *mockXero) UpdateContact(ctx context.Context, sess xero.Session, contact xero.Contact) (xero.Contact, error) {
	return m.updateContactFn(ctx, sess, contact)
}

type mockCopilot struct {
	getClientFn  func(ctx context.Context, token, id string) (copilot.ClientUser, error)
	getCompanyFn func(ctx context.Context, token, id string) (copilot.Company, error)
}

func (m *mockCopilot) GetClient(ctx context.Context, token, id string) (copilot.ClientUser, error) {
	return m.getClientFn(ctx, token, id)
}

func (m *mockCopilot) GetCompany(ctx context.Context, token, id string) (copilot.Company, error) {
	return m.getCompanyFn(ctx, token, id)
}

type mockSettings struct {
	settings settingssvc.Settings
}

func (m *mockSettings) Get(context.Context, workspace.Context) (settingssvc.Settings, error) {
	return m.settings, nil
}

type mockMappings struct {
	getFn    func(ctx context.Context, portalID string, tenantID uuid.UUID, clientOrCompanyID string) (persistence.SyncedContactRecord, error)
	createFn func(ctx context.Context, rec persistence.SyncedContactRecord) (persistence.SyncedContactRecord, error)
	deleteFn func(ctx context.Context, id uuid.UUID) error
}

func (m *mockMappings) Get(ctx context.Context, portalID string, tenantID uuid.UUID, clientOrCompanyID string) (persistence.SyncedContactRecord, error) {
	return m.getFn(ctx, portalID, tenantID, clientOrCompanyID)
}

func (m *mockMappings) Create(ctx context.Context, rec persistence.SyncedContactRecord) (persistence.SyncedContactRecord, error) {
	return m.createFn(ctx, rec)
}

func (m *mockMappings) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFn(ctx, id)
}

type mockAudit struct {
	entries []persistence.SyncLogRecord
}

func (m *mockAudit) Append(_ context.Context, _ workspace.Context, rec persistence.SyncLogRecord) error {
	m.entries = append(m.entries, rec)
	return nil
}

func testWorkspace() workspace.Context {
	return workspace.Context{PortalID: "portal-1", TenantID: uuid.New(), Token: "copilot-token", XeroAccessToken: "xero-token"}
}

func noMapping(context.Context, string, uuid.UUID, string) (persistence.SyncedContactRecord, error) {
	return persistence.SyncedContactRecord{}, persistence.ErrNotFound
}

func TestResolveCreatesClientContactAndMapping(t *testing.T) {
	t.Parallel()

	contactID := uuid.New()
	var createdMapping persistence.SyncedContactRecord
	audit := &mockAudit{}

	svc := New(
		&mockXero{
			createContactFn: func(_ context.Context, _ xero.Session, contact xero.Contact) (xero.Contact, error) {
				require.Equal(t, "Ada Lovelace", contact.Name)
				require.Equal(t, "ada@example.com", contact.EmailAddress)
				contact.ContactID = contactID
				return contact, nil
			},
		},
		&mockCopilot{
			getClientFn: func(_ context.Context, _, id string) (copilot.ClientUser, error) {
				require.Equal(t, "client-1", id)
				return copilot.ClientUser{ID: id, GivenName: "Ada", FamilyName: "Lovelace", Email: "ada@example.com"}, nil
			},
		},
		&mockSettings{},
		&mockMappings{
			getFn: noMapping,
			createFn: func(_ context.Context, rec persistence.SyncedContactRecord) (persistence.SyncedContactRecord, error) {
				createdMapping = rec
				return rec, nil
			},
		},
		audit,
	)

	contact, err := svc.Resolve(context.Background(), testWorkspace(), "client-1", "company-1")
	require.NoError(t, err)
	require.Equal(t, contactID, contact.ContactID)
	require.Equal(t, persistence.ContactUserTypeClient, createdMapping.UserType)
	require.Equal(t, "client-1", createdMapping.ClientOrCompanyID)
	require.Len(t, audit.entries, 1)
	require.Equal(t, synclogs.EntityCustomer, audit.entries[0].EntityType)
}

func TestResolvePrefersCompanyWhenFlagSet(t *testing.T) {
	t.Parallel()

	svc := New(
		&mockXero{
			createContactFn: func(_ context.Context, _ xero.Session, contact xero.Contact) (xero.Contact, error) {
				require.Equal(t, "Initech LLC", contact.Name)
				require.Equal(t, "ada@example.com", contact.EmailAddress)
				contact.ContactID = uuid.New()
				return contact, nil
			},
		},
		&mockCopilot{
			getCompanyFn: func(_ context.Context, _, id string) (copilot.Company, error) {
				return copilot.Company{ID: id, Name: "Initech LLC"}, nil
			},
			getClientFn: func(_ context.Context, _, id string) (copilot.ClientUser, error) {
				return copilot.ClientUser{ID: id, Email: "ada@example.com"}, nil
			},
		},
		&mockSettings{settings: settingssvc.Settings{UseCompanyName: true}},
		&mockMappings{
			getFn: noMapping,
			createFn: func(_ context.Context, rec persistence.SyncedContactRecord) (persistence.SyncedContactRecord, error) {
				require.Equal(t, persistence.ContactUserTypeCompany, rec.UserType)
				return rec, nil
			},
		},
		&mockAudit{},
	)

	_, err := svc.Resolve(context.Background(), testWorkspace(), "client-1", "company-1")
	require.NoError(t, err)
}

func TestResolveSkipsUpdateWhenNothingChanged(t *testing.T) {
	t.Parallel()

	mapping := persistence.SyncedContactRecord{ID: uuid.New(), ContactID: uuid.New()}
	svc := New(
		&mockXero{
			getContactFn: func(_ context.Context, _ xero.Session, contactID uuid.UUID) (xero.Contact, error) {
				return xero.Contact{
					ContactID:    contactID,
					Name:         "Ada Lovelace",
					FirstName:    "Ada",
					LastName:     "Lovelace",
					EmailAddress: "ada@example.com",
				}, nil
			},
			updateContactFn: func(context.Context, xero.Session, xero.Contact) (xero.Contact, error) {
				t.Fatal("should not update an unchanged contact")
				return xero.Contact{}, nil
			},
		},
		&mockCopilot{
			getClientFn: func(_ context.Context, _, id string) (copilot.ClientUser, error) {
				return copilot.ClientUser{ID: id, GivenName: "Ada", FamilyName: "Lovelace", Email: "ada@example.com"}, nil
			},
		},
		&mockSettings{},
		&mockMappings{
			getFn: func(context.Context, string, uuid.UUID, string) (persistence.SyncedContactRecord, error) {
				return mapping, nil
			},
		},
		&mockAudit{},
	)

	contact, err := svc.Resolve(context.Background(), testWorkspace(), "client-1", "")
	require.NoError(t, err)
	require.Equal(t, mapping.ContactID, contact.ContactID)
}

func TestResolveRebuildsStaleMapping(t *testing.T) {
	t.Parallel()

	staleMapping := persistence.SyncedContactRecord{ID: uuid.New(), ContactID: uuid.New()}
	var deletedID uuid.UUID
	newContactID := uuid.New()

	svc := New(
		&mockXero{
			getContactFn: func(context.Context, xero.Session, uuid.UUID) (xero.Contact, error) {
				return xero.Contact{}, &xero.APIError{StatusCode: http.StatusNotFound}
			},
			createContactFn: func(_ context.Context, _ xero.Session, contact xero.Contact) (xero.Contact, error) {
				contact.ContactID = newContactID
				return contact, nil
			},
		},
		&mockCopilot{
			getClientFn: func(_ context.Context, _, id string) (copilot.ClientUser, error) {
				return copilot.ClientUser{ID: id, GivenName: "Ada", FamilyName: "Lovelace"}, nil
			},
		},
		&mockSettings{},
		&mockMappings{
			getFn: func(context.Context, string, uuid.UUID, string) (persistence.SyncedContactRecord, error) {
				return staleMapping, nil
			},
			deleteFn: func(_ context.Context, id uuid.UUID) error {
				deletedID = id
				return nil
			},
			createFn: func(_ context.Context, rec persistence.SyncedContactRecord) (persistence.SyncedContactRecord, error) {
				return rec, nil
			},
		},
		&mockAudit{},
	)

	contact, err := svc.Resolve(context.Background(), testWorkspace(), "client-1", "")
	require.NoError(t, err)
	require.Equal(t, staleMapping.ID, deletedID)
	require.Equal(t, newContactID, contact.ContactID)
}

func TestResolveFailureCarriesAuditPayload(t *testing.T) {
	t.Parallel()

	svc := New(
		&mockXero{
			createContactFn: func(context.Context, xero.Session, xero.Contact) (xero.Contact, error) {
				return xero.Contact{}, &xero.APIError{StatusCode: http.StatusBadGateway}
			},
		},
		&mockCopilot{
			getCompanyFn: func(_ context.Context, _, id string) (copilot.Company, error) {
				return copilot.Company{ID: id, Name: "Initech LLC"}, nil
			},
		},
		&mockSettings{},
		&mockMappings{getFn: noMapping},
		&mockAudit{},
	)

	_, err := svc.Resolve(context.Background(), testWorkspace(), "", "company-1")
	require.Error(t, err)
	require.False(t, syncerror.IsSkip(err))

	rec := syncerror.AuditOf(err)
	require.NotNil(t, rec)
	require.Equal(t, persistence.SyncLogFailed, rec.Status)
	require.Equal(t, synclogs.EntityCustomer, rec.EntityType)
}
