package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	webhooksvc "github.com/copilot-platforms/xero-integration/domains/webhook/be/service"
)

type mockStore struct {
	records   []persistence.FailedSyncRecord
	deleted   []string
	deleteErr error
}

func (m *mockStore) ListRetryable(context.Context, int) ([]persistence.FailedSyncRecord, error) {
	return m.records, nil
}

func (m *mockStore) DeleteByResourceID(_ context.Context, resourceID string) error {
	m.deleted = append(m.deleted, resourceID)
	return m.deleteErr
}

type mockTokens struct {
	encoded []string
}

func (m *mockTokens) Encode(workspaceID string) (string, error) {
	m.encoded = append(m.encoded, workspaceID)
	return "token-" + workspaceID, nil
}

type mockAuthorizer struct {
	err error
}

func (m *mockAuthorizer) AuthorizePortal(_ context.Context, portalID, token string) (workspace.Context, error) {
	if m.err != nil {
		return workspace.Context{}, m.err
	}
	return workspace.Context{PortalID: portalID, TenantID: uuid.New(), Token: token, XeroAccessToken: "xero-token"}, nil
}

type mockDispatcher struct {
	dispatched []string
	failFor    map[string]error
}

func (m *mockDispatcher) Dispatch(_ context.Context, _ workspace.Context, env webhooksvc.Envelope) error {
	id := env.Event.ResourceID()
	m.dispatched = append(m.dispatched, id)
	if err, ok := m.failFor[id]; ok {
		return err
	}
	return nil
}

func lifecycleRecord(portalID, invoiceID string, attempts int) persistence.FailedSyncRecord {
	return persistence.FailedSyncRecord{
		ID:         uuid.New(),
		PortalID:   portalID,
		TenantID:   uuid.New(),
		EventType:  string(webhooksvc.EventInvoicePaid),
		Token:      "stale-token",
		ResourceID: invoiceID,
		Attempts:   attempts,
		Payload:    []byte(`{"id": "` + invoiceID + `"}`),
	}
}

func TestRetryAllIsolatesFailuresPerRecord(t *testing.T) {
	t.Parallel()

	store := &mockStore{records: []persistence.FailedSyncRecord{
		lifecycleRecord("portal-1", "inv-1", 1),
		lifecycleRecord("portal-1", "inv-2", 2),
		lifecycleRecord("portal-2", "inv-3", 1),
	}}
	dispatcher := &mockDispatcher{failFor: map[string]error{"inv-2": errors.New("still broken")}}

	svc := New(store, &mockTokens{}, &mockAuthorizer{}, dispatcher)
	summary, err := svc.RetryAll(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, summary.Scanned)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.ElementsMatch(t, []string{"inv-1", "inv-2", "inv-3"}, dispatcher.dispatched)
	// Only successful replays lose their row.
	require.ElementsMatch(t, []string{"inv-1", "inv-3"}, store.deleted)
}

func TestRetryAllMintsOneTokenPerPortal(t *testing.T) {
	t.Parallel()

	store := &mockStore{records: []persistence.FailedSyncRecord{
		lifecycleRecord("portal-1", "inv-1", 1),
		lifecycleRecord("portal-1", "inv-2", 1),
		lifecycleRecord("portal-2", "inv-3", 1),
	}}
	tokens := &mockTokens{}

	svc := New(store, tokens, &mockAuthorizer{}, &mockDispatcher{})
	_, err := svc.RetryAll(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"portal-1", "portal-2"}, tokens.encoded)
}

func TestRetryAllDropsUnparseablePayloads(t *testing.T) {
	t.Parallel()

	broken := lifecycleRecord("portal-1", "inv-1", 1)
	broken.Payload = []byte(`{"not": "an invoice ref"}`)
	store := &mockStore{records: []persistence.FailedSyncRecord{broken}}
	dispatcher := &mockDispatcher{}

	svc := New(store, &mockTokens{}, &mockAuthorizer{}, dispatcher)
	summary, err := svc.RetryAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Dropped)
	require.Empty(t, dispatcher.dispatched)
	require.Equal(t, []string{"inv-1"}, store.deleted)
}

func TestRetryAllCountsAuthorizationFailures(t *testing.T) {
	t.Parallel()

	store := &mockStore{records: []persistence.FailedSyncRecord{lifecycleRecord("portal-1", "inv-1", 1)}}
	svc := New(store, &mockTokens{}, &mockAuthorizer{err: errors.New("not connected")}, &mockDispatcher{})

	summary, err := svc.RetryAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Empty(t, store.deleted)
}
