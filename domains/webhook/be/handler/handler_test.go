package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/platform/go/synctoken"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	settingssvc "github.com/copilot-platforms/xero-integration/domains/settings/be/service"
	"github.com/copilot-platforms/xero-integration/domains/webhook/be/service"
)

type mockAuthorizer struct {
	ws  workspace.Context
	err error
}

func (m *mockAuthorizer) Authorize(context.Context, string) (workspace.Context, error) {
	return m.ws, m.err
}

type mockSettings struct {
	settings settingssvc.Settings
}

func (m *mockSettings) Get(context.Context, workspace.Context) (settingssvc.Settings, error) {
	return m.settings, nil
}

type mockDispatcher struct {
	dispatched []service.Envelope
	err        error
}

func (m *mockDispatcher) Dispatch(_ context.Context, _ workspace.Context, env service.Envelope) error {
	m.dispatched = append(m.dispatched, env)
	return m.err
}

func connectedWorkspace() workspace.Context {
	return workspace.Context{PortalID: "portal-1", TenantID: uuid.New(), Token: "t", XeroAccessToken: "x"}
}

func postWebhook(h *Handler, token, body string) *httptest.ResponseRecorder {
	url := "/api/webhook"
	if token != "" {
		url += "?token=" + token
	}
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.HandleWebhook(rr, req)
	return rr
}

const paidDelivery = `{"eventType": "invoice.paid", "data": {"id": "inv-1"}}`

func TestHandleWebhookRejectsMissingAndInvalidTokens(t *testing.T) {
	t.Parallel()

	h := New(&mockAuthorizer{err: synctoken.ErrInvalidToken}, &mockSettings{}, &mockDispatcher{}, zap.NewNop())

	rr := postWebhook(h, "", paidDelivery)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = postWebhook(h, "bogus", paidDelivery)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleWebhookAcknowledgesWhenSyncDisabled(t *testing.T) {
	t.Parallel()

	dispatcher := &mockDispatcher{}
	h := New(&mockAuthorizer{ws: connectedWorkspace()},
		&mockSettings{settings: settingssvc.Settings{IsSyncEnabled: false}}, dispatcher, zap.NewNop())

	rr := postWebhook(h, "valid", paidDelivery)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "disabled")
	require.Empty(t, dispatcher.dispatched)
}

func TestHandleWebhookAcknowledgesUnknownEvents(t *testing.T) {
	t.Parallel()

	dispatcher := &mockDispatcher{}
	h := New(&mockAuthorizer{ws: connectedWorkspace()},
		&mockSettings{settings: settingssvc.Settings{IsSyncEnabled: true}}, dispatcher, zap.NewNop())

	rr := postWebhook(h, "valid", `{"eventType": "contact.poked", "data": {"id": "x"}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "Ignored")
	require.Empty(t, dispatcher.dispatched)
}

func TestHandleWebhookDispatchesValidDeliveries(t *testing.T) {
	t.Parallel()

	dispatcher := &mockDispatcher{}
	h := New(&mockAuthorizer{ws: connectedWorkspace()},
		&mockSettings{settings: settingssvc.Settings{IsSyncEnabled: true}}, dispatcher, zap.NewNop())

	rr := postWebhook(h, "valid", paidDelivery)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, dispatcher.dispatched, 1)
	require.Equal(t, service.EventInvoicePaid, dispatcher.dispatched[0].Type)
}

func TestHandleWebhookSurfacesSyncFailures(t *testing.T) {
	t.Parallel()

	dispatcher := &mockDispatcher{err: errors.New("remote is down")}
	h := New(&mockAuthorizer{ws: connectedWorkspace()},
		&mockSettings{settings: settingssvc.Settings{IsSyncEnabled: true}}, dispatcher, zap.NewNop())

	rr := postWebhook(h, "valid", paidDelivery)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
