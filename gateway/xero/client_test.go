package xero

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/copilot-platforms/xero-integration/platform/go/retry"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		BaseURL:      srv.URL,
		IdentityURL:  srv.URL + "/connect/token",
		ConnsURL:     srv.URL + "/connections",
		Retrier: retry.New(retry.Config{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			Retryable:       IsTransient,
		}),
	})
	require.NoError(t, err)
	return client
}

func testSession() Session {
	return Session{AccessToken: "token", TenantID: uuid.New()}
}

func TestCreateInvoiceSendsAuthHeaders(t *testing.T) {
	t.Parallel()

	sess := testSession()
	invoiceID := uuid.New()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.Equal(t, sess.TenantID.String(), r.Header.Get("Xero-tenant-id"))
		require.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"Invoices":[{"InvoiceID":"` + invoiceID.String() + `","Status":"AUTHORISED"}]}`))
	}))

	created, err := client.CreateInvoice(context.Background(), sess, Invoice{
		Type:   InvoiceTypeAccRec,
		Status: InvoiceStatusAuthorised,
	})
	require.NoError(t, err)
	require.Equal(t, invoiceID, created.InvoiceID)
	require.Equal(t, InvoiceStatusAuthorised, created.Status)
}

func TestRateLimitedCallIsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"TaxRates":[{"Name":"Assembly Sales Tax - 7%","EffectiveRate":7}]}`))
	}))

	rates, err := client.GetTaxRates(context.Background(), testSession())
	require.NoError(t, err)
	require.Len(t, rates, 1)
	require.Equal(t, int32(3), calls.Load())
}

func TestPermanentRejectionIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetContact(context.Background(), testSession(), uuid.New())
	require.Error(t, err)
	require.True(t, IsNotFound(err))
	require.False(t, IsTransient(err))
	require.Equal(t, int32(1), calls.Load())
}

func TestRefreshTokenUsesBasicAuth(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "id", user)
		require.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2","expires_in":1800}`))
	}))

	tokens, err := client.RefreshToken(context.Background(), "rt-1")
	require.NoError(t, err)
	require.Equal(t, "at-2", tokens.AccessToken)
	require.Equal(t, "rt-2", tokens.RefreshToken)
}

func TestActiveTenantIDPicksNewestConnection(t *testing.T) {
	t.Parallel()

	newest := uuid.New()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"` + uuid.NewString() + `","tenantId":"` + newest.String() + `"},` +
			`{"id":"` + uuid.NewString() + `","tenantId":"` + uuid.NewString() + `"}]`))
	}))

	tenantID, err := client.ActiveTenantID(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, newest, tenantID)
}

func TestSessionIsValidatedBeforeAnyCall(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := client.GetItems(context.Background(), Session{})
	require.Error(t, err)
}
