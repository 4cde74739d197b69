// Package xero is the gateway to the target accounting platform. All calls
// go through an injected retry decorator that replays rate-limited and
// server-error responses; permanent rejections surface immediately as
// *APIError for the sync services to classify.
package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/copilot-platforms/xero-integration/platform/go/retry"
)

const (
	defaultBaseURL     = "https://api.xero.com/api.xro/2.0"
	defaultIdentityURL = "https://identity.xero.com/connect/token"
	defaultConnsURL    = "https://api.xero.com/connections"
)

// Config carries the OAuth app credentials and optional overrides.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	IdentityURL  string
	ConnsURL     string
	HTTPClient   *http.Client
	Retrier      *retry.Retrier
}

// Client talks to the accounting and identity APIs.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	identityURL  string
	connsURL     string
	http         *http.Client
	retrier      *retry.Retrier
}

// NewClient builds a gateway client. ClientID and ClientSecret are required;
// everything else has production defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("xero client id and secret are required")
	}

	c := &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      cfg.BaseURL,
		identityURL:  cfg.IdentityURL,
		connsURL:     cfg.ConnsURL,
		http:         cfg.HTTPClient,
		retrier:      cfg.Retrier,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.identityURL == "" {
		c.identityURL = defaultIdentityURL
	}
	if c.connsURL == "" {
		c.connsURL = defaultConnsURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.retrier == nil {
		c.retrier = retry.New(retry.Config{Retryable: IsTransient})
	}
	return c, nil
}

// RefreshToken exchanges a refresh token for a fresh token set.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	return retry.Result(ctx, c.retrier, func(ctx context.Context) (TokenSet, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.identityURL, strings.NewReader(form.Encode()))
		if err != nil {
			return TokenSet{}, err
		}
		req.SetBasicAuth(c.clientID, c.clientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		var tokens TokenSet
		if err := c.send(req, &tokens); err != nil {
			return TokenSet{}, fmt.Errorf("refresh token: %w", err)
		}
		return tokens, nil
	})
}

// Connections lists the organizations the token set can access, most
// recently authorized first.
func (c *Client) Connections(ctx context.Context, accessToken string) ([]Connection, error) {
	return retry.Result(ctx, c.retrier, func(ctx context.Context) ([]Connection, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.connsURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		var conns []Connection
		if err := c.send(req, &conns); err != nil {
			return nil, fmt.Errorf("list connections: %w", err)
		}
		return conns, nil
	})
}

// ActiveTenantID returns the most recently authorized organization id.
func (c *Client) ActiveTenantID(ctx context.Context, accessToken string) (uuid.UUID, error) {
	conns, err := c.Connections(ctx, accessToken)
	if err != nil {
		return uuid.Nil, err
	}
	if len(conns) == 0 {
		return uuid.Nil, errors.New("token set has no authorized organizations")
	}
	return conns[0].TenantID, nil
}

// GetInvoice fetches a single invoice.
func (c *Client) GetInvoice(ctx context.Context, sess Session, invoiceID uuid.UUID) (Invoice, error) {
	var out struct {
		Invoices []Invoice `json:"Invoices"`
	}
	if err := c.do(ctx, sess, http.MethodGet, "/Invoices/"+invoiceID.String(), nil, &out); err != nil {
		return Invoice{}, err
	}
	return first(out.Invoices, "invoice")
}

// CreateInvoice creates one invoice.
func (c *Client) CreateInvoice(ctx context.Context, sess Session, invoice Invoice) (Invoice, error) {
	payload := map[string]any{"Invoices": []Invoice{invoice}}
	var out struct {
		Invoices []Invoice `json:"Invoices"`
	}
	if err := c.do(ctx, sess, http.MethodPost, "/Invoices?summarizeErrors=true", payload, &out); err != nil {
		return Invoice{}, err
	}
	return first(out.Invoices, "invoice")
}

// UpdateInvoiceStatus moves an invoice to a new status (VOIDED, DELETED).
func (c *Client) UpdateInvoiceStatus(ctx context.Context, sess Session, invoiceID uuid.UUID, status string) (Invoice, error) {
	payload := map[string]any{"Invoices": []map[string]string{{"Status": status}}}
	var out struct {
		Invoices []Invoice `json:"Invoices"`
	}
	if err := c.do(ctx, sess, http.MethodPost, "/Invoices/"+invoiceID.String(), payload, &out); err != nil {
		return Invoice{}, err
	}
	return first(out.Invoices, "invoice")
}

// CreatePayment applies a payment against an invoice. Marking an invoice
// paid requires a real payment row on the sales account; there is no direct
// status write to PAID.
func (c *Client) CreatePayment(ctx context.Context, sess Session, payment Payment) (Payment, error) {
	var out struct {
		Payments []Payment `json:"Payments"`
	}
	if err := c.do(ctx, sess, http.MethodPut, "/Payments", payment, &out); err != nil {
		return Payment{}, err
	}
	return first(out.Payments, "payment")
}

// GetContact fetches a single contact.
func (c *Client) GetContact(ctx context.Context, sess Session, contactID uuid.UUID) (Contact, error) {
	var out struct {
		Contacts []Contact `json:"Contacts"`
	}
	if err := c.do(ctx, sess, http.MethodGet, "/Contacts/"+contactID.String(), nil, &out); err != nil {
		return Contact{}, err
	}
	return first(out.Contacts, "contact")
}

// CreateContact creates one contact.
func (c *Client) CreateContact(ctx context.Context, sess Session, contact Contact) (Contact, error) {
	payload := map[string]any{"Contacts": []Contact{contact}}
	var out struct {
		Contacts []Contact `json:"Contacts"`
	}
	if err := c.do(ctx, sess, http.MethodPost, "/Contacts?summarizeErrors=true", payload, &out); err != nil {
		return Contact{}, err
	}
	return first(out.Contacts, "contact")
}

// UpdateContact replaces a contact's details.
func (c *Client) UpdateContact(ctx context.Context, sess Session, contact Contact) (Contact, error) {
	if contact.ContactID == uuid.Nil {
		return Contact{}, errors.New("contact id is required")
	}
	payload := map[string]any{"Contacts": []Contact{contact}}
	var out struct {
		Contacts []Contact `json:"Contacts"`
	}
	if err := c.do(ctx, sess, http.MethodPost, "/Contacts/"+contact.ContactID.String(), payload, &out); err != nil {
		return Contact{}, err
	}
	return first(out.Contacts, "contact")
}

// GetTaxRates lists the organization's tax rates.
func (c *Client) GetTaxRates(ctx context.Context, sess Session) ([]TaxRate, error) {
	var out struct {
		TaxRates []TaxRate `json:"TaxRates"`
	}
	if err := c.do(ctx, sess, http.MethodGet, "/TaxRates", nil, &out); err != nil {
		return nil, err
	}
	return out.TaxRates, nil
}

// CreateTaxRate creates one tax rate.
func (c *Client) CreateTaxRate(ctx context.Context, sess Session, rate TaxRate) (TaxRate, error) {
	payload := map[string]any{"TaxRates": []TaxRate{rate}}
	var out struct {
		TaxRates []TaxRate `json:"TaxRates"`
	}
	if err := c.do(ctx, sess, http.MethodPost, "/TaxRates", payload, &out); err != nil {
		return TaxRate{}, err
	}
	return first(out.TaxRates, "tax rate")
}

// GetItems lists the organization's catalog items.
func (c *Client) GetItems(ctx context.Context, sess Session) ([]Item, error) {
	var out struct {
		Items []Item `json:"Items"`
	}
	if err := c.do(ctx, sess, http.MethodGet, "/Items", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetItemsMap returns catalog items keyed by their id.
func (c *Client) GetItemsMap(ctx context.Context, sess Session) (map[uuid.UUID]Item, error) {
	items, err := c.GetItems(ctx, sess)
	if err != nil {
		return nil, err
	}
	m := make(map[uuid.UUID]Item, len(items))
	for _, item := range items {
		m[item.ItemID] = item
	}
	return m, nil
}

// CreateItems creates the given catalog items and returns them with ids.
func (c *Client) CreateItems(ctx context.Context, sess Session, items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	payload := map[string]any{"Items": items}
	var out struct {
		Items []Item `json:"Items"`
	}
	if err := c.do(ctx, sess, http.MethodPost, "/Items", payload, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// UpdateItem replaces an item's name and description. Code must be resent;
// the API treats a missing code as a reset.
func (c *Client) UpdateItem(ctx context.Context, sess Session, itemID uuid.UUID, item Item) (Item, error) {
	payload := map[string]any{"Items": []Item{item}}
	var out struct {
		Items []Item `json:"Items"`
	}
	if err := c.do(ctx, sess, http.MethodPost, "/Items/"+itemID.String(), payload, &out); err != nil {
		return Item{}, err
	}
	return first(out.Items, "item")
}

// DeleteItem removes a catalog item.
func (c *Client) DeleteItem(ctx context.Context, sess Session, itemID uuid.UUID) error {
	return c.do(ctx, sess, http.MethodDelete, "/Items/"+itemID.String(), nil, nil)
}

// GetAccounts lists the chart of accounts.
func (c *Client) GetAccounts(ctx context.Context, sess Session) ([]Account, error) {
	var out struct {
		Accounts []Account `json:"Accounts"`
	}
	if err := c.do(ctx, sess, http.MethodGet, "/Accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// CreateAccount creates one chart-of-accounts entry.
func (c *Client) CreateAccount(ctx context.Context, sess Session, account Account) (Account, error) {
	var out struct {
		Accounts []Account `json:"Accounts"`
	}
	if err := c.do(ctx, sess, http.MethodPut, "/Accounts", account, &out); err != nil {
		return Account{}, err
	}
	return first(out.Accounts, "account")
}

// CreateBankTransaction books one bank transaction.
func (c *Client) CreateBankTransaction(ctx context.Context, sess Session, txn BankTransaction) (BankTransaction, error) {
	payload := map[string]any{"BankTransactions": []BankTransaction{txn}}
	var out struct {
		BankTransactions []BankTransaction `json:"BankTransactions"`
	}
	if err := c.do(ctx, sess, http.MethodPut, "/BankTransactions", payload, &out); err != nil {
		return BankTransaction{}, err
	}
	return first(out.BankTransactions, "bank transaction")
}

// EnableAccountPayments flips EnablePaymentsToAccount on an existing account.
func (c *Client) EnableAccountPayments(ctx context.Context, sess Session, accountID uuid.UUID) error {
	payload := map[string]any{"Accounts": []map[string]any{{"EnablePaymentsToAccount": true}}}
	return c.do(ctx, sess, http.MethodPost, "/Accounts/"+accountID.String(), payload, nil)
}

// do issues one accounting API call through the retry decorator.
func (c *Client) do(ctx context.Context, sess Session, method, path string, body, out any) error {
	if sess.AccessToken == "" {
		return errors.New("session access token is required")
	}
	if sess.TenantID == uuid.Nil {
		return errors.New("session tenant id is required")
	}

	return c.retrier.Do(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal payload: %w", err)
			}
			reader = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		req.Header.Set("Xero-tenant-id", sess.TenantID.String())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		if err := c.send(req, out); err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		return nil
	})
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// first returns the single element the API wraps in a collection, or an
// *APIError-shaped invariant failure when the claimed resource is missing.
func first[T any](items []T, kind string) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, fmt.Errorf("response contained no %s", kind)
	}
	return items[0], nil
}
