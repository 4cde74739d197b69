// Package copilot is the gateway to the source client-management platform.
// Every request is authenticated with the integration API key plus the
// per-delivery workspace token, and replayed through the shared retry
// decorator on transient failures.
package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/copilot-platforms/xero-integration/platform/go/retry"
)

const defaultBaseURL = "https://api.copilot.app/v1"

// listLimit caps list fetches; the platform paginates past this.
const listLimit = 10000

// APIError is a non-2xx response from the platform API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("copilot api: status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err != nil
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

// Config carries the API key and optional overrides.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Retrier    *retry.Retrier
}

// Client talks to the source platform API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retrier *retry.Retrier
}

// NewClient builds a gateway client; APIKey is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("copilot api key is required")
	}

	c := &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		http:    cfg.HTTPClient,
		retrier: cfg.Retrier,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.retrier == nil {
		c.retrier = retry.New(retry.Config{Retryable: IsTransient})
	}
	return c, nil
}

// GetWorkspace resolves the workspace a token belongs to.
func (c *Client) GetWorkspace(ctx context.Context, token string) (Workspace, error) {
	var ws Workspace
	err := c.get(ctx, token, "/workspace", &ws)
	return ws, err
}

// GetClient fetches one client by id.
func (c *Client) GetClient(ctx context.Context, token, id string) (ClientUser, error) {
	var out ClientUser
	err := c.get(ctx, token, "/clients/"+id, &out)
	return out, err
}

// GetCompany fetches one company by id.
func (c *Client) GetCompany(ctx context.Context, token, id string) (Company, error) {
	var out Company
	err := c.get(ctx, token, "/companies/"+id, &out)
	return out, err
}

// GetInvoice fetches one invoice by id. Used by the lazy backfill path when
// a paid/voided/deleted event arrives before created was ever synced.
func (c *Client) GetInvoice(ctx context.Context, token, id string) (Invoice, error) {
	var out Invoice
	err := c.get(ctx, token, "/invoices/"+id, &out)
	return out, err
}

// ProductsByID lists all products and returns the requested subset keyed by id.
func (c *Client) ProductsByID(ctx context.Context, token string, ids []string) (map[string]Product, error) {
	var out listResponse[Product]
	if err := c.get(ctx, token, fmt.Sprintf("/products?limit=%d", listLimit), &out); err != nil {
		return nil, err
	}
	return pickByID(out.Data, ids, func(p Product) string { return p.ID }), nil
}

// PricesByID lists all prices and returns the requested subset keyed by id.
func (c *Client) PricesByID(ctx context.Context, token string, ids []string) (map[string]Price, error) {
	var out listResponse[Price]
	if err := c.get(ctx, token, fmt.Sprintf("/prices?limit=%d", listLimit), &out); err != nil {
		return nil, err
	}
	return pickByID(out.Data, ids, func(p Price) string { return p.ID }), nil
}

func pickByID[T any](all []T, ids []string, key func(T) string) map[string]T {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	picked := make(map[string]T, len(ids))
	for _, v := range all {
		if _, ok := want[key(v)]; ok {
			picked[key(v)] = v
		}
	}
	return picked
}

func (c *Client) get(ctx context.Context, token, path string, out any) error {
	if token == "" {
		return errors.New("workspace token is required")
	}

	return c.retrier.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("X-Portals-Token", token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("GET %s: %w", path, err)
		}
		defer resp.Body.Close() // nolint:errcheck

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("GET %s: read response: %w", path, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("GET %s: %w", path, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))})
		}

		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("GET %s: decode response: %w", path, err)
		}
		return nil
	})
}
