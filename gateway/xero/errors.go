package xero

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the accounting or identity API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xero api: status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth retrying: rate limits and server
// errors are; 4xx rejections are permanent.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Network-level failures (timeouts, resets) arrive as plain errors.
		return err != nil
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

// IsNotFound reports whether err is a 404 from the accounting API. Stale
// mapping detection relies on this to distinguish "deleted out-of-band" from
// real failures.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
