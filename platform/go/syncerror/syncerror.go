// Package syncerror carries sync outcomes across service boundaries. A
// benign error means the event was examined and deliberately skipped (draft
// invoice, auto-charged invoice, unmapped price); the webhook must answer
// such deliveries with success so the source platform stops redelivering.
package syncerror

import (
	"errors"

	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
)

// Error is the outcome of a failed or skipped sync operation. Audit, when
// set, is the prepared log entry the dispatcher must persist before the
// event reaches the dead-letter queue.
type Error struct {
	Message string
	Skip    bool
	Audit   *persistence.SyncLogRecord
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps a hard failure.
func New(message string, err error) *Error {
	return &Error{Message: message, Err: err}
}

// Skip marks an event as deliberately not synced. Skips are reported as
// success to the caller and never enter the dead-letter queue.
func Skip(message string) *Error {
	return &Error{Message: message, Skip: true}
}

// WithAudit attaches the audit entry to persist alongside the failure.
func (e *Error) WithAudit(rec persistence.SyncLogRecord) *Error {
	e.Audit = &rec
	return e
}

// IsSkip reports whether err (anywhere in its chain) is a deliberate skip.
func IsSkip(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Skip
}

// AuditOf extracts the prepared audit entry from err, if any.
func AuditOf(err error) *persistence.SyncLogRecord {
	var se *Error
	if errors.As(err, &se) {
		return se.Audit
	}
	return nil
}
