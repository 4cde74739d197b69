package workspace

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Context captures the resolved sync scope for one unit of work: the Copilot
// portal the event belongs to, the connected Xero tenant, and the actor token
// that authenticated the call. It is an immutable value threaded explicitly
// through every sync service call; it never lives on service state.
type Context struct {
	PortalID string
	TenantID uuid.UUID
	// Token is the Copilot workspace token that authenticated this unit of
	// work. The dead-letter store snapshots it so replays can re-authenticate.
	Token string
	// XeroAccessToken authorizes Target Gateway calls for TenantID.
	XeroAccessToken string
}

// ErrMissing indicates a handler reached a sync service without a resolved workspace.
var ErrMissing = errors.New("workspace context missing")

type ctxKey struct{}

// IntoContext stores the workspace Context on the request context.
func IntoContext(ctx context.Context, ws Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, ws)
}

// FromContext extracts the workspace Context and a boolean indicating presence.
func FromContext(ctx context.Context) (Context, bool) {
	ws, ok := ctx.Value(ctxKey{}).(Context)
	return ws, ok
}
