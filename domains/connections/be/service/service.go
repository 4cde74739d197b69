// Package service manages the Xero connection of each workspace and turns a
// webhook token into the workspace context every sync call carries. A portal
// is connected when its row holds an active status, a tenant and tokens;
// expired access tokens are refreshed in place during authorization.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/gateway/xero"
	"github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"
)

// expirySkew refreshes tokens slightly before they actually lapse.
const expirySkew = 30 * time.Second

// ErrNotConnected indicates the portal has no usable Xero connection.
var ErrNotConnected = errors.New("portal is not connected to xero")

// TokenDecoder verifies webhook tokens and yields the portal they belong to.
type TokenDecoder interface {
	Decode(tokenString string) (string, error)
}

// XeroGateway is the slice of the Xero client this service needs.
type XeroGateway interface {
	RefreshToken(ctx context.Context, refreshToken string) (xero.TokenSet, error)
	ActiveTenantID(ctx context.Context, accessToken string) (uuid.UUID, error)
}

// Store abstracts the xero_connections table.
type Store interface {
	GetByPortalID(ctx context.Context, portalID string) (persistence.ConnectionRecord, error)
	Create(ctx context.Context, rec persistence.ConnectionRecord) (persistence.ConnectionRecord, error)
	Update(ctx context.Context, rec persistence.ConnectionRecord) (persistence.ConnectionRecord, error)
	UpdateTokens(ctx context.Context, portalID, accessToken, refreshToken string, expiresAt time.Time) (persistence.ConnectionRecord, error)
	Disconnect(ctx context.Context, portalID string) error
}

// Service owns connection lifecycle and workspace authorization.
type Service struct {
	tokens TokenDecoder
	xero   XeroGateway
	store  Store
	now    func() time.Time
}

// New constructs the connections service.
func New(tokens TokenDecoder, xeroGW XeroGateway, store Store) *Service {
	if tokens == nil || xeroGW == nil || store == nil {
		panic("connections service dependencies are required")
	}
	return &Service{tokens: tokens, xero: xeroGW, store: store, now: time.Now}
}

// GetOrCreate returns the portal's connection row, inserting a disconnected
// placeholder on first sight.
func (s *Service) GetOrCreate(ctx context.Context, portalID string) (persistence.ConnectionRecord, error) {
	rec, err := s.store.GetByPortalID(ctx, portalID)
	if errors.Is(err, persistence.ErrNotFound) {
		return s.store.Create(ctx, persistence.ConnectionRecord{PortalID: portalID})
	}
	return rec, err
}

// Connect stores a fresh authorization for the portal. The connected tenant
// is resolved from the token's active connection.
func (s *Service) Connect(ctx context.Context, portalID string, tokens xero.TokenSet, initiatedBy string) (persistence.ConnectionRecord, error) {
	if _, err := s.GetOrCreate(ctx, portalID); err != nil {
		return persistence.ConnectionRecord{}, err
	}

	tenantID, err := s.xero.ActiveTenantID(ctx, tokens.AccessToken)
	if err != nil {
		return persistence.ConnectionRecord{}, fmt.Errorf("resolve connected tenant: %w", err)
	}

	expiresAt := s.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	rec := persistence.ConnectionRecord{
		PortalID:     portalID,
		TenantID:     &tenantID,
		Status:       true,
		AccessToken:  &tokens.AccessToken,
		RefreshToken: &tokens.RefreshToken,
		ExpiresAt:    &expiresAt,
	}
	if initiatedBy != "" {
		rec.InitiatedBy = &initiatedBy
	}
	return s.store.Update(ctx, rec)
}

// Disconnect drops the portal's tokens and flips the connection inactive.
func (s *Service) Disconnect(ctx context.Context, portalID string) error {
	return s.store.Disconnect(ctx, portalID)
}

// Authorize turns a webhook token into the workspace context sync services
// run under. The token identifies the portal; the portal's connection must
// be active with a tenant and tokens, and a lapsed access token is refreshed
// and persisted before use.
func (s *Service) Authorize(ctx context.Context, token string) (workspace.Context, error) {
	portalID, err := s.tokens.Decode(token)
	if err != nil {
		return workspace.Context{}, err
	}
	return s.AuthorizePortal(ctx, portalID, token)
}

// AuthorizePortal is Authorize for an already-verified portal id.
func (s *Service) AuthorizePortal(ctx context.Context, portalID, token string) (workspace.Context, error) {
	rec, err := s.store.GetByPortalID(ctx, portalID)
	if errors.Is(err, persistence.ErrNotFound) {
		return workspace.Context{}, ErrNotConnected
	}
	if err != nil {
		return workspace.Context{}, fmt.Errorf("look up connection: %w", err)
	}
	if !rec.Status || rec.TenantID == nil || rec.AccessToken == nil || rec.RefreshToken == nil {
		return workspace.Context{}, ErrNotConnected
	}

	accessToken := *rec.AccessToken
	if rec.ExpiresAt == nil || !rec.ExpiresAt.After(s.now().Add(expirySkew)) {
		logging.Ctx(ctx).Info("refreshing xero access token", zap.String("portalId", portalID))
		tokens, err := s.xero.RefreshToken(ctx, *rec.RefreshToken)
		if err != nil {
			return workspace.Context{}, fmt.Errorf("refresh access token: %w", err)
		}
		expiresAt := s.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		if _, err := s.store.UpdateTokens(ctx, portalID, tokens.AccessToken, tokens.RefreshToken, expiresAt); err != nil {
			return workspace.Context{}, fmt.Errorf("persist refreshed tokens: %w", err)
		}
		accessToken = tokens.AccessToken
	}

	return workspace.Context{
		PortalID:        portalID,
		TenantID:        *rec.TenantID,
		Token:           token,
		XeroAccessToken: accessToken,
	}, nil
}
