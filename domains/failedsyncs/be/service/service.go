// Package service replays dead-lettered webhook events. Each failed event
// holds one row keyed by its resource id; the cron-driven retry loop walks
// rows still under the attempt budget, re-authorizes their workspace and
// re-dispatches them. A row is deleted on success and left for the next pass
// otherwise; rows at the budget stay put as a manual-inspection trail.
package service

import (
	"context"
	"encoding/json"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/copilot-platforms/xero-integration/platform/go/logging"
	"github.com/copilot-platforms/xero-integration/platform/go/metrics"
	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	webhooksvc "github.com/copilot-platforms/xero-integration/domains/webhook/be/service"
)

// maxAttempts is the per-event retry budget, the initial failure included.
const maxAttempts = 3

// tokenCacheSize bounds the per-batch token cache; one entry per portal.
const tokenCacheSize = 256

// Store abstracts the failed_syncs table.
type Store interface {
	ListRetryable(ctx context.Context, maxAttempts int) ([]persistence.FailedSyncRecord, error)
	DeleteByResourceID(ctx context.Context, resourceID string) error
}

// TokenEncoder mints a fresh workspace token for a portal.
type TokenEncoder interface {
	Encode(workspaceID string) (string, error)
}

// Authorizer resolves the workspace context for a portal and token.
type Authorizer interface {
	AuthorizePortal(ctx context.Context, portalID, token string) (workspace.Context, error)
}

// EventDispatcher replays one envelope under a workspace.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ws workspace.Context, env webhooksvc.Envelope) error
}

// Summary reports one retry pass.
type Summary struct {
	Scanned   int `json:"scanned"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
}

// Service runs the dead-letter retry loop.
type Service struct {
	store       Store
	tokens      TokenEncoder
	connections Authorizer
	dispatcher  EventDispatcher
}

// New constructs the retry service.
func New(store Store, tokens TokenEncoder, connections Authorizer, dispatcher EventDispatcher) *Service {
	if store == nil || tokens == nil || connections == nil || dispatcher == nil {
		panic("failed sync service dependencies are required")
	}
	return &Service{store: store, tokens: tokens, connections: connections, dispatcher: dispatcher}
}

// RetryAll replays every dead-lettered event still under the attempt budget.
// Failures are isolated per record: a broken event never stops the batch.
// Tokens are minted once per portal per pass.
func (s *Service) RetryAll(ctx context.Context) (Summary, error) {
	records, err := s.store.ListRetryable(ctx, maxAttempts)
	if err != nil {
		return Summary{}, err
	}

	tokenCache, err := lru.New[string, string](tokenCacheSize)
	if err != nil {
		return Summary{}, err
	}

	logger := logging.Ctx(ctx)
	summary := Summary{Scanned: len(records)}
	for _, rec := range records {
		if err := s.retryOne(ctx, rec, tokenCache); err != nil {
			if errors.Is(err, errDropped) {
				summary.Dropped++
				metrics.DeadLetterRetries.WithLabelValues("dropped").Inc()
				continue
			}
			summary.Failed++
			metrics.DeadLetterRetries.WithLabelValues(metrics.OutcomeFailed).Inc()
			logger.Warn("dead-letter retry failed",
				zap.String("resourceId", rec.ResourceID),
				zap.String("eventType", rec.EventType),
				zap.Int("attempts", rec.Attempts),
				zap.Error(err))
			continue
		}
		summary.Succeeded++
		metrics.DeadLetterRetries.WithLabelValues(metrics.OutcomeSynced).Inc()
	}
	return summary, nil
}

// errDropped marks a record that can never replay (unparseable payload); its
// row is removed rather than retried forever.
var errDropped = errors.New("dead-letter record dropped")

func (s *Service) retryOne(ctx context.Context, rec persistence.FailedSyncRecord, tokenCache *lru.Cache[string, string]) error {
	env, err := webhooksvc.EnvelopeFor(webhooksvc.EventType(rec.EventType), json.RawMessage(rec.Payload))
	if err != nil {
		logging.Ctx(ctx).Error("dead-letter payload no longer parses, dropping",
			zap.String("resourceId", rec.ResourceID),
			zap.Error(err))
		if derr := s.store.DeleteByResourceID(ctx, rec.ResourceID); derr != nil && !errors.Is(derr, persistence.ErrNotFound) {
			return derr
		}
		return errDropped
	}

	token, ok := tokenCache.Get(rec.PortalID)
	if !ok {
		token, err = s.tokens.Encode(rec.PortalID)
		if err != nil {
			return err
		}
		tokenCache.Add(rec.PortalID, token)
	}

	ws, err := s.connections.AuthorizePortal(ctx, rec.PortalID, token)
	if err != nil {
		return err
	}

	// The dispatcher bumps the row's attempt count itself on failure.
	if err := s.dispatcher.Dispatch(ctx, ws, env); err != nil {
		return err
	}

	if err := s.store.DeleteByResourceID(ctx, rec.ResourceID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	return nil
}
