// Package service keeps Copilot price points and Xero catalog items in step.
// Each synced price maps to one item; a mapping with a NULL item id marks a
// price the workspace chose not to represent in Xero, and invoice lines for
// it are dropped rather than guessed at.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"

	"github.com/copilot-platforms/xero-integration/gateway/copilot"
	"github.com/copilot-platforms/xero-integration/gateway/xero"
	"github.com/copilot-platforms/xero-integration/platform/go/persistence"
	"github.com/copilot-platforms/xero-integration/platform/go/syncerror"
	"github.com/copilot-platforms/xero-integration/platform/go/workspace"

	synclogs "github.com/copilot-platforms/xero-integration/domains/synclogs/be/service"
)

const itemCodeLength = 12

// XeroGateway is the slice of the Xero client this service needs.
type XeroGateway interface {
	GetItemsMap(ctx context.Context, sess xero.Session) (map[uuid.UUID]xero.Item, error)
	CreateItems(ctx context.Context, sess xero.Session, items []xero.Item) ([]xero.Item, error)
	UpdateItem(ctx context.Context, sess xero.Session, itemID uuid.UUID, item xero.Item) (xero.Item, error)
	DeleteItem(ctx context.Context, sess xero.Session, itemID uuid.UUID) error
}

// CopilotGateway is the slice of the Copilot client this service needs.
type CopilotGateway interface {
	ProductsByID(ctx context.Context, token string, ids []string) (map[string]copilot.Product, error)
	PricesByID(ctx context.Context, token string, ids []string) (map[string]copilot.Price, error)
}

// MappingStore abstracts the synced_items table.
type MappingStore interface {
	GetByPriceID(ctx context.Context, portalID, priceID string) (persistence.SyncedItemRecord, error)
	ListByProductID(ctx context.Context, portalID, productID string) ([]persistence.SyncedItemRecord, error)
	Create(ctx context.Context, rec persistence.SyncedItemRecord) (persistence.SyncedItemRecord, error)
	UpdateItemID(ctx context.Context, portalID, priceID string, itemID *uuid.UUID) (persistence.SyncedItemRecord, error)
	DeleteByPriceID(ctx context.Context, portalID, priceID string) error
}

// AuditLog appends item sync entries to the audit trail.
type AuditLog interface {
	Append(ctx context.Context, ws workspace.Context, rec persistence.SyncLogRecord) error
}

// Service maps price points to catalog items.
type Service struct {
	xero     XeroGateway
	copilot  CopilotGateway
	mappings MappingStore
	audit    AuditLog
}

// New constructs the items service.
func New(xeroGW XeroGateway, copilotGW CopilotGateway, mappings MappingStore, audit AuditLog) *Service {
	if xeroGW == nil || copilotGW == nil || mappings == nil || audit == nil {
		panic("items service dependencies are required")
	}
	return &Service{xero: xeroGW, copilot: copilotGW, mappings: mappings, audit: audit}
}

// ItemsForPrices resolves the Xero item for each of the given price ids.
// Prices with no live mapping are created on the fly when autoCreate is set;
// otherwise they are absent from the result and the caller drops those
// invoice lines. A mapping whose item disappeared from Xero is treated the
// same as no mapping.
func (s *Service) ItemsForPrices(ctx context.Context, ws workspace.Context, priceIDs []string, autoCreate bool) (map[string]xero.Item, error) {
	sess := xero.Session{AccessToken: ws.XeroAccessToken, TenantID: ws.TenantID}

	liveItems, err := s.xero.GetItemsMap(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	resolved := make(map[string]xero.Item, len(priceIDs))
	var unmapped []string
	for _, priceID := range priceIDs {
		if _, done := resolved[priceID]; done {
			continue
		}
		mapping, err := s.mappings.GetByPriceID(ctx, ws.PortalID, priceID)
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			unmapped = append(unmapped, priceID)
			continue
		case err != nil:
			return nil, fmt.Errorf("look up item mapping for price %s: %w", priceID, err)
		}
		if mapping.ItemID == nil {
			// Deliberately excluded price.
			continue
		}
		item, live := liveItems[*mapping.ItemID]
		if !live {
			unmapped = append(unmapped, priceID)
			continue
		}
		resolved[priceID] = item
	}

	if !autoCreate {
		return resolved, nil
	}

	for _, priceID := range unmapped {
		item, err := s.CreateItemForPrice(ctx, ws, priceID)
		if err != nil {
			return nil, err
		}
		resolved[priceID] = item
	}
	return resolved, nil
}

// CreateItemForPrice provisions a catalog item for one price point and
// records the mapping. The item code is a fresh random identifier; Xero
// requires codes to be unique within the organization.
func (s *Service) CreateItemForPrice(ctx context.Context, ws workspace.Context, priceID string) (xero.Item, error) {
	item, err := s.createItemForPrice(ctx, ws, priceID)
	if err != nil {
		msg := err.Error()
		return xero.Item{}, syncerror.New("sync product item", err).WithAudit(persistence.SyncLogRecord{
			EventType:    synclogs.EventCreated,
			Status:       persistence.SyncLogFailed,
			EntityType:   synclogs.EntityProduct,
			CopilotID:    &priceID,
			ErrorMessage: &msg,
		})
	}
	return item, nil
}

func (s *Service) createItemForPrice(ctx context.Context, ws workspace.Context, priceID string) (xero.Item, error) {
	prices, err := s.copilot.PricesByID(ctx, ws.Token, []string{priceID})
	if err != nil {
		return xero.Item{}, fmt.Errorf("fetch price %s: %w", priceID, err)
	}
	price, ok := prices[priceID]
	if !ok {
		return xero.Item{}, fmt.Errorf("price %s not found on source platform", priceID)
	}

	products, err := s.copilot.ProductsByID(ctx, ws.Token, []string{price.ProductID})
	if err != nil {
		return xero.Item{}, fmt.Errorf("fetch product %s: %w", price.ProductID, err)
	}
	product, ok := products[price.ProductID]
	if !ok {
		return xero.Item{}, fmt.Errorf("product %s not found on source platform", price.ProductID)
	}

	sess := xero.Session{AccessToken: ws.XeroAccessToken, TenantID: ws.TenantID}
	unitPrice := float64(price.Amount) / 100

	created, err := s.xero.CreateItems(ctx, sess, []xero.Item{{
		Code:        newItemCode(),
		Name:        product.Name,
		Description: htmlToText(product.Description),
		IsSold:      true,
		SalesDetails: &xero.SalesDetails{
			UnitPrice:   unitPrice,
			AccountCode: xero.AccountCodeSales,
		},
	}})
	if err != nil {
		return xero.Item{}, fmt.Errorf("create item for price %s: %w", priceID, err)
	}
	if len(created) == 0 {
		return xero.Item{}, fmt.Errorf("create item for price %s: empty response", priceID)
	}
	item := created[0]

	if err := s.recordMapping(ctx, ws, price.ProductID, priceID, item.ItemID); err != nil {
		return xero.Item{}, err
	}

	rec := persistence.SyncLogRecord{
		EventType:    synclogs.EventMapped,
		Status:       persistence.SyncLogSuccess,
		EntityType:   synclogs.EntityProduct,
		CopilotID:    &priceID,
		XeroID:       &item.ItemID,
		ProductName:  &product.Name,
		ProductPrice: &unitPrice,
		XeroItemName: &item.Name,
	}
	if err := s.audit.Append(ctx, ws, rec); err != nil {
		return xero.Item{}, fmt.Errorf("record item audit entry: %w", err)
	}
	return item, nil
}

// recordMapping inserts or repairs the price mapping row.
func (s *Service) recordMapping(ctx context.Context, ws workspace.Context, productID, priceID string, itemID uuid.UUID) error {
	_, err := s.mappings.Create(ctx, persistence.SyncedItemRecord{
		PortalID:  ws.PortalID,
		TenantID:  ws.TenantID,
		ProductID: productID,
		PriceID:   priceID,
		ItemID:    &itemID,
	})
	if err == nil {
		return nil
	}
	// The row may already exist pointing at a dead item.
	if _, uerr := s.mappings.UpdateItemID(ctx, ws.PortalID, priceID, &itemID); uerr != nil {
		return fmt.Errorf("persist item mapping for price %s: %w", priceID, errors.Join(err, uerr))
	}
	return nil
}

// UpdateItemsForProduct pushes a product rename onto every mapped item under
// it. Prices without a live item are left alone.
func (s *Service) UpdateItemsForProduct(ctx context.Context, ws workspace.Context, productID, name, description string) error {
	mappings, err := s.mappings.ListByProductID(ctx, ws.PortalID, productID)
	if err != nil {
		return fmt.Errorf("list item mappings for product %s: %w", productID, err)
	}

	sess := xero.Session{AccessToken: ws.XeroAccessToken, TenantID: ws.TenantID}
	liveItems, err := s.xero.GetItemsMap(ctx, sess)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	// Product descriptions arrive as rich text.
	description = htmlToText(description)

	for _, mapping := range mappings {
		if mapping.ItemID == nil {
			continue
		}
		item, live := liveItems[*mapping.ItemID]
		if !live {
			continue
		}

		item.Name = name
		item.Description = description
		updated, err := s.xero.UpdateItem(ctx, sess, item.ItemID, item)
		if err != nil {
			msg := err.Error()
			return syncerror.New("update product item", err).WithAudit(persistence.SyncLogRecord{
				EventType:    synclogs.EventUpdated,
				Status:       persistence.SyncLogFailed,
				EntityType:   synclogs.EntityProduct,
				CopilotID:    &productID,
				XeroID:       &item.ItemID,
				ErrorMessage: &msg,
			})
		}

		rec := persistence.SyncLogRecord{
			EventType:    synclogs.EventUpdated,
			Status:       persistence.SyncLogSuccess,
			EntityType:   synclogs.EntityProduct,
			CopilotID:    &productID,
			XeroID:       &updated.ItemID,
			ProductName:  &name,
			XeroItemName: &updated.Name,
		}
		if err := s.audit.Append(ctx, ws, rec); err != nil {
			return fmt.Errorf("record item audit entry: %w", err)
		}
	}
	return nil
}

// DeleteSyncedItem removes both the Xero item and the mapping for a price.
// Mappings with no item only lose the row.
func (s *Service) DeleteSyncedItem(ctx context.Context, ws workspace.Context, priceID string) error {
	mapping, err := s.mappings.GetByPriceID(ctx, ws.PortalID, priceID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up item mapping for price %s: %w", priceID, err)
	}

	if mapping.ItemID != nil {
		sess := xero.Session{AccessToken: ws.XeroAccessToken, TenantID: ws.TenantID}
		if err := s.xero.DeleteItem(ctx, sess, *mapping.ItemID); err != nil && !xero.IsNotFound(err) {
			return fmt.Errorf("delete item %s: %w", *mapping.ItemID, err)
		}
	}
	if err := s.mappings.DeleteByPriceID(ctx, ws.PortalID, priceID); err != nil {
		return err
	}

	rec := persistence.SyncLogRecord{
		EventType:  synclogs.EventUnmapped,
		Status:     persistence.SyncLogInfo,
		EntityType: synclogs.EntityProduct,
		CopilotID:  &priceID,
	}
	if mapping.ItemID != nil {
		rec.XeroID = mapping.ItemID
	}
	if err := s.audit.Append(ctx, ws, rec); err != nil {
		return fmt.Errorf("record item audit entry: %w", err)
	}
	return nil
}

// htmlToText flattens a rich-text product description to plain text: tags
// removed, entities decoded, whitespace collapsed.
func htmlToText(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
}

// newItemCode returns a random alphanumeric code for a new catalog item.
func newItemCode() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, itemCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}
