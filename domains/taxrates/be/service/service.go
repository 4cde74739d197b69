// Package service resolves Xero tax rates for invoice line items. Rates are
// matched by effective percentage rather than name, so a workspace that
// already carries a 7.25% rate reuses it regardless of how it is labelled.
package service

import (
	"context"
	"fmt"
	"math"

	"github.com/copilot-platforms/xero-integration/gateway/xero"
)

// rateEpsilon absorbs float drift between Xero's reported effective rate and
// the percentage computed from invoice amounts.
const rateEpsilon = 1e-9

// XeroGateway is the slice of the Xero client this service needs.
type XeroGateway interface {
	GetTaxRates(ctx context.Context, sess xero.Session) ([]xero.TaxRate, error)
	CreateTaxRate(ctx context.Context, sess xero.Session, rate xero.TaxRate) (xero.TaxRate, error)
}

// Service finds or provisions tax rates in the connected organization.
type Service struct {
	xero XeroGateway
}

// New constructs the tax rate service.
func New(gw XeroGateway) *Service {
	if gw == nil {
		panic("xero gateway is required")
	}
	return &Service{xero: gw}
}

// GetTaxRateForPercentage returns an active tax rate whose effective rate
// equals the given percentage, creating one when the organization has none.
func (s *Service) GetTaxRateForPercentage(ctx context.Context, sess xero.Session, percentage float64) (xero.TaxRate, error) {
	rates, err := s.xero.GetTaxRates(ctx, sess)
	if err != nil {
		return xero.TaxRate{}, fmt.Errorf("list tax rates: %w", err)
	}

	for _, rate := range rates {
		if ratesEqual(rate.EffectiveRate, percentage) {
			return rate, nil
		}
	}

	created, err := s.xero.CreateTaxRate(ctx, sess, xero.TaxRate{
		Name:          fmt.Sprintf("Assembly Sales Tax - %v%%", percentage),
		Status:        xero.TaxRateStatusActive,
		ReportTaxType: xero.ReportTaxTypeOutput,
		TaxComponents: []xero.TaxComponent{{
			Name:             fmt.Sprintf("Assembly Sales Tax %v%%", percentage),
			Rate:             percentage,
			IsCompound:       false,
			IsNonRecoverable: false,
		}},
	})
	if err != nil {
		return xero.TaxRate{}, fmt.Errorf("create tax rate for %v%%: %w", percentage, err)
	}
	return created, nil
}

func ratesEqual(a, b float64) bool {
	return math.Abs(a-b) < rateEpsilon
}
