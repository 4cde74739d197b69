package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/copilot-platforms/xero-integration/gateway/xero"
)

type mockXero struct {
	getTaxRatesFn   func(ctx context.Context, sess xero.Session) ([]xero.TaxRate, error)
	createTaxRateFn func(ctx context.Context, sess xero.Session, rate xero.TaxRate) (xero.TaxRate, error)
}

func (m *mockXero) GetTaxRates(ctx context.Context, sess xero.Session) ([]xero.TaxRate, error) {
	return m.getTaxRatesFn(ctx, sess)
}

func (m *mockXero) CreateTaxRate(ctx context.Context, sess xero.Session, rate xero.TaxRate) (xero.TaxRate, error) {
	return m.createTaxRateFn(ctx, sess, rate)
}

func testSession() xero.Session {
	return xero.Session{AccessToken: "token", TenantID: uuid.New()}
}

func TestGetTaxRateForPercentageReusesExistingRate(t *testing.T) {
	t.Parallel()

	gw := &mockXero{
		getTaxRatesFn: func(context.Context, xero.Session) ([]xero.TaxRate, error) {
			return []xero.TaxRate{
				{Name: "GST", TaxType: "OUTPUT", EffectiveRate: 10},
				{Name: "CA Sales Tax", TaxType: "TAX001", EffectiveRate: 7.25},
			}, nil
		},
		createTaxRateFn: func(context.Context, xero.Session, xero.TaxRate) (xero.TaxRate, error) {
			t.Fatal("should not create a rate when one matches")
			return xero.TaxRate{}, nil
		},
	}

	rate, err := New(gw).GetTaxRateForPercentage(context.Background(), testSession(), 7.25)
	require.NoError(t, err)
	require.Equal(t, "CA Sales Tax", rate.Name)
}

func TestGetTaxRateForPercentageCreatesWhenMissing(t *testing.T) {
	t.Parallel()

	var created xero.TaxRate
	gw := &mockXero{
		getTaxRatesFn: func(context.Context, xero.Session) ([]xero.TaxRate, error) {
			return []xero.TaxRate{{Name: "GST", EffectiveRate: 10}}, nil
		},
		createTaxRateFn: func(_ context.Context, _ xero.Session, rate xero.TaxRate) (xero.TaxRate, error) {
			created = rate
			rate.TaxType = "TAX002"
			return rate, nil
		},
	}

	rate, err := New(gw).GetTaxRateForPercentage(context.Background(), testSession(), 8.5)
	require.NoError(t, err)
	require.Equal(t, "TAX002", rate.TaxType)
	require.Equal(t, "Assembly Sales Tax - 8.5%", created.Name)
	require.Equal(t, xero.TaxRateStatusActive, created.Status)
	require.Len(t, created.TaxComponents, 1)
	require.Equal(t, 8.5, created.TaxComponents[0].Rate)
	require.False(t, created.TaxComponents[0].IsCompound)
}

func TestGetTaxRateForPercentagePropagatesListError(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	gw := &mockXero{
		getTaxRatesFn: func(context.Context, xero.Session) ([]xero.TaxRate, error) {
			return nil, boom
		},
	}

	_, err := New(gw).GetTaxRateForPercentage(context.Background(), testSession(), 5)
	require.ErrorIs(t, err, boom)
}
