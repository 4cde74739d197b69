package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/copilot-platforms/xero-integration/gateway/xero"
)

type mockXero struct {
	getAccountsFn    func(ctx context.Context, sess xero.Session) ([]xero.Account, error)
	createAccountFn  func(ctx context.Context, sess xero.Session, account xero.Account) (xero.Account, error)
	enablePaymentsFn func(ctx context.Context, sess xero.Session, accountID uuid.UUID) error
}

func (m *mockXero) GetAccounts(ctx context.Context, sess xero.Session) ([]xero.Account, error) {
	return m.getAccountsFn(ctx, sess)
}

func (m *mockXero) CreateAccount(ctx context.Context, sess xero.Session, account xero.Account) (xero.Account, error) {
	return m.createAccountFn(ctx, sess, account)
}

func (m *mockXero) EnableAccountPayments(ctx context.Context, sess xero.Session, accountID uuid.UUID) error {
	return m.enablePaymentsFn(ctx, sess, accountID)
}

func testSession() xero.Session {
	return xero.Session{AccessToken: "token", TenantID: uuid.New()}
}

func TestGetOrCreateExpenseAccountEnablesPayments(t *testing.T) {
	t.Parallel()

	existing := xero.Account{
		AccountID: uuid.New(),
		Code:      xero.AccountCodeMerchantFees,
		Name:      "Merchant Fees",
		Type:      xero.AccountTypeExpense,
	}
	var enabledID uuid.UUID
	gw := &mockXero{
		getAccountsFn: func(context.Context, xero.Session) ([]xero.Account, error) {
			return []xero.Account{{Code: "4000"}, existing}, nil
		},
		enablePaymentsFn: func(_ context.Context, _ xero.Session, accountID uuid.UUID) error {
			enabledID = accountID
			return nil
		},
	}

	acct, err := New(gw).GetOrCreateExpenseAccount(context.Background(), testSession())
	require.NoError(t, err)
	require.Equal(t, existing.AccountID, acct.AccountID)
	require.Equal(t, existing.AccountID, enabledID)
	require.True(t, acct.EnablePaymentsToAccount)
}

func TestGetOrCreateExpenseAccountCreatesWhenMissing(t *testing.T) {
	t.Parallel()

	var created xero.Account
	gw := &mockXero{
		getAccountsFn: func(context.Context, xero.Session) ([]xero.Account, error) {
			return []xero.Account{{Code: "4000"}}, nil
		},
		createAccountFn: func(_ context.Context, _ xero.Session, account xero.Account) (xero.Account, error) {
			created = account
			account.AccountID = uuid.New()
			return account, nil
		},
	}

	acct, err := New(gw).GetOrCreateExpenseAccount(context.Background(), testSession())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, acct.AccountID)
	require.Equal(t, xero.AccountCodeMerchantFees, created.Code)
	require.Equal(t, xero.ExpenseAccountName, created.Name)
	require.Equal(t, xero.AccountTypeExpense, created.Type)
	require.True(t, created.EnablePaymentsToAccount)
}

func TestGetOrCreateAssetAccountMatchesByName(t *testing.T) {
	t.Parallel()

	existing := xero.Account{AccountID: uuid.New(), Name: xero.AssetAccountName, Type: xero.AccountTypeBank}
	gw := &mockXero{
		getAccountsFn: func(context.Context, xero.Session) ([]xero.Account, error) {
			return []xero.Account{{Name: "Business Checking"}, existing}, nil
		},
		createAccountFn: func(context.Context, xero.Session, xero.Account) (xero.Account, error) {
			t.Fatal("should not create when the asset account exists")
			return xero.Account{}, nil
		},
	}

	acct, err := New(gw).GetOrCreateAssetAccount(context.Background(), testSession())
	require.NoError(t, err)
	require.Equal(t, existing.AccountID, acct.AccountID)
}

func TestGetOrCreateAssetAccountCreatesBankType(t *testing.T) {
	t.Parallel()

	var created xero.Account
	gw := &mockXero{
		getAccountsFn: func(context.Context, xero.Session) ([]xero.Account, error) {
			return nil, nil
		},
		createAccountFn: func(_ context.Context, _ xero.Session, account xero.Account) (xero.Account, error) {
			created = account
			return account, nil
		},
	}

	_, err := New(gw).GetOrCreateAssetAccount(context.Background(), testSession())
	require.NoError(t, err)
	require.Equal(t, xero.AssetAccountName, created.Name)
	require.Equal(t, xero.AccountTypeBank, created.Type)
}
