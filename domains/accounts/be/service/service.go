// Package service provisions the chart-of-accounts entries the sync depends
// on: the merchant fee expense account and the clearing asset account used by
// fee bank transactions.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/copilot-platforms/xero-integration/gateway/xero"
)

const expenseAccountDescription = "Expense account that is charged for Assembly processing fees"

// XeroGateway is the slice of the Xero client this service needs.
type XeroGateway interface {
	GetAccounts(ctx context.Context, sess xero.Session) ([]xero.Account, error)
	CreateAccount(ctx context.Context, sess xero.Session, account xero.Account) (xero.Account, error)
	EnableAccountPayments(ctx context.Context, sess xero.Session, accountID uuid.UUID) error
}

// Service finds or provisions the accounts fee syncing writes to.
type Service struct {
	xero XeroGateway
}

// New constructs the accounts service.
func New(gw XeroGateway) *Service {
	if gw == nil {
		panic("xero gateway is required")
	}
	return &Service{xero: gw}
}

// GetOrCreateExpenseAccount returns the merchant fee expense account,
// matched by code. An existing account that has payments disabled is
// enabled before being returned.
func (s *Service) GetOrCreateExpenseAccount(ctx context.Context, sess xero.Session) (xero.Account, error) {
	accounts, err := s.xero.GetAccounts(ctx, sess)
	if err != nil {
		return xero.Account{}, fmt.Errorf("list accounts: %w", err)
	}

	for _, acct := range accounts {
		if acct.Code != xero.AccountCodeMerchantFees {
			continue
		}
		if !acct.EnablePaymentsToAccount {
			if err := s.xero.EnableAccountPayments(ctx, sess, acct.AccountID); err != nil {
				return xero.Account{}, fmt.Errorf("enable payments on expense account: %w", err)
			}
			acct.EnablePaymentsToAccount = true
		}
		return acct, nil
	}

	created, err := s.xero.CreateAccount(ctx, sess, xero.Account{
		Code:                    xero.AccountCodeMerchantFees,
		Name:                    xero.ExpenseAccountName,
		Type:                    xero.AccountTypeExpense,
		Description:             expenseAccountDescription,
		EnablePaymentsToAccount: true,
	})
	if err != nil {
		return xero.Account{}, fmt.Errorf("create expense account: %w", err)
	}
	return created, nil
}

// GetOrCreateAssetAccount returns the bank-type clearing account that fee
// bank transactions draw from, matched by name.
func (s *Service) GetOrCreateAssetAccount(ctx context.Context, sess xero.Session) (xero.Account, error) {
	accounts, err := s.xero.GetAccounts(ctx, sess)
	if err != nil {
		return xero.Account{}, fmt.Errorf("list accounts: %w", err)
	}

	for _, acct := range accounts {
		if acct.Name == xero.AssetAccountName {
			return acct, nil
		}
	}

	created, err := s.xero.CreateAccount(ctx, sess, xero.Account{
		Code: xero.AccountCodeBank,
		Name: xero.AssetAccountName,
		Type: xero.AccountTypeBank,
	})
	if err != nil {
		return xero.Account{}, fmt.Errorf("create asset account: %w", err)
	}
	return created, nil
}
