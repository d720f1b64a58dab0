// Package bankaccount manages payout destinations. Accounts are only stored
// once the provider has resolved the holder name.
package bankaccount

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	apperrors "kudi/internal/errors"
	"kudi/internal/logger"
	"kudi/internal/models"
	"kudi/internal/repositories"
	"kudi/internal/services/gateway"
)

var accountNumberRegex = regexp.MustCompile(`^[0-9]{10}$`)

type Service interface {
	Add(ctx context.Context, userID uint, accountNumber, bankCode string) (*models.BankAccount, error)
	List(ctx context.Context, userID uint) ([]models.BankAccount, error)
	SetDefault(ctx context.Context, userID, accountID uint) (*models.BankAccount, error)
	// Unverify blocks further payouts to an account until it is re-added.
	Unverify(ctx context.Context, accountID uint) error
}

type service struct {
	store   repositories.Store
	gateway gateway.Client
}

func NewService(store repositories.Store, gw gateway.Client) Service {
	if store == nil || gw == nil {
		panic("store and gateway are required")
	}
	return &service{store: store, gateway: gw}
}

func (s *service) Add(ctx context.Context, userID uint, accountNumber, bankCode string) (*models.BankAccount, error) {
	if userID == 0 {
		return nil, apperrors.ErrUnauthorized
	}
	if !accountNumberRegex.MatchString(accountNumber) {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "account number must be 10 digits")
	}
	if bankCode == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "bank code is required")
	}

	details, err := s.gateway.ResolveBankAccount(ctx, accountNumber, bankCode)
	if gateway.IsRejected(err) {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "could not resolve bank account", err)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrProvider, "resolve bank account", err)
	}

	var account *models.BankAccount
	err = s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		existing, err := tx.ListBankAccounts(ctx, userID)
		if err != nil {
			return err
		}
		for i := range existing {
			if existing[i].AccountNumber == accountNumber && existing[i].BankCode == bankCode {
				account = &existing[i]
				account.AccountName = details.AccountName
				account.IsVerified = true
				return tx.SaveBankAccount(ctx, account)
			}
		}

		account = &models.BankAccount{
			UserID:        userID,
			AccountNumber: accountNumber,
			AccountName:   details.AccountName,
			BankCode:      bankCode,
			IsVerified:    true,
			IsDefault:     len(existing) == 0,
		}
		return tx.CreateBankAccount(ctx, account)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save bank account: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"user_id":         userID,
		"bank_account_id": account.ID,
		"bank_code":       bankCode,
	}).Info("bank account verified")
	return account, nil
}

func (s *service) List(ctx context.Context, userID uint) ([]models.BankAccount, error) {
	accounts, err := s.store.ListBankAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}
	return accounts, nil
}

func (s *service) SetDefault(ctx context.Context, userID, accountID uint) (*models.BankAccount, error) {
	var account *models.BankAccount
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		a, err := tx.GetBankAccount(ctx, accountID)
		if errors.Is(err, repositories.ErrNotFound) || (err == nil && a.UserID != userID) {
			return apperrors.Newf(apperrors.ErrNotFound, "bank account not found")
		}
		if err != nil {
			return err
		}
		if err := tx.ClearDefaultBankAccount(ctx, userID); err != nil {
			return err
		}
		a.IsDefault = true
		account = a
		return tx.SaveBankAccount(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *service) Unverify(ctx context.Context, accountID uint) error {
	a, err := s.store.GetBankAccount(ctx, accountID)
	if errors.Is(err, repositories.ErrNotFound) {
		return apperrors.Newf(apperrors.ErrNotFound, "bank account not found")
	}
	if err != nil {
		return err
	}
	a.IsVerified = false
	a.RecipientCode = ""
	if err := s.store.SaveBankAccount(ctx, a); err != nil {
		return fmt.Errorf("failed to unverify bank account: %w", err)
	}
	logger.Warnf("bank account %d unverified", accountID)
	return nil
}
