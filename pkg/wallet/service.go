package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the wallet domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	idFn   func() string
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, idFn: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// EnsureWallet returns the user's wallet, creating an empty one on first
// access. Safe under concurrent first access by the same user.
func (service *Service) EnsureWallet(ctx context.Context, userID UserID) (Wallet, error) {
	walletRow, err := service.store.GetOrCreateWallet(ctx, userID)
	service.logOperation(ctx, OperationLog{
		Operation: operationEnsureWallet,
		UserID:    userID,
		Error:     err,
	})
	return walletRow, err
}

// Balance reads the current projected balance.
func (service *Service) Balance(ctx context.Context, userID UserID) (Coins, error) {
	walletRow, err := service.store.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return walletRow.BalanceCoins, nil
}

// CanAfford reports whether the balance covers price without mutating state.
func (service *Service) CanAfford(ctx context.Context, userID UserID, price Coins) (bool, Coins, error) {
	balance, err := service.Balance(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return balance >= price, balance, nil
}

// Credit atomically increments the balance and appends a credit entry.
func (service *Service) Credit(ctx context.Context, userID UserID, amount Coins, source Source, description string, metadata MetadataJSON) (Wallet, error) {
	var updated Wallet
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		walletRow, err := transactionStore.GetWalletForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		newBalance := walletRow.BalanceCoins + amount
		if err := transactionStore.UpdateWalletBalance(ctx, walletRow.WalletID, newBalance); err != nil {
			return err
		}
		if _, err := transactionStore.InsertEntry(ctx, Entry{
			WalletID:       walletRow.WalletID,
			UserID:         userID.String(),
			Direction:      DirectionCredit,
			AmountCoins:    amount,
			Source:         source,
			Description:    description,
			IdempotencyKey: service.idFn(),
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: service.nowFn(),
		}); err != nil {
			return err
		}
		walletRow.BalanceCoins = newBalance
		updated = walletRow
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		Metadata:  metadata,
		Error:     operationError,
	})
	return updated, operationError
}

// Debit atomically checks funds, decrements the balance, and appends a debit
// entry. Returns ErrInsufficientFunds when the balance cannot cover amount.
func (service *Service) Debit(ctx context.Context, userID UserID, amount Coins, source Source, description string, metadata MetadataJSON) (Wallet, error) {
	var updated Wallet
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		walletRow, err := transactionStore.GetWalletForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if walletRow.BalanceCoins < amount {
			return ErrInsufficientFunds
		}
		newBalance := walletRow.BalanceCoins - amount
		if err := transactionStore.UpdateWalletBalance(ctx, walletRow.WalletID, newBalance); err != nil {
			return err
		}
		if _, err := transactionStore.InsertEntry(ctx, Entry{
			WalletID:       walletRow.WalletID,
			UserID:         userID.String(),
			Direction:      DirectionDebit,
			AmountCoins:    amount,
			Source:         source,
			Description:    description,
			IdempotencyKey: service.idFn(),
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: service.nowFn(),
		}); err != nil {
			return err
		}
		walletRow.BalanceCoins = newBalance
		updated = walletRow
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		Metadata:  metadata,
		Error:     operationError,
	})
	return updated, operationError
}

// ListEntries lists the user's ledger entries, most recent first.
func (service *Service) ListEntries(ctx context.Context, userID UserID, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, userID, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
