package wallet

import "context"

// Reserve debits amount under a pending two-phase entry tagged with
// transactionID. The debit happens here, before the caller performs risky
// external work; a crash afterwards leaves a recoverable pending entry rather
// than a silent loss. Fails with ErrDuplicateTransaction when the token was
// already used by this user and with ErrInsufficientFunds when the balance
// cannot cover amount.
func (service *Service) Reserve(ctx context.Context, userID UserID, amount Coins, transactionID TransactionID, description string, metadata MetadataJSON) (Wallet, Entry, error) {
	var (
		updated Wallet
		pending Entry
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, found, err := transactionStore.FindEntryByTransactionID(ctx, userID, transactionID); err != nil {
			return err
		} else if found {
			return ErrDuplicateTransaction
		}
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
		nowUnixUTC := service.nowFn()
		entry, err := transactionStore.InsertEntry(ctx, Entry{
			WalletID:       walletRow.WalletID,
			UserID:         userID.String(),
			Direction:      DirectionDebit,
			AmountCoins:    amount,
			Source:         SourceSystem,
			Description:    description,
			Lifecycle:      PendingLifecycle(transactionID, nowUnixUTC),
			IdempotencyKey: transactionID.String(),
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		walletRow.BalanceCoins = newBalance
		updated = walletRow
		pending = entry
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationReserve,
		UserID:        userID,
		TransactionID: transactionID,
		Amount:        amount,
		Metadata:      metadata,
		Error:         operationError,
	})
	return updated, pending, operationError
}

// Complete finalizes a pending reservation. The balance is untouched; the
// debit already happened at reserve time. finalMetadata, when non-empty,
// replaces the caller context stored on the entry.
func (service *Service) Complete(ctx context.Context, userID UserID, transactionID TransactionID, finalMetadata MetadataJSON) (Entry, error) {
	var completed Entry
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, found, err := transactionStore.FindEntryByTransactionID(ctx, userID, transactionID)
		if err != nil {
			return err
		}
		if !found || entry.Lifecycle.Status != LifecyclePending {
			return ErrTransactionNotFound
		}
		lifecycle := entry.Lifecycle.Completed(service.nowFn())
		metadataJSON := entry.MetadataJSON
		if finalMetadata.String() != "{}" {
			metadataJSON = finalMetadata.String()
		}
		if err := transactionStore.UpdateEntryLifecycle(ctx, entry.EntryID, LifecyclePending, lifecycle, metadataJSON); err != nil {
			return err
		}
		entry.Lifecycle = lifecycle
		entry.MetadataJSON = metadataJSON
		completed = entry
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationComplete,
		UserID:        userID,
		TransactionID: transactionID,
		Amount:        completed.AmountCoins,
		Metadata:      finalMetadata,
		Error:         operationError,
	})
	return completed, operationError
}

// Refund reverses a reserved debit with a compensating credit and marks the
// original entry refunded. Idempotent at the status level: refunding an
// already-refunded transaction returns the stored state without crediting
// again.
func (service *Service) Refund(ctx context.Context, userID UserID, transactionID TransactionID, reason string) (Entry, error) {
	var refunded Entry
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, found, err := transactionStore.FindEntryByTransactionID(ctx, userID, transactionID)
		if err != nil {
			return err
		}
		if !found || entry.Direction != DirectionDebit {
			return ErrTransactionNotFound
		}
		if entry.Lifecycle.Status == LifecycleRefunded {
			refunded = entry
			return nil
		}
		lifecycle := entry.Lifecycle.Refunded(service.nowFn(), reason)
		if err := transactionStore.UpdateEntryLifecycle(ctx, entry.EntryID, entry.Lifecycle.Status, lifecycle, entry.MetadataJSON); err != nil {
			return err
		}
		walletRow, err := transactionStore.GetWalletForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		newBalance := walletRow.BalanceCoins + entry.AmountCoins
		if err := transactionStore.UpdateWalletBalance(ctx, walletRow.WalletID, newBalance); err != nil {
			return err
		}
		if _, err := transactionStore.InsertEntry(ctx, Entry{
			WalletID:        walletRow.WalletID,
			UserID:          userID.String(),
			Direction:       DirectionCredit,
			AmountCoins:     entry.AmountCoins,
			Source:          SourceRefund,
			Description:     refundDescription(reason),
			RefundOfEntryID: entry.EntryID,
			IdempotencyKey:  refundIdempotencyKey(transactionID),
			MetadataJSON:    entry.MetadataJSON,
			CreatedUnixUTC:  service.nowFn(),
		}); err != nil {
			return err
		}
		entry.Lifecycle = lifecycle
		refunded = entry
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationRefund,
		UserID:        userID,
		TransactionID: transactionID,
		Amount:        refunded.AmountCoins,
		Error:         operationError,
	})
	return refunded, operationError
}

// TransactionStatus is a read-only lookup for client-side reconciliation.
func (service *Service) TransactionStatus(ctx context.Context, userID UserID, transactionID TransactionID) (TransactionStatus, error) {
	entry, found, err := service.store.FindEntryByTransactionID(ctx, userID, transactionID)
	if err != nil {
		return TransactionStatus{}, err
	}
	if !found {
		return TransactionStatus{Exists: false}, nil
	}
	return TransactionStatus{
		Exists:         true,
		TransactionID:  transactionID.String(),
		Status:         entry.Lifecycle.Status,
		AmountCoins:    entry.AmountCoins,
		Direction:      entry.Direction,
		MetadataJSON:   entry.MetadataJSON,
		CreatedUnixUTC: entry.CreatedUnixUTC,
	}, nil
}

func refundIdempotencyKey(transactionID TransactionID) string {
	return transactionID.String() + idempotencyKeyDelimiter + idempotencySuffixRefund
}

func refundDescription(reason string) string {
	if reason == "" {
		return "refund"
	}
	return "refund: " + reason
}
