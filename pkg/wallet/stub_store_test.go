package wallet

import (
	"context"
	"fmt"
	"testing"
)

// stubStore is an in-memory Store with injectable failures.
type stubStore struct {
	wallets map[string]Wallet
	entries []Entry

	nextEntryID      int
	insertEntryCalls int

	getWalletError          error
	getWalletForUpdateError error
	updateBalanceError      error
	insertEntryError        error
	insertEntryErrorAtCall  int
	findEntryError          error
	updateLifecycleError    error
	listErr                 error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{wallets: map[string]Wallet{}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateWallet(_ context.Context, userID UserID) (Wallet, error) {
	if store.getWalletError != nil {
		return Wallet{}, store.getWalletError
	}
	walletRow, ok := store.wallets[userID.String()]
	if !ok {
		walletRow = Wallet{
			WalletID: "wallet-" + userID.String(),
			UserID:   userID.String(),
		}
		store.wallets[userID.String()] = walletRow
	}
	return walletRow, nil
}

func (store *stubStore) GetWalletForUpdate(ctx context.Context, userID UserID) (Wallet, error) {
	if store.getWalletForUpdateError != nil {
		return Wallet{}, store.getWalletForUpdateError
	}
	return store.GetOrCreateWallet(ctx, userID)
}

func (store *stubStore) UpdateWalletBalance(_ context.Context, walletID string, balance Coins) error {
	if store.updateBalanceError != nil {
		return store.updateBalanceError
	}
	for userID, walletRow := range store.wallets {
		if walletRow.WalletID == walletID {
			walletRow.BalanceCoins = balance
			store.wallets[userID] = walletRow
			return nil
		}
	}
	return fmt.Errorf("unknown wallet %s", walletID)
}

func (store *stubStore) InsertEntry(_ context.Context, entry Entry) (Entry, error) {
	store.insertEntryCalls++
	if store.insertEntryError != nil {
		if store.insertEntryErrorAtCall == 0 || store.insertEntryErrorAtCall == store.insertEntryCalls {
			return Entry{}, store.insertEntryError
		}
	}
	store.nextEntryID++
	entry.EntryID = fmt.Sprintf("entry-%d", store.nextEntryID)
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *stubStore) FindEntryByTransactionID(_ context.Context, userID UserID, transactionID TransactionID) (Entry, bool, error) {
	if store.findEntryError != nil {
		return Entry{}, false, store.findEntryError
	}
	for _, entry := range store.entries {
		if entry.UserID == userID.String() && entry.Lifecycle.TransactionID == transactionID && !entry.Lifecycle.IsZero() {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

func (store *stubStore) UpdateEntryLifecycle(_ context.Context, entryID string, from LifecycleStatus, lifecycle Lifecycle, metadataJSON string) error {
	if store.updateLifecycleError != nil {
		return store.updateLifecycleError
	}
	for index, entry := range store.entries {
		if entry.EntryID == entryID && entry.Lifecycle.Status == from {
			entry.Lifecycle = lifecycle
			entry.MetadataJSON = metadataJSON
			store.entries[index] = entry
			return nil
		}
	}
	return WrapError("store", "entry", "update_lifecycle", ErrTransactionNotFound)
}

func (store *stubStore) ListEntries(_ context.Context, userID UserID, limit int) ([]Entry, error) {
	if store.listErr != nil {
		return nil, store.listErr
	}
	var listed []Entry
	for index := len(store.entries) - 1; index >= 0; index-- {
		if store.entries[index].UserID != userID.String() {
			continue
		}
		listed = append(listed, store.entries[index])
		if limit > 0 && len(listed) == limit {
			break
		}
	}
	return listed, nil
}

func (store *stubStore) ListCreditEntries(_ context.Context, userID UserID) ([]Entry, error) {
	if store.listErr != nil {
		return nil, store.listErr
	}
	var credits []Entry
	for _, entry := range store.entries {
		if entry.UserID == userID.String() && entry.Direction == DirectionCredit {
			credits = append(credits, entry)
		}
	}
	return credits, nil
}

// signedSum replays the ledger for invariant checks.
func (store *stubStore) signedSum(userID UserID) Coins {
	var sum Coins
	for _, entry := range store.entries {
		if entry.UserID != userID.String() {
			continue
		}
		if entry.Direction == DirectionCredit {
			sum += entry.AmountCoins
		} else {
			sum -= entry.AmountCoins
		}
	}
	return sum
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	clock := int64(1000)
	now := func() int64 {
		clock++
		return clock
	}
	idSequence := 0
	generate := func() string {
		idSequence++
		return fmt.Sprintf("idem-%d", idSequence)
	}
	merged := append([]ServiceOption{WithIDGenerator(generate)}, options...)
	service, err := NewService(store, now, merged...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id %q: %v", raw, err)
	}
	return userID
}

func mustTransactionID(test *testing.T, raw string) TransactionID {
	test.Helper()
	transactionID, err := NewTransactionID(raw)
	if err != nil {
		test.Fatalf("transaction id %q: %v", raw, err)
	}
	return transactionID
}

func mustCoins(test *testing.T, raw int64) Coins {
	test.Helper()
	amount, err := NewCoins(raw)
	if err != nil {
		test.Fatalf("coins %d: %v", raw, err)
	}
	return amount
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}

func mustCredit(test *testing.T, service *Service, userID UserID, amount int64, source Source) Wallet {
	test.Helper()
	walletRow, err := service.Credit(context.Background(), userID, mustCoins(test, amount), source, "", MetadataJSON{})
	if err != nil {
		test.Fatalf("credit %d: %v", amount, err)
	}
	return walletRow
}
