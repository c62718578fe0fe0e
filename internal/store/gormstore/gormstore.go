package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/careerforge/coinwallet/pkg/wallet"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintUserIdempotencyKey = "uniq_entries_user_idem"
	defaultMetadataJSON          = "{}"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	dialectPostgres              = "postgres"
	errorOperationStore          = "store"
	errorSubjectWallet           = "wallet"
	errorSubjectEntry            = "entry"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeLookup              = "lookup"
	errorCodeUpdateBalance       = "update_balance"
	errorCodeUpdateLifecycle     = "update_lifecycle"
)

// Store implements wallet.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the wallet schema. Used for sqlite and in tests; postgres
// deployments manage schema externally.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Wallet{}, &WalletEntry{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetOrCreateWallet upserts the user's wallet row and returns it.
func (store *Store) GetOrCreateWallet(ctx context.Context, userID wallet.UserID) (wallet.Wallet, error) {
	var walletRow Wallet
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"user_id": clause.Expr{SQL: "excluded.user_id"},
			}),
		}).
		FirstOrCreate(&walletRow, Wallet{UserID: userID.String()}).Error
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, err)
	}
	return mapWallet(walletRow)
}

// GetWalletForUpdate returns the user's wallet locked against concurrent
// mutation for the rest of the surrounding transaction. On sqlite the write
// transaction itself is the exclusion mechanism, so no row lock is emitted.
func (store *Store) GetWalletForUpdate(ctx context.Context, userID wallet.UserID) (wallet.Wallet, error) {
	if _, err := store.GetOrCreateWallet(ctx, userID); err != nil {
		return wallet.Wallet{}, err
	}
	query := store.db.WithContext(ctx)
	if store.supportsRowLocks() {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var walletRow Wallet
	if err := query.Where("user_id = ?", userID.String()).Take(&walletRow).Error; err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	return mapWallet(walletRow)
}

// UpdateWalletBalance writes the projected balance for a wallet row.
func (store *Store) UpdateWalletBalance(ctx context.Context, walletID string, balance wallet.Coins) error {
	if balance < 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeInvalid, wallet.ErrInvalidBalance)
	}
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("wallet_id = ?", walletID).
		Update("balance_coins", balance.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdateBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdateBalance, wallet.ErrInvalidWalletID)
	}
	return nil
}

// InsertEntry appends an immutable ledger entry. A unique-key violation on
// (user_id, idempotency_key) maps to wallet.ErrDuplicateTransaction.
func (store *Store) InsertEntry(ctx context.Context, entry wallet.Entry) (wallet.Entry, error) {
	row := WalletEntry{
		EntryID:         entry.EntryID,
		WalletID:        entry.WalletID,
		UserID:          entry.UserID,
		Direction:       entry.Direction.String(),
		AmountCoins:     entry.AmountCoins.Int64(),
		Source:          entry.Source.String(),
		Description:     entry.Description,
		RefundOfEntryID: optionalString(entry.RefundOfEntryID),
		IdempotencyKey:  entry.IdempotencyKey,
		Metadata:        datatypesJSON(entry.MetadataJSON),
		CreatedAt:       time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if !entry.Lifecycle.IsZero() {
		transactionID := entry.Lifecycle.TransactionID.String()
		status := entry.Lifecycle.Status.String()
		row.TransactionID = &transactionID
		row.Status = &status
		row.ReservedAt = optionalTime(entry.Lifecycle.ReservedAtUnixUTC)
		row.CompletedAt = optionalTime(entry.Lifecycle.CompletedAtUnixUTC)
		row.RefundedAt = optionalTime(entry.Lifecycle.RefundedAtUnixUTC)
		row.RefundReason = entry.Lifecycle.RefundReason
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isIdempotencyConflict(err) {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateTransaction)
	}
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return mapWalletEntry(row)
}

// FindEntryByTransactionID looks up the two-phase entry tagged with the token.
func (store *Store) FindEntryByTransactionID(ctx context.Context, userID wallet.UserID, transactionID wallet.TransactionID) (wallet.Entry, bool, error) {
	var row WalletEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND transaction_id = ?", userID.String(), transactionID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Entry{}, false, nil
	}
	if err != nil {
		return wallet.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapWalletEntry(row)
	if err != nil {
		return wallet.Entry{}, false, err
	}
	return entry, true, nil
}

// UpdateEntryLifecycle transitions the lifecycle tag of a two-phase entry.
// The from status acts as a compare-and-swap guard: zero affected rows means
// the entry already left that state.
func (store *Store) UpdateEntryLifecycle(ctx context.Context, entryID string, from wallet.LifecycleStatus, lifecycle wallet.Lifecycle, metadataJSON string) error {
	updates := map[string]interface{}{
		"status":        lifecycle.Status.String(),
		"refund_reason": lifecycle.RefundReason,
		"metadata":      datatypesJSON(metadataJSON),
	}
	if completedAt := optionalTime(lifecycle.CompletedAtUnixUTC); completedAt != nil {
		updates["completed_at"] = completedAt
	}
	if refundedAt := optionalTime(lifecycle.RefundedAtUnixUTC); refundedAt != nil {
		updates["refunded_at"] = refundedAt
	}
	result := store.db.WithContext(ctx).
		Model(&WalletEntry{}).
		Where("entry_id = ? AND status = ?", entryID, from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateLifecycle, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateLifecycle, wallet.ErrTransactionNotFound)
	}
	return nil
}

// ListEntries lists the user's entries, most recent first.
func (store *Store) ListEntries(ctx context.Context, userID wallet.UserID, limit int) ([]wallet.Entry, error) {
	query := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC, entry_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []WalletEntry
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapWalletEntries(rows)
}

// ListCreditEntries lists every credit entry for the user in ledger order.
func (store *Store) ListCreditEntries(ctx context.Context, userID wallet.UserID) ([]wallet.Entry, error) {
	var rows []WalletEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND direction = ?", userID.String(), wallet.DirectionCredit.String()).
		Order("created_at ASC, entry_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapWalletEntries(rows)
}

func (store *Store) supportsRowLocks() bool {
	return store.db.Dialector.Name() == dialectPostgres
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func mapWallet(row Wallet) (wallet.Wallet, error) {
	if row.BalanceCoins < 0 {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, wallet.ErrInvalidBalance)
	}
	return wallet.Wallet{
		WalletID:       row.WalletID,
		UserID:         row.UserID,
		BalanceCoins:   wallet.Coins(row.BalanceCoins),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapWalletEntries(rows []WalletEntry) ([]wallet.Entry, error) {
	entries := make([]wallet.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapWalletEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapWalletEntry(row WalletEntry) (wallet.Entry, error) {
	direction, err := wallet.ParseDirection(row.Direction)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	source, err := wallet.ParseSource(row.Source)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	amount, err := wallet.NewCoins(row.AmountCoins)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	lifecycle, err := mapLifecycle(row)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return wallet.Entry{
		EntryID:         row.EntryID,
		WalletID:        row.WalletID,
		UserID:          row.UserID,
		Direction:       direction,
		AmountCoins:     amount,
		Source:          source,
		Description:     row.Description,
		Lifecycle:       lifecycle,
		RefundOfEntryID: stringOrEmpty(row.RefundOfEntryID),
		IdempotencyKey:  row.IdempotencyKey,
		MetadataJSON:    string(row.Metadata),
		CreatedUnixUTC:  row.CreatedAt.Unix(),
	}, nil
}

func mapLifecycle(row WalletEntry) (wallet.Lifecycle, error) {
	if row.Status == nil {
		return wallet.Lifecycle{}, nil
	}
	status, err := wallet.ParseLifecycleStatus(*row.Status)
	if err != nil {
		return wallet.Lifecycle{}, err
	}
	transactionID, err := wallet.NewTransactionID(stringOrEmpty(row.TransactionID))
	if err != nil {
		return wallet.Lifecycle{}, err
	}
	return wallet.Lifecycle{
		Status:             status,
		TransactionID:      transactionID,
		ReservedAtUnixUTC:  timeOrZero(row.ReservedAt),
		CompletedAtUnixUTC: timeOrZero(row.CompletedAt),
		RefundedAtUnixUTC:  timeOrZero(row.RefundedAt),
		RefundReason:       row.RefundReason,
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func optionalTime(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isIdempotencyConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintUserIdempotencyKey
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
