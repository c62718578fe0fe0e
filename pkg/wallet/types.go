package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Coins is an integer amount in the coin unit of account.
type Coins int64

// Int64 returns the raw amount.
func (amount Coins) Int64() int64 {
	return int64(amount)
}

// NewCoins validates an operation amount and ensures it is strictly positive.
func NewCoins(raw int64) (Coins, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Coins(raw), nil
}

// UserID identifies a wallet owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// TransactionID is the idempotency token scoping a two-phase operation.
type TransactionID struct {
	value string
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized token.
func (id TransactionID) String() string {
	return id.value
}

// IsZero reports whether the token is unset.
func (id TransactionID) IsZero() bool {
	return id.value == ""
}

// MetadataJSON stores caller-supplied request context. Lifecycle state never
// travels through it; see Lifecycle.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates a metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Direction marks an entry as a credit or a debit.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// String returns the direction label.
func (direction Direction) String() string {
	return string(direction)
}

// ParseDirection validates a stored direction label.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionCredit, DirectionDebit:
		return Direction(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
}

// Source is the categorical origin of an entry.
type Source string

const (
	SourceSubscription     Source = "subscription"
	SourceOneTimePurchase  Source = "one_time_purchase"
	SourceBonus            Source = "bonus"
	SourceManualAdjustment Source = "manual_adjustment"
	SourceSystem           Source = "system"
	SourceRefund           Source = "refund"
)

// String returns the source label.
func (source Source) String() string {
	return string(source)
}

// ParseSource validates a source label.
func ParseSource(raw string) (Source, error) {
	switch Source(raw) {
	case SourceSubscription, SourceOneTimePurchase, SourceBonus, SourceManualAdjustment, SourceSystem, SourceRefund:
		return Source(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
}

// LifecycleStatus defines the two-phase transaction lifecycle.
type LifecycleStatus string

const (
	LifecyclePending   LifecycleStatus = "pending"
	LifecycleCompleted LifecycleStatus = "completed"
	LifecycleRefunded  LifecycleStatus = "refunded"
)

// String returns the status label.
func (status LifecycleStatus) String() string {
	return string(status)
}

// ParseLifecycleStatus validates a stored status label.
func ParseLifecycleStatus(raw string) (LifecycleStatus, error) {
	switch LifecycleStatus(raw) {
	case LifecyclePending, LifecycleCompleted, LifecycleRefunded:
		return LifecycleStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLifecycleStatus, raw)
}

// Lifecycle is the tagged two-phase state carried by reserve debits. The zero
// value means the entry is not part of a two-phase flow. Per-state fields are
// populated only for their status.
type Lifecycle struct {
	Status             LifecycleStatus
	TransactionID      TransactionID
	ReservedAtUnixUTC  int64
	CompletedAtUnixUTC int64
	RefundedAtUnixUTC  int64
	RefundReason       string
}

// PendingLifecycle tags a freshly reserved debit.
func PendingLifecycle(transactionID TransactionID, reservedAtUnixUTC int64) Lifecycle {
	return Lifecycle{
		Status:            LifecyclePending,
		TransactionID:     transactionID,
		ReservedAtUnixUTC: reservedAtUnixUTC,
	}
}

// Completed transitions pending to completed. Completed is terminal.
func (lifecycle Lifecycle) Completed(atUnixUTC int64) Lifecycle {
	lifecycle.Status = LifecycleCompleted
	lifecycle.CompletedAtUnixUTC = atUnixUTC
	return lifecycle
}

// Refunded transitions pending or completed to refunded. Refunded is terminal.
func (lifecycle Lifecycle) Refunded(atUnixUTC int64, reason string) Lifecycle {
	lifecycle.Status = LifecycleRefunded
	lifecycle.RefundedAtUnixUTC = atUnixUTC
	lifecycle.RefundReason = reason
	return lifecycle
}

// IsZero reports whether the entry carries no two-phase state.
func (lifecycle Lifecycle) IsZero() bool {
	return lifecycle.Status == ""
}

// Wallet is the per-user mutable balance projection over the ledger.
type Wallet struct {
	WalletID       string
	UserID         string
	BalanceCoins   Coins
	CreatedUnixUTC int64
}

// Entry is a single immutable line in the wallet ledger. Amount and direction
// never change once written; only the Lifecycle tag of a reserve debit moves.
type Entry struct {
	EntryID         string
	WalletID        string
	UserID          string
	Direction       Direction
	AmountCoins     Coins
	Source          Source
	Description     string
	Lifecycle       Lifecycle
	RefundOfEntryID string
	IdempotencyKey  string
	MetadataJSON    string
	CreatedUnixUTC  int64
}

// TransactionStatus is the read view the coordinator exposes for client-side
// reconciliation.
type TransactionStatus struct {
	Exists         bool
	TransactionID  string
	Status         LifecycleStatus
	AmountCoins    Coins
	Direction      Direction
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Store is the persistence contract used by Service. Implementations must
// make WithTx atomic and GetWalletForUpdate exclusive against concurrent
// mutations of the same wallet.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateWallet(ctx context.Context, userID UserID) (Wallet, error)
	GetWalletForUpdate(ctx context.Context, userID UserID) (Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID string, balance Coins) error
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	FindEntryByTransactionID(ctx context.Context, userID UserID, transactionID TransactionID) (Entry, bool, error)
	UpdateEntryLifecycle(ctx context.Context, entryID string, from LifecycleStatus, lifecycle Lifecycle, metadataJSON string) error
	ListEntries(ctx context.Context, userID UserID, limit int) ([]Entry, error)
	ListCreditEntries(ctx context.Context, userID UserID) ([]Entry, error)
}
