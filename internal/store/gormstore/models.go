package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet represents the wallets table: one balance projection per user.
type Wallet struct {
	WalletID     string    `gorm:"type:uuid;primaryKey"`
	UserID       string    `gorm:"not null;uniqueIndex:uniq_wallets_user"`
	BalanceCoins int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

func (walletRow *Wallet) BeforeCreate(tx *gorm.DB) error {
	if walletRow.WalletID == "" {
		walletRow.WalletID = uuid.NewString()
	}
	return nil
}

// WalletEntry mirrors the wallet_entries table. Amount and direction are
// immutable after insert; only the lifecycle columns of a reserve debit move.
type WalletEntry struct {
	EntryID         string         `gorm:"type:uuid;primaryKey"`
	WalletID        string         `gorm:"type:uuid;not null;index:idx_entries_wallet_created,priority:1"`
	UserID          string         `gorm:"not null;index:idx_entries_user_transaction,priority:1;index:uniq_entries_user_idem,unique,priority:1"`
	Direction       string         `gorm:"not null"`
	AmountCoins     int64          `gorm:"not null"`
	Source          string         `gorm:"not null"`
	Description     string         `gorm:""`
	TransactionID   *string        `gorm:"index:idx_entries_user_transaction,priority:2"`
	Status          *string        `gorm:""`
	ReservedAt      *time.Time     `gorm:""`
	CompletedAt     *time.Time     `gorm:""`
	RefundedAt      *time.Time     `gorm:""`
	RefundReason    string         `gorm:""`
	RefundOfEntryID *string        `gorm:"type:uuid"`
	IdempotencyKey  string         `gorm:"not null;index:uniq_entries_user_idem,unique,priority:2"`
	Metadata        datatypes.JSON `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null;index:idx_entries_wallet_created,priority:2"`
}

func (WalletEntry) TableName() string { return "wallet_entries" }

func (entry *WalletEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}
