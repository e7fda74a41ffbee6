package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a ledger entry.
type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

// EntryKind classifies a ledger entry for balance recomputation.
type EntryKind string

const (
	KindDeposit    EntryKind = "deposit"
	KindPassive    EntryKind = "passive"
	KindReferral   EntryKind = "referral"
	KindMilestone  EntryKind = "milestone"
	KindGlobalPool EntryKind = "global_pool"
	KindWithdrawal EntryKind = "withdrawal"
	KindMeta       EntryKind = "meta"
)

// IncomeKinds are the credit kinds that count as withdrawable earnings.
var IncomeKinds = []EntryKind{KindPassive, KindReferral, KindMilestone, KindGlobalPool}

// IsIncome reports whether credits of this kind count toward income.
func (k EntryKind) IsIncome() bool {
	for _, ik := range IncomeKinds {
		if k == ik {
			return true
		}
	}
	return false
}

// Wallet holds the cached balances of one user. The ledger is the source of truth.
type Wallet struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"uniqueIndex;not null" json:"user_id"`
	User      *User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Available decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"available_usd"`
	Hold      decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"hold_usd"`
	Income    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"income_usd"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// LedgerEntry is an immutable credit or debit. IdempotencyKey makes every posting unique.
type LedgerEntry struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	WalletID       uint            `gorm:"not null;index" json:"wallet_id"`
	Direction      Direction       `gorm:"size:6;not null" json:"direction"`
	Amount         decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount_usd"`
	Kind           EntryKind       `gorm:"size:20;not null;index" json:"kind"`
	NonIncome      bool            `gorm:"default:false" json:"non_income"`
	Meta           LedgerMeta      `gorm:"type:jsonb" json:"meta"`
	IdempotencyKey string          `gorm:"size:160;uniqueIndex;not null" json:"-"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
