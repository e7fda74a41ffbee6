package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus is the lifecycle state of a deposit request.
type DepositStatus string

const (
	DepositPending  DepositStatus = "PENDING"
	DepositApproved DepositStatus = "APPROVED"
	DepositCredited DepositStatus = "CREDITED"
	DepositRejected DepositStatus = "REJECTED"
)

// SignupTxID marks the mandatory signup payment. It never counts as a real investment.
const SignupTxID = "SIGNUP-INIT"

// DepositRequest represents one funding event
type DepositRequest struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"not null;index" json:"user_id"`
	User        *User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	AmountPKR   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount_pkr"`
	AmountUSD   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount_usd"`
	FXRate      decimal.Decimal `gorm:"type:decimal(12,4);not null" json:"fx_rate"`
	TxID        string          `gorm:"size:64;not null;index" json:"tx_id"`
	Status      DepositStatus   `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	ProofRef    string          `gorm:"size:255" json:"proof_ref,omitempty"`
	Note        string          `gorm:"size:255" json:"note,omitempty"`
	ProcessedAt *time.Time      `gorm:"index" json:"processed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (DepositRequest) TableName() string {
	return "deposit_requests"
}

// IsSignup reports whether this is the signup payment rather than an investment.
func (d *DepositRequest) IsSignup() bool {
	return d.TxID == SignupTxID
}

// WithdrawalStatus is the lifecycle state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "PENDING"
	WithdrawalApproved WithdrawalStatus = "APPROVED"
	WithdrawalPaid     WithdrawalStatus = "PAID"
	WithdrawalRejected WithdrawalStatus = "REJECTED"
)

// WithdrawalSource is the wallet balance a withdrawal draws from.
type WithdrawalSource string

const (
	SourceIncome    WithdrawalSource = "INCOME"
	SourceAvailable WithdrawalSource = "AVAILABLE"
)

// WithdrawalRequest represents a payout request. The gross amount is reserved on creation.
type WithdrawalRequest struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	UserID      uint             `gorm:"not null;index" json:"user_id"`
	User        *User            `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Source      WithdrawalSource `gorm:"size:12;not null;default:INCOME" json:"source"`
	AmountUSD   decimal.Decimal  `gorm:"type:decimal(14,2);not null" json:"amount_usd"`
	TaxUSD      decimal.Decimal  `gorm:"type:decimal(14,2);not null" json:"tax_usd"`
	NetUSD      decimal.Decimal  `gorm:"type:decimal(14,2);not null" json:"net_usd"`
	Method      string           `gorm:"size:40" json:"method"`
	AccountRef  string           `gorm:"size:120" json:"account_ref"`
	Status      WithdrawalStatus `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	TxID        string           `gorm:"size:64" json:"tx_id,omitempty"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (WithdrawalRequest) TableName() string {
	return "withdrawal_requests"
}
