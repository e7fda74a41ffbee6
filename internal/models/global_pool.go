package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GlobalPoolStateID is the primary key of the singleton pool row.
const GlobalPoolStateID = 1

// GlobalPoolState is the singleton weekly pool. Dates are business-timezone "YYYY-MM-DD".
type GlobalPoolState struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	CurrentPoolUSD       decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"current_pool_usd"`
	LastCollectionDate   string          `gorm:"size:10" json:"last_collection_date"`
	LastDistributionDate string          `gorm:"size:10" json:"last_distribution_date"`
	TotalCollected       decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"total_collected"`
	TotalDistributed     decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"total_distributed"`
	TotalRetained        decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"total_retained"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (GlobalPoolState) TableName() string {
	return "global_pool_state"
}

// GlobalPoolCollection records the amount collected from one signup on a Monday
type GlobalPoolCollection struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	UserID              uint            `gorm:"not null;uniqueIndex:idx_pool_collection" json:"user_id"`
	CollectionDate      string          `gorm:"size:10;not null;uniqueIndex:idx_pool_collection" json:"collection_date"`
	SignupAmountUSD     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"signup_amount_usd"`
	CollectionAmountUSD decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"collection_amount_usd"`
	CreatedAt           time.Time       `json:"created_at"`
}

func (GlobalPoolCollection) TableName() string {
	return "global_pool_collections"
}

// GlobalPoolDistribution records one user's share of a weekly distribution
type GlobalPoolDistribution struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	UserID           uint            `gorm:"not null;uniqueIndex:idx_pool_distribution" json:"user_id"`
	DistributionDate string          `gorm:"size:10;not null;uniqueIndex:idx_pool_distribution" json:"distribution_date"`
	GrossUSD         decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"gross_usd"`
	IncomeUSD        decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"income_usd"`
	HoldUSD          decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"hold_usd"`
	TotalPool        decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_pool"`
	TotalUsers       int             `gorm:"not null" json:"total_users"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (GlobalPoolDistribution) TableName() string {
	return "global_pool_distributions"
}

// AllModels lists every persisted model in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Wallet{},
		&LedgerEntry{},
		&DepositRequest{},
		&WithdrawalRequest{},
		&PassiveEarning{},
		&JobState{},
		&ReferralPayout{},
		&ReferralMilestoneProgress{},
		&ReferralMilestoneAward{},
		&GlobalPoolState{},
		&GlobalPoolCollection{},
		&GlobalPoolDistribution{},
	}
}
