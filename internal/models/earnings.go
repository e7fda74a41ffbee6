package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PassiveEarning is one accrued day for a user. Day indexes are contiguous from 1.
type PassiveEarning struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"not null;uniqueIndex:idx_passive_user_day" json:"user_id"`
	DayIndex  int             `gorm:"not null;uniqueIndex:idx_passive_user_day" json:"day_index"`
	Percent   decimal.Decimal `gorm:"type:decimal(8,5);not null" json:"percent"`
	AmountUSD decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount_usd"`
	CreatedAt time.Time       `json:"created_at"`
}

func (PassiveEarning) TableName() string {
	return "passive_earnings"
}

// Job names stored in JobState.
const (
	JobDailyEarnings = "daily_earnings"
	JobGlobalPool    = "global_pool"
)

// JobState is the per-job "last processed" marker. It is claimed under a row lock
// and a short lease before a run starts.
type JobState struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Name              string     `gorm:"size:50;uniqueIndex;not null" json:"name"`
	LastProcessedDate string     `gorm:"size:10" json:"last_processed_date"`
	LeaseOwner        string     `gorm:"size:64" json:"lease_owner,omitempty"`
	LeaseUntil        *time.Time `json:"lease_until,omitempty"`
	LastSummary       string     `gorm:"type:text" json:"last_summary,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (JobState) TableName() string {
	return "job_states"
}
