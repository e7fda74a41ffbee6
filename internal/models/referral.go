package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReferralPayout is the audit row of one up-line commission
type ReferralPayout struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	ReferrerID uint            `gorm:"not null;uniqueIndex:idx_payout_triplet" json:"referrer_id"`
	RefereeID  uint            `gorm:"not null;uniqueIndex:idx_payout_triplet;index" json:"referee_id"`
	Level      int             `gorm:"not null;uniqueIndex:idx_payout_triplet" json:"level"`
	AmountUSD  decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount_usd"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (ReferralPayout) TableName() string {
	return "referral_payouts"
}

// IDSet is a set of user ids persisted as a JSON array.
type IDSet []uint

func (s IDSet) Contains(id uint) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

func (s IDSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]uint(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *IDSet) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported id set type %T", value)
	}
	var ids []uint
	if err := json.Unmarshal(raw, &ids); err != nil {
		return err
	}
	*s = ids
	return nil
}

// ReferralMilestoneProgress is the open milestone window of a referrer
type ReferralMilestoneProgress struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	ReferrerID uint            `gorm:"not null;uniqueIndex" json:"referrer_id"`
	StageIndex int             `gorm:"not null;default:0" json:"stage_index"`
	Count      int             `gorm:"not null;default:0" json:"count"`
	SumUSD     decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"sum_usd"`
	CountedIDs IDSet           `gorm:"type:jsonb" json:"counted_ids"`
	WindowSeq  int             `gorm:"not null;default:0" json:"window_seq"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (ReferralMilestoneProgress) TableName() string {
	return "referral_milestone_progress"
}

// ReferralMilestoneAward is paid once per closed window
type ReferralMilestoneAward struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	ReferrerID uint            `gorm:"not null;uniqueIndex:idx_award_window" json:"referrer_id"`
	WindowSeq  int             `gorm:"not null;uniqueIndex:idx_award_window" json:"window_seq"`
	Target     int             `gorm:"not null" json:"target"`
	Percent    decimal.Decimal `gorm:"type:decimal(8,5);not null" json:"percent"`
	SumUSD     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"sum_usd"`
	AmountUSD  decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount_usd"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (ReferralMilestoneAward) TableName() string {
	return "referral_milestone_awards"
}
