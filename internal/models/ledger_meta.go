package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// DepositMeta describes a credited deposit.
type DepositMeta struct {
	DepositID      uint            `json:"deposit_id"`
	TxID           string          `json:"tx_id"`
	AvailableShare decimal.Decimal `json:"available_share"`
	HoldShare      decimal.Decimal `json:"hold_share"`
	// Source is "signup-initial" for the mandatory signup payment.
	Source string `json:"source,omitempty"`
}

// PassiveMeta describes one accrual day.
type PassiveMeta struct {
	DayIndex  int             `json:"day_index"`
	Percent   decimal.Decimal `json:"percent"`
	GrossUSD  decimal.Decimal `json:"gross_usd"`
	HoldShare decimal.Decimal `json:"hold_share"`
}

// ReferralMeta describes an up-line commission.
type ReferralMeta struct {
	Level      int             `json:"level"`
	SourceUser uint            `json:"source_user"`
	BaseUSD    decimal.Decimal `json:"base_usd"`
	Trigger    string          `json:"trigger"`
}

// MilestoneMeta describes a milestone window payout.
type MilestoneMeta struct {
	Target    int             `json:"target"`
	Percent   decimal.Decimal `json:"percent"`
	WindowSeq int             `json:"window_seq"`
	SumUSD    decimal.Decimal `json:"sum_usd"`
}

// GlobalPoolMeta describes one user's share of a weekly distribution.
type GlobalPoolMeta struct {
	DistributionDate string          `json:"distribution_date"`
	TotalPool        decimal.Decimal `json:"total_pool"`
	TotalUsers       int             `json:"total_users"`
	GrossUSD         decimal.Decimal `json:"gross_usd"`
	HoldShare        decimal.Decimal `json:"hold_share"`
}

// WithdrawalMeta describes a withdrawal reservation or its reversal.
type WithdrawalMeta struct {
	WithdrawalID uint             `json:"withdrawal_id"`
	Source       WithdrawalSource `json:"source"`
	Reversal     bool             `json:"reversal,omitempty"`
}

// FlagMeta is a zero-amount marker entry.
type FlagMeta struct {
	Flag string `json:"flag"`
}

// LedgerMeta is a tagged union: exactly one variant is set, and it matches the entry Kind.
type LedgerMeta struct {
	Deposit    *DepositMeta    `json:"deposit,omitempty"`
	Passive    *PassiveMeta    `json:"passive,omitempty"`
	Referral   *ReferralMeta   `json:"referral,omitempty"`
	Milestone  *MilestoneMeta  `json:"milestone,omitempty"`
	GlobalPool *GlobalPoolMeta `json:"global_pool,omitempty"`
	Withdrawal *WithdrawalMeta `json:"withdrawal,omitempty"`
	Flag       *FlagMeta       `json:"flag,omitempty"`
}

// Kind returns the discriminator implied by the set variant.
func (m LedgerMeta) Kind() (EntryKind, error) {
	var kinds []EntryKind
	if m.Deposit != nil {
		kinds = append(kinds, KindDeposit)
	}
	if m.Passive != nil {
		kinds = append(kinds, KindPassive)
	}
	if m.Referral != nil {
		kinds = append(kinds, KindReferral)
	}
	if m.Milestone != nil {
		kinds = append(kinds, KindMilestone)
	}
	if m.GlobalPool != nil {
		kinds = append(kinds, KindGlobalPool)
	}
	if m.Withdrawal != nil {
		kinds = append(kinds, KindWithdrawal)
	}
	if m.Flag != nil {
		kinds = append(kinds, KindMeta)
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("ledger meta must carry exactly one variant, got %d", len(kinds))
	}
	return kinds[0], nil
}

func (m LedgerMeta) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *LedgerMeta) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = LedgerMeta{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported ledger meta type %T", value)
	}
}
