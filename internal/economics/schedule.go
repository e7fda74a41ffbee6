package economics

import (
	"errors"

	"github.com/shopspring/decimal"

	"rewards-ledger/internal/config"
)

// ErrInvalidRate is returned when a configured rate or divisor cannot produce a valid amount.
var ErrInvalidRate = errors.New("invalid economics configuration")

// Schedule maps a 1-based day index to a daily rate.
type Schedule struct {
	bands       []config.ScheduleBand
	cycleLength int
}

// NewSchedule builds the schedule selected by the passive mode.
func NewSchedule(e *config.Economics) Schedule {
	if e.PassiveMode == config.PassiveModeCyclic130 {
		return Schedule{bands: e.CyclicSchedule, cycleLength: e.CycleLength}
	}
	return Schedule{bands: e.PassiveSchedule}
}

// Rate returns the daily rate for dayIndex, or zero when no band covers it.
func (s Schedule) Rate(dayIndex int) decimal.Decimal {
	if dayIndex < 1 {
		return decimal.Zero
	}
	idx := dayIndex
	if s.cycleLength > 0 {
		idx = ((dayIndex - 1) % s.cycleLength) + 1
	}
	for _, band := range s.bands {
		if band.StartDay <= idx && idx <= band.EndDay {
			return band.Rate
		}
	}
	return decimal.Zero
}

// DailyEarning is the breakdown of one day's passive accrual.
type DailyEarning struct {
	DayIndex  int
	Percent   decimal.Decimal
	GrossUSD  decimal.Decimal
	UserShare decimal.Decimal
	HoldShare decimal.Decimal
}

// ComputeDailyEarning prices one accrual day against the anchoring deposit.
func ComputeDailyEarning(e *config.Economics, s Schedule, dayIndex int, depositUSD decimal.Decimal) DailyEarning {
	p := s.Rate(dayIndex)
	gross := MulRound(depositUSD, p)
	return DailyEarning{
		DayIndex:  dayIndex,
		Percent:   p,
		GrossUSD:  gross,
		UserShare: MulRound(gross, e.UserShare),
		HoldShare: MulRound(gross, one.Sub(e.UserShare)),
	}
}
