// Package economics holds the pure money arithmetic shared by the ledger,
// the accrual engine, the referral calculator and the global pool cycle.
//
// Every monetary multiply is rounded to cents immediately, using banker's
// rounding (half to even), so totals match the historical ledger exactly.
package economics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"rewards-ledger/internal/config"
)

// Cents is the number of decimal places kept on every stored amount.
const Cents = 2

var (
	one = decimal.NewFromInt(1)
	// OneCent is the smallest representable amount.
	OneCent = decimal.New(1, -Cents)
)

// Round rounds to cents, half to even.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Cents)
}

// MulRound multiplies and rounds the product to cents.
func MulRound(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate))
}

// ConvertPKR converts a PKR amount to USD at the configured rate.
func ConvertPKR(e *config.Economics, amountPKR decimal.Decimal) (decimal.Decimal, error) {
	if !e.FXRate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: fx rate must be positive, got %s", ErrInvalidRate, e.FXRate)
	}
	return Round(amountPKR.Div(e.FXRate)), nil
}

// SignupFeeUSD is the configured signup fee converted to USD.
func SignupFeeUSD(e *config.Economics) (decimal.Decimal, error) {
	return ConvertPKR(e, e.SignupFeePKR)
}

// DepositSplit divides a credited deposit into the withdrawable and retained parts.
func DepositSplit(e *config.Economics, amountUSD decimal.Decimal) (available, hold decimal.Decimal) {
	available = MulRound(amountUSD, e.UserShare)
	hold = MulRound(amountUSD, one.Sub(e.UserShare))
	return available, hold
}

// WithdrawTax is the outcome of applying the withdrawal tax.
type WithdrawTax struct {
	TaxUSD decimal.Decimal
	NetUSD decimal.Decimal
}

// ApplyWithdrawTax computes the tax and the amount actually paid out.
func ApplyWithdrawTax(e *config.Economics, amountUSD decimal.Decimal) WithdrawTax {
	tax := MulRound(amountUSD, e.WithdrawTax)
	return WithdrawTax{TaxUSD: tax, NetUSD: Round(amountUSD.Sub(tax))}
}

// ReferralCommission is the level-L commission on a base amount. Levels are 1-based.
func ReferralCommission(e *config.Economics, base decimal.Decimal, level int) (decimal.Decimal, error) {
	if level < 1 || level > len(e.ReferralTiers) {
		return decimal.Zero, fmt.Errorf("%w: referral level %d", ErrInvalidRate, level)
	}
	return MulRound(base, e.ReferralTiers[level-1]), nil
}

// PoolShare splits one user's gross pool share into income and hold.
func PoolShare(e *config.Economics, gross decimal.Decimal) (income, hold decimal.Decimal) {
	income = MulRound(gross, e.PoolIncomeShare)
	hold = Round(gross.Sub(income))
	return income, hold
}

// PerUserShare divides the pool evenly, truncating to cents so the total never exceeds the pool.
func PerUserShare(pool decimal.Decimal, users int) (perUser, remainder decimal.Decimal) {
	if users <= 0 {
		return decimal.Zero, pool
	}
	perUser = pool.Div(decimal.NewFromInt(int64(users))).RoundDown(Cents)
	remainder = pool.Sub(perUser.Mul(decimal.NewFromInt(int64(users))))
	return perUser, remainder
}
