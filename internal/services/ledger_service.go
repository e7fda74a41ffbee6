package services

import (
	"context"
	"errors"
	"fmt"

	"rewards-ledger/internal/models"
	"rewards-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Posting describes one ledger write and its effect on the cached balances.
type Posting struct {
	Direction models.Direction
	Amount    decimal.Decimal
	NonIncome bool
	Meta      models.LedgerMeta
	Key       string

	// Balance deltas applied to the wallet together with the entry.
	AvailableDelta decimal.Decimal
	HoldDelta      decimal.Decimal
	IncomeDelta    decimal.Decimal
}

// LedgerService owns wallet balances and the append-only entry log.
type LedgerService struct {
	db   *gorm.DB
	repo *repository.Repository
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db, repo: repository.NewRepository(db)}
}

// Post appends an entry and applies its deltas to a wallet locked in tx.
// A reused key is a no-op and returns posted=false with the wallet untouched.
func (s *LedgerService) Post(ctx context.Context, tx *gorm.DB, wallet *models.Wallet, p Posting) (bool, error) {
	kind, err := p.Meta.Kind()
	if err != nil {
		return false, err
	}
	if p.Key == "" {
		return false, fmt.Errorf("ledger posting of kind %s has no idempotency key", kind)
	}
	if p.Amount.IsNegative() {
		return false, fmt.Errorf("ledger amount must not be negative, got %s", p.Amount)
	}

	repo := s.repo.WithTx(tx)
	entry := models.LedgerEntry{
		WalletID:       wallet.ID,
		Direction:      p.Direction,
		Amount:         p.Amount,
		Kind:           kind,
		NonIncome:      p.NonIncome,
		Meta:           p.Meta,
		IdempotencyKey: p.Key,
	}
	inserted, err := repo.InsertLedgerEntry(ctx, &entry)
	if err != nil {
		return false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	if !inserted {
		return false, nil
	}

	if p.AvailableDelta.IsZero() && p.HoldDelta.IsZero() && p.IncomeDelta.IsZero() {
		return true, nil
	}
	wallet.Available = wallet.Available.Add(p.AvailableDelta)
	wallet.Hold = wallet.Hold.Add(p.HoldDelta)
	wallet.Income = wallet.Income.Add(p.IncomeDelta)
	if err := repo.SaveWalletBalances(ctx, wallet); err != nil {
		return false, fmt.Errorf("failed to update wallet balances: %w", err)
	}
	return true, nil
}

// Balances is a recomputed view of a wallet.
type Balances struct {
	Available decimal.Decimal `json:"available_usd"`
	Hold      decimal.Decimal `json:"hold_usd"`
	Income    decimal.Decimal `json:"income_usd"`
}

// Recompute derives all three balances from the entries.
func Recompute(entries []models.LedgerEntry) Balances {
	return Balances{
		Available: RecomputeAvailable(entries),
		Hold:      RecomputeHold(entries),
		Income:    RecomputeIncome(entries),
	}
}

// RecomputeIncome is income-kind credits minus withdrawals drawn from income,
// plus reversals of those withdrawals.
func RecomputeIncome(entries []models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		switch {
		case e.Kind.IsIncome() && !e.NonIncome && e.Direction == models.Credit:
			total = total.Add(e.Amount)
		case e.Kind == models.KindWithdrawal && withdrawalSource(e) == models.SourceIncome:
			total = total.Add(signed(e))
		}
	}
	return total
}

// RecomputeAvailable is the withdrawable share of credited deposits net of
// withdrawals drawn from available.
func RecomputeAvailable(entries []models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		switch {
		case e.Kind == models.KindDeposit && e.Meta.Deposit != nil:
			total = total.Add(e.Meta.Deposit.AvailableShare)
		case e.Kind == models.KindWithdrawal && withdrawalSource(e) == models.SourceAvailable:
			total = total.Add(signed(e))
		}
	}
	return total
}

// RecomputeHold sums the retained shares recorded on deposit, passive and pool entries.
func RecomputeHold(entries []models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		m := e.Meta
		switch {
		case m.Deposit != nil:
			total = total.Add(m.Deposit.HoldShare)
		case m.Passive != nil:
			total = total.Add(m.Passive.HoldShare)
		case m.GlobalPool != nil:
			total = total.Add(m.GlobalPool.HoldShare)
		}
	}
	return total
}

func withdrawalSource(e models.LedgerEntry) models.WithdrawalSource {
	if e.Meta.Withdrawal == nil || e.Meta.Withdrawal.Source == "" {
		return models.SourceIncome
	}
	return e.Meta.Withdrawal.Source
}

func signed(e models.LedgerEntry) decimal.Decimal {
	if e.Direction == models.Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// RecomputeIncomeForWallet loads a wallet's entries and recomputes its income.
func (s *LedgerService) RecomputeIncomeForWallet(ctx context.Context, walletID uint) (decimal.Decimal, error) {
	entries, err := s.repo.ListLedgerEntries(ctx, walletID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	return RecomputeIncome(entries), nil
}

// WalletForUser returns the user's wallet. A missing wallet is ErrNotFound.
func (s *LedgerService) WalletForUser(ctx context.Context, userID uint) (*models.Wallet, error) {
	wallet, err := s.repo.GetWallet(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

// History pages through a user's ledger, newest first.
func (s *LedgerService) History(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error) {
	wallet, err := s.WalletForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.PageLedgerEntries(ctx, wallet.ID, limit, offset)
}
