package services

import (
	"context"
	"fmt"

	"rewards-ledger/internal/models"
	"rewards-ledger/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WalletDiff is one wallet whose cached balances disagree with its ledger.
type WalletDiff struct {
	UserID   uint     `json:"user_id"`
	WalletID uint     `json:"wallet_id"`
	Cached   Balances `json:"cached"`
	Ledger   Balances `json:"ledger"`
	Repaired bool     `json:"repaired"`
}

// AuditReport summarizes an integrity pass.
type AuditReport struct {
	Wallets    int          `json:"wallets"`
	Mismatched int          `json:"mismatched"`
	Repaired   int          `json:"repaired"`
	Errored    int          `json:"errored"`
	Diffs      []WalletDiff `json:"diffs"`
}

// IntegrityService compares cached wallet balances against the ledger and
// optionally rewrites the cache from it.
type IntegrityService struct {
	db   *gorm.DB
	repo *repository.Repository
	log  *logrus.Entry
}

func NewIntegrityService(db *gorm.DB, log *logrus.Entry) *IntegrityService {
	return &IntegrityService{
		db:   db,
		repo: repository.NewRepository(db),
		log:  log.WithField("component", "integrity"),
	}
}

// Audit checks every wallet. With repair set, mismatched wallets are synced
// under a row lock in their own transaction.
func (s *IntegrityService) Audit(ctx context.Context, repair bool) (*AuditReport, error) {
	wallets, err := s.repo.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	report := &AuditReport{Wallets: len(wallets), Diffs: []WalletDiff{}}
	for _, w := range wallets {
		entries, err := s.repo.ListLedgerEntries(ctx, w.ID)
		if err != nil {
			report.Errored++
			s.log.WithError(err).WithField("wallet_id", w.ID).Error("Failed to load ledger")
			continue
		}

		ledger := Recompute(entries)
		if matches(&w, ledger) {
			continue
		}

		diff := WalletDiff{
			UserID:   w.UserID,
			WalletID: w.ID,
			Cached:   Balances{Available: w.Available, Hold: w.Hold, Income: w.Income},
			Ledger:   ledger,
		}
		report.Mismatched++

		if repair {
			if err := s.sync(ctx, w.UserID); err != nil {
				report.Errored++
				s.log.WithError(err).WithField("user_id", w.UserID).Error("Failed to repair wallet")
			} else {
				diff.Repaired = true
				report.Repaired++
			}
		}
		report.Diffs = append(report.Diffs, diff)
	}

	s.log.WithFields(logrus.Fields{
		"wallets":    report.Wallets,
		"mismatched": report.Mismatched,
		"repaired":   report.Repaired,
	}).Info("Wallet audit finished")
	return report, nil
}

// sync recomputes under lock so a concurrent posting cannot be overwritten.
func (s *IntegrityService) sync(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := repo.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		entries, err := repo.ListLedgerEntries(ctx, wallet.ID)
		if err != nil {
			return err
		}
		b := Recompute(entries)
		wallet.Available, wallet.Hold, wallet.Income = b.Available, b.Hold, b.Income
		return repo.SaveWalletBalances(ctx, wallet)
	})
}

func matches(w *models.Wallet, b Balances) bool {
	return w.Available.Equal(b.Available) && w.Hold.Equal(b.Hold) && w.Income.Equal(b.Income)
}
