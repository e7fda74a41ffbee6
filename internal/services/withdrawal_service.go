package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewards-ledger/internal/config"
	"rewards-ledger/internal/economics"
	"rewards-ledger/internal/models"
	"rewards-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WithdrawalInput is a user's payout request.
type WithdrawalInput struct {
	AmountUSD  decimal.Decimal
	Source     models.WithdrawalSource
	Method     string
	AccountRef string
}

// WithdrawalService reserves funds on request and refunds them on rejection.
type WithdrawalService struct {
	db     *gorm.DB
	repo   *repository.Repository
	ledger *LedgerService
	econ   *config.Economics
	log    *logrus.Entry
}

func NewWithdrawalService(db *gorm.DB, ledger *LedgerService, econ *config.Economics, log *logrus.Entry) *WithdrawalService {
	return &WithdrawalService{
		db:     db,
		repo:   repository.NewRepository(db),
		ledger: ledger,
		econ:   econ,
		log:    log.WithField("component", "withdrawal"),
	}
}

// Create checks the balance, computes the tax and reserves the gross amount.
func (s *WithdrawalService) Create(ctx context.Context, userID uint, in WithdrawalInput) (*models.WithdrawalRequest, error) {
	amount := economics.Round(in.AmountUSD)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidInput)
	}
	source := in.Source
	if source == "" {
		source = models.SourceIncome
	}
	if source != models.SourceIncome && source != models.SourceAvailable {
		return nil, fmt.Errorf("%w: unknown withdrawal source %q", ErrInvalidInput, source)
	}

	var request *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := repo.LockWallet(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		balance := wallet.Income
		if source == models.SourceAvailable {
			balance = wallet.Available
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("%w: %s balance %s, requested %s", ErrInsufficientFunds, source, balance.StringFixed(2), amount.StringFixed(2))
		}

		tax := economics.ApplyWithdrawTax(s.econ, amount)
		request = &models.WithdrawalRequest{
			UserID:     userID,
			Source:     source,
			AmountUSD:  amount,
			TaxUSD:     tax.TaxUSD,
			NetUSD:     tax.NetUSD,
			Method:     in.Method,
			AccountRef: in.AccountRef,
			Status:     models.WithdrawalPending,
		}
		if err := tx.Create(request).Error; err != nil {
			return fmt.Errorf("failed to create withdrawal: %w", err)
		}

		_, err = s.ledger.Post(ctx, tx, wallet, withdrawalPosting(request, models.Debit))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":       userID,
		"withdrawal_id": request.ID,
		"amount":        amount.StringFixed(2),
		"source":        source,
	}).Info("Withdrawal requested")
	return request, nil
}

// Approve accepts a pending withdrawal.
func (s *WithdrawalService) Approve(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	return s.transition(ctx, id, models.WithdrawalApproved, "", models.WithdrawalPending)
}

// MarkPaid records the external payment reference.
func (s *WithdrawalService) MarkPaid(ctx context.Context, id uint, txID string) (*models.WithdrawalRequest, error) {
	return s.transition(ctx, id, models.WithdrawalPaid, txID, models.WithdrawalApproved)
}

// Reject refunds the reserved amount to the balance it came from.
func (s *WithdrawalService) Reject(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	var request *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		request, err = s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if !statusIn(request.Status, []models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalApproved}) {
			return fmt.Errorf("%w: withdrawal %d is %s", ErrInvalidTransition, id, request.Status)
		}

		now := time.Now().UTC()
		request.Status = models.WithdrawalRejected
		request.ProcessedAt = &now
		if err := tx.Save(request).Error; err != nil {
			return fmt.Errorf("failed to update withdrawal: %w", err)
		}

		wallet, err := s.repo.WithTx(tx).LockWallet(ctx, request.UserID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}
		_, err = s.ledger.Post(ctx, tx, wallet, withdrawalPosting(request, models.Credit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *WithdrawalService) transition(ctx context.Context, id uint, to models.WithdrawalStatus, txID string, from ...models.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	var request *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		request, err = s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if !statusIn(request.Status, from) {
			return fmt.Errorf("%w: withdrawal %d is %s", ErrInvalidTransition, id, request.Status)
		}
		now := time.Now().UTC()
		request.Status = to
		request.ProcessedAt = &now
		if txID != "" {
			request.TxID = txID
		}
		return tx.Save(request).Error
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *WithdrawalService) lock(ctx context.Context, tx *gorm.DB, id uint) (*models.WithdrawalRequest, error) {
	request, err := s.repo.WithTx(tx).LockWithdrawal(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return request, nil
}

// ListForUser returns a user's withdrawals, newest first.
func (s *WithdrawalService) ListForUser(ctx context.Context, userID uint) ([]models.WithdrawalRequest, error) {
	var requests []models.WithdrawalRequest
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&requests).Error
	return requests, err
}

// ListByStatus returns withdrawals in one status, oldest first.
func (s *WithdrawalService) ListByStatus(ctx context.Context, status models.WithdrawalStatus) ([]models.WithdrawalRequest, error) {
	var requests []models.WithdrawalRequest
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("id ASC").Find(&requests).Error
	return requests, err
}

// withdrawalPosting is the reservation (debit) or its refund (credit).
func withdrawalPosting(w *models.WithdrawalRequest, dir models.Direction) Posting {
	delta := w.AmountUSD
	suffix := "refund"
	if dir == models.Debit {
		delta = delta.Neg()
		suffix = "reserve"
	}

	p := Posting{
		Direction: dir,
		Amount:    w.AmountUSD,
		Meta: models.LedgerMeta{Withdrawal: &models.WithdrawalMeta{
			WithdrawalID: w.ID,
			Source:       w.Source,
			Reversal:     dir == models.Credit,
		}},
		Key: fmt.Sprintf("withdrawal:%d:%s", w.ID, suffix),
	}
	if w.Source == models.SourceAvailable {
		p.AvailableDelta = delta
	} else {
		p.IncomeDelta = delta
	}
	return p
}
