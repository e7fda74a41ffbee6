package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rewards-ledger/internal/config"
	"rewards-ledger/internal/economics"
	"rewards-ledger/internal/models"
	"rewards-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const signupSource = "signup-initial"

// DepositService drives deposits from request to credit.
type DepositService struct {
	db        *gorm.DB
	repo      *repository.Repository
	ledger    *LedgerService
	referrals *ReferralService
	econ      *config.Economics
	log       *logrus.Entry
	now       func() time.Time
}

func NewDepositService(db *gorm.DB, ledger *LedgerService, referrals *ReferralService, econ *config.Economics, log *logrus.Entry) *DepositService {
	return &DepositService{
		db:        db,
		repo:      repository.NewRepository(db),
		ledger:    ledger,
		referrals: referrals,
		econ:      econ,
		log:       log.WithField("component", "deposit"),
		now:       time.Now,
	}
}

// CreateDeposit records a pending deposit, converting PKR at the current rate.
func (s *DepositService) CreateDeposit(ctx context.Context, userID uint, amountPKR decimal.Decimal, txID, proofRef string) (*models.DepositRequest, error) {
	txID = strings.TrimSpace(txID)
	if !amountPKR.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidInput)
	}
	if txID == "" || txID == models.SignupTxID {
		return nil, fmt.Errorf("%w: transaction id %q", ErrInvalidInput, txID)
	}

	usd, err := economics.ConvertPKR(s.econ, amountPKR)
	if err != nil {
		return nil, err
	}

	deposit := models.DepositRequest{
		UserID:    userID,
		AmountPKR: economics.Round(amountPKR),
		AmountUSD: usd,
		FXRate:    s.econ.FXRate,
		TxID:      txID,
		Status:    models.DepositPending,
		ProofRef:  proofRef,
	}
	if err := s.db.WithContext(ctx).Create(&deposit).Error; err != nil {
		return nil, fmt.Errorf("failed to create deposit: %w", err)
	}
	return &deposit, nil
}

// Approve moves a pending deposit to APPROVED.
func (s *DepositService) Approve(ctx context.Context, depositID uint) (*models.DepositRequest, error) {
	return s.transition(ctx, depositID, models.DepositApproved, "", models.DepositPending)
}

// Reject closes a deposit that was never credited.
func (s *DepositService) Reject(ctx context.Context, depositID uint, note string) (*models.DepositRequest, error) {
	return s.transition(ctx, depositID, models.DepositRejected, note, models.DepositPending, models.DepositApproved)
}

func (s *DepositService) transition(ctx context.Context, depositID uint, to models.DepositStatus, note string, from ...models.DepositStatus) (*models.DepositRequest, error) {
	var deposit *models.DepositRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		deposit, err = s.lockDeposit(ctx, tx, depositID)
		if err != nil {
			return err
		}
		if !statusIn(deposit.Status, from) {
			return fmt.Errorf("%w: deposit %d is %s", ErrInvalidTransition, depositID, deposit.Status)
		}
		now := s.now().UTC()
		deposit.Status = to
		deposit.Note = note
		deposit.ProcessedAt = &now
		return tx.Save(deposit).Error
	})
	if err != nil {
		return nil, err
	}
	return deposit, nil
}

// Credit applies a deposit to the wallet: the user share to available, the
// rest to hold. The user's first real deposit also counts toward the direct
// referrer's milestone window in the same transaction. Crediting twice is a no-op.
// A PENDING deposit is approved and credited in one step.
func (s *DepositService) Credit(ctx context.Context, depositID uint) (*models.DepositRequest, error) {
	var deposit *models.DepositRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		deposit, err = s.lockDeposit(ctx, tx, depositID)
		if err != nil {
			return err
		}
		if deposit.Status == models.DepositCredited {
			return nil
		}
		if !statusIn(deposit.Status, []models.DepositStatus{models.DepositPending, models.DepositApproved}) {
			return fmt.Errorf("%w: deposit %d is %s", ErrInvalidTransition, depositID, deposit.Status)
		}
		return s.credit(ctx, tx, deposit)
	})
	if err != nil {
		return nil, err
	}
	return deposit, nil
}

func (s *DepositService) credit(ctx context.Context, tx *gorm.DB, deposit *models.DepositRequest) error {
	repo := s.repo.WithTx(tx)

	now := s.now().UTC()
	deposit.Status = models.DepositCredited
	deposit.ProcessedAt = &now
	if err := tx.Save(deposit).Error; err != nil {
		return fmt.Errorf("failed to update deposit: %w", err)
	}

	wallet, err := repo.LockWallet(ctx, deposit.UserID)
	if err != nil {
		return fmt.Errorf("failed to lock wallet: %w", err)
	}

	available, hold := economics.DepositSplit(s.econ, deposit.AmountUSD)
	meta := &models.DepositMeta{
		DepositID:      deposit.ID,
		TxID:           deposit.TxID,
		AvailableShare: available,
		HoldShare:      hold,
	}
	if deposit.IsSignup() {
		meta.Source = signupSource
	}
	_, err = s.ledger.Post(ctx, tx, wallet, Posting{
		Direction:      models.Credit,
		Amount:         deposit.AmountUSD,
		NonIncome:      true,
		Meta:           models.LedgerMeta{Deposit: meta},
		Key:            fmt.Sprintf("deposit:%d", deposit.ID),
		AvailableDelta: available,
		HoldDelta:      hold,
	})
	if err != nil {
		return err
	}

	if deposit.IsSignup() {
		return nil
	}

	credited, err := repo.CountCreditedRealDeposits(ctx, deposit.UserID)
	if err != nil {
		return fmt.Errorf("failed to count deposits: %w", err)
	}
	if credited != 1 {
		return nil
	}

	user, err := repo.GetUser(ctx, deposit.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user.ReferredByID == nil {
		return nil
	}
	if _, err := s.referrals.RecordFirstInvestment(ctx, tx, *user.ReferredByID, user.ID, deposit.AmountUSD); err != nil {
		return fmt.Errorf("failed to record first investment: %w", err)
	}
	return nil
}

// EnsureSignupDeposit creates and credits the user's signup payment at the
// configured fee, unless one already exists.
func (s *DepositService) EnsureSignupDeposit(ctx context.Context, userID uint) (*models.DepositRequest, error) {
	var deposit *models.DepositRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.SignupDeposit(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get signup deposit: %w", err)
		}

		if existing == nil {
			usd, err := economics.SignupFeeUSD(s.econ)
			if err != nil {
				return err
			}
			existing = &models.DepositRequest{
				UserID:    userID,
				AmountPKR: s.econ.SignupFeePKR,
				AmountUSD: usd,
				FXRate:    s.econ.FXRate,
				TxID:      models.SignupTxID,
				Status:    models.DepositApproved,
			}
			if err := tx.Create(existing).Error; err != nil {
				return fmt.Errorf("failed to create signup deposit: %w", err)
			}
		} else {
			existing, err = s.lockDeposit(ctx, tx, existing.ID)
			if err != nil {
				return err
			}
		}

		deposit = existing
		switch existing.Status {
		case models.DepositCredited, models.DepositRejected:
			return nil
		}
		return s.credit(ctx, tx, existing)
	})
	if err != nil {
		return nil, err
	}
	return deposit, nil
}

// ListForUser returns a user's deposits, newest first.
func (s *DepositService) ListForUser(ctx context.Context, userID uint) ([]models.DepositRequest, error) {
	var deposits []models.DepositRequest
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&deposits).Error
	return deposits, err
}

// ListByStatus returns deposits waiting on an admin, oldest first.
func (s *DepositService) ListByStatus(ctx context.Context, status models.DepositStatus) ([]models.DepositRequest, error) {
	var deposits []models.DepositRequest
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("id ASC").Find(&deposits).Error
	return deposits, err
}

func (s *DepositService) lockDeposit(ctx context.Context, tx *gorm.DB, depositID uint) (*models.DepositRequest, error) {
	deposit, err := s.repo.WithTx(tx).LockDeposit(ctx, depositID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return deposit, nil
}

func statusIn[T comparable](status T, allowed []T) bool {
	for _, a := range allowed {
		if status == a {
			return true
		}
	}
	return false
}
