package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rewards-ledger/internal/models"
	"rewards-ledger/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserService handles registration and approval
type UserService struct {
	db        *gorm.DB
	repo      *repository.Repository
	deposits  *DepositService
	referrals *ReferralService
	log       *logrus.Entry
}

// NewUserService creates a new UserService
func NewUserService(db *gorm.DB, deposits *DepositService, referrals *ReferralService, log *logrus.Entry) *UserService {
	return &UserService{
		db:        db,
		repo:      repository.NewRepository(db),
		deposits:  deposits,
		referrals: referrals,
		log:       log.WithField("component", "user"),
	}
}

// ApprovalResult is what an approval did.
type ApprovalResult struct {
	User            *models.User            `json:"user"`
	AlreadyApproved bool                    `json:"already_approved"`
	SignupDeposit   *models.DepositRequest  `json:"signup_deposit,omitempty"`
	Payouts         []models.ReferralPayout `json:"payouts"`
}

// Register creates a user, linking the referrer when a valid code is given.
func (s *UserService) Register(ctx context.Context, username, referralCode string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	user := models.User{Username: username}
	if code := strings.TrimSpace(referralCode); code != "" {
		referrer, err := s.referrals.ResolveReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown referral code", ErrInvalidInput)
			}
			return nil, err
		}
		user.ReferredByID = &referrer.ID
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if _, err := s.referrals.EnsureReferralCode(ctx, user.ID); err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Warn("Failed to assign referral code")
	}
	return s.GetUserByID(ctx, user.ID)
}

// ApproveUser approves a user and pays the up-line. The signup payment is
// credited first on a best-effort basis; its failure is logged and never
// blocks the approval. Approving twice pays nothing the second time.
func (s *UserService) ApproveUser(ctx context.Context, userID uint) (*ApprovalResult, error) {
	if _, err := s.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	result := &ApprovalResult{}
	signup, err := s.deposits.EnsureSignupDeposit(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("Signup deposit credit failed, continuing approval")
	}
	result.SignupDeposit = signup

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, userID).Error; err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}

		if user.IsApproved {
			result.AlreadyApproved = true
		} else {
			now := time.Now().UTC()
			user.IsApproved = true
			user.ApprovedAt = &now
			if err := tx.Save(&user).Error; err != nil {
				return fmt.Errorf("failed to approve user: %w", err)
			}
		}

		if _, err := s.repo.WithTx(tx).LockWallet(ctx, userID); err != nil {
			return fmt.Errorf("failed to create wallet: %w", err)
		}

		payouts, err := s.referrals.PayOnApproval(ctx, tx, userID)
		if err != nil {
			return err
		}
		result.Payouts = payouts
		result.User = &user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":          userID,
		"already_approved": result.AlreadyApproved,
		"payouts":          len(result.Payouts),
	}).Info("User approved")
	return result, nil
}

// GetUserByID retrieves a user by ID
func (s *UserService) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetDirectReferrals retrieves the users a referrer brought in directly
func (s *UserService) GetDirectReferrals(ctx context.Context, userID uint) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Where("referred_by_id = ?", userID).Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// ListPending returns users waiting for approval
func (s *UserService) ListPending(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Where("is_approved = ?", false).Order("id ASC").Find(&users).Error
	return users, err
}
