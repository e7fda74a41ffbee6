package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"

	"rewards-ledger/internal/config"
	"rewards-ledger/internal/economics"
	"rewards-ledger/internal/metrics"
	"rewards-ledger/internal/models"
	"rewards-ledger/internal/repository"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ReferralService struct {
	db     *gorm.DB
	repo   *repository.Repository
	ledger *LedgerService
	econ   *config.Economics
	log    *logrus.Entry
}

func NewReferralService(db *gorm.DB, ledger *LedgerService, econ *config.Economics, log *logrus.Entry) *ReferralService {
	return &ReferralService{
		db:     db,
		repo:   repository.NewRepository(db),
		ledger: ledger,
		econ:   econ,
		log:    log.WithField("component", "referral"),
	}
}

// ReferralStats summarizes a referrer's network and earnings
type ReferralStats struct {
	DirectReferrals int64                             `json:"direct_referrals"`
	TotalPayouts    decimal.Decimal                   `json:"total_payouts_usd"`
	TotalMilestones decimal.Decimal                   `json:"total_milestones_usd"`
	Progress        *models.ReferralMilestoneProgress `json:"milestone_progress,omitempty"`
	NextTarget      int                               `json:"next_target"`
}

// PayOnApproval credits up to three up-line levels for a newly approved user.
// It runs inside the caller's approval transaction and does nothing when any
// commission for this referee already exists.
func (s *ReferralService) PayOnApproval(ctx context.Context, tx *gorm.DB, userID uint) ([]models.ReferralPayout, error) {
	repo := s.repo.WithTx(tx)

	existing, err := repo.CountReferralPayouts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check referral payouts: %w", err)
	}
	if existing > 0 {
		return nil, nil
	}

	ancestors, err := repo.Ancestors(ctx, userID, len(s.econ.ReferralTiers))
	if err != nil {
		return nil, fmt.Errorf("failed to walk referral chain: %w", err)
	}
	if len(ancestors) == 0 {
		return nil, nil
	}

	base, err := s.referralBase(ctx, repo, userID)
	if err != nil {
		return nil, err
	}

	var payouts []models.ReferralPayout
	for i, ancestor := range ancestors {
		level := i + 1
		amount, err := economics.ReferralCommission(s.econ, base, level)
		if err != nil {
			return nil, err
		}

		payout := models.ReferralPayout{
			ReferrerID: ancestor.ID,
			RefereeID:  userID,
			Level:      level,
			AmountUSD:  amount,
		}
		inserted, err := repo.InsertIgnore(ctx, &payout)
		if err != nil {
			return nil, fmt.Errorf("failed to record referral payout: %w", err)
		}
		if !inserted {
			continue
		}

		wallet, err := repo.LockWallet(ctx, ancestor.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock referrer wallet: %w", err)
		}
		_, err = s.ledger.Post(ctx, tx, wallet, Posting{
			Direction: models.Credit,
			Amount:    amount,
			Meta: models.LedgerMeta{Referral: &models.ReferralMeta{
				Level:      level,
				SourceUser: userID,
				BaseUSD:    base,
				Trigger:    "approval",
			}},
			Key:         fmt.Sprintf("referral:%d:%d:%d", userID, level, ancestor.ID),
			IncomeDelta: amount,
		})
		if err != nil {
			return nil, err
		}

		metrics.ReferralPayouts.WithLabelValues(strconv.Itoa(level)).Inc()
		payouts = append(payouts, payout)
	}

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"base":    base.StringFixed(2),
		"levels":  len(payouts),
	}).Info("Referral commissions paid")
	return payouts, nil
}

// referralBase is the USD value of the referee's signup payment, or the
// configured fee when no signup deposit exists.
func (s *ReferralService) referralBase(ctx context.Context, repo *repository.Repository, userID uint) (decimal.Decimal, error) {
	signup, err := repo.SignupDeposit(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get signup deposit: %w", err)
	}
	if signup != nil && signup.Status != models.DepositRejected && signup.AmountUSD.IsPositive() {
		return signup.AmountUSD, nil
	}
	return economics.SignupFeeUSD(s.econ)
}

// RecordFirstInvestment counts a direct's first real deposit toward the
// referrer's open milestone window, paying the window out when its target is
// reached. It runs inside the deposit-credit transaction.
func (s *ReferralService) RecordFirstInvestment(ctx context.Context, tx *gorm.DB, referrerID, directID uint, amount decimal.Decimal) (*models.ReferralMilestoneAward, error) {
	if len(s.econ.MilestoneTargets) == 0 {
		return nil, nil
	}
	repo := s.repo.WithTx(tx)

	flagKey := fmt.Sprintf("milestone-flag:%d:%d", referrerID, directID)
	seen, err := repo.LedgerEntryExists(ctx, flagKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check milestone flag: %w", err)
	}
	if seen {
		return nil, nil
	}

	wallet, err := repo.LockWallet(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock referrer wallet: %w", err)
	}
	progress, err := repo.LockMilestoneProgress(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock milestone progress: %w", err)
	}

	posted, err := s.ledger.Post(ctx, tx, wallet, Posting{
		Direction: models.Credit,
		Amount:    decimal.Zero,
		NonIncome: true,
		Meta:      models.LedgerMeta{Flag: &models.FlagMeta{Flag: fmt.Sprintf("milestone-counted:%d", directID)}},
		Key:       flagKey,
	})
	if err != nil {
		return nil, err
	}
	if !posted {
		return nil, nil
	}

	if !progress.CountedIDs.Contains(directID) {
		progress.CountedIDs = append(progress.CountedIDs, directID)
		progress.Count++
		progress.SumUSD = progress.SumUSD.Add(amount)
	}

	stages := len(s.econ.MilestoneTargets)
	stage := progress.StageIndex % stages
	target := s.econ.MilestoneTargets[stage]

	var award *models.ReferralMilestoneAward
	if progress.Count >= target {
		pct := s.econ.MilestonePercents[stage]
		payout := economics.MulRound(progress.SumUSD, pct)
		award = &models.ReferralMilestoneAward{
			ReferrerID: referrerID,
			WindowSeq:  progress.WindowSeq,
			Target:     target,
			Percent:    pct,
			SumUSD:     progress.SumUSD,
			AmountUSD:  payout,
		}
		inserted, err := repo.InsertIgnore(ctx, award)
		if err != nil {
			return nil, fmt.Errorf("failed to record milestone award: %w", err)
		}
		if inserted {
			_, err = s.ledger.Post(ctx, tx, wallet, Posting{
				Direction: models.Credit,
				Amount:    payout,
				Meta: models.LedgerMeta{Milestone: &models.MilestoneMeta{
					Target:    target,
					Percent:   pct,
					WindowSeq: progress.WindowSeq,
					SumUSD:    progress.SumUSD,
				}},
				Key:         fmt.Sprintf("milestone:%d:%d", referrerID, progress.WindowSeq),
				IncomeDelta: payout,
			})
			if err != nil {
				return nil, err
			}
			metrics.MilestoneAwards.Inc()
			s.log.WithFields(logrus.Fields{
				"referrer_id": referrerID,
				"target":      target,
				"window_seq":  progress.WindowSeq,
				"amount":      payout.StringFixed(2),
			}).Info("Milestone window paid")
		} else {
			award = nil
		}

		progress.Count = 0
		progress.SumUSD = decimal.Zero
		progress.CountedIDs = models.IDSet{}
		progress.StageIndex = (stage + 1) % stages
		progress.WindowSeq++
	}

	if err := tx.WithContext(ctx).Save(progress).Error; err != nil {
		return nil, fmt.Errorf("failed to save milestone progress: %w", err)
	}
	return award, nil
}

// EnsureReferralCode gives the user a referral code if they have none yet
func (s *ReferralService) EnsureReferralCode(ctx context.Context, userID uint) (string, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	if user.ReferralCode != nil {
		return *user.ReferralCode, nil
	}

	for attempt := 0; attempt < 5; attempt++ {
		code, err := generateRandomCode()
		if err != nil {
			return "", err
		}
		res := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ? AND referral_code IS NULL", userID).
			Update("referral_code", code)
		if res.Error != nil {
			// collision with another user's code; try again
			continue
		}
		if res.RowsAffected == 0 {
			// someone else set it first
			user, err = s.repo.GetUser(ctx, userID)
			if err != nil {
				return "", fmt.Errorf("failed to reload user: %w", err)
			}
			return *user.ReferralCode, nil
		}
		return code, nil
	}
	return "", fmt.Errorf("failed to generate a unique referral code for user %d", userID)
}

// generateRandomCode returns a base58 code from 6 random bytes
func generateRandomCode() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base58.Encode(b), nil
}

// ResolveReferralCode finds the owner of a code.
func (s *ReferralService) ResolveReferralCode(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("referral_code = ?", code).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetReferralStats gets the referrer's counters and open window
func (s *ReferralService) GetReferralStats(ctx context.Context, userID uint) (*ReferralStats, error) {
	stats := &ReferralStats{TotalPayouts: decimal.Zero, TotalMilestones: decimal.Zero}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("referred_by_id = ?", userID).
		Count(&stats.DirectReferrals).Error; err != nil {
		return nil, fmt.Errorf("failed to count directs: %w", err)
	}

	var payouts []models.ReferralPayout
	if err := s.db.WithContext(ctx).Where("referrer_id = ?", userID).Find(&payouts).Error; err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	for _, p := range payouts {
		stats.TotalPayouts = stats.TotalPayouts.Add(p.AmountUSD)
	}

	var awards []models.ReferralMilestoneAward
	if err := s.db.WithContext(ctx).Where("referrer_id = ?", userID).Find(&awards).Error; err != nil {
		return nil, fmt.Errorf("failed to list milestone awards: %w", err)
	}
	for _, a := range awards {
		stats.TotalMilestones = stats.TotalMilestones.Add(a.AmountUSD)
	}

	var progress models.ReferralMilestoneProgress
	err := s.db.WithContext(ctx).Where("referrer_id = ?", userID).First(&progress).Error
	switch {
	case err == nil:
		stats.Progress = &progress
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to get milestone progress: %w", err)
	}

	if n := len(s.econ.MilestoneTargets); n > 0 {
		stage := 0
		if stats.Progress != nil {
			stage = stats.Progress.StageIndex % n
		}
		stats.NextTarget = s.econ.MilestoneTargets[stage]
	}
	return stats, nil
}

// GetPayouts lists commissions earned by a referrer, newest first
func (s *ReferralService) GetPayouts(ctx context.Context, referrerID uint) ([]models.ReferralPayout, error) {
	var payouts []models.ReferralPayout
	err := s.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Find(&payouts).Error
	return payouts, err
}
