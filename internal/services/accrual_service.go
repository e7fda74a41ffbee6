package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewards-ledger/internal/config"
	"rewards-ledger/internal/economics"
	"rewards-ledger/internal/metrics"
	"rewards-ledger/internal/models"
	"rewards-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// AccrualOptions tunes a tick.
type AccrualOptions struct {
	// Backfill posts every missing day up to the horizon instead of one.
	Backfill bool
	// Force ignores the job marker's last processed date.
	Force bool
	// DryRun counts what would be posted without writing.
	DryRun bool
	// UserID restricts the run to one user when non-zero.
	UserID uint
}

// TickSummary reports the outcome of one accrual run.
type TickSummary struct {
	Date       string          `json:"date"`
	Users      int             `json:"users"`
	Processed  int             `json:"processed"`
	Skipped    int             `json:"skipped"`
	Errored    int             `json:"errored"`
	Behind     int             `json:"behind"`
	DaysPosted int             `json:"days_posted"`
	AmountUSD  decimal.Decimal `json:"amount_usd"`
	DryRun     bool            `json:"dry_run,omitempty"`
}

// AccrualStatus compares a user's posted days with what is due.
type AccrualStatus struct {
	UserID      uint            `json:"user_id"`
	DepositUSD  decimal.Decimal `json:"deposit_usd"`
	ProcessedAt time.Time       `json:"processed_at"`
	LastDay     int             `json:"last_day"`
	ExpectedDay int             `json:"expected_day"`
	Behind      int             `json:"behind"`
}

// AccrualService posts passive income, one contiguous day index at a time.
type AccrualService struct {
	db       *gorm.DB
	repo     *repository.Repository
	ledger   *LedgerService
	guard    *JobGuard
	econ     *config.Economics
	schedule economics.Schedule
	log      *logrus.Entry
}

func NewAccrualService(db *gorm.DB, ledger *LedgerService, guard *JobGuard, econ *config.Economics, log *logrus.Entry) *AccrualService {
	return &AccrualService{
		db:       db,
		repo:     repository.NewRepository(db),
		ledger:   ledger,
		guard:    guard,
		econ:     econ,
		schedule: economics.NewSchedule(econ),
		log:      log.WithField("component", "accrual"),
	}
}

// AllowedDays is the highest day index that may exist at now for a deposit
// processed at processedAt: whole elapsed days, capped at maxDays.
func AllowedDays(processedAt, now time.Time, maxDays int) int {
	elapsed := now.Sub(processedAt)
	if elapsed < 0 {
		return 0
	}
	days := int(elapsed / (24 * time.Hour))
	if days > maxDays {
		return maxDays
	}
	return days
}

// AccrueDay posts the next unfilled day for a user. It returns nil when the
// user is fully accrued for now, and ErrNotEligible when the user has no
// approval or no credited investment yet.
func (s *AccrualService) AccrueDay(ctx context.Context, userID uint, now time.Time) (*models.PassiveEarning, error) {
	earning, _, err := s.accrueNext(ctx, userID, now)
	return earning, err
}

// accrueNext posts at most one day in its own transaction and reports whether
// more days were still due afterward.
func (s *AccrualService) accrueNext(ctx context.Context, userID uint, now time.Time) (*models.PassiveEarning, bool, error) {
	var (
		posted *models.PassiveEarning
		behind bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		user, err := repo.GetUser(ctx, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}
		if !user.IsApproved {
			return ErrNotEligible
		}

		deposit, err := repo.FirstRealDeposit(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get first deposit: %w", err)
		}
		if deposit == nil {
			return ErrNotEligible
		}

		allowed := AllowedDays(*deposit.ProcessedAt, now, s.econ.MaxAccrualDays)
		if allowed == 0 {
			return nil
		}

		// lock before reading the last day so concurrent ticks serialize per user
		wallet, err := repo.LockWallet(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		last, err := repo.LastPassiveDay(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get last passive day: %w", err)
		}
		next := last + 1
		if next > allowed {
			return nil
		}

		day := economics.ComputeDailyEarning(s.econ, s.schedule, next, deposit.AmountUSD)
		record := models.PassiveEarning{
			UserID:    userID,
			DayIndex:  next,
			Percent:   day.Percent,
			AmountUSD: day.UserShare,
		}
		inserted, err := repo.InsertIgnore(ctx, &record)
		if err != nil {
			return fmt.Errorf("failed to record passive earning: %w", err)
		}
		if !inserted {
			return nil
		}

		_, err = s.ledger.Post(ctx, tx, wallet, Posting{
			Direction: models.Credit,
			Amount:    day.UserShare,
			Meta: models.LedgerMeta{Passive: &models.PassiveMeta{
				DayIndex:  next,
				Percent:   day.Percent,
				GrossUSD:  day.GrossUSD,
				HoldShare: day.HoldShare,
			}},
			Key:         fmt.Sprintf("passive:%d:%d", userID, next),
			IncomeDelta: day.UserShare,
			HoldDelta:   day.HoldShare,
		})
		if err != nil {
			return err
		}

		posted = &record
		behind = next < allowed
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if posted != nil {
		metrics.AccrualDays.Inc()
		s.log.WithFields(logrus.Fields{
			"user_id":   userID,
			"day_index": posted.DayIndex,
			"amount":    posted.AmountUSD.StringFixed(2),
		}).Debug("Posted passive earning")
	}
	return posted, behind, nil
}

// accrueUser runs one user for a tick and folds the outcome into the summary.
func (s *AccrualService) accrueUser(ctx context.Context, userID uint, now time.Time, opts AccrualOptions, summary *TickSummary) {
	posted := 0
	behind := false
	for {
		earning, more, err := s.accrueNext(ctx, userID, now)
		if errors.Is(err, ErrNotEligible) || errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			summary.Errored++
			metrics.AccrualUsers.WithLabelValues("errored").Inc()
			s.log.WithError(err).WithField("user_id", userID).Error("Accrual failed")
			return
		}
		if earning == nil {
			break
		}
		posted++
		summary.AmountUSD = summary.AmountUSD.Add(earning.AmountUSD)
		behind = more
		if !opts.Backfill || !more {
			break
		}
	}

	summary.DaysPosted += posted
	if behind {
		summary.Behind++
	}
	if posted > 0 {
		summary.Processed++
		metrics.AccrualUsers.WithLabelValues("processed").Inc()
	} else {
		summary.Skipped++
		metrics.AccrualUsers.WithLabelValues("skipped").Inc()
	}
}

// RunAccrualTick accrues every approved user holding a credited investment.
// One user's failure is logged and counted without stopping the run. The job
// date is stamped only when no user errored and none is still behind, so the
// next trigger retries and catches up one more day.
func (s *AccrualService) RunAccrualTick(ctx context.Context, now time.Time, opts AccrualOptions) (*TickSummary, error) {
	date := now.In(s.econ.Location).Format(dateLayout)
	if opts.DryRun {
		return s.dryRun(ctx, now, opts, date)
	}

	run, err := s.guard.Acquire(ctx, models.JobDailyEarnings, date, opts.Force)
	if err != nil {
		if IsSkip(err) {
			metrics.JobRuns.WithLabelValues(models.JobDailyEarnings, skipLabel(err)).Inc()
		}
		return nil, err
	}

	summary, err := s.tick(ctx, now, opts, date)
	if err != nil {
		_ = s.guard.Abort(ctx, run, nil)
		metrics.JobRuns.WithLabelValues(models.JobDailyEarnings, "error").Inc()
		return nil, err
	}

	if summary.Errored > 0 || summary.Behind > 0 {
		err = s.guard.Abort(ctx, run, summary)
	} else {
		err = s.guard.Finish(ctx, run, summary)
	}
	if err != nil {
		return summary, err
	}

	metrics.JobRuns.WithLabelValues(models.JobDailyEarnings, "ok").Inc()
	s.log.WithFields(logrus.Fields{
		"date":        summary.Date,
		"users":       summary.Users,
		"processed":   summary.Processed,
		"skipped":     summary.Skipped,
		"errored":     summary.Errored,
		"behind":      summary.Behind,
		"days_posted": summary.DaysPosted,
	}).Info("Accrual tick finished")
	return summary, nil
}

// Backfill posts every missing day up to the horizon, ignoring the job date.
func (s *AccrualService) Backfill(ctx context.Context, now time.Time, userID uint, dryRun bool) (*TickSummary, error) {
	return s.RunAccrualTick(ctx, now, AccrualOptions{
		Backfill: true,
		Force:    true,
		DryRun:   dryRun,
		UserID:   userID,
	})
}

func (s *AccrualService) tick(ctx context.Context, now time.Time, opts AccrualOptions, date string) (*TickSummary, error) {
	users, err := s.candidates(ctx, opts.UserID)
	if err != nil {
		return nil, err
	}

	summary := &TickSummary{Date: date, Users: len(users), AmountUSD: decimal.Zero}
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		s.accrueUser(ctx, userID, now, opts, summary)
	}
	return summary, nil
}

func (s *AccrualService) dryRun(ctx context.Context, now time.Time, opts AccrualOptions, date string) (*TickSummary, error) {
	statuses, err := s.statusFor(ctx, now, opts.UserID)
	if err != nil {
		return nil, err
	}

	summary := &TickSummary{Date: date, Users: len(statuses), AmountUSD: decimal.Zero, DryRun: true}
	for _, st := range statuses {
		if st.Behind == 0 {
			summary.Skipped++
			continue
		}
		days := 1
		if opts.Backfill {
			days = st.Behind
		}
		for d := st.LastDay + 1; d <= st.LastDay+days; d++ {
			summary.AmountUSD = summary.AmountUSD.Add(
				economics.ComputeDailyEarning(s.econ, s.schedule, d, st.DepositUSD).UserShare)
		}
		summary.Processed++
		summary.DaysPosted += days
	}
	return summary, nil
}

func (s *AccrualService) candidates(ctx context.Context, userID uint) ([]uint, error) {
	if userID != 0 {
		return []uint{userID}, nil
	}
	users, err := s.repo.AccrualCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accrual candidates: %w", err)
	}
	return users, nil
}

// Status reports posted versus due days for every accruing user.
func (s *AccrualService) Status(ctx context.Context, now time.Time) ([]AccrualStatus, error) {
	return s.statusFor(ctx, now, 0)
}

// UserStatus reports one user's accrual progress, or nil when the user is not accruing.
func (s *AccrualService) UserStatus(ctx context.Context, now time.Time, userID uint) (*AccrualStatus, error) {
	out, err := s.statusFor(ctx, now, userID)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func (s *AccrualService) statusFor(ctx context.Context, now time.Time, userID uint) ([]AccrualStatus, error) {
	users, err := s.candidates(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]AccrualStatus, 0, len(users))
	for _, id := range users {
		deposit, err := s.repo.FirstRealDeposit(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get first deposit for user %d: %w", id, err)
		}
		if deposit == nil {
			continue
		}
		last, err := s.repo.LastPassiveDay(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get last passive day for user %d: %w", id, err)
		}
		expected := AllowedDays(*deposit.ProcessedAt, now, s.econ.MaxAccrualDays)
		behind := expected - last
		if behind < 0 {
			behind = 0
		}
		out = append(out, AccrualStatus{
			UserID:      id,
			DepositUSD:  deposit.AmountUSD,
			ProcessedAt: *deposit.ProcessedAt,
			LastDay:     last,
			ExpectedDay: expected,
			Behind:      behind,
		})
	}
	return out, nil
}

func skipLabel(err error) string {
	if errors.Is(err, ErrAlreadyProcessed) {
		return "done"
	}
	return "busy"
}
