package services

import (
	"context"
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

// PoolSummary reports one pass of the weekly cycle.
type PoolSummary struct {
	Monday               string          `json:"monday"`
	CollectionSkipped    bool            `json:"collection_skipped"`
	Collected            int             `json:"collected"`
	CollectedUSD         decimal.Decimal `json:"collected_usd"`
	DistributionSkipped  bool            `json:"distribution_skipped"`
	PoolBeforeUSD        decimal.Decimal `json:"pool_before_usd"`
	Recipients           int             `json:"recipients"`
	PerUserUSD           decimal.Decimal `json:"per_user_usd"`
	DistributedUSD       decimal.Decimal `json:"distributed_usd"`
	DistributedIncomeUSD decimal.Decimal `json:"distributed_income_usd"`
	DistributedHoldUSD   decimal.Decimal `json:"distributed_hold_usd"`
	RetainedUSD          decimal.Decimal `json:"retained_usd"`
}

// GlobalPoolService runs the Monday collect and distribute phases. Each phase
// is one transaction and is a no-op once its date is stamped on the pool row.
type GlobalPoolService struct {
	db     *gorm.DB
	repo   *repository.Repository
	ledger *LedgerService
	guard  *JobGuard
	econ   *config.Economics
	log    *logrus.Entry
}

func NewGlobalPoolService(db *gorm.DB, ledger *LedgerService, guard *JobGuard, econ *config.Economics, log *logrus.Entry) *GlobalPoolService {
	return &GlobalPoolService{
		db:     db,
		repo:   repository.NewRepository(db),
		ledger: ledger,
		guard:  guard,
		econ:   econ,
		log:    log.WithField("component", "global_pool"),
	}
}

// MostRecentMonday is midnight of t's Monday in loc, or of t itself when t is a Monday.
func MostRecentMonday(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	back := (int(local.Weekday()) - int(time.Monday) + 7) % 7
	y, m, d := local.AddDate(0, 0, -back).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ProcessGlobalPool runs the requested phases for monday.
func (s *GlobalPoolService) ProcessGlobalPool(ctx context.Context, monday time.Time, collect, distribute bool) (*PoolSummary, error) {
	monday = MostRecentMonday(monday, s.econ.Location)
	summary := &PoolSummary{
		Monday:               monday.Format(dateLayout),
		CollectedUSD:         decimal.Zero,
		PoolBeforeUSD:        decimal.Zero,
		PerUserUSD:           decimal.Zero,
		DistributedUSD:       decimal.Zero,
		DistributedIncomeUSD: decimal.Zero,
		DistributedHoldUSD:   decimal.Zero,
		RetainedUSD:          decimal.Zero,
	}

	if collect {
		if err := s.collect(ctx, monday, summary); err != nil {
			return nil, err
		}
	}
	if distribute {
		if err := s.distribute(ctx, summary); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"monday":      summary.Monday,
		"collected":   summary.CollectedUSD.StringFixed(2),
		"distributed": summary.DistributedUSD.StringFixed(2),
		"recipients":  summary.Recipients,
		"retained":    summary.RetainedUSD.StringFixed(2),
	}).Info("Global pool processed")
	return summary, nil
}

// collect adds COLLECTION_RATE of every signup payment credited on monday.
func (s *GlobalPoolService) collect(ctx context.Context, monday time.Time, summary *PoolSummary) error {
	date := summary.Monday
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		state, err := repo.LockPoolState(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock pool state: %w", err)
		}
		if state.LastCollectionDate == date {
			summary.CollectionSkipped = true
			return nil
		}

		from := monday.UTC()
		to := monday.AddDate(0, 0, 1).UTC()
		signups, err := repo.SignupDepositsCreditedBetween(ctx, from, to)
		if err != nil {
			return fmt.Errorf("failed to list signup deposits: %w", err)
		}

		for _, dep := range signups {
			amount := economics.MulRound(dep.AmountUSD, s.econ.PoolCollectionRate)
			row := models.GlobalPoolCollection{
				UserID:              dep.UserID,
				CollectionDate:      date,
				SignupAmountUSD:     dep.AmountUSD,
				CollectionAmountUSD: amount,
			}
			inserted, err := repo.InsertIgnore(ctx, &row)
			if err != nil {
				return fmt.Errorf("failed to record pool collection: %w", err)
			}
			if !inserted {
				continue
			}
			state.CurrentPoolUSD = state.CurrentPoolUSD.Add(amount)
			state.TotalCollected = state.TotalCollected.Add(amount)
			summary.Collected++
			summary.CollectedUSD = summary.CollectedUSD.Add(amount)
			metrics.PoolCollections.Inc()
		}

		state.LastCollectionDate = date
		if err := tx.Save(state).Error; err != nil {
			return fmt.Errorf("failed to save pool state: %w", err)
		}
		return nil
	})
}

// distribute splits the whole pool evenly across approved wallet holders.
// Shares are truncated to cents; the leftover is retained by the platform and
// the pool is zeroed. With no recipients the pool carries over. An empty pool
// is skipped without stamping the date.
func (s *GlobalPoolService) distribute(ctx context.Context, summary *PoolSummary) error {
	date := summary.Monday
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		state, err := repo.LockPoolState(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock pool state: %w", err)
		}
		if state.LastDistributionDate == date {
			summary.DistributionSkipped = true
			return nil
		}

		pool := state.CurrentPoolUSD
		summary.PoolBeforeUSD = pool

		// An empty pool leaves the date open so later funding is still paid this week.
		if !pool.IsPositive() {
			summary.DistributionSkipped = true
			return nil
		}

		users, err := repo.ApprovedWalletHolders(ctx)
		if err != nil {
			return fmt.Errorf("failed to list pool recipients: %w", err)
		}

		if len(users) > 0 {
			perUser, _ := economics.PerUserShare(pool, len(users))
			income, hold := economics.PoolShare(s.econ, perUser)
			summary.PerUserUSD = perUser

			distributed := decimal.Zero
			if perUser.IsPositive() {
				for _, userID := range users {
					row := models.GlobalPoolDistribution{
						UserID:           userID,
						DistributionDate: date,
						GrossUSD:         perUser,
						IncomeUSD:        income,
						HoldUSD:          hold,
						TotalPool:        pool,
						TotalUsers:       len(users),
					}
					inserted, err := repo.InsertIgnore(ctx, &row)
					if err != nil {
						return fmt.Errorf("failed to record pool distribution: %w", err)
					}
					if !inserted {
						continue
					}

					wallet, err := repo.LockWallet(ctx, userID)
					if err != nil {
						return fmt.Errorf("failed to lock wallet: %w", err)
					}
					_, err = s.ledger.Post(ctx, tx, wallet, Posting{
						Direction: models.Credit,
						Amount:    income,
						Meta: models.LedgerMeta{GlobalPool: &models.GlobalPoolMeta{
							DistributionDate: date,
							TotalPool:        pool,
							TotalUsers:       len(users),
							GrossUSD:         perUser,
							HoldShare:        hold,
						}},
						Key:         fmt.Sprintf("pool:%d:%s", userID, date),
						IncomeDelta: income,
						HoldDelta:   hold,
					})
					if err != nil {
						return err
					}

					distributed = distributed.Add(perUser)
					summary.Recipients++
					summary.DistributedIncomeUSD = summary.DistributedIncomeUSD.Add(income)
					summary.DistributedHoldUSD = summary.DistributedHoldUSD.Add(hold)
					metrics.PoolDistributions.Inc()
				}
			}

			retained := pool.Sub(distributed)
			summary.DistributedUSD = distributed
			summary.RetainedUSD = retained
			state.TotalDistributed = state.TotalDistributed.Add(distributed)
			state.TotalRetained = state.TotalRetained.Add(retained)
			state.CurrentPoolUSD = decimal.Zero
		}

		state.LastDistributionDate = date
		if err := tx.Save(state).Error; err != nil {
			return fmt.Errorf("failed to save pool state: %w", err)
		}
		return nil
	})
}

// Run processes the week containing now under the job marker. Callers treat
// ErrJobBusy and ErrAlreadyProcessed as a skip.
func (s *GlobalPoolService) Run(ctx context.Context, now time.Time, force bool) (*PoolSummary, error) {
	monday := MostRecentMonday(now, s.econ.Location)
	run, err := s.guard.Acquire(ctx, models.JobGlobalPool, monday.Format(dateLayout), force)
	if err != nil {
		if IsSkip(err) {
			metrics.JobRuns.WithLabelValues(models.JobGlobalPool, skipLabel(err)).Inc()
		}
		return nil, err
	}

	summary, err := s.ProcessGlobalPool(ctx, monday, true, true)
	if err != nil {
		_ = s.guard.Abort(ctx, run, nil)
		metrics.JobRuns.WithLabelValues(models.JobGlobalPool, "error").Inc()
		return nil, err
	}
	if err := s.guard.Finish(ctx, run, summary); err != nil {
		return summary, err
	}
	metrics.JobRuns.WithLabelValues(models.JobGlobalPool, "ok").Inc()
	return summary, nil
}

// State returns the pool singleton.
func (s *GlobalPoolService) State(ctx context.Context) (*models.GlobalPoolState, error) {
	var state models.GlobalPoolState
	if err := s.db.WithContext(ctx).First(&state, models.GlobalPoolStateID).Error; err != nil {
		return nil, fmt.Errorf("failed to get pool state: %w", err)
	}
	return &state, nil
}
