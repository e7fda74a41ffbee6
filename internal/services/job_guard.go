package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rewards-ledger/internal/models"
	"rewards-ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// JobRun is a claimed lease on a job marker.
type JobRun struct {
	Name  string
	Owner string
	Date  string
}

// JobGuard serializes periodic jobs through their JobState rows. The row is
// locked with NOWAIT only long enough to take a lease, so a second trigger
// skips instead of waiting.
type JobGuard struct {
	db       *gorm.DB
	repo     *repository.Repository
	leaseTTL time.Duration
	log      *logrus.Entry
	now      func() time.Time
}

func NewJobGuard(db *gorm.DB, leaseTTL time.Duration, log *logrus.Entry) *JobGuard {
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Minute
	}
	return &JobGuard{
		db:       db,
		repo:     repository.NewRepository(db),
		leaseTTL: leaseTTL,
		log:      log,
		now:      time.Now,
	}
}

// Acquire takes the lease for name on date. It returns ErrJobBusy when another
// worker holds the row or an unexpired lease, and ErrAlreadyProcessed when the
// date was already stamped and force is false.
func (g *JobGuard) Acquire(ctx context.Context, name, date string, force bool) (*JobRun, error) {
	run := &JobRun{Name: name, Owner: uuid.NewString(), Date: date}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := g.repo.WithTx(tx)
		state, err := repo.ClaimJobState(ctx, name)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if _, err := repo.InsertIgnore(ctx, &models.JobState{Name: name}); err != nil {
				return fmt.Errorf("failed to create job state: %w", err)
			}
			state, err = repo.ClaimJobState(ctx, name)
		}
		if errors.Is(err, repository.ErrLockNotAvailable) {
			return ErrJobBusy
		}
		if err != nil {
			return fmt.Errorf("failed to claim job state: %w", err)
		}

		if !force && state.LastProcessedDate == date {
			return ErrAlreadyProcessed
		}
		now := g.now().UTC()
		if state.LeaseOwner != "" && state.LeaseUntil != nil && state.LeaseUntil.After(now) {
			return ErrJobBusy
		}

		until := now.Add(g.leaseTTL)
		return tx.Model(state).Updates(map[string]interface{}{
			"lease_owner": run.Owner,
			"lease_until": until,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Finish stamps the processed date, stores the summary and releases the lease.
func (g *JobGuard) Finish(ctx context.Context, run *JobRun, summary interface{}) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode job summary: %w", err)
	}
	return g.release(ctx, run, map[string]interface{}{
		"last_processed_date": run.Date,
		"last_summary":        string(raw),
	})
}

// Abort releases the lease without stamping the date, so the next trigger runs again.
func (g *JobGuard) Abort(ctx context.Context, run *JobRun, summary interface{}) error {
	updates := map[string]interface{}{}
	if summary != nil {
		if raw, err := json.Marshal(summary); err == nil {
			updates["last_summary"] = string(raw)
		}
	}
	return g.release(ctx, run, updates)
}

func (g *JobGuard) release(ctx context.Context, run *JobRun, updates map[string]interface{}) error {
	updates["lease_owner"] = ""
	updates["lease_until"] = nil
	res := g.db.WithContext(ctx).Model(&models.JobState{}).
		Where("name = ? AND lease_owner = ?", run.Name, run.Owner).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to release job %s: %w", run.Name, res.Error)
	}
	if res.RowsAffected == 0 {
		g.log.WithFields(logrus.Fields{"job": run.Name, "owner": run.Owner}).
			Warn("Job lease expired before release")
	}
	return nil
}

// State returns the current marker for a job.
func (g *JobGuard) State(ctx context.Context, name string) (*models.JobState, error) {
	state, err := g.repo.GetJobState(ctx, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return state, err
}

// IsSkip reports whether err only means the run was not needed or already underway.
func IsSkip(err error) bool {
	return errors.Is(err, ErrJobBusy) || errors.Is(err, ErrAlreadyProcessed)
}
