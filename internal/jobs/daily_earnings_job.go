package jobs

import (
	"context"
	"time"

	"rewards-ledger/internal/config"
	"rewards-ledger/internal/services"

	"github.com/sirupsen/logrus"
)

// AccrualRunner runs one accrual tick.
type AccrualRunner interface {
	RunAccrualTick(ctx context.Context, now time.Time, opts services.AccrualOptions) (*services.TickSummary, error)
}

// DailyEarningsJob triggers the accrual tick once the business day has reached the configured hour.
type DailyEarningsJob struct {
	accrual  AccrualRunner
	interval time.Duration
	hour     int
	loc      *time.Location
	log      *logrus.Entry
	stopChan chan struct{}
}

// NewDailyEarningsJob creates a new daily earnings job
func NewDailyEarningsJob(accrual AccrualRunner, cfg config.JobsConfig, loc *time.Location, log *logrus.Entry) *DailyEarningsJob {
	return &DailyEarningsJob{
		accrual:  accrual,
		interval: cfg.CheckInterval,
		hour:     cfg.DailyHour,
		loc:      loc,
		log:      log.WithField("job", "daily_earnings"),
		stopChan: make(chan struct{}),
	}
}

// Start checks once immediately and then on every interval until Stop.
func (j *DailyEarningsJob) Start() {
	j.log.WithField("interval", j.interval.String()).Info("Starting daily earnings job")

	j.Check(context.Background(), time.Now())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Check(context.Background(), time.Now())
		case <-j.stopChan:
			j.log.Info("Stopping daily earnings job")
			return
		}
	}
}

// Stop stops the loop
func (j *DailyEarningsJob) Stop() {
	close(j.stopChan)
}

// Due reports whether the local hour has reached the run hour.
func (j *DailyEarningsJob) Due(now time.Time) bool {
	return now.In(j.loc).Hour() >= j.hour
}

// RunOnce runs the tick when due. A busy or already stamped marker is not an error.
func (j *DailyEarningsJob) RunOnce(ctx context.Context, now time.Time) (*services.TickSummary, error) {
	if !j.Due(now) {
		return nil, nil
	}
	summary, err := j.accrual.RunAccrualTick(ctx, now, services.AccrualOptions{})
	if services.IsSkip(err) {
		j.log.WithError(err).Debug("Accrual tick skipped")
		return nil, nil
	}
	return summary, err
}

// Check is RunOnce with errors logged.
func (j *DailyEarningsJob) Check(ctx context.Context, now time.Time) {
	summary, err := j.RunOnce(ctx, now)
	if err != nil {
		j.log.WithError(err).Error("Accrual tick failed")
		return
	}
	if summary != nil && summary.Behind > 0 {
		j.log.WithField("behind", summary.Behind).Warn("Users still behind, date left open for catch-up")
	}
}
