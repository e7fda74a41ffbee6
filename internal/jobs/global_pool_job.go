package jobs

import (
	"context"
	"time"

	"rewards-ledger/internal/config"
	"rewards-ledger/internal/services"

	"github.com/sirupsen/logrus"
)

// PoolRunner processes the weekly pool for the week containing now.
type PoolRunner interface {
	Run(ctx context.Context, now time.Time, force bool) (*services.PoolSummary, error)
}

// GlobalPoolJob runs the weekly collect and distribute cycle.
type GlobalPoolJob struct {
	pool     PoolRunner
	interval time.Duration
	hour     int
	loc      *time.Location
	log      *logrus.Entry
	stopChan chan struct{}
}

func NewGlobalPoolJob(pool PoolRunner, cfg config.JobsConfig, loc *time.Location, log *logrus.Entry) *GlobalPoolJob {
	return &GlobalPoolJob{
		pool:     pool,
		interval: cfg.CheckInterval,
		hour:     cfg.PoolHour,
		loc:      loc,
		log:      log.WithField("job", "global_pool"),
		stopChan: make(chan struct{}),
	}
}

// Start checks once immediately and then on every interval until Stop.
func (j *GlobalPoolJob) Start() {
	j.log.WithField("interval", j.interval.String()).Info("Starting global pool job")

	j.Check(context.Background(), time.Now())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Check(context.Background(), time.Now())
		case <-j.stopChan:
			j.log.Info("Stopping global pool job")
			return
		}
	}
}

func (j *GlobalPoolJob) Stop() {
	close(j.stopChan)
}

// Due is false only on Monday before the pool hour, while that day's signups
// are still arriving. A week missed entirely is picked up on any later day.
func (j *GlobalPoolJob) Due(now time.Time) bool {
	local := now.In(j.loc)
	return local.Weekday() != time.Monday || local.Hour() >= j.hour
}

func (j *GlobalPoolJob) RunOnce(ctx context.Context, now time.Time) (*services.PoolSummary, error) {
	if !j.Due(now) {
		return nil, nil
	}
	summary, err := j.pool.Run(ctx, now, false)
	if services.IsSkip(err) {
		j.log.WithError(err).Debug("Global pool skipped")
		return nil, nil
	}
	return summary, err
}

func (j *GlobalPoolJob) Check(ctx context.Context, now time.Time) {
	summary, err := j.RunOnce(ctx, now)
	if err != nil {
		j.log.WithError(err).Error("Global pool run failed")
		return
	}
	if summary != nil {
		j.log.WithFields(logrus.Fields{
			"monday":     summary.Monday,
			"collected":  summary.CollectedUSD.String(),
			"recipients": summary.Recipients,
			"retained":   summary.RetainedUSD.String(),
		}).Info("Global pool processed")
	}
}
