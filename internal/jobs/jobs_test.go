package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewards-ledger/internal/config"
	"rewards-ledger/internal/logging"
	"rewards-ledger/internal/services"
	"rewards-ledger/internal/testutil"
)

var jobsCfg = config.JobsConfig{CheckInterval: time.Minute, DailyHour: 6, PoolHour: 23}

type fakeAccrual struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAccrual) RunAccrualTick(ctx context.Context, now time.Time, opts services.AccrualOptions) (*services.TickSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &services.TickSummary{Date: now.Format("2006-01-02")}, nil
}

type fakePool struct {
	calls int
	err   error
}

func (f *fakePool) Run(ctx context.Context, now time.Time, force bool) (*services.PoolSummary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &services.PoolSummary{Monday: now.Format("2006-01-02")}, nil
}

type countingChecker struct {
	mu    sync.Mutex
	calls int
}

func (c *countingChecker) Check(ctx context.Context, now time.Time) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingChecker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestDailyEarningsJobWaitsForHour(t *testing.T) {
	fake := &fakeAccrual{}
	job := NewDailyEarningsJob(fake, jobsCfg, time.UTC, logging.Discard())
	ctx := context.Background()

	summary, err := job.RunOnce(ctx, time.Date(2026, 3, 3, 5, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.Equal(t, 0, fake.calls)

	summary, err = job.RunOnce(ctx, time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 1, fake.calls)
}

func TestDailyEarningsJobHourUsesBusinessZone(t *testing.T) {
	karachi := time.FixedZone("PKT", 5*3600)
	job := NewDailyEarningsJob(&fakeAccrual{}, jobsCfg, karachi, logging.Discard())

	// 01:30 UTC is 06:30 in UTC+5
	assert.True(t, job.Due(time.Date(2026, 3, 3, 1, 30, 0, 0, time.UTC)))
	assert.False(t, job.Due(time.Date(2026, 3, 3, 0, 30, 0, 0, time.UTC)))
}

func TestDailyEarningsJobTreatsSkipsAsQuiet(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

	for _, skip := range []error{services.ErrJobBusy, services.ErrAlreadyProcessed} {
		job := NewDailyEarningsJob(&fakeAccrual{err: skip}, jobsCfg, time.UTC, logging.Discard())
		summary, err := job.RunOnce(ctx, at)
		assert.NoError(t, err)
		assert.Nil(t, summary)
	}

	boom := errors.New("boom")
	job := NewDailyEarningsJob(&fakeAccrual{err: boom}, jobsCfg, time.UTC, logging.Discard())
	_, err := job.RunOnce(ctx, at)
	assert.ErrorIs(t, err, boom)
}

func TestDailyEarningsJobAgainstDatabase(t *testing.T) {
	db := testutil.NewDB(t)
	svc := services.New(db, config.DefaultEconomics(), time.Minute, logging.Discard())
	job := NewDailyEarningsJob(svc.Accrual, jobsCfg, time.UTC, logging.Discard())
	ctx := context.Background()
	at := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

	summary, err := job.RunOnce(ctx, at)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "2026-03-03", summary.Date)

	summary, err = job.RunOnce(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, summary, "second trigger on the same date is a quiet skip")

	state, err := svc.Guard.State(ctx, "daily_earnings")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-03", state.LastProcessedDate)
}

func TestGlobalPoolJobDue(t *testing.T) {
	job := NewGlobalPoolJob(&fakePool{}, jobsCfg, time.UTC, logging.Discard())

	assert.False(t, job.Due(time.Date(2026, 3, 2, 22, 59, 0, 0, time.UTC)), "Monday before the pool hour")
	assert.True(t, job.Due(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)))
	assert.True(t, job.Due(time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC)), "a missed Monday is caught up later in the week")
}

func TestGlobalPoolJobRunOnce(t *testing.T) {
	ctx := context.Background()
	fake := &fakePool{}
	job := NewGlobalPoolJob(fake, jobsCfg, time.UTC, logging.Discard())

	summary, err := job.RunOnce(ctx, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.Equal(t, 0, fake.calls)

	summary, err = job.RunOnce(ctx, time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 1, fake.calls)

	job = NewGlobalPoolJob(&fakePool{err: services.ErrAlreadyProcessed}, jobsCfg, time.UTC, logging.Discard())
	summary, err = job.RunOnce(ctx, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.Nil(t, summary)
}

func TestRequestTriggerThrottles(t *testing.T) {
	checker := &countingChecker{}
	trigger := NewRequestTrigger(5*time.Minute, checker)
	clock := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	trigger.now = func() time.Time { return clock }

	assert.True(t, trigger.Poke())
	assert.False(t, trigger.Poke())
	clock = clock.Add(4 * time.Minute)
	assert.False(t, trigger.Poke())
	clock = clock.Add(time.Minute)
	assert.True(t, trigger.Poke())

	trigger.Wait()
	assert.Equal(t, 2, checker.count())
}

func TestRequestTriggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := &countingChecker{}
	trigger := NewRequestTrigger(time.Hour, checker)

	r := gin.New()
	r.Use(trigger.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	trigger.Wait()
	assert.Equal(t, 1, checker.count())
}
