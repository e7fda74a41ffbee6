package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewards-ledger/internal/models"
)

func countPassive(t *testing.T, svc *Services, userID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, svc.Ledger.db.Model(&models.PassiveEarning{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func TestAccrualFirstDayScenario(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	user := createUser(t, db, "alice", nil, true)
	t0 := monday0
	creditAt(t, svc, user.ID, "100", t0)

	summary, err := svc.Accrual.RunAccrualTick(ctx, t0, AccrualOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.DaysPosted)
	assert.EqualValues(t, 0, countPassive(t, svc, user.ID), "no accrual before a full day has elapsed")

	t1 := t0.Add(25 * time.Hour)
	summary, err = svc.Accrual.RunAccrualTick(ctx, t1, AccrualOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.DaysPosted)

	var rec models.PassiveEarning
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&rec).Error)
	assert.Equal(t, 1, rec.DayIndex)
	assertDecimal(t, "0.004", rec.Percent)
	assertDecimal(t, "0.32", rec.AmountUSD)

	_, err = svc.Accrual.RunAccrualTick(ctx, t1, AccrualOptions{})
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	_, err = svc.Accrual.RunAccrualTick(ctx, t1.Add(time.Hour), AccrualOptions{Force: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, countPassive(t, svc, user.ID), "same-day rerun must not double accrue")

	w := walletOf(t, db, user.ID)
	assertDecimal(t, "0.32", w.Income)
	assertDecimal(t, "80.00", w.Available)
	assertDecimal(t, "20.08", w.Hold)
}

func TestAccrualTickContinuesPastFailingUser(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	a := createUser(t, db, "acc-a", nil, true)
	b := createUser(t, db, "acc-b", nil, true)
	c := createUser(t, db, "acc-c", nil, true)
	for _, u := range []*models.User{a, b, c} {
		creditAt(t, svc, u.ID, "100", monday0)
	}

	require.NoError(t, db.Exec(fmt.Sprintf(`CREATE TRIGGER fail_passive_b BEFORE INSERT ON passive_earnings
		WHEN NEW.user_id = %d BEGIN SELECT RAISE(ABORT, 'forced failure'); END`, b.ID)).Error)

	summary, err := svc.Accrual.RunAccrualTick(ctx, monday0.Add(25*time.Hour), AccrualOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Errored)

	assert.EqualValues(t, 1, countPassive(t, svc, a.ID))
	assert.EqualValues(t, 0, countPassive(t, svc, b.ID))
	assert.EqualValues(t, 1, countPassive(t, svc, c.ID))
	assertDecimal(t, "0", walletOf(t, db, b.ID).Income)

	state, err := svc.Guard.State(ctx, models.JobDailyEarnings)
	require.NoError(t, err)
	assert.Empty(t, state.LastProcessedDate, "a failed user keeps the day open")
}

func TestAccrueDayRespectsGate(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	user := createUser(t, db, "bob", nil, true)
	creditAt(t, svc, user.ID, "100", monday0)

	rec, err := svc.Accrual.AccrueDay(ctx, user.ID, monday0.Add(23*time.Hour+59*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = svc.Accrual.AccrueDay(ctx, user.ID, monday0.Add(24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.DayIndex)

	rec, err = svc.Accrual.AccrueDay(ctx, user.ID, monday0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, rec, "day 2 is not due yet")
}

func TestAccrueDaySkipsIneligibleUsers(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	pending := createUser(t, db, "pending", nil, false)
	creditAt(t, svc, pending.ID, "100", monday0)
	_, err := svc.Accrual.AccrueDay(ctx, pending.ID, monday0.AddDate(0, 0, 5))
	assert.ErrorIs(t, err, ErrNotEligible)

	signupOnly := createUser(t, db, "signup-only", nil, false)
	svc.Deposits.now = func() time.Time { return monday0 }
	_, err = svc.Users.ApproveUser(ctx, signupOnly.ID)
	require.NoError(t, err)
	_, err = svc.Accrual.AccrueDay(ctx, signupOnly.ID, monday0.AddDate(0, 0, 5))
	assert.ErrorIs(t, err, ErrNotEligible, "the signup payment never starts accrual")
}

func TestAccrualCatchesUpOneDayPerTrigger(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	user := createUser(t, db, "carol", nil, true)
	creditAt(t, svc, user.ID, "100", monday0)
	now := monday0.Add(3*24*time.Hour + time.Hour)

	for want := 1; want <= 3; want++ {
		summary, err := svc.Accrual.RunAccrualTick(ctx, now, AccrualOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.DaysPosted)
		assert.EqualValues(t, want, countPassive(t, svc, user.ID))
	}

	_, err := svc.Accrual.RunAccrualTick(ctx, now, AccrualOptions{})
	assert.ErrorIs(t, err, ErrAlreadyProcessed, "date is stamped once nobody is behind")
}

func TestBackfillStopsAtHorizon(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	user := createUser(t, db, "dave", nil, true)
	creditAt(t, svc, user.ID, "100", monday0)
	now := monday0.AddDate(0, 0, 120)

	dry, err := svc.Accrual.Backfill(ctx, now, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 90, dry.DaysPosted)
	assertDecimal(t, "69.60", dry.AmountUSD)
	assert.EqualValues(t, 0, countPassive(t, svc, user.ID), "dry run writes nothing")

	summary, err := svc.Accrual.Backfill(ctx, now, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 90, summary.DaysPosted)
	assert.Equal(t, 0, summary.Behind)

	var maxDay int
	require.NoError(t, db.Model(&models.PassiveEarning{}).Where("user_id = ?", user.ID).
		Select("MAX(day_index)").Scan(&maxDay).Error)
	assert.Equal(t, 90, maxDay)

	again, err := svc.Accrual.Backfill(ctx, now.Add(time.Hour), 0, false)
	require.NoError(t, err)
	assert.Equal(t, 0, again.DaysPosted)

	assertDecimal(t, "69.60", walletOf(t, db, user.ID).Income)
}

func TestAccrualStatus(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	user := createUser(t, db, "erin", nil, true)
	creditAt(t, svc, user.ID, "50", monday0)
	now := monday0.AddDate(0, 0, 4)

	_, err := svc.Accrual.AccrueDay(ctx, user.ID, now)
	require.NoError(t, err)

	statuses, err := svc.Accrual.Status(ctx, now)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, 1, statuses[0].LastDay)
	assert.Equal(t, 4, statuses[0].ExpectedDay)
	assert.Equal(t, 3, statuses[0].Behind)
}

func TestAllowedDays(t *testing.T) {
	base := monday0
	assert.Equal(t, 0, AllowedDays(base, base.Add(-time.Hour), 90))
	assert.Equal(t, 0, AllowedDays(base, base.Add(23*time.Hour), 90))
	assert.Equal(t, 1, AllowedDays(base, base.Add(24*time.Hour), 90))
	assert.Equal(t, 90, AllowedDays(base, base.AddDate(0, 0, 365), 90))
}
