package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rewards-ledger/internal/models"
)

func seedPool(t *testing.T, db *gorm.DB, amount string) {
	t.Helper()
	require.NoError(t, db.Model(&models.GlobalPoolState{}).
		Where("id = ?", models.GlobalPoolStateID).
		Update("current_pool_usd", dec(amount)).Error)
}

func poolState(t *testing.T, db *gorm.DB) models.GlobalPoolState {
	t.Helper()
	var s models.GlobalPoolState
	require.NoError(t, db.First(&s, models.GlobalPoolStateID).Error)
	return s
}

func createWalletHolders(t *testing.T, db *gorm.DB, n int) []*models.User {
	t.Helper()
	var users []*models.User
	for i := 0; i < n; i++ {
		u := createUser(t, db, fmt.Sprintf("holder-%d", i), nil, true)
		require.NoError(t, db.Create(&models.Wallet{
			UserID: u.ID, Available: decimal.Zero, Hold: decimal.Zero, Income: decimal.Zero,
		}).Error)
		users = append(users, u)
	}
	return users
}

func TestMostRecentMonday(t *testing.T) {
	cases := map[string]string{
		"2026-03-02T00:00:00Z": "2026-03-02",
		"2026-03-02T23:59:00Z": "2026-03-02",
		"2026-03-04T12:00:00Z": "2026-03-02",
		"2026-03-08T23:00:00Z": "2026-03-02",
		"2026-03-09T01:00:00Z": "2026-03-09",
	}
	for in, want := range cases {
		ts, err := time.Parse(time.RFC3339, in)
		require.NoError(t, err)
		assert.Equal(t, want, MostRecentMonday(ts, time.UTC).Format(dateLayout), in)
	}
}

func TestDistributeSplitsPoolEvenly(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	users := createWalletHolders(t, db, 4)
	createUser(t, db, "unapproved", nil, false)
	seedPool(t, db, "10.00")

	summary, err := svc.Pool.ProcessGlobalPool(ctx, monday0, false, true)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Recipients)
	assertDecimal(t, "2.50", summary.PerUserUSD)
	assertDecimal(t, "10.00", summary.PerUserUSD.Mul(decimal.NewFromInt(4)))

	for _, u := range users {
		var row models.GlobalPoolDistribution
		require.NoError(t, db.Where("user_id = ?", u.ID).First(&row).Error)
		assertDecimal(t, "2.50", row.GrossUSD)
		assertDecimal(t, "2.00", row.IncomeUSD)
		assertDecimal(t, "0.50", row.HoldUSD)
		assert.True(t, row.GrossUSD.Equal(row.IncomeUSD.Add(row.HoldUSD)))

		w := walletOf(t, db, u.ID)
		assertDecimal(t, "2.00", w.Income)
		assertDecimal(t, "0.50", w.Hold)
	}

	state := poolState(t, db)
	assertDecimal(t, "0", state.CurrentPoolUSD)
	assert.Equal(t, "2026-03-02", state.LastDistributionDate)
	assertDecimal(t, "10.00", state.TotalDistributed)

	// rerun the same Monday
	seedPool(t, db, "4.00")
	again, err := svc.Pool.ProcessGlobalPool(ctx, monday0.Add(5*time.Hour), false, true)
	require.NoError(t, err)
	assert.True(t, again.DistributionSkipped)
	assertDecimal(t, "4.00", poolState(t, db).CurrentPoolUSD)

	var rows int64
	db.Model(&models.GlobalPoolDistribution{}).Count(&rows)
	assert.EqualValues(t, 4, rows)
}

func TestDistributeRetainsRoundingRemainder(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	createWalletHolders(t, db, 3)
	seedPool(t, db, "10.00")

	summary, err := svc.Pool.ProcessGlobalPool(ctx, monday0, false, true)
	require.NoError(t, err)
	assertDecimal(t, "3.33", summary.PerUserUSD)
	assertDecimal(t, "9.99", summary.DistributedUSD)
	assertDecimal(t, "0.01", summary.RetainedUSD)
	assert.True(t, summary.DistributedUSD.Add(summary.RetainedUSD).Equal(dec("10.00")))

	state := poolState(t, db)
	assertDecimal(t, "0", state.CurrentPoolUSD)
	assertDecimal(t, "0.01", state.TotalRetained)
}

func TestDistributeWithoutRecipientsCarriesPool(t *testing.T) {
	db, svc := setupServices(t)
	seedPool(t, db, "3.00")

	summary, err := svc.Pool.ProcessGlobalPool(context.Background(), monday0, false, true)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Recipients)
	assertDecimal(t, "3.00", poolState(t, db).CurrentPoolUSD)
}

func TestDistributeEmptyPoolLeavesWeekOpen(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	createWalletHolders(t, db, 2)

	empty, err := svc.Pool.ProcessGlobalPool(ctx, monday0, false, true)
	require.NoError(t, err)
	assert.True(t, empty.DistributionSkipped)
	assert.Equal(t, 0, empty.Recipients)
	assert.Empty(t, poolState(t, db).LastDistributionDate)

	seedPool(t, db, "10.00")
	paid, err := svc.Pool.ProcessGlobalPool(ctx, monday0.Add(3*time.Hour), false, true)
	require.NoError(t, err)
	assert.False(t, paid.DistributionSkipped)
	assert.Equal(t, 2, paid.Recipients)
	assertDecimal(t, "5.00", paid.PerUserUSD)

	state := poolState(t, db)
	assertDecimal(t, "0", state.CurrentPoolUSD)
	assert.Equal(t, "2026-03-02", state.LastDistributionDate)
}

func TestCollectOnlyMondaySignups(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	approve := func(name string, at time.Time) *models.User {
		u := createUser(t, db, name, nil, false)
		svc.Deposits.now = func() time.Time { return at }
		_, err := svc.Users.ApproveUser(ctx, u.ID)
		require.NoError(t, err)
		return u
	}
	approve("sunday", monday0.Add(-12*time.Hour))
	approve("monday-a", monday0)
	approve("monday-b", monday0.Add(6*time.Hour))

	summary, err := svc.Pool.ProcessGlobalPool(ctx, monday0, true, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Collected)
	// 5.04 x 0.5% = 0.0252 -> 0.03 each
	assertDecimal(t, "0.06", summary.CollectedUSD)
	assertDecimal(t, "0.06", poolState(t, db).CurrentPoolUSD)

	again, err := svc.Pool.ProcessGlobalPool(ctx, monday0, true, false)
	require.NoError(t, err)
	assert.True(t, again.CollectionSkipped)
	assertDecimal(t, "0.06", poolState(t, db).CurrentPoolUSD)

	dist, err := svc.Pool.ProcessGlobalPool(ctx, monday0, false, true)
	require.NoError(t, err)
	assert.Equal(t, 3, dist.Recipients)
	assertDecimal(t, "0.02", dist.PerUserUSD)
	assert.True(t, dist.DistributedUSD.Add(dist.RetainedUSD).Equal(dec("0.06")))
}

func TestPoolRunUsesJobMarker(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	createWalletHolders(t, db, 2)
	seedPool(t, db, "1.00")

	wednesday := monday0.AddDate(0, 0, 2)
	summary, err := svc.Pool.Run(ctx, wednesday, false)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", summary.Monday)
	assert.Equal(t, 2, summary.Recipients)

	_, err = svc.Pool.Run(ctx, wednesday.Add(time.Hour), false)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}
