package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rewards-ledger/internal/models"
	"rewards-ledger/internal/testutil"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewRepository(db), mock
}

func TestClaimJobStateUsesNowait(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "name", "last_processed_date"}).
		AddRow(1, models.JobDailyEarnings, "2026-03-01")
	mock.ExpectQuery(`SELECT \* FROM "job_states" WHERE name = \$1 .*FOR UPDATE NOWAIT`).
		WillReturnRows(rows)

	state, err := repo.ClaimJobState(context.Background(), models.JobDailyEarnings)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", state.LastProcessedDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobStateMapsLockNotAvailable(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FOR UPDATE NOWAIT`).
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "could not obtain lock on row"})

	_, err := repo.ClaimJobState(context.Background(), models.JobDailyEarnings)
	assert.ErrorIs(t, err, ErrLockNotAvailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobStatePassesOtherErrors(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FOR UPDATE NOWAIT`).
		WillReturnError(&pgconn.PgError{Code: "40001"})

	_, err := repo.ClaimJobState(context.Background(), models.JobDailyEarnings)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockNotAvailable)
}

func TestLockWalletCreatesThenLocks(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "wallets" .* ON CONFLICT \("user_id"\) DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM "wallets" WHERE user_id = \$1 .*FOR UPDATE$`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "available", "hold", "income"}).
			AddRow(7, 3, "1.00", "0.25", "0.50"))

	wallet, err := repo.LockWallet(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, wallet.Income.Equal(decimal.RequireFromString("0.50")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAncestorsStopsAtDepthAndCycles(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	a := models.User{Username: "a"}
	require.NoError(t, db.Create(&a).Error)
	b := models.User{Username: "b", ReferredByID: &a.ID}
	require.NoError(t, db.Create(&b).Error)
	c := models.User{Username: "c", ReferredByID: &b.ID}
	require.NoError(t, db.Create(&c).Error)
	// a -> c closes a loop
	require.NoError(t, db.Model(&a).Update("referred_by_id", c.ID).Error)

	chain, err := repo.Ancestors(ctx, c.ID, 3)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, b.ID, chain[0].ID)
	assert.Equal(t, a.ID, chain[1].ID)

	chain, err = repo.Ancestors(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestFirstRealDepositIgnoresSignup(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := models.User{Username: "u", IsApproved: true}
	require.NoError(t, db.Create(&user).Error)

	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mk := func(txID string, status models.DepositStatus, at time.Time) {
		processed := at
		require.NoError(t, db.Create(&models.DepositRequest{
			UserID: user.ID, TxID: txID, Status: status, ProcessedAt: &processed,
			AmountPKR: decimal.NewFromInt(1), AmountUSD: decimal.NewFromInt(1), FXRate: decimal.NewFromInt(280),
		}).Error)
	}
	mk(models.SignupTxID, models.DepositCredited, t0.Add(-48*time.Hour))
	mk("LATE", models.DepositCredited, t0.Add(time.Hour))
	mk("PENDING", models.DepositPending, t0.Add(-24*time.Hour))
	mk("EARLY", models.DepositCredited, t0)

	dep, err := repo.FirstRealDeposit(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.Equal(t, "EARLY", dep.TxID)

	ids, err := repo.AccrualCandidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{user.ID}, ids)

	count, err := repo.CountCreditedRealDeposits(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestInsertIgnoreReportsDuplicates(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	row := func() *models.PassiveEarning {
		return &models.PassiveEarning{UserID: 1, DayIndex: 1, Percent: decimal.RequireFromString("0.004"), AmountUSD: decimal.RequireFromString("0.32")}
	}
	inserted, err := repo.InsertIgnore(ctx, row())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertIgnore(ctx, row())
	require.NoError(t, err)
	assert.False(t, inserted)
}
