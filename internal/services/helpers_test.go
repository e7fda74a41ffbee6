package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rewards-ledger/internal/config"
	"rewards-ledger/internal/logging"
	"rewards-ledger/internal/models"
	"rewards-ledger/internal/testutil"
)

// monday0 is Monday 2026-03-02 10:00 UTC.
var monday0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setupServices(t *testing.T) (*gorm.DB, *Services) {
	t.Helper()
	db := testutil.NewDB(t)
	return db, New(db, config.DefaultEconomics(), time.Minute, logging.Discard())
}

func createUser(t *testing.T, db *gorm.DB, name string, referrer *models.User, approved bool) *models.User {
	t.Helper()
	user := models.User{Username: name, IsApproved: approved}
	if referrer != nil {
		user.ReferredByID = &referrer.ID
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

// creditAt creates and credits a real deposit worth usd (at the default 280 rate) as of at.
func creditAt(t *testing.T, svc *Services, userID uint, usd string, at time.Time) *models.DepositRequest {
	t.Helper()
	ctx := context.Background()
	pkr := dec(usd).Mul(decimal.NewFromInt(280))

	svc.Deposits.now = func() time.Time { return at }
	dep, err := svc.Deposits.CreateDeposit(ctx, userID, pkr, fmt.Sprintf("TX-%d-%d", userID, at.UnixNano()), "")
	require.NoError(t, err)
	dep, err = svc.Deposits.Credit(ctx, dep.ID)
	require.NoError(t, err)
	return dep
}

func walletOf(t *testing.T, db *gorm.DB, userID uint) models.Wallet {
	t.Helper()
	var w models.Wallet
	require.NoError(t, db.Where("user_id = ?", userID).First(&w).Error)
	return w
}

func entriesOf(t *testing.T, db *gorm.DB, userID uint) []models.LedgerEntry {
	t.Helper()
	w := walletOf(t, db, userID)
	var entries []models.LedgerEntry
	require.NoError(t, db.Where("wallet_id = ?", w.ID).Order("id ASC").Find(&entries).Error)
	return entries
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("expected %s, got %s %v", want, got.String(), msgAndArgs)
	}
}
