package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rewards-ledger/internal/models"
)

func TestPayOnApprovalWalksThreeLevels(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()
	svc.Deposits.now = func() time.Time { return monday0 }

	top := createUser(t, db, "top", nil, true)
	l3 := createUser(t, db, "l3", top, true)
	l2 := createUser(t, db, "l2", l3, true)
	l1 := createUser(t, db, "l1", l2, true)
	joiner := createUser(t, db, "joiner", l1, false)

	result, err := svc.Users.ApproveUser(ctx, joiner.ID)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 3, "only three levels are paid")
	require.NotNil(t, result.SignupDeposit)
	assertDecimal(t, "5.04", result.SignupDeposit.AmountUSD)

	// 5.04 x 5% / 3% / 2%, banker's rounding
	want := map[uint]string{l1.ID: "0.25", l2.ID: "0.15", l3.ID: "0.10"}
	for _, p := range result.Payouts {
		assertDecimal(t, want[p.ReferrerID], p.AmountUSD, "level", p.Level)
		assertDecimal(t, want[p.ReferrerID], walletOf(t, db, p.ReferrerID).Income)
	}

	var topWallets int64
	db.Model(&models.Wallet{}).Where("user_id = ?", top.ID).Count(&topWallets)
	assert.EqualValues(t, 0, topWallets, "fourth ancestor is not paid")

	for i := 0; i < 3; i++ {
		again, err := svc.Users.ApproveUser(ctx, joiner.ID)
		require.NoError(t, err)
		assert.True(t, again.AlreadyApproved)
		assert.Empty(t, again.Payouts)
	}

	var payouts int64
	db.Model(&models.ReferralPayout{}).Where("referee_id = ?", joiner.ID).Count(&payouts)
	assert.EqualValues(t, 3, payouts)
	assertDecimal(t, "0.25", walletOf(t, db, l1.ID).Income)
}

func TestPayOnApprovalFallsBackToConfiguredFee(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	referrer := createUser(t, db, "ref", nil, true)
	joiner := createUser(t, db, "joiner", referrer, false)

	var payouts []models.ReferralPayout
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		payouts, err = svc.Referrals.PayOnApproval(ctx, tx, joiner.ID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assertDecimal(t, "0.25", payouts[0].AmountUSD)
}

func TestPayOnApprovalRejectsBadRate(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()
	svc.Referrals.econ.FXRate = dec("0")

	referrer := createUser(t, db, "ref", nil, true)
	joiner := createUser(t, db, "joiner", referrer, false)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Referrals.PayOnApproval(ctx, tx, joiner.ID)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMilestoneWindowPaysOnceAndResets(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	referrer := createUser(t, db, "referrer", nil, true)
	var directs []*models.User
	for i := 0; i < 11; i++ {
		directs = append(directs, createUser(t, db, fmt.Sprintf("direct-%d", i), referrer, true))
	}

	for i, direct := range directs[:10] {
		creditAt(t, svc, direct.ID, "50", monday0.Add(time.Duration(i)*time.Minute))
	}

	var awards []models.ReferralMilestoneAward
	require.NoError(t, db.Where("referrer_id = ?", referrer.ID).Find(&awards).Error)
	require.Len(t, awards, 1)
	assert.Equal(t, 10, awards[0].Target)
	assertDecimal(t, "500.00", awards[0].SumUSD)
	assertDecimal(t, "5.00", awards[0].AmountUSD)
	assertDecimal(t, "5.00", walletOf(t, db, referrer.ID).Income)

	var progress models.ReferralMilestoneProgress
	require.NoError(t, db.Where("referrer_id = ?", referrer.ID).First(&progress).Error)
	assert.Equal(t, 0, progress.Count)
	assert.Equal(t, 1, progress.StageIndex)
	assert.Equal(t, 1, progress.WindowSeq)
	assert.Empty(t, progress.CountedIDs)

	// a second deposit from a counted direct is not a first investment
	creditAt(t, svc, directs[0].ID, "50", monday0.Add(time.Hour))

	creditAt(t, svc, directs[10].ID, "50", monday0.Add(2*time.Hour))
	progress = models.ReferralMilestoneProgress{}
	require.NoError(t, db.Where("referrer_id = ?", referrer.ID).First(&progress).Error)
	assert.Equal(t, 1, progress.Count, "11th direct opens the next window")
	assertDecimal(t, "50.00", progress.SumUSD)
	assert.True(t, progress.CountedIDs.Contains(directs[10].ID))

	awards = nil
	require.NoError(t, db.Where("referrer_id = ?", referrer.ID).Find(&awards).Error)
	assert.Len(t, awards, 1)

	stats, err := svc.Referrals.GetReferralStats(ctx, referrer.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 11, stats.DirectReferrals)
	assert.Equal(t, 30, stats.NextTarget)
	assertDecimal(t, "5.00", stats.TotalMilestones)
}

func TestRecordFirstInvestmentCountsDirectOnce(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	referrer := createUser(t, db, "referrer", nil, true)
	direct := createUser(t, db, "direct", referrer, true)

	for i := 0; i < 3; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := svc.Referrals.RecordFirstInvestment(ctx, tx, referrer.ID, direct.ID, dec("40"))
			return err
		})
		require.NoError(t, err)
	}

	var progress models.ReferralMilestoneProgress
	require.NoError(t, db.Where("referrer_id = ?", referrer.ID).First(&progress).Error)
	assert.Equal(t, 1, progress.Count)
	assertDecimal(t, "40.00", progress.SumUSD)

	var flags int64
	db.Model(&models.LedgerEntry{}).Where("kind = ?", models.KindMeta).Count(&flags)
	assert.EqualValues(t, 1, flags)
	assertDecimal(t, "0", walletOf(t, db, referrer.ID).Income)
}

func TestRegisterWithReferralCode(t *testing.T) {
	_, svc := setupServices(t)
	ctx := context.Background()

	referrer, err := svc.Users.Register(ctx, "host", "")
	require.NoError(t, err)
	require.NotNil(t, referrer.ReferralCode)
	assert.NotEmpty(t, *referrer.ReferralCode)

	code, err := svc.Referrals.EnsureReferralCode(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, *referrer.ReferralCode, code, "code is stable once assigned")

	guest, err := svc.Users.Register(ctx, "guest", code)
	require.NoError(t, err)
	require.NotNil(t, guest.ReferredByID)
	assert.Equal(t, referrer.ID, *guest.ReferredByID)

	_, err = svc.Users.Register(ctx, "stranger", "nope")
	assert.Error(t, err)
}
