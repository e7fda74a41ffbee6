package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewards-ledger/internal/models"
)

func TestWithdrawalLifecycle(t *testing.T) {
	db, svc := setupServices(t)
	ctx := context.Background()

	user := createUser(t, db, "saver", nil, true)
	creditAt(t, svc, user.ID, "100", monday0)

	_, err := svc.Withdrawals.Create(ctx, user.ID, WithdrawalInput{AmountUSD: dec("0.01")})
	assert.ErrorIs(t, err, ErrInsufficientFunds, "no income yet")

	w, err := svc.Withdrawals.Create(ctx, user.ID, WithdrawalInput{AmountUSD: dec("25.55"), Source: models.SourceAvailable})
	require.NoError(t, err)
	assertDecimal(t, "2.56", w.TaxUSD)
	assertDecimal(t, "22.99", w.NetUSD)
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assertDecimal(t, "54.45", walletOf(t, db, user.ID).Available)

	_, err = svc.Withdrawals.MarkPaid(ctx, w.ID, "BANK-1")
	assert.ErrorIs(t, err, ErrInvalidTransition, "must be approved first")

	w, err = svc.Withdrawals.Approve(ctx, w.ID)
	require.NoError(t, err)
	w, err = svc.Withdrawals.MarkPaid(ctx, w.ID, "BANK-1")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPaid, w.Status)
	assert.Equal(t, "BANK-1", w.TxID)

	_, err = svc.Withdrawals.Reject(ctx, w.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "paid withdrawals cannot be refunded")

	second, err := svc.Withdrawals.Create(ctx, user.ID, WithdrawalInput{AmountUSD: dec("4.45"), Source: models.SourceAvailable})
	require.NoError(t, err)
	assertDecimal(t, "50.00", walletOf(t, db, user.ID).Available)

	_, err = svc.Withdrawals.Reject(ctx, second.ID)
	require.NoError(t, err)
	assertDecimal(t, "54.45", walletOf(t, db, user.ID).Available)

	_, err = svc.Withdrawals.Reject(ctx, second.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assertDecimal(t, "54.45", walletOf(t, db, user.ID).Available, "refund posts once")

	list, err := svc.Withdrawals.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestWithdrawalRejectsUnknownSource(t *testing.T) {
	db, svc := setupServices(t)
	user := createUser(t, db, "odd", nil, true)

	_, err := svc.Withdrawals.Create(context.Background(), user.ID, WithdrawalInput{AmountUSD: dec("1"), Source: "HOLD"})
	assert.Error(t, err)
	_, err = svc.Withdrawals.Create(context.Background(), user.ID, WithdrawalInput{AmountUSD: dec("-1")})
	assert.Error(t, err)
}
