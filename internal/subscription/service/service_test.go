package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subgate/internal/btzpay"
	"subgate/internal/plan"
	"subgate/internal/subscription"
)

func TestSettlePaymentIsGuardedByTransactionID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	week := plan.Plan{ID: "7d", Duration: 7 * plan.Day, PriceMinor: 12000}

	_, err := env.subs.SetPendingTransaction(ctx, userID, subscription.PendingTransaction{
		PlanID: "7d", GatewayTransactionID: "T9", LastKnownStatus: btzpay.StatusPending,
	})
	require.NoError(t, err)

	_, err = env.subs.SettlePayment(ctx, userID, "OTHER", week)
	assert.ErrorIs(t, err, subscription.ErrNoPendingTransaction)

	rec, err := env.subs.SettlePayment(ctx, userID, "T9", week)
	require.NoError(t, err)
	assert.Nil(t, rec.Pending)
	assert.Equal(t, env.clock.Now().Add(7*plan.Day), rec.ActiveUntil)

	_, err = env.subs.SettlePayment(ctx, userID, "T9", week)
	assert.ErrorIs(t, err, subscription.ErrNoPendingTransaction)
}

func TestApplySuccessfulPaymentStacks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	week := plan.Plan{ID: "7d", Duration: 7 * plan.Day, PriceMinor: 12000}

	_, err := env.subs.ApplySuccessfulPayment(ctx, userID, week)
	require.NoError(t, err)
	rec, err := env.subs.ApplySuccessfulPayment(ctx, userID, week)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(14*plan.Day), rec.ActiveUntil)
}

func TestResolvePendingAndClear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.subs.SetPendingTransaction(ctx, userID, subscription.PendingTransaction{GatewayTransactionID: "T1"})
	require.NoError(t, err)

	_, err = env.subs.ResolvePending(ctx, userID, "T2")
	assert.ErrorIs(t, err, subscription.ErrNoPendingTransaction)

	rec, err := env.subs.ClearPendingTransaction(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, rec.Pending)
}

func TestRecordPendingStatusIsGuarded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.subs.RecordPendingStatus(ctx, userID, "T1", btzpay.StatusUnknown)
	assert.ErrorIs(t, err, subscription.ErrNoPendingTransaction)

	_, err = env.subs.SetPendingTransaction(ctx, userID, subscription.PendingTransaction{
		GatewayTransactionID: "T1", LastKnownStatus: btzpay.StatusPending,
	})
	require.NoError(t, err)

	_, err = env.subs.RecordPendingStatus(ctx, userID, "T2", btzpay.StatusUnknown)
	assert.ErrorIs(t, err, subscription.ErrNoPendingTransaction)

	rec, err := env.subs.RecordPendingStatus(ctx, userID, "T1", btzpay.StatusUnknown)
	require.NoError(t, err)
	assert.Equal(t, btzpay.StatusUnknown, rec.Pending.LastKnownStatus)
	assert.True(t, rec.Pending.Unresolved())
}
