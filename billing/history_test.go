package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-billing/billing"
)

func TestReplayHistory_SumsAndChain(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 1_000_000)
	env.daysAfterDue(b, 10)
	for _, amt := range []int64{100_000, 250_000, 50_000} {
		_, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(amt)})
		require.NoError(t, err)
	}

	history, err := env.proc.History(env.ctx, b.ID)
	require.NoError(t, err)
	r, err := billing.ReplayHistory(history)
	require.NoError(t, err)

	assert.Equal(t, 3, r.Payments)
	assertMoney(t, 400_000, r.Paid)
	assertMoney(t, 4_000, r.Fees)
	assert.True(t, r.Fees.Equal(env.bill(t, b.ID).PartialPaymentFeesCollected))
	require.NoError(t, env.proc.Verify(env.ctx, b.ID))
}

func TestReplayHistory_DetectsBrokenChain(t *testing.T) {
	entries := []billing.PaymentHistoryEntry{
		{PaymentNumber: 1, PaymentAmount: money(100), PaidBefore: money(0), PaidAfter: money(100),
			OutstandingBefore: money(1000), OutstandingAfter: money(900)},
		{PaymentNumber: 3, PaymentAmount: money(100), PaidBefore: money(100), PaidAfter: money(200),
			OutstandingBefore: money(900), OutstandingAfter: money(800)},
	}
	_, err := billing.ReplayHistory(entries)
	assert.ErrorIs(t, err, billing.ErrLedgerMismatch)

	entries[1].PaymentNumber = 2
	entries[1].PaidBefore = money(50)
	_, err = billing.ReplayHistory(entries)
	assert.ErrorIs(t, err, billing.ErrLedgerMismatch)
}

func TestVerifyBill_PaidMismatch(t *testing.T) {
	bill := billing.Bill{ID: "b", TotalAmount: money(1000), PaidAmount: money(300), OutstandingAmount: money(700)}
	entries := []billing.PaymentHistoryEntry{
		{PaymentNumber: 1, PaymentAmount: money(200), PaidBefore: money(0), PaidAfter: money(200),
			OutstandingBefore: money(1000), OutstandingAfter: money(800)},
	}
	assert.ErrorIs(t, billing.VerifyBill(bill, entries), billing.ErrLedgerMismatch)
}

func TestSnapshot_AggregatesBillLinesPaymentsAndPenalty(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.On("Notify", anyCtx, mock.Anything).Return(nil)
	b := env.customBill(t, 1_000_000)
	_, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(400_000)})
	require.NoError(t, err)
	now := env.daysAfterDue(b, 10)
	penalty, err := env.life.CreatePenalty(env.ctx, b.ID, now)
	require.NoError(t, err)

	snap, err := billing.Snapshot(env.ctx, env.store, env.calc, b.ID, now)
	require.NoError(t, err)

	assert.Equal(t, b.ID, snap.Bill.ID)
	assert.Len(t, snap.Items, 1)
	assert.Len(t, snap.Payments, 1)
	require.NotNil(t, snap.Penalty)
	assert.Equal(t, penalty.ID, snap.Penalty.ID)
	assertMoney(t, 30_000, snap.Interest)

	penSnap, err := billing.Snapshot(env.ctx, env.store, env.calc, penalty.ID, now)
	require.NoError(t, err)
	assert.Nil(t, penSnap.Penalty)
}
