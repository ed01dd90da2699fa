package billing_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
)

// =============================================================================
// PARTIAL PAYMENTS
// =============================================================================

func TestApplyPayment_OverduePartialPayment(t *testing.T) {
	// GIVEN: Bill total 1,000,000 due D, monthly penalty rate 5%
	// WHEN: 400,000 is paid on D+10
	// THEN: interest 50,000 on the full outstanding, paid 400,000,
	//       outstanding 600,000, partially paid
	env := newTestEnv(t)
	b := env.customBill(t, 1_000_000)
	env.daysAfterDue(b, 10)

	res, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{
		BillID: b.ID, Amount: money(400_000), Method: billing.MethodBankTransfer,
	})
	require.NoError(t, err)

	assertMoney(t, 50_000, res.Entry.OverdueInterest)
	assertMoney(t, 4_000, res.Entry.PartialPaymentFee)
	assertMoney(t, 400_000, res.Entry.PaymentAmount)
	assertMoney(t, 400_000, res.Bill.PaidAmount)
	assertMoney(t, 600_000, res.Bill.OutstandingAmount)
	assertMoney(t, 600_000, res.Outstanding)
	assertMoney(t, 4_000, res.Bill.PartialPaymentFeesCollected)
	assert.True(t, res.Bill.IsPartiallyPaid)
	assert.False(t, res.Bill.Status)
	assert.False(t, res.Settled)
	assert.Nil(t, res.Bill.PaidDate)
	require.NotNil(t, res.Bill.LastPaymentDate)
	assert.Equal(t, env.clock.Now(), *res.Bill.LastPaymentDate)

	// Entry snapshots
	assert.Equal(t, 1, res.Entry.PaymentNumber)
	assertMoney(t, 1_000_000, res.Entry.OutstandingBefore)
	assertMoney(t, 600_000, res.Entry.OutstandingAfter)
	assertMoney(t, 0, res.Entry.PaidBefore)
	assertMoney(t, 400_000, res.Entry.PaidAfter)
	assert.True(t, res.Entry.IsPartialPayment)
	assert.False(t, res.Entry.IsFinalPayment)

	// Persisted
	stored := env.bill(t, b.ID)
	assertMoney(t, 400_000, stored.PaidAmount)
	assert.Equal(t, b.Version+1, stored.Version)
}

func TestApplyPayment_FullPaymentSettles(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 1_000_000)

	_, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(300_000)})
	require.NoError(t, err)
	res, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(700_000)})
	require.NoError(t, err)

	assert.True(t, res.Settled)
	assert.True(t, res.Bill.Status)
	assert.False(t, res.Bill.IsPartiallyPaid)
	assertMoney(t, 0, res.Bill.OutstandingAmount)
	require.NotNil(t, res.Bill.PaidDate)
	assert.Equal(t, march1, *res.Bill.PaidDate)
	assert.Equal(t, 2, res.Entry.PaymentNumber)
	assert.True(t, res.Entry.IsFinalPayment)
	assert.False(t, res.Entry.IsPartialPayment)
}

func TestApplyPayment_NotOverdue_NoInterestOrFee(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 1_000_000)
	env.clock.Set(b.DueDate)

	res, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(400_000)})
	require.NoError(t, err)

	assertMoney(t, 0, res.Entry.OverdueInterest)
	assertMoney(t, 0, res.Entry.PartialPaymentFee)
}

func TestApplyPayment_DueDayCountsAsOnTime(t *testing.T) {
	// GIVEN: a bill generated at 10:00, so due at 10:00 seven days later
	// WHEN: paying part of it at 14:00 on the due day, then the next morning
	// THEN: no interest or fee on the due day; both apply from the day after
	env := newTestEnv(t)
	env.clock.Set(march1.Add(10 * time.Hour))
	b := env.customBill(t, 1_000_000)
	require.Equal(t, 10, b.DueDate.Hour())

	env.clock.Set(b.DueDate.Add(4 * time.Hour))
	res, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(400_000)})
	require.NoError(t, err)
	assert.Equal(t, 0, env.calc.OverdueDays(b.DueDate, env.clock.Now()))
	assertMoney(t, 0, res.Entry.OverdueInterest)
	assertMoney(t, 0, res.Entry.PartialPaymentFee)

	env.clock.Set(generic.StartOfDay(b.DueDate).AddDate(0, 0, 1).Add(time.Hour))
	res, err = env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(100_000)})
	require.NoError(t, err)
	assertMoney(t, 30_000, res.Entry.OverdueInterest, "600,000 × 5%")
	assertMoney(t, 1_000, res.Entry.PartialPaymentFee, "1% of 100,000")
}

func TestApplyPayment_OverdueFinalPayment_NoFee(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 1_000_000)
	env.daysAfterDue(b, 40)

	res, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(1_000_000)})
	require.NoError(t, err)

	assertMoney(t, 80_000, res.Entry.OverdueInterest, "interest still recorded")
	assertMoney(t, 0, res.Entry.PartialPaymentFee, "settling payment carries no partial fee")
	assertMoney(t, 1_000_000, res.Bill.PaidAmount, "interest never enters principal")
}

func TestApplyPayment_RejectsNonPositive(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 1_000_000)

	for _, amount := range []int64{0, -5} {
		_, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(amount)})
		var invalid *billing.InvalidPaymentAmountError
		assert.ErrorAs(t, err, &invalid)
		assert.ErrorIs(t, err, generic.ErrValidation)
	}
	history, err := env.store.PaymentHistory(env.ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApplyPayment_RejectsUnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 1_000_000)

	_, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(1), Method: "CHEQUE"})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestApplyPayment_OverpaymentRejectedBeyondTolerance(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 500_000)

	_, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(500_001)})

	var invalid *billing.InvalidPaymentAmountError
	require.ErrorAs(t, err, &invalid)
	assertMoney(t, 500_000, invalid.Outstanding)
	assertMoney(t, 0, env.bill(t, b.ID).PaidAmount)
}

func TestApplyPayment_OverpaymentCappedWithinTolerance(t *testing.T) {
	policy := billing.DefaultPolicy()
	policy.OverpayTolerance = money(1_000)
	env := newTestEnvWithPolicy(t, policy)
	b := env.customBill(t, 500_000)

	res, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(500_800)})
	require.NoError(t, err)

	assert.True(t, res.Capped)
	assertMoney(t, 500_000, res.Entry.PaymentAmount)
	assertMoney(t, 500_000, res.Bill.PaidAmount)
	assert.True(t, res.Settled)
}

func TestApplyPayment_SettledBill(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 500_000)
	_, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(500_000)})
	require.NoError(t, err)

	_, err = env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(1)})

	var settled *billing.BillSettledError
	assert.ErrorAs(t, err, &settled)
	assert.ErrorIs(t, err, generic.ErrBillSettled)
}

func TestApplyPayment_UnknownBill(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: "nope", Amount: money(1)})
	assert.True(t, generic.IsNotFound(err))
}

func TestApplyPayment_ConcurrentPayments_NoLostUpdate(t *testing.T) {
	// GIVEN: outstanding 500,000
	// WHEN: two 300,000 payments race
	// THEN: exactly one applies, the other is rejected, paid = 300,000
	env := newTestEnv(t)
	b := env.customBill(t, 500_000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(300_000)})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var invalid *billing.InvalidPaymentAmountError
		assert.ErrorAs(t, err, &invalid)
	}
	assert.Equal(t, 1, succeeded)

	stored := env.bill(t, b.ID)
	assertMoney(t, 300_000, stored.PaidAmount)
	assertMoney(t, 200_000, stored.OutstandingAmount)
	require.NoError(t, env.proc.Verify(env.ctx, b.ID))
}

func TestApplyPayment_ManyConcurrentPayments_HistoryMatchesPaid(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 1_000_000)
	env.daysAfterDue(b, 3)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(70_000)})
		}()
	}
	wg.Wait()

	history, err := env.proc.History(env.ctx, b.ID)
	require.NoError(t, err)
	stored := env.bill(t, b.ID)

	assert.Len(t, history, 14, "14 × 70,000 fit into 1,000,000")
	assertMoney(t, 980_000, stored.PaidAmount)
	for i, e := range history {
		assert.Equal(t, i+1, e.PaymentNumber)
	}
	require.NoError(t, billing.VerifyBill(stored, history))
}

// =============================================================================
// GATEWAY
// =============================================================================

func TestConfirmGatewayPayment_IdempotentByTransaction(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 1_000_000)
	confirmedAt := march1.AddDate(0, 0, 2)
	c := billing.GatewayConfirmation{
		BillID: b.ID, Amount: money(250_000), TransactionID: "gw-1", ConfirmedAt: confirmedAt,
	}

	first, err := env.proc.ConfirmGatewayPayment(env.ctx, c)
	require.NoError(t, err)
	second, err := env.proc.ConfirmGatewayPayment(env.ctx, c)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, billing.MethodGateway, first.Entry.PaymentMethod)
	assert.Equal(t, confirmedAt, first.Entry.PaidAt)
	assertMoney(t, 250_000, env.bill(t, b.ID).PaidAmount)

	_, err = env.proc.ConfirmGatewayPayment(env.ctx, billing.GatewayConfirmation{BillID: b.ID, Amount: money(1)})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestConfirmGatewayPayment_TransactionOnOtherBill(t *testing.T) {
	env := newTestEnv(t)
	a := env.customBill(t, 1_000_000)
	b := env.customBill(t, 1_000_000)

	_, err := env.proc.ConfirmGatewayPayment(env.ctx, billing.GatewayConfirmation{BillID: a.ID, Amount: money(1), TransactionID: "gw-9"})
	require.NoError(t, err)
	_, err = env.proc.ConfirmGatewayPayment(env.ctx, billing.GatewayConfirmation{BillID: b.ID, Amount: money(1), TransactionID: "gw-9"})

	assert.ErrorIs(t, err, generic.ErrDuplicate)
}

func TestAttachTransaction(t *testing.T) {
	env := newTestEnv(t)
	b := env.customBill(t, 1_000_000)
	_, err := env.proc.ApplyPayment(env.ctx, billing.PaymentRequest{BillID: b.ID, Amount: money(100_000)})
	require.NoError(t, err)

	entry, err := env.proc.AttachTransaction(env.ctx, b.ID, 1, "gw-late", billing.PaymentPending)
	require.NoError(t, err)
	assert.Equal(t, "gw-late", entry.TransactionID)
	assert.Equal(t, billing.PaymentPending, entry.Status)

	found, err := env.store.FindPaymentByTransaction(env.ctx, "gw-late")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 1, found.PaymentNumber)

	_, err = env.proc.AttachTransaction(env.ctx, b.ID, 7, "gw-x", "")
	assert.True(t, generic.IsNotFound(err))
}
