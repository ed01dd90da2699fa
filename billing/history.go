package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/rental-billing/generic"
)

// ErrLedgerMismatch is returned when a bill disagrees with its payment history.
var ErrLedgerMismatch = errors.New("payment history does not match bill")

// =============================================================================
// REPLAY - Rebuild totals from the append-only history
// =============================================================================

// ReplayResult is what the history alone says about a bill.
type ReplayResult struct {
	Payments int
	Paid     generic.Money
	Fees     generic.Money
	Interest generic.Money
}

// ReplayHistory walks entries in order and checks the chain: numbers are
// 1..n, each PaidBefore is the previous PaidAfter, and every entry's
// after-values follow from its before-values.
func ReplayHistory(entries []PaymentHistoryEntry) (ReplayResult, error) {
	r := ReplayResult{Paid: generic.Zero(), Fees: generic.Zero(), Interest: generic.Zero()}
	for i, e := range entries {
		if e.PaymentNumber != i+1 {
			return r, fmt.Errorf("%w: entry %d has payment number %d", ErrLedgerMismatch, i, e.PaymentNumber)
		}
		if !e.PaidBefore.Equal(r.Paid) {
			return r, fmt.Errorf("%w: payment %d paid_before %s, expected %s",
				ErrLedgerMismatch, e.PaymentNumber, e.PaidBefore, r.Paid)
		}
		if !e.PaidAfter.Equal(e.PaidBefore.Add(e.PaymentAmount)) {
			return r, fmt.Errorf("%w: payment %d paid_after %s != %s + %s",
				ErrLedgerMismatch, e.PaymentNumber, e.PaidAfter, e.PaidBefore, e.PaymentAmount)
		}
		if !e.OutstandingAfter.Equal(e.OutstandingBefore.SubFloor(e.PaymentAmount)) {
			return r, fmt.Errorf("%w: payment %d outstanding_after %s inconsistent",
				ErrLedgerMismatch, e.PaymentNumber, e.OutstandingAfter)
		}
		r.Payments++
		r.Paid = r.Paid.Add(e.PaymentAmount)
		r.Fees = r.Fees.Add(e.PartialPaymentFee)
		r.Interest = r.Interest.Add(e.OverdueInterest)
	}
	return r, nil
}

// VerifyBill checks a bill's derived fields against its replayed history.
func VerifyBill(b Bill, entries []PaymentHistoryEntry) error {
	r, err := ReplayHistory(entries)
	if err != nil {
		return err
	}
	if !r.Paid.Equal(b.PaidAmount) {
		return fmt.Errorf("%w: bill %s paid %s, history sums to %s", ErrLedgerMismatch, b.ID, b.PaidAmount, r.Paid)
	}
	if !r.Fees.Equal(b.PartialPaymentFeesCollected) {
		return fmt.Errorf("%w: bill %s fees %s, history sums to %s", ErrLedgerMismatch, b.ID, b.PartialPaymentFeesCollected, r.Fees)
	}
	if !b.OutstandingAmount.Equal(b.TotalAmount.SubFloor(b.PaidAmount)) {
		return fmt.Errorf("%w: bill %s outstanding %s != max(0, %s - %s)",
			ErrLedgerMismatch, b.ID, b.OutstandingAmount, b.TotalAmount, b.PaidAmount)
	}
	return nil
}

// Verify loads a bill with its history and runs VerifyBill.
func (p *Processor) Verify(ctx context.Context, billID generic.BillID) error {
	b, err := p.Store.GetBill(ctx, billID)
	if err != nil {
		return err
	}
	entries, err := p.Store.PaymentHistory(ctx, billID)
	if err != nil {
		return err
	}
	return VerifyBill(*b, entries)
}
