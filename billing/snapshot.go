package billing

import (
	"context"
	"time"

	"github.com/warp/rental-billing/generic"
)

// BillSnapshot is the read-only aggregate a rendering collaborator turns
// into a document.
type BillSnapshot struct {
	Bill     Bill
	Items    []BillLineItem
	Payments []PaymentHistoryEntry
	Penalty  *Bill

	// Interest is what a payment at AsOf would record as overdue interest.
	Interest generic.Money
	AsOf     time.Time
}

// Snapshot assembles a BillSnapshot as of now.
func Snapshot(ctx context.Context, r Reader, calc Calculator, id generic.BillID, now time.Time) (*BillSnapshot, error) {
	b, err := r.GetBill(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := r.LineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := r.PaymentHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := &BillSnapshot{
		Bill:     *b,
		Items:    items,
		Payments: payments,
		Interest: generic.Zero(),
		AsOf:     now,
	}
	if !b.IsPenalty() {
		penalty, err := r.PenaltyFor(ctx, id)
		if err != nil {
			return nil, err
		}
		snap.Penalty = penalty
		if !b.Status {
			snap.Interest = calc.Interest(b.OutstandingAmount, b.DueDate, now)
		}
	}
	return snap, nil
}
