/*
lifecycle.go - Overdue warnings and the penalty bill chain

PURPOSE:
  Keeps, for every overdue original bill, at most one PENALTY bill whose
  rate/amount/overdue days track how late the original is.

PER-BILL OPERATIONS (each one store transaction, bill locked):
  WarnOverdue:     overdue days in [WarnAfterDays, WarnAfterDays+WarnWindowDays)
                   -> claim (bill, overdue_warning, window start), then notify
  CreatePenalty:   original unpaid, not a penalty, overdue ≥ PenaltyAfterDays,
                   no penalty yet -> insert PENALTY bill
  EscalatePenalty: original still unpaid and overdue days changed
                   -> overwrite the PENALTY bill in place (same id)

SHORT-CIRCUITS:
  - A paid original is never penalized, and its existing PENALTY bill is
    left as a record and never escalated again.
  - A settled PENALTY bill is never escalated.
  - PENALTY bills are never penalized themselves.

SWEEPS:
  Tick enumerates overdue unpaid bills once and dispatches warning then
  creation for each, then escalates every open penalty. Audit repeats only
  creation. A failing bill is logged and counted; the sweep goes on.

NOTIFICATIONS:
  Sent after commit, never while a lock is held. Failures are wrapped as
  ExternalDependencyError and logged, they never undo the ledger change.

SEE ALSO:
  - interest.go: PenaltyQuote
  - api/scheduler.go: cron triggers for Tick and Audit
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/rental-billing/generic"
	"github.com/warp/rental-billing/notify"
)

type Lifecycle struct {
	Store    Store
	Calc     Calculator
	Notifier notify.Notifier
	Logger   *slog.Logger
}

func NewLifecycle(store Store, calc Calculator, notifier notify.Notifier, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Lifecycle{Store: store, Calc: calc, Notifier: notifier, Logger: logger.With("component", "lifecycle")}
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Warned    int
	Created   int
	Escalated int
	Skipped   int
	Failed    int
}

// Processed is the number of bills that changed or were notified.
func (r SweepResult) Processed() int {
	return r.Warned + r.Created + r.Escalated
}

func (r *SweepResult) add(o SweepResult) {
	r.Warned += o.Warned
	r.Created += o.Created
	r.Escalated += o.Escalated
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// =============================================================================
// WARNING
// =============================================================================

// WarnOverdue notifies tenant and landlord once per warning window.
// Returns true if a warning was sent.
func (l *Lifecycle) WarnOverdue(ctx context.Context, billID generic.BillID, now time.Time) (bool, error) {
	bill, err := l.Store.GetBill(ctx, billID)
	if err != nil {
		return false, err
	}
	if bill.Status || bill.IsPenalty() {
		return false, nil
	}

	p := l.Calc.Policy
	days := l.Calc.OverdueDays(bill.DueDate, now)
	window := p.WarnWindowDays
	if window < 1 {
		window = 1
	}
	if days < p.WarnAfterDays || days >= p.WarnAfterDays+window || days == 0 {
		return false, nil
	}

	contract, err := l.Store.GetContract(ctx, bill.ContractID)
	if err != nil {
		return false, err
	}

	windowStart := generic.StartOfDay(bill.DueDate).AddDate(0, 0, p.WarnAfterDays)
	var claimed bool
	err = l.Store.WithTx(ctx, func(tx Tx) error {
		claimed, err = tx.ClaimNotification(ctx, bill.ID, NotifyOverdueWarning, windowStart)
		return err
	})
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	msg := fmt.Sprintf("Bill %s is %d day(s) overdue. Outstanding: %s. A penalty applies after %d day(s).",
		bill.ID, days, bill.OutstandingAmount, p.PenaltyAfterDays)
	l.notifyParties(ctx, contract, bill, NotifyOverdueWarning, "Payment overdue", msg)
	return true, nil
}

// =============================================================================
// PENALTY CREATION
// =============================================================================

// CreatePenalty inserts the PENALTY bill for an overdue original.
// Returns nil, nil when nothing is due.
func (l *Lifecycle) CreatePenalty(ctx context.Context, originalID generic.BillID, now time.Time) (*Bill, error) {
	var created *Bill
	err := l.Store.WithTx(ctx, func(tx Tx) error {
		orig, err := tx.LockBill(ctx, originalID)
		if err != nil {
			return err
		}
		if orig.IsPenalty() || orig.Status {
			return nil
		}
		if l.Calc.OverdueDays(orig.DueDate, now) < l.Calc.Policy.PenaltyAfterDays {
			return nil
		}
		existing, err := tx.PenaltyFor(ctx, orig.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		q := l.Calc.PenaltyQuote(orig.OutstandingAmount, orig.DueDate, now)
		if !q.Amount.IsPositive() {
			return nil
		}
		penalty, item := l.newPenalty(ctx, tx, orig, q, now)
		if err := tx.InsertBill(ctx, penalty, []BillLineItem{item}); err != nil {
			return err
		}
		created = &penalty
		return nil
	})
	if err != nil {
		if errors.Is(err, generic.ErrStateConflict) {
			l.Logger.Info("penalty already created concurrently", "original_bill_id", originalID)
			return nil, nil
		}
		return nil, err
	}
	if created == nil {
		return nil, nil
	}

	l.Logger.Info("penalty created",
		"penalty_bill_id", created.ID,
		"original_bill_id", originalID,
		"overdue_days", *created.OverdueDays,
		"rate", created.PenaltyRate.String(),
		"amount", created.TotalAmount.String())

	if contract, err := l.Store.GetContract(ctx, created.ContractID); err == nil {
		msg := fmt.Sprintf("A penalty of %s (%s%%) was issued for overdue bill %s.",
			created.TotalAmount, created.PenaltyRate.Shift(2).String(), originalID)
		l.notifyParties(ctx, contract, created, NotifyPenaltyCreated, "Penalty issued", msg)
	}
	return created, nil
}

func (l *Lifecycle) newPenalty(ctx context.Context, tx Tx, orig *Bill, q PenaltyQuote, now time.Time) (Bill, BillLineItem) {
	dueDays := l.Calc.Policy.DefaultDue
	if c, err := tx.GetContract(ctx, orig.ContractID); err == nil {
		dueDays = l.Calc.Policy.DueAfter(c.PaymentCycle)
	}
	origID := orig.ID
	rate := q.Rate
	days := q.OverdueDays
	amount := q.Amount

	b := Bill{
		ID:             generic.BillID(uuid.NewString()),
		ContractID:     orig.ContractID,
		RoomID:         orig.RoomID,
		FromDate:       orig.FromDate,
		ToDate:         orig.ToDate,
		BillDate:       now,
		DueDate:        now.AddDate(0, 0, dueDays),
		BillType:       BillPenalty,
		TotalAmount:    q.Amount,
		PaidAmount:     generic.Zero(),
		OriginalBillID: &origID,
		PenaltyRate:    &rate,
		OverdueDays:    &days,
		PenaltyAmount:  &amount,
		Notes:          fmt.Sprintf("Late payment penalty for bill %s", orig.ID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	b.PartialPaymentFeesCollected = generic.Zero()
	b.recalculate(now)
	return b, penaltyLine(b.ID, q)
}

func penaltyLine(billID generic.BillID, q PenaltyQuote) BillLineItem {
	return BillLineItem{
		ID:          uuid.NewString(),
		BillID:      billID,
		Kind:        LinePenalty,
		Description: fmt.Sprintf("Late payment penalty: %d day(s) overdue at %s%%", q.OverdueDays, q.Rate.Shift(2).String()),
		UnitPrice:   q.Amount,
		Quantity:    1,
		Amount:      q.Amount,
	}
}

// =============================================================================
// PENALTY ESCALATION
// =============================================================================

// EscalatePenalty rewrites a PENALTY bill in place when the original's
// overdue days changed. Returns true if the bill was rewritten.
func (l *Lifecycle) EscalatePenalty(ctx context.Context, penaltyID generic.BillID, now time.Time) (bool, error) {
	var (
		escalated   bool
		rateChanged bool
		updated     Bill
	)
	err := withRetry(ctx, func() error {
		escalated, rateChanged = false, false
		return l.Store.WithTx(ctx, func(tx Tx) error {
			pen, err := tx.LockBill(ctx, penaltyID)
			if err != nil {
				return err
			}
			if !pen.IsPenalty() {
				return &generic.ValidationError{Field: "bill_id", Reason: "not a penalty bill"}
			}
			if pen.Status || pen.OriginalBillID == nil {
				return nil
			}
			orig, err := tx.LockBill(ctx, *pen.OriginalBillID)
			if err != nil {
				if generic.IsNotFound(err) {
					return nil
				}
				return err
			}
			if orig.Status {
				return nil
			}

			days := l.Calc.OverdueDays(orig.DueDate, now)
			if pen.OverdueDays != nil && *pen.OverdueDays == days {
				return nil
			}
			q := l.Calc.PenaltyQuote(orig.OutstandingAmount, orig.DueDate, now)
			rateChanged = pen.PenaltyRate == nil || !pen.PenaltyRate.Equal(q.Rate)
			// The original may have been paid down; never rewrite below
			// what the tenant already paid on the penalty.
			if q.Amount.LessThan(pen.PaidAmount) {
				q.Amount = pen.PaidAmount
			}

			rate, amount := q.Rate, q.Amount
			pen.PenaltyRate = &rate
			pen.OverdueDays = &days
			pen.PenaltyAmount = &amount
			pen.TotalAmount = q.Amount
			pen.recalculate(now)

			if err := saveBill(ctx, tx, pen, now); err != nil {
				return err
			}
			if err := tx.ReplaceLineItems(ctx, pen.ID, []BillLineItem{penaltyLine(pen.ID, q)}); err != nil {
				return err
			}
			escalated = true
			updated = *pen
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if !escalated {
		return false, nil
	}

	l.Logger.Info("penalty escalated",
		"penalty_bill_id", penaltyID,
		"overdue_days", *updated.OverdueDays,
		"rate", updated.PenaltyRate.String(),
		"amount", updated.TotalAmount.String())

	if rateChanged {
		if contract, err := l.Store.GetContract(ctx, updated.ContractID); err == nil {
			msg := fmt.Sprintf("Penalty bill %s now stands at %s (%s%%) after %d day(s) overdue.",
				updated.ID, updated.TotalAmount, updated.PenaltyRate.Shift(2).String(), *updated.OverdueDays)
			l.notifyParties(ctx, contract, &updated, NotifyPenaltyEscalate, "Penalty increased", msg)
		}
	}
	return true, nil
}

// =============================================================================
// SWEEPS
// =============================================================================

// Tick is the coordinating sweep: warn then create per overdue bill, then
// escalate every open penalty.
func (l *Lifecycle) Tick(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	overdue, err := l.overdueOriginals(ctx, now)
	if err != nil {
		return res, err
	}
	for _, b := range overdue {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.add(l.warnOne(ctx, b.ID, now))
		res.add(l.createOne(ctx, b.ID, now))
	}

	esc, err := l.EscalatePenalties(ctx, now)
	res.add(esc)
	if err != nil {
		return res, err
	}
	l.Logger.Info("tick completed",
		"warned", res.Warned, "created", res.Created, "escalated", res.Escalated,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// Audit repeats penalty creation only. No-op when nothing is due.
func (l *Lifecycle) Audit(ctx context.Context, now time.Time) (SweepResult, error) {
	res, err := l.CreatePenalties(ctx, now)
	if err != nil {
		return res, err
	}
	if res.Created > 0 {
		l.Logger.Warn("audit created missed penalties", "created", res.Created)
	}
	return res, nil
}

func (l *Lifecycle) SendWarnings(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	overdue, err := l.overdueOriginals(ctx, now)
	if err != nil {
		return res, err
	}
	for _, b := range overdue {
		res.add(l.warnOne(ctx, b.ID, now))
	}
	return res, nil
}

func (l *Lifecycle) CreatePenalties(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	overdue, err := l.overdueOriginals(ctx, now)
	if err != nil {
		return res, err
	}
	for _, b := range overdue {
		res.add(l.createOne(ctx, b.ID, now))
	}
	return res, nil
}

func (l *Lifecycle) EscalatePenalties(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	penalties, err := l.Store.ListBills(ctx, BillFilter{Types: []BillType{BillPenalty}, UnpaidOnly: true})
	if err != nil {
		return res, err
	}
	for _, p := range penalties {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ok, err := l.EscalatePenalty(ctx, p.ID, now)
		switch {
		case err != nil:
			res.Failed++
			l.Logger.Error("penalty escalation failed", "penalty_bill_id", p.ID, "error", err)
		case ok:
			res.Escalated++
		default:
			res.Skipped++
		}
	}
	return res, nil
}

func (l *Lifecycle) overdueOriginals(ctx context.Context, now time.Time) ([]Bill, error) {
	bills, err := l.Store.ListBills(ctx, BillFilter{UnpaidOnly: true, DueBefore: &now})
	if err != nil {
		return nil, err
	}
	out := bills[:0]
	for _, b := range bills {
		if !b.IsPenalty() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (l *Lifecycle) warnOne(ctx context.Context, id generic.BillID, now time.Time) SweepResult {
	ok, err := l.WarnOverdue(ctx, id, now)
	if err != nil {
		l.Logger.Error("overdue warning failed", "bill_id", id, "error", err)
		return SweepResult{Failed: 1}
	}
	if ok {
		return SweepResult{Warned: 1}
	}
	return SweepResult{}
}

func (l *Lifecycle) createOne(ctx context.Context, id generic.BillID, now time.Time) SweepResult {
	p, err := l.CreatePenalty(ctx, id, now)
	if err != nil {
		l.Logger.Error("penalty creation failed", "bill_id", id, "error", err)
		return SweepResult{Failed: 1}
	}
	if p != nil {
		return SweepResult{Created: 1}
	}
	return SweepResult{Skipped: 1}
}

// =============================================================================
// NOTIFY
// =============================================================================

func (l *Lifecycle) notifyParties(ctx context.Context, c *Contract, b *Bill, kind NotificationKind, title, msg string) {
	meta := map[string]string{
		"bill_id":     string(b.ID),
		"contract_id": string(b.ContractID),
		"outstanding": b.OutstandingAmount.String(),
	}
	if b.OriginalBillID != nil {
		meta["original_bill_id"] = string(*b.OriginalBillID)
	}
	recipients := []notify.Notification{
		{RecipientID: c.TenantID, Phone: c.TenantPhone, Title: title, Message: msg, Type: string(kind), Metadata: meta},
		{RecipientID: c.LandlordID, Title: title, Message: msg, Type: string(kind), Metadata: meta},
	}
	for _, n := range recipients {
		if n.RecipientID == "" {
			continue
		}
		if err := l.Notifier.Notify(ctx, n); err != nil {
			err = &generic.ExternalDependencyError{Dependency: "notifier", Err: err}
			l.Logger.Warn("notification failed", "bill_id", b.ID, "recipient_id", n.RecipientID, "type", kind, "error", err)
		}
	}
}
