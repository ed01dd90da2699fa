/*
payment.go - Partial payment processor

PURPOSE:
  Applies a payment to one bill: validates the amount, prices overdue
  interest and the partial-payment fee, moves principal into PaidAmount and
  appends a PaymentHistoryEntry. All of it happens in one store transaction
  with the bill locked.

AMOUNT POLICY:
  amount ≤ 0                                   -> InvalidPaymentAmountError
  bill already paid                            -> BillSettledError
  amount > outstanding + OverpayTolerance      -> InvalidPaymentAmountError
  outstanding < amount ≤ outstanding+tolerance -> capped to outstanding

  Interest and fee are recorded on the entry and the fee is accumulated in
  PartialPaymentFeesCollected. Neither ever enters PaidAmount, so the sum
  of PaymentAmount across the history always equals PaidAmount.

GATEWAY IDEMPOTENCY:
  A payment carrying a TransactionID that is already on an entry returns
  that entry (Duplicate = true) without touching the bill.

CONCURRENCY:
  Two payments for the same bill serialize on LockBill; the second sees the
  first one's outstanding. A StateConflictError from the optimistic write
  check is retried up to three times.

SEE ALSO:
  - interest.go: Calculator
  - history.go: Replay / verification of the resulting ledger
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/rental-billing/generic"
)

type Processor struct {
	Store  Store
	Calc   Calculator
	Clock  generic.Clock
	Logger *slog.Logger
}

func NewProcessor(store Store, calc Calculator, clock generic.Clock, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Store: store, Calc: calc, Clock: clock, Logger: logger.With("component", "processor")}
}

// PaymentRequest is one payment against one bill.
type PaymentRequest struct {
	BillID        generic.BillID
	Amount        generic.Money
	Method        PaymentMethod
	Notes         string
	TransactionID string

	// PaidAt overrides the clock, e.g. for a gateway confirmation time.
	PaidAt *time.Time
}

// PaymentResult reports the bill after the payment.
type PaymentResult struct {
	Bill        Bill
	Entry       PaymentHistoryEntry
	Outstanding generic.Money
	Settled     bool
	Capped      bool
	Duplicate   bool
}

// GatewayConfirmation is an already signature-checked gateway event.
type GatewayConfirmation struct {
	BillID        generic.BillID
	Amount        generic.Money
	Method        PaymentMethod
	TransactionID string
	ConfirmedAt   time.Time
}

// =============================================================================
// APPLY
// =============================================================================

// ApplyPayment validates and applies req atomically.
func (p *Processor) ApplyPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, &InvalidPaymentAmountError{BillID: req.BillID, Amount: req.Amount, Reason: "amount must be positive"}
	}
	if req.Method == "" {
		req.Method = MethodCash
	}
	if !req.Method.Valid() {
		return nil, &generic.ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unknown method %q", req.Method)}
	}

	var result *PaymentResult
	err := withRetry(ctx, func() error {
		return p.Store.WithTx(ctx, func(tx Tx) error {
			r, err := p.apply(ctx, tx, req)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		p.Logger.Warn("payment rejected", "bill_id", req.BillID, "amount", req.Amount.String(), "error", err)
		return nil, err
	}

	if result.Duplicate {
		p.Logger.Info("duplicate payment ignored", "bill_id", req.BillID, "transaction_id", req.TransactionID)
		return result, nil
	}
	p.Logger.Info("payment applied",
		"bill_id", req.BillID,
		"payment_number", result.Entry.PaymentNumber,
		"amount", result.Entry.PaymentAmount.String(),
		"outstanding", result.Outstanding.String(),
		"settled", result.Settled,
		"capped", result.Capped)
	return result, nil
}

func (p *Processor) apply(ctx context.Context, tx Tx, req PaymentRequest) (*PaymentResult, error) {
	bill, err := tx.LockBill(ctx, req.BillID)
	if err != nil {
		return nil, err
	}

	if req.TransactionID != "" {
		existing, err := tx.FindPaymentByTransaction(ctx, req.TransactionID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.BillID != bill.ID {
				return nil, fmt.Errorf("%w: transaction %s already applied to bill %s",
					generic.ErrDuplicate, req.TransactionID, existing.BillID)
			}
			return &PaymentResult{
				Bill:        *bill,
				Entry:       *existing,
				Outstanding: bill.OutstandingAmount,
				Settled:     bill.Status,
				Duplicate:   true,
			}, nil
		}
	}

	if bill.Status {
		return nil, &BillSettledError{BillID: bill.ID, PaidDate: bill.PaidDate}
	}

	now := p.Clock.Now()
	if req.PaidAt != nil {
		now = *req.PaidAt
	}

	outstanding := bill.OutstandingAmount
	amount := req.Amount
	capped := false
	if amount.GreaterThan(outstanding) {
		limit := outstanding.Add(p.Calc.Policy.OverpayTolerance)
		if amount.GreaterThan(limit) {
			return nil, &InvalidPaymentAmountError{
				BillID: bill.ID, Amount: amount, Outstanding: outstanding,
				Reason: "amount exceeds outstanding balance",
			}
		}
		amount = outstanding
		capped = true
	}

	interest, fee := generic.Zero(), generic.Zero()
	if !bill.IsPenalty() && p.Calc.OverdueDays(bill.DueDate, now) > 0 {
		interest = p.Calc.PartialPaymentInterest(outstanding, p.Calc.MonthsOverdue(bill.DueDate, now))
		fee = p.Calc.PartialPaymentFee(amount, outstanding, true)
	}

	paidBefore := bill.PaidAmount
	bill.PaidAmount = bill.PaidAmount.Add(amount)
	bill.PartialPaymentFeesCollected = bill.PartialPaymentFeesCollected.Add(fee)
	paidAt := now
	bill.LastPaymentDate = &paidAt
	bill.recalculate(now)

	if err := saveBill(ctx, tx, bill, p.Clock.Now()); err != nil {
		return nil, err
	}

	count, err := tx.CountPayments(ctx, bill.ID)
	if err != nil {
		return nil, err
	}
	entry := PaymentHistoryEntry{
		ID:                uuid.NewString(),
		BillID:            bill.ID,
		PaymentNumber:     count + 1,
		PaymentAmount:     amount,
		PartialPaymentFee: fee,
		OverdueInterest:   interest,
		PaymentMethod:     req.Method,
		Status:            PaymentCompleted,
		TransactionID:     req.TransactionID,
		OutstandingBefore: outstanding,
		OutstandingAfter:  bill.OutstandingAmount,
		PaidBefore:        paidBefore,
		PaidAfter:         bill.PaidAmount,
		IsPartialPayment:  bill.OutstandingAmount.IsPositive(),
		IsFinalPayment:    !bill.OutstandingAmount.IsPositive(),
		Notes:             req.Notes,
		PaidAt:            now,
	}
	if err := tx.AppendPayment(ctx, entry); err != nil {
		return nil, err
	}

	return &PaymentResult{
		Bill:        *bill,
		Entry:       entry,
		Outstanding: bill.OutstandingAmount,
		Settled:     bill.Status,
		Capped:      capped,
	}, nil
}

// =============================================================================
// GATEWAY
// =============================================================================

// ConfirmGatewayPayment applies a gateway confirmation once per transaction id.
func (p *Processor) ConfirmGatewayPayment(ctx context.Context, c GatewayConfirmation) (*PaymentResult, error) {
	if c.TransactionID == "" {
		return nil, &generic.ValidationError{Field: "transaction_id", Reason: "required"}
	}
	method := c.Method
	if method == "" {
		method = MethodGateway
	}
	req := PaymentRequest{
		BillID:        c.BillID,
		Amount:        c.Amount,
		Method:        method,
		TransactionID: c.TransactionID,
		Notes:         "gateway confirmation",
	}
	if !c.ConfirmedAt.IsZero() {
		at := c.ConfirmedAt
		req.PaidAt = &at
	}
	return p.ApplyPayment(ctx, req)
}

// AttachTransaction sets a late gateway reference on an existing entry.
func (p *Processor) AttachTransaction(ctx context.Context, billID generic.BillID, paymentNumber int, txID string, status PaymentStatus) (*PaymentHistoryEntry, error) {
	if txID == "" {
		return nil, &generic.ValidationError{Field: "transaction_id", Reason: "required"}
	}
	if status == "" {
		status = PaymentCompleted
	}
	switch status {
	case PaymentCompleted, PaymentPending, PaymentFailed:
	default:
		return nil, &generic.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}

	var updated PaymentHistoryEntry
	err := p.Store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockBill(ctx, billID); err != nil {
			return err
		}
		owner, err := tx.FindPaymentByTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if owner != nil && (owner.BillID != billID || owner.PaymentNumber != paymentNumber) {
			return fmt.Errorf("%w: transaction %s already attached to %s#%d",
				generic.ErrDuplicate, txID, owner.BillID, owner.PaymentNumber)
		}
		entries, err := tx.PaymentHistory(ctx, billID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.PaymentNumber == paymentNumber {
				if err := tx.UpdatePaymentGatewayRef(ctx, billID, paymentNumber, txID, status); err != nil {
					return err
				}
				updated = e
				updated.TransactionID = txID
				updated.Status = status
				return nil
			}
		}
		return &generic.NotFoundError{Kind: "payment", ID: fmt.Sprintf("%s#%d", billID, paymentNumber)}
	})
	if err != nil {
		return nil, err
	}
	p.Logger.Info("transaction attached", "bill_id", billID, "payment_number", paymentNumber, "transaction_id", txID)
	return &updated, nil
}

// History returns the bill's payment entries in order.
func (p *Processor) History(ctx context.Context, billID generic.BillID) ([]PaymentHistoryEntry, error) {
	if _, err := p.Store.GetBill(ctx, billID); err != nil {
		return nil, err
	}
	return p.Store.PaymentHistory(ctx, billID)
}
