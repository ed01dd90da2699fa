/*
store.go - Persistence contract for the billing ledger

PURPOSE:
  Defines what the engine needs from the data store. The core only requires
  atomic read-modify-write per bill; everything else is plain reads.

KEY INTERFACES:
  Reader:       Read-only queries (bills, lines, history, inbound records)
  Tx:           Writes inside one atomic unit, with per-bill locking
  Store:        Reader + WithTx + inbound upserts + scheduler run log

LOCKING CONTRACT:
  Tx.LockBill returns the bill under an exclusive lock held until the
  transaction ends. Two payments for the same bill, or a payment and a
  penalty escalation, never interleave.

  Tx.UpdateBill is additionally optimistic: the bill's Version must match
  the stored row, otherwise a StateConflictError is returned and the whole
  transaction rolls back. Callers retry via withRetry.

APPEND-ONLY HISTORY:
  PaymentHistoryEntry rows are only appended. The one mutation is
  UpdatePaymentGatewayRef, attaching a late gateway transaction id/status.

ONE PENALTY PER ORIGINAL:
  InsertBill must reject a second PENALTY bill for the same OriginalBillID
  with a StateConflictError. The lifecycle checks first; the store is the
  backstop for racing instances.

IMPLEMENTATIONS:
  - store/memory: In-memory, snapshot/rollback transactions (tests, dev)
  - store/sqlite: SQLite with goose migrations (production)

SEE ALSO:
  - history.go: Replaying history to verify the ledger
  - lifecycle.go: Uses ClaimNotification for the warning sent-log
*/
package billing

import (
	"context"
	"time"

	"github.com/warp/rental-billing/generic"
)

// BillFilter narrows ListBills. Zero value lists everything.
type BillFilter struct {
	ContractID *generic.ContractID
	Types      []BillType
	UnpaidOnly bool
	DueBefore  *time.Time
	Limit      int
}

// NotificationKind keys the persisted sent-log.
type NotificationKind string

const (
	NotifyOverdueWarning  NotificationKind = "overdue_warning"
	NotifyPenaltyCreated  NotificationKind = "penalty_created"
	NotifyPenaltyEscalate NotificationKind = "penalty_escalated"
)

// =============================================================================
// READER - Read-only queries
// =============================================================================

type Reader interface {
	// GetBill returns a NotFoundError for unknown ids.
	GetBill(ctx context.Context, id generic.BillID) (*Bill, error)

	// ListBills returns bills ordered by BillDate then ID.
	ListBills(ctx context.Context, filter BillFilter) ([]Bill, error)

	LineItems(ctx context.Context, billID generic.BillID) ([]BillLineItem, error)

	// PaymentHistory returns entries ordered by PaymentNumber.
	PaymentHistory(ctx context.Context, billID generic.BillID) ([]PaymentHistoryEntry, error)

	// FindPaymentByTransaction returns nil, nil when no entry carries txID.
	FindPaymentByTransaction(ctx context.Context, txID string) (*PaymentHistoryEntry, error)

	// PenaltyFor returns the PENALTY bill for an original, or nil, nil.
	PenaltyFor(ctx context.Context, originalID generic.BillID) (*Bill, error)

	GetContract(ctx context.Context, id generic.ContractID) (*Contract, error)
	ListContracts(ctx context.Context, status ContractStatus) ([]Contract, error)
	ServicesForRoom(ctx context.Context, roomID generic.RoomID) ([]MeteredService, error)

	// PriceAt returns the latest price effective on or before at.
	PriceAt(ctx context.Context, serviceID generic.ServiceID, at time.Time) (*ServicePrice, error)

	// ReadingsInRange returns readings with ReadAt in [period.Start, period.End).
	ReadingsInRange(ctx context.Context, roomID generic.RoomID, serviceID generic.ServiceID, period generic.Period) ([]MeterReading, error)
}

// =============================================================================
// TX - Writes inside one atomic unit
// =============================================================================

type Tx interface {
	Reader

	// LockBill loads the bill and holds it exclusively until the tx ends.
	LockBill(ctx context.Context, id generic.BillID) (*Bill, error)

	// InsertBill persists a bill with its line items.
	InsertBill(ctx context.Context, bill Bill, items []BillLineItem) error

	// UpdateBill overwrites the row (same id) if bill.Version matches the
	// stored version, and bumps the stored version by one.
	UpdateBill(ctx context.Context, bill Bill) error

	// ReplaceLineItems swaps all line items of a bill.
	ReplaceLineItems(ctx context.Context, billID generic.BillID, items []BillLineItem) error

	// DeleteBill removes the bill, its line items, history and claims.
	DeleteBill(ctx context.Context, id generic.BillID) error

	AppendPayment(ctx context.Context, entry PaymentHistoryEntry) error
	CountPayments(ctx context.Context, billID generic.BillID) (int, error)
	UpdatePaymentGatewayRef(ctx context.Context, billID generic.BillID, number int, txID string, status PaymentStatus) error

	// ClaimNotification records (bill, kind, day) and returns false if it
	// was already claimed.
	ClaimNotification(ctx context.Context, billID generic.BillID, kind NotificationKind, day time.Time) (bool, error)
}

// =============================================================================
// STORE
// =============================================================================

// InboundStore persists records pushed by upstream systems (contract
// management, metering). The core never edits them.
type InboundStore interface {
	SaveContract(ctx context.Context, c Contract) error
	SaveService(ctx context.Context, s MeteredService) error
	SaveServicePrice(ctx context.Context, p ServicePrice) error
	SaveReading(ctx context.Context, r MeterReading) error
}

// RunStore keeps the scheduler's execution log.
type RunStore interface {
	SaveRun(ctx context.Context, run SchedulerRun) error
	ListRuns(ctx context.Context, limit int) ([]SchedulerRun, error)
}

type Store interface {
	Reader
	InboundStore
	RunStore

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through tx is rolled back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// =============================================================================
// HELPERS
// =============================================================================

const maxConflictRetries = 3

// withRetry re-runs op while it fails with a retryable state conflict.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = op(); err == nil || !generic.IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// saveBill writes b and advances its in-memory version to match the row.
func saveBill(ctx context.Context, tx Tx, b *Bill, now time.Time) error {
	b.UpdatedAt = now
	if err := tx.UpdateBill(ctx, *b); err != nil {
		return err
	}
	b.Version++
	return nil
}
