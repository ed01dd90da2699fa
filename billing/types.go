/*
Package billing implements the rental billing and penalty lifecycle engine.

PURPOSE:
  Generates bills from rent and metered services, applies partial payments
  against the outstanding balance, and keeps one escalating PENALTY bill
  per overdue original bill.

KEY CONCEPTS IN THIS FILE (types.go):
  - Bill:                one invoice for a contract/room and period
  - BillLineItem:        one priced line (rent, a service, a penalty)
  - PaymentHistoryEntry: append-only record of one settlement event
  - Contract, MeteredService, ServicePrice, MeterReading: inbound records
    owned by upstream systems and read by the generator

BILL STATE MACHINE:
  unpaid ──payment──▶ partially paid ──payment──▶ paid
     │                      │
     └──overdue > N days────┴──▶ PENALTY bill (OriginalBillID = this bill)

  Status/IsPartiallyPaid/OutstandingAmount are always derived together by
  recalculate(), never set one at a time.

SEE ALSO:
  - interest.go: Calculator
  - generator.go: Bill generation
  - payment.go: Partial payment processor
  - lifecycle.go: Penalty lifecycle
*/
package billing

import (
	"time"

	"github.com/warp/rental-billing/generic"
)

// =============================================================================
// BILL
// =============================================================================

type BillType string

const (
	BillRent    BillType = "RENT"
	BillService BillType = "SERVICE"
	BillCustom  BillType = "CUSTOM"
	BillPenalty BillType = "PENALTY"
)

func (t BillType) Valid() bool {
	switch t {
	case BillRent, BillService, BillCustom, BillPenalty:
		return true
	}
	return false
}

// Bill is one billing unit for a contract/room and period.
type Bill struct {
	ID         generic.BillID
	ContractID generic.ContractID
	RoomID     generic.RoomID

	FromDate time.Time
	ToDate   time.Time
	BillDate time.Time
	DueDate  time.Time

	BillType BillType

	TotalAmount                 generic.Money
	PaidAmount                  generic.Money
	PartialPaymentFeesCollected generic.Money
	OutstandingAmount           generic.Money

	Status          bool // true once fully paid
	IsPartiallyPaid bool

	// Penalty linkage, zero for non-penalty bills.
	OriginalBillID *generic.BillID
	PenaltyRate    *generic.Rate
	OverdueDays    *int
	PenaltyAmount  *generic.Money

	LastPaymentDate *time.Time
	PaidDate        *time.Time

	Notes     string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period returns the window the bill covers.
func (b *Bill) Period() generic.Period {
	return generic.Period{Start: b.FromDate, End: b.ToDate}
}

// IsPenalty reports whether the bill is a derived PENALTY bill.
func (b *Bill) IsPenalty() bool {
	return b.BillType == BillPenalty
}

// recalculate derives outstanding/status/partial flags from total and paid.
// paidAt is recorded as PaidDate the first time the bill reaches zero.
func (b *Bill) recalculate(paidAt time.Time) {
	b.OutstandingAmount = b.TotalAmount.SubFloor(b.PaidAmount)
	b.IsPartiallyPaid = b.PaidAmount.IsPositive() && b.PaidAmount.LessThan(b.TotalAmount)
	if b.OutstandingAmount.IsZero() {
		b.Status = true
		if b.PaidDate == nil {
			t := paidAt
			b.PaidDate = &t
		}
		return
	}
	b.Status = false
	b.PaidDate = nil
}

// Clone returns a deep copy, so stores never share pointers with callers.
func (b Bill) Clone() Bill {
	c := b
	if b.OriginalBillID != nil {
		v := *b.OriginalBillID
		c.OriginalBillID = &v
	}
	if b.PenaltyRate != nil {
		v := *b.PenaltyRate
		c.PenaltyRate = &v
	}
	if b.OverdueDays != nil {
		v := *b.OverdueDays
		c.OverdueDays = &v
	}
	if b.PenaltyAmount != nil {
		v := *b.PenaltyAmount
		c.PenaltyAmount = &v
	}
	if b.LastPaymentDate != nil {
		v := *b.LastPaymentDate
		c.LastPaymentDate = &v
	}
	if b.PaidDate != nil {
		v := *b.PaidDate
		c.PaidDate = &v
	}
	return c
}

// =============================================================================
// LINE ITEMS
// =============================================================================

type LineKind string

const (
	LineRent    LineKind = "RENT"
	LineService LineKind = "SERVICE"
	LineCustom  LineKind = "CUSTOM"
	LinePenalty LineKind = "PENALTY"
)

// BillLineItem is one priced component of a bill.
type BillLineItem struct {
	ID          string
	BillID      generic.BillID
	Kind        LineKind
	ServiceID   *generic.ServiceID
	Description string

	// Metered services only.
	OldReading    *int64
	NewReading    *int64
	ConsumedUnits *int64

	UnitPrice generic.Money
	Quantity  int64
	Amount    generic.Money
}

// =============================================================================
// PAYMENT HISTORY
// =============================================================================

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodGateway      PaymentMethod = "GATEWAY"
	MethodOther        PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodGateway, MethodOther:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentFailed    PaymentStatus = "FAILED"
)

// PaymentHistoryEntry is one settlement event. Append-only: the only
// mutation allowed is attaching a late gateway transaction id/status.
type PaymentHistoryEntry struct {
	ID            string
	BillID        generic.BillID
	PaymentNumber int

	PaymentAmount     generic.Money // principal applied
	PartialPaymentFee generic.Money
	OverdueInterest   generic.Money

	PaymentMethod PaymentMethod
	Status        PaymentStatus
	TransactionID string

	OutstandingBefore generic.Money
	OutstandingAfter  generic.Money
	PaidBefore        generic.Money
	PaidAfter         generic.Money

	IsPartialPayment bool
	IsFinalPayment   bool

	Notes  string
	PaidAt time.Time
}

// =============================================================================
// INBOUND RECORDS (owned upstream, read here)
// =============================================================================

type ContractStatus string

const (
	ContractActive     ContractStatus = "ACTIVE"
	ContractPending    ContractStatus = "PENDING"
	ContractTerminated ContractStatus = "TERMINATED"
	ContractExpired    ContractStatus = "EXPIRED"
)

// Contract is the validated rental agreement supplied by contract management.
type Contract struct {
	ID           generic.ContractID
	RoomID       generic.RoomID
	TenantID     generic.RecipientID
	LandlordID   generic.RecipientID
	TenantPhone  string
	RentAmount   generic.Money // per month
	PaymentCycle generic.PaymentCycle
	StartDate    time.Time
	EndDate      *time.Time
	Status       ContractStatus
}

// MeteredService is a service billed to a room. Flat services are charged
// once per bill at their current price.
type MeteredService struct {
	ID      generic.ServiceID
	RoomID  generic.RoomID
	Name    string
	Unit    string
	Metered bool
	Active  bool
}

// ServicePrice is one row of a service's price history.
type ServicePrice struct {
	ServiceID     generic.ServiceID
	UnitPrice     generic.Money
	EffectiveFrom time.Time
}

// MeterReading is a persisted reading for a room's metered service.
type MeterReading struct {
	ID         string
	RoomID     generic.RoomID
	ServiceID  generic.ServiceID
	OldReading int64
	NewReading int64
	ReadAt     time.Time
}

// =============================================================================
// SCHEDULER RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// SchedulerRun records one execution of a lifecycle task.
type SchedulerRun struct {
	ID          string
	Task        string
	Status      RunStatus
	Processed   int
	Skipped     int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
