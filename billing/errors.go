package billing

import (
	"fmt"
	"time"

	"github.com/warp/rental-billing/generic"
)

// InvalidReadingError is returned when a metered service has no reading in
// the billing window or a reading goes backwards.
type InvalidReadingError struct {
	ServiceID generic.ServiceID
	Old       int64
	New       int64
	Missing   bool
}

func (e *InvalidReadingError) Error() string {
	if e.Missing {
		return fmt.Sprintf("no meter reading for service %s in billing period", e.ServiceID)
	}
	return fmt.Sprintf("invalid meter reading for service %s: new %d < old %d", e.ServiceID, e.New, e.Old)
}

func (e *InvalidReadingError) Unwrap() error { return generic.ErrValidation }

// NoActiveContractError is returned when billing a contract that is not ACTIVE.
type NoActiveContractError struct {
	ContractID generic.ContractID
	Status     ContractStatus
}

func (e *NoActiveContractError) Error() string {
	return fmt.Sprintf("contract %s is not active (status %s)", e.ContractID, e.Status)
}

func (e *NoActiveContractError) Unwrap() error { return generic.ErrValidation }

// DuplicateBillError is returned when an existing bill already covers the
// requested period.
type DuplicateBillError struct {
	ContractID generic.ContractID
	Existing   generic.BillID
	Period     generic.Period
}

func (e *DuplicateBillError) Error() string {
	return fmt.Sprintf("bill %s already covers %s for contract %s", e.Existing, e.Period, e.ContractID)
}

func (e *DuplicateBillError) Unwrap() error { return generic.ErrDuplicate }

// InvalidPaymentAmountError carries the rejected amount and what was owed.
type InvalidPaymentAmountError struct {
	BillID      generic.BillID
	Amount      generic.Money
	Outstanding generic.Money
	Reason      string
}

func (e *InvalidPaymentAmountError) Error() string {
	return fmt.Sprintf("invalid payment amount %s for bill %s (outstanding %s): %s",
		e.Amount, e.BillID, e.Outstanding, e.Reason)
}

func (e *InvalidPaymentAmountError) Unwrap() error { return generic.ErrValidation }

// BillSettledError is returned when paying a bill that is already paid.
type BillSettledError struct {
	BillID   generic.BillID
	PaidDate *time.Time
}

func (e *BillSettledError) Error() string {
	return fmt.Sprintf("bill %s is already settled", e.BillID)
}

func (e *BillSettledError) Unwrap() error { return generic.ErrBillSettled }
