/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Inbound:
    ContractRequest, ContractDTO, ServiceRequest, ServicePriceRequest,
    ServicePriceDTO, ReadingRequest

  Bills:
    GenerateBillRequest, CustomLineRequest, BillDTO, LineItemDTO,
    GeneratedBillResponse, BillSnapshotDTO, InterestDTO, VerifyDTO,
    BulkResultDTO

  Payments:
    PaymentRequest, GatewayConfirmRequest, AttachTransactionRequest,
    PaymentDTO, PaymentResultDTO

  Scheduler:
    RunTaskRequest, SchedulerRunDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags checked by decode() in
  handlers.go. Business rules (positive amounts, reading monotonicity,
  settled bills) stay in billing; the tags only reject malformed input.

  Amounts are json.Number so clients may send 150000 or "150000".
  Dates are YYYY-MM-DD, instants RFC3339.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/penalty.go: PenaltyPolicyJSON served by GET /api/policy
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
)

const dateLayout = "2006-01-02"

// =============================================================================
// INBOUND RECORDS
// =============================================================================

// ContractRequest upserts a contract pushed by contract management.
type ContractRequest struct {
	ID           string      `json:"id" validate:"required"`
	RoomID       string      `json:"room_id" validate:"required"`
	TenantID     string      `json:"tenant_id" validate:"required"`
	LandlordID   string      `json:"landlord_id" validate:"required"`
	TenantPhone  string      `json:"tenant_phone,omitempty" validate:"omitempty,e164"`
	RentAmount   json.Number `json:"rent_amount" validate:"required,numeric"`
	PaymentCycle string      `json:"payment_cycle" validate:"required,oneof=MONTHLY QUARTERLY SEMI_ANNUAL ANNUAL"`
	StartDate    string      `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      string      `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Status       string      `json:"status,omitempty" validate:"omitempty,oneof=ACTIVE PENDING TERMINATED EXPIRED"`
}

// ContractDTO represents a contract in API responses.
type ContractDTO struct {
	ID           string        `json:"id"`
	RoomID       string        `json:"room_id"`
	TenantID     string        `json:"tenant_id"`
	LandlordID   string        `json:"landlord_id"`
	RentAmount   generic.Money `json:"rent_amount"`
	PaymentCycle string        `json:"payment_cycle"`
	StartDate    string        `json:"start_date"`
	EndDate      string        `json:"end_date,omitempty"`
	Status       string        `json:"status"`
}

// ServiceRequest upserts a metered or flat service of a room.
type ServiceRequest struct {
	ID      string `json:"id" validate:"required"`
	RoomID  string `json:"room_id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Unit    string `json:"unit,omitempty"`
	Metered bool   `json:"metered"`
	Active  *bool  `json:"active,omitempty"` // default true
}

// ServicePriceRequest adds one row to a service's price history.
type ServicePriceRequest struct {
	UnitPrice     json.Number `json:"unit_price" validate:"required,numeric"`
	EffectiveFrom string      `json:"effective_from" validate:"required,datetime=2006-01-02"`
}

// ServicePriceDTO is one stored price history row.
type ServicePriceDTO struct {
	ServiceID     string        `json:"service_id"`
	UnitPrice     generic.Money `json:"unit_price"`
	EffectiveFrom string        `json:"effective_from"`
}

// ReadingRequest records a meter reading pushed by the metering system.
type ReadingRequest struct {
	ID         string `json:"id,omitempty"`
	RoomID     string `json:"room_id" validate:"required"`
	ServiceID  string `json:"service_id" validate:"required"`
	OldReading int64  `json:"old_reading" validate:"gte=0"`
	NewReading int64  `json:"new_reading" validate:"gte=0"`
	ReadAt     string `json:"read_at" validate:"required,datetime=2006-01-02"`
}

// =============================================================================
// BILLS
// =============================================================================

// GenerateBillRequest creates a RENT, SERVICE or CUSTOM bill.
type GenerateBillRequest struct {
	ContractID string              `json:"contract_id" validate:"required"`
	Type       string              `json:"type" validate:"required,oneof=RENT SERVICE CUSTOM"`
	FromDate   string              `json:"from_date" validate:"required,datetime=2006-01-02"`
	ToDate     string              `json:"to_date" validate:"required,datetime=2006-01-02"`
	Items      []CustomLineRequest `json:"items,omitempty" validate:"required_if=Type CUSTOM,dive"`
	Notes      string              `json:"notes,omitempty"`
}

// CustomLineRequest is one caller supplied line of a CUSTOM bill.
type CustomLineRequest struct {
	Description string      `json:"description" validate:"required"`
	UnitPrice   json.Number `json:"unit_price" validate:"required,numeric"`
	Quantity    int64       `json:"quantity" validate:"min=1"`
}

// BillDTO represents a bill in API responses.
type BillDTO struct {
	ID                          string        `json:"id"`
	ContractID                  string        `json:"contract_id"`
	RoomID                      string        `json:"room_id"`
	BillType                    string        `json:"bill_type"`
	FromDate                    string        `json:"from_date"`
	ToDate                      string        `json:"to_date"`
	BillDate                    string        `json:"bill_date"`
	DueDate                     string        `json:"due_date"`
	TotalAmount                 generic.Money `json:"total_amount"`
	PaidAmount                  generic.Money `json:"paid_amount"`
	PartialPaymentFeesCollected generic.Money `json:"partial_payment_fees_collected"`
	OutstandingAmount           generic.Money `json:"outstanding_amount"`
	Paid                        bool          `json:"paid"`
	IsPartiallyPaid             bool          `json:"is_partially_paid"`

	// Penalty bills only
	OriginalBillID *string        `json:"original_bill_id,omitempty"`
	PenaltyRate    *string        `json:"penalty_rate,omitempty"`
	OverdueDays    *int           `json:"overdue_days,omitempty"`
	PenaltyAmount  *generic.Money `json:"penalty_amount,omitempty"`

	LastPaymentDate *string `json:"last_payment_date,omitempty"`
	PaidDate        *string `json:"paid_date,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	Version         int     `json:"version"`
	CreatedAt       string  `json:"created_at"`
}

// LineItemDTO represents a bill line in API responses.
type LineItemDTO struct {
	Kind          string        `json:"kind"`
	ServiceID     *string       `json:"service_id,omitempty"`
	Description   string        `json:"description"`
	OldReading    *int64        `json:"old_reading,omitempty"`
	NewReading    *int64        `json:"new_reading,omitempty"`
	ConsumedUnits *int64        `json:"consumed_units,omitempty"`
	UnitPrice     generic.Money `json:"unit_price"`
	Quantity      int64         `json:"quantity"`
	Amount        generic.Money `json:"amount"`
}

// GeneratedBillResponse is a freshly created bill with its lines.
type GeneratedBillResponse struct {
	Bill  BillDTO       `json:"bill"`
	Items []LineItemDTO `json:"items"`
}

// BillSnapshotDTO is the read model a renderer turns into a document.
type BillSnapshotDTO struct {
	Bill     BillDTO       `json:"bill"`
	Items    []LineItemDTO `json:"items"`
	Payments []PaymentDTO  `json:"payments"`
	Penalty  *BillDTO      `json:"penalty,omitempty"`
	Interest generic.Money `json:"interest"`
	AsOf     string        `json:"as_of"`
}

// InterestDTO previews the calculator for one bill at one instant.
type InterestDTO struct {
	BillID        string        `json:"bill_id"`
	At            string        `json:"at"`
	Outstanding   generic.Money `json:"outstanding"`
	OverdueDays   int           `json:"overdue_days"`
	MonthsOverdue int           `json:"months_overdue"`
	Rate          string        `json:"rate"`
	Interest      generic.Money `json:"interest"`
	PenaltyAmount generic.Money `json:"penalty_amount"`
}

// VerifyDTO reports whether a bill's totals match its payment history.
type VerifyDTO struct {
	BillID     string `json:"bill_id"`
	Consistent bool   `json:"consistent"`
	Error      string `json:"error,omitempty"`
}

// BulkResultDTO summarises a GenerateAll pass.
type BulkResultDTO struct {
	Generated []string `json:"generated"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentRequest applies one payment to the bill in the URL.
type PaymentRequest struct {
	Amount        json.Number `json:"amount" validate:"required,numeric"`
	Method        string      `json:"payment_method,omitempty" validate:"omitempty,oneof=CASH BANK_TRANSFER GATEWAY OTHER"`
	Notes         string      `json:"notes,omitempty"`
	TransactionID string      `json:"transaction_id,omitempty"`
	PaidAt        string      `json:"paid_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// GatewayConfirmRequest is a gateway event whose signature the caller
// already checked.
type GatewayConfirmRequest struct {
	BillID        string      `json:"bill_id" validate:"required"`
	Amount        json.Number `json:"amount" validate:"required,numeric"`
	TransactionID string      `json:"transaction_id" validate:"required"`
	Method        string      `json:"payment_method,omitempty" validate:"omitempty,oneof=CASH BANK_TRANSFER GATEWAY OTHER"`
	ConfirmedAt   string      `json:"confirmed_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// AttachTransactionRequest links a gateway reference to an existing entry.
type AttachTransactionRequest struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	Status        string `json:"status,omitempty" validate:"omitempty,oneof=COMPLETED PENDING FAILED"`
}

// PaymentDTO represents one payment history entry.
type PaymentDTO struct {
	PaymentNumber     int           `json:"payment_number"`
	PaymentAmount     generic.Money `json:"payment_amount"`
	PartialPaymentFee generic.Money `json:"partial_payment_fee"`
	OverdueInterest   generic.Money `json:"overdue_interest"`
	PaymentMethod     string        `json:"payment_method"`
	Status            string        `json:"status"`
	TransactionID     string        `json:"transaction_id,omitempty"`
	OutstandingBefore generic.Money `json:"outstanding_before"`
	OutstandingAfter  generic.Money `json:"outstanding_after"`
	PaidBefore        generic.Money `json:"paid_before"`
	PaidAfter         generic.Money `json:"paid_after"`
	IsPartialPayment  bool          `json:"is_partial_payment"`
	IsFinalPayment    bool          `json:"is_final_payment"`
	Notes             string        `json:"notes,omitempty"`
	PaidAt            string        `json:"paid_at"`
}

// PaymentResultDTO reports the bill after a payment.
type PaymentResultDTO struct {
	Bill        BillDTO       `json:"bill"`
	Payment     PaymentDTO    `json:"payment"`
	Outstanding generic.Money `json:"outstanding"`
	Settled     bool          `json:"settled"`
	Capped      bool          `json:"capped"`
	Duplicate   bool          `json:"duplicate"`
}

// =============================================================================
// SCHEDULER
// =============================================================================

// RunTaskRequest triggers one scheduler task.
type RunTaskRequest struct {
	Task string `json:"task" validate:"required,oneof=tick audit warnings penalties escalations generate"`
}

// SchedulerRunDTO is one recorded scheduler execution.
type SchedulerRunDTO struct {
	ID          string  `json:"id"`
	Task        string  `json:"task"`
	Status      string  `json:"status"`
	Processed   int     `json:"processed"`
	Skipped     int     `json:"skipped"`
	Failed      int     `json:"failed"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// FieldErrorDTO is one failed validation rule.
type FieldErrorDTO struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toContractDTO(c billing.Contract) ContractDTO {
	dto := ContractDTO{
		ID:           string(c.ID),
		RoomID:       string(c.RoomID),
		TenantID:     string(c.TenantID),
		LandlordID:   string(c.LandlordID),
		RentAmount:   c.RentAmount,
		PaymentCycle: string(c.PaymentCycle),
		StartDate:    c.StartDate.Format(dateLayout),
		Status:       string(c.Status),
	}
	if c.EndDate != nil {
		dto.EndDate = c.EndDate.Format(dateLayout)
	}
	return dto
}

func toBillDTO(b billing.Bill) BillDTO {
	dto := BillDTO{
		ID:                          string(b.ID),
		ContractID:                  string(b.ContractID),
		RoomID:                      string(b.RoomID),
		BillType:                    string(b.BillType),
		FromDate:                    b.FromDate.Format(dateLayout),
		ToDate:                      b.ToDate.Format(dateLayout),
		BillDate:                    b.BillDate.Format(time.RFC3339),
		DueDate:                     b.DueDate.Format(time.RFC3339),
		TotalAmount:                 b.TotalAmount,
		PaidAmount:                  b.PaidAmount,
		PartialPaymentFeesCollected: b.PartialPaymentFeesCollected,
		OutstandingAmount:           b.OutstandingAmount,
		Paid:                        b.Status,
		IsPartiallyPaid:             b.IsPartiallyPaid,
		OverdueDays:                 b.OverdueDays,
		PenaltyAmount:               b.PenaltyAmount,
		LastPaymentDate:             formatTimePtr(b.LastPaymentDate),
		PaidDate:                    formatTimePtr(b.PaidDate),
		Notes:                       b.Notes,
		Version:                     b.Version,
		CreatedAt:                   b.CreatedAt.Format(time.RFC3339),
	}
	if b.OriginalBillID != nil {
		id := string(*b.OriginalBillID)
		dto.OriginalBillID = &id
	}
	if b.PenaltyRate != nil {
		rate := b.PenaltyRate.String()
		dto.PenaltyRate = &rate
	}
	return dto
}

func toBillDTOs(bills []billing.Bill) []BillDTO {
	dtos := make([]BillDTO, len(bills))
	for i, b := range bills {
		dtos[i] = toBillDTO(b)
	}
	return dtos
}

func toLineItemDTOs(items []billing.BillLineItem) []LineItemDTO {
	dtos := make([]LineItemDTO, len(items))
	for i, it := range items {
		dtos[i] = LineItemDTO{
			Kind:          string(it.Kind),
			Description:   it.Description,
			OldReading:    it.OldReading,
			NewReading:    it.NewReading,
			ConsumedUnits: it.ConsumedUnits,
			UnitPrice:     it.UnitPrice,
			Quantity:      it.Quantity,
			Amount:        it.Amount,
		}
		if it.ServiceID != nil {
			sid := string(*it.ServiceID)
			dtos[i].ServiceID = &sid
		}
	}
	return dtos
}

func toPaymentDTO(e billing.PaymentHistoryEntry) PaymentDTO {
	return PaymentDTO{
		PaymentNumber:     e.PaymentNumber,
		PaymentAmount:     e.PaymentAmount,
		PartialPaymentFee: e.PartialPaymentFee,
		OverdueInterest:   e.OverdueInterest,
		PaymentMethod:     string(e.PaymentMethod),
		Status:            string(e.Status),
		TransactionID:     e.TransactionID,
		OutstandingBefore: e.OutstandingBefore,
		OutstandingAfter:  e.OutstandingAfter,
		PaidBefore:        e.PaidBefore,
		PaidAfter:         e.PaidAfter,
		IsPartialPayment:  e.IsPartialPayment,
		IsFinalPayment:    e.IsFinalPayment,
		Notes:             e.Notes,
		PaidAt:            e.PaidAt.Format(time.RFC3339),
	}
}

func toPaymentDTOs(entries []billing.PaymentHistoryEntry) []PaymentDTO {
	dtos := make([]PaymentDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toPaymentDTO(e)
	}
	return dtos
}

func toPaymentResultDTO(r *billing.PaymentResult) PaymentResultDTO {
	return PaymentResultDTO{
		Bill:        toBillDTO(r.Bill),
		Payment:     toPaymentDTO(r.Entry),
		Outstanding: r.Outstanding,
		Settled:     r.Settled,
		Capped:      r.Capped,
		Duplicate:   r.Duplicate,
	}
}

func toSnapshotDTO(s *billing.BillSnapshot) BillSnapshotDTO {
	dto := BillSnapshotDTO{
		Bill:     toBillDTO(s.Bill),
		Items:    toLineItemDTOs(s.Items),
		Payments: toPaymentDTOs(s.Payments),
		Interest: s.Interest,
		AsOf:     s.AsOf.Format(time.RFC3339),
	}
	if s.Penalty != nil {
		p := toBillDTO(*s.Penalty)
		dto.Penalty = &p
	}
	return dto
}

func toSchedulerRunDTO(r billing.SchedulerRun) SchedulerRunDTO {
	return SchedulerRunDTO{
		ID:          r.ID,
		Task:        r.Task,
		Status:      string(r.Status),
		Processed:   r.Processed,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		Error:       r.Error,
		StartedAt:   r.StartedAt.Format(time.RFC3339),
		CompletedAt: formatTimePtr(r.CompletedAt),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
