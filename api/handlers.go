/*
handlers.go - HTTP API handlers for the rental billing engine

PURPOSE:
  Exposes bill generation, payments and the penalty lifecycle via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  billing package.

ENDPOINTS:
  Inbound records (pushed by contract management / metering):
    GET    /api/contracts                    List contracts (?status=)
    POST   /api/contracts                    Upsert contract
    GET    /api/contracts/{id}               Get contract
    POST   /api/contracts/{id}/first-bill    Bill the first cycle
    POST   /api/services                     Upsert service
    POST   /api/services/{id}/prices         Add price history row
    POST   /api/readings                     Record meter reading

  Bills:
    GET    /api/bills                        List (?contract_id= &type= &unpaid= &limit=)
    POST   /api/bills                        Generate RENT / SERVICE / CUSTOM bill
    GET    /api/bills/{id}                   Bill snapshot
    GET    /api/bills/{id}/interest          Interest preview (?at=)
    GET    /api/bills/{id}/verify            Replay history against the bill

  Payments:
    GET    /api/bills/{id}/payments          Payment history
    POST   /api/bills/{id}/payments          Apply payment
    PATCH  /api/bills/{id}/payments/{number} Attach gateway transaction
    POST   /api/payments/confirm             Gateway confirmation

  Admin:
    POST   /api/admin/bills/generate         Bill every active contract
    DELETE /api/admin/bills/{id}             Delete bill

  Scheduler:
    POST   /api/scheduler/run                Run a task now
    GET    /api/scheduler/runs               Recent runs (?limit=)

  Policy:
    GET    /api/policy                       Effective penalty policy

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: billing.Store (SQLite in production, memory in tests)
  - Generator / Payments / Lifecycle: billing components
  - Scheduler: PenaltyScheduler for on-demand runs
  - validate: go-playground validator for request DTOs

REQUEST FLOW:
  1. Decode and validate the request DTO
  2. Convert to billing types
  3. Call the billing component
  4. Serialize response

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}:
  - 400: Validation errors, invalid input
  - 404: Bill, contract, service or payment not found
  - 409: Concurrent modification, settled bill, duplicate
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Gateway confirmations are trusted;
  signature checks belong to the caller.

SEE ALSO:
  - dto.go: Request/response data structures
  - scheduler.go: PenaltyScheduler
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/factory"
	"github.com/warp/rental-billing/generic"
	"github.com/warp/rental-billing/notify"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         billing.Store
	Policy        billing.Policy
	Calc          billing.Calculator
	Clock         generic.Clock
	Generator     *billing.Generator
	Payments      *billing.Processor
	Lifecycle     *billing.Lifecycle
	Scheduler     *PenaltyScheduler
	PolicyFactory *factory.PolicyFactory
	Logger        *slog.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the billing components around store. The scheduler it
// creates has no cron jobs; cmd/server replaces it with a scheduled one.
func NewHandler(store billing.Store, policy billing.Policy, clock generic.Clock, notifier notify.Notifier, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	calc := billing.NewCalculator(policy)
	h := &Handler{
		Store:         store,
		Policy:        policy,
		Calc:          calc,
		Clock:         clock,
		Generator:     billing.NewGenerator(store, policy, clock, logger),
		Payments:      billing.NewProcessor(store, calc, clock, logger),
		Lifecycle:     billing.NewLifecycle(store, calc, notifier, logger),
		PolicyFactory: factory.NewPolicyFactory(),
		Logger:        logger.With("component", "api"),
		validate:      newValidator(),
	}
	scheduler, err := NewPenaltyScheduler(h.Lifecycle, h.Generator, store, clock, logger, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	h.Scheduler = scheduler
	return h, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names in validation errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// CONTRACT / SERVICE / READING HANDLERS
// =============================================================================

// ListContracts returns contracts, optionally filtered by ?status=.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	status := billing.ContractStatus(strings.ToUpper(r.URL.Query().Get("status")))
	contracts, err := h.Store.ListContracts(r.Context(), status)
	if err != nil {
		writeDomainError(w, "Failed to list contracts", err)
		return
	}

	dtos := make([]ContractDTO, len(contracts))
	for i, c := range contracts {
		dtos[i] = toContractDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetContract returns a single contract.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := generic.ContractID(chi.URLParam(r, "id"))

	c, err := h.Store.GetContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// UpsertContract stores a contract pushed by contract management.
func (h *Handler) UpsertContract(w http.ResponseWriter, r *http.Request) {
	var req ContractRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid contract", err)
		return
	}

	rent, err := parseMoney("rent_amount", req.RentAmount)
	if err != nil {
		writeDomainError(w, "Invalid contract", err)
		return
	}
	if !rent.IsPositive() {
		writeDomainError(w, "Invalid contract", &generic.ValidationError{Field: "rent_amount", Reason: "must be positive"})
		return
	}
	start, _ := time.Parse(dateLayout, req.StartDate)

	c := billing.Contract{
		ID:           generic.ContractID(req.ID),
		RoomID:       generic.RoomID(req.RoomID),
		TenantID:     generic.RecipientID(req.TenantID),
		LandlordID:   generic.RecipientID(req.LandlordID),
		TenantPhone:  req.TenantPhone,
		RentAmount:   rent,
		PaymentCycle: generic.PaymentCycle(req.PaymentCycle),
		StartDate:    start,
		Status:       billing.ContractActive,
	}
	if req.Status != "" {
		c.Status = billing.ContractStatus(req.Status)
	}
	if req.EndDate != "" {
		end, _ := time.Parse(dateLayout, req.EndDate)
		if !end.After(start) {
			writeDomainError(w, "Invalid contract", &generic.ValidationError{Field: "end_date", Reason: "must be after start_date"})
			return
		}
		c.EndDate = &end
	}

	if err := h.Store.SaveContract(r.Context(), c); err != nil {
		writeDomainError(w, "Failed to save contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(c))
}

// GenerateFirstBill bills the contract's first payment cycle.
func (h *Handler) GenerateFirstBill(w http.ResponseWriter, r *http.Request) {
	id := generic.ContractID(chi.URLParam(r, "id"))

	gen, err := h.Generator.GenerateFirstBill(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to generate first bill", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGeneratedResponse(gen))
}

// UpsertService stores a room service.
func (h *Handler) UpsertService(w http.ResponseWriter, r *http.Request) {
	var req ServiceRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid service", err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	s := billing.MeteredService{
		ID:      generic.ServiceID(req.ID),
		RoomID:  generic.RoomID(req.RoomID),
		Name:    req.Name,
		Unit:    req.Unit,
		Metered: req.Metered,
		Active:  active,
	}
	if err := h.Store.SaveService(r.Context(), s); err != nil {
		writeDomainError(w, "Failed to save service", err)
		return
	}
	req.Active = &active
	writeJSON(w, http.StatusCreated, req)
}

// AddServicePrice appends a price effective from a date.
func (h *Handler) AddServicePrice(w http.ResponseWriter, r *http.Request) {
	serviceID := generic.ServiceID(chi.URLParam(r, "id"))

	var req ServicePriceRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid price", err)
		return
	}
	price, err := parseMoney("unit_price", req.UnitPrice)
	if err != nil {
		writeDomainError(w, "Invalid price", err)
		return
	}
	if price.IsNegative() {
		writeDomainError(w, "Invalid price", &generic.ValidationError{Field: "unit_price", Reason: "must not be negative"})
		return
	}
	from, _ := time.Parse(dateLayout, req.EffectiveFrom)

	p := billing.ServicePrice{ServiceID: serviceID, UnitPrice: price, EffectiveFrom: from}
	if err := h.Store.SaveServicePrice(r.Context(), p); err != nil {
		writeDomainError(w, "Failed to save price", err)
		return
	}
	writeJSON(w, http.StatusCreated, ServicePriceDTO{
		ServiceID:     string(serviceID),
		UnitPrice:     price,
		EffectiveFrom: req.EffectiveFrom,
	})
}

// RecordReading stores a meter reading. Monotonicity is checked when the
// reading is billed, so a bad reading is still recorded for correction.
func (h *Handler) RecordReading(w http.ResponseWriter, r *http.Request) {
	var req ReadingRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid reading", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	readAt, _ := time.Parse(dateLayout, req.ReadAt)

	reading := billing.MeterReading{
		ID:         req.ID,
		RoomID:     generic.RoomID(req.RoomID),
		ServiceID:  generic.ServiceID(req.ServiceID),
		OldReading: req.OldReading,
		NewReading: req.NewReading,
		ReadAt:     readAt,
	}
	if err := h.Store.SaveReading(r.Context(), reading); err != nil {
		writeDomainError(w, "Failed to save reading", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// ListBills returns bills matching the query filters.
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter billing.BillFilter

	if id := q.Get("contract_id"); id != "" {
		cid := generic.ContractID(id)
		filter.ContractID = &cid
	}
	if t := q.Get("type"); t != "" {
		for _, part := range strings.Split(t, ",") {
			bt := billing.BillType(strings.ToUpper(strings.TrimSpace(part)))
			if !bt.Valid() {
				writeDomainError(w, "Invalid filter", &generic.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown bill type %q", part)})
				return
			}
			filter.Types = append(filter.Types, bt)
		}
	}
	if u := q.Get("unpaid"); u != "" {
		unpaid, err := strconv.ParseBool(u)
		if err != nil {
			writeDomainError(w, "Invalid filter", &generic.ValidationError{Field: "unpaid", Reason: err.Error()})
			return
		}
		filter.UnpaidOnly = unpaid
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeDomainError(w, "Invalid filter", err)
		return
	}
	filter.Limit = limit

	bills, err := h.Store.ListBills(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list bills", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTOs(bills))
}

// GenerateBill creates a RENT, SERVICE or CUSTOM bill for a period.
func (h *Handler) GenerateBill(w http.ResponseWriter, r *http.Request) {
	var req GenerateBillRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid bill request", err)
		return
	}
	from, _ := time.Parse(dateLayout, req.FromDate)
	to, _ := time.Parse(dateLayout, req.ToDate)
	contractID := generic.ContractID(req.ContractID)

	var (
		gen *billing.GeneratedBill
		err error
	)
	if billing.BillType(req.Type) == billing.BillCustom {
		lines := make([]billing.CustomLine, len(req.Items))
		for i, it := range req.Items {
			price, perr := parseMoney(fmt.Sprintf("items[%d].unit_price", i), it.UnitPrice)
			if perr != nil {
				writeDomainError(w, "Invalid bill request", perr)
				return
			}
			lines[i] = billing.CustomLine{Description: it.Description, UnitPrice: price, Quantity: it.Quantity}
		}
		gen, err = h.Generator.GenerateCustomBill(r.Context(), contractID, from, to, lines, req.Notes)
	} else {
		gen, err = h.Generator.GenerateBill(r.Context(), contractID, from, to, billing.BillType(req.Type))
	}
	if err != nil {
		writeDomainError(w, "Failed to generate bill", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGeneratedResponse(gen))
}

// GetBill returns the bill snapshot: lines, payments, penalty and the
// interest a payment now would record.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	id := generic.BillID(chi.URLParam(r, "id"))

	snap, err := billing.Snapshot(r.Context(), h.Store, h.Calc, id, h.Clock.Now())
	if err != nil {
		writeDomainError(w, "Failed to get bill", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// GetInterest previews interest and penalty for a bill at ?at= (default now).
func (h *Handler) GetInterest(w http.ResponseWriter, r *http.Request) {
	id := generic.BillID(chi.URLParam(r, "id"))

	at := h.Clock.Now()
	if s := r.URL.Query().Get("at"); s != "" {
		parsed, err := parseInstant(s)
		if err != nil {
			writeDomainError(w, "Invalid at", err)
			return
		}
		at = parsed
	}

	b, err := h.Store.GetBill(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get bill", err)
		return
	}

	quote := h.Calc.PenaltyQuote(b.OutstandingAmount, b.DueDate, at)
	writeJSON(w, http.StatusOK, InterestDTO{
		BillID:        string(b.ID),
		At:            at.Format(time.RFC3339),
		Outstanding:   b.OutstandingAmount,
		OverdueDays:   quote.OverdueDays,
		MonthsOverdue: quote.MonthsOverdue,
		Rate:          quote.Rate.String(),
		Interest:      h.Calc.Interest(b.OutstandingAmount, b.DueDate, at),
		PenaltyAmount: quote.Amount,
	})
}

// VerifyBill replays the payment history against the bill's stored totals.
func (h *Handler) VerifyBill(w http.ResponseWriter, r *http.Request) {
	id := generic.BillID(chi.URLParam(r, "id"))

	err := h.Payments.Verify(r.Context(), id)
	if err != nil && !errors.Is(err, billing.ErrLedgerMismatch) {
		writeDomainError(w, "Failed to verify bill", err)
		return
	}

	resp := VerifyDTO{BillID: string(id), Consistent: err == nil}
	if err != nil {
		h.Logger.Error("ledger mismatch", "bill_id", id, "error", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns the bill's payment history.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id := generic.BillID(chi.URLParam(r, "id"))

	entries, err := h.Payments.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(entries))
}

// ApplyPayment records a payment against the bill.
// A replayed transaction id returns 200 with duplicate=true.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	id := generic.BillID(chi.URLParam(r, "id"))

	var req PaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid payment", err)
		return
	}
	amount, err := parseMoney("amount", req.Amount)
	if err != nil {
		writeDomainError(w, "Invalid payment", err)
		return
	}

	payment := billing.PaymentRequest{
		BillID:        id,
		Amount:        amount,
		Method:        billing.PaymentMethod(req.Method),
		Notes:         req.Notes,
		TransactionID: req.TransactionID,
	}
	if req.PaidAt != "" {
		at, _ := time.Parse(time.RFC3339, req.PaidAt)
		at = at.UTC()
		payment.PaidAt = &at
	}

	res, err := h.Payments.ApplyPayment(r.Context(), payment)
	if err != nil {
		writeDomainError(w, "Failed to apply payment", err)
		return
	}
	writeJSON(w, paymentStatus(res), toPaymentResultDTO(res))
}

// ConfirmPayment applies a pre-validated gateway confirmation.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req GatewayConfirmRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid confirmation", err)
		return
	}
	amount, err := parseMoney("amount", req.Amount)
	if err != nil {
		writeDomainError(w, "Invalid confirmation", err)
		return
	}

	conf := billing.GatewayConfirmation{
		BillID:        generic.BillID(req.BillID),
		Amount:        amount,
		Method:        billing.PaymentMethod(req.Method),
		TransactionID: req.TransactionID,
	}
	if req.ConfirmedAt != "" {
		at, _ := time.Parse(time.RFC3339, req.ConfirmedAt)
		conf.ConfirmedAt = at.UTC()
	}

	res, err := h.Payments.ConfirmGatewayPayment(r.Context(), conf)
	if err != nil {
		writeDomainError(w, "Failed to confirm payment", err)
		return
	}
	writeJSON(w, paymentStatus(res), toPaymentResultDTO(res))
}

// AttachTransaction links a late gateway reference to a payment entry.
func (h *Handler) AttachTransaction(w http.ResponseWriter, r *http.Request) {
	id := generic.BillID(chi.URLParam(r, "id"))
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		writeDomainError(w, "Invalid payment number", &generic.ValidationError{Field: "number", Reason: "must be a positive integer"})
		return
	}

	var req AttachTransactionRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid transaction", err)
		return
	}

	entry, err := h.Payments.AttachTransaction(r.Context(), id, number, req.TransactionID, billing.PaymentStatus(req.Status))
	if err != nil {
		writeDomainError(w, "Failed to attach transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*entry))
}

func paymentStatus(res *billing.PaymentResult) int {
	if res.Duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GenerateAll bills the next started cycle of every active contract.
func (h *Handler) GenerateAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.Generator.GenerateAll(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to generate bills", err)
		return
	}

	ids := make([]string, len(res.Generated))
	for i, id := range res.Generated {
		ids[i] = string(id)
	}
	writeJSON(w, http.StatusOK, BulkResultDTO{Generated: ids, Skipped: res.Skipped, Failed: res.Failed})
}

// DeleteBill removes a bill with its lines and history.
func (h *Handler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	id := generic.BillID(chi.URLParam(r, "id"))

	if err := h.Generator.DeleteBill(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete bill", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPolicy returns the effective penalty policy in its JSON form.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.PolicyFactory.ToJSON(h.Policy))
}

// =============================================================================
// SCHEDULER HANDLERS
// =============================================================================

// RunScheduler executes one scheduler task immediately.
func (h *Handler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	var req RunTaskRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid task", err)
		return
	}

	run, err := h.Scheduler.RunNow(r.Context(), Task(req.Task))
	if run == nil {
		writeDomainError(w, "Failed to run task", err)
		return
	}
	// A failed sweep is still a recorded run; report it, not a 500.
	writeJSON(w, http.StatusOK, toSchedulerRunDTO(*run))
}

// ListSchedulerRuns returns recent scheduler executions, newest first.
func (h *Handler) ListSchedulerRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeDomainError(w, "Invalid limit", err)
		return
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeDomainError(w, "Failed to list runs", err)
		return
	}
	dtos := make([]SchedulerRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSchedulerRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and runs the validator on it.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &generic.ValidationError{Field: "body", Reason: err.Error()}
	}
	return h.validate.Struct(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]FieldErrorDTO, len(verrs))
		for i, fe := range verrs {
			details[i] = FieldErrorDTO{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "validation_failed", Details: details})
		return
	}

	status, code := statusFor(err)
	writeError(w, status, code, message, err)
}

func statusFor(err error) (int, string) {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrBillSettled):
		return http.StatusConflict, "bill_settled"
	case errors.Is(err, generic.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, generic.ErrStateConflict):
		return http.StatusConflict, "state_conflict"
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	}
	return http.StatusInternalServerError, "internal"
}

func parseMoney(field string, n json.Number) (generic.Money, error) {
	m, err := generic.ParseMoney(n.String())
	if err != nil {
		return generic.Money{}, &generic.ValidationError{Field: field, Reason: err.Error()}
	}
	return m, nil
}

// parseInstant accepts RFC3339 or a bare date (midnight UTC).
func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &generic.ValidationError{Field: "at", Reason: "use RFC3339 or YYYY-MM-DD"}
	}
	return t, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &generic.ValidationError{Field: key, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

func toGeneratedResponse(g *billing.GeneratedBill) GeneratedBillResponse {
	return GeneratedBillResponse{Bill: toBillDTO(g.Bill), Items: toLineItemDTOs(g.Items)}
}
