/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Inbound contracts, services, prices and readings
- Bill generation (rent, service, custom) and snapshots
- Payments, gateway confirmations and transaction attachment
- Error mapping (400 / 404 / 409)
- Scheduler runs and admin endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
	"github.com/warp/rental-billing/notify"
	"github.com/warp/rental-billing/store/memory"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type apiEnv struct {
	h      *Handler
	router http.Handler
	store  *memory.Memory
	clock  *generic.FixedClock
}

var march1 = generic.Date(2025, time.March, 1)

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	st := memory.New()
	clock := &generic.FixedClock{At: march1}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := NewHandler(st, billing.DefaultPolicy(), clock, notify.Discard{}, logger)
	require.NoError(t, err)
	return &apiEnv{h: h, router: NewRouter(h, []string{"*"}), store: st, clock: clock}
}

func TestNewHandler_SchedulerWithoutJobs(t *testing.T) {
	env := newAPI(t)

	require.NotNil(t, env.h.Scheduler)
	assert.Empty(t, env.h.Scheduler.NextRuns())

	run, err := env.h.Scheduler.RunNow(context.Background(), TaskAudit)
	require.NoError(t, err)
	assert.Equal(t, billing.RunCompleted, run.Status)
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
}

func contractBody(id, room, rent string) map[string]any {
	return map[string]any{
		"id":            id,
		"room_id":       room,
		"tenant_id":     id + "-tenant",
		"landlord_id":   "landlord-1",
		"rent_amount":   rent,
		"payment_cycle": "MONTHLY",
		"start_date":    "2025-03-01",
	}
}

// firstBill upserts a contract and bills its first month.
func (e *apiEnv) firstBill(t *testing.T, id, rent string) BillDTO {
	t.Helper()
	requireStatus(t, e.do(t, http.MethodPost, "/api/contracts", contractBody(id, "room-"+id, rent)), http.StatusCreated)
	rec := e.do(t, http.MethodPost, "/api/contracts/"+id+"/first-bill", nil)
	requireStatus(t, rec, http.StatusCreated)
	return decodeAs[GeneratedBillResponse](t, rec).Bill
}

// =============================================================================
// CONTRACTS AND GENERATION
// =============================================================================

func TestContractAndFirstBill(t *testing.T) {
	env := newAPI(t)

	// GIVEN: a monthly contract starting March 1
	bill := env.firstBill(t, "c-1", "3000000")

	// THEN: one rent bill due a week later
	assert.Equal(t, "RENT", bill.BillType)
	assert.Equal(t, "3000000", bill.TotalAmount.String())
	assert.Equal(t, "3000000", bill.OutstandingAmount.String())
	assert.Equal(t, "2025-03-01", bill.FromDate)
	assert.Equal(t, "2025-04-01", bill.ToDate)
	assert.Equal(t, "2025-03-08T00:00:00Z", bill.DueDate)
	assert.False(t, bill.Paid)

	// WHEN: billing the same cycle again
	rec := env.do(t, http.MethodPost, "/api/contracts/c-1/first-bill", nil)

	// THEN: conflict, no second bill
	requireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "duplicate", decodeAs[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/api/contracts/c-1", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "ACTIVE", decodeAs[ContractDTO](t, rec).Status)
}

func TestUpsertContract_Validation(t *testing.T) {
	env := newAPI(t)

	rec := env.do(t, http.MethodPost, "/api/contracts", map[string]any{"id": "c-1"})
	requireStatus(t, rec, http.StatusBadRequest)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", resp.Code)
	assert.Contains(t, rec.Body.String(), `"field":"room_id"`)

	body := contractBody("c-1", "r-1", "3000000")
	body["payment_cycle"] = "WEEKLY"
	requireStatus(t, env.do(t, http.MethodPost, "/api/contracts", body), http.StatusBadRequest)

	body = contractBody("c-1", "r-1", "-5")
	requireStatus(t, env.do(t, http.MethodPost, "/api/contracts", body), http.StatusBadRequest)

	body = contractBody("c-1", "r-1", "3000000")
	body["end_date"] = "2025-02-01"
	requireStatus(t, env.do(t, http.MethodPost, "/api/contracts", body), http.StatusBadRequest)

	requireStatus(t, env.do(t, http.MethodPost, "/api/contracts", "{not json"), http.StatusBadRequest)
	requireStatus(t, env.do(t, http.MethodGet, "/api/contracts/missing", nil), http.StatusNotFound)
}

func TestGenerateServiceBill_FromReadings(t *testing.T) {
	env := newAPI(t)
	requireStatus(t, env.do(t, http.MethodPost, "/api/contracts", contractBody("c-1", "r-1", "3000000")), http.StatusCreated)

	// GIVEN: electricity at 3,500 and a 100 -> 150 reading in March
	requireStatus(t, env.do(t, http.MethodPost, "/api/services", map[string]any{
		"id": "elec", "room_id": "r-1", "name": "Electricity", "unit": "kWh", "metered": true,
	}), http.StatusCreated)
	requireStatus(t, env.do(t, http.MethodPost, "/api/services/elec/prices", map[string]any{
		"unit_price": 3500, "effective_from": "2025-01-01",
	}), http.StatusCreated)
	requireStatus(t, env.do(t, http.MethodPost, "/api/readings", map[string]any{
		"room_id": "r-1", "service_id": "elec", "old_reading": 100, "new_reading": 150, "read_at": "2025-03-28",
	}), http.StatusCreated)

	// WHEN: billing services for March
	env.clock.Set(generic.Date(2025, time.April, 1))
	rec := env.do(t, http.MethodPost, "/api/bills", map[string]any{
		"contract_id": "c-1", "type": "SERVICE", "from_date": "2025-03-01", "to_date": "2025-04-01",
	})

	// THEN: 50 units × 3,500
	requireStatus(t, rec, http.StatusCreated)
	gen := decodeAs[GeneratedBillResponse](t, rec)
	assert.Equal(t, "SERVICE", gen.Bill.BillType)
	assert.Equal(t, "175000", gen.Bill.TotalAmount.String())
	require.Len(t, gen.Items, 1)
	require.NotNil(t, gen.Items[0].ConsumedUnits)
	assert.Equal(t, int64(50), *gen.Items[0].ConsumedUnits)
	assert.Equal(t, "elec", *gen.Items[0].ServiceID)
}

func TestGenerateCustomBill(t *testing.T) {
	env := newAPI(t)
	requireStatus(t, env.do(t, http.MethodPost, "/api/contracts", contractBody("c-1", "r-1", "3000000")), http.StatusCreated)

	// Items are required for CUSTOM bills
	rec := env.do(t, http.MethodPost, "/api/bills", map[string]any{
		"contract_id": "c-1", "type": "CUSTOM", "from_date": "2025-03-01", "to_date": "2025-03-02",
	})
	requireStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/bills", map[string]any{
		"contract_id": "c-1", "type": "CUSTOM", "from_date": "2025-03-01", "to_date": "2025-03-02",
		"notes": "repairs",
		"items": []map[string]any{
			{"description": "Lock replacement", "unit_price": "150000", "quantity": 1},
			{"description": "Key copy", "unit_price": 20000, "quantity": 3},
		},
	})
	requireStatus(t, rec, http.StatusCreated)
	gen := decodeAs[GeneratedBillResponse](t, rec)
	assert.Equal(t, "CUSTOM", gen.Bill.BillType)
	assert.Equal(t, "210000", gen.Bill.TotalAmount.String())
	assert.Equal(t, "repairs", gen.Bill.Notes)
	assert.Len(t, gen.Items, 2)

	// PENALTY bills are never created through this endpoint
	rec = env.do(t, http.MethodPost, "/api/bills", map[string]any{
		"contract_id": "c-1", "type": "PENALTY", "from_date": "2025-03-01", "to_date": "2025-04-01",
	})
	requireStatus(t, rec, http.StatusBadRequest)

	// Unknown contract
	rec = env.do(t, http.MethodPost, "/api/bills", map[string]any{
		"contract_id": "nope", "type": "RENT", "from_date": "2025-03-01", "to_date": "2025-04-01",
	})
	requireStatus(t, rec, http.StatusNotFound)
}

// =============================================================================
// SNAPSHOTS AND PREVIEWS
// =============================================================================

func TestGetBillAndInterestPreview(t *testing.T) {
	env := newAPI(t)
	bill := env.firstBill(t, "c-1", "3000000")

	rec := env.do(t, http.MethodGet, "/api/bills/"+bill.ID, nil)
	requireStatus(t, rec, http.StatusOK)
	snap := decodeAs[BillSnapshotDTO](t, rec)
	assert.Equal(t, bill.ID, snap.Bill.ID)
	assert.Len(t, snap.Items, 1)
	assert.Empty(t, snap.Payments)
	assert.Nil(t, snap.Penalty)
	assert.True(t, snap.Interest.IsZero(), "not overdue yet")

	// 40 days after the March 8 due date: second month, 8%
	rec = env.do(t, http.MethodGet, "/api/bills/"+bill.ID+"/interest?at=2025-04-17", nil)
	requireStatus(t, rec, http.StatusOK)
	preview := decodeAs[InterestDTO](t, rec)
	assert.Equal(t, 40, preview.OverdueDays)
	assert.Equal(t, 2, preview.MonthsOverdue)
	assert.Equal(t, "0.08", preview.Rate)
	assert.Equal(t, "240000", preview.PenaltyAmount.String())

	requireStatus(t, env.do(t, http.MethodGet, "/api/bills/"+bill.ID+"/interest?at=tomorrow", nil), http.StatusBadRequest)
	requireStatus(t, env.do(t, http.MethodGet, "/api/bills/missing", nil), http.StatusNotFound)
}


func TestListBills_Filters(t *testing.T) {
	env := newAPI(t)
	a := env.firstBill(t, "c-1", "1000000")
	env.firstBill(t, "c-2", "2000000")

	// GIVEN: c-1's bill is settled
	requireStatus(t, env.do(t, http.MethodPost, "/api/bills/"+a.ID+"/payments", map[string]any{"amount": 1000000}), http.StatusCreated)

	rec := env.do(t, http.MethodGet, "/api/bills", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decodeAs[[]BillDTO](t, rec), 2)

	rec = env.do(t, http.MethodGet, "/api/bills?unpaid=true&type=rent", nil)
	requireStatus(t, rec, http.StatusOK)
	unpaid := decodeAs[[]BillDTO](t, rec)
	require.Len(t, unpaid, 1)
	assert.Equal(t, "c-2", unpaid[0].ContractID)

	rec = env.do(t, http.MethodGet, "/api/bills?contract_id=c-1", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decodeAs[[]BillDTO](t, rec), 1)

	requireStatus(t, env.do(t, http.MethodGet, "/api/bills?type=WEEKLY", nil), http.StatusBadRequest)
	requireStatus(t, env.do(t, http.MethodGet, "/api/bills?unpaid=maybe", nil), http.StatusBadRequest)
	requireStatus(t, env.do(t, http.MethodGet, "/api/bills?limit=-1", nil), http.StatusBadRequest)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestApplyPayment_LatePartial(t *testing.T) {
	env := newAPI(t)
	bill := env.firstBill(t, "c-1", "1000000")

	// GIVEN: ten days after the due date
	env.clock.Set(generic.Date(2025, time.March, 18))

	// WHEN: paying 400,000 of 1,000,000
	rec := env.do(t, http.MethodPost, "/api/bills/"+bill.ID+"/payments", map[string]any{
		"amount": "400000", "payment_method": "BANK_TRANSFER", "transaction_id": "tx-1",
	})

	// THEN: first-month interest is recorded and the bill stays open
	requireStatus(t, rec, http.StatusCreated)
	res := decodeAs[PaymentResultDTO](t, rec)
	assert.Equal(t, "50000", res.Payment.OverdueInterest.String())
	assert.Equal(t, "4000", res.Payment.PartialPaymentFee.String())
	assert.Equal(t, "400000", res.Bill.PaidAmount.String())
	assert.Equal(t, "600000", res.Outstanding.String())
	assert.True(t, res.Bill.IsPartiallyPaid)
	assert.False(t, res.Settled)
	assert.Equal(t, 1, res.Payment.PaymentNumber)

	// Replaying the same transaction is a no-op
	rec = env.do(t, http.MethodPost, "/api/bills/"+bill.ID+"/payments", map[string]any{
		"amount": "400000", "transaction_id": "tx-1",
	})
	requireStatus(t, rec, http.StatusOK)
	assert.True(t, decodeAs[PaymentResultDTO](t, rec).Duplicate)

	// Paying the rest settles the bill
	rec = env.do(t, http.MethodPost, "/api/bills/"+bill.ID+"/payments", map[string]any{"amount": 600000})
	requireStatus(t, rec, http.StatusCreated)
	res = decodeAs[PaymentResultDTO](t, rec)
	assert.True(t, res.Settled)
	assert.True(t, res.Payment.IsFinalPayment)

	rec = env.do(t, http.MethodGet, "/api/bills/"+bill.ID+"/payments", nil)
	requireStatus(t, rec, http.StatusOK)
	history := decodeAs[[]PaymentDTO](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, "tx-1", history[0].TransactionID)

	rec = env.do(t, http.MethodGet, "/api/bills/"+bill.ID+"/verify", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.True(t, decodeAs[VerifyDTO](t, rec).Consistent)
}

func TestApplyPayment_Errors(t *testing.T) {
	env := newAPI(t)
	bill := env.firstBill(t, "c-1", "500000")
	path := "/api/bills/" + bill.ID + "/payments"

	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"zero amount", map[string]any{"amount": 0}, http.StatusBadRequest, "validation_failed"},
		{"not a number", map[string]any{"amount": "lots"}, http.StatusBadRequest, "validation_failed"},
		{"unknown method", map[string]any{"amount": 1, "payment_method": "CHEQUE"}, http.StatusBadRequest, "validation_failed"},
		{"bad paid_at", map[string]any{"amount": 1, "paid_at": "yesterday"}, http.StatusBadRequest, "validation_failed"},
		{"above outstanding", map[string]any{"amount": 500001}, http.StatusBadRequest, "validation_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, path, tc.body)
			requireStatus(t, rec, tc.status)
			assert.Equal(t, tc.code, decodeAs[ErrorResponse](t, rec).Code)
		})
	}

	requireStatus(t, env.do(t, http.MethodPost, "/api/bills/missing/payments", map[string]any{"amount": 1}), http.StatusNotFound)

	// Settled bills reject further payments
	requireStatus(t, env.do(t, http.MethodPost, path, map[string]any{"amount": 500000}), http.StatusCreated)
	rec := env.do(t, http.MethodPost, path, map[string]any{"amount": 1})
	requireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "bill_settled", decodeAs[ErrorResponse](t, rec).Code)
}

func TestConfirmPayment_OncePerTransaction(t *testing.T) {
	env := newAPI(t)
	a := env.firstBill(t, "c-1", "1000000")
	b := env.firstBill(t, "c-2", "1000000")

	body := map[string]any{
		"bill_id": a.ID, "amount": 300000, "transaction_id": "gw-77", "confirmed_at": "2025-03-05T10:00:00Z",
	}
	rec := env.do(t, http.MethodPost, "/api/payments/confirm", body)
	requireStatus(t, rec, http.StatusCreated)
	res := decodeAs[PaymentResultDTO](t, rec)
	assert.Equal(t, "GATEWAY", res.Payment.PaymentMethod)
	assert.Equal(t, "2025-03-05T10:00:00Z", res.Payment.PaidAt)

	// Gateway retries deliver the same event
	rec = env.do(t, http.MethodPost, "/api/payments/confirm", body)
	requireStatus(t, rec, http.StatusOK)
	assert.True(t, decodeAs[PaymentResultDTO](t, rec).Duplicate)

	// The same transaction cannot pay another bill
	body["bill_id"] = b.ID
	rec = env.do(t, http.MethodPost, "/api/payments/confirm", body)
	requireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "duplicate", decodeAs[ErrorResponse](t, rec).Code)

	requireStatus(t, env.do(t, http.MethodPost, "/api/payments/confirm", map[string]any{"bill_id": a.ID, "amount": 1}), http.StatusBadRequest)
}

func TestAttachTransaction(t *testing.T) {
	env := newAPI(t)
	bill := env.firstBill(t, "c-1", "1000000")
	requireStatus(t, env.do(t, http.MethodPost, "/api/bills/"+bill.ID+"/payments", map[string]any{"amount": 100000}), http.StatusCreated)

	rec := env.do(t, http.MethodPatch, "/api/bills/"+bill.ID+"/payments/1", map[string]any{"transaction_id": "late-ref"})
	requireStatus(t, rec, http.StatusOK)
	entry := decodeAs[PaymentDTO](t, rec)
	assert.Equal(t, "late-ref", entry.TransactionID)
	assert.Equal(t, "COMPLETED", entry.Status)

	requireStatus(t, env.do(t, http.MethodPatch, "/api/bills/"+bill.ID+"/payments/9", map[string]any{"transaction_id": "x"}), http.StatusNotFound)
	requireStatus(t, env.do(t, http.MethodPatch, "/api/bills/"+bill.ID+"/payments/zero", map[string]any{"transaction_id": "x"}), http.StatusBadRequest)
	requireStatus(t, env.do(t, http.MethodPatch, "/api/bills/"+bill.ID+"/payments/1", map[string]any{"transaction_id": "x", "status": "LOST"}), http.StatusBadRequest)
}

// =============================================================================
// ADMIN / SCHEDULER
// =============================================================================

func TestGenerateAllAndDelete(t *testing.T) {
	env := newAPI(t)
	for _, id := range []string{"c-1", "c-2"} {
		requireStatus(t, env.do(t, http.MethodPost, "/api/contracts", contractBody(id, "room-"+id, "1000000")), http.StatusCreated)
	}

	rec := env.do(t, http.MethodPost, "/api/admin/bills/generate", nil)
	requireStatus(t, rec, http.StatusOK)
	bulk := decodeAs[BulkResultDTO](t, rec)
	require.Len(t, bulk.Generated, 2)
	assert.Zero(t, bulk.Failed)

	rec = env.do(t, http.MethodDelete, "/api/admin/bills/"+bulk.Generated[0], nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	requireStatus(t, env.do(t, http.MethodGet, "/api/bills/"+bulk.Generated[0], nil), http.StatusNotFound)
	requireStatus(t, env.do(t, http.MethodDelete, "/api/admin/bills/"+bulk.Generated[0], nil), http.StatusNotFound)
}

func TestRunScheduler_TickCreatesPenalty(t *testing.T) {
	env := newAPI(t)
	bill := env.firstBill(t, "c-1", "3000000")

	// GIVEN: three days past the March 8 due date
	env.clock.Set(generic.Date(2025, time.March, 11))

	// WHEN: running the tick on demand
	rec := env.do(t, http.MethodPost, "/api/scheduler/run", map[string]any{"task": "tick"})

	// THEN: one warning and one 5% penalty
	requireStatus(t, rec, http.StatusOK)
	run := decodeAs[SchedulerRunDTO](t, rec)
	assert.Equal(t, "tick", run.Task)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 2, run.Processed)
	assert.NotNil(t, run.CompletedAt)

	rec = env.do(t, http.MethodGet, "/api/bills?type=PENALTY", nil)
	requireStatus(t, rec, http.StatusOK)
	penalties := decodeAs[[]BillDTO](t, rec)
	require.Len(t, penalties, 1)
	assert.Equal(t, "150000", penalties[0].TotalAmount.String())
	require.NotNil(t, penalties[0].OriginalBillID)
	assert.Equal(t, bill.ID, *penalties[0].OriginalBillID)
	assert.Equal(t, "0.05", *penalties[0].PenaltyRate)

	rec = env.do(t, http.MethodGet, "/api/bills/"+bill.ID, nil)
	requireStatus(t, rec, http.StatusOK)
	snap := decodeAs[BillSnapshotDTO](t, rec)
	require.NotNil(t, snap.Penalty)
	assert.Equal(t, penalties[0].ID, snap.Penalty.ID)

	rec = env.do(t, http.MethodGet, "/api/scheduler/runs", nil)
	requireStatus(t, rec, http.StatusOK)
	runs := decodeAs[[]SchedulerRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	requireStatus(t, env.do(t, http.MethodPost, "/api/scheduler/run", map[string]any{"task": "reboot"}), http.StatusBadRequest)
}

// =============================================================================
// POLICY / HEALTH
// =============================================================================

func TestGetPolicy(t *testing.T) {
	env := newAPI(t)

	rec := env.do(t, http.MethodGet, "/api/policy", nil)
	requireStatus(t, rec, http.StatusOK)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["penalty_after_days"])
	assert.Len(t, body["rates"], 4)
}

func TestHealthz(t *testing.T) {
	env := newAPI(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
