/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	contracts, services, readings, bills and payments. Each scenario shows
	one part of the billing lifecycle.

AVAILABLE SCENARIOS:

	on-time-payment:      Monthly rent bill paid in full before the due date
	late-partial-payment: Partial payment after the due date, interest and fee recorded
	penalty-escalation:   Bill two months overdue, tick creates a 12% penalty
	metered-services:     Electricity 100 -> 150 kWh at 3,500 plus a flat water fee

HOW SCENARIOS WORK:
 1. Upsert the contract (and services, prices, readings)
 2. Generate bills with a generator whose clock is set in the past
 3. Apply payments at backdated instants
 4. Optionally run a lifecycle tick at the real clock

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "penalty-escalation"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to scenarioLoaders

NOTE:

	Scenario records use fixed "demo-" ids. Loading a scenario twice is
	rejected with 409 because its bills already exist.

SEE ALSO:
  - handlers.go: Handler dependencies
  - billing/generator.go: Bill generation
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "on-time-payment",
		Name:        "On-Time Payment",
		Description: "Monthly rent bill paid in full before the due date",
		Category:    "payments",
	},
	{
		ID:          "late-partial-payment",
		Name:        "Late Partial Payment",
		Description: "1,000,000 paid ten days late on a 3,000,000 bill: interest and a 1% fee are recorded",
		Category:    "payments",
	},
	{
		ID:          "penalty-escalation",
		Name:        "Penalty Escalation",
		Description: "Rent bill 68 days overdue; the lifecycle tick warns and creates a 12% penalty",
		Category:    "penalties",
	},
	{
		ID:          "metered-services",
		Name:        "Metered Services",
		Description: "Electricity reading 100 -> 150 at 3,500 per kWh plus flat water, billed as a SERVICE bill",
		Category:    "generation",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler) error

var scenarioLoaders = map[string]scenarioLoader{
	"on-time-payment":      loadOnTimeScenario,
	"late-partial-payment": loadLatePartialScenario,
	"penalty-escalation":   loadPenaltyScenario,
	"metered-services":     loadMeteredScenario,
}

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last scenario loaded by this process.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario seeds the store with a demo scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeDomainError(w, "Unknown scenario",
			&generic.NotFoundError{Kind: "scenario", ID: req.ScenarioID})
		return
	}
	if err := load(r.Context(), h); err != nil {
		writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info("scenario loaded", "scenario_id", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "loaded",
		"scenario_id": req.ScenarioID,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadOnTimeScenario(ctx context.Context, h *Handler) error {
	start := monthStart(h.Clock.Now())
	c := demoContract("demo-on-time", "room-101", start)
	if err := h.Store.SaveContract(ctx, c); err != nil {
		return err
	}

	gen, err := h.generatorAt(start).GenerateFirstBill(ctx, c.ID)
	if err != nil {
		return err
	}
	paidAt := gen.Bill.BillDate
	_, err = h.Payments.ApplyPayment(ctx, billing.PaymentRequest{
		BillID:        gen.Bill.ID,
		Amount:        gen.Bill.TotalAmount,
		Method:        billing.MethodBankTransfer,
		TransactionID: "demo-on-time-tx-1",
		PaidAt:        &paidAt,
	})
	return err
}

func loadLatePartialScenario(ctx context.Context, h *Handler) error {
	start := generic.StartOfDay(h.Clock.Now()).AddDate(0, 0, -40)
	c := demoContract("demo-late-partial", "room-102", start)
	if err := h.Store.SaveContract(ctx, c); err != nil {
		return err
	}

	gen, err := h.generatorAt(start).GenerateFirstBill(ctx, c.ID)
	if err != nil {
		return err
	}
	paidAt := gen.Bill.DueDate.AddDate(0, 0, 10)
	_, err = h.Payments.ApplyPayment(ctx, billing.PaymentRequest{
		BillID: gen.Bill.ID,
		Amount: generic.NewMoney(1_000_000),
		Method: billing.MethodCash,
		Notes:  "first instalment",
		PaidAt: &paidAt,
	})
	return err
}

func loadPenaltyScenario(ctx context.Context, h *Handler) error {
	now := h.Clock.Now()
	start := generic.StartOfDay(now).AddDate(0, 0, -75)
	c := demoContract("demo-penalty", "room-103", start)
	if err := h.Store.SaveContract(ctx, c); err != nil {
		return err
	}

	if _, err := h.generatorAt(start).GenerateFirstBill(ctx, c.ID); err != nil {
		return err
	}
	_, err := h.Lifecycle.Tick(ctx, now)
	return err
}

func loadMeteredScenario(ctx context.Context, h *Handler) error {
	start := monthStart(h.Clock.Now()).AddDate(0, -1, 0)
	end := start.AddDate(0, 1, 0)
	c := demoContract("demo-metered", "room-104", start)
	if err := h.Store.SaveContract(ctx, c); err != nil {
		return err
	}

	services := []billing.MeteredService{
		{ID: "demo-electricity", RoomID: c.RoomID, Name: "Electricity", Unit: "kWh", Metered: true, Active: true},
		{ID: "demo-water", RoomID: c.RoomID, Name: "Water", Unit: "month", Metered: false, Active: true},
	}
	prices := []billing.ServicePrice{
		{ServiceID: "demo-electricity", UnitPrice: generic.NewMoney(3_500), EffectiveFrom: start},
		{ServiceID: "demo-water", UnitPrice: generic.NewMoney(100_000), EffectiveFrom: start},
	}
	for _, s := range services {
		if err := h.Store.SaveService(ctx, s); err != nil {
			return err
		}
	}
	for _, p := range prices {
		if err := h.Store.SaveServicePrice(ctx, p); err != nil {
			return err
		}
	}
	if err := h.Store.SaveReading(ctx, billing.MeterReading{
		ID:         "demo-electricity-reading-1",
		RoomID:     c.RoomID,
		ServiceID:  "demo-electricity",
		OldReading: 100,
		NewReading: 150,
		ReadAt:     start.AddDate(0, 0, 27),
	}); err != nil {
		return err
	}

	_, err := h.generatorAt(end).GenerateBill(ctx, c.ID, start, end, billing.BillService)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// generatorAt returns a generator that bills as of at.
func (h *Handler) generatorAt(at time.Time) *billing.Generator {
	return billing.NewGenerator(h.Store, h.Policy, &generic.FixedClock{At: at}, h.Logger)
}

func demoContract(id, room string, start time.Time) billing.Contract {
	return billing.Contract{
		ID:           generic.ContractID(id),
		RoomID:       generic.RoomID(room),
		TenantID:     generic.RecipientID(id + "-tenant"),
		LandlordID:   "demo-landlord",
		RentAmount:   generic.NewMoney(3_000_000),
		PaymentCycle: generic.CycleMonthly,
		StartDate:    start,
		Status:       billing.ContractActive,
	}
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return generic.Date(t.Year(), t.Month(), 1)
}
