// Package storetest holds the conformance suite every billing.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) billing.Store

var (
	march1  = generic.Date(2025, time.March, 1)
	april1  = generic.Date(2025, time.April, 1)
	errBoom = errors.New("boom")
)

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st billing.Store)
	}{
		{"BillRoundTrip", testBillRoundTrip},
		{"GetBillNotFound", testGetBillNotFound},
		{"UpdateBillVersioning", testUpdateBillVersioning},
		{"UniqueBills", testUniqueBills},
		{"ServiceUsageBilledOnce", testServiceUsageBilledOnce},
		{"RollbackOnError", testRollbackOnError},
		{"PaymentHistory", testPaymentHistory},
		{"ClaimNotification", testClaimNotification},
		{"DeleteBillCascades", testDeleteBillCascades},
		{"ReplaceLineItems", testReplaceLineItems},
		{"ListBillsFilter", testListBillsFilter},
		{"PriceHistory", testPriceHistory},
		{"ReadingsHalfOpen", testReadingsHalfOpen},
		{"InboundRecords", testInboundRecords},
		{"SchedulerRuns", testSchedulerRuns},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

func money(v int64) generic.Money { return generic.NewMoney(v) }

func rentBill(id generic.BillID, contract generic.ContractID, from time.Time) billing.Bill {
	return billing.Bill{
		ID:                          id,
		ContractID:                  contract,
		RoomID:                      "r-1",
		FromDate:                    from,
		ToDate:                      from.AddDate(0, 1, 0),
		BillDate:                    from,
		DueDate:                     from.AddDate(0, 0, 7),
		BillType:                    billing.BillRent,
		TotalAmount:                 money(1_000_000),
		PaidAmount:                  money(0),
		PartialPaymentFeesCollected: money(0),
		OutstandingAmount:           money(1_000_000),
		CreatedAt:                   from,
		UpdatedAt:                   from,
	}
}

func penaltyBill(id, original generic.BillID) billing.Bill {
	b := rentBill(id, "c-1", march1)
	b.BillType = billing.BillPenalty
	b.OriginalBillID = &original
	rate := generic.MustParseRate("0.05")
	days := 12
	amount := money(50_000)
	b.PenaltyRate = &rate
	b.OverdueDays = &days
	b.PenaltyAmount = &amount
	b.TotalAmount = amount
	b.OutstandingAmount = amount
	return b
}

func insert(t *testing.T, st billing.Store, b billing.Bill, items ...billing.BillLineItem) {
	t.Helper()
	err := st.WithTx(context.Background(), func(tx billing.Tx) error {
		return tx.InsertBill(context.Background(), b, items)
	})
	require.NoError(t, err)
}

func insertErr(st billing.Store, b billing.Bill) error {
	return st.WithTx(context.Background(), func(tx billing.Tx) error {
		return tx.InsertBill(context.Background(), b, nil)
	})
}

func entry(bill generic.BillID, n int, amount int64, txID string) billing.PaymentHistoryEntry {
	return billing.PaymentHistoryEntry{
		ID:                string(bill) + "-p" + string(rune('0'+n)),
		BillID:            bill,
		PaymentNumber:     n,
		PaymentAmount:     money(amount),
		PartialPaymentFee: money(0),
		OverdueInterest:   money(0),
		PaymentMethod:     billing.MethodCash,
		Status:            billing.PaymentCompleted,
		TransactionID:     txID,
		OutstandingBefore: money(1_000_000 - int64(n-1)*amount),
		OutstandingAfter:  money(1_000_000 - int64(n)*amount),
		PaidBefore:        money(int64(n-1) * amount),
		PaidAfter:         money(int64(n) * amount),
		IsPartialPayment:  true,
		PaidAt:            march1.AddDate(0, 0, n),
	}
}

func assertMoney(t *testing.T, want int64, got generic.Money) {
	t.Helper()
	assert.Equal(t, money(want).String(), got.String())
}

// =============================================================================
// BILLS
// =============================================================================

func testBillRoundTrip(t *testing.T, st billing.Store) {
	ctx := context.Background()
	insert(t, st, rentBill("orig", "c-1", march1))

	pen := penaltyBill("pen", "orig")
	pen.Notes = "late"
	paidAt := march1.AddDate(0, 0, 20)
	pen.LastPaymentDate = &paidAt
	svc := generic.ServiceID("elec")
	oldR, newR, used := int64(100), int64(150), int64(50)
	insert(t, st, pen,
		billing.BillLineItem{ID: "l1", BillID: "pen", Kind: billing.LinePenalty, Description: "Penalty",
			UnitPrice: money(50_000), Quantity: 1, Amount: money(50_000)},
		billing.BillLineItem{ID: "l2", BillID: "pen", Kind: billing.LineService, ServiceID: &svc, Description: "Electricity",
			OldReading: &oldR, NewReading: &newR, ConsumedUnits: &used, UnitPrice: money(0), Quantity: 50, Amount: money(0)},
	)

	got, err := st.GetBill(ctx, "pen")
	require.NoError(t, err)
	assert.Equal(t, billing.BillPenalty, got.BillType)
	assert.True(t, got.FromDate.Equal(march1))
	assert.True(t, got.DueDate.Equal(pen.DueDate))
	assertMoney(t, 50_000, got.TotalAmount)
	require.NotNil(t, got.OriginalBillID)
	assert.Equal(t, generic.BillID("orig"), *got.OriginalBillID)
	require.NotNil(t, got.PenaltyRate)
	assert.True(t, got.PenaltyRate.Equal(generic.MustParseRate("0.05")))
	require.NotNil(t, got.OverdueDays)
	assert.Equal(t, 12, *got.OverdueDays)
	require.NotNil(t, got.PenaltyAmount)
	assertMoney(t, 50_000, *got.PenaltyAmount)
	require.NotNil(t, got.LastPaymentDate)
	assert.True(t, got.LastPaymentDate.Equal(paidAt))
	assert.Nil(t, got.PaidDate)
	assert.Equal(t, "late", got.Notes)

	items, err := st.LineItems(ctx, "pen")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "l1", items[0].ID)
	assert.Nil(t, items[0].ServiceID)
	require.NotNil(t, items[1].ConsumedUnits)
	assert.Equal(t, int64(50), *items[1].ConsumedUnits)
	assert.Equal(t, svc, *items[1].ServiceID)

	found, err := st.PenaltyFor(ctx, "orig")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, generic.BillID("pen"), found.ID)

	none, err := st.PenaltyFor(ctx, "pen")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testGetBillNotFound(t *testing.T, st billing.Store) {
	_, err := st.GetBill(context.Background(), "missing")
	assert.True(t, generic.IsNotFound(err))
}

func testUpdateBillVersioning(t *testing.T, st billing.Store) {
	ctx := context.Background()
	b := rentBill("b-1", "c-1", march1)
	insert(t, st, b)

	b.PaidAmount = money(400_000)
	b.OutstandingAmount = money(600_000)
	b.IsPartiallyPaid = true
	require.NoError(t, st.WithTx(ctx, func(tx billing.Tx) error { return tx.UpdateBill(ctx, b) }))

	got, err := st.GetBill(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assertMoney(t, 600_000, got.OutstandingAmount)
	assert.True(t, got.IsPartiallyPaid)

	err = st.WithTx(ctx, func(tx billing.Tx) error { return tx.UpdateBill(ctx, b) })
	assert.True(t, generic.IsRetryable(err), "stale version must conflict: %v", err)

	ghost := rentBill("ghost", "c-1", march1)
	err = st.WithTx(ctx, func(tx billing.Tx) error { return tx.UpdateBill(ctx, ghost) })
	assert.True(t, generic.IsNotFound(err))
}

func testUniqueBills(t *testing.T, st billing.Store) {
	insert(t, st, rentBill("b-1", "c-1", march1))
	insert(t, st, penaltyBill("pen-1", "b-1"))

	assert.ErrorIs(t, insertErr(st, penaltyBill("pen-2", "b-1")), generic.ErrStateConflict)
	assert.ErrorIs(t, insertErr(st, rentBill("b-2", "c-1", march1)), generic.ErrStateConflict)
	assert.ErrorIs(t, insertErr(st, rentBill("b-1", "c-2", april1)), generic.ErrStateConflict)

	// Other contracts, other periods and ad hoc bills are fine.
	assert.NoError(t, insertErr(st, rentBill("b-3", "c-2", march1)))
	assert.NoError(t, insertErr(st, rentBill("b-4", "c-1", april1)))
	c1 := rentBill("x-1", "c-1", march1)
	c1.BillType = billing.BillCustom
	c2 := rentBill("x-2", "c-1", march1)
	c2.BillType = billing.BillCustom
	assert.NoError(t, insertErr(st, c1))
	assert.NoError(t, insertErr(st, c2))
}

func serviceLine(id string, bill generic.BillID) billing.BillLineItem {
	svc := generic.ServiceID("elec")
	return billing.BillLineItem{ID: id, BillID: bill, Kind: billing.LineService, ServiceID: &svc,
		Description: "Electricity", UnitPrice: money(3_500), Quantity: 50, Amount: money(175_000)}
}

func testServiceUsageBilledOnce(t *testing.T, st billing.Store) {
	insertWith := func(b billing.Bill, items ...billing.BillLineItem) error {
		return st.WithTx(context.Background(), func(tx billing.Tx) error {
			return tx.InsertBill(context.Background(), b, items)
		})
	}
	service := func(id generic.BillID, contract generic.ContractID, from, to time.Time) billing.Bill {
		b := rentBill(id, contract, from)
		b.BillType = billing.BillService
		b.ToDate = to
		return b
	}

	// March rent already carries the services
	insert(t, st, rentBill("rent-mar", "c-1", march1),
		billing.BillLineItem{ID: "rent", BillID: "rent-mar", Kind: billing.LineRent, Description: "Rent",
			UnitPrice: money(1_000_000), Quantity: 1, Amount: money(1_000_000)},
		serviceLine("svc-1", "rent-mar"))

	err := insertWith(service("svc-mar", "c-1", march1, april1), serviceLine("svc-2", "svc-mar"))
	assert.ErrorIs(t, err, generic.ErrStateConflict)
	err = insertWith(service("svc-mid", "c-1", march1.AddDate(0, 0, 10), march1.AddDate(0, 0, 20)), serviceLine("svc-3", "svc-mid"))
	assert.ErrorIs(t, err, generic.ErrStateConflict)
	_, err = st.GetBill(context.Background(), "svc-mar")
	assert.True(t, generic.IsNotFound(err))

	// Next month, another contract, or a rent-only bill over billed usage are fine
	assert.NoError(t, insertWith(service("svc-apr", "c-1", april1, april1.AddDate(0, 1, 0)), serviceLine("svc-4", "svc-apr")))
	assert.NoError(t, insertWith(service("svc-c2", "c-2", march1, april1), serviceLine("svc-5", "svc-c2")))
	assert.NoError(t, insertWith(rentBill("rent-apr", "c-1", april1),
		billing.BillLineItem{ID: "rent-2", BillID: "rent-apr", Kind: billing.LineRent, Description: "Rent",
			UnitPrice: money(1_000_000), Quantity: 1, Amount: money(1_000_000)}))
}

func testRollbackOnError(t *testing.T, st billing.Store) {
	ctx := context.Background()
	err := st.WithTx(ctx, func(tx billing.Tx) error {
		if err := tx.InsertBill(ctx, rentBill("b-1", "c-1", march1), nil); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	_, err = st.GetBill(ctx, "b-1")
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// PAYMENTS + CLAIMS
// =============================================================================

func testPaymentHistory(t *testing.T, st billing.Store) {
	ctx := context.Background()
	insert(t, st, rentBill("b-1", "c-1", march1))

	err := st.WithTx(ctx, func(tx billing.Tx) error {
		if err := tx.AppendPayment(ctx, entry("b-1", 1, 100_000, "")); err != nil {
			return err
		}
		return tx.AppendPayment(ctx, entry("b-1", 2, 100_000, "gw-2"))
	})
	require.NoError(t, err)

	err = st.WithTx(ctx, func(tx billing.Tx) error {
		return tx.AppendPayment(ctx, entry("b-1", 2, 100_000, ""))
	})
	assert.ErrorIs(t, err, generic.ErrStateConflict)

	history, err := st.PaymentHistory(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].PaymentNumber)
	assertMoney(t, 200_000, history[1].PaidAfter)
	assert.True(t, history[1].PaidAt.Equal(march1.AddDate(0, 0, 2)))

	found, err := st.FindPaymentByTransaction(ctx, "gw-2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 2, found.PaymentNumber)

	missing, err := st.FindPaymentByTransaction(ctx, "gw-404")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = st.WithTx(ctx, func(tx billing.Tx) error {
		n, err := tx.CountPayments(ctx, "b-1")
		if err != nil {
			return err
		}
		assert.Equal(t, 2, n)
		return tx.UpdatePaymentGatewayRef(ctx, "b-1", 1, "gw-1", billing.PaymentPending)
	})
	require.NoError(t, err)

	first, err := st.FindPaymentByTransaction(ctx, "gw-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, billing.PaymentPending, first.Status)

	err = st.WithTx(ctx, func(tx billing.Tx) error {
		return tx.UpdatePaymentGatewayRef(ctx, "b-1", 9, "gw-9", billing.PaymentCompleted)
	})
	assert.True(t, generic.IsNotFound(err))

	err = st.WithTx(ctx, func(tx billing.Tx) error {
		return tx.AppendPayment(ctx, entry("nope", 1, 1, ""))
	})
	assert.True(t, generic.IsNotFound(err))
}

func testClaimNotification(t *testing.T, st billing.Store) {
	ctx := context.Background()
	insert(t, st, rentBill("b-1", "c-1", march1))

	claim := func(kind billing.NotificationKind, day time.Time) bool {
		var ok bool
		require.NoError(t, st.WithTx(ctx, func(tx billing.Tx) error {
			var err error
			ok, err = tx.ClaimNotification(ctx, "b-1", kind, day)
			return err
		}))
		return ok
	}

	assert.True(t, claim(billing.NotifyOverdueWarning, march1))
	assert.False(t, claim(billing.NotifyOverdueWarning, march1.Add(15*time.Hour)), "same day")
	assert.True(t, claim(billing.NotifyPenaltyCreated, march1), "other kind")
	assert.True(t, claim(billing.NotifyOverdueWarning, march1.AddDate(0, 0, 1)), "other day")
}

func testDeleteBillCascades(t *testing.T, st billing.Store) {
	ctx := context.Background()
	insert(t, st, rentBill("b-1", "c-1", march1),
		billing.BillLineItem{ID: "l1", BillID: "b-1", Kind: billing.LineRent, Description: "Rent",
			UnitPrice: money(1_000_000), Quantity: 1, Amount: money(1_000_000)})
	require.NoError(t, st.WithTx(ctx, func(tx billing.Tx) error {
		if _, err := tx.ClaimNotification(ctx, "b-1", billing.NotifyOverdueWarning, march1); err != nil {
			return err
		}
		return tx.AppendPayment(ctx, entry("b-1", 1, 100_000, "gw-1"))
	}))

	require.NoError(t, st.WithTx(ctx, func(tx billing.Tx) error { return tx.DeleteBill(ctx, "b-1") }))

	_, err := st.GetBill(ctx, "b-1")
	assert.True(t, generic.IsNotFound(err))
	items, err := st.LineItems(ctx, "b-1")
	require.NoError(t, err)
	assert.Empty(t, items)
	history, err := st.PaymentHistory(ctx, "b-1")
	require.NoError(t, err)
	assert.Empty(t, history)
	found, err := st.FindPaymentByTransaction(ctx, "gw-1")
	require.NoError(t, err)
	assert.Nil(t, found)

	err = st.WithTx(ctx, func(tx billing.Tx) error { return tx.DeleteBill(ctx, "b-1") })
	assert.True(t, generic.IsNotFound(err))
}

func testReplaceLineItems(t *testing.T, st billing.Store) {
	ctx := context.Background()
	insert(t, st, rentBill("b-1", "c-1", march1),
		billing.BillLineItem{ID: "old", BillID: "b-1", Kind: billing.LinePenalty, Description: "5%",
			UnitPrice: money(50_000), Quantity: 1, Amount: money(50_000)})

	require.NoError(t, st.WithTx(ctx, func(tx billing.Tx) error {
		return tx.ReplaceLineItems(ctx, "b-1", []billing.BillLineItem{
			{ID: "new", BillID: "b-1", Kind: billing.LinePenalty, Description: "8%",
				UnitPrice: money(80_000), Quantity: 1, Amount: money(80_000)},
		})
	}))

	items, err := st.LineItems(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].ID)
	assertMoney(t, 80_000, items[0].Amount)
}

func testListBillsFilter(t *testing.T, st billing.Store) {
	ctx := context.Background()
	feb := rentBill("b-feb", "c-1", generic.Date(2025, time.February, 1))
	mar := rentBill("b-mar", "c-1", march1)
	mar.Status = true
	mar.PaidAmount = mar.TotalAmount
	mar.OutstandingAmount = money(0)
	apr := rentBill("b-apr", "c-1", april1)
	other := rentBill("b-other", "c-2", march1)
	for _, b := range []billing.Bill{apr, mar, feb, other} {
		insert(t, st, b)
	}
	insert(t, st, penaltyBill("pen", "b-feb"))

	all, err := st.ListBills(ctx, billing.BillFilter{})
	require.NoError(t, err)
	assert.Equal(t, []generic.BillID{"b-feb", "b-mar", "b-other", "pen", "b-apr"}, ids(all))

	c1 := generic.ContractID("c-1")
	cutoff := march1.AddDate(0, 0, 8)
	unpaid, err := st.ListBills(ctx, billing.BillFilter{
		ContractID: &c1,
		Types:      []billing.BillType{billing.BillRent},
		UnpaidOnly: true,
		DueBefore:  &cutoff,
	})
	require.NoError(t, err)
	assert.Equal(t, []generic.BillID{"b-feb"}, ids(unpaid))

	penalties, err := st.ListBills(ctx, billing.BillFilter{Types: []billing.BillType{billing.BillPenalty}})
	require.NoError(t, err)
	assert.Equal(t, []generic.BillID{"pen"}, ids(penalties))

	limited, err := st.ListBills(ctx, billing.BillFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func ids(bills []billing.Bill) []generic.BillID {
	out := make([]generic.BillID, len(bills))
	for i, b := range bills {
		out[i] = b.ID
	}
	return out
}

// =============================================================================
// INBOUND RECORDS
// =============================================================================

func testPriceHistory(t *testing.T, st billing.Store) {
	ctx := context.Background()
	jan := generic.Date(2025, time.January, 1)
	require.NoError(t, st.SaveServicePrice(ctx, billing.ServicePrice{ServiceID: "elec", UnitPrice: money(3_000), EffectiveFrom: jan}))
	require.NoError(t, st.SaveServicePrice(ctx, billing.ServicePrice{ServiceID: "elec", UnitPrice: money(3_500), EffectiveFrom: march1}))

	p, err := st.PriceAt(ctx, "elec", generic.Date(2025, time.February, 15))
	require.NoError(t, err)
	assertMoney(t, 3_000, p.UnitPrice)

	p, err = st.PriceAt(ctx, "elec", march1)
	require.NoError(t, err)
	assertMoney(t, 3_500, p.UnitPrice)
	assert.True(t, p.EffectiveFrom.Equal(march1))

	require.NoError(t, st.SaveServicePrice(ctx, billing.ServicePrice{ServiceID: "elec", UnitPrice: money(3_800), EffectiveFrom: march1}))
	p, err = st.PriceAt(ctx, "elec", april1)
	require.NoError(t, err)
	assertMoney(t, 3_800, p.UnitPrice)

	_, err = st.PriceAt(ctx, "elec", generic.Date(2024, time.December, 31))
	assert.True(t, generic.IsNotFound(err))
}

func testReadingsHalfOpen(t *testing.T, st billing.Store) {
	ctx := context.Background()
	for i, at := range []time.Time{march1, march1.AddDate(0, 0, 27), april1} {
		require.NoError(t, st.SaveReading(ctx, billing.MeterReading{
			ID: "rd-" + string(rune('a'+i)), RoomID: "r-1", ServiceID: "elec",
			OldReading: int64(i * 10), NewReading: int64(i*10 + 10), ReadAt: at,
		}))
	}

	got, err := st.ReadingsInRange(ctx, "r-1", "elec", generic.Period{Start: march1, End: april1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rd-a", got[0].ID)
	assert.Equal(t, "rd-b", got[1].ID)
	assert.Equal(t, int64(20), got[1].NewReading)
}

func testInboundRecords(t *testing.T, st billing.Store) {
	ctx := context.Background()
	end := april1.AddDate(1, 0, 0)
	require.NoError(t, st.SaveContract(ctx, billing.Contract{
		ID: "c-1", RoomID: "r-1", TenantID: "t-1", LandlordID: "l-1", TenantPhone: "+84900000001",
		RentAmount: money(3_000_000), PaymentCycle: generic.CycleQuarterly,
		StartDate: march1, EndDate: &end, Status: billing.ContractActive,
	}))
	require.NoError(t, st.SaveContract(ctx, billing.Contract{
		ID: "c-2", RoomID: "r-2", TenantID: "t-2", LandlordID: "l-1",
		RentAmount: money(2_000_000), PaymentCycle: generic.CycleMonthly,
		StartDate: march1, Status: billing.ContractTerminated,
	}))

	c, err := st.GetContract(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, generic.CycleQuarterly, c.PaymentCycle)
	assert.Equal(t, "+84900000001", c.TenantPhone)
	require.NotNil(t, c.EndDate)
	assert.True(t, c.EndDate.Equal(end))
	assertMoney(t, 3_000_000, c.RentAmount)

	active, err := st.ListContracts(ctx, billing.ContractActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, generic.ContractID("c-1"), active[0].ID)

	all, err := st.ListContracts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = st.GetContract(ctx, "c-404")
	assert.True(t, generic.IsNotFound(err))

	require.NoError(t, st.SaveService(ctx, billing.MeteredService{ID: "water", RoomID: "r-1", Name: "Water", Unit: "m3", Metered: true, Active: true}))
	require.NoError(t, st.SaveService(ctx, billing.MeteredService{ID: "elec", RoomID: "r-1", Name: "Electricity", Unit: "kWh", Metered: true, Active: true}))
	require.NoError(t, st.SaveService(ctx, billing.MeteredService{ID: "wifi", RoomID: "r-2", Name: "Wifi", Active: true}))

	services, err := st.ServicesForRoom(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, generic.ServiceID("elec"), services[0].ID)
	assert.True(t, services[0].Metered)
}

func testSchedulerRuns(t *testing.T, st billing.Store) {
	ctx := context.Background()
	done := march1.Add(time.Minute)
	require.NoError(t, st.SaveRun(ctx, billing.SchedulerRun{ID: "run-1", Task: "tick", Status: billing.RunRunning, StartedAt: march1}))
	require.NoError(t, st.SaveRun(ctx, billing.SchedulerRun{ID: "run-2", Task: "warnings", Status: billing.RunRunning, StartedAt: march1.Add(time.Hour)}))
	require.NoError(t, st.SaveRun(ctx, billing.SchedulerRun{
		ID: "run-1", Task: "tick", Status: billing.RunCompleted, Processed: 3, Skipped: 1,
		StartedAt: march1, CompletedAt: &done,
	}))

	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, billing.RunCompleted, runs[1].Status)
	assert.Equal(t, 3, runs[1].Processed)
	require.NotNil(t, runs[1].CompletedAt)
	assert.True(t, runs[1].CompletedAt.Equal(done))

	limited, err := st.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
