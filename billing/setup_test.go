package billing_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
	"github.com/warp/rental-billing/notify"
	"github.com/warp/rental-billing/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func ofType(kind billing.NotificationKind) interface{} {
	return mock.MatchedBy(func(n notify.Notification) bool { return n.Type == string(kind) })
}

type testEnv struct {
	ctx      context.Context
	store    *memory.Memory
	clock    *generic.FixedClock
	calc     billing.Calculator
	gen      *billing.Generator
	proc     *billing.Processor
	life     *billing.Lifecycle
	notifier *mockNotifier
}

var march1 = generic.Date(2025, time.March, 1)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithPolicy(t, billing.DefaultPolicy())
}

func newTestEnvWithPolicy(t *testing.T, policy billing.Policy) *testEnv {
	t.Helper()
	st := memory.New()
	clock := &generic.FixedClock{At: march1}
	calc := billing.NewCalculator(policy)
	n := &mockNotifier{}
	logger := discardLogger()

	env := &testEnv{
		ctx:      context.Background(),
		store:    st,
		clock:    clock,
		calc:     calc,
		gen:      billing.NewGenerator(st, policy, clock, logger),
		proc:     billing.NewProcessor(st, calc, clock, logger),
		life:     billing.NewLifecycle(st, calc, n, logger),
		notifier: n,
	}
	env.seedContract(t, "c-1", "r-1", generic.CycleMonthly, 3_000_000)
	return env
}

func (e *testEnv) seedContract(t *testing.T, id generic.ContractID, room generic.RoomID, cycle generic.PaymentCycle, rent int64) {
	t.Helper()
	require.NoError(t, e.store.SaveContract(e.ctx, billing.Contract{
		ID:           id,
		RoomID:       room,
		TenantID:     generic.RecipientID("tenant-" + string(id)),
		LandlordID:   "landlord-1",
		TenantPhone:  "+84900000001",
		RentAmount:   generic.NewMoney(rent),
		PaymentCycle: cycle,
		StartDate:    march1,
		Status:       billing.ContractActive,
	}))
}

// seedElectricity adds a metered service priced 3,500/kWh and one reading.
func (e *testEnv) seedElectricity(t *testing.T, room generic.RoomID, oldReading, newReading int64) generic.ServiceID {
	t.Helper()
	id := generic.ServiceID("elec-" + string(room))
	require.NoError(t, e.store.SaveService(e.ctx, billing.MeteredService{
		ID: id, RoomID: room, Name: "Electricity", Unit: "kWh", Metered: true, Active: true,
	}))
	require.NoError(t, e.store.SaveServicePrice(e.ctx, billing.ServicePrice{
		ServiceID: id, UnitPrice: generic.NewMoney(3_500), EffectiveFrom: generic.Date(2025, time.January, 1),
	}))
	require.NoError(t, e.store.SaveReading(e.ctx, billing.MeterReading{
		ID: "rd-" + string(room), RoomID: room, ServiceID: id,
		OldReading: oldReading, NewReading: newReading,
		ReadAt: generic.Date(2025, time.March, 28),
	}))
	return id
}

// customBill creates a single-line CUSTOM bill dated march1, due March 8.
func (e *testEnv) customBill(t *testing.T, amount int64) billing.Bill {
	t.Helper()
	gen, err := e.gen.GenerateCustomBill(e.ctx, "c-1", march1, generic.Date(2025, time.April, 1),
		[]billing.CustomLine{{Description: "Invoice", UnitPrice: generic.NewMoney(amount), Quantity: 1}}, "")
	require.NoError(t, err)
	return gen.Bill
}

func (e *testEnv) bill(t *testing.T, id generic.BillID) billing.Bill {
	t.Helper()
	b, err := e.store.GetBill(e.ctx, id)
	require.NoError(t, err)
	return *b
}

// daysAfterDue moves the clock to n days past the bill's due date.
func (e *testEnv) daysAfterDue(b billing.Bill, n int) time.Time {
	e.clock.Set(b.DueDate.AddDate(0, 0, n))
	return e.clock.Now()
}

func money(v int64) generic.Money { return generic.NewMoney(v) }

func assertMoney(t *testing.T, want int64, got generic.Money, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, money(want).String(), got.String(), msgAndArgs...)
}

var anyCtx = mock.Anything
