// Package memory provides an in-memory billing.Store for tests and dev.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
)

var _ billing.Store = (*Memory)(nil)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps every table in maps behind one RWMutex. WithTx holds the
// write lock for the whole transaction, which makes LockBill trivially
// exclusive, and restores a snapshot if fn fails.
type Memory struct {
	mu sync.RWMutex
	s  *state
}

type claimKey struct {
	BillID generic.BillID
	Kind   billing.NotificationKind
	Day    string
}

type state struct {
	bills     map[generic.BillID]billing.Bill
	items     map[generic.BillID][]billing.BillLineItem
	payments  map[generic.BillID][]billing.PaymentHistoryEntry
	claims    map[claimKey]bool
	contracts map[generic.ContractID]billing.Contract
	services  map[generic.ServiceID]billing.MeteredService
	prices    map[generic.ServiceID][]billing.ServicePrice
	readings  map[string]billing.MeterReading
	runs      map[string]billing.SchedulerRun
}

func newState() *state {
	return &state{
		bills:     make(map[generic.BillID]billing.Bill),
		items:     make(map[generic.BillID][]billing.BillLineItem),
		payments:  make(map[generic.BillID][]billing.PaymentHistoryEntry),
		claims:    make(map[claimKey]bool),
		contracts: make(map[generic.ContractID]billing.Contract),
		services:  make(map[generic.ServiceID]billing.MeteredService),
		prices:    make(map[generic.ServiceID][]billing.ServicePrice),
		readings:  make(map[string]billing.MeterReading),
		runs:      make(map[string]billing.SchedulerRun),
	}
}

func New() *Memory {
	return &Memory{s: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.s.clone()
	if err := fn(&txView{s: m.s}); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.bills {
		c.bills[k] = v.Clone()
	}
	for k, v := range s.items {
		c.items[k] = append([]billing.BillLineItem{}, v...)
	}
	for k, v := range s.payments {
		c.payments[k] = append([]billing.PaymentHistoryEntry{}, v...)
	}
	for k, v := range s.claims {
		c.claims[k] = v
	}
	for k, v := range s.contracts {
		c.contracts[k] = v
	}
	for k, v := range s.services {
		c.services[k] = v
	}
	for k, v := range s.prices {
		c.prices[k] = append([]billing.ServicePrice{}, v...)
	}
	for k, v := range s.readings {
		c.readings[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	return c
}

// =============================================================================
// READS (outside a transaction)
// =============================================================================

func (m *Memory) GetBill(_ context.Context, id generic.BillID) (*billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getBill(id)
}

func (m *Memory) ListBills(_ context.Context, f billing.BillFilter) ([]billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listBills(f), nil
}

func (m *Memory) LineItems(_ context.Context, id generic.BillID) ([]billing.BillLineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.BillLineItem{}, m.s.items[id]...), nil
}

func (m *Memory) PaymentHistory(_ context.Context, id generic.BillID) ([]billing.PaymentHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.PaymentHistoryEntry{}, m.s.payments[id]...), nil
}

func (m *Memory) FindPaymentByTransaction(_ context.Context, txID string) (*billing.PaymentHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.findPayment(txID), nil
}

func (m *Memory) PenaltyFor(_ context.Context, originalID generic.BillID) (*billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.penaltyFor(originalID), nil
}

func (m *Memory) GetContract(_ context.Context, id generic.ContractID) (*billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getContract(id)
}

func (m *Memory) ListContracts(_ context.Context, status billing.ContractStatus) ([]billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listContracts(status), nil
}

func (m *Memory) ServicesForRoom(_ context.Context, roomID generic.RoomID) ([]billing.MeteredService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.servicesForRoom(roomID), nil
}

func (m *Memory) PriceAt(_ context.Context, serviceID generic.ServiceID, at time.Time) (*billing.ServicePrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.priceAt(serviceID, at)
}

func (m *Memory) ReadingsInRange(_ context.Context, roomID generic.RoomID, serviceID generic.ServiceID, p generic.Period) ([]billing.MeterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.readingsInRange(roomID, serviceID, p), nil
}

// =============================================================================
// INBOUND UPSERTS + RUNS
// =============================================================================

func (m *Memory) SaveContract(_ context.Context, c billing.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.contracts[c.ID] = c
	return nil
}

func (m *Memory) SaveService(_ context.Context, svc billing.MeteredService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.services[svc.ID] = svc
	return nil
}

// SaveServicePrice replaces a row with the same EffectiveFrom, else inserts.
func (m *Memory) SaveServicePrice(_ context.Context, p billing.ServicePrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.s.prices[p.ServiceID]
	for i := range rows {
		if rows[i].EffectiveFrom.Equal(p.EffectiveFrom) {
			rows[i] = p
			return nil
		}
	}
	rows = append(rows, p)
	sort.Slice(rows, func(i, j int) bool { return rows[i].EffectiveFrom.Before(rows[j].EffectiveFrom) })
	m.s.prices[p.ServiceID] = rows
	return nil
}

func (m *Memory) SaveReading(_ context.Context, r billing.MeterReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.readings[r.ID] = r
	return nil
}

func (m *Memory) SaveRun(_ context.Context, run billing.SchedulerRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.runs[run.ID] = run
	return nil
}

// ListRuns returns the most recent runs first.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]billing.SchedulerRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]billing.SchedulerRun, 0, len(m.s.runs))
	for _, r := range m.s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// =============================================================================
// STATE QUERIES (caller holds the lock)
// =============================================================================

func (s *state) getBill(id generic.BillID) (*billing.Bill, error) {
	b, ok := s.bills[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "bill", ID: string(id)}
	}
	c := b.Clone()
	return &c, nil
}

func (s *state) listBills(f billing.BillFilter) []billing.Bill {
	var out []billing.Bill
	for _, b := range s.bills {
		if f.ContractID != nil && b.ContractID != *f.ContractID {
			continue
		}
		if len(f.Types) > 0 && !hasType(f.Types, b.BillType) {
			continue
		}
		if f.UnpaidOnly && b.Status {
			continue
		}
		if f.DueBefore != nil && !b.DueDate.Before(*f.DueBefore) {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BillDate.Equal(out[j].BillDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].BillDate.Before(out[j].BillDate)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// periodic bill types are unique per (contract, type, period).
func periodic(t billing.BillType) bool {
	return t == billing.BillRent || t == billing.BillService
}

func hasServiceLine(items []billing.BillLineItem) bool {
	for _, it := range items {
		if it.Kind == billing.LineService {
			return true
		}
	}
	return false
}

func hasType(types []billing.BillType, t billing.BillType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func (s *state) findPayment(txID string) *billing.PaymentHistoryEntry {
	if txID == "" {
		return nil
	}
	for _, entries := range s.payments {
		for _, e := range entries {
			if e.TransactionID == txID {
				found := e
				return &found
			}
		}
	}
	return nil
}

func (s *state) penaltyFor(originalID generic.BillID) *billing.Bill {
	for _, b := range s.bills {
		if b.IsPenalty() && b.OriginalBillID != nil && *b.OriginalBillID == originalID {
			c := b.Clone()
			return &c
		}
	}
	return nil
}

func (s *state) getContract(id generic.ContractID) (*billing.Contract, error) {
	c, ok := s.contracts[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "contract", ID: string(id)}
	}
	return &c, nil
}

func (s *state) listContracts(status billing.ContractStatus) []billing.Contract {
	var out []billing.Contract
	for _, c := range s.contracts {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) servicesForRoom(roomID generic.RoomID) []billing.MeteredService {
	var out []billing.MeteredService
	for _, svc := range s.services {
		if svc.RoomID == roomID {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) priceAt(serviceID generic.ServiceID, at time.Time) (*billing.ServicePrice, error) {
	var found *billing.ServicePrice
	for _, p := range s.prices[serviceID] {
		if p.EffectiveFrom.After(at) {
			break
		}
		row := p
		found = &row
	}
	if found == nil {
		return nil, &generic.NotFoundError{Kind: "service price", ID: fmt.Sprintf("%s@%s", serviceID, at.Format("2006-01-02"))}
	}
	return found, nil
}

func (s *state) readingsInRange(roomID generic.RoomID, serviceID generic.ServiceID, p generic.Period) []billing.MeterReading {
	var out []billing.MeterReading
	for _, r := range s.readings {
		if r.RoomID == roomID && r.ServiceID == serviceID && p.Contains(r.ReadAt) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReadAt.Before(out[j].ReadAt) })
	return out
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type txView struct {
	s *state
}

func (tv *txView) GetBill(_ context.Context, id generic.BillID) (*billing.Bill, error) {
	return tv.s.getBill(id)
}

func (tv *txView) ListBills(_ context.Context, f billing.BillFilter) ([]billing.Bill, error) {
	return tv.s.listBills(f), nil
}

func (tv *txView) LineItems(_ context.Context, id generic.BillID) ([]billing.BillLineItem, error) {
	return append([]billing.BillLineItem{}, tv.s.items[id]...), nil
}

func (tv *txView) PaymentHistory(_ context.Context, id generic.BillID) ([]billing.PaymentHistoryEntry, error) {
	return append([]billing.PaymentHistoryEntry{}, tv.s.payments[id]...), nil
}

func (tv *txView) FindPaymentByTransaction(_ context.Context, txID string) (*billing.PaymentHistoryEntry, error) {
	return tv.s.findPayment(txID), nil
}

func (tv *txView) PenaltyFor(_ context.Context, originalID generic.BillID) (*billing.Bill, error) {
	return tv.s.penaltyFor(originalID), nil
}

func (tv *txView) GetContract(_ context.Context, id generic.ContractID) (*billing.Contract, error) {
	return tv.s.getContract(id)
}

func (tv *txView) ListContracts(_ context.Context, status billing.ContractStatus) ([]billing.Contract, error) {
	return tv.s.listContracts(status), nil
}

func (tv *txView) ServicesForRoom(_ context.Context, roomID generic.RoomID) ([]billing.MeteredService, error) {
	return tv.s.servicesForRoom(roomID), nil
}

func (tv *txView) PriceAt(_ context.Context, serviceID generic.ServiceID, at time.Time) (*billing.ServicePrice, error) {
	return tv.s.priceAt(serviceID, at)
}

func (tv *txView) ReadingsInRange(_ context.Context, roomID generic.RoomID, serviceID generic.ServiceID, p generic.Period) ([]billing.MeterReading, error) {
	return tv.s.readingsInRange(roomID, serviceID, p), nil
}

// LockBill is a plain read: the transaction already holds the store lock.
func (tv *txView) LockBill(_ context.Context, id generic.BillID) (*billing.Bill, error) {
	return tv.s.getBill(id)
}

func (tv *txView) InsertBill(_ context.Context, b billing.Bill, items []billing.BillLineItem) error {
	if _, exists := tv.s.bills[b.ID]; exists {
		return &generic.StateConflictError{Resource: "bill", ID: string(b.ID), Reason: "already exists"}
	}
	for _, other := range tv.s.bills {
		if b.IsPenalty() && other.IsPenalty() && b.OriginalBillID != nil && other.OriginalBillID != nil &&
			*b.OriginalBillID == *other.OriginalBillID {
			return &generic.StateConflictError{Resource: "bill", ID: string(*b.OriginalBillID), Reason: "penalty already exists"}
		}
		if periodic(b.BillType) && other.ContractID == b.ContractID && other.BillType == b.BillType &&
			other.FromDate.Equal(b.FromDate) && other.ToDate.Equal(b.ToDate) {
			return &generic.StateConflictError{Resource: "bill", ID: string(other.ID), Reason: "period already billed"}
		}
		if other.ContractID == b.ContractID && hasServiceLine(items) && hasServiceLine(tv.s.items[other.ID]) &&
			other.Period().Overlaps(b.Period()) {
			return &generic.StateConflictError{Resource: "bill", ID: string(other.ID), Reason: "service usage already billed"}
		}
	}
	tv.s.bills[b.ID] = b.Clone()
	tv.s.items[b.ID] = append([]billing.BillLineItem{}, items...)
	return nil
}

func (tv *txView) UpdateBill(_ context.Context, b billing.Bill) error {
	stored, ok := tv.s.bills[b.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "bill", ID: string(b.ID)}
	}
	if stored.Version != b.Version {
		return &generic.StateConflictError{
			Resource: "bill", ID: string(b.ID),
			Reason: fmt.Sprintf("version %d, expected %d", stored.Version, b.Version),
		}
	}
	next := b.Clone()
	next.Version++
	tv.s.bills[b.ID] = next
	return nil
}

func (tv *txView) ReplaceLineItems(_ context.Context, billID generic.BillID, items []billing.BillLineItem) error {
	if _, ok := tv.s.bills[billID]; !ok {
		return &generic.NotFoundError{Kind: "bill", ID: string(billID)}
	}
	tv.s.items[billID] = append([]billing.BillLineItem{}, items...)
	return nil
}

func (tv *txView) DeleteBill(_ context.Context, id generic.BillID) error {
	if _, ok := tv.s.bills[id]; !ok {
		return &generic.NotFoundError{Kind: "bill", ID: string(id)}
	}
	delete(tv.s.bills, id)
	delete(tv.s.items, id)
	delete(tv.s.payments, id)
	for k := range tv.s.claims {
		if k.BillID == id {
			delete(tv.s.claims, k)
		}
	}
	return nil
}

func (tv *txView) AppendPayment(_ context.Context, e billing.PaymentHistoryEntry) error {
	if _, ok := tv.s.bills[e.BillID]; !ok {
		return &generic.NotFoundError{Kind: "bill", ID: string(e.BillID)}
	}
	for _, existing := range tv.s.payments[e.BillID] {
		if existing.PaymentNumber == e.PaymentNumber {
			return &generic.StateConflictError{
				Resource: "payment", ID: fmt.Sprintf("%s#%d", e.BillID, e.PaymentNumber),
				Reason: "payment number taken",
			}
		}
	}
	tv.s.payments[e.BillID] = append(tv.s.payments[e.BillID], e)
	return nil
}

func (tv *txView) CountPayments(_ context.Context, billID generic.BillID) (int, error) {
	return len(tv.s.payments[billID]), nil
}

func (tv *txView) UpdatePaymentGatewayRef(_ context.Context, billID generic.BillID, number int, txID string, status billing.PaymentStatus) error {
	entries := append([]billing.PaymentHistoryEntry{}, tv.s.payments[billID]...)
	for i := range entries {
		if entries[i].PaymentNumber == number {
			entries[i].TransactionID = txID
			entries[i].Status = status
			tv.s.payments[billID] = entries
			return nil
		}
	}
	return &generic.NotFoundError{Kind: "payment", ID: fmt.Sprintf("%s#%d", billID, number)}
}

func (tv *txView) ClaimNotification(_ context.Context, billID generic.BillID, kind billing.NotificationKind, day time.Time) (bool, error) {
	k := claimKey{BillID: billID, Kind: kind, Day: generic.StartOfDay(day).Format("2006-01-02")}
	if tv.s.claims[k] {
		return false, nil
	}
	tv.s.claims[k] = true
	return true, nil
}
