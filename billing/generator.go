/*
generator.go - Bill generation from rent and metered services

PURPOSE:
  Turns an ACTIVE contract plus the room's readings and price history into
  a persisted Bill with its line items.

LINE ITEMS:
  RENT bill:     one rent line (RentAmount × cycle months) + every active
                 service of the room
  SERVICE bill:  service lines only
  CUSTOM bill:   caller supplied lines (GenerateCustomBill)

  Metered service:  consumed = Σ(new − old) over readings in [from, to)
                    amount   = consumed × price effective on `to`
  Flat service:     quantity 1 × price effective on `to`

  A price row that takes effect after `to` is never applied, so a price
  change cannot leak into an earlier bill.

IDEMPOTENCY:
  Inside the insert transaction the generator checks whether a RENT or
  SERVICE bill of the same type already covers [from, to). Two concurrent
  callers for the same period get one bill and one DuplicateBillError.
  CUSTOM bills are ad hoc and never deduplicated.

SEE ALSO:
  - interest.go: Policy.DueAfter for due dates
  - store.go: Tx.InsertBill
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/rental-billing/generic"
)

type Generator struct {
	Store  Store
	Policy Policy
	Clock  generic.Clock
	Logger *slog.Logger
}

func NewGenerator(store Store, policy Policy, clock generic.Clock, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{Store: store, Policy: policy, Clock: clock, Logger: logger.With("component", "generator")}
}

// CustomLine is a caller supplied line for a CUSTOM bill.
type CustomLine struct {
	Description string
	UnitPrice   generic.Money
	Quantity    int64
}

// GeneratedBill is a freshly persisted bill with its lines.
type GeneratedBill struct {
	Bill  Bill
	Items []BillLineItem
}

// =============================================================================
// GENERATE
// =============================================================================

// GenerateBill creates a RENT or SERVICE bill for the contract and period.
func (g *Generator) GenerateBill(ctx context.Context, contractID generic.ContractID, from, to time.Time, billType BillType) (*GeneratedBill, error) {
	if billType != BillRent && billType != BillService {
		return nil, &generic.ValidationError{Field: "bill_type", Reason: fmt.Sprintf("%q cannot be generated from usage", billType)}
	}
	period, err := generic.NewPeriod(from, to)
	if err != nil {
		return nil, err
	}
	contract, err := g.activeContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	var items []BillLineItem
	if billType == BillRent {
		items = append(items, rentLine(contract))
	}
	serviceItems, err := g.serviceLines(ctx, contract.RoomID, period)
	if err != nil {
		return nil, err
	}
	items = append(items, serviceItems...)
	if len(items) == 0 {
		return nil, &generic.ValidationError{Field: "bill_type", Reason: "room has no active services to bill"}
	}

	return g.persist(ctx, contract, period, billType, items, "")
}

// GenerateFirstBill bills the contract's first cycle starting at StartDate.
func (g *Generator) GenerateFirstBill(ctx context.Context, contractID generic.ContractID) (*GeneratedBill, error) {
	contract, err := g.activeContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	p := contract.PaymentCycle.PeriodFrom(contract.StartDate)
	return g.GenerateBill(ctx, contractID, p.Start, p.End, BillRent)
}

// GenerateCustomBill creates a CUSTOM bill from caller supplied lines.
func (g *Generator) GenerateCustomBill(ctx context.Context, contractID generic.ContractID, from, to time.Time, lines []CustomLine, notes string) (*GeneratedBill, error) {
	period, err := generic.NewPeriod(from, to)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, &generic.ValidationError{Field: "items", Reason: "at least one line is required"}
	}
	contract, err := g.activeContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	items := make([]BillLineItem, 0, len(lines))
	for i, l := range lines {
		if l.Quantity < 1 {
			return nil, &generic.ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be >= 1"}
		}
		if l.UnitPrice.IsNegative() {
			return nil, &generic.ValidationError{Field: fmt.Sprintf("items[%d].unit_price", i), Reason: "must not be negative"}
		}
		items = append(items, BillLineItem{
			Kind:        LineCustom,
			Description: l.Description,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			Amount:      l.UnitPrice.MulInt(l.Quantity).Round(g.Policy.MoneyScale),
		})
	}
	return g.persist(ctx, contract, period, BillCustom, items, notes)
}

// =============================================================================
// BULK / ADMIN
// =============================================================================

// BulkResult summarises one GenerateAll pass.
type BulkResult struct {
	Generated []generic.BillID
	Skipped   int
	Failed    int
}

// GenerateAll bills the next started period of every ACTIVE contract.
// A failing contract is logged and counted; the sweep continues.
func (g *Generator) GenerateAll(ctx context.Context) (*BulkResult, error) {
	contracts, err := g.Store.ListContracts(ctx, ContractActive)
	if err != nil {
		return nil, err
	}
	now := g.Clock.Now()
	result := &BulkResult{}

	for _, c := range contracts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		period, err := g.nextPeriod(ctx, c)
		if err != nil {
			result.Failed++
			g.Logger.Error("next period lookup failed", "contract_id", c.ID, "error", err)
			continue
		}
		if period.Start.After(now) || (c.EndDate != nil && !period.Start.Before(*c.EndDate)) {
			result.Skipped++
			continue
		}
		gen, err := g.GenerateBill(ctx, c.ID, period.Start, period.End, BillRent)
		if err != nil {
			if generic.IsClientError(err) {
				result.Skipped++
				g.Logger.Warn("contract skipped", "contract_id", c.ID, "period", period.String(), "error", err)
				continue
			}
			result.Failed++
			g.Logger.Error("bill generation failed", "contract_id", c.ID, "period", period.String(), "error", err)
			continue
		}
		result.Generated = append(result.Generated, gen.Bill.ID)
	}

	g.Logger.Info("bulk generation completed",
		"generated", len(result.Generated), "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// DeleteBill removes a bill with its lines, history and claims. A PENALTY
// bill pointing at it stays for audit.
func (g *Generator) DeleteBill(ctx context.Context, id generic.BillID) error {
	err := g.Store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockBill(ctx, id); err != nil {
			return err
		}
		return tx.DeleteBill(ctx, id)
	})
	if err != nil {
		return err
	}
	g.Logger.Info("bill deleted", "bill_id", id)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (g *Generator) activeContract(ctx context.Context, id generic.ContractID) (*Contract, error) {
	c, err := g.Store.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != ContractActive {
		return nil, &NoActiveContractError{ContractID: id, Status: c.Status}
	}
	return c, nil
}

// nextPeriod follows the latest RENT bill, or starts at the contract start.
func (g *Generator) nextPeriod(ctx context.Context, c Contract) (generic.Period, error) {
	bills, err := g.Store.ListBills(ctx, BillFilter{ContractID: &c.ID, Types: []BillType{BillRent}})
	if err != nil {
		return generic.Period{}, err
	}
	var latest *Bill
	for i := range bills {
		if latest == nil || bills[i].ToDate.After(latest.ToDate) {
			latest = &bills[i]
		}
	}
	if latest == nil {
		return c.PaymentCycle.PeriodFrom(c.StartDate), nil
	}
	return c.PaymentCycle.PeriodFrom(latest.ToDate), nil
}

func rentLine(c *Contract) BillLineItem {
	months := int64(c.PaymentCycle.Months())
	return BillLineItem{
		Kind:        LineRent,
		Description: fmt.Sprintf("Rent (%s, %d month(s))", c.PaymentCycle, months),
		UnitPrice:   c.RentAmount,
		Quantity:    months,
		Amount:      c.RentAmount.MulInt(months),
	}
}

func (g *Generator) serviceLines(ctx context.Context, roomID generic.RoomID, period generic.Period) ([]BillLineItem, error) {
	services, err := g.Store.ServicesForRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var items []BillLineItem
	for _, svc := range services {
		if !svc.Active {
			continue
		}
		item, err := g.serviceLine(ctx, svc, period)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (g *Generator) serviceLine(ctx context.Context, svc MeteredService, period generic.Period) (BillLineItem, error) {
	price, err := g.Store.PriceAt(ctx, svc.ID, period.End)
	if err != nil {
		return BillLineItem{}, err
	}
	serviceID := svc.ID
	item := BillLineItem{
		Kind:        LineService,
		ServiceID:   &serviceID,
		Description: svc.Name,
		UnitPrice:   price.UnitPrice,
		Quantity:    1,
	}
	if !svc.Metered {
		item.Amount = price.UnitPrice.Round(g.Policy.MoneyScale)
		return item, nil
	}

	readings, err := g.Store.ReadingsInRange(ctx, svc.RoomID, svc.ID, period)
	if err != nil {
		return BillLineItem{}, err
	}
	if len(readings) == 0 {
		return BillLineItem{}, &InvalidReadingError{ServiceID: svc.ID, Missing: true}
	}
	var consumed int64
	for _, r := range readings {
		if r.NewReading < r.OldReading {
			return BillLineItem{}, &InvalidReadingError{ServiceID: svc.ID, Old: r.OldReading, New: r.NewReading}
		}
		consumed += r.NewReading - r.OldReading
	}
	oldReading := readings[0].OldReading
	newReading := readings[len(readings)-1].NewReading

	item.OldReading = &oldReading
	item.NewReading = &newReading
	item.ConsumedUnits = &consumed
	item.Quantity = consumed
	item.Description = fmt.Sprintf("%s (%d %s)", svc.Name, consumed, svc.Unit)
	item.Amount = price.UnitPrice.MulInt(consumed).Round(g.Policy.MoneyScale)
	return item, nil
}

func (g *Generator) persist(ctx context.Context, c *Contract, period generic.Period, billType BillType, items []BillLineItem, notes string) (*GeneratedBill, error) {
	now := g.Clock.Now()
	bill := Bill{
		ID:          generic.BillID(uuid.NewString()),
		ContractID:  c.ID,
		RoomID:      c.RoomID,
		FromDate:    period.Start,
		ToDate:      period.End,
		BillDate:    now,
		DueDate:     now.AddDate(0, 0, g.Policy.DueAfter(c.PaymentCycle)),
		BillType:    billType,
		TotalAmount: generic.Zero(),
		PaidAmount:  generic.Zero(),
		Notes:       notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	bill.PartialPaymentFeesCollected = generic.Zero()

	err := g.Store.WithTx(ctx, func(tx Tx) error {
		lines := items
		if billType != BillCustom {
			var err error
			if lines, err = g.checkCoverage(ctx, tx, c.ID, period, billType, items); err != nil {
				return err
			}
		}
		bill.TotalAmount = generic.Zero()
		for i := range lines {
			lines[i].ID = uuid.NewString()
			lines[i].BillID = bill.ID
			bill.TotalAmount = bill.TotalAmount.Add(lines[i].Amount)
		}
		bill.recalculate(now)
		items = lines
		return tx.InsertBill(ctx, bill, lines)
	})
	if err != nil {
		return nil, err
	}

	g.Logger.Info("bill generated",
		"bill_id", bill.ID, "contract_id", c.ID, "type", billType,
		"period", period.String(), "total", bill.TotalAmount.String())
	return &GeneratedBill{Bill: bill, Items: items}, nil
}

// checkCoverage rejects a window already billed for the same type and
// returns the lines left to bill. Service usage is billed once: a SERVICE
// bill over a window whose usage is already on a bill is a duplicate, and a
// RENT bill over such a window carries only the rent line.
func (g *Generator) checkCoverage(ctx context.Context, tx Tx, contractID generic.ContractID, period generic.Period, billType BillType, items []BillLineItem) ([]BillLineItem, error) {
	existing, err := tx.ListBills(ctx, BillFilter{ContractID: &contractID, Types: []BillType{BillRent, BillService}})
	if err != nil {
		return nil, err
	}
	for _, b := range existing {
		if b.BillType == billType && b.Period().Covers(period) {
			return nil, &DuplicateBillError{ContractID: contractID, Existing: b.ID, Period: period}
		}
	}
	if !hasServiceLines(items) {
		return items, nil
	}

	for _, b := range existing {
		if !b.Period().Overlaps(period) {
			continue
		}
		lines, err := tx.LineItems(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if !hasServiceLines(lines) {
			continue
		}
		if billType == BillService {
			return nil, &DuplicateBillError{ContractID: contractID, Existing: b.ID, Period: period}
		}
		g.Logger.Info("services already billed, billing rent only",
			"contract_id", contractID, "period", period.String(), "existing_bill_id", b.ID)
		rentOnly := make([]BillLineItem, 0, 1)
		for _, it := range items {
			if it.Kind != LineService {
				rentOnly = append(rentOnly, it)
			}
		}
		return rentOnly, nil
	}
	return items, nil
}

func hasServiceLines(items []BillLineItem) bool {
	for _, it := range items {
		if it.Kind == LineService {
			return true
		}
	}
	return false
}
