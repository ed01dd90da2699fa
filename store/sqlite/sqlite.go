/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

PURPOSE:
  Persists bills, line items, payment history, the notification sent-log
  and the scheduler run log. The same schema ports to PostgreSQL with only
  dialect changes (partial unique indexes exist there too).

KEY TABLES:
  bills:              one row per bill, versioned for optimistic locking
  bill_line_items:    priced lines, cascade-deleted with the bill
  payment_history:    append-only settlement events
  bill_notifications: (bill, kind, day) claims, so a warning is sent once
  scheduler_runs:     execution log of lifecycle tasks
  contracts, services, service_prices, meter_readings: inbound records

INDEXES:
  - idx_bills_one_penalty: at most one PENALTY bill per original
  - idx_bills_period:      one RENT/SERVICE bill per contract and window
  - idx_bills_unpaid_due:  overdue sweep (hot path)
  - idx_payment_history_transaction: gateway transaction ids are unique

CONCURRENCY:
  Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate), so the
  write lock is taken up front and LockBill is a plain read. A store-wide
  mutex serializes WithTx calls within the process; SQLite's own lock
  covers other processes sharing the file.

  The pool is limited to one connection. Reads outside WithTx wait for a
  running transaction to finish, and ":memory:" databases stay on one
  connection.

MIGRATION:
  Schema is migrated on New() with goose, from the SQL files embedded
  under migrations/.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ billing.Store = (*Store)(nil)

// timeLayout is fixed-width UTC, so TEXT comparisons order correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every read, shared by the store and its transactions.
type queries struct {
	q querier
}

// Store implements billing.Store using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	queries
}

// LockBill is a plain read: BEGIN IMMEDIATE already holds the write lock.
func (ts *txStore) LockBill(ctx context.Context, id generic.BillID) (*billing.Bill, error) {
	return ts.GetBill(ctx, id)
}

func (ts *txStore) InsertBill(ctx context.Context, b billing.Bill, items []billing.BillLineItem) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO bills (`+billColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		billArgs(b)...,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.StateConflictError{Resource: "bill", ID: string(b.ID), Reason: conflictReason(err)}
		}
		return fmt.Errorf("failed to insert bill: %w", err)
	}
	return ts.insertLineItems(ctx, b.ID, items)
}

func (ts *txStore) UpdateBill(ctx context.Context, b billing.Bill) error {
	args := billArgs(b)
	// args[1:21] is contract_id..notes, args[23] is updated_at.
	res, err := ts.q.ExecContext(ctx, `
		UPDATE bills SET
			contract_id = ?, room_id = ?, from_date = ?, to_date = ?, bill_date = ?, due_date = ?,
			bill_type = ?, total_amount = ?, paid_amount = ?, partial_fees_collected = ?,
			outstanding_amount = ?, status = ?, is_partially_paid = ?, original_bill_id = ?,
			penalty_rate = ?, overdue_days = ?, penalty_amount = ?, last_payment_date = ?,
			paid_date = ?, notes = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		append(append(args[1:21:21], args[23]), b.ID, b.Version)...,
	)
	if err != nil {
		return fmt.Errorf("failed to update bill: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var stored int
	err = ts.q.QueryRowContext(ctx, "SELECT version FROM bills WHERE id = ?", b.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return &generic.NotFoundError{Kind: "bill", ID: string(b.ID)}
	}
	if err != nil {
		return err
	}
	return &generic.StateConflictError{
		Resource: "bill", ID: string(b.ID),
		Reason: fmt.Sprintf("version %d, expected %d", stored, b.Version),
	}
}

func (ts *txStore) ReplaceLineItems(ctx context.Context, billID generic.BillID, items []billing.BillLineItem) error {
	if err := ts.requireBill(ctx, billID); err != nil {
		return err
	}
	if _, err := ts.q.ExecContext(ctx, "DELETE FROM bill_line_items WHERE bill_id = ?", billID); err != nil {
		return fmt.Errorf("failed to delete line items: %w", err)
	}
	return ts.insertLineItems(ctx, billID, items)
}

// DeleteBill relies on ON DELETE CASCADE for lines, history and claims.
func (ts *txStore) DeleteBill(ctx context.Context, id generic.BillID) error {
	res, err := ts.q.ExecContext(ctx, "DELETE FROM bills WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete bill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.NotFoundError{Kind: "bill", ID: string(id)}
	}
	return nil
}

func (ts *txStore) AppendPayment(ctx context.Context, e billing.PaymentHistoryEntry) error {
	if err := ts.requireBill(ctx, e.BillID); err != nil {
		return err
	}
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO payment_history (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BillID, e.PaymentNumber,
		e.PaymentAmount.Value, e.PartialPaymentFee.Value, e.OverdueInterest.Value,
		e.PaymentMethod, e.Status, nullString(e.TransactionID),
		e.OutstandingBefore.Value, e.OutstandingAfter.Value, e.PaidBefore.Value, e.PaidAfter.Value,
		e.IsPartialPayment, e.IsFinalPayment, nullString(e.Notes), formatTime(e.PaidAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.StateConflictError{
				Resource: "payment", ID: fmt.Sprintf("%s#%d", e.BillID, e.PaymentNumber),
				Reason: conflictReason(err),
			}
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (ts *txStore) CountPayments(ctx context.Context, billID generic.BillID) (int, error) {
	var n int
	err := ts.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM payment_history WHERE bill_id = ?", billID).Scan(&n)
	return n, err
}

func (ts *txStore) UpdatePaymentGatewayRef(ctx context.Context, billID generic.BillID, number int, txID string, status billing.PaymentStatus) error {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE payment_history SET transaction_id = ?, status = ?
		WHERE bill_id = ? AND payment_number = ?`,
		nullString(txID), status, billID, number,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: transaction %s already recorded", generic.ErrDuplicate, txID)
		}
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.NotFoundError{Kind: "payment", ID: fmt.Sprintf("%s#%d", billID, number)}
	}
	return nil
}

func (ts *txStore) ClaimNotification(ctx context.Context, billID generic.BillID, kind billing.NotificationKind, day time.Time) (bool, error) {
	res, err := ts.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO bill_notifications (bill_id, kind, day, claimed_at)
		VALUES (?, ?, ?, ?)`,
		billID, kind, generic.StartOfDay(day).Format("2006-01-02"), formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim notification: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (ts *txStore) requireBill(ctx context.Context, id generic.BillID) error {
	var one int
	err := ts.q.QueryRowContext(ctx, "SELECT 1 FROM bills WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &generic.NotFoundError{Kind: "bill", ID: string(id)}
	}
	return err
}

func (ts *txStore) insertLineItems(ctx context.Context, billID generic.BillID, items []billing.BillLineItem) error {
	for i, it := range items {
		_, err := ts.q.ExecContext(ctx, `
			INSERT INTO bill_line_items (`+lineItemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, billID, i, it.Kind, it.ServiceID, it.Description,
			it.OldReading, it.NewReading, it.ConsumedUnits,
			it.UnitPrice.Value, it.Quantity, it.Amount.Value,
		)
		if err != nil {
			if isTriggerAbort(err) {
				return &generic.StateConflictError{Resource: "bill", ID: string(billID), Reason: "service usage already billed"}
			}
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}
	return nil
}

// =============================================================================
// BILL READS
// =============================================================================

const billColumns = `id, contract_id, room_id, from_date, to_date, bill_date, due_date,
	bill_type, total_amount, paid_amount, partial_fees_collected, outstanding_amount,
	status, is_partially_paid, original_bill_id, penalty_rate, overdue_days, penalty_amount,
	last_payment_date, paid_date, notes, version, created_at, updated_at`

// billArgs lists values in billColumns order.
func billArgs(b billing.Bill) []any {
	var rate, amount decimal.NullDecimal
	if b.PenaltyRate != nil {
		rate = decimal.NullDecimal{Decimal: *b.PenaltyRate, Valid: true}
	}
	if b.PenaltyAmount != nil {
		amount = decimal.NullDecimal{Decimal: b.PenaltyAmount.Value, Valid: true}
	}
	return []any{
		b.ID, b.ContractID, b.RoomID,
		formatTime(b.FromDate), formatTime(b.ToDate), formatTime(b.BillDate), formatTime(b.DueDate),
		b.BillType, b.TotalAmount.Value, b.PaidAmount.Value, b.PartialPaymentFeesCollected.Value,
		b.OutstandingAmount.Value, b.Status, b.IsPartiallyPaid, b.OriginalBillID,
		rate, b.OverdueDays, amount,
		formatTimePtr(b.LastPaymentDate), formatTimePtr(b.PaidDate), nullString(b.Notes),
		b.Version, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBill(row scanner) (billing.Bill, error) {
	var (
		b        billing.Bill
		original sql.NullString
		rate     decimal.NullDecimal
		days     sql.NullInt64
		amount   decimal.NullDecimal
		notes    sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.ContractID, &b.RoomID,
		timeCol{&b.FromDate}, timeCol{&b.ToDate}, timeCol{&b.BillDate}, timeCol{&b.DueDate},
		&b.BillType, &b.TotalAmount.Value, &b.PaidAmount.Value, &b.PartialPaymentFeesCollected.Value,
		&b.OutstandingAmount.Value, &b.Status, &b.IsPartiallyPaid, &original,
		&rate, &days, &amount,
		nullTimeCol{&b.LastPaymentDate}, nullTimeCol{&b.PaidDate}, &notes,
		&b.Version, timeCol{&b.CreatedAt}, timeCol{&b.UpdatedAt},
	)
	if err != nil {
		return b, err
	}
	if original.Valid {
		id := generic.BillID(original.String)
		b.OriginalBillID = &id
	}
	if rate.Valid {
		r := rate.Decimal
		b.PenaltyRate = &r
	}
	if days.Valid {
		d := int(days.Int64)
		b.OverdueDays = &d
	}
	if amount.Valid {
		m := generic.NewMoneyFromDecimal(amount.Decimal)
		b.PenaltyAmount = &m
	}
	b.Notes = notes.String
	return b, nil
}

func (q queries) GetBill(ctx context.Context, id generic.BillID) (*billing.Bill, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+billColumns+" FROM bills WHERE id = ?", id)
	b, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "bill", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}
	return &b, nil
}

func (q queries) ListBills(ctx context.Context, f billing.BillFilter) ([]billing.Bill, error) {
	var (
		where []string
		args  []any
	)
	if f.ContractID != nil {
		where = append(where, "contract_id = ?")
		args = append(args, *f.ContractID)
	}
	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args = append(args, t)
		}
		where = append(where, "bill_type IN ("+strings.Join(marks, ", ")+")")
	}
	if f.UnpaidOnly {
		where = append(where, "status = 0")
	}
	if f.DueBefore != nil {
		where = append(where, "due_date < ?")
		args = append(args, formatTime(*f.DueBefore))
	}

	query := "SELECT " + billColumns + " FROM bills"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY bill_date ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []billing.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func (q queries) PenaltyFor(ctx context.Context, originalID generic.BillID) (*billing.Bill, error) {
	row := q.q.QueryRowContext(ctx,
		"SELECT "+billColumns+" FROM bills WHERE bill_type = 'PENALTY' AND original_bill_id = ?", originalID)
	b, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get penalty: %w", err)
	}
	return &b, nil
}

// =============================================================================
// LINE ITEMS + PAYMENT HISTORY
// =============================================================================

const lineItemColumns = `id, bill_id, position, kind, service_id, description,
	old_reading, new_reading, consumed_units, unit_price, quantity, amount`

func (q queries) LineItems(ctx context.Context, billID generic.BillID) ([]billing.BillLineItem, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+lineItemColumns+" FROM bill_line_items WHERE bill_id = ? ORDER BY position", billID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []billing.BillLineItem
	for rows.Next() {
		var (
			it                   billing.BillLineItem
			position             int
			serviceID            sql.NullString
			oldR, newR, consumed sql.NullInt64
		)
		if err := rows.Scan(
			&it.ID, &it.BillID, &position, &it.Kind, &serviceID, &it.Description,
			&oldR, &newR, &consumed, &it.UnitPrice.Value, &it.Quantity, &it.Amount.Value,
		); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		if serviceID.Valid {
			id := generic.ServiceID(serviceID.String)
			it.ServiceID = &id
		}
		it.OldReading = int64Ptr(oldR)
		it.NewReading = int64Ptr(newR)
		it.ConsumedUnits = int64Ptr(consumed)
		items = append(items, it)
	}
	return items, rows.Err()
}

const paymentColumns = `id, bill_id, payment_number, payment_amount, partial_payment_fee,
	overdue_interest, payment_method, status, transaction_id, outstanding_before,
	outstanding_after, paid_before, paid_after, is_partial, is_final, notes, paid_at`

func scanPayment(row scanner) (billing.PaymentHistoryEntry, error) {
	var (
		e     billing.PaymentHistoryEntry
		txID  sql.NullString
		notes sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.BillID, &e.PaymentNumber, &e.PaymentAmount.Value, &e.PartialPaymentFee.Value,
		&e.OverdueInterest.Value, &e.PaymentMethod, &e.Status, &txID, &e.OutstandingBefore.Value,
		&e.OutstandingAfter.Value, &e.PaidBefore.Value, &e.PaidAfter.Value,
		&e.IsPartialPayment, &e.IsFinalPayment, &notes, timeCol{&e.PaidAt},
	)
	e.TransactionID = txID.String
	e.Notes = notes.String
	return e, err
}

func (q queries) PaymentHistory(ctx context.Context, billID generic.BillID) ([]billing.PaymentHistoryEntry, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payment_history WHERE bill_id = ? ORDER BY payment_number", billID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment history: %w", err)
	}
	defer rows.Close()

	var entries []billing.PaymentHistoryEntry
	for rows.Next() {
		e, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q queries) FindPaymentByTransaction(ctx context.Context, txID string) (*billing.PaymentHistoryEntry, error) {
	if txID == "" {
		return nil, nil
	}
	row := q.q.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payment_history WHERE transaction_id = ?", txID)
	e, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return &e, nil
}

// =============================================================================
// INBOUND RECORDS
// =============================================================================

const contractColumns = `id, room_id, tenant_id, landlord_id, tenant_phone, rent_amount,
	payment_cycle, start_date, end_date, status`

func scanContract(row scanner) (billing.Contract, error) {
	var (
		c     billing.Contract
		phone sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.RoomID, &c.TenantID, &c.LandlordID, &phone, &c.RentAmount.Value,
		&c.PaymentCycle, timeCol{&c.StartDate}, nullTimeCol{&c.EndDate}, &c.Status,
	)
	c.TenantPhone = phone.String
	return c, err
}

func (q queries) GetContract(ctx context.Context, id generic.ContractID) (*billing.Contract, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+contractColumns+" FROM contracts WHERE id = ?", id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "contract", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return &c, nil
}

func (q queries) ListContracts(ctx context.Context, status billing.ContractStatus) ([]billing.Contract, error) {
	query := "SELECT " + contractColumns + " FROM contracts"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY id"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []billing.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

func (q queries) ServicesForRoom(ctx context.Context, roomID generic.RoomID) ([]billing.MeteredService, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, room_id, name, unit, metered, active
		FROM services WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var services []billing.MeteredService
	for rows.Next() {
		var (
			svc  billing.MeteredService
			unit sql.NullString
		)
		if err := rows.Scan(&svc.ID, &svc.RoomID, &svc.Name, &unit, &svc.Metered, &svc.Active); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		svc.Unit = unit.String
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (q queries) PriceAt(ctx context.Context, serviceID generic.ServiceID, at time.Time) (*billing.ServicePrice, error) {
	p := billing.ServicePrice{ServiceID: serviceID}
	err := q.q.QueryRowContext(ctx, `
		SELECT unit_price, effective_from FROM service_prices
		WHERE service_id = ? AND effective_from <= ?
		ORDER BY effective_from DESC LIMIT 1`,
		serviceID, formatTime(at),
	).Scan(&p.UnitPrice.Value, timeCol{&p.EffectiveFrom})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "service price", ID: fmt.Sprintf("%s@%s", serviceID, at.Format("2006-01-02"))}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	return &p, nil
}

func (q queries) ReadingsInRange(ctx context.Context, roomID generic.RoomID, serviceID generic.ServiceID, p generic.Period) ([]billing.MeterReading, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, room_id, service_id, old_reading, new_reading, read_at
		FROM meter_readings
		WHERE room_id = ? AND service_id = ? AND read_at >= ? AND read_at < ?
		ORDER BY read_at`,
		roomID, serviceID, formatTime(p.Start), formatTime(p.End),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []billing.MeterReading
	for rows.Next() {
		var r billing.MeterReading
		if err := rows.Scan(&r.ID, &r.RoomID, &r.ServiceID, &r.OldReading, &r.NewReading, timeCol{&r.ReadAt}); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// =============================================================================
// INBOUND UPSERTS
// =============================================================================

func (s *Store) SaveContract(ctx context.Context, c billing.Contract) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			room_id = excluded.room_id,
			tenant_id = excluded.tenant_id,
			landlord_id = excluded.landlord_id,
			tenant_phone = excluded.tenant_phone,
			rent_amount = excluded.rent_amount,
			payment_cycle = excluded.payment_cycle,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status`,
		c.ID, c.RoomID, c.TenantID, c.LandlordID, nullString(c.TenantPhone), c.RentAmount.Value,
		c.PaymentCycle, formatTime(c.StartDate), formatTimePtr(c.EndDate), c.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

func (s *Store) SaveService(ctx context.Context, svc billing.MeteredService) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, room_id, name, unit, metered, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			room_id = excluded.room_id,
			name = excluded.name,
			unit = excluded.unit,
			metered = excluded.metered,
			active = excluded.active`,
		svc.ID, svc.RoomID, svc.Name, nullString(svc.Unit), svc.Metered, svc.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}
	return nil
}

// SaveServicePrice replaces a row with the same EffectiveFrom, else inserts.
func (s *Store) SaveServicePrice(ctx context.Context, p billing.ServicePrice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_prices (service_id, effective_from, unit_price)
		VALUES (?, ?, ?)
		ON CONFLICT(service_id, effective_from) DO UPDATE SET unit_price = excluded.unit_price`,
		p.ServiceID, formatTime(p.EffectiveFrom), p.UnitPrice.Value,
	)
	if err != nil {
		return fmt.Errorf("failed to save service price: %w", err)
	}
	return nil
}

func (s *Store) SaveReading(ctx context.Context, r billing.MeterReading) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meter_readings (id, room_id, service_id, old_reading, new_reading, read_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			old_reading = excluded.old_reading,
			new_reading = excluded.new_reading,
			read_at = excluded.read_at`,
		r.ID, r.RoomID, r.ServiceID, r.OldReading, r.NewReading, formatTime(r.ReadAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save reading: %w", err)
	}
	return nil
}

// =============================================================================
// SCHEDULER RUNS
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r billing.SchedulerRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_runs (id, task, status, processed, skipped, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			skipped = excluded.skipped,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		r.ID, r.Task, r.Status, r.Processed, r.Skipped, r.Failed, nullString(r.Error),
		formatTime(r.StartedAt), formatTimePtr(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]billing.SchedulerRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task, status, processed, skipped, failed, error, started_at, completed_at
		FROM scheduler_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []billing.SchedulerRun
	for rows.Next() {
		var (
			r      billing.SchedulerRun
			errMsg sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.Task, &r.Status, &r.Processed, &r.Skipped, &r.Failed, &errMsg,
			timeCol{&r.StartedAt}, nullTimeCol{&r.CompletedAt},
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case string:
		return time.Parse(timeLayout, x)
	case []byte:
		return time.Parse(timeLayout, string(x))
	case time.Time:
		return x.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}

// timeCol scans a NOT NULL time column.
type timeCol struct{ t *time.Time }

func (c timeCol) Scan(v any) error {
	t, err := parseTime(v)
	if err != nil {
		return err
	}
	*c.t = t
	return nil
}

// nullTimeCol scans a nullable time column into a pointer.
type nullTimeCol struct{ p **time.Time }

func (c nullTimeCol) Scan(v any) error {
	if v == nil {
		*c.p = nil
		return nil
	}
	t, err := parseTime(v)
	if err != nil {
		return err
	}
	*c.p = &t
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// isTriggerAbort matches RAISE(ABORT) from a schema trigger.
func isTriggerAbort(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintTrigger
	}
	return false
}

func conflictReason(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "original_bill_id"):
		return "penalty already exists"
	case strings.Contains(msg, "from_date"):
		return "period already billed"
	case strings.Contains(msg, "transaction_id"):
		return "transaction already recorded"
	case strings.Contains(msg, "payment_number"):
		return "payment number taken"
	}
	return "already exists"
}
