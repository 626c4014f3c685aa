package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ahinestrog/ordersaga/internal/storage"
)

// Leg names one of the two saga participants tracked on an order.
type Leg int

const (
	LegStock Leg = iota
	LegPayment
)

func (l Leg) column() string {
	if l == LegStock {
		return "stock_status"
	}
	return "payment_status"
}

// Mark records that a terminal order's outgoing event has been sent.
type Mark int

const (
	// MarkAnnounced covers order.confirmed or order.cancelled.
	MarkAnnounced Mark = iota
	// MarkReleaseSent covers the stock.release of a cancelled order.
	MarkReleaseSent
)

func (m Mark) column() string {
	if m == MarkAnnounced {
		return "announced"
	}
	return "release_sent"
}

const schema = `
CREATE TABLE IF NOT EXISTS orders(
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  total_amount REAL NOT NULL,
  status TEXT NOT NULL,
  stock_status TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  failure_reason TEXT NOT NULL DEFAULT '',
  announced INTEGER NOT NULL DEFAULT 0,
  release_sent INTEGER NOT NULL DEFAULT 0,
  created_unix INTEGER NOT NULL,
  updated_unix INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS order_items(
  order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  line INTEGER NOT NULL,
  product_id TEXT NOT NULL,
  price REAL NOT NULL,
  quantity INTEGER NOT NULL,
  PRIMARY KEY(order_id, line)
);
CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id);
CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_unix);
CREATE INDEX IF NOT EXISTS idx_orders_announced ON orders(announced, status);
`

const orderColumns = `id, customer_id, total_amount, status, stock_status, payment_status, failure_reason, announced, release_sent, created_unix, updated_unix`

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(ctx context.Context, driver, path string) (*Repository, error) {
	db, err := storage.Open(driver, path)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db, now: time.Now}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) Create(ctx context.Context, o *Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO orders(`+orderColumns+`)
VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.CustomerID, o.TotalAmount, o.Status, o.StockStatus, o.PaymentStatus, o.FailureReason,
		o.Announced, o.ReleaseSent, o.CreatedAt.Unix(), o.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO order_items(order_id, line, product_id, price, quantity) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, it := range o.Items {
		if _, err := stmt.ExecContext(ctx, o.ID, i, it.ProductID, it.Price, it.Quantity); err != nil {
			return fmt.Errorf("insert item %d of %s: %w", i, o.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns nil, nil when the order does not exist.
func (r *Repository) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.items(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repository) List(ctx context.Context) ([]*Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_unix, rowid`)
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID string) ([]*Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id=? ORDER BY created_unix, rowid`, customerID)
}

// ListStalePending returns ids of PENDING orders created before cutoff.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.ids(ctx, `
SELECT id FROM orders WHERE status=? AND created_unix < ? ORDER BY created_unix`,
		StatusPending, cutoff.Unix())
}

// UpdateLeg records a leg outcome while the order is still PENDING. A leg is
// written once: repeating the same value succeeds, a conflicting value does
// not. The first failure reason recorded on the order is kept.
func (r *Repository) UpdateLeg(ctx context.Context, id string, leg Leg, value, reason string) (bool, error) {
	col := leg.column()
	res, err := r.db.ExecContext(ctx, `
UPDATE orders SET `+col+`=?,
  failure_reason=CASE WHEN failure_reason='' THEN ? ELSE failure_reason END,
  updated_unix=?
WHERE id=? AND status=? AND `+col+` IN (?, ?)`,
		value, reason, r.now().Unix(), id, StatusPending, "PENDING", value)
	if err != nil {
		return false, fmt.Errorf("update %s of %s: %w", col, id, err)
	}
	return affected(res)
}

// Finalize moves a PENDING order to a terminal status. It reports false when
// the order was no longer PENDING; otherwise it returns the order as it was at
// the moment of the transition, which is the only state a caller may act on.
func (r *Repository) Finalize(ctx context.Context, id string, status Status, reason string) (*Order, bool, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `
UPDATE orders SET status=?,
  failure_reason=CASE WHEN failure_reason='' THEN ? ELSE failure_reason END,
  updated_unix=?
WHERE id=? AND status=?
RETURNING `+orderColumns,
		status, reason, r.now().Unix(), id, StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("finalize %s: %w", id, err)
	}
	if o.Items, err = r.items(ctx, id); err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// MarkLateReservation records a reservation that arrived after the order was
// cancelled with its stock leg still open. Exactly one caller wins.
func (r *Repository) MarkLateReservation(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE orders SET stock_status=?, updated_unix=?
WHERE id=? AND status=? AND stock_status=?`,
		StockReserved, r.now().Unix(), id, StatusCancelled, StockPending)
	if err != nil {
		return false, fmt.Errorf("mark late reservation %s: %w", id, err)
	}
	return affected(res)
}

// ClaimMark sets m on a terminal order and reports whether this caller was
// the one to set it. The claimant sends the matching event.
func (r *Repository) ClaimMark(ctx context.Context, id string, m Mark) (bool, error) {
	col := m.column()
	res, err := r.db.ExecContext(ctx, `
UPDATE orders SET `+col+`=1, updated_unix=? WHERE id=? AND status<>? AND `+col+`=0`,
		r.now().Unix(), id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim %s of %s: %w", col, id, err)
	}
	return affected(res)
}

// ClearMark undoes a claim whose event could not be sent.
func (r *Repository) ClearMark(ctx context.Context, id string, m Mark) error {
	col := m.column()
	if _, err := r.db.ExecContext(ctx, `UPDATE orders SET `+col+`=0 WHERE id=?`, id); err != nil {
		return fmt.Errorf("clear %s of %s: %w", col, id, err)
	}
	return nil
}

// ListOwing returns ids of terminal orders with an event still unsent.
func (r *Repository) ListOwing(ctx context.Context) ([]string, error) {
	return r.ids(ctx, `
SELECT id FROM orders
WHERE status<>? AND (announced=0 OR (status=? AND stock_status=? AND release_sent=0))
ORDER BY updated_unix`,
		StatusPending, StatusCancelled, StockReserved)
}

func (r *Repository) ids(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]*Order, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	// single connection: close before loading items
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range out {
		if o.Items, err = r.items(ctx, o.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repository) items(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT product_id, price, quantity FROM order_items WHERE order_id=? ORDER BY line`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Price, &it.Quantity); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*Order, error) {
	var (
		o                      Order
		announced, releaseSent int64
		created, updated       int64
	)
	if err := s.Scan(&o.ID, &o.CustomerID, &o.TotalAmount, &o.Status, &o.StockStatus, &o.PaymentStatus,
		&o.FailureReason, &announced, &releaseSent, &created, &updated); err != nil {
		return nil, err
	}
	o.Announced = announced != 0
	o.ReleaseSent = releaseSent != 0
	o.CreatedAt = time.Unix(created, 0)
	o.UpdatedAt = time.Unix(updated, 0)
	return &o, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
