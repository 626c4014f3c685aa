package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ahinestrog/ordersaga/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS inventory(
  product_id TEXT PRIMARY KEY,
  quantity INTEGER NOT NULL CHECK(quantity >= 0),
  updated_unix INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS stock_reservations(
  order_id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  failure_reason TEXT NOT NULL DEFAULT '',
  created_unix INTEGER NOT NULL,
  updated_unix INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS reservation_items(
  order_id TEXT NOT NULL REFERENCES stock_reservations(order_id) ON DELETE CASCADE,
  line INTEGER NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  PRIMARY KEY(order_id, line)
);
CREATE INDEX IF NOT EXISTS idx_reservations_status ON stock_reservations(status);
`

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

// Upsert sets a product's stock level.
func (r *Repository) Upsert(ctx context.Context, productID string, quantity int) (*Stock, error) {
	now := r.now()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO inventory(product_id, quantity, updated_unix) VALUES(?,?,?)
ON CONFLICT(product_id) DO UPDATE SET quantity=excluded.quantity, updated_unix=excluded.updated_unix`,
		productID, quantity, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("upsert stock %s: %w", productID, err)
	}
	return &Stock{ProductID: productID, Quantity: quantity, UpdatedAt: time.Unix(now.Unix(), 0)}, nil
}

// Seed inserts initial stock without touching products that already exist.
func (r *Repository) Seed(ctx context.Context, stock map[string]int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now().Unix()
	for id, qty := range stock {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO inventory(product_id, quantity, updated_unix) VALUES(?,?,?)
ON CONFLICT(product_id) DO NOTHING`, id, qty, now); err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Get returns nil, nil for an unknown product.
func (r *Repository) Get(ctx context.Context, productID string) (*Stock, error) {
	var (
		s       Stock
		updated int64
	)
	err := r.db.QueryRowContext(ctx, `
SELECT product_id, quantity, updated_unix FROM inventory WHERE product_id=?`, productID).
		Scan(&s.ProductID, &s.Quantity, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.UpdatedAt = time.Unix(updated, 0)
	return &s, nil
}

func (r *Repository) List(ctx context.Context) ([]Stock, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT product_id, quantity, updated_unix FROM inventory ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Stock{}
	for rows.Next() {
		var (
			s       Stock
			updated int64
		)
		if err := rows.Scan(&s.ProductID, &s.Quantity, &updated); err != nil {
			return nil, err
		}
		s.UpdatedAt = time.Unix(updated, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Reserve decrements stock for every item or for none, and records the
// outcome in the ledger, all in one transaction. When the order already has
// a ledger entry nothing changes and that entry is returned with created
// false.
func (r *Repository) Reserve(ctx context.Context, orderID string, items []Item) (res *Reservation, created bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getReservation(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, tx.Commit()
	}

	now := r.now().Unix()
	var (
		failure error
		taken   []Item
	)
	for _, it := range items {
		if it.Quantity <= 0 {
			failure = InvalidQuantityError{ProductID: it.ProductID}
			break
		}
		ok, err := execAffected(ctx, tx, `
UPDATE inventory SET quantity=quantity-?, updated_unix=? WHERE product_id=? AND quantity>=?`,
			it.Quantity, now, it.ProductID, it.Quantity)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			failure = InsufficientStockError{ProductID: it.ProductID}
			break
		}
		taken = append(taken, it)
	}

	res = &Reservation{
		OrderID:   orderID,
		Status:    ReservationReserved,
		Items:     items,
		CreatedAt: time.Unix(now, 0),
		UpdatedAt: time.Unix(now, 0),
	}
	if failure != nil {
		for _, it := range taken {
			if _, err := tx.ExecContext(ctx, `
UPDATE inventory SET quantity=quantity+?, updated_unix=? WHERE product_id=?`,
				it.Quantity, now, it.ProductID); err != nil {
				return nil, false, err
			}
		}
		res.Status = ReservationFailed
		res.FailureReason = failure.Error()
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO stock_reservations(order_id, status, failure_reason, created_unix, updated_unix) VALUES(?,?,?,?,?)`,
		orderID, res.Status, res.FailureReason, now, now); err != nil {
		return nil, false, fmt.Errorf("record reservation %s: %w", orderID, err)
	}
	for i, it := range items {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO reservation_items(order_id, line, product_id, quantity) VALUES(?,?,?,?)`,
			orderID, i, it.ProductID, it.Quantity); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Release flips a RESERVED ledger entry to RELEASED and returns its items to
// stock. It reports false, changing nothing, when the entry is missing or not
// RESERVED.
func (r *Repository) Release(ctx context.Context, orderID string) (*Reservation, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now().Unix()
	ok, err := execAffected(ctx, tx, `
UPDATE stock_reservations SET status=?, updated_unix=? WHERE order_id=? AND status=?`,
		ReservationReleased, now, orderID, ReservationReserved)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, tx.Commit()
	}

	res, err := getReservation(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}
	for _, it := range res.Items {
		if _, err := tx.ExecContext(ctx, `
UPDATE inventory SET quantity=quantity+?, updated_unix=? WHERE product_id=?`,
			it.Quantity, now, it.ProductID); err != nil {
			return nil, false, fmt.Errorf("release %s for %s: %w", it.ProductID, orderID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Reservation returns nil, nil when the order has no ledger entry.
func (r *Repository) Reservation(ctx context.Context, orderID string) (*Reservation, error) {
	return getReservation(ctx, r.db, orderID)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getReservation(ctx context.Context, q querier, orderID string) (*Reservation, error) {
	var (
		res              Reservation
		created, updated int64
	)
	err := q.QueryRowContext(ctx, `
SELECT order_id, status, failure_reason, created_unix, updated_unix FROM stock_reservations WHERE order_id=?`, orderID).
		Scan(&res.OrderID, &res.Status, &res.FailureReason, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	res.CreatedAt = time.Unix(created, 0)
	res.UpdatedAt = time.Unix(updated, 0)

	rows, err := q.QueryContext(ctx, `
SELECT product_id, quantity FROM reservation_items WHERE order_id=? ORDER BY line`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		res.Items = append(res.Items, it)
	}
	return &res, rows.Err()
}

func execAffected(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
