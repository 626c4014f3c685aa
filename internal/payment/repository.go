package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ahinestrog/ordersaga/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS payments(
  order_id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  amount REAL NOT NULL,
  status TEXT NOT NULL,
  transaction_id TEXT NOT NULL DEFAULT '',
  failure_reason TEXT NOT NULL DEFAULT '',
  created_unix INTEGER NOT NULL,
  updated_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status);
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

// CreatePending records a PENDING payment unless the order already has one,
// and returns whatever record the order has afterwards.
func (r *Repository) CreatePending(ctx context.Context, orderID, customerID string, amount float64) (*Payment, error) {
	now := r.now().Unix()
	if _, err := r.db.ExecContext(ctx, `
INSERT INTO payments(order_id, customer_id, amount, status, created_unix, updated_unix)
VALUES(?,?,?,?,?,?)
ON CONFLICT(order_id) DO NOTHING`,
		orderID, customerID, amount, StatusPending, now, now); err != nil {
		return nil, fmt.Errorf("create payment %s: %w", orderID, err)
	}
	p, err := r.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("create payment %s: record vanished", orderID)
	}
	return p, nil
}

// Settle moves a PENDING payment to its outcome. It reports false when the
// payment was already settled, in which case nothing changes.
func (r *Repository) Settle(ctx context.Context, orderID string, status Status, transactionID, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE payments SET status=?, transaction_id=?, failure_reason=?, updated_unix=?
WHERE order_id=? AND status=?`,
		status, transactionID, reason, r.now().Unix(), orderID, StatusPending)
	if err != nil {
		return false, fmt.Errorf("settle payment %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get returns nil, nil when the order has no payment.
func (r *Repository) Get(ctx context.Context, orderID string) (*Payment, error) {
	var (
		p                Payment
		created, updated int64
	)
	err := r.db.QueryRowContext(ctx, `
SELECT order_id, customer_id, amount, status, transaction_id, failure_reason, created_unix, updated_unix
FROM payments WHERE order_id=?`, orderID).
		Scan(&p.OrderID, &p.CustomerID, &p.Amount, &p.Status, &p.TransactionID, &p.FailureReason, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(created, 0)
	p.UpdatedAt = time.Unix(updated, 0)
	return &p, nil
}
