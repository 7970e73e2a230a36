// Package inventory is the stock ledger: the per-product counter of units
// available for sale.
//
// The only way units leave the ledger is DecrementIfAvailable, a single
// guarded UPDATE. The check and the write happen in one statement, so no
// interleaving of concurrent buyers can drive a balance below zero. The
// schema's CHECK (stock >= 0) backs this up.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	catalogdomain "github.com/jcmexdev/storefront/internal/catalog/domain"
)

var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

type Ledger struct {
	q sqlx.ExtContext
}

func NewLedger(db *sqlx.DB) *Ledger {
	return &Ledger{q: db}
}

// WithTx returns a ledger whose writes join tx.
func (l *Ledger) WithTx(tx *sqlx.Tx) *Ledger {
	return &Ledger{q: tx}
}

// ReadStock returns the current balance. It is for display and validation
// only: the value may be stale by the time a decrement runs.
func (l *Ledger) ReadStock(ctx context.Context, productID int64) (int, error) {
	var stock int
	err := sqlx.GetContext(ctx, l.q, &stock, `SELECT stock FROM products WHERE id = ?`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("inventory: product %d: %w", productID, catalogdomain.ErrProductNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("inventory: read stock %d: %w", productID, err)
	}
	return stock, nil
}

// DecrementIfAvailable removes qty units when at least qty are available and
// reports whether it did. false with a nil error means the stock was short
// (or the product does not exist); nothing was changed.
func (l *Ledger) DecrementIfAvailable(ctx context.Context, productID int64, qty int) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}

	res, err := l.q.ExecContext(ctx,
		`UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?`,
		qty, productID, qty,
	)
	if err != nil {
		return false, fmt.Errorf("inventory: decrement %d by %d: %w", productID, qty, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inventory: decrement %d by %d: %w", productID, qty, err)
	}
	if n != 1 {
		slog.DebugContext(ctx, "stock decrement refused", "product_id", productID, "quantity", qty)
		return false, nil
	}
	return true, nil
}

// Restock puts qty units back. It is only used when a paid order is
// cancelled before shipping.
func (l *Ledger) Restock(ctx context.Context, productID int64, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	res, err := l.q.ExecContext(ctx, `UPDATE products SET stock = stock + ? WHERE id = ?`, qty, productID)
	if err != nil {
		return fmt.Errorf("inventory: restock %d by %d: %w", productID, qty, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inventory: restock %d by %d: %w", productID, qty, err)
	}
	if n != 1 {
		return fmt.Errorf("inventory: restock %d: %w", productID, catalogdomain.ErrProductNotFound)
	}
	return nil
}
