// Package sqlstore records payment confirmations.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront/internal/payment/domain"
	"github.com/jcmexdev/storefront/internal/pkg/storage"
)

type receiptRow struct {
	Reference  string          `db:"reference"`
	OrderID    string          `db:"order_id"`
	Amount     decimal.Decimal `db:"amount"`
	CardLast4  string          `db:"card_last4"`
	CardHolder string          `db:"card_holder"`
	CreatedAt  storage.Time    `db:"created_at"`
}

type Repository struct {
	q sqlx.ExtContext
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{q: db}
}

func (r *Repository) WithTx(tx *sqlx.Tx) *Repository {
	return &Repository{q: tx}
}

// Save records the confirmation. An order holds at most one.
func (r *Repository) Save(ctx context.Context, rc *domain.Receipt) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO payments (reference, order_id, amount, card_last4, card_holder, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rc.Reference, rc.OrderID, rc.Amount, rc.CardLast4, rc.CardHolder, storage.FormatTime(rc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("payment store: save %s for order %s: %w", rc.Reference, rc.OrderID, err)
	}
	return nil
}

// ForOrder returns the confirmation of a paid order.
func (r *Repository) ForOrder(ctx context.Context, orderID string) (*domain.Receipt, error) {
	var row receiptRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT reference, order_id, amount, card_last4, card_holder, created_at FROM payments WHERE order_id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment store: order %s: %w", orderID, domain.ErrChargeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("payment store: order %s: %w", orderID, err)
	}
	return &domain.Receipt{
		Reference:  row.Reference,
		OrderID:    row.OrderID,
		Amount:     row.Amount,
		CardLast4:  row.CardLast4,
		CardHolder: row.CardHolder,
		CreatedAt:  row.CreatedAt.Time,
	}, nil
}
