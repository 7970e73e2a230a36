// Package sqlstore runs the checkout writes that span several stores inside
// one database transaction.
package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jcmexdev/storefront/internal/checkout"
	"github.com/jcmexdev/storefront/internal/inventory"
	ordersql "github.com/jcmexdev/storefront/internal/order/adapters/sqlstore"
	orderdomain "github.com/jcmexdev/storefront/internal/order/domain"
	paymentsql "github.com/jcmexdev/storefront/internal/payment/adapters/sqlstore"
	paymentdomain "github.com/jcmexdev/storefront/internal/payment/domain"
	"github.com/jcmexdev/storefront/internal/pkg/storage"
)

// Ensure Committer implements the checkout port at compile time.
var _ checkout.Committer = (*Committer)(nil)

type Committer struct {
	db       *sqlx.DB
	orders   *ordersql.Repository
	ledger   *inventory.Ledger
	payments *paymentsql.Repository
}

func NewCommitter(db *sqlx.DB, orders *ordersql.Repository, ledger *inventory.Ledger, payments *paymentsql.Repository) *Committer {
	return &Committer{db: db, orders: orders, ledger: ledger, payments: payments}
}

// CommitPayment moves the order from pending to paid, decrements the stock
// of every line with the guarded UPDATE and stores the receipt. Any refusal
// rolls the whole transaction back.
func (c *Committer) CommitPayment(ctx context.Context, order *orderdomain.Order, receipt *paymentdomain.Receipt) error {
	err := storage.WithTx(ctx, c.db, func(tx *sqlx.Tx) error {
		if err := c.orders.WithTx(tx).MarkPaid(ctx, order.ID); err != nil {
			return err
		}

		ledger := c.ledger.WithTx(tx)
		for _, line := range order.Lines {
			ok, err := ledger.DecrementIfAvailable(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return &checkout.DecrementError{OrderID: order.ID, ProductID: line.ProductID, Quantity: line.Quantity}
			}
		}

		return c.payments.WithTx(tx).Save(ctx, receipt)
	})
	if err != nil {
		return fmt.Errorf("checkout: commit payment for %s: %w", order.Number, err)
	}
	return nil
}

// ApplyStatus changes the status of an order. Cancelling a paid order puts
// its units back in the ledger in the same transaction; shipped goods are
// not restocked.
func (c *Committer) ApplyStatus(ctx context.Context, orderID string, next orderdomain.OrderStatus) (orderdomain.OrderStatus, error) {
	var prev orderdomain.OrderStatus
	err := storage.WithTx(ctx, c.db, func(tx *sqlx.Tx) error {
		orders := c.orders.WithTx(tx)

		var err error
		prev, err = orders.UpdateStatus(ctx, orderID, next)
		if err != nil {
			return err
		}
		if next != orderdomain.StatusCancelled || prev != orderdomain.StatusPaid {
			return nil
		}

		order, err := orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		ledger := c.ledger.WithTx(tx)
		for _, line := range order.Lines {
			if err := ledger.Restock(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return prev, fmt.Errorf("checkout: %s -> %s: %w", orderID, next, err)
	}
	return prev, nil
}
