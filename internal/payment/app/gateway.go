// Package app is the simulated payment gateway. Every charge with a present
// instrument succeeds. A charge stays in memory, refundable, until it is
// either refunded or settled once the payment is committed.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront/internal/payment/domain"
)

type Gateway struct {
	mu      sync.Mutex
	charges map[string]*domain.Receipt
	now     func() time.Time
}

func NewGateway() *Gateway {
	return &Gateway{
		charges: make(map[string]*domain.Receipt),
		now:     time.Now,
	}
}

func (g *Gateway) Charge(ctx context.Context, orderID string, amount decimal.Decimal, instrument domain.Instrument) (*domain.Receipt, error) {
	if err := instrument.Validate(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("payment: charge %s: amount must be positive, got %s", orderID, amount)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	r := &domain.Receipt{
		Reference:  uuid.NewString(),
		OrderID:    orderID,
		Amount:     amount,
		CardLast4:  instrument.Last4(),
		CardHolder: instrument.CardHolder,
		CreatedAt:  g.now().UTC(),
	}
	g.charges[r.Reference] = r

	slog.InfoContext(ctx, "payment charged",
		"order_id", orderID, "reference", r.Reference, "amount", amount.StringFixed(2))
	return r, nil
}

// Refund voids a charge. Refunding an unknown reference is an error so a
// double compensation is visible in the logs.
func (g *Gateway) Refund(ctx context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.charges[reference]
	if !ok {
		return fmt.Errorf("payment: refund %s: %w", reference, domain.ErrChargeNotFound)
	}
	delete(g.charges, reference)

	slog.InfoContext(ctx, "payment refunded",
		"order_id", r.OrderID, "reference", reference, "amount", r.Amount.StringFixed(2))
	return nil
}

// Settle forgets a committed charge: it can no longer be refunded and its
// card holder is no longer held in memory.
func (g *Gateway) Settle(ctx context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.charges[reference]
	if !ok {
		return fmt.Errorf("payment: settle %s: %w", reference, domain.ErrChargeNotFound)
	}
	delete(g.charges, reference)

	slog.DebugContext(ctx, "payment settled", "order_id", r.OrderID, "reference", reference)
	return nil
}

// Outstanding returns how many charges are neither refunded nor settled.
func (g *Gateway) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}
