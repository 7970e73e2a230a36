package checkout

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	catalogdomain "github.com/jcmexdev/storefront/internal/catalog/domain"
	orderdomain "github.com/jcmexdev/storefront/internal/order/domain"
	paymentdomain "github.com/jcmexdev/storefront/internal/payment/domain"
)

// Metrics counts checkout outcomes.
type Metrics struct {
	ordersCreated     metric.Int64Counter
	paymentsCompleted metric.Int64Counter
	failures          metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	ordersCreated, err := meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Pending orders created by checkout"))
	if err != nil {
		return nil, fmt.Errorf("checkout: metrics: %w", err)
	}
	paymentsCompleted, err := meter.Int64Counter("checkout.payments.completed",
		metric.WithDescription("Orders moved to paid"))
	if err != nil {
		return nil, fmt.Errorf("checkout: metrics: %w", err)
	}
	failures, err := meter.Int64Counter("checkout.failures",
		metric.WithDescription("Checkouts that ended in the Failed state"))
	if err != nil {
		return nil, fmt.Errorf("checkout: metrics: %w", err)
	}
	return &Metrics{
		ordersCreated:     ordersCreated,
		paymentsCompleted: paymentsCompleted,
		failures:          failures,
	}, nil
}

func (m *Metrics) orderCreated(ctx context.Context) {
	m.ordersCreated.Add(ctx, 1)
}

func (m *Metrics) paymentCompleted(ctx context.Context) {
	m.paymentsCompleted.Add(ctx, 1)
}

func (m *Metrics) failed(ctx context.Context, stage string, err error) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("reason", failureReason(err)),
	))
}

// failureReason keeps the reason attribute low-cardinality.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPaymentDecrementFailed):
		return "stock_changed"
	case errors.Is(err, orderdomain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, orderdomain.ErrOrderNotFound), errors.Is(err, catalogdomain.ErrProductNotFound):
		return "not_found"
	case errors.Is(err, orderdomain.ErrMissingShipping), errors.Is(err, paymentdomain.ErrMissingInstrument):
		return "bad_input"
	default:
		return "internal"
	}
}
