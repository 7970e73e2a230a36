// Package checkout orchestrates order finalization: it validates the session
// cart against live stock, creates the pending order, and collects the
// simulated payment, committing the stock decrement together with the
// pending → paid transition.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	cartdomain "github.com/jcmexdev/storefront/internal/cart/domain"
	catalogdomain "github.com/jcmexdev/storefront/internal/catalog/domain"
	"github.com/jcmexdev/storefront/internal/checkout/checkoutlog"
	orderdomain "github.com/jcmexdev/storefront/internal/order/domain"
	paymentdomain "github.com/jcmexdev/storefront/internal/payment/domain"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
)

const idempotencyOperation = "checkout"

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*catalogdomain.Product, error)
}

type StockReader interface {
	ReadStock(ctx context.Context, productID int64) (int, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, o *orderdomain.Order) error
	Get(ctx context.Context, orderID string) (*orderdomain.Order, error)
	GetForUser(ctx context.Context, orderID, userID string) (*orderdomain.Order, error)
	ListForUser(ctx context.Context, userID string) ([]orderdomain.Summary, error)
	List(ctx context.Context, status orderdomain.OrderStatus) ([]orderdomain.Summary, error)
	SalesSummary(ctx context.Context) (orderdomain.SalesSummary, error)
}

type PaymentGateway interface {
	Charge(ctx context.Context, orderID string, amount decimal.Decimal, instrument paymentdomain.Instrument) (*paymentdomain.Receipt, error)
	Refund(ctx context.Context, reference string) error
	// Settle releases a committed charge; it is no longer refundable.
	Settle(ctx context.Context, reference string) error
}

// PaymentCommitter atomically marks an order paid, decrements the stock of
// each line and records the receipt. A refused decrement is reported as a
// *DecrementError and leaves the order pending.
type PaymentCommitter interface {
	CommitPayment(ctx context.Context, order *orderdomain.Order, receipt *paymentdomain.Receipt) error
}

// StatusApplier applies an administrative status change and returns the
// previous status. Cancelling a paid order restocks its lines.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, orderID string, next orderdomain.OrderStatus) (orderdomain.OrderStatus, error)
}

type Committer interface {
	PaymentCommitter
	StatusApplier
}

type Dependencies struct {
	Catalog   Catalog
	Stock     StockReader
	Orders    OrderStore
	Gateway   PaymentGateway
	Committer Committer
	// Cache remembers idempotency keys.
	Cache          cache.Cache
	IdempotencyTTL time.Duration
	// Log may be nil.
	Log checkoutlog.Repository
}

type Service struct {
	deps    Dependencies
	metrics *Metrics
	now     func() time.Time
	newID   func() string
	// claimBackoff spaces the lookups of an order whose idempotency key
	// another request has claimed.
	claimBackoff []time.Duration
}

var defaultClaimBackoff = []time.Duration{
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
}

func NewService(deps Dependencies) (*Service, error) {
	metrics, err := NewMetrics(otel.Meter(tracerName))
	if err != nil {
		return nil, err
	}
	return &Service{
		deps:         deps,
		metrics:      metrics,
		now:          time.Now,
		newID:        uuid.NewString,
		claimBackoff: defaultClaimBackoff,
	}, nil
}

type BeginRequest struct {
	Cart           cartdomain.Cart
	UserID         string
	Address        string
	Phone          string
	IdempotencyKey string
}

type PaymentRequest struct {
	Cart       cartdomain.Cart
	OrderID    string
	UserID     string
	Instrument paymentdomain.Instrument
}

type PaymentResult struct {
	Order   *orderdomain.Order
	Receipt *paymentdomain.Receipt
}

// Review is the read-only view of a cart.
type Review struct {
	Lines       []cartdomain.Line
	TotalItems  int
	TotalAmount decimal.Decimal
}

// ReviewCart summarises the cart without touching any store.
func (s *Service) ReviewCart(cart cartdomain.Cart) Review {
	return Review{
		Lines:       cart.Lines(),
		TotalItems:  cart.TotalItems(),
		TotalAmount: cart.TotalAmount(),
	}
}

// BeginCheckout validates the cart and creates a pending order from it. The
// cart is returned uncleared; when validation found changed prices it
// carries the current ones.
//
// With an idempotency key, repeating the request returns the order created
// the first time. Concurrent requests with one key create a single order;
// a request that cannot see that order yet fails with
// ErrCheckoutInProgress.
func (s *Service) BeginCheckout(ctx context.Context, req BeginRequest) (*orderdomain.Order, cartdomain.Cart, error) {
	if req.UserID == "" {
		return nil, req.Cart, ErrAnonymous
	}

	var idemKey string
	if req.IdempotencyKey != "" && s.deps.Cache != nil {
		idemKey = s.deps.Cache.GenerateKey(idempotencyOperation, req.UserID+":"+req.IdempotencyKey)
		order, err := s.replay(ctx, idemKey, req.UserID)
		if err != nil || order != nil {
			return order, req.Cart, err
		}
	}

	orderID := s.newID()
	validate := NewValidateCartStep(s.deps.Catalog, s.deps.Stock, req.Cart)
	create := NewCreateOrderStep(s.deps.Orders, s.deps.Committer, orderDraft{
		id:      orderID,
		userID:  req.UserID,
		address: req.Address,
		phone:   req.Phone,
		cart:    validate,
		now:     s.now(),
	})
	steps := []Step{validate}

	var remember *RememberCheckoutStep
	if idemKey != "" {
		remember = NewRememberCheckoutStep(s.deps.Cache, idemKey, orderID, s.deps.IdempotencyTTL)
		steps = append(steps, remember)
	}
	steps = append(steps, create)

	pipeline := NewPipeline(orderID, StateAwaitingPayment, steps, s.deps.Log, beginPayload(req))
	if err := pipeline.Run(ctx); err != nil {
		if errors.Is(err, errDuplicateCheckout) {
			order, werr := s.awaitClaimedOrder(ctx, remember.Existing, req.UserID)
			return order, req.Cart, werr
		}
		s.metrics.failed(ctx, "begin", err)
		return nil, validate.Refreshed, err
	}

	s.metrics.orderCreated(ctx)
	slog.InfoContext(ctx, "order created",
		"order_id", create.Order.ID, "order_number", create.Order.Number,
		"user_id", req.UserID, "total", create.Order.TotalAmount.StringFixed(2))
	return create.Order, validate.Refreshed, nil
}

// replay returns the order a previous request with the same key created, or
// nil when the key is unknown. A key whose order never shows up is stale
// (its request died between claim and insert) and is forgotten.
func (s *Service) replay(ctx context.Context, key, userID string) (*orderdomain.Order, error) {
	orderID, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("checkout: read idempotency key: %w", err)
	}
	if orderID == "" {
		return nil, nil
	}

	order, err := s.awaitClaimedOrder(ctx, orderID, userID)
	if errors.Is(err, ErrCheckoutInProgress) {
		slog.WarnContext(ctx, "idempotency key points to a missing order, forgetting it", "order_id", orderID)
		return nil, s.deps.Cache.Delete(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "checkout replayed", "order_id", order.ID, "order_number", order.Number)
	return order, nil
}

// awaitClaimedOrder loads the order bound to an idempotency key. The key is
// claimed before the order is inserted, so the order may briefly be
// missing; it is polled with backoff before giving up.
func (s *Service) awaitClaimedOrder(ctx context.Context, orderID, userID string) (*orderdomain.Order, error) {
	if orderID == "" {
		return nil, ErrCheckoutInProgress
	}
	for i := 0; ; i++ {
		order, err := s.deps.Orders.GetForUser(ctx, orderID, userID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, orderdomain.ErrOrderNotFound) {
			return nil, err
		}
		if i == len(s.claimBackoff) {
			return nil, ErrCheckoutInProgress
		}

		timer := time.NewTimer(s.claimBackoff[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// CollectPayment charges the order and commits it. On success the order is
// paid, its stock is decremented and the returned cart is cleared. On any
// failure the charge is refunded, the order stays pending and the cart is
// returned untouched.
func (s *Service) CollectPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, cartdomain.Cart, error) {
	if req.UserID == "" {
		return nil, req.Cart, ErrAnonymous
	}

	authorize := NewAuthorizePaymentStep(s.deps.Orders, req.OrderID, req.UserID, req.Instrument)
	charge := NewChargePaymentStep(s.deps.Gateway, authorize, req.Instrument)
	commit := NewCommitPaymentStep(s.deps.Committer, charge)

	pipeline := NewPipeline(req.OrderID, StateCompleted, []Step{authorize, charge, commit}, s.deps.Log, paymentPayload(req))
	if err := pipeline.Run(ctx); err != nil {
		s.metrics.failed(ctx, "payment", err)
		return nil, req.Cart, err
	}

	if err := s.deps.Gateway.Settle(ctx, charge.Receipt.Reference); err != nil {
		slog.WarnContext(ctx, "settling charge failed", "order_id", req.OrderID, "reference", charge.Receipt.Reference, "error", err)
	}

	order, err := s.deps.Orders.Get(ctx, req.OrderID)
	if err != nil {
		// The payment is committed; report it with the data already at hand.
		slog.WarnContext(ctx, "reload of paid order failed", "order_id", req.OrderID, "error", err)
		order = authorize.Order
		order.Status = orderdomain.StatusPaid
	}

	s.metrics.paymentCompleted(ctx)
	slog.InfoContext(ctx, "order paid",
		"order_id", order.ID, "order_number", order.Number, "reference", charge.Receipt.Reference)
	return &PaymentResult{Order: order, Receipt: charge.Receipt}, req.Cart.Clear(), nil
}

// GetOrder returns an order of userID. Orders of other users are not found.
func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (*orderdomain.Order, error) {
	return s.deps.Orders.GetForUser(ctx, orderID, userID)
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]orderdomain.Summary, error) {
	return s.deps.Orders.ListForUser(ctx, userID)
}

// UpdateOrderStatus applies an administrative transition.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, next orderdomain.OrderStatus) (*orderdomain.Order, error) {
	prev, err := s.deps.Committer.ApplyStatus(ctx, orderID, next)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "order status changed", "order_id", orderID, "from", prev, "to", next)
	return s.deps.Orders.Get(ctx, orderID)
}

// AdminOrders lists all orders, optionally only those in status.
func (s *Service) AdminOrders(ctx context.Context, status orderdomain.OrderStatus) ([]orderdomain.Summary, error) {
	return s.deps.Orders.List(ctx, status)
}

func (s *Service) SalesSummary(ctx context.Context) (orderdomain.SalesSummary, error) {
	return s.deps.Orders.SalesSummary(ctx)
}

// OrderHistory returns the checkout log of an order, oldest entry first.
func (s *Service) OrderHistory(ctx context.Context, orderID string) ([]checkoutlog.Entry, error) {
	if _, err := s.deps.Orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	if s.deps.Log == nil {
		return []checkoutlog.Entry{}, nil
	}
	entries, err := s.deps.Log.History(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("checkout: history of %s: %w", orderID, err)
	}
	return entries, nil
}

type payloadLine struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

func beginPayload(req BeginRequest) string {
	lines := make([]payloadLine, 0, len(req.Cart.Lines()))
	for _, l := range req.Cart.Lines() {
		lines = append(lines, payloadLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice.StringFixed(2)})
	}
	b, _ := json.Marshal(struct {
		UserID string        `json:"user_id"`
		Lines  []payloadLine `json:"lines"`
		Total  string        `json:"total"`
	}{req.UserID, lines, req.Cart.TotalAmount().StringFixed(2)})
	return string(b)
}

// paymentPayload never includes the full card number.
func paymentPayload(req PaymentRequest) string {
	b, _ := json.Marshal(struct {
		UserID    string `json:"user_id"`
		CardLast4 string `json:"card_last4"`
	}{req.UserID, req.Instrument.Last4()})
	return string(b)
}
