package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	cartdomain "github.com/jcmexdev/storefront/internal/cart/domain"
	catalogdomain "github.com/jcmexdev/storefront/internal/catalog/domain"
	orderdomain "github.com/jcmexdev/storefront/internal/order/domain"
	paymentdomain "github.com/jcmexdev/storefront/internal/payment/domain"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
)

// --- ValidateCartStep ---

// ValidateCartStep re-reads every cart line against the catalog and the
// ledger. Refreshed holds the cart with current prices once it ran.
type ValidateCartStep struct {
	catalog   Catalog
	stock     StockReader
	cart      cartdomain.Cart
	Refreshed cartdomain.Cart
}

func NewValidateCartStep(catalog Catalog, stock StockReader, cart cartdomain.Cart) *ValidateCartStep {
	return &ValidateCartStep{catalog: catalog, stock: stock, cart: cart, Refreshed: cart}
}

func (s *ValidateCartStep) Name() string { return "validate_cart" }
func (s *ValidateCartStep) State() State { return StateCartReview }

func (s *ValidateCartStep) Execute(ctx context.Context) error {
	if s.cart.IsEmpty() {
		return ErrEmptyCart
	}

	verr := &ValidationError{}
	refreshed := s.cart
	for _, line := range s.cart.Lines() {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if errors.Is(err, catalogdomain.ErrProductNotFound) || (err == nil && !product.Purchasable()) {
			verr.Short = append(verr.Short, ShortLine{ProductID: line.ProductID, Name: line.Name, Requested: line.Quantity})
			continue
		}
		if err != nil {
			return fmt.Errorf("checkout: validate product %d: %w", line.ProductID, err)
		}

		available, err := s.stock.ReadStock(ctx, line.ProductID)
		if err != nil {
			return fmt.Errorf("checkout: validate product %d: %w", line.ProductID, err)
		}
		if line.Quantity > available {
			verr.Short = append(verr.Short, ShortLine{
				ProductID: line.ProductID,
				Name:      product.Name,
				Requested: line.Quantity,
				Available: available,
			})
		}

		if !line.UnitPrice.Equal(product.Price) {
			verr.Repriced = append(verr.Repriced, RepricedLine{
				ProductID: line.ProductID,
				Name:      product.Name,
				OldPrice:  line.UnitPrice,
				NewPrice:  product.Price,
			})
			line.UnitPrice = product.Price
			refreshed = refreshed.Put(line)
		}
	}

	s.Refreshed = refreshed
	if !verr.empty() {
		return verr
	}
	return nil
}

func (s *ValidateCartStep) Compensate(context.Context) error { return nil }

// --- CreateOrderStep ---

// CreateOrderStep freezes the validated cart lines into a pending order.
// Order holds the created order once it ran.
type CreateOrderStep struct {
	orders   OrderStore
	statuses StatusApplier
	draft    orderDraft
	Order    *orderdomain.Order
}

type orderDraft struct {
	id      string
	userID  string
	address string
	phone   string
	cart    *ValidateCartStep
	now     time.Time
}

func NewCreateOrderStep(orders OrderStore, statuses StatusApplier, draft orderDraft) *CreateOrderStep {
	return &CreateOrderStep{orders: orders, statuses: statuses, draft: draft}
}

func (s *CreateOrderStep) Name() string { return "create_order" }
func (s *CreateOrderStep) State() State { return StateOrderPendingCreation }

func (s *CreateOrderStep) Execute(ctx context.Context) error {
	cart := s.draft.cart.Refreshed
	lines := make([]orderdomain.Line, 0, len(cart.Lines()))
	for _, l := range cart.Lines() {
		lines = append(lines, orderdomain.NewLine(l.ProductID, l.Name, l.Quantity, l.UnitPrice))
	}

	order, err := orderdomain.NewOrder(s.draft.id, s.draft.userID, s.draft.address, s.draft.phone, lines, s.draft.now)
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	s.Order = order
	return nil
}

// Compensate cancels the pending order so it never reaches payment.
func (s *CreateOrderStep) Compensate(ctx context.Context) error {
	if s.Order == nil {
		return nil
	}
	_, err := s.statuses.ApplyStatus(ctx, s.Order.ID, orderdomain.StatusCancelled)
	return err
}

// --- RememberCheckoutStep ---

// errDuplicateCheckout means another request with the same idempotency key
// claimed it first.
var errDuplicateCheckout = errors.New("checkout already placed for this idempotency key")

// RememberCheckoutStep claims the idempotency key for the order about to be
// created. It runs before the order exists, so a request that loses the
// race to a concurrent one with the same key creates nothing. Existing then
// holds the winner's order id, or "" when the key vanished in between.
// A later failure releases the claim.
type RememberCheckoutStep struct {
	cache    cache.Cache
	key      string
	orderID  string
	ttl      time.Duration
	stored   bool
	Existing string
}

func NewRememberCheckoutStep(c cache.Cache, key, orderID string, ttl time.Duration) *RememberCheckoutStep {
	return &RememberCheckoutStep{cache: c, key: key, orderID: orderID, ttl: ttl}
}

func (s *RememberCheckoutStep) Name() string { return "claim_idempotency_key" }
func (s *RememberCheckoutStep) State() State { return StateOrderPendingCreation }

func (s *RememberCheckoutStep) Execute(ctx context.Context) error {
	ok, err := s.cache.SetNX(ctx, s.key, s.orderID, s.ttl)
	if err != nil {
		return fmt.Errorf("checkout: claim idempotency key: %w", err)
	}
	if ok {
		s.stored = true
		return nil
	}

	existing, err := s.cache.Get(ctx, s.key)
	if err != nil {
		return fmt.Errorf("checkout: read idempotency key: %w", err)
	}
	s.Existing = existing
	return errDuplicateCheckout
}

func (s *RememberCheckoutStep) Compensate(ctx context.Context) error {
	if !s.stored {
		return nil
	}
	return s.cache.Delete(ctx, s.key)
}

// --- AuthorizePaymentStep ---

// AuthorizePaymentStep checks the instrument and that the order belongs to
// the user and is still pending. Order holds the order once it ran.
type AuthorizePaymentStep struct {
	orders     OrderStore
	orderID    string
	userID     string
	instrument paymentdomain.Instrument
	Order      *orderdomain.Order
}

func NewAuthorizePaymentStep(orders OrderStore, orderID, userID string, instrument paymentdomain.Instrument) *AuthorizePaymentStep {
	return &AuthorizePaymentStep{orders: orders, orderID: orderID, userID: userID, instrument: instrument}
}

func (s *AuthorizePaymentStep) Name() string { return "authorize_payment" }
func (s *AuthorizePaymentStep) State() State { return StateAwaitingPayment }

func (s *AuthorizePaymentStep) Execute(ctx context.Context) error {
	if err := s.instrument.Validate(); err != nil {
		return err
	}
	order, err := s.orders.GetForUser(ctx, s.orderID, s.userID)
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	if order.Status != orderdomain.StatusPending {
		return fmt.Errorf("checkout: order %s is %s: %w", order.Number, order.Status, orderdomain.ErrInvalidState)
	}
	s.Order = order
	return nil
}

func (s *AuthorizePaymentStep) Compensate(context.Context) error { return nil }

// --- ChargePaymentStep ---

// ChargePaymentStep charges the order total through the gateway.
type ChargePaymentStep struct {
	gateway    PaymentGateway
	authorized *AuthorizePaymentStep
	instrument paymentdomain.Instrument
	Receipt    *paymentdomain.Receipt
}

func NewChargePaymentStep(gateway PaymentGateway, authorized *AuthorizePaymentStep, instrument paymentdomain.Instrument) *ChargePaymentStep {
	return &ChargePaymentStep{gateway: gateway, authorized: authorized, instrument: instrument}
}

func (s *ChargePaymentStep) Name() string { return "charge_payment" }
func (s *ChargePaymentStep) State() State { return StatePaymentProcessing }

func (s *ChargePaymentStep) Execute(ctx context.Context) error {
	order := s.authorized.Order
	receipt, err := s.gateway.Charge(ctx, order.ID, order.TotalAmount, s.instrument)
	if err != nil {
		return fmt.Errorf("checkout: charge order %s: %w", order.Number, err)
	}
	s.Receipt = receipt
	return nil
}

// Compensate refunds the charge.
func (s *ChargePaymentStep) Compensate(ctx context.Context) error {
	if s.Receipt == nil {
		return nil
	}
	return s.gateway.Refund(ctx, s.Receipt.Reference)
}

// --- CommitPaymentStep ---

// CommitPaymentStep marks the order paid, decrements the stock of every
// line and records the confirmation, all in one transaction.
type CommitPaymentStep struct {
	committer PaymentCommitter
	charged   *ChargePaymentStep
}

func NewCommitPaymentStep(committer PaymentCommitter, charged *ChargePaymentStep) *CommitPaymentStep {
	return &CommitPaymentStep{committer: committer, charged: charged}
}

func (s *CommitPaymentStep) Name() string { return "commit_payment" }
func (s *CommitPaymentStep) State() State { return StatePaymentProcessing }

func (s *CommitPaymentStep) Execute(ctx context.Context) error {
	return s.committer.CommitPayment(ctx, s.charged.authorized.Order, s.charged.Receipt)
}

// Compensate does nothing: a failed commit rolled its transaction back.
func (s *CommitPaymentStep) Compensate(context.Context) error { return nil }
