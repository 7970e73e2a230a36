package checkout_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	cartapp "github.com/jcmexdev/storefront/internal/cart/app"
	cartdomain "github.com/jcmexdev/storefront/internal/cart/domain"
	catalogsql "github.com/jcmexdev/storefront/internal/catalog/adapters/sqlstore"
	catalogdomain "github.com/jcmexdev/storefront/internal/catalog/domain"
	"github.com/jcmexdev/storefront/internal/checkout"
	checkoutsql "github.com/jcmexdev/storefront/internal/checkout/adapters/sqlstore"
	logsql "github.com/jcmexdev/storefront/internal/checkout/checkoutlog/sqlstore"
	"github.com/jcmexdev/storefront/internal/inventory"
	ordersql "github.com/jcmexdev/storefront/internal/order/adapters/sqlstore"
	orderdomain "github.com/jcmexdev/storefront/internal/order/domain"
	paymentsql "github.com/jcmexdev/storefront/internal/payment/adapters/sqlstore"
	paymentapp "github.com/jcmexdev/storefront/internal/payment/app"
	paymentdomain "github.com/jcmexdev/storefront/internal/payment/domain"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
	"github.com/jcmexdev/storefront/internal/pkg/storage/storagetest"
)

var card = paymentdomain.Instrument{CardNumber: "4111 1111 1111 1234", CardHolder: "Ada Lovelace"}

type harness struct {
	db      *sqlx.DB
	svc     *checkout.Service
	carts   *cartapp.Service
	catalog *catalogsql.Repository
	gateway *paymentapp.Gateway
	log     *logsql.Repository
	cache   cache.Cache
	mug     int64 // 10.00, stock 5
	bowl    int64 // 25.00, stock 3
}

func setup(t *testing.T) *harness {
	t.Helper()
	return setupWithCache(t, cache.NewMemoryCache("storefront"))
}

func setupWithCache(t *testing.T, c cache.Cache) *harness {
	t.Helper()
	db := storagetest.NewDB(t)

	catalog := catalogsql.NewRepository(db)
	ledger := inventory.NewLedger(db)
	orders := ordersql.NewRepository(db)
	payments := paymentsql.NewRepository(db)
	gateway := paymentapp.NewGateway()
	log := logsql.NewRepository(db)

	svc, err := checkout.NewService(checkout.Dependencies{
		Catalog:        catalog,
		Stock:          ledger,
		Orders:         orders,
		Gateway:        gateway,
		Committer:      checkoutsql.NewCommitter(db, orders, ledger, payments),
		Cache:          c,
		IdempotencyTTL: time.Hour,
		Log:            log,
	})
	require.NoError(t, err)

	return &harness{
		db:      db,
		svc:     svc,
		carts:   cartapp.NewService(catalog, ledger),
		catalog: catalog,
		gateway: gateway,
		log:     log,
		cache:   c,
		mug:     storagetest.InsertProduct(t, db, "Mug", "10.00", 5),
		bowl:    storagetest.InsertProduct(t, db, "Bowl", "25.00", 3),
	}
}

// cart puts 2 mugs and 1 bowl in a new cart.
func (h *harness) cart(t *testing.T) cartdomain.Cart {
	t.Helper()
	ctx := context.Background()
	c, err := h.carts.Add(ctx, cartdomain.New(), h.mug, 2)
	require.NoError(t, err)
	c, err = h.carts.Add(ctx, c, h.bowl, 1)
	require.NoError(t, err)
	return c
}

func (h *harness) begin(t *testing.T, userID string, c cartdomain.Cart) *orderdomain.Order {
	t.Helper()
	order, _, err := h.svc.BeginCheckout(context.Background(), checkout.BeginRequest{
		Cart: c, UserID: userID, Address: "1 Main St", Phone: "555-0100",
	})
	require.NoError(t, err)
	return order
}

func (h *harness) countPayments(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, h.db.Get(&n, `SELECT COUNT(*) FROM payments`))
	return n
}

func (h *harness) countOrders(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, h.db.Get(&n, `SELECT COUNT(*) FROM orders`))
	return n
}

func TestCheckout_EndToEnd(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	c := h.cart(t)

	review := h.svc.ReviewCart(c)
	assert.Equal(t, 3, review.TotalItems)
	assert.Equal(t, "45.00", review.TotalAmount.StringFixed(2))

	order, returned, err := h.svc.BeginCheckout(ctx, checkout.BeginRequest{
		Cart: c, UserID: "alice", Address: "1 Main St", Phone: "555-0100",
	})
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, order.Status)
	assert.Equal(t, "45.00", order.TotalAmount.StringFixed(2))
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{6}$`, order.Number)
	assert.Equal(t, 3, returned.TotalItems(), "cart is kept until payment")
	assert.Equal(t, 5, storagetest.Stock(t, h.db, h.mug), "nothing is reserved before payment")

	result, after, err := h.svc.CollectPayment(ctx, checkout.PaymentRequest{
		Cart: returned, OrderID: order.ID, UserID: "alice", Instrument: card,
	})
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, result.Order.Status)
	assert.Equal(t, order.Number, result.Order.Number)
	assert.Equal(t, "1234", result.Receipt.CardLast4)
	assert.True(t, after.IsEmpty())
	assert.True(t, after.Dirty(), "the session layer must persist the cleared cart")

	assert.Equal(t, 3, storagetest.Stock(t, h.db, h.mug))
	assert.Equal(t, 2, storagetest.Stock(t, h.db, h.bowl))

	history, err := h.svc.OrderHistory(ctx, order.ID)
	require.NoError(t, err)
	states := make([]string, len(history))
	for i, e := range history {
		states[i] = e.State
	}
	assert.Equal(t, []string{
		"CartReview", "OrderPendingCreation", "AwaitingPayment",
		"AwaitingPayment", "PaymentProcessing", "Completed",
	}, states)
	assert.NotEmpty(t, history[0].Payload)
}

func TestOrderHistory_UnknownOrder(t *testing.T) {
	h := setup(t)

	_, err := h.svc.OrderHistory(context.Background(), "missing")
	require.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
}

func TestBeginCheckout_InsufficientStock(t *testing.T) {
	h := setup(t)
	c := h.cart(t)
	_, err := h.db.Exec(`UPDATE products SET stock = 1 WHERE id = ?`, h.mug)
	require.NoError(t, err)

	order, _, err := h.svc.BeginCheckout(context.Background(), checkout.BeginRequest{
		Cart: c, UserID: "alice", Address: "1 Main St", Phone: "555-0100",
	})
	require.ErrorIs(t, err, checkout.ErrValidation)
	assert.Nil(t, order)

	var verr *checkout.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Short, 1)
	assert.Equal(t, h.mug, verr.Short[0].ProductID)
	assert.Equal(t, 2, verr.Short[0].Requested)
	assert.Equal(t, 1, verr.Short[0].Available)
	assert.Zero(t, h.countOrders(t))
}

func TestBeginCheckout_InactiveProductIsShort(t *testing.T) {
	h := setup(t)
	c := h.cart(t)
	require.NoError(t, h.catalog.Deactivate(context.Background(), h.bowl))

	_, _, err := h.svc.BeginCheckout(context.Background(), checkout.BeginRequest{
		Cart: c, UserID: "alice", Address: "1 Main St", Phone: "555-0100",
	})
	var verr *checkout.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Short, 1)
	assert.Equal(t, h.bowl, verr.Short[0].ProductID)
	assert.Zero(t, verr.Short[0].Available)
}

func TestBeginCheckout_Repriced(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	c := h.cart(t).Saved()
	price := decimal.RequireFromString("12.00")
	_, err := h.catalog.Update(ctx, h.mug, catalogdomain.Changes{Price: &price})
	require.NoError(t, err)

	_, refreshed, err := h.svc.BeginCheckout(ctx, checkout.BeginRequest{
		Cart: c, UserID: "alice", Address: "1 Main St", Phone: "555-0100",
	})
	var verr *checkout.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Repriced, 1)
	assert.Equal(t, "10.00", verr.Repriced[0].OldPrice.StringFixed(2))
	assert.Equal(t, "12.00", verr.Repriced[0].NewPrice.StringFixed(2))

	assert.True(t, refreshed.Dirty())
	assert.Equal(t, "49.00", refreshed.TotalAmount().StringFixed(2))
	assert.Zero(t, h.countOrders(t))

	// The user saw the new price; the second attempt goes through at it.
	order, _, err := h.svc.BeginCheckout(ctx, checkout.BeginRequest{
		Cart: refreshed, UserID: "alice", Address: "1 Main St", Phone: "555-0100",
	})
	require.NoError(t, err)
	assert.Equal(t, "49.00", order.TotalAmount.StringFixed(2))
}

func TestBeginCheckout_BadInput(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, _, err := h.svc.BeginCheckout(ctx, checkout.BeginRequest{Cart: cartdomain.New(), UserID: "alice", Address: "a", Phone: "p"})
	require.ErrorIs(t, err, checkout.ErrEmptyCart)

	_, _, err = h.svc.BeginCheckout(ctx, checkout.BeginRequest{Cart: h.cart(t), UserID: "alice", Phone: "p"})
	require.ErrorIs(t, err, orderdomain.ErrMissingShipping)

	_, _, err = h.svc.BeginCheckout(ctx, checkout.BeginRequest{Cart: h.cart(t), Address: "a", Phone: "p"})
	require.ErrorIs(t, err, checkout.ErrAnonymous)

	assert.Zero(t, h.countOrders(t))
}

func TestBeginCheckout_IdempotencyKey(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	req := checkout.BeginRequest{
		Cart: h.cart(t), UserID: "alice", Address: "1 Main St", Phone: "555-0100", IdempotencyKey: "k-1",
	}

	first, _, err := h.svc.BeginCheckout(ctx, req)
	require.NoError(t, err)
	second, _, err := h.svc.BeginCheckout(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.countOrders(t))

	req.UserID = "bob"
	other, _, err := h.svc.BeginCheckout(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "keys are scoped per user")
}

func TestBeginCheckout_ConcurrentSameKey(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	c := h.cart(t)

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, _, err := h.svc.BeginCheckout(ctx, checkout.BeginRequest{
				Cart: c, UserID: "alice", Address: "1 Main St", Phone: "555-0100", IdempotencyKey: "dup",
			})
			errs[i] = err
			if order != nil {
				ids[i] = order.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, h.countOrders(t), "losing requests create no order")

	var cancelled int
	require.NoError(t, h.db.Get(&cancelled, `SELECT COUNT(*) FROM orders WHERE status = 'cancelled'`))
	assert.Zero(t, cancelled)
}

// vanishingCache loses every SetNX race and then finds the key gone, as when
// the winner's key expires between the two calls.
type vanishingCache struct {
	cache.Cache
}

func (vanishingCache) SetNX(context.Context, string, interface{}, time.Duration) (bool, error) {
	return false, nil
}

func (vanishingCache) Get(context.Context, string) (string, error) {
	return "", nil
}

func TestBeginCheckout_ClaimedKeyVanished(t *testing.T) {
	h := setupWithCache(t, vanishingCache{Cache: cache.NewMemoryCache("storefront")})
	h.svc.SetClaimBackoff()

	order, _, err := h.svc.BeginCheckout(context.Background(), checkout.BeginRequest{
		Cart: h.cart(t), UserID: "alice", Address: "1 Main St", Phone: "555-0100", IdempotencyKey: "k-1",
	})
	require.ErrorIs(t, err, checkout.ErrCheckoutInProgress)
	assert.Nil(t, order)
	assert.Zero(t, h.countOrders(t))
}

func TestBeginCheckout_StaleKeyIsForgotten(t *testing.T) {
	h := setup(t)
	h.svc.SetClaimBackoff(time.Millisecond)
	ctx := context.Background()

	key := h.cache.GenerateKey("checkout", "alice:k-1")
	require.NoError(t, h.cache.Set(ctx, key, "no-such-order", time.Hour))

	order, _, err := h.svc.BeginCheckout(ctx, checkout.BeginRequest{
		Cart: h.cart(t), UserID: "alice", Address: "1 Main St", Phone: "555-0100", IdempotencyKey: "k-1",
	})
	require.NoError(t, err)

	got, err := h.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got, "key rebound to the new order")
}

func TestBeginCheckout_FailedCreationReleasesKey(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	req := checkout.BeginRequest{Cart: h.cart(t), UserID: "alice", IdempotencyKey: "k-1"}

	_, _, err := h.svc.BeginCheckout(ctx, req)
	require.ErrorIs(t, err, orderdomain.ErrMissingShipping)

	got, err := h.cache.Get(ctx, h.cache.GenerateKey("checkout", "alice:k-1"))
	require.NoError(t, err)
	assert.Empty(t, got)

	req.Address, req.Phone = "1 Main St", "555-0100"
	order, _, err := h.svc.BeginCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, order.Status)
}

func TestCollectPayment_IsIdempotent(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	order := h.begin(t, "alice", h.cart(t))
	req := checkout.PaymentRequest{Cart: h.cart(t), OrderID: order.ID, UserID: "alice", Instrument: card}

	_, _, err := h.svc.CollectPayment(ctx, req)
	require.NoError(t, err)

	_, cart, err := h.svc.CollectPayment(ctx, req)
	require.ErrorIs(t, err, orderdomain.ErrInvalidState)
	assert.False(t, cart.IsEmpty(), "a refused payment keeps the cart")

	assert.Equal(t, 3, storagetest.Stock(t, h.db, h.mug), "stock decremented once")
	assert.Zero(t, h.gateway.Outstanding(), "the charge was settled, the second never made")
	assert.Equal(t, 1, h.countPayments(t))
}

func TestCollectPayment_ConcurrentDoublePayment(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	order := h.begin(t, "alice", h.cart(t))

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = h.svc.CollectPayment(ctx, checkout.PaymentRequest{
				Cart: cartdomain.New(), OrderID: order.ID, UserID: "alice", Instrument: card,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, orderdomain.ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 3, storagetest.Stock(t, h.db, h.mug))
	assert.Equal(t, 2, storagetest.Stock(t, h.db, h.bowl))
	assert.Zero(t, h.gateway.Outstanding(), "losing charges are refunded, the winner's settled")
	assert.Equal(t, 1, h.countPayments(t))
}

// Stock sold elsewhere between checkout and payment makes the payment fail
// without touching the order or any other line.
func TestCollectPayment_DecrementRace(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	c := h.cart(t)
	order := h.begin(t, "alice", c)

	_, err := h.db.Exec(`UPDATE products SET stock = 1 WHERE id = ?`, h.mug)
	require.NoError(t, err)

	_, after, err := h.svc.CollectPayment(ctx, checkout.PaymentRequest{
		Cart: c, OrderID: order.ID, UserID: "alice", Instrument: card,
	})
	require.ErrorIs(t, err, checkout.ErrPaymentDecrementFailed)
	var derr *checkout.DecrementError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, h.mug, derr.ProductID)

	assert.Equal(t, 3, after.TotalItems(), "cart untouched")
	assert.Equal(t, 1, storagetest.Stock(t, h.db, h.mug))
	assert.Equal(t, 3, storagetest.Stock(t, h.db, h.bowl))
	assert.Zero(t, h.gateway.Outstanding(), "charge refunded")

	got, err := h.svc.GetOrder(ctx, order.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, got.Status)

	var payments int
	require.NoError(t, h.db.Get(&payments, `SELECT COUNT(*) FROM payments`))
	assert.Zero(t, payments)
}

func TestCollectPayment_Rejects(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	order := h.begin(t, "alice", h.cart(t))

	_, _, err := h.svc.CollectPayment(ctx, checkout.PaymentRequest{OrderID: order.ID, UserID: "mallory", Instrument: card})
	require.ErrorIs(t, err, orderdomain.ErrOrderNotFound)

	_, _, err = h.svc.CollectPayment(ctx, checkout.PaymentRequest{OrderID: order.ID, UserID: "alice"})
	require.ErrorIs(t, err, paymentdomain.ErrMissingInstrument)

	_, _, err = h.svc.CollectPayment(ctx, checkout.PaymentRequest{OrderID: "missing", UserID: "alice", Instrument: card})
	require.ErrorIs(t, err, orderdomain.ErrOrderNotFound)

	assert.Zero(t, h.gateway.Outstanding())
}

func TestOrders_OwnershipAndListing(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	order := h.begin(t, "alice", h.cart(t))

	_, err := h.svc.GetOrder(ctx, order.ID, "bob")
	require.ErrorIs(t, err, orderdomain.ErrOrderNotFound)

	mine, err := h.svc.ListOrders(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, 3, mine[0].ItemCount)

	theirs, err := h.svc.ListOrders(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestUpdateOrderStatus_CancelPaidRestocks(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	order := h.begin(t, "alice", h.cart(t))
	_, _, err := h.svc.CollectPayment(ctx, checkout.PaymentRequest{OrderID: order.ID, UserID: "alice", Instrument: card})
	require.NoError(t, err)

	sales, err := h.svc.SalesSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sales.PaidOrders)
	assert.Equal(t, "45.00", sales.Revenue.StringFixed(2))

	cancelled, err := h.svc.UpdateOrderStatus(ctx, order.ID, orderdomain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusCancelled, cancelled.Status)
	assert.Equal(t, 5, storagetest.Stock(t, h.db, h.mug))
	assert.Equal(t, 3, storagetest.Stock(t, h.db, h.bowl))

	_, err = h.svc.UpdateOrderStatus(ctx, order.ID, orderdomain.StatusCancelled)
	require.ErrorIs(t, err, orderdomain.ErrInvalidTransition)

	list, err := h.svc.AdminOrders(ctx, orderdomain.StatusCancelled)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdateOrderStatus_Lifecycle(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	order := h.begin(t, "alice", h.cart(t))

	_, err := h.svc.UpdateOrderStatus(ctx, order.ID, orderdomain.StatusShipped)
	require.ErrorIs(t, err, orderdomain.ErrInvalidTransition)

	_, _, err = h.svc.CollectPayment(ctx, checkout.PaymentRequest{OrderID: order.ID, UserID: "alice", Instrument: card})
	require.NoError(t, err)

	shipped, err := h.svc.UpdateOrderStatus(ctx, order.ID, orderdomain.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusShipped, shipped.Status)

	_, err = h.svc.UpdateOrderStatus(ctx, order.ID, orderdomain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 3, storagetest.Stock(t, h.db, h.mug), "shipped goods are not restocked")

	_, err = h.svc.UpdateOrderStatus(ctx, "missing", orderdomain.StatusCancelled)
	require.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
}

func TestUpdateOrderStatus_CancelPendingKeepsStock(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	order := h.begin(t, "alice", h.cart(t))

	_, err := h.svc.UpdateOrderStatus(ctx, order.ID, orderdomain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 5, storagetest.Stock(t, h.db, h.mug))

	_, _, err = h.svc.CollectPayment(ctx, checkout.PaymentRequest{OrderID: order.ID, UserID: "alice", Instrument: card})
	require.ErrorIs(t, err, orderdomain.ErrInvalidState)
}
