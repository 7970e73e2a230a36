// Package httpx exposes the storefront over HTTP/JSON: catalog browsing,
// the session cart, checkout and payment, order history and the admin
// surface (products, orders and the sales dashboard).
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	cartdomain "github.com/jcmexdev/storefront/internal/cart/domain"
	catalogdomain "github.com/jcmexdev/storefront/internal/catalog/domain"
	"github.com/jcmexdev/storefront/internal/checkout"
	"github.com/jcmexdev/storefront/internal/checkout/checkoutlog"
	orderdomain "github.com/jcmexdev/storefront/internal/order/domain"
	paymentdomain "github.com/jcmexdev/storefront/internal/payment/domain"
	"github.com/jcmexdev/storefront/internal/pkg/reqctx"
)

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*catalogdomain.Product, error)
	ListActive(ctx context.Context) ([]*catalogdomain.Product, error)
}

// AdminCatalog maintains the catalog. Deactivated products stay readable
// for existing orders.
type AdminCatalog interface {
	ListAll(ctx context.Context) ([]*catalogdomain.Product, error)
	Create(ctx context.Context, p *catalogdomain.Product) error
	Update(ctx context.Context, id int64, changes catalogdomain.Changes) (*catalogdomain.Product, error)
	Deactivate(ctx context.Context, id int64) error
	CountLowStock(ctx context.Context, threshold int) (int, error)
}

type CartService interface {
	Add(ctx context.Context, cart cartdomain.Cart, productID int64, qty int) (cartdomain.Cart, error)
	Update(ctx context.Context, cart cartdomain.Cart, productID int64, qty int) (cartdomain.Cart, error)
	Remove(cart cartdomain.Cart, productID int64) (cartdomain.Cart, error)
}

// CartStore keeps the cart of each session.
type CartStore interface {
	Load(ctx context.Context, sessionID string) (cartdomain.Cart, error)
	Save(ctx context.Context, sessionID string, cart cartdomain.Cart) (cartdomain.Cart, error)
}

type CheckoutService interface {
	ReviewCart(cart cartdomain.Cart) checkout.Review
	BeginCheckout(ctx context.Context, req checkout.BeginRequest) (*orderdomain.Order, cartdomain.Cart, error)
	CollectPayment(ctx context.Context, req checkout.PaymentRequest) (*checkout.PaymentResult, cartdomain.Cart, error)
	GetOrder(ctx context.Context, orderID, userID string) (*orderdomain.Order, error)
	ListOrders(ctx context.Context, userID string) ([]orderdomain.Summary, error)
	UpdateOrderStatus(ctx context.Context, orderID string, next orderdomain.OrderStatus) (*orderdomain.Order, error)
	AdminOrders(ctx context.Context, status orderdomain.OrderStatus) ([]orderdomain.Summary, error)
	SalesSummary(ctx context.Context) (orderdomain.SalesSummary, error)
	OrderHistory(ctx context.Context, orderID string) ([]checkoutlog.Entry, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler serves the storefront API.
type Handler struct {
	catalog  Catalog
	admin    AdminCatalog
	carts    CartService
	store    CartStore
	checkout CheckoutService
	pingers  []Pinger
}

// NewHandler wires the handler. pingers are checked by /healthz.
func NewHandler(catalog Catalog, admin AdminCatalog, carts CartService, store CartStore, svc CheckoutService, pingers ...Pinger) *Handler {
	return &Handler{
		catalog:  catalog,
		admin:    admin,
		carts:    carts,
		store:    store,
		checkout: svc,
		pingers:  pingers,
	}
}

// --- Catalog ---

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListActive(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ProductResponse, len(products))
	for i, p := range products {
		out[i] = mapProduct(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetProduct hides inactive products.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	product, err := h.catalog.GetProduct(r.Context(), id)
	if err == nil && !product.Purchasable() {
		err = catalogdomain.ErrProductNotFound
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapProduct(product))
}

// --- Cart ---

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.store.Load(r.Context(), reqctx.SessionID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapReview(h.checkout.ReviewCart(cart)))
}

func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decode(w, r, &req) {
		return
	}
	h.mutateCart(w, r, func(ctx context.Context, cart cartdomain.Cart) (cartdomain.Cart, error) {
		return h.carts.Add(ctx, cart, req.ProductID, req.Quantity)
	})
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := int64Param(w, r, "productID")
	if !ok {
		return
	}
	var req UpdateItemRequest
	if !decode(w, r, &req) {
		return
	}
	h.mutateCart(w, r, func(ctx context.Context, cart cartdomain.Cart) (cartdomain.Cart, error) {
		return h.carts.Update(ctx, cart, productID, req.Quantity)
	})
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := int64Param(w, r, "productID")
	if !ok {
		return
	}
	h.mutateCart(w, r, func(_ context.Context, cart cartdomain.Cart) (cartdomain.Cart, error) {
		return h.carts.Remove(cart, productID)
	})
}

// mutateCart loads the session cart, applies fn and stores the result.
// Concurrent requests of one session overwrite each other: the last save
// wins.
func (h *Handler) mutateCart(w http.ResponseWriter, r *http.Request, fn func(context.Context, cartdomain.Cart) (cartdomain.Cart, error)) {
	ctx := r.Context()
	sid := reqctx.SessionID(ctx)

	cart, err := h.store.Load(ctx, sid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cart, err = fn(ctx, cart)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cart, err = h.store.Save(ctx, sid, cart)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapCart(cart))
}

// --- Checkout ---

// Checkout turns the session cart into a pending order. When validation
// fails the cart is saved with current prices and returned with the
// problems found.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	sid := reqctx.SessionID(ctx)
	identity, _ := reqctx.IdentityFrom(ctx)

	cart, err := h.store.Load(ctx, sid)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	slog.InfoContext(ctx, "checkout requested", "request_id", reqctx.RequestID(ctx), "user_id", identity.UserID)

	order, refreshed, err := h.checkout.BeginCheckout(ctx, checkout.BeginRequest{
		Cart:           cart,
		UserID:         identity.UserID,
		Address:        req.ShippingAddress,
		Phone:          req.Phone,
		IdempotencyKey: reqctx.IdempotencyKey(ctx),
	})
	refreshed, saveErr := h.store.Save(ctx, sid, refreshed)
	if saveErr != nil {
		slog.WarnContext(ctx, "saving refreshed cart failed", "error", saveErr)
	}

	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusConflict, mapValidation(verr, refreshed))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapOrder(order))
}

// PayOrder collects the payment of a pending order. On success the session
// cart is emptied.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	sid := reqctx.SessionID(ctx)
	identity, _ := reqctx.IdentityFrom(ctx)

	cart, err := h.store.Load(ctx, sid)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, cart, err := h.checkout.CollectPayment(ctx, checkout.PaymentRequest{
		Cart:    cart,
		OrderID: chi.URLParam(r, "id"),
		UserID:  identity.UserID,
		Instrument: paymentdomain.Instrument{
			CardNumber: req.CardNumber,
			CardHolder: req.CardHolder,
		},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.store.Save(ctx, sid, cart); err != nil {
		// The order is paid; a stale cart is only an inconvenience.
		slog.WarnContext(ctx, "clearing cart after payment failed", "order_id", result.Order.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, mapPayment(result.Order, result.Receipt))
}

// --- Orders ---

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	identity, _ := reqctx.IdentityFrom(r.Context())
	orders, err := h.checkout.ListOrders(r.Context(), identity.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSummaries(orders, false))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := reqctx.IdentityFrom(r.Context())
	order, err := h.checkout.GetOrder(r.Context(), chi.URLParam(r, "id"), identity.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(order))
}

// --- Admin ---

// AdminListOrders lists every order, filtered by the optional status query
// parameter.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	var status orderdomain.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := orderdomain.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		status = parsed
	}
	orders, err := h.checkout.AdminOrders(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSummaries(orders, true))
}

func (h *Handler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !decode(w, r, &req) {
		return
	}
	next, err := orderdomain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}

	order, err := h.checkout.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), next)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(order))
}

// AdminOrderHistory returns the checkout log of an order.
func (h *Handler) AdminOrderHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.checkout.OrderHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapHistory(entries))
}

// AdminSales is the dashboard: sales totals, best sellers, sales per month,
// the latest orders and how many products are running low.
func (h *Handler) AdminSales(w http.ResponseWriter, r *http.Request) {
	summary, err := h.checkout.SalesSummary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lowStock, err := h.admin.CountLowStock(r.Context(), catalogdomain.LowStockThreshold)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSales(summary, lowStock))
}

func (h *Handler) AdminListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.admin.ListAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]AdminProductResponse, len(products))
	for i, p := range products {
		out[i] = mapAdminProduct(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) AdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !decode(w, r, &req) {
		return
	}
	product := newProduct(req)
	if err := h.admin.Create(r.Context(), product); err != nil {
		h.fail(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "product created", "product_id", product.ID, "name", product.Name)
	writeJSON(w, http.StatusCreated, mapAdminProduct(product))
}

// AdminUpdateProduct changes the fields present in the request body.
func (h *Handler) AdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req ProductRequest
	if !decode(w, r, &req) {
		return
	}
	product, err := h.admin.Update(r.Context(), id, productChanges(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "product updated", "product_id", id)
	writeJSON(w, http.StatusOK, mapAdminProduct(product))
}

// AdminDeactivateProduct hides a product from the catalog. Carts holding it
// find it short at checkout.
func (h *Handler) AdminDeactivateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	if err := h.admin.Deactivate(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "product deactivated", "product_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.pingers {
		if err := p.PingContext(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps domain errors to HTTP responses. Anything unexpected is logged
// and answered with a generic 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr   *cartdomain.InsufficientStockError
		verr       *checkout.ValidationError
		productErr *catalogdomain.InvalidProductError
	)
	switch {
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "insufficient_stock",
			Message: stockErr.Error(),
			Short: []ShortLineResponse{{
				ProductID: stockErr.ProductID,
				Name:      stockErr.Name,
				Requested: stockErr.Requested,
				Available: stockErr.Available,
			}},
		})
	case errors.As(err, &verr):
		writeError(w, http.StatusConflict, "cart_invalid", verr.Error())
	case errors.As(err, &productErr):
		writeError(w, http.StatusBadRequest, "invalid_product", productErr.Reason)
	case errors.Is(err, checkout.ErrCheckoutInProgress):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "checkout_in_progress", "this checkout is still being processed, retry shortly")
	case errors.Is(err, checkout.ErrPaymentDecrementFailed):
		writeError(w, http.StatusConflict, "stock_changed", "stock changed while paying; the order is still pending")
	case errors.Is(err, orderdomain.ErrInvalidState):
		writeError(w, http.StatusConflict, "already_processed", "order is not awaiting payment")
	case errors.Is(err, orderdomain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, checkout.ErrAnonymous):
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in to continue")
	case errors.Is(err, catalogdomain.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product_not_found", "")
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", "")
	case errors.Is(err, cartdomain.ErrLineNotFound):
		writeError(w, http.StatusNotFound, "line_not_found", "")
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, cartdomain.ErrInvalidQuantity),
		errors.Is(err, orderdomain.ErrMissingShipping),
		errors.Is(err, orderdomain.ErrEmptyOrder),
		errors.Is(err, paymentdomain.ErrMissingInstrument):
		writeError(w, http.StatusBadRequest, "invalid_request", rootMessage(err))
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"request_id", reqctx.RequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong, please try again")
	}
}

// rootMessage returns the message of the innermost wrapped error so
// package prefixes do not leak to clients.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
