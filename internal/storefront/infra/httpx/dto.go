package httpx

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	cartdomain "github.com/jcmexdev/storefront/internal/cart/domain"
	catalogdomain "github.com/jcmexdev/storefront/internal/catalog/domain"
	"github.com/jcmexdev/storefront/internal/checkout"
	"github.com/jcmexdev/storefront/internal/checkout/checkoutlog"
	orderdomain "github.com/jcmexdev/storefront/internal/order/domain"
	paymentdomain "github.com/jcmexdev/storefront/internal/payment/domain"
)

type AddItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateItemRequest struct {
	Quantity int `json:"quantity"`
}

type CheckoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
	Phone           string `json:"phone"`
}

type PaymentRequest struct {
	CardNumber string `json:"card_number"`
	CardHolder string `json:"card_holder"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// ProductRequest creates a product (every field but active is used) or
// edits one (only the fields present are changed). Prices may be given as
// JSON strings or numbers.
type ProductRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	Image       *string          `json:"image"`
	Active      *bool            `json:"active"`
}

type ProductResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Stock       int    `json:"stock"`
	Image       string `json:"image,omitempty"`
}

type AdminProductResponse struct {
	ProductResponse
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type CartResponse struct {
	Lines       []CartLineResponse `json:"lines"`
	TotalItems  int                `json:"total_items"`
	TotalAmount string             `json:"total_amount"`
}

type CartLineResponse struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type OrderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"order_number"`
	Status          string              `json:"status"`
	TotalAmount     string              `json:"total_amount"`
	ShippingAddress string              `json:"shipping_address"`
	Phone           string              `json:"phone"`
	Lines           []OrderLineResponse `json:"lines"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
}

type OrderLineResponse struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type OrderSummaryResponse struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	UserID      string `json:"user_id,omitempty"`
	Status      string `json:"status"`
	TotalAmount string `json:"total_amount"`
	ItemCount   int    `json:"item_count"`
	CreatedAt   string `json:"created_at"`
}

type PaymentResponse struct {
	OrderNumber string        `json:"order_number"`
	Reference   string        `json:"reference"`
	Amount      string        `json:"amount"`
	CardLast4   string        `json:"card_last4"`
	Order       OrderResponse `json:"order"`
}

type SalesResponse struct {
	PaidOrders    int                    `json:"paid_orders"`
	Revenue       string                 `json:"revenue"`
	LowStockCount int                    `json:"low_stock_count"`
	TopProducts   []ProductSalesResponse `json:"top_products"`
	Monthly       []MonthlySalesResponse `json:"monthly"`
	RecentOrders  []OrderSummaryResponse `json:"recent_orders"`
}

type ProductSalesResponse struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Revenue   string `json:"revenue"`
}

type MonthlySalesResponse struct {
	Month   string `json:"month"`
	Orders  int    `json:"orders"`
	Revenue string `json:"revenue"`
}

type HistoryEntryResponse struct {
	State     string          `json:"state"`
	Step      string          `json:"step,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Errors    json.RawMessage `json:"errors"`
	TraceID   string          `json:"trace_id,omitempty"`
	SpanID    string          `json:"span_id,omitempty"`
	UpdatedAt string          `json:"updated_at"`
}

type ErrorResponse struct {
	Error    string                 `json:"error"`
	Message  string                 `json:"message,omitempty"`
	Short    []ShortLineResponse    `json:"short,omitempty"`
	Repriced []RepricedLineResponse `json:"repriced,omitempty"`
	Cart     *CartResponse          `json:"cart,omitempty"`
}

type ShortLineResponse struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type RepricedLineResponse struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	OldPrice  string `json:"old_price"`
	NewPrice  string `json:"new_price"`
}

// money renders amounts with two decimals; JSON numbers would go through
// float64.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func mapProduct(p *catalogdomain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       money(p.Price),
		Stock:       p.Stock,
		Image:       p.ImageRef,
	}
}

func mapAdminProduct(p *catalogdomain.Product) AdminProductResponse {
	return AdminProductResponse{
		ProductResponse: mapProduct(p),
		Active:          p.Active,
		CreatedAt:       timestamp(p.CreatedAt),
	}
}

// newProduct builds a product from a create request. Products start active
// unless the request says otherwise.
func newProduct(req ProductRequest) *catalogdomain.Product {
	p := &catalogdomain.Product{Active: true}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.Stock != nil {
		p.Stock = *req.Stock
	}
	if req.Image != nil {
		p.ImageRef = *req.Image
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	return p
}

func productChanges(req ProductRequest) catalogdomain.Changes {
	return catalogdomain.Changes{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		ImageRef:    req.Image,
		Active:      req.Active,
	}
}

func mapCart(c cartdomain.Cart) CartResponse {
	return cartResponse(c.Lines(), c.TotalItems(), c.TotalAmount())
}

func mapReview(r checkout.Review) CartResponse {
	return cartResponse(r.Lines, r.TotalItems, r.TotalAmount)
}

func cartResponse(lines []cartdomain.Line, items int, amount decimal.Decimal) CartResponse {
	out := CartResponse{
		Lines:       make([]CartLineResponse, len(lines)),
		TotalItems:  items,
		TotalAmount: money(amount),
	}
	for i, l := range lines {
		out.Lines[i] = CartLineResponse{
			ProductID: l.ProductID,
			Name:      l.Name,
			Image:     l.ImageRef,
			Quantity:  l.Quantity,
			UnitPrice: money(l.UnitPrice),
			Subtotal:  money(l.Subtotal()),
		}
	}
	return out
}

func mapOrder(o *orderdomain.Order) OrderResponse {
	out := OrderResponse{
		ID:              o.ID,
		OrderNumber:     o.Number,
		Status:          string(o.Status),
		TotalAmount:     money(o.TotalAmount),
		ShippingAddress: o.ShippingAddress,
		Phone:           o.Phone,
		Lines:           make([]OrderLineResponse, len(o.Lines)),
		CreatedAt:       timestamp(o.CreatedAt),
		UpdatedAt:       timestamp(o.UpdatedAt),
	}
	for i, l := range o.Lines {
		out.Lines[i] = OrderLineResponse{
			ProductID: l.ProductID,
			Name:      l.ProductName,
			Quantity:  l.Quantity,
			UnitPrice: money(l.UnitPrice),
			Subtotal:  money(l.Subtotal),
		}
	}
	return out
}

func mapSummaries(in []orderdomain.Summary, withUser bool) []OrderSummaryResponse {
	out := make([]OrderSummaryResponse, len(in))
	for i, s := range in {
		out[i] = OrderSummaryResponse{
			ID:          s.ID,
			OrderNumber: s.Number,
			Status:      string(s.Status),
			TotalAmount: money(s.TotalAmount),
			ItemCount:   s.ItemCount,
			CreatedAt:   timestamp(s.CreatedAt),
		}
		if withUser {
			out[i].UserID = s.UserID
		}
	}
	return out
}

func mapSales(s orderdomain.SalesSummary, lowStock int) SalesResponse {
	out := SalesResponse{
		PaidOrders:    s.PaidOrders,
		Revenue:       money(s.Revenue),
		LowStockCount: lowStock,
		TopProducts:   make([]ProductSalesResponse, len(s.TopProducts)),
		Monthly:       make([]MonthlySalesResponse, len(s.Monthly)),
		RecentOrders:  mapSummaries(s.Recent, true),
	}
	for i, p := range s.TopProducts {
		out.TopProducts[i] = ProductSalesResponse{
			ProductID: p.ProductID,
			Name:      p.Name,
			Quantity:  p.Quantity,
			Revenue:   money(p.Revenue),
		}
	}
	for i, m := range s.Monthly {
		out.Monthly[i] = MonthlySalesResponse{
			Month:   m.Month,
			Orders:  m.Orders,
			Revenue: money(m.Revenue),
		}
	}
	return out
}

func mapHistory(entries []checkoutlog.Entry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntryResponse{
			State:     e.State,
			Step:      e.CurrentStep,
			Errors:    rawJSON(e.ErrorMessages, "[]"),
			TraceID:   e.TraceID,
			SpanID:    e.SpanID,
			UpdatedAt: timestamp(e.UpdatedAt),
		}
		if e.Payload != "" {
			out[i].Payload = rawJSON(e.Payload, "null")
		}
	}
	return out
}

// rawJSON passes stored JSON through as is, or fallback when it is not
// valid JSON.
func rawJSON(s, fallback string) json.RawMessage {
	if !json.Valid([]byte(s)) {
		return json.RawMessage(fallback)
	}
	return json.RawMessage(s)
}

func mapPayment(order *orderdomain.Order, receipt *paymentdomain.Receipt) PaymentResponse {
	return PaymentResponse{
		OrderNumber: order.Number,
		Reference:   receipt.Reference,
		Amount:      money(receipt.Amount),
		CardLast4:   receipt.CardLast4,
		Order:       mapOrder(order),
	}
}

func mapValidation(verr *checkout.ValidationError, refreshed cartdomain.Cart) ErrorResponse {
	resp := ErrorResponse{
		Error:   "cart_invalid",
		Message: verr.Error(),
	}
	for _, s := range verr.Short {
		resp.Short = append(resp.Short, ShortLineResponse{
			ProductID: s.ProductID,
			Name:      s.Name,
			Requested: s.Requested,
			Available: s.Available,
		})
	}
	for _, r := range verr.Repriced {
		resp.Repriced = append(resp.Repriced, RepricedLineResponse{
			ProductID: r.ProductID,
			Name:      r.Name,
			OldPrice:  money(r.OldPrice),
			NewPrice:  money(r.NewPrice),
		})
	}
	c := mapCart(refreshed)
	resp.Cart = &c
	return resp
}
