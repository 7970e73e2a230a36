package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidState        = errors.New("order is not in the expected state")
	ErrOrderCreationFailed = errors.New("order could not be created")
	ErrEmptyOrder          = errors.New("order has no lines")
	ErrMissingShipping     = errors.New("shipping address and phone are required")
	ErrInvalidTransition   = errors.New("order status transition not allowed")
)

type Order struct {
	ID              string
	Number          string
	UserID          string
	TotalAmount     decimal.Decimal
	Status          OrderStatus
	ShippingAddress string
	Phone           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []Line
}

// Line is frozen at order creation: quantity and price never change.
type Line struct {
	OrderID     string
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
}

// NewLine computes the subtotal from quantity and unit price.
func NewLine(productID int64, name string, qty int, unitPrice decimal.Decimal) Line {
	return Line{
		ProductID:   productID,
		ProductName: name,
		Quantity:    qty,
		UnitPrice:   unitPrice,
		Subtotal:    unitPrice.Mul(decimal.NewFromInt(int64(qty))),
	}
}

// Summary is an order header plus its item count, for listings.
type Summary struct {
	ID          string
	Number      string
	UserID      string
	TotalAmount decimal.Decimal
	Status      OrderStatus
	ItemCount   int
	CreatedAt   time.Time
}

// SalesSummary aggregates orders that were paid (whatever happened after).
type SalesSummary struct {
	PaidOrders int
	Revenue    decimal.Decimal
	// TopProducts are the best sellers by units, at most TopProductsLimit.
	TopProducts []ProductSales
	// Monthly holds the most recent months with sales, newest first, at
	// most MonthlyLimit.
	Monthly []MonthlySales
	// Recent are the latest orders in any status, at most RecentLimit.
	Recent []Summary
}

const (
	TopProductsLimit = 5
	MonthlyLimit     = 6
	RecentLimit      = 10
)

type ProductSales struct {
	ProductID int64
	Name      string
	Quantity  int
	Revenue   decimal.Decimal
}

type MonthlySales struct {
	// Month is formatted as 2006-01, in UTC.
	Month   string
	Orders  int
	Revenue decimal.Decimal
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusShipped   OrderStatus = "shipped"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// ParseStatus accepts any of the known statuses, case-insensitively.
func ParseStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// CountsAsSale reports whether the order was paid for.
func (s OrderStatus) CountsAsSale() bool {
	return s == StatusPaid || s == StatusShipped || s == StatusDelivered
}

// CanTransitionTo enforces the administrative lifecycle:
// paid → shipped → delivered, and anything not yet cancelled → cancelled.
// pending → paid is reserved to the payment commit.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch next {
	case StatusShipped:
		return s == StatusPaid
	case StatusDelivered:
		return s == StatusShipped
	case StatusCancelled:
		return s != StatusCancelled && s != ""
	}
	return false
}

// NewOrder validates the input and builds a pending order whose total is
// the sum of the line subtotals. The number is assigned by the store.
func NewOrder(id, userID, address, phone string, lines []Line, now time.Time) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}
	address, phone = strings.TrimSpace(address), strings.TrimSpace(phone)
	if address == "" || phone == "" {
		return nil, ErrMissingShipping
	}

	o := &Order{
		ID:              id,
		UserID:          userID,
		Status:          StatusPending,
		ShippingAddress: address,
		Phone:           phone,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
		Lines:           make([]Line, len(lines)),
	}
	for i, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("line for product %d: quantity must be positive", l.ProductID)
		}
		l.OrderID = id
		o.Lines[i] = l
	}
	o.TotalAmount = o.LinesTotal()
	return o, nil
}

// LinesTotal sums the line subtotals.
func (o *Order) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Subtotal)
	}
	return total
}

// ItemCount sums the line quantities.
func (o *Order) ItemCount() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}

// NumberGenerator produces candidate order numbers.
type NumberGenerator func(now time.Time) string

// NewOrderNumber renders ORD-YYYYMMDD-XXXXXX, where the suffix is six
// upper-case hex characters of a random UUID.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
