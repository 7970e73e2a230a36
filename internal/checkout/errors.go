package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrAnonymous              = errors.New("checkout requires a signed-in user")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrValidation             = errors.New("cart failed validation")
	ErrPaymentDecrementFailed = errors.New("stock changed during payment")

	// ErrCheckoutInProgress means another request holds the idempotency key
	// and its order is not visible yet. Retrying later is safe.
	ErrCheckoutInProgress = errors.New("checkout with this idempotency key is in progress")
)

// ShortLine is a cart line the ledger can no longer cover. Available is 0
// for products that were removed from the catalog.
type ShortLine struct {
	ProductID int64
	Name      string
	Requested int
	Available int
}

// RepricedLine is a cart line whose catalog price changed since it was added.
type RepricedLine struct {
	ProductID int64
	Name      string
	OldPrice  decimal.Decimal
	NewPrice  decimal.Decimal
}

// ValidationError lists every problem found in the cart. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Short    []ShortLine
	Repriced []RepricedLine
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Short)+len(e.Repriced))
	for _, s := range e.Short {
		parts = append(parts, fmt.Sprintf("%q: requested %d, available %d", s.Name, s.Requested, s.Available))
	}
	for _, r := range e.Repriced {
		parts = append(parts, fmt.Sprintf("%q: price changed from %s to %s", r.Name, r.OldPrice.StringFixed(2), r.NewPrice.StringFixed(2)))
	}
	return "cart failed validation: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) empty() bool {
	return len(e.Short) == 0 && len(e.Repriced) == 0
}

// DecrementError reports the line whose guarded decrement was refused while
// committing a payment. The order stays pending. It matches
// ErrPaymentDecrementFailed with errors.Is.
type DecrementError struct {
	OrderID   string
	ProductID int64
	Quantity  int
}

func (e *DecrementError) Error() string {
	return fmt.Sprintf("order %s: not enough stock left for product %d (quantity %d)", e.OrderID, e.ProductID, e.Quantity)
}

func (e *DecrementError) Is(target error) bool {
	return target == ErrPaymentDecrementFailed
}
