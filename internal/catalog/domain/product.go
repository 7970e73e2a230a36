// Package domain holds the product catalog that checkout reads and the
// admin surface maintains.
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("invalid product")
)

// InvalidProductError names the field an admin got wrong. It matches
// ErrInvalidProduct.
type InvalidProductError struct {
	Reason string
}

func (e *InvalidProductError) Error() string {
	return "invalid product: " + e.Reason
}

func (e *InvalidProductError) Is(target error) bool {
	return target == ErrInvalidProduct
}

// LowStockThreshold is the balance at or below which an active product is
// reported as running low.
const LowStockThreshold = 5

type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	// Stock is the live ledger balance at read time. It is informational:
	// only the guarded decrement decides whether units are available.
	Stock     int
	ImageRef  string
	Active    bool
	CreatedAt time.Time
}

// Purchasable reports whether the product may be put in a cart.
func (p *Product) Purchasable() bool {
	return p != nil && p.Active
}

// Validate trims the name and checks the fields an admin may set.
func (p *Product) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	if p.Name == "" {
		return &InvalidProductError{Reason: "name is required"}
	}
	if !p.Price.IsPositive() {
		return &InvalidProductError{Reason: "price must be greater than zero"}
	}
	if p.Stock < 0 {
		return &InvalidProductError{Reason: "stock cannot be negative"}
	}
	return nil
}

// Changes is a partial update of a product. Nil fields are left alone.
type Changes struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	// Stock overwrites the ledger balance, for inventory corrections.
	Stock    *int
	ImageRef *string
	Active   *bool
}

// Apply validates the changes against p and applies them.
func (c Changes) Apply(p *Product) error {
	next := *p
	if c.Name != nil {
		next.Name = *c.Name
	}
	if c.Description != nil {
		next.Description = *c.Description
	}
	if c.Price != nil {
		next.Price = *c.Price
	}
	if c.Stock != nil {
		next.Stock = *c.Stock
	}
	if c.ImageRef != nil {
		next.ImageRef = *c.ImageRef
	}
	if c.Active != nil {
		next.Active = *c.Active
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*p = next
	return nil
}
