// Package domain models the session cart: a value object mapping product id
// to a line with the quantity and the price snapshot taken when the product
// was added.
//
// Cart values are immutable. Every mutation returns a new Cart marked dirty
// so the session layer knows it has to persist it.
package domain

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

type Line struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Name      string          `json:"name"`
	ImageRef  string          `json:"image,omitempty"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Cart struct {
	lines map[int64]Line
	dirty bool
}

// New returns an empty, clean cart.
func New() Cart {
	return Cart{}
}

// FromLines builds a clean cart, e.g. when it is loaded from the session.
// Lines with a non-positive quantity are dropped.
func FromLines(lines []Line) Cart {
	c := Cart{lines: make(map[int64]Line, len(lines))}
	for _, l := range lines {
		if l.Quantity > 0 {
			c.lines[l.ProductID] = l
		}
	}
	return c
}

// Lines returns the lines ordered by product id.
func (c Cart) Lines() []Line {
	out := make([]Line, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (c Cart) Line(productID int64) (Line, bool) {
	l, ok := c.lines[productID]
	return l, ok
}

func (c Cart) IsEmpty() bool { return len(c.lines) == 0 }

// Dirty reports whether the cart changed since it was loaded or saved.
func (c Cart) Dirty() bool { return c.dirty }

// TotalItems is the sum of all quantities.
func (c Cart) TotalItems() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// TotalAmount is the sum of quantity × unit price over all lines.
func (c Cart) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Put replaces (or inserts) the line for l.ProductID.
func (c Cart) Put(l Line) Cart {
	next := c.clone()
	next.lines[l.ProductID] = l
	return next
}

// Delete removes the line for productID.
func (c Cart) Delete(productID int64) Cart {
	next := c.clone()
	delete(next.lines, productID)
	return next
}

// Clear empties the cart.
func (c Cart) Clear() Cart {
	return Cart{lines: map[int64]Line{}, dirty: true}
}

// Saved returns the same lines marked clean.
func (c Cart) Saved() Cart {
	c.dirty = false
	return c
}

func (c Cart) clone() Cart {
	next := Cart{lines: make(map[int64]Line, len(c.lines)+1), dirty: true}
	for id, l := range c.lines {
		next.lines[id] = l
	}
	return next
}

type cartJSON struct {
	Lines []Line `json:"lines"`
}

func (c Cart) MarshalJSON() ([]byte, error) {
	return json.Marshal(cartJSON{Lines: c.Lines()})
}

func (c *Cart) UnmarshalJSON(b []byte) error {
	var raw cartJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = FromLines(raw.Lines)
	return nil
}
