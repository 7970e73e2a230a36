// Package domain describes the payment instrument and the confirmation
// recorded when an order is paid.
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingInstrument = errors.New("card number and card holder are required")
	ErrChargeNotFound    = errors.New("charge not found")
)

type Instrument struct {
	CardNumber string
	CardHolder string
}

// Validate only checks presence: the storefront does not talk to a real
// processor.
func (i Instrument) Validate() error {
	if strings.TrimSpace(i.CardNumber) == "" || strings.TrimSpace(i.CardHolder) == "" {
		return ErrMissingInstrument
	}
	return nil
}

// Last4 returns the last four digits of the card number, ignoring spaces
// and dashes. It is the only part of the number that is ever stored.
func (i Instrument) Last4() string {
	digits := make([]rune, 0, len(i.CardNumber))
	for _, r := range i.CardNumber {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return string(digits)
	}
	return string(digits[len(digits)-4:])
}

// Receipt confirms a successful charge.
type Receipt struct {
	Reference  string
	OrderID    string
	Amount     decimal.Decimal
	CardLast4  string
	CardHolder string
	CreatedAt  time.Time
}
