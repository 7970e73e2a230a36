package checkoutlog

import "context"

// Repository persists checkout log entries. The table is append-only: each
// Save adds a row.
type Repository interface {
	Save(ctx context.Context, entry *Entry) error
	// History returns every entry of a checkout, oldest first.
	History(ctx context.Context, checkoutID string) ([]Entry, error)
}
