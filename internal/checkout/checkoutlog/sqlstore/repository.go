// Package sqlstore is the SQL implementation of checkoutlog.Repository.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jcmexdev/storefront/internal/checkout/checkoutlog"
	"github.com/jcmexdev/storefront/internal/pkg/storage"
)

type entryRow struct {
	CheckoutID    string         `db:"checkout_id"`
	State         string         `db:"state"`
	CurrentStep   string         `db:"current_step"`
	Payload       sql.NullString `db:"payload"`
	ErrorMessages string         `db:"error_messages"`
	TraceID       string         `db:"trace_id"`
	SpanID        string         `db:"span_id"`
	UpdatedAt     storage.Time   `db:"updated_at"`
}

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Save inserts a new log entry. It is safe to call concurrently.
func (r *Repository) Save(ctx context.Context, entry *checkoutlog.Entry) error {
	const q = `
		INSERT INTO checkout_logs
			(checkout_id, state, current_step, payload, error_messages, trace_id, span_id, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		entry.CheckoutID,
		entry.State,
		entry.CurrentStep,
		nullableString(entry.Payload),
		entry.ErrorMessages,
		entry.TraceID,
		entry.SpanID,
		storage.FormatTime(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("checkout log: save for %q: %w", entry.CheckoutID, err)
	}
	return nil
}

// History returns every entry for a checkout in insertion order.
func (r *Repository) History(ctx context.Context, checkoutID string) ([]checkoutlog.Entry, error) {
	const q = `
		SELECT checkout_id, state, current_step, payload, error_messages,
		       trace_id, span_id, updated_at
		FROM   checkout_logs
		WHERE  checkout_id = ?
		ORDER  BY id`

	var rows []entryRow
	if err := r.db.SelectContext(ctx, &rows, q, checkoutID); err != nil {
		return nil, fmt.Errorf("checkout log: history for %q: %w", checkoutID, err)
	}

	out := make([]checkoutlog.Entry, len(rows))
	for i, row := range rows {
		out[i] = checkoutlog.Entry{
			CheckoutID:    row.CheckoutID,
			State:         row.State,
			CurrentStep:   row.CurrentStep,
			Payload:       row.Payload.String,
			ErrorMessages: row.ErrorMessages,
			TraceID:       row.TraceID,
			SpanID:        row.SpanID,
			UpdatedAt:     row.UpdatedAt.Time,
		}
	}
	return out, nil
}

// nullableString returns nil for empty strings so the payload column stays
// NULL on every entry but the first.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
