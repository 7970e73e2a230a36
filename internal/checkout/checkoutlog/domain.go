// Package checkoutlog defines the durable audit trail of checkout state
// transitions.
//
// Every time a checkout enters a new state a row is appended. The log serves
// two purposes:
//
//  1. Observability: you can query the DB to see exactly where a checkout is
//     (or was) and correlate it with a distributed trace via the trace_id
//     field.
//
//  2. Support: when a customer reports a failed payment, the log shows which
//     step failed and whether the charge was refunded.
package checkoutlog

import "time"

// Entry is a single row in the checkout_logs table.
type Entry struct {
	// CheckoutID identifies the checkout. It is the order ID, so the log can
	// be joined with business data.
	CheckoutID string

	// State is the checkout state at the time of the entry.
	State string

	// CurrentStep is the name of the step that was about to run or failed.
	CurrentStep string

	// Payload is the JSON-serialised input. Written once, on the first entry.
	Payload string

	// ErrorMessages accumulates failure details as a JSON array:
	// ["step X failed: ...", "compensation of Y failed: ..."]
	ErrorMessages string

	// TraceID is the W3C trace ID of the span active when the entry was
	// written. Empty when tracing is disabled.
	TraceID string

	// SpanID is the specific span within the trace.
	SpanID string

	UpdatedAt time.Time
}
