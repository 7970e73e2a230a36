package checkout

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/storefront/internal/checkout/checkoutlog"
)

const tracerName = "github.com/jcmexdev/storefront/internal/checkout"

// Step represents a single unit of work in a checkout. A step whose effects
// outlive a later failure must undo them in Compensate.
type Step interface {
	Name() string
	// State is the checkout state while the step runs.
	State() State
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Pipeline runs the steps of one checkout in order and records every state
// transition in the checkout log.
type Pipeline struct {
	checkoutID string
	steps      []Step
	final      State
	payload    string
	log        checkoutlog.Repository // nil-safe: logging skipped if nil
	tracer     trace.Tracer
}

// NewPipeline builds a pipeline that ends in final when every step succeeds.
// payload is written with the first log entry.
func NewPipeline(checkoutID string, final State, steps []Step, log checkoutlog.Repository, payload string) *Pipeline {
	return &Pipeline{
		checkoutID: checkoutID,
		steps:      steps,
		final:      final,
		payload:    payload,
		log:        log,
		tracer:     otel.Tracer(tracerName),
	}
}

// Run executes the steps sequentially. If a step fails, every previously
// successful step is compensated in reverse order and the step's error is
// returned unchanged.
func (p *Pipeline) Run(ctx context.Context) error {
	var (
		done    []Step
		current State
	)

	for _, step := range p.steps {
		if step.State() != current {
			current = step.State()
			p.record(ctx, current, step.Name(), nil)
		}

		if err := p.execute(ctx, step); err != nil {
			slog.WarnContext(ctx, "checkout step failed, compensating",
				"checkout_id", p.checkoutID, "step", step.Name(), "error", err)
			// Compensation must run even when the request was cancelled
			// mid-step, while still propagating tracing metadata.
			cctx := context.WithoutCancel(ctx)
			errs := append([]string{fmt.Sprintf("step %s failed: %v", step.Name(), err)}, p.rollback(cctx, done)...)
			p.record(cctx, StateFailed, step.Name(), errs)
			return err
		}
		// Track successful step for potential compensation (LIFO)
		done = append(done, step)
	}

	p.record(ctx, p.final, "", nil)
	slog.DebugContext(ctx, "checkout pipeline finished", "checkout_id", p.checkoutID, "state", p.final)
	return nil
}

func (p *Pipeline) execute(ctx context.Context, step Step) error {
	ctx, span := p.tracer.Start(ctx, "checkout."+step.Name(), trace.WithAttributes(
		attribute.String("checkout.id", p.checkoutID),
		attribute.String("checkout.state", string(step.State())),
	))
	defer span.End()

	if err := step.Execute(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Pipeline) rollback(ctx context.Context, steps []Step) []string {
	var errs []string
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		slog.InfoContext(ctx, "compensating checkout step", "checkout_id", p.checkoutID, "step", step.Name())
		if err := step.Compensate(ctx); err != nil {
			slog.ErrorContext(ctx, "CRITICAL: failed to compensate checkout step",
				"checkout_id", p.checkoutID, "step", step.Name(), "error", err)
			errs = append(errs, fmt.Sprintf("compensation of %s failed: %v", step.Name(), err))
		}
	}
	return errs
}

// record appends a log entry. A log failure never fails the checkout.
func (p *Pipeline) record(ctx context.Context, state State, step string, errs []string) {
	if p.log == nil {
		return
	}
	entry := checkoutlog.NewEntry(ctx, p.checkoutID, string(state), step, p.payload, errs)
	p.payload = ""
	if err := p.log.Save(ctx, entry); err != nil {
		slog.WarnContext(ctx, "failed to write checkout log", "checkout_id", p.checkoutID, "state", state, "error", err)
	}
}
