package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront/internal/checkout/checkoutlog"
)

type memoryLog struct {
	mu      sync.Mutex
	entries []checkoutlog.Entry
}

func (m *memoryLog) Save(_ context.Context, e *checkoutlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memoryLog) History(_ context.Context, id string) ([]checkoutlog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []checkoutlog.Entry
	for _, e := range m.entries {
		if e.CheckoutID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryLog) states() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.State
	}
	return out
}

type fakeStep struct {
	name          string
	state         State
	err           error
	compensateErr error
	trail         *[]string
}

func (s *fakeStep) Name() string { return s.name }
func (s *fakeStep) State() State { return s.state }

func (s *fakeStep) Execute(context.Context) error {
	*s.trail = append(*s.trail, "exec:"+s.name)
	return s.err
}

func (s *fakeStep) Compensate(context.Context) error {
	*s.trail = append(*s.trail, "comp:"+s.name)
	return s.compensateErr
}

func TestPipeline_Success(t *testing.T) {
	var trail []string
	log := &memoryLog{}
	steps := []Step{
		&fakeStep{name: "a", state: StateAwaitingPayment, trail: &trail},
		&fakeStep{name: "b", state: StatePaymentProcessing, trail: &trail},
		&fakeStep{name: "c", state: StatePaymentProcessing, trail: &trail},
	}

	require.NoError(t, NewPipeline("o1", StateCompleted, steps, log, `{"x":1}`).Run(context.Background()))

	assert.Equal(t, []string{"exec:a", "exec:b", "exec:c"}, trail)
	assert.Equal(t, []string{"AwaitingPayment", "PaymentProcessing", "Completed"}, log.states(),
		"one entry per state change")
	assert.Equal(t, `{"x":1}`, log.entries[0].Payload)
	assert.Empty(t, log.entries[1].Payload)
}

func TestPipeline_CompensatesInReverse(t *testing.T) {
	var trail []string
	log := &memoryLog{}
	boom := errors.New("boom")
	steps := []Step{
		&fakeStep{name: "a", state: StateCartReview, trail: &trail},
		&fakeStep{name: "b", state: StateOrderPendingCreation, trail: &trail, compensateErr: errors.New("stuck")},
		&fakeStep{name: "c", state: StateOrderPendingCreation, trail: &trail, err: boom},
		&fakeStep{name: "d", state: StateOrderPendingCreation, trail: &trail},
	}

	err := NewPipeline("o1", StateAwaitingPayment, steps, log, "").Run(context.Background())
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"exec:a", "exec:b", "exec:c", "comp:b", "comp:a"}, trail)
	assert.Equal(t, []string{"CartReview", "OrderPendingCreation", "Failed"}, log.states())

	failed := log.entries[len(log.entries)-1]
	assert.Equal(t, "c", failed.CurrentStep)
	assert.Equal(t, []string{"step c failed: boom", "compensation of b failed: stuck"}, failed.Errors())
}

func TestPipeline_NilLog(t *testing.T) {
	var trail []string
	steps := []Step{&fakeStep{name: "a", state: StateCartReview, trail: &trail}}
	require.NoError(t, NewPipeline("o1", StateAwaitingPayment, steps, nil, "").Run(context.Background()))
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "validation", failureReason(&ValidationError{Short: []ShortLine{{ProductID: 1}}}))
	assert.Equal(t, "stock_changed", failureReason(&DecrementError{}))
	assert.Equal(t, "empty_cart", failureReason(ErrEmptyCart))
	assert.Equal(t, "internal", failureReason(errors.New("x")))
}
