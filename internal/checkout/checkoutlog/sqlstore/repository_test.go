package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jcmexdev/storefront/internal/checkout/checkoutlog"
	"github.com/jcmexdev/storefront/internal/pkg/storage/storagetest"
)

func TestRepository_SaveAndHistory(t *testing.T) {
	repo := NewRepository(storagetest.NewDB(t))

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "checkout")
	defer span.End()

	require.NoError(t, repo.Save(ctx, checkoutlog.NewEntry(ctx, "o1", "CartReview", "validate_cart", `{"lines":1}`, nil)))
	require.NoError(t, repo.Save(ctx, checkoutlog.NewEntry(ctx, "o1", "Failed", "create_order", "", []string{"boom"})))
	require.NoError(t, repo.Save(ctx, checkoutlog.NewEntry(ctx, "o2", "CartReview", "validate_cart", "", nil)))

	history, err := repo.History(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "CartReview", history[0].State)
	assert.Equal(t, `{"lines":1}`, history[0].Payload)
	assert.Equal(t, span.SpanContext().TraceID().String(), history[0].TraceID)
	assert.Empty(t, history[0].Errors())

	assert.Equal(t, "Failed", history[1].State)
	assert.Empty(t, history[1].Payload)
	assert.Equal(t, []string{"boom"}, history[1].Errors())
}

func TestNewEntry_WithoutSpan(t *testing.T) {
	e := checkoutlog.NewEntry(context.Background(), "o1", "CartReview", "", "", nil)
	assert.Empty(t, e.TraceID)
	assert.Equal(t, "[]", e.ErrorMessages)
}
