package app

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cartdomain "github.com/jcmexdev/storefront/internal/cart/domain"
	catalogdomain "github.com/jcmexdev/storefront/internal/catalog/domain"
)

type fakeCatalog struct {
	products map[int64]*catalogdomain.Product
}

func (f *fakeCatalog) GetProduct(_ context.Context, id int64) (*catalogdomain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, catalogdomain.ErrProductNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCatalog) ReadStock(ctx context.Context, id int64) (int, error) {
	p, err := f.GetProduct(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}

func setup(t *testing.T) (*Service, *fakeCatalog) {
	t.Helper()
	catalog := &fakeCatalog{products: map[int64]*catalogdomain.Product{
		1: {ID: 1, Name: "Mug", Price: decimal.RequireFromString("10.00"), Stock: 5, Active: true},
		2: {ID: 2, Name: "Bowl", Price: decimal.RequireFromString("25.00"), Stock: 3, Active: true},
		3: {ID: 3, Name: "Retired", Price: decimal.RequireFromString("1.00"), Stock: 9, Active: false},
	}}
	return NewService(catalog, catalog), catalog
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshots price and name", func(t *testing.T) {
		svc, _ := setup(t)
		cart, err := svc.Add(ctx, cartdomain.New(), 1, 2)
		require.NoError(t, err)

		l, ok := cart.Line(1)
		require.True(t, ok)
		assert.Equal(t, 2, l.Quantity)
		assert.Equal(t, "Mug", l.Name)
		assert.Equal(t, "10.00", l.UnitPrice.StringFixed(2))
		assert.True(t, cart.Dirty())
	})

	t.Run("merges into existing line", func(t *testing.T) {
		svc, _ := setup(t)
		cart, err := svc.Add(ctx, cartdomain.New(), 1, 2)
		require.NoError(t, err)
		cart, err = svc.Add(ctx, cart, 1, 3)
		require.NoError(t, err)

		l, _ := cart.Line(1)
		assert.Equal(t, 5, l.Quantity)
		assert.Len(t, cart.Lines(), 1)
	})

	t.Run("merge keeps the first price snapshot", func(t *testing.T) {
		svc, catalog := setup(t)
		cart, err := svc.Add(ctx, cartdomain.New(), 1, 1)
		require.NoError(t, err)
		catalog.products[1].Price = decimal.RequireFromString("99.00")

		cart, err = svc.Add(ctx, cart, 1, 1)
		require.NoError(t, err)
		l, _ := cart.Line(1)
		assert.Equal(t, "10.00", l.UnitPrice.StringFixed(2))
	})

	t.Run("rejects merged quantity over stock", func(t *testing.T) {
		svc, _ := setup(t)
		cart, err := svc.Add(ctx, cartdomain.New(), 1, 4)
		require.NoError(t, err)

		after, err := svc.Add(ctx, cart, 1, 2)
		require.ErrorIs(t, err, cartdomain.ErrInsufficientStock)

		var ise *cartdomain.InsufficientStockError
		require.ErrorAs(t, err, &ise)
		assert.Equal(t, 6, ise.Requested)
		assert.Equal(t, 5, ise.Available)

		l, _ := after.Line(1)
		assert.Equal(t, 4, l.Quantity, "cart unchanged on failure")
	})

	t.Run("huge quantity does not wrap around", func(t *testing.T) {
		svc, _ := setup(t)
		cart, err := svc.Add(ctx, cartdomain.New(), 1, 1)
		require.NoError(t, err)

		after, err := svc.Add(ctx, cart, 1, math.MaxInt)
		require.ErrorIs(t, err, cartdomain.ErrInsufficientStock)

		var ise *cartdomain.InsufficientStockError
		require.ErrorAs(t, err, &ise)
		assert.Equal(t, math.MaxInt, ise.Requested)
		assert.Equal(t, 5, ise.Available)

		l, _ := after.Line(1)
		assert.Equal(t, 1, l.Quantity)
		assert.Equal(t, "10.00", after.TotalAmount().StringFixed(2))

		_, err = svc.Update(ctx, cart, 1, math.MaxInt)
		require.ErrorIs(t, err, cartdomain.ErrInsufficientStock)
	})

	t.Run("unknown and inactive products", func(t *testing.T) {
		svc, _ := setup(t)
		_, err := svc.Add(ctx, cartdomain.New(), 42, 1)
		require.ErrorIs(t, err, catalogdomain.ErrProductNotFound)

		_, err = svc.Add(ctx, cartdomain.New(), 3, 1)
		require.ErrorIs(t, err, catalogdomain.ErrProductNotFound)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		svc, _ := setup(t)
		_, err := svc.Add(ctx, cartdomain.New(), 1, 0)
		require.ErrorIs(t, err, cartdomain.ErrInvalidQuantity)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	cart, err := svc.Add(ctx, cartdomain.New(), 2, 1)
	require.NoError(t, err)

	cart, err = svc.Update(ctx, cart, 2, 3)
	require.NoError(t, err)
	l, _ := cart.Line(2)
	assert.Equal(t, 3, l.Quantity)

	_, err = svc.Update(ctx, cart, 2, 4)
	require.ErrorIs(t, err, cartdomain.ErrInsufficientStock)

	cart, err = svc.Update(ctx, cart, 2, 0)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty(), "quantity 0 removes the line")

	_, err = svc.Update(ctx, cart, 2, 1)
	require.ErrorIs(t, err, cartdomain.ErrLineNotFound)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	cart, err := svc.Add(ctx, cartdomain.New(), 1, 1)
	require.NoError(t, err)

	cart, err = svc.Remove(cart, 1)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	same, err := svc.Remove(cart, 1)
	require.ErrorIs(t, err, cartdomain.ErrLineNotFound)
	assert.True(t, same.IsEmpty())
}
