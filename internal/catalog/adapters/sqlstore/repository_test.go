package sqlstore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront/internal/catalog/domain"
	"github.com/jcmexdev/storefront/internal/pkg/storage/storagetest"
)

func TestRepository_CreateAndGet(t *testing.T) {
	repo := NewRepository(storagetest.NewDB(t))
	ctx := context.Background()

	p := &domain.Product{
		Name:     "Ceramic mug",
		Price:    decimal.RequireFromString("10.50"),
		Stock:    5,
		ImageRef: "mug.png",
		Active:   true,
	}
	require.NoError(t, repo.Create(ctx, p))
	require.NotZero(t, p.ID)

	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ceramic mug", got.Name)
	assert.True(t, p.Price.Equal(got.Price), "price %s", got.Price)
	assert.Equal(t, 5, got.Stock)
	assert.Equal(t, "mug.png", got.ImageRef)
	assert.True(t, got.Purchasable())
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRepository_GetMissing(t *testing.T) {
	repo := NewRepository(storagetest.NewDB(t))

	_, err := repo.GetProduct(context.Background(), 999)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestRepository_ListActiveSkipsDeactivated(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	mug := storagetest.InsertProduct(t, db, "Mug", "10.00", 3)
	storagetest.InsertProduct(t, db, "Bowl", "12.00", 1)
	require.NoError(t, repo.Deactivate(ctx, mug))

	list, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Bowl", list[0].Name)

	got, err := repo.GetProduct(ctx, mug)
	require.NoError(t, err, "inactive products are still readable")
	assert.False(t, got.Purchasable())

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRepository_Update(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	id := storagetest.InsertProduct(t, db, "Mug", "10.00", 3)

	price := decimal.RequireFromString("11.25")
	name := "  Tall mug "
	got, err := repo.Update(ctx, id, domain.Changes{Name: &name, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "Tall mug", got.Name)
	assert.Equal(t, "11.25", got.Price.StringFixed(2))
	assert.Equal(t, 3, got.Stock, "stock is untouched")

	t.Run("stock is only written when given", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `UPDATE products SET stock = 1 WHERE id = ?`, id)
		require.NoError(t, err)

		desc := "stoneware"
		got, err := repo.Update(ctx, id, domain.Changes{Description: &desc})
		require.NoError(t, err)
		assert.Equal(t, 1, got.Stock)

		stock := 20
		got, err = repo.Update(ctx, id, domain.Changes{Stock: &stock})
		require.NoError(t, err)
		assert.Equal(t, 20, got.Stock)
	})

	t.Run("invalid changes are rejected", func(t *testing.T) {
		zero := decimal.Zero
		_, err := repo.Update(ctx, id, domain.Changes{Price: &zero})
		require.ErrorIs(t, err, domain.ErrInvalidProduct)

		blank := " "
		_, err = repo.Update(ctx, id, domain.Changes{Name: &blank})
		require.ErrorIs(t, err, domain.ErrInvalidProduct)

		negative := -1
		_, err = repo.Update(ctx, id, domain.Changes{Stock: &negative})
		require.ErrorIs(t, err, domain.ErrInvalidProduct)

		got, err := repo.GetProduct(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "11.25", got.Price.StringFixed(2))
	})

	t.Run("reactivate", func(t *testing.T) {
		require.NoError(t, repo.Deactivate(ctx, id))
		active := true
		got, err := repo.Update(ctx, id, domain.Changes{Active: &active})
		require.NoError(t, err)
		assert.True(t, got.Purchasable())
	})

	_, err = repo.Update(ctx, 999, domain.Changes{Price: &price})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.ErrorIs(t, repo.Deactivate(ctx, 999), domain.ErrProductNotFound)
}

func TestRepository_CountLowStock(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	storagetest.InsertProduct(t, db, "Mug", "10.00", domain.LowStockThreshold)
	storagetest.InsertProduct(t, db, "Bowl", "12.00", 0)
	storagetest.InsertProduct(t, db, "Teapot", "40.00", domain.LowStockThreshold+1)
	hidden := storagetest.InsertProduct(t, db, "Vase", "30.00", 1)
	require.NoError(t, repo.Deactivate(ctx, hidden))

	n, err := repo.CountLowStock(ctx, domain.LowStockThreshold)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "inactive products are not counted")
}

func TestRepository_CreateValidates(t *testing.T) {
	repo := NewRepository(storagetest.NewDB(t))
	ctx := context.Background()

	for name, p := range map[string]*domain.Product{
		"negative stock": {Name: "x", Price: decimal.NewFromInt(1), Stock: -1},
		"zero price":     {Name: "x"},
		"blank name":     {Name: "  ", Price: decimal.NewFromInt(1)},
	} {
		t.Run(name, func(t *testing.T) {
			err := repo.Create(ctx, p)
			require.ErrorIs(t, err, domain.ErrInvalidProduct)
			assert.Zero(t, p.ID)
		})
	}
}
