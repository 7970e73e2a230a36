// Package storagetest opens throwaway migrated SQLite databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront/internal/pkg/storage"
)

// NewDB returns a migrated SQLite database under t.TempDir, closed on cleanup.
func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.DriverSQLite, filepath.Join(t.TempDir(), "storefront.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(db))
	return db
}

// InsertProduct writes an active product row and returns its id.
func InsertProduct(t testing.TB, db *sqlx.DB, name, price string, stock int) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO products (name, description, price, stock, image, active, created_at) VALUES (?, '', ?, ?, '', 1, ?)`,
		name, decimal.RequireFromString(price), stock, storage.FormatTime(time.Now()),
	)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// Stock reads the current balance of a product.
func Stock(t testing.TB, db *sqlx.DB, productID int64) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, `SELECT stock FROM products WHERE id = ?`, productID))
	return n
}
