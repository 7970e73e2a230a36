// Package sqlstore is the SQL implementation of the catalog accessor.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront/internal/catalog/domain"
	"github.com/jcmexdev/storefront/internal/pkg/storage"
)

type productRow struct {
	ID          int64           `db:"id"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	Price       decimal.Decimal `db:"price"`
	Stock       int             `db:"stock"`
	Image       string          `db:"image"`
	Active      bool            `db:"active"`
	CreatedAt   storage.Time    `db:"created_at"`
}

func (r productRow) toDomain() *domain.Product {
	return &domain.Product{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Stock:       r.Stock,
		ImageRef:    r.Image,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt.Time,
	}
}

const productColumns = `id, name, description, price, stock, image, active, created_at`

type Repository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// GetProduct returns the product whether or not it is active; callers decide
// what an inactive product means for them.
func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var row productRow
	err := r.db.GetContext(ctx, &row, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: product %d: %w", id, domain.ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get product %d: %w", id, err)
	}
	return row.toDomain(), nil
}

// ListActive returns the purchasable products ordered by name.
func (r *Repository) ListActive(ctx context.Context) ([]*domain.Product, error) {
	return r.list(ctx, `SELECT `+productColumns+` FROM products WHERE active = 1 ORDER BY name, id`)
}

// ListAll returns every product, active or not, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]*domain.Product, error) {
	return r.list(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id DESC`)
}

func (r *Repository) list(ctx context.Context, query string) ([]*domain.Product, error) {
	var rows []productRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	out := make([]*domain.Product, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// Create validates p, inserts it and sets its ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, p *domain.Product) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("catalog: create %q: %w", p.Name, err)
	}
	p.CreatedAt = r.now().UTC()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO products (name, description, price, stock, image, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Price, p.Stock, p.ImageRef, p.Active, storage.FormatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("catalog: create %q: %w", p.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("catalog: create %q: last insert id: %w", p.Name, err)
	}
	p.ID = id
	return nil
}

// Update applies changes to the product and returns it as stored. Only the
// columns named in changes are written, so an edit that leaves the stock
// alone never overwrites a concurrent decrement.
func (r *Repository) Update(ctx context.Context, id int64, changes domain.Changes) (*domain.Product, error) {
	p, err := r.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := changes.Apply(p); err != nil {
		return nil, fmt.Errorf("catalog: update product %d: %w", id, err)
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, v any) {
		sets = append(sets, column+" = ?")
		args = append(args, v)
	}
	if changes.Name != nil {
		set("name", p.Name)
	}
	if changes.Description != nil {
		set("description", p.Description)
	}
	if changes.Price != nil {
		set("price", p.Price)
	}
	if changes.Stock != nil {
		set("stock", p.Stock)
	}
	if changes.ImageRef != nil {
		set("image", p.ImageRef)
	}
	if changes.Active != nil {
		set("active", p.Active)
	}
	if len(sets) == 0 {
		return p, nil
	}

	query := `UPDATE products SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	if err := r.update(ctx, id, query, append(args, id)...); err != nil {
		return nil, err
	}
	return r.GetProduct(ctx, id)
}

// Deactivate hides the product from the catalog. Existing order lines keep
// referring to it.
func (r *Repository) Deactivate(ctx context.Context, id int64) error {
	return r.update(ctx, id, `UPDATE products SET active = 0 WHERE id = ?`, id)
}

// CountLowStock counts the active products whose balance is at or below
// threshold.
func (r *Repository) CountLowStock(ctx context.Context, threshold int) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM products WHERE active = 1 AND stock <= ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("catalog: count low stock: %w", err)
	}
	return n, nil
}

func (r *Repository) update(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("catalog: update product %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: update product %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("catalog: product %d: %w", id, domain.ErrProductNotFound)
	}
	return nil
}
