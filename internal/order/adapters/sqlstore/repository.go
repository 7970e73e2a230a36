// Package sqlstore is the SQL order store. Order headers and lines are
// written together in one transaction, and every status change is a
// conditional UPDATE on the status the caller expects.
package sqlstore

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/pkg/storage"
)

// maxNumberAttempts bounds the retries on an order number collision.
const maxNumberAttempts = 5

type Repository struct {
	db        *sqlx.DB
	q         sqlx.ExtContext
	now       func() time.Time
	newNumber domain.NumberGenerator
}

type Option func(*Repository)

// WithNumberGenerator replaces the random order number generator.
func WithNumberGenerator(gen domain.NumberGenerator) Option {
	return func(r *Repository) { r.newNumber = gen }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func NewRepository(db *sqlx.DB, opts ...Option) *Repository {
	r := &Repository{
		db:        db,
		q:         db,
		now:       time.Now,
		newNumber: domain.NewOrderNumber,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithTx returns a store whose reads and status updates join tx.
// CreateOrder always runs in its own transaction.
func (r *Repository) WithTx(tx *sqlx.Tx) *Repository {
	cp := *r
	cp.q = tx
	return &cp
}

// CreateOrder persists o as a pending order with all its lines, assigning
// o.Number. Either the header and every line are stored or nothing is.
func (r *Repository) CreateOrder(ctx context.Context, o *domain.Order) error {
	if len(o.Lines) == 0 {
		return domain.ErrEmptyOrder
	}
	if o.ShippingAddress == "" || o.Phone == "" {
		return domain.ErrMissingShipping
	}
	o.TotalAmount = o.LinesTotal()
	o.Status = domain.StatusPending

	var lastErr error
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		number := r.newNumber(o.CreatedAt)
		err := storage.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
			return insertOrder(ctx, tx, o, number)
		})
		if err == nil {
			o.Number = number
			return nil
		}
		if !storage.IsUniqueViolation(err) {
			return fmt.Errorf("order store: create %s: %w: %w", o.ID, domain.ErrOrderCreationFailed, err)
		}
		lastErr = err
		slog.WarnContext(ctx, "order number collision, retrying",
			"order_id", o.ID, "order_number", number, "attempt", attempt)
	}
	return fmt.Errorf("order store: create %s: no unique number after %d attempts: %w: %w",
		o.ID, maxNumberAttempts, domain.ErrOrderCreationFailed, lastErr)
}

func insertOrder(ctx context.Context, tx *sqlx.Tx, o *domain.Order, number string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, number, o.UserID, o.TotalAmount, string(o.Status), o.ShippingAddress, o.Phone,
		storage.FormatTime(o.CreatedAt), storage.FormatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert header: %w", err)
	}

	for _, l := range o.Lines {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_lines (order_id, product_id, product_name, quantity, unit_price, subtotal) VALUES (?, ?, ?, ?, ?, ?)`,
			o.ID, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice, l.Subtotal,
		)
		if err != nil {
			return fmt.Errorf("insert line for product %d: %w", l.ProductID, err)
		}
	}
	return nil
}

// Get returns the order with its lines regardless of owner.
func (r *Repository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
}

// GetForUser returns the order only when userID owns it. Foreign orders are
// reported as ErrOrderNotFound.
func (r *Repository) GetForUser(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? AND user_id = ?`, orderID, userID)
}

func (r *Repository) get(ctx context.Context, query string, orderID string, args ...any) (*domain.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, r.q, &row, query, append([]any{orderID}, args...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order store: %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("order store: get %s: %w", orderID, err)
	}

	var lines []lineRow
	err = sqlx.SelectContext(ctx, r.q, &lines,
		`SELECT order_id, product_id, product_name, quantity, unit_price, subtotal FROM order_lines WHERE order_id = ? ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("order store: lines of %s: %w", orderID, err)
	}
	return orderFromRow(row, lines), nil
}

const summarySelect = `SELECT ` + orderColumns + `,
	(SELECT COALESCE(SUM(l.quantity), 0) FROM order_lines l WHERE l.order_id = orders.id) AS item_count
	FROM orders`

// ListForUser returns the user's orders, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]domain.Summary, error) {
	return r.list(ctx, summarySelect+` WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

// List returns every order, newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status domain.OrderStatus) ([]domain.Summary, error) {
	if status == "" {
		return r.list(ctx, summarySelect+` ORDER BY created_at DESC, id DESC`)
	}
	return r.list(ctx, summarySelect+` WHERE status = ? ORDER BY created_at DESC, id DESC`, string(status))
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]domain.Summary, error) {
	var rows []summaryRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("order store: list: %w", err)
	}
	out := make([]domain.Summary, len(rows))
	for i, row := range rows {
		out[i] = summaryFromRow(row)
	}
	return out, nil
}

// MarkPaid moves a pending order to paid. It fails with ErrInvalidState when
// the order is in any other status, so paid is reached at most once.
func (r *Repository) MarkPaid(ctx context.Context, orderID string) error {
	return r.transition(ctx, orderID, domain.StatusPending, domain.StatusPaid)
}

// UpdateStatus applies an administrative transition and returns the status
// the order had before.
func (r *Repository) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.OrderStatus, error) {
	current, err := r.status(ctx, orderID)
	if err != nil {
		return "", err
	}
	if !current.CanTransitionTo(next) {
		return current, fmt.Errorf("order store: %s %s -> %s: %w", orderID, current, next, domain.ErrInvalidTransition)
	}
	if err := r.transition(ctx, orderID, current, next); err != nil {
		return current, err
	}
	return current, nil
}

func (r *Repository) transition(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), storage.FormatTime(r.now()), orderID, string(from),
	)
	if err != nil {
		return fmt.Errorf("order store: %s -> %s: %w", orderID, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("order store: %s -> %s: %w", orderID, to, err)
	}
	if n == 1 {
		return nil
	}

	// Tell a missing order apart from one in another status.
	if _, err := r.status(ctx, orderID); err != nil {
		return err
	}
	return fmt.Errorf("order store: %s is not %s: %w", orderID, from, domain.ErrInvalidState)
}

func (r *Repository) status(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	var s string
	err := sqlx.GetContext(ctx, r.q, &s, `SELECT status FROM orders WHERE id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("order store: %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("order store: status of %s: %w", orderID, err)
	}
	return domain.OrderStatus(s), nil
}

// soldStatuses are the statuses of orders that count as sales.
var soldStatuses = []any{string(domain.StatusPaid), string(domain.StatusShipped), string(domain.StatusDelivered)}

const soldFilter = `status IN (?, ?, ?)`

type soldOrderRow struct {
	TotalAmount decimal.Decimal `db:"total_amount"`
	CreatedAt   storage.Time    `db:"created_at"`
}

type soldLineRow struct {
	ProductID   int64           `db:"product_id"`
	ProductName string          `db:"product_name"`
	Quantity    int             `db:"quantity"`
	Subtotal    decimal.Decimal `db:"subtotal"`
}

// SalesSummary aggregates the orders that were paid: totals, best sellers
// and sales per month. It also returns the latest orders in any status.
// Amounts are summed here: SQLite would turn the TEXT amounts into floats.
func (r *Repository) SalesSummary(ctx context.Context) (domain.SalesSummary, error) {
	var orders []soldOrderRow
	err := sqlx.SelectContext(ctx, r.q, &orders,
		`SELECT total_amount, created_at FROM orders WHERE `+soldFilter, soldStatuses...)
	if err != nil {
		return domain.SalesSummary{}, fmt.Errorf("order store: sales summary: %w", err)
	}

	var lines []soldLineRow
	err = sqlx.SelectContext(ctx, r.q, &lines,
		`SELECT l.product_id, l.product_name, l.quantity, l.subtotal
		FROM order_lines l JOIN orders ON orders.id = l.order_id
		WHERE orders.`+soldFilter+` ORDER BY l.id`, soldStatuses...)
	if err != nil {
		return domain.SalesSummary{}, fmt.Errorf("order store: sales by product: %w", err)
	}

	recent, err := r.list(ctx, summarySelect+` ORDER BY created_at DESC, id DESC LIMIT ?`, domain.RecentLimit)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	sum := domain.SalesSummary{
		PaidOrders:  len(orders),
		Revenue:     decimal.Zero,
		TopProducts: topProducts(lines),
		Monthly:     monthlySales(orders),
		Recent:      recent,
	}
	for _, o := range orders {
		sum.Revenue = sum.Revenue.Add(o.TotalAmount)
	}
	return sum, nil
}

// topProducts ranks products by units sold, then revenue, then id.
func topProducts(lines []soldLineRow) []domain.ProductSales {
	byID := make(map[int64]*domain.ProductSales)
	var ranked []*domain.ProductSales
	for _, l := range lines {
		ps, ok := byID[l.ProductID]
		if !ok {
			ps = &domain.ProductSales{ProductID: l.ProductID, Name: l.ProductName, Revenue: decimal.Zero}
			byID[l.ProductID] = ps
			ranked = append(ranked, ps)
		}
		ps.Quantity += l.Quantity
		ps.Revenue = ps.Revenue.Add(l.Subtotal)
	}

	slices.SortFunc(ranked, func(a, b *domain.ProductSales) int {
		if c := cmp.Compare(b.Quantity, a.Quantity); c != 0 {
			return c
		}
		if c := b.Revenue.Cmp(a.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	out := make([]domain.ProductSales, 0, min(len(ranked), domain.TopProductsLimit))
	for _, ps := range ranked[:min(len(ranked), domain.TopProductsLimit)] {
		out = append(out, *ps)
	}
	return out
}

// monthlySales groups orders by the UTC month they were placed in.
func monthlySales(orders []soldOrderRow) []domain.MonthlySales {
	byMonth := make(map[string]*domain.MonthlySales)
	for _, o := range orders {
		month := o.CreatedAt.UTC().Format("2006-01")
		ms, ok := byMonth[month]
		if !ok {
			ms = &domain.MonthlySales{Month: month, Revenue: decimal.Zero}
			byMonth[month] = ms
		}
		ms.Orders++
		ms.Revenue = ms.Revenue.Add(o.TotalAmount)
	}

	months := slices.Collect(maps.Keys(byMonth))
	slices.Sort(months)
	slices.Reverse(months)

	out := make([]domain.MonthlySales, 0, min(len(months), domain.MonthlyLimit))
	for _, m := range months[:min(len(months), domain.MonthlyLimit)] {
		out = append(out, *byMonth[m])
	}
	return out
}
