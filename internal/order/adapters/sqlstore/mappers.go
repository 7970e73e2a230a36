package sqlstore

import (
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront/internal/order/domain"
	"github.com/jcmexdev/storefront/internal/pkg/storage"
)

type orderRow struct {
	ID              string          `db:"id"`
	Number          string          `db:"order_number"`
	UserID          string          `db:"user_id"`
	TotalAmount     decimal.Decimal `db:"total_amount"`
	Status          string          `db:"status"`
	ShippingAddress string          `db:"shipping_address"`
	Phone           string          `db:"phone"`
	CreatedAt       storage.Time    `db:"created_at"`
	UpdatedAt       storage.Time    `db:"updated_at"`
}

type lineRow struct {
	OrderID     string          `db:"order_id"`
	ProductID   int64           `db:"product_id"`
	ProductName string          `db:"product_name"`
	Quantity    int             `db:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	Subtotal    decimal.Decimal `db:"subtotal"`
}

type summaryRow struct {
	orderRow
	ItemCount int `db:"item_count"`
}

const orderColumns = `id, order_number, user_id, total_amount, status, shipping_address, phone, created_at, updated_at`

func orderFromRow(r orderRow, lines []lineRow) *domain.Order {
	o := &domain.Order{
		ID:              r.ID,
		Number:          r.Number,
		UserID:          r.UserID,
		TotalAmount:     r.TotalAmount,
		Status:          domain.OrderStatus(r.Status),
		ShippingAddress: r.ShippingAddress,
		Phone:           r.Phone,
		CreatedAt:       r.CreatedAt.Time,
		UpdatedAt:       r.UpdatedAt.Time,
		Lines:           make([]domain.Line, len(lines)),
	}
	for i, l := range lines {
		o.Lines[i] = domain.Line{
			OrderID:     l.OrderID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Subtotal:    l.Subtotal,
		}
	}
	return o
}

func summaryFromRow(r summaryRow) domain.Summary {
	return domain.Summary{
		ID:          r.ID,
		Number:      r.Number,
		UserID:      r.UserID,
		TotalAmount: r.TotalAmount,
		Status:      domain.OrderStatus(r.Status),
		ItemCount:   r.ItemCount,
		CreatedAt:   r.CreatedAt.Time,
	}
}
