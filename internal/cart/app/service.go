// Package app implements the cart operations against the live catalog and
// stock ledger.
package app

import (
	"context"
	"fmt"
	"math"

	cartdomain "github.com/jcmexdev/storefront/internal/cart/domain"
	catalogdomain "github.com/jcmexdev/storefront/internal/catalog/domain"
)

// ProductLookup reads products from the catalog.
type ProductLookup interface {
	GetProduct(ctx context.Context, id int64) (*catalogdomain.Product, error)
}

// StockReader reads the live stock balance.
type StockReader interface {
	ReadStock(ctx context.Context, productID int64) (int, error)
}

type Service struct {
	products ProductLookup
	stock    StockReader
}

func NewService(products ProductLookup, stock StockReader) *Service {
	return &Service{products: products, stock: stock}
}

// Add puts qty units of productID in the cart, merging with an existing line.
// A new line snapshots the current price, name and image.
func (s *Service) Add(ctx context.Context, cart cartdomain.Cart, productID int64, qty int) (cartdomain.Cart, error) {
	if qty <= 0 {
		return cart, cartdomain.ErrInvalidQuantity
	}

	product, err := s.purchasable(ctx, productID)
	if err != nil {
		return cart, err
	}

	line, exists := cart.Line(productID)
	if err := s.checkStock(ctx, product, line.Quantity, qty); err != nil {
		return cart, err
	}

	if !exists {
		line = cartdomain.Line{
			ProductID: product.ID,
			UnitPrice: product.Price,
			Name:      product.Name,
			ImageRef:  product.ImageRef,
		}
	}
	line.Quantity += qty
	return cart.Put(line), nil
}

// Update sets the quantity of an existing line. A quantity of zero or less
// removes the line.
func (s *Service) Update(ctx context.Context, cart cartdomain.Cart, productID int64, qty int) (cartdomain.Cart, error) {
	line, ok := cart.Line(productID)
	if !ok {
		return cart, cartdomain.ErrLineNotFound
	}
	if qty <= 0 {
		return cart.Delete(productID), nil
	}

	product, err := s.purchasable(ctx, productID)
	if err != nil {
		return cart, err
	}
	if err := s.checkStock(ctx, product, 0, qty); err != nil {
		return cart, err
	}

	line.Quantity = qty
	return cart.Put(line), nil
}

// Remove deletes the line for productID. ErrLineNotFound is informational:
// the returned cart is unchanged in that case.
func (s *Service) Remove(cart cartdomain.Cart, productID int64) (cartdomain.Cart, error) {
	if _, ok := cart.Line(productID); !ok {
		return cart, cartdomain.ErrLineNotFound
	}
	return cart.Delete(productID), nil
}

func (s *Service) purchasable(ctx context.Context, productID int64) (*catalogdomain.Product, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("cart: %w", err)
	}
	if !product.Purchasable() {
		return nil, fmt.Errorf("cart: product %d is inactive: %w", productID, catalogdomain.ErrProductNotFound)
	}
	return product, nil
}

// checkStock fails when held units already in the cart plus qty more exceed
// the live stock. The comparison subtracts so that huge quantities cannot
// wrap around.
func (s *Service) checkStock(ctx context.Context, product *catalogdomain.Product, held, qty int) error {
	available, err := s.stock.ReadStock(ctx, product.ID)
	if err != nil {
		return fmt.Errorf("cart: %w", err)
	}
	if qty > available-held {
		requested := held + qty
		if requested < held {
			requested = math.MaxInt
		}
		return &cartdomain.InsufficientStockError{
			ProductID: product.ID,
			Name:      product.Name,
			Requested: requested,
			Available: available,
		}
	}
	return nil
}
