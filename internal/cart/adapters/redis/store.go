// Package redis persists session carts through the shared cache.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cartdomain "github.com/jcmexdev/storefront/internal/cart/domain"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
)

const cacheOperation = "cart"

type Store struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewStore(c cache.Cache, ttl time.Duration) *Store {
	return &Store{cache: c, ttl: ttl}
}

// Load returns the cart of sessionID, or an empty cart when there is none.
func (s *Store) Load(ctx context.Context, sessionID string) (cartdomain.Cart, error) {
	raw, err := s.cache.Get(ctx, s.key(sessionID))
	if err != nil {
		return cartdomain.New(), fmt.Errorf("cart store: load %s: %w", sessionID, err)
	}
	if raw == "" {
		return cartdomain.New(), nil
	}

	var c cartdomain.Cart
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return cartdomain.New(), fmt.Errorf("cart store: decode %s: %w", sessionID, err)
	}
	return c, nil
}

// Save writes c when it is dirty and returns it marked clean. Concurrent
// requests in one session are last-writer-wins.
func (s *Store) Save(ctx context.Context, sessionID string, c cartdomain.Cart) (cartdomain.Cart, error) {
	if !c.Dirty() {
		return c, nil
	}

	key := s.key(sessionID)
	if c.IsEmpty() {
		if err := s.cache.Delete(ctx, key); err != nil {
			return c, fmt.Errorf("cart store: clear %s: %w", sessionID, err)
		}
		return c.Saved(), nil
	}

	b, err := json.Marshal(c)
	if err != nil {
		return c, fmt.Errorf("cart store: encode %s: %w", sessionID, err)
	}
	if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
		return c, fmt.Errorf("cart store: save %s: %w", sessionID, err)
	}
	return c.Saved(), nil
}

func (s *Store) key(sessionID string) string {
	return s.cache.GenerateKey(cacheOperation, sessionID)
}
