package cache

import (
	"context"
	"errors"

	"github.com/safar/promptpay-shop/internal/models"
)

var ErrCacheMiss = errors.New("cart not found in cache")

// CartCache keeps recently read cart views. Consumers define this interface;
// it is satisfied by the Redis implementation or by Noop when caching is
// disabled.
type CartCache interface {
	Get(ctx context.Context, userID int64) (*models.CartView, error)
	Set(ctx context.Context, userID int64, view *models.CartView) error
	Delete(ctx context.Context, userID int64) error
}

// Noop disables caching; every Get is a miss.
type Noop struct{}

func (Noop) Get(context.Context, int64) (*models.CartView, error) {
	return nil, ErrCacheMiss
}

func (Noop) Set(context.Context, int64, *models.CartView) error { return nil }

func (Noop) Delete(context.Context, int64) error { return nil }
