package cache

import (
	"context"
	"errors"

	"github.com/kaanyurdkl/storefront/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, owner domain.Identity) (*domain.Cart, error)
	Set(ctx context.Context, owner domain.Identity, cart *domain.Cart) error
	Delete(ctx context.Context, owner domain.Identity) error
}

var ErrCacheMiss = errors.New("cache miss")
