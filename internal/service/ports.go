package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kaanyurdkl/storefront/internal/domain"
)

// EventSink receives invalidation markers and conversion events after
// mutations. Delivery is best effort; implementations must not block
// the request path on broker failures.
type EventSink interface {
	Invalidate(ctx context.Context, markers ...string)
	CartConverted(ctx context.Context, order *domain.Order)
}

// ProductInfo is the catalog metadata pricing needs for a product.
type ProductInfo struct {
	Category    string
	Subcategory string
	Gender      string
	Price       decimal.Decimal
}

// CatalogGateway looks up product metadata from the catalog
// collaborator. The catalog itself is outside this core.
type CatalogGateway interface {
	Products(ctx context.Context, productIDs []string) (map[string]ProductInfo, error)
}

// OrderArchive persists converted orders.
type OrderArchive interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
}

// Markers emitted after cart mutations for downstream caches.
var invalidationMarkers = []string{"cart", "category", "product"}
