package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kaanyurdkl/storefront/internal/domain"
	"github.com/kaanyurdkl/storefront/internal/promotion"
	"github.com/kaanyurdkl/storefront/internal/repository"
	"github.com/kaanyurdkl/storefront/pkg/logger"
)

// PricingService assembles the inputs for the promotion engine:
// the cart snapshot, catalog metadata, the active promotion catalog
// and an optional promo code. Evaluation itself is pure; recomputing
// on every render is correct and cheap.
type PricingService struct {
	carts   repository.CartRepository
	promos  repository.PromotionRepository
	catalog CatalogGateway
	log     *zap.Logger
	now     func() time.Time
}

func NewPricingService(carts repository.CartRepository, promos repository.PromotionRepository, catalog CatalogGateway, log *zap.Logger) *PricingService {
	return &PricingService{
		carts:   carts,
		promos:  promos,
		catalog: catalog,
		log:     log,
		now:     time.Now,
	}
}

// Quote prices the identity's active cart. codeStr, when non-empty,
// is validated and layered on top of the automatic promotions.
func (s *PricingService) Quote(ctx context.Context, owner domain.Identity, codeStr string) (*promotion.Result, error) {
	cart, err := s.carts.FindActive(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.QuoteCart(ctx, cart, codeStr)
}

// QuoteCart prices an already-loaded cart; conversion uses this to
// price the exact cart it is archiving.
func (s *PricingService) QuoteCart(ctx context.Context, cart *domain.Cart, codeStr string) (*promotion.Result, error) {
	lines, err := s.buildLines(ctx, cart)
	if err != nil {
		return nil, err
	}

	now := s.now()
	promos, err := s.promos.ListActive(ctx, now)
	if err != nil {
		return nil, &domain.UpstreamError{Op: "list promotions", Err: err}
	}

	var code *domain.PromoCode
	if codeStr != "" {
		code, err = s.promos.GetPromoCode(ctx, codeStr)
		if errors.Is(err, repository.ErrPromoCodeNotFound) {
			return nil, domain.NewValidationError("promo_code", "unknown code")
		}
		if err != nil {
			return nil, &domain.UpstreamError{Op: "get promo code", Err: err}
		}
	}

	return promotion.Evaluate(lines, promos, code, now, s.log)
}

// buildLines joins cart items with catalog metadata. The catalog price
// is authoritative; the cart's stored snapshot is only a fallback for
// products the catalog no longer knows, so a delisted product cannot
// block pricing the rest of the cart.
func (s *PricingService) buildLines(ctx context.Context, cart *domain.Cart) ([]promotion.Line, error) {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}

	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return nil, &domain.UpstreamError{Op: "catalog lookup", Err: err}
	}

	lines := make([]promotion.Line, 0, len(cart.Items))
	for _, item := range cart.Items {
		line := promotion.Line{
			Key:       item.Key,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
		}
		if info, ok := products[item.ProductID]; ok {
			line.UnitPrice = info.Price
			line.Category = info.Category
			line.Subcategory = info.Subcategory
			line.Gender = info.Gender
		} else {
			logger.WithTrace(ctx, s.log).Warn("product missing from catalog, using price snapshot",
				zap.String("product_id", item.ProductID))
			line.UnitPrice = item.PriceSnapshot
		}
		lines = append(lines, line)
	}
	return lines, nil
}
