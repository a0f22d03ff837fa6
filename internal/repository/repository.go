package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kaanyurdkl/storefront/internal/domain"
)

var (
	ErrCartNotFound      = errors.New("cart not found")
	ErrItemNotFound      = errors.New("item not found in cart")
	ErrItemExists        = errors.New("item already present in cart")
	ErrCartExists        = errors.New("active cart already exists for identity")
	ErrMergeConflict     = errors.New("cart ownership conflict")
	ErrPromoCodeNotFound = errors.New("promo code not found")
	ErrDuplicateCode     = errors.New("promo code already exists")
	ErrCodeExhausted     = errors.New("promo code usage limit reached")
)

// CartRepository is the persistence accessor for carts. Every mutation
// is a single atomic update document so concurrent requests cannot
// lose writes.
type CartRepository interface {
	FindActive(ctx context.Context, owner domain.Identity) (*domain.Cart, error)
	Create(ctx context.Context, cart *domain.Cart) error
	AddItem(ctx context.Context, cartID string, item domain.CartItem) error
	AddQuantity(ctx context.Context, cartID, sku string, qty int) error
	DecrementQuantity(ctx context.Context, cartID, sku string) error
	RemoveItem(ctx context.Context, cartID, sku string) error
	ReplaceItems(ctx context.Context, cartID string, items []domain.CartItem) error
	AssignToUser(ctx context.Context, cartID, userID string) error
	UpdateCheckout(ctx context.Context, cartID string, state domain.CheckoutState) error
	SetStatus(ctx context.Context, cartID string, status domain.CartStatus) error
	Delete(ctx context.Context, cartID string) error
}

// PromotionRepository serves the promotion catalog and promo codes.
type PromotionRepository interface {
	ListActive(ctx context.Context, now time.Time) ([]domain.Promotion, error)
	GetPromoCode(ctx context.Context, code string) (*domain.PromoCode, error)
	CreatePromoCode(ctx context.Context, code *domain.PromoCode) error
	RedeemPromoCode(ctx context.Context, code string) error
}
