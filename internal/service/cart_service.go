package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kaanyurdkl/storefront/internal/cache"
	"github.com/kaanyurdkl/storefront/internal/domain"
	"github.com/kaanyurdkl/storefront/internal/repository"
	"github.com/kaanyurdkl/storefront/pkg/logger"
)

// CartService owns the cart lifecycle: locate-or-create, item
// mutations and merge-on-login. All quantity changes go through the
// repository's atomic primitives, so concurrent requests never lose
// updates.
type CartService struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	events   EventSink
	log      *zap.Logger
	guestTTL time.Duration
	sfg      singleflight.Group // prevents cache stampede
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, events EventSink, log *zap.Logger, guestTTL time.Duration) *CartService {
	return &CartService{
		repo:     repo,
		cache:    cache,
		events:   events,
		log:      log,
		guestTTL: guestTTL,
	}
}

// GetCart returns the identity's active cart, or an empty unpersisted
// cart when none exists yet. Carts are only created on first mutation.
func (s *CartService) GetCart(ctx context.Context, owner domain.Identity) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(owner.String(), func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, owner)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.WithTrace(ctx, s.log).Warn("cache get failed", zap.Error(err))
		}

		cart, errGet := s.repo.FindActive(ctx, owner)
		if errors.Is(errGet, repository.ErrCartNotFound) {
			return s.emptyCart(owner), nil
		}
		if errGet != nil {
			return nil, errGet
		}

		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if errSet := s.cache.Set(setCtx, owner, cart); errSet != nil {
				s.log.Warn("cache set failed", zap.Error(errSet))
			}
		}()

		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// LocateOrCreate finds the identity's active cart, creating an empty
// one if none exists. A concurrent create is resolved by re-reading
// the winner.
func (s *CartService) LocateOrCreate(ctx context.Context, owner domain.Identity) (*domain.Cart, error) {
	cart, err := s.repo.FindActive(ctx, owner)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, repository.ErrCartNotFound) {
		return nil, err
	}

	cart = s.emptyCart(owner)
	if errCreate := s.repo.Create(ctx, cart); errCreate != nil {
		if errors.Is(errCreate, repository.ErrCartExists) {
			return s.repo.FindActive(ctx, owner)
		}
		return nil, errCreate
	}
	return cart, nil
}

func (s *CartService) emptyCart(owner domain.Identity) *domain.Cart {
	cart := &domain.Cart{
		UserID:     owner.UserID,
		GuestToken: owner.GuestToken,
		Status:     domain.CartStatusActive,
		Items:      []domain.CartItem{},
		Checkout:   domain.NewCheckoutState(),
	}
	if !owner.IsUser() {
		expiry := time.Now().Add(s.guestTTL)
		cart.ExpiresAt = &expiry
	}
	return cart
}

// AddItem appends a new line or sums the quantity into an existing
// line with the same variant SKU.
func (s *CartService) AddItem(ctx context.Context, owner domain.Identity, productID, sku string, qty int, priceSnapshot decimal.Decimal) error {
	if qty < 1 {
		return domain.NewValidationError("quantity", "must be at least 1")
	}
	if sku == "" {
		return domain.NewValidationError("sku", "must not be empty")
	}

	cart, err := s.LocateOrCreate(ctx, owner)
	if err != nil {
		return err
	}

	if cart.FindItem(sku) != nil {
		err = s.repo.AddQuantity(ctx, cart.ID, sku, qty)
	} else {
		err = s.repo.AddItem(ctx, cart.ID, domain.CartItem{
			ProductID:     productID,
			SKU:           sku,
			Quantity:      qty,
			PriceSnapshot: priceSnapshot,
		})
		if errors.Is(err, repository.ErrItemExists) {
			// Lost the race with a concurrent add of the same SKU;
			// the line exists now, so fold the quantity into it.
			err = s.repo.AddQuantity(ctx, cart.ID, sku, qty)
		}
	}
	if err != nil {
		return err
	}

	s.afterMutation(ctx, owner)
	return nil
}

func (s *CartService) IncrementItem(ctx context.Context, owner domain.Identity, sku string) error {
	cart, err := s.repo.FindActive(ctx, owner)
	if err != nil {
		return err
	}
	if err := s.repo.AddQuantity(ctx, cart.ID, sku, 1); err != nil {
		return err
	}
	s.afterMutation(ctx, owner)
	return nil
}

// DecrementItem lowers the quantity by one; at quantity 1 it is a
// no-op. Removing the line takes an explicit RemoveItem.
func (s *CartService) DecrementItem(ctx context.Context, owner domain.Identity, sku string) error {
	cart, err := s.repo.FindActive(ctx, owner)
	if err != nil {
		return err
	}
	if err := s.repo.DecrementQuantity(ctx, cart.ID, sku); err != nil {
		return err
	}
	s.afterMutation(ctx, owner)
	return nil
}

func (s *CartService) RemoveItem(ctx context.Context, owner domain.Identity, sku string) error {
	cart, err := s.repo.FindActive(ctx, owner)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveItem(ctx, cart.ID, sku); err != nil {
		return err
	}
	s.afterMutation(ctx, owner)
	return nil
}

// MergeOnLogin reconciles a guest cart into the user's cart when a
// session authenticates. It is idempotent: once the guest cart is
// gone, re-invoking is a no-op. A lost ownership race is re-checked
// once; the retry observes the winner's effects.
func (s *CartService) MergeOnLogin(ctx context.Context, guestToken, userID string) error {
	if guestToken == "" {
		return nil
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.mergeOnce(ctx, guestToken, userID)
		if !errors.Is(err, repository.ErrMergeConflict) {
			return err
		}
	}
	return err
}

func (s *CartService) mergeOnce(ctx context.Context, guestToken, userID string) error {
	guest, err := s.repo.FindActive(ctx, domain.GuestIdentity(guestToken))
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil // already merged, or never existed
	}
	if err != nil {
		return err
	}

	user, err := s.repo.FindActive(ctx, domain.UserIdentity(userID))
	if errors.Is(err, repository.ErrCartNotFound) {
		// No user cart: convert the guest cart in place.
		errAssign := s.repo.AssignToUser(ctx, guest.ID, userID)
		if errors.Is(errAssign, repository.ErrCartNotFound) {
			return nil // a concurrent merge won; its effects stand
		}
		if errAssign != nil {
			return errAssign
		}
		s.afterMerge(ctx, guestToken, userID)
		return nil
	}
	if err != nil {
		return err
	}

	merged := mergeItems(user.Items, guest.Items)
	if err := s.repo.ReplaceItems(ctx, user.ID, merged); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, guest.ID); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return err
	}

	s.afterMerge(ctx, guestToken, userID)
	return nil
}

// mergeItems seeds a map from the user cart, then sums guest
// quantities into matching SKUs and appends the rest. Order is user
// lines first, then new guest lines, so the result is deterministic.
func mergeItems(userItems, guestItems []domain.CartItem) []domain.CartItem {
	merged := make([]domain.CartItem, len(userItems))
	copy(merged, userItems)

	bySKU := make(map[string]int, len(merged))
	for i, item := range merged {
		bySKU[item.SKU] = i
	}

	for _, item := range guestItems {
		if i, ok := bySKU[item.SKU]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		bySKU[item.SKU] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

func (s *CartService) afterMutation(ctx context.Context, owner domain.Identity) {
	s.invalidateCache(owner)
	s.events.Invalidate(ctx, invalidationMarkers...)
}

func (s *CartService) afterMerge(ctx context.Context, guestToken, userID string) {
	s.invalidateCache(domain.GuestIdentity(guestToken))
	s.invalidateCache(domain.UserIdentity(userID))
	s.events.Invalidate(ctx, invalidationMarkers...)
}

func (s *CartService) invalidateCache(owner domain.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, owner); err != nil {
		s.log.Warn("cache invalidate failed", zap.Error(err))
	}
}
