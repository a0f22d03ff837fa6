package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kaanyurdkl/storefront/internal/cache"
	"github.com/kaanyurdkl/storefront/internal/domain"
	"github.com/kaanyurdkl/storefront/internal/orders"
	"github.com/kaanyurdkl/storefront/internal/promotion"
	"github.com/kaanyurdkl/storefront/internal/repository"
)

// Pricer recomputes authoritative totals for a cart.
type Pricer interface {
	QuoteCart(ctx context.Context, cart *domain.Cart, code string) (*promotion.Result, error)
}

// CheckoutService drives the contact -> shipping -> payment step
// machine and the terminal conversion triggered by the payment
// collaborator.
type CheckoutService struct {
	carts    repository.CartRepository
	promos   repository.PromotionRepository
	pricer   Pricer
	archive  OrderArchive
	cache    cache.CartCache
	events   EventSink
	log      *zap.Logger
	currency string
}

func NewCheckoutService(
	carts repository.CartRepository,
	promos repository.PromotionRepository,
	pricer Pricer,
	archive OrderArchive,
	cartCache cache.CartCache,
	events EventSink,
	log *zap.Logger,
	currency string,
) *CheckoutService {
	return &CheckoutService{
		carts:    carts,
		promos:   promos,
		pricer:   pricer,
		archive:  archive,
		cache:    cartCache,
		events:   events,
		log:      log,
		currency: currency,
	}
}

// SubmitContact completes the contact step and advances to shipping.
func (s *CheckoutService) SubmitContact(ctx context.Context, owner domain.Identity, email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.NewValidationError("email", "a valid email address is required")
	}

	cart, err := s.carts.FindActive(ctx, owner)
	if err != nil {
		return err
	}

	state := cart.Checkout
	state.Contact = domain.ContactInfo{Email: email, Completed: true}
	state.CurrentStep = domain.StepShipping

	return s.writeState(ctx, owner, cart.ID, state)
}

// SubmitShipping completes the shipping step and advances to payment.
// It requires the contact step done, a resolved shipping address and a
// shipping method.
func (s *CheckoutService) SubmitShipping(ctx context.Context, owner domain.Identity, info domain.ShippingInfo) error {
	if info.ShippingAddress == nil || info.ShippingAddress.IsZero() {
		return domain.NewValidationError("shipping_address", "a shipping address is required")
	}
	if info.Method == "" {
		return domain.NewValidationError("shipping_method", "a shipping method is required")
	}
	if info.SameAsShipping {
		billing := *info.ShippingAddress
		info.BillingAddress = &billing
	} else if info.BillingAddress == nil || info.BillingAddress.IsZero() {
		return domain.NewValidationError("billing_address", "a billing address is required")
	}

	cart, err := s.carts.FindActive(ctx, owner)
	if err != nil {
		return err
	}
	if !cart.Checkout.Contact.Completed {
		return domain.NewValidationError("step", "contact step must be completed first")
	}

	state := cart.Checkout
	info.Completed = true
	state.Shipping = info
	state.CurrentStep = domain.StepPayment

	return s.writeState(ctx, owner, cart.ID, state)
}

// EditStep rewinds the checkout to target and clears all data
// belonging to steps strictly after it. Skipping ahead is rejected.
func (s *CheckoutService) EditStep(ctx context.Context, owner domain.Identity, target domain.CheckoutStep) error {
	if !target.Valid() {
		return domain.NewValidationError("step", "unknown checkout step")
	}

	cart, err := s.carts.FindActive(ctx, owner)
	if err != nil {
		return err
	}
	if target.Index() > cart.Checkout.CurrentStep.Index() {
		return domain.NewValidationError("step", "cannot skip ahead in checkout")
	}

	state := cart.Checkout
	state.ClearAfter(target)
	state.CurrentStep = target

	return s.writeState(ctx, owner, cart.ID, state)
}

// PaymentConfirmed is the payment collaborator's success callback: it
// reprices the cart, archives the order, redeems the promo code and
// marks the cart converted. Archiving is idempotent per cart, so a
// replayed confirmation does not double-write.
func (s *CheckoutService) PaymentConfirmed(ctx context.Context, owner domain.Identity, promoCode string) (*domain.Order, error) {
	cart, err := s.carts.FindActive(ctx, owner)
	if err != nil {
		return nil, err
	}
	if cart.Checkout.CurrentStep != domain.StepPayment {
		return nil, domain.NewValidationError("step", "checkout has not reached the payment step")
	}
	if len(cart.Items) == 0 {
		return nil, domain.NewValidationError("cart", "cart is empty, nothing to convert")
	}

	quote, err := s.pricer.QuoteCart(ctx, cart, promoCode)
	if err != nil {
		return nil, err
	}

	order := orderFromQuote(cart, quote, s.currency)
	if err := s.archive.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, orders.ErrDuplicateOrder) {
			s.log.Info("order already archived for cart", zap.String("cart_id", cart.ID))
		} else {
			return nil, &domain.UpstreamError{Op: "archive order", Err: err}
		}
	}

	if promoCode != "" {
		if errRedeem := s.promos.RedeemPromoCode(ctx, promoCode); errRedeem != nil {
			// Payment is already captured; a redemption race is logged,
			// not surfaced to the shopper.
			s.log.Warn("promo code redemption failed",
				zap.String("code", promoCode), zap.Error(errRedeem))
		}
	}

	if err := s.carts.SetStatus(ctx, cart.ID, domain.CartStatusConverted); err != nil {
		return nil, err
	}

	s.invalidate(owner)
	s.events.CartConverted(ctx, order)
	s.events.Invalidate(ctx, invalidationMarkers...)
	return order, nil
}

func (s *CheckoutService) writeState(ctx context.Context, owner domain.Identity, cartID string, state domain.CheckoutState) error {
	if err := s.carts.UpdateCheckout(ctx, cartID, state); err != nil {
		return err
	}
	s.invalidate(owner)
	return nil
}

func (s *CheckoutService) invalidate(owner domain.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, owner); err != nil {
		s.log.Warn("cache invalidate failed", zap.Error(err))
	}
}

func orderFromQuote(cart *domain.Cart, quote *promotion.Result, currency string) *domain.Order {
	now := time.Now()
	items := make([]domain.OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			SKU:       line.SKU,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Total:     line.Total,
		})
	}
	return &domain.Order{
		ID:                uuid.NewString(),
		CartID:            cart.ID,
		UserID:            cart.UserID,
		Items:             items,
		Subtotal:          quote.Subtotal,
		AutomaticDiscount: quote.AutomaticDiscount,
		PromoCodeDiscount: quote.PromoCodeDiscount,
		PromoCode:         quote.AppliedCode,
		GrandTotal:        quote.GrandTotalBeforeShippingAndTax,
		Currency:          currency,
		Status:            domain.OrderStatusPlaced,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
