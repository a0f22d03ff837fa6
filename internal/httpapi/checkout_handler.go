package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kaanyurdkl/storefront/internal/domain"
	"github.com/kaanyurdkl/storefront/internal/identity"
	"github.com/kaanyurdkl/storefront/internal/promotion"
)

type CheckoutAPI interface {
	SubmitContact(ctx context.Context, owner domain.Identity, email string) error
	SubmitShipping(ctx context.Context, owner domain.Identity, info domain.ShippingInfo) error
	EditStep(ctx context.Context, owner domain.Identity, target domain.CheckoutStep) error
	PaymentConfirmed(ctx context.Context, owner domain.Identity, promoCode string) (*domain.Order, error)
}

type PricingAPI interface {
	Quote(ctx context.Context, owner domain.Identity, code string) (*promotion.Result, error)
}

type CheckoutHandler struct {
	checkout CheckoutAPI
	pricing  PricingAPI
	timeout  time.Duration
}

func NewCheckoutHandler(checkout CheckoutAPI, pricing PricingAPI, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, pricing: pricing, timeout: timeout}
}

type SubmitContactDTO struct {
	Email string `json:"email"`
}

type SubmitShippingDTO struct {
	ShippingAddress *domain.Address `json:"shipping_address"`
	BillingAddress  *domain.Address `json:"billing_address,omitempty"`
	SameAsShipping  bool            `json:"same_as_shipping"`
	Method          string          `json:"method"`
}

type EditStepDTO struct {
	Step string `json:"step"`
}

type PaymentConfirmationDTO struct {
	UserID     string `json:"user_id,omitempty"`
	GuestToken string `json:"guest_token,omitempty"`
	PromoCode  string `json:"promo_code,omitempty"`
}

func (h *CheckoutHandler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req SubmitContactDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.checkout.SubmitContact(ctx, owner, req.Email); err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"current_step": string(domain.StepShipping)})
}

func (h *CheckoutHandler) SubmitShipping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req SubmitShippingDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	info := domain.ShippingInfo{
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		SameAsShipping:  req.SameAsShipping,
		Method:          req.Method,
	}
	if err := h.checkout.SubmitShipping(ctx, owner, info); err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"current_step": string(domain.StepPayment)})
}

func (h *CheckoutHandler) EditStep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req EditStepDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.checkout.EditStep(ctx, owner, domain.CheckoutStep(req.Step)); err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"current_step": req.Step})
}

// Quote prices the cart, optionally layering a promo code passed as
// ?code=.
func (h *CheckoutHandler) Quote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	result, err := h.pricing.Quote(ctx, owner, r.URL.Query().Get("code"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// PaymentConfirmed is the payment collaborator's webhook. It is not a
// shopper request: the cart owner comes from the payload, not from a
// session.
func (h *CheckoutHandler) PaymentConfirmed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req PaymentConfirmationDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var owner domain.Identity
	switch {
	case req.UserID != "":
		owner = domain.UserIdentity(req.UserID)
	case req.GuestToken != "":
		owner = domain.GuestIdentity(req.GuestToken)
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id or guest_token is required")
		return
	}

	order, err := h.checkout.PaymentConfirmed(ctx, owner, req.PromoCode)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}
