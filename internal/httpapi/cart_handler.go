package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kaanyurdkl/storefront/internal/domain"
	"github.com/kaanyurdkl/storefront/internal/identity"
)

// CartAPI is the slice of the cart service the handler needs.
type CartAPI interface {
	GetCart(ctx context.Context, owner domain.Identity) (*domain.Cart, error)
	AddItem(ctx context.Context, owner domain.Identity, productID, sku string, qty int, priceSnapshot decimal.Decimal) error
	IncrementItem(ctx context.Context, owner domain.Identity, sku string) error
	DecrementItem(ctx context.Context, owner domain.Identity, sku string) error
	RemoveItem(ctx context.Context, owner domain.Identity, sku string) error
	MergeOnLogin(ctx context.Context, guestToken, userID string) error
}

type CartHandler struct {
	carts   CartAPI
	timeout time.Duration
}

func NewCartHandler(carts CartAPI, timeout time.Duration) *CartHandler {
	return &CartHandler{carts: carts, timeout: timeout}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price,omitempty"` // display snapshot only
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	cart, err := h.carts.GetCart(ctx, owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID == "" || req.SKU == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "product_id and sku are required")
		return
	}
	if req.Quantity < 1 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	snapshot := decimal.Zero
	if req.Price != "" {
		parsed, err := decimal.NewFromString(req.Price)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_price", "price must be a decimal number")
			return
		}
		snapshot = parsed
	}

	if err := h.carts.AddItem(ctx, owner, req.ProductID, req.SKU, req.Quantity, snapshot); err != nil {
		handleServiceError(w, err)
		return
	}

	cart, err := h.carts.GetCart(ctx, owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cart)
}

func (h *CartHandler) IncrementItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.carts.IncrementItem)
}

func (h *CartHandler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.carts.DecrementItem)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.carts.RemoveItem)
}

func (h *CartHandler) mutateItem(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.Identity, string) error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	sku := chi.URLParam(r, "sku")
	if sku == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "sku is required")
		return
	}

	if err := op(ctx, owner, sku); err != nil {
		handleServiceError(w, err)
		return
	}

	cart, err := h.carts.GetCart(ctx, owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// Merge reconciles the guest cart into the authenticated user's cart.
// The guest session cookie is only dropped after the merge fully
// succeeds, so a failed merge stays retryable.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := identity.FromContext(r.Context())
	if !ok || !owner.IsUser() {
		respondError(w, http.StatusUnauthorized, "unauthorized", "merge requires an authenticated user")
		return
	}

	guestToken := identity.GuestToken(r)
	if err := h.carts.MergeOnLogin(ctx, guestToken, owner.UserID); err != nil {
		handleServiceError(w, err)
		return
	}
	identity.ClearSession(w)

	cart, err := h.carts.GetCart(ctx, owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}
