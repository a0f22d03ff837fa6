package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPlaced OrderStatus = "PLACED"
)

type OrderItem struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

// Order is the archived record of a converted cart, written once the
// payment collaborator confirms capture.
type Order struct {
	ID                string          `json:"id"`
	CartID            string          `json:"cart_id"`
	UserID            string          `json:"user_id"`
	Items             []OrderItem     `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	AutomaticDiscount decimal.Decimal `json:"automatic_discount"`
	PromoCodeDiscount decimal.Decimal `json:"promo_code_discount"`
	PromoCode         string          `json:"promo_code,omitempty"`
	GrandTotal        decimal.Decimal `json:"grand_total"`
	Currency          string          `json:"currency"`
	Status            OrderStatus     `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
