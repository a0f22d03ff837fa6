package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PromotionType string

const (
	PromotionPercentage  PromotionType = "percentage"
	PromotionFixedAmount PromotionType = "fixed_amount"
	PromotionBundle      PromotionType = "bundle"
	PromotionBOGO        PromotionType = "bogo"
	PromotionTiered      PromotionType = "tiered"
	PromotionThreshold   PromotionType = "threshold"
)

// Targeting limits which product lines a promotion can apply to. Empty
// slices mean "no restriction".
type Targeting struct {
	Gender        string   `bson:"gender,omitempty" json:"gender,omitempty"` // "men", "women" or "both"
	Categories    []string `bson:"categories,omitempty" json:"categories,omitempty"`
	Subcategories []string `bson:"subcategories,omitempty" json:"subcategories,omitempty"`
	Products      []string `bson:"products,omitempty" json:"products,omitempty"`
}

type PercentageConfig struct {
	Percent         decimal.Decimal  `bson:"percent" json:"percent"`
	MinimumQuantity int              `bson:"minimum_quantity,omitempty" json:"minimum_quantity,omitempty"`
	MaximumDiscount *decimal.Decimal `bson:"maximum_discount,omitempty" json:"maximum_discount,omitempty"`
}

type FixedAmountConfig struct {
	Amount          decimal.Decimal  `bson:"amount" json:"amount"`
	MinimumPurchase *decimal.Decimal `bson:"minimum_purchase,omitempty" json:"minimum_purchase,omitempty"`
}

type BundleConfig struct {
	Quantity    int             `bson:"quantity" json:"quantity"`
	BundlePrice decimal.Decimal `bson:"bundle_price" json:"bundle_price"`
}

type BOGOConfig struct {
	BuyQuantity int `bson:"buy_quantity" json:"buy_quantity"`
	GetQuantity int `bson:"get_quantity" json:"get_quantity"`
	// GetDiscountPercent of 100 makes the "get" units free.
	GetDiscountPercent decimal.Decimal `bson:"get_discount_percent" json:"get_discount_percent"`
}

type Tier struct {
	MinimumQuantity int             `bson:"minimum_quantity" json:"minimum_quantity"`
	Percent         decimal.Decimal `bson:"percent" json:"percent"`
}

type TieredConfig struct {
	Tiers []Tier `bson:"tiers" json:"tiers"`
}

type ThresholdDiscountType string

const (
	ThresholdPercentage ThresholdDiscountType = "percentage"
	ThresholdFixed      ThresholdDiscountType = "fixed_amount"
)

type ThresholdConfig struct {
	MinimumSpend decimal.Decimal       `bson:"minimum_spend" json:"minimum_spend"`
	DiscountType ThresholdDiscountType `bson:"discount_type" json:"discount_type"`
	Value        decimal.Decimal       `bson:"value" json:"value"`
}

// Promotion is a tagged union: Type selects which config pointer is
// populated. Validate checks the pairing exhaustively.
type Promotion struct {
	ID        string        `bson:"_id,omitempty" json:"id"`
	Name      string        `bson:"name" json:"name"`
	Type      PromotionType `bson:"type" json:"type"`
	Priority  int           `bson:"priority" json:"priority"` // 1..100, higher wins

	Percentage *PercentageConfig  `bson:"percentage,omitempty" json:"percentage,omitempty"`
	Fixed      *FixedAmountConfig `bson:"fixed,omitempty" json:"fixed,omitempty"`
	Bundle     *BundleConfig      `bson:"bundle,omitempty" json:"bundle,omitempty"`
	BOGO       *BOGOConfig        `bson:"bogo,omitempty" json:"bogo,omitempty"`
	Tiered     *TieredConfig      `bson:"tiered,omitempty" json:"tiered,omitempty"`
	Threshold  *ThresholdConfig   `bson:"threshold,omitempty" json:"threshold,omitempty"`

	Targeting Targeting `bson:"targeting" json:"targeting"`
	StartsAt  time.Time `bson:"starts_at" json:"starts_at"`
	EndsAt    time.Time `bson:"ends_at" json:"ends_at"`
	IsActive  bool      `bson:"is_active" json:"is_active"`
}

// ActiveAt reports whether the promotion is switched on and inside its
// activity window.
func (p *Promotion) ActiveAt(now time.Time) bool {
	return p.IsActive && !now.Before(p.StartsAt) && !now.After(p.EndsAt)
}

// Validate checks that the config matching the promotion type is
// present and usable. A promotion failing validation is skipped by the
// evaluation engine rather than aborting pricing.
func (p *Promotion) Validate() error {
	if p.Priority < 1 || p.Priority > 100 {
		return fmt.Errorf("promotion %s: priority %d outside [1,100]", p.ID, p.Priority)
	}
	switch p.Type {
	case PromotionPercentage:
		if p.Percentage == nil {
			return fmt.Errorf("promotion %s: missing percentage config", p.ID)
		}
		if p.Percentage.Percent.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("promotion %s: percent must be positive", p.ID)
		}
	case PromotionFixedAmount:
		if p.Fixed == nil {
			return fmt.Errorf("promotion %s: missing fixed_amount config", p.ID)
		}
		if p.Fixed.Amount.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("promotion %s: amount must be positive", p.ID)
		}
	case PromotionBundle:
		if p.Bundle == nil {
			return fmt.Errorf("promotion %s: missing bundle config", p.ID)
		}
		if p.Bundle.Quantity < 2 {
			return fmt.Errorf("promotion %s: bundle quantity must be at least 2", p.ID)
		}
	case PromotionBOGO:
		if p.BOGO == nil {
			return fmt.Errorf("promotion %s: missing bogo config", p.ID)
		}
		if p.BOGO.BuyQuantity < 1 || p.BOGO.GetQuantity < 1 {
			return fmt.Errorf("promotion %s: bogo quantities must be at least 1", p.ID)
		}
	case PromotionTiered:
		if p.Tiered == nil || len(p.Tiered.Tiers) == 0 {
			return fmt.Errorf("promotion %s: tiered config has no tiers", p.ID)
		}
	case PromotionThreshold:
		if p.Threshold == nil {
			return fmt.Errorf("promotion %s: missing threshold config", p.ID)
		}
		if p.Threshold.DiscountType != ThresholdPercentage && p.Threshold.DiscountType != ThresholdFixed {
			return fmt.Errorf("promotion %s: unknown threshold discount type %q", p.ID, p.Threshold.DiscountType)
		}
	default:
		return fmt.Errorf("promotion %s: unknown type %q", p.ID, p.Type)
	}
	return nil
}

type PromoCodeDiscountType string

const (
	PromoCodePercentage  PromoCodeDiscountType = "percentage"
	PromoCodeFixedAmount PromoCodeDiscountType = "fixed_amount"
)

// PromoCode is a customer-entered code layered independently on top of
// automatic promotion results.
type PromoCode struct {
	Code            string                `bson:"_id" json:"code"`
	DiscountType    PromoCodeDiscountType `bson:"discount_type" json:"discount_type"`
	DiscountValue   decimal.Decimal       `bson:"discount_value" json:"discount_value"`
	MinimumPurchase *decimal.Decimal      `bson:"minimum_purchase,omitempty" json:"minimum_purchase,omitempty"`
	UsageLimit      *int                  `bson:"usage_limit,omitempty" json:"usage_limit,omitempty"`
	UsageCount      int                   `bson:"usage_count" json:"usage_count"`
	StartsAt        time.Time             `bson:"starts_at" json:"starts_at"`
	EndsAt          time.Time             `bson:"ends_at" json:"ends_at"`
	IsActive        bool                  `bson:"is_active" json:"is_active"`
}

func (c *PromoCode) ActiveAt(now time.Time) bool {
	return c.IsActive && !now.Before(c.StartsAt) && !now.After(c.EndsAt)
}

// UsesRemaining reports whether the code still has redemptions left.
func (c *PromoCode) UsesRemaining() bool {
	return c.UsageLimit == nil || c.UsageCount < *c.UsageLimit
}
