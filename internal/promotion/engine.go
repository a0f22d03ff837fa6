// Package promotion prices a cart snapshot against the promotion
// catalog. Evaluation is pure: the same lines, catalog and clock
// always produce the same result.
package promotion

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kaanyurdkl/storefront/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Line is one cart line enriched with the catalog metadata targeting
// rules match on. UnitPrice is the authoritative catalog price, never
// the cart's stored snapshot.
type Line struct {
	Key         string          `json:"key"`
	ProductID   string          `json:"product_id"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	Gender      string          `json:"gender"`
}

type LineResult struct {
	Key           string          `json:"key"`
	ProductID     string          `json:"product_id"`
	SKU           string          `json:"sku"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	PromotionID   string          `json:"promotion_id,omitempty"`
	PromotionName string          `json:"promotion_name,omitempty"`
	BaseTotal     decimal.Decimal `json:"base_total"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
}

type Result struct {
	Lines             []LineResult    `json:"lines"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	AutomaticDiscount decimal.Decimal `json:"automatic_discount"`
	PromoCodeDiscount decimal.Decimal `json:"promo_code_discount"`
	AppliedCode       string          `json:"applied_code,omitempty"`
	// GrandTotalBeforeShippingAndTax is subtotal minus both discount
	// layers, floored at zero.
	GrandTotalBeforeShippingAndTax decimal.Decimal `json:"grand_total_before_shipping_and_tax"`
}

// Evaluate applies the promotion catalog to the given lines and layers
// an optional promo code on top. An invalid promo code returns a
// ValidationError; a malformed automatic promotion is logged and
// skipped so pricing always resolves to a usable total.
//
// All intermediate arithmetic stays unrounded; amounts are rounded to
// two decimals only when the result is assembled.
func Evaluate(lines []Line, promos []domain.Promotion, code *domain.PromoCode, now time.Time, log *zap.Logger) (*Result, error) {
	usable := make([]domain.Promotion, 0, len(promos))
	for i := range promos {
		p := promos[i]
		if !p.ActiveAt(now) {
			continue
		}
		if err := p.Validate(); err != nil {
			log.Warn("skipping malformed promotion",
				zap.String("promotion_id", p.ID),
				zap.Error(err))
			continue
		}
		usable = append(usable, p)
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(lineBase(line))
	}

	result := &Result{Lines: make([]LineResult, 0, len(lines))}
	automatic := decimal.Zero

	for _, line := range lines {
		base := lineBase(line)
		lr := LineResult{
			Key:       line.Key,
			ProductID: line.ProductID,
			SKU:       line.SKU,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			BaseTotal: base.Round(2),
		}

		if chosen := selectForLine(line, usable); chosen != nil {
			discount := applyToLine(line, chosen, subtotal)
			if discount.GreaterThan(base) {
				discount = base
			}
			if discount.IsPositive() {
				lr.PromotionID = chosen.ID
				lr.PromotionName = chosen.Name
			}
			automatic = automatic.Add(discount)
			lr.Discount = discount.Round(2)
			lr.Total = base.Sub(discount).Round(2)
		} else {
			lr.Discount = decimal.Zero.Round(2)
			lr.Total = base.Round(2)
		}

		result.Lines = append(result.Lines, lr)
	}

	// Threshold promotions act once at cart level, after the per-line
	// layer.
	if t := selectThreshold(usable, subtotal); t != nil {
		discount := thresholdDiscount(t, subtotal)
		remaining := subtotal.Sub(automatic)
		if discount.GreaterThan(remaining) {
			discount = remaining
		}
		automatic = automatic.Add(discount)
	}

	codeDiscount := decimal.Zero
	if code != nil {
		d, err := applyCode(code, subtotal, automatic, now)
		if err != nil {
			return nil, err
		}
		codeDiscount = d
		result.AppliedCode = code.Code
	}

	grand := subtotal.Sub(automatic).Sub(codeDiscount)
	if grand.IsNegative() {
		grand = decimal.Zero
	}

	result.Subtotal = subtotal.Round(2)
	result.AutomaticDiscount = automatic.Round(2)
	result.PromoCodeDiscount = codeDiscount.Round(2)
	result.GrandTotalBeforeShippingAndTax = grand.Round(2)
	return result, nil
}

func lineBase(line Line) decimal.Decimal {
	return line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
}

// selectForLine picks the single automatic promotion for a line:
// highest priority among eligible candidates, smallest id on a
// priority tie. Exactly one (or none) applies per line.
func selectForLine(line Line, promos []domain.Promotion) *domain.Promotion {
	var best *domain.Promotion
	for i := range promos {
		p := &promos[i]
		if p.Type == domain.PromotionThreshold {
			continue // cart-level, handled separately
		}
		if !matchesTargeting(line, p.Targeting) {
			continue
		}
		if best == nil || p.Priority > best.Priority ||
			(p.Priority == best.Priority && p.ID < best.ID) {
			best = p
		}
	}
	return best
}

func matchesTargeting(line Line, t domain.Targeting) bool {
	if t.Gender != "" && t.Gender != "both" && t.Gender != line.Gender {
		return false
	}
	if len(t.Categories) > 0 || len(t.Subcategories) > 0 {
		if !contains(t.Categories, line.Category) && !contains(t.Subcategories, line.Subcategory) {
			return false
		}
	}
	if len(t.Products) > 0 && !contains(t.Products, line.ProductID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// applyToLine computes the discount a validated promotion takes off a
// line. Gates that do not pass yield a zero discount, not an error.
func applyToLine(line Line, p *domain.Promotion, cartSubtotal decimal.Decimal) decimal.Decimal {
	base := lineBase(line)
	qty := int64(line.Quantity)

	switch p.Type {
	case domain.PromotionPercentage:
		cfg := p.Percentage
		if cfg.MinimumQuantity > 0 && line.Quantity < cfg.MinimumQuantity {
			return decimal.Zero
		}
		discount := base.Mul(cfg.Percent).Div(hundred)
		if cfg.MaximumDiscount != nil && discount.GreaterThan(*cfg.MaximumDiscount) {
			discount = *cfg.MaximumDiscount
		}
		return discount

	case domain.PromotionFixedAmount:
		cfg := p.Fixed
		if cfg.MinimumPurchase != nil && cartSubtotal.LessThan(*cfg.MinimumPurchase) {
			return decimal.Zero
		}
		// Unit price minus the amount, floored at zero per unit.
		perUnit := cfg.Amount
		if perUnit.GreaterThan(line.UnitPrice) {
			perUnit = line.UnitPrice
		}
		return perUnit.Mul(decimal.NewFromInt(qty))

	case domain.PromotionBundle:
		cfg := p.Bundle
		groups := qty / int64(cfg.Quantity)
		if groups == 0 {
			return decimal.Zero
		}
		remainder := qty % int64(cfg.Quantity)
		billed := cfg.BundlePrice.Mul(decimal.NewFromInt(groups)).
			Add(line.UnitPrice.Mul(decimal.NewFromInt(remainder)))
		discount := base.Sub(billed)
		if discount.IsNegative() {
			return decimal.Zero
		}
		return discount

	case domain.PromotionBOGO:
		cfg := p.BOGO
		groupSize := int64(cfg.BuyQuantity + cfg.GetQuantity)
		groups := qty / groupSize
		if groups == 0 {
			return decimal.Zero
		}
		discountedUnits := groups * int64(cfg.GetQuantity)
		return line.UnitPrice.
			Mul(decimal.NewFromInt(discountedUnits)).
			Mul(cfg.GetDiscountPercent).
			Div(hundred)

	case domain.PromotionTiered:
		tier := bestTier(p.Tiered.Tiers, line.Quantity)
		if tier == nil {
			return decimal.Zero
		}
		return base.Mul(tier.Percent).Div(hundred)
	}

	return decimal.Zero
}

// bestTier returns the tier with the highest minimum quantity the line
// still satisfies.
func bestTier(tiers []domain.Tier, qty int) *domain.Tier {
	var best *domain.Tier
	for i := range tiers {
		t := &tiers[i]
		if qty < t.MinimumQuantity {
			continue
		}
		if best == nil || t.MinimumQuantity > best.MinimumQuantity {
			best = t
		}
	}
	return best
}

func selectThreshold(promos []domain.Promotion, subtotal decimal.Decimal) *domain.Promotion {
	var best *domain.Promotion
	for i := range promos {
		p := &promos[i]
		if p.Type != domain.PromotionThreshold {
			continue
		}
		if subtotal.LessThan(p.Threshold.MinimumSpend) {
			continue
		}
		if best == nil || p.Priority > best.Priority ||
			(p.Priority == best.Priority && p.ID < best.ID) {
			best = p
		}
	}
	return best
}

func thresholdDiscount(p *domain.Promotion, subtotal decimal.Decimal) decimal.Decimal {
	cfg := p.Threshold
	if cfg.DiscountType == domain.ThresholdPercentage {
		return subtotal.Mul(cfg.Value).Div(hundred)
	}
	return cfg.Value
}

// applyCode validates the customer-entered code and returns its
// discount. The code layers on whatever the automatic promotions left:
// a percentage code discounts the already-discounted total.
func applyCode(code *domain.PromoCode, subtotal, automatic decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !code.ActiveAt(now) {
		return decimal.Zero, domain.NewValidationError("promo_code", "code is not active")
	}
	if !code.UsesRemaining() {
		return decimal.Zero, domain.NewValidationError("promo_code", "code usage limit reached")
	}
	if code.MinimumPurchase != nil && subtotal.LessThan(*code.MinimumPurchase) {
		return decimal.Zero, domain.NewValidationError("promo_code", "cart subtotal is below the code's minimum purchase")
	}

	remaining := subtotal.Sub(automatic)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	var discount decimal.Decimal
	if code.DiscountType == domain.PromoCodePercentage {
		discount = remaining.Mul(code.DiscountValue).Div(hundred)
	} else {
		discount = code.DiscountValue
	}
	if discount.GreaterThan(remaining) {
		discount = remaining
	}
	return discount, nil
}
