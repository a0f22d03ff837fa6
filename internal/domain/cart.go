package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusAbandoned CartStatus = "abandoned"
	CartStatusConverted CartStatus = "converted"
)

// Identity addresses a cart owner: exactly one of UserID or GuestToken
// is set.
type Identity struct {
	UserID     string
	GuestToken string
}

func UserIdentity(userID string) Identity {
	return Identity{UserID: userID}
}

func GuestIdentity(token string) Identity {
	return Identity{GuestToken: token}
}

func (i Identity) IsUser() bool {
	return i.UserID != ""
}

func (i Identity) IsZero() bool {
	return i.UserID == "" && i.GuestToken == ""
}

// String returns the cache/log key for the identity.
func (i Identity) String() string {
	if i.IsUser() {
		return "user:" + i.UserID
	}
	return "guest:" + i.GuestToken
}

type Cart struct {
	ID         string        `bson:"_id,omitempty" json:"id"`
	UserID     string        `bson:"user_id,omitempty" json:"user_id,omitempty"`
	GuestToken string        `bson:"guest_token,omitempty" json:"-"`
	Status     CartStatus    `bson:"status" json:"status"`
	ExpiresAt  *time.Time    `bson:"expires_at,omitempty" json:"expires_at,omitempty"` // guest carts only
	Items      []CartItem    `bson:"items" json:"items"`
	Checkout   CheckoutState `bson:"checkout" json:"checkout"`
	CreatedAt  time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `bson:"updated_at" json:"updated_at"`
}

type CartItem struct {
	// Key is a server-generated unique id for the array element, so
	// concurrent pushes never collide on a positional index.
	Key       string          `bson:"key" json:"key"`
	ProductID string          `bson:"product_id" json:"product_id"`
	SKU       string          `bson:"sku" json:"sku"`
	Quantity  int             `bson:"quantity" json:"quantity"`
	// PriceSnapshot is informational; billing always recomputes from
	// the catalog via the promotion engine.
	PriceSnapshot decimal.Decimal `bson:"price_snapshot" json:"price_snapshot"`
	AddedAt       time.Time       `bson:"added_at" json:"added_at"`
}

// Owner returns the identity the cart belongs to.
func (c *Cart) Owner() Identity {
	if c.UserID != "" {
		return UserIdentity(c.UserID)
	}
	return GuestIdentity(c.GuestToken)
}

// FindItem returns the item with the given variant SKU, or nil.
func (c *Cart) FindItem(sku string) *CartItem {
	for i := range c.Items {
		if c.Items[i].SKU == sku {
			return &c.Items[i]
		}
	}
	return nil
}
