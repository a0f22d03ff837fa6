package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kaanyurdkl/storefront/internal/domain"
)

type mongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) CartRepository {
	return &mongoCartRepository{
		collection: db.Collection("carts"),
	}
}

func ownerFilter(owner domain.Identity, now time.Time) bson.M {
	if owner.IsUser() {
		return bson.M{
			"user_id": owner.UserID,
			"status":  domain.CartStatusActive,
		}
	}
	// A guest cart past its expiry is treated as abandoned; it never
	// matches an active lookup again.
	return bson.M{
		"guest_token": owner.GuestToken,
		"status":      domain.CartStatusActive,
		"expires_at":  bson.M{"$gt": now},
	}
}

func (m *mongoCartRepository) FindActive(ctx context.Context, owner domain.Identity) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, ownerFilter(owner, time.Now())).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to find cart: %w", err)
	}

	return &cart, nil
}

func (m *mongoCartRepository) Create(ctx context.Context, cart *domain.Cart) error {
	now := time.Now()
	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	cart.CreatedAt = now
	cart.UpdatedAt = now

	_, err := m.collection.InsertOne(ctx, cart)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrCartExists
		}
		return fmt.Errorf("failed to create cart: %w", err)
	}
	return nil
}

func (m *mongoCartRepository) AddItem(ctx context.Context, cartID string, item domain.CartItem) error {
	now := time.Now()
	if item.Key == "" {
		item.Key = uuid.NewString()
	}
	item.AddedAt = now

	// The $ne guard keeps the push atomic per SKU: when two requests
	// add the same not-yet-present variant, only one matches and the
	// other gets ErrItemExists to retry as a quantity increment.
	filter := bson.M{
		"_id":       cartID,
		"status":    domain.CartStatusActive,
		"items.sku": bson.M{"$ne": item.SKU},
	}
	update := bson.M{
		"$push": bson.M{"items": item},
		"$set":  bson.M{"updated_at": now},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to add item: %w", err)
	}
	if result.MatchedCount == 0 {
		lookupErr := m.collection.FindOne(ctx, bson.M{
			"_id":       cartID,
			"status":    domain.CartStatusActive,
			"items.sku": item.SKU,
		}).Err()
		switch {
		case lookupErr == nil:
			return ErrItemExists
		case errors.Is(lookupErr, mongo.ErrNoDocuments):
			return ErrCartNotFound
		default:
			return fmt.Errorf("failed to add item: %w", lookupErr)
		}
	}
	return nil
}

func (m *mongoCartRepository) AddQuantity(ctx context.Context, cartID, sku string, qty int) error {
	filter := bson.M{
		"_id":       cartID,
		"items.sku": sku,
	}
	update := bson.M{
		"$inc": bson.M{"items.$[elem].quantity": qty},
		"$set": bson.M{"updated_at": time.Now()},
	}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"elem.sku": sku},
		},
	})

	result, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return fmt.Errorf("failed to add quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

// DecrementQuantity is a guarded atomic $inc: the array filter only
// matches lines above quantity 1, so decrementing at 1 modifies
// nothing and is a no-op. Reaching 0 requires RemoveItem.
func (m *mongoCartRepository) DecrementQuantity(ctx context.Context, cartID, sku string) error {
	filter := bson.M{
		"_id":       cartID,
		"items.sku": sku,
	}
	update := bson.M{
		"$inc": bson.M{"items.$[elem].quantity": -1},
		"$set": bson.M{"updated_at": time.Now()},
	}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"elem.sku": sku, "elem.quantity": bson.M{"$gt": 1}},
		},
	})

	result, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return fmt.Errorf("failed to decrement quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *mongoCartRepository) RemoveItem(ctx context.Context, cartID, sku string) error {
	filter := bson.M{"_id": cartID}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"sku": sku}},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	if result.ModifiedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ReplaceItems writes the full item list in one operation; used by the
// merge-on-login flow only.
func (m *mongoCartRepository) ReplaceItems(ctx context.Context, cartID string, items []domain.CartItem) error {
	filter := bson.M{"_id": cartID}
	update := bson.M{
		"$set": bson.M{
			"items":      items,
			"updated_at": time.Now(),
		},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to replace items: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

// AssignToUser converts a guest cart: ownership moves to the user and
// the expiry is cleared. The unique active-cart-per-user index turns a
// concurrent double-assign into a conflict instead of two owners.
func (m *mongoCartRepository) AssignToUser(ctx context.Context, cartID, userID string) error {
	filter := bson.M{
		"_id":     cartID,
		"status":  domain.CartStatusActive,
		"user_id": bson.M{"$exists": false},
	}
	update := bson.M{
		"$set":   bson.M{"user_id": userID, "updated_at": time.Now()},
		"$unset": bson.M{"guest_token": "", "expires_at": ""},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrMergeConflict
		}
		return fmt.Errorf("failed to assign cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoCartRepository) UpdateCheckout(ctx context.Context, cartID string, state domain.CheckoutState) error {
	filter := bson.M{"_id": cartID, "status": domain.CartStatusActive}
	update := bson.M{
		"$set": bson.M{
			"checkout":   state,
			"updated_at": time.Now(),
		},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update checkout state: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoCartRepository) SetStatus(ctx context.Context, cartID string, status domain.CartStatus) error {
	filter := bson.M{"_id": cartID}
	update := bson.M{
		"$set": bson.M{"status": status, "updated_at": time.Now()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to set cart status: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoCartRepository) Delete(ctx context.Context, cartID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"_id": cartID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

// EnsureIndexes creates the indexes the repositories rely on; called
// once at bootstrap.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	carts := &mongoCartRepository{collection: db.Collection("carts")}
	if err := carts.CreateIndexes(ctx); err != nil {
		return err
	}

	_, err := db.Collection("promotions").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "is_active", Value: 1},
			{Key: "starts_at", Value: 1},
			{Key: "ends_at", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create promotion indexes: %w", err)
	}
	return nil
}

// CreateIndexes enforces at most one active cart per identity and lets
// Mongo expire abandoned guest carts.
func (m *mongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"user_id": bson.M{"$exists": true},
					"status":  domain.CartStatusActive,
				}),
		},
		{
			Keys: bson.D{{Key: "guest_token", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"guest_token": bson.M{"$exists": true},
					"status":      domain.CartStatusActive,
				}),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}
	return nil
}
