package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kaanyurdkl/storefront/internal/domain"
)

type mongoPromotionRepository struct {
	promotions *mongo.Collection
	codes      *mongo.Collection
}

func NewMongoPromotionRepository(db *mongo.Database) PromotionRepository {
	return &mongoPromotionRepository{
		promotions: db.Collection("promotions"),
		codes:      db.Collection("promo_codes"),
	}
}

func (m *mongoPromotionRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	filter := bson.M{
		"is_active": true,
		"starts_at": bson.M{"$lte": now},
		"ends_at":   bson.M{"$gte": now},
	}

	cursor, err := m.promotions.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list active promotions: %w", err)
	}
	defer cursor.Close(ctx)

	var promos []domain.Promotion
	if err := cursor.All(ctx, &promos); err != nil {
		return nil, fmt.Errorf("failed to decode promotions: %w", err)
	}
	return promos, nil
}

func (m *mongoPromotionRepository) GetPromoCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	var pc domain.PromoCode

	err := m.codes.FindOne(ctx, bson.M{"_id": code}).Decode(&pc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPromoCodeNotFound
		}
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return &pc, nil
}

// CreatePromoCode relies on the _id uniqueness constraint; a duplicate
// surfaces as a typed error instead of a check-then-write race.
func (m *mongoPromotionRepository) CreatePromoCode(ctx context.Context, code *domain.PromoCode) error {
	_, err := m.codes.InsertOne(ctx, code)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to create promo code: %w", err)
	}
	return nil
}

// RedeemPromoCode atomically bumps usage_count, guarded so the counter
// can never pass the usage limit under concurrent redemptions.
func (m *mongoPromotionRepository) RedeemPromoCode(ctx context.Context, code string) error {
	filter := bson.M{
		"_id": code,
		"$or": []bson.M{
			{"usage_limit": bson.M{"$exists": false}},
			{"$expr": bson.M{"$lt": []string{"$usage_count", "$usage_limit"}}},
		},
	}
	update := bson.M{"$inc": bson.M{"usage_count": 1}}

	result, err := m.codes.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to redeem promo code: %w", err)
	}
	if result.MatchedCount == 0 {
		// Distinguish a missing code from an exhausted one.
		if _, errGet := m.GetPromoCode(ctx, code); errors.Is(errGet, ErrPromoCodeNotFound) {
			return ErrPromoCodeNotFound
		}
		return ErrCodeExhausted
	}
	return nil
}
