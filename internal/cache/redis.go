package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/kaanyurdkl/storefront/internal/domain"
	"github.com/kaanyurdkl/storefront/pkg/circuitbreaker"
)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		breaker: circuitbreaker.New[[]byte]("cart-cache"),
		baseTTL: 15 * time.Minute,
	}
}

// RedisCache keeps cart snapshots behind a circuit breaker: when Redis
// is down the breaker opens and every lookup falls through to the
// repository instead of waiting on a dead connection.
type RedisCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	baseTTL time.Duration
}

func (r *RedisCache) Get(ctx context.Context, owner domain.Identity) (*domain.Cart, error) {
	key := cacheKey(owner)

	data, err := r.breaker.Execute(func() ([]byte, error) {
		b, errGet := r.client.Get(ctx, key).Bytes()
		if errors.Is(errGet, redis.Nil) {
			return nil, nil // a miss is not a breaker failure
		}
		return b, errGet
	})
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	if data == nil {
		return nil, ErrCacheMiss
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

func (r *RedisCache) Set(ctx context.Context, owner domain.Identity, cart *domain.Cart) error {
	key := cacheKey(owner)
	jsonCart, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	// Jitter spreads expiries so a burst of writes does not expire as
	// one stampede.
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter

	_, err = r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Set(ctx, key, jsonCart, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, owner domain.Identity) error {
	key := cacheKey(owner)
	_, err := r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Del(ctx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(owner domain.Identity) string {
	return "cart:" + owner.String()
}
