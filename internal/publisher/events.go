// Package publisher emits invalidation markers and conversion events
// to Kafka for downstream caches and fulfilment. Delivery is best
// effort on the request path: a broker outage is logged, never
// surfaced to the shopper.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kaanyurdkl/storefront/internal/domain"
)

const (
	invalidationTopic = "storefront-invalidations"
	conversionTopic   = "storefront-orders"
)

type Events struct {
	invalidations *kafka.Writer
	conversions   *kafka.Writer
	timeout       time.Duration
	log           *zap.Logger
}

func NewEvents(log *zap.Logger, brokers ...string) *Events {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
	}
	return &Events{
		invalidations: newWriter(invalidationTopic),
		conversions:   newWriter(conversionTopic),
		timeout:       2 * time.Second,
		log:           log,
	}
}

// Invalidate publishes one message per marker name ("cart",
// "category", "product"). Consumers key their cache invalidation off
// the marker.
func (e *Events) Invalidate(ctx context.Context, markers ...string) {
	msgs := make([]kafka.Message, 0, len(markers))
	now := time.Now()
	for _, marker := range markers {
		payload, err := json.Marshal(map[string]interface{}{
			"marker":     marker,
			"emitted_at": now,
		})
		if err != nil {
			e.log.Error("marshal invalidation marker", zap.Error(err))
			return
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(marker),
			Value: payload,
		})
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.invalidations.WriteMessages(writeCtx, msgs...); err != nil {
		e.log.Warn("failed to publish invalidation markers", zap.Error(err))
	}
}

// CartConverted publishes the archived order so downstream services
// (fulfilment, analytics) observe the terminal transition.
func (e *Events) CartConverted(ctx context.Context, order *domain.Order) {
	payload, err := json.Marshal(order)
	if err != nil {
		e.log.Error("marshal converted order", zap.Error(err))
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	err = e.conversions.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(order.CartID),
		Value: payload,
	})
	if err != nil {
		e.log.Warn("failed to publish conversion event",
			zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (e *Events) Close() error {
	if err := e.invalidations.Close(); err != nil {
		return err
	}
	return e.conversions.Close()
}
