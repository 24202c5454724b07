package redis

import (
	"context"
	"encoding/json"

	"vehicle-auction/internal/domain"

	"github.com/go-redis/redis/v8"
)

const eventChannel = "lot_events"

// EventPublisher implements the engine's notification sink over Redis
// pub/sub. Delivery is fire-and-forget; subscribers missing an event catch up
// from the lot row.
type EventPublisher struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisher {
	return &EventPublisher{client: client}
}

func (p *EventPublisher) Emit(ctx context.Context, event *domain.LotEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.client.Publish(ctx, eventChannel, payload).Err()
}
