package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/model"
)

const redisChannelPrefix = "unipool:events:"

// RedisPublisher publishes events to Redis so every instance's hub can
// deliver them to its own subscribers.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher on an existing client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt model.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("realtime: encode event: %w", err)
	}
	if err := p.client.Publish(ctx, redisChannelPrefix+evt.Channel(), payload).Err(); err != nil {
		return fmt.Errorf("realtime: redis publish %s: %w", evt.Channel(), err)
	}
	return nil
}

// RedisRelay feeds events published by any instance into the local hub.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	log    *zap.Logger
}

// NewRedisRelay creates a relay into hub.
func NewRedisRelay(client *redis.Client, hub *Hub, log *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, hub: hub, log: log}
}

// Run relays until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) {
	sub := r.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer sub.Close()

	r.log.Info("realtime relay subscribed", zap.String("pattern", redisChannelPrefix+"*"))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				r.log.Warn("realtime relay channel closed")
				return
			}
			r.hub.Deliver(strings.TrimPrefix(msg.Channel, redisChannelPrefix), []byte(msg.Payload))
		}
	}
}
