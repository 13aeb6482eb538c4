package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisRelay mirrors bus events across processes through a redis Pub/Sub channel,
// the server-side counterpart of storage events fired by another browser tab.
type RedisRelay struct {
	bus     *Bus
	rdb     *redis.Client
	channel string
}

// NewRedisRelay creates a relay for bus on channel.
func NewRedisRelay(bus *Bus, rdb *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{bus: bus, rdb: rdb, channel: channel}
}

// Run forwards local events out and remote events in until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	if r.rdb == nil {
		log.Println("Redis client not configured, change relay disabled.")
		return nil
	}

	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for confirmation that subscription is created before publishing anything.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to receive confirmation from Redis Pub/Sub subscription: %w", err)
	}
	log.Println("Subscribed to Redis channel for change events:", r.channel)

	local := r.bus.Subscribe()
	defer local.Close()
	remote := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			log.Println("Change relay stopped.")
			return nil
		case ev, ok := <-local.C:
			if !ok {
				return nil
			}
			if ev.Origin != r.bus.ID() {
				continue // arrived from another process; already relayed there
			}
			r.forward(ctx, ev)
		case msg, ok := <-remote:
			if !ok {
				return fmt.Errorf("redis channel %s closed", r.channel)
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("Warning: ignoring malformed change event on %s: %v", r.channel, err)
				continue
			}
			if ev.Origin == r.bus.ID() {
				continue
			}
			r.bus.Publish(ctx, ev)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Warning: failed to encode %s event for relay: %v", ev.Type, err)
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		log.Printf("Warning: failed to publish %s event to %s: %v", ev.Type, r.channel, err)
	}
}
