package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultChannel = keyPrefix + "signal"

// Bus fans deliveries out to every relay instance over Redis pub/sub.
type Bus struct {
	rdb     *redis.Client
	channel string
}

func NewBus(rdb *redis.Client, channel string) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{rdb: rdb, channel: channel}
}

func (b *Bus) Publish(ctx context.Context, d port.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	return nil
}

// Subscribe blocks, calling fn for each delivery, until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, fn func(port.Delivery)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	log.Info().Str("channel", b.channel).Msg("Subscribed to signal bus")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var d port.Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				log.Warn().Err(err).Msg("Dropping malformed delivery")
				continue
			}
			fn(d)
		}
	}
}

func (b *Bus) Close() error {
	return nil
}
