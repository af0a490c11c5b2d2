package streams

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel abort requests travel on.
const DefaultChannel = "chatrelay:stream-abort"

// RedisBroadcaster publishes abort requests over Redis pub/sub.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

// NewRedisClient parses url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroadcaster{client: client, channel: channel}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, streamID string) error {
	return b.client.Publish(ctx, b.channel, streamID).Err()
}

// Subscribe blocks, calling handle for each published id, until ctx is done.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, handle func(streamID string)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so publishes are not missed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle(msg.Payload)
		}
	}
}
