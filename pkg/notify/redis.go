package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher publishes events on a channel for live subscribers and
// keeps the newest ones in a capped list for clients that were offline
type RedisPublisher struct {
	client     *redis.Client
	channel    string
	backlogKey string
	backlogLen int64
}

// NewRedisPublisher creates a publisher. A backlogKey of "" or a
// backlogLen <= 0 disables the backlog.
func NewRedisPublisher(client *redis.Client, channel, backlogKey string, backlogLen int64) *RedisPublisher {
	return &RedisPublisher{
		client:     client,
		channel:    channel,
		backlogKey: backlogKey,
		backlogLen: backlogLen,
	}
}

// Name implements Sink
func (p *RedisPublisher) Name() string { return "redis" }

// Deliver implements Sink
func (p *RedisPublisher) Deliver(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		if p.backlogKey != "" && p.backlogLen > 0 {
			pipe.LPush(ctx, p.backlogKey, payload)
			pipe.LTrim(ctx, p.backlogKey, 0, p.backlogLen-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	return nil
}

// Backlog returns up to n of the newest events, newest first
func (p *RedisPublisher) Backlog(ctx context.Context, n int64) ([]Event, error) {
	if p.backlogKey == "" || n <= 0 {
		return nil, nil
	}
	raw, err := p.client.LRange(ctx, p.backlogKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notification backlog: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var evt Event
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			return nil, fmt.Errorf("failed to decode backlog entry: %w", err)
		}
		events = append(events, evt)
	}
	return events, nil
}
