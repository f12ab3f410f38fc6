// Package events publishes domain events to logs and Redis.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mikey/phishguard/internal/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogPublisher writes every event as a structured log line
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements core.EventPublisher
func (p *LogPublisher) Publish(_ context.Context, event core.Event) error {
	fields := make([]zap.Field, 0, len(event.Data)+2)
	fields = append(fields, zap.String("event", event.Type), zap.Time("occurred_at", event.OccurredAt))
	for k, v := range event.Data {
		fields = append(fields, zap.Any(k, v))
	}
	p.logger.Info("Event", fields...)
	return nil
}

// RedisPublisher pushes JSON encoded events onto a Redis list
type RedisPublisher struct {
	client redis.UniversalClient
	queue  string
	maxLen int64
}

// NewRedisPublisher creates a publisher for the given list. maxLen > 0
// trims the list so an absent consumer cannot grow it without bound.
func NewRedisPublisher(client redis.UniversalClient, queue string, maxLen int64) *RedisPublisher {
	if queue == "" {
		queue = "phishguard:events"
	}
	return &RedisPublisher{client: client, queue: queue, maxLen: maxLen}
}

// Publish implements core.EventPublisher
func (p *RedisPublisher) Publish(ctx context.Context, event core.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := p.client.Pipeline()
	pipe.LPush(ctx, p.queue, body)
	if p.maxLen > 0 {
		pipe.LTrim(ctx, p.queue, 0, p.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Type, p.queue, err)
	}
	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Fanout delivers each event to every publisher and joins their errors
type Fanout []core.EventPublisher

// Publish implements core.EventPublisher
func (f Fanout) Publish(ctx context.Context, event core.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
