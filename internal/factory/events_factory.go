package factory

import (
	"context"
	"fmt"

	"github.com/mikey/phishguard/internal/adapters/events"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventsFactory creates the event publisher
type EventsFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewEventsFactory creates a new events factory
func NewEventsFactory(cfg *config.Config, logger *zap.Logger) *EventsFactory {
	return &EventsFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreatePublisher creates a publisher fanning out to the enabled sinks. The
// returned close function releases the Redis connection, if any.
func (f *EventsFactory) CreatePublisher(ctx context.Context) (core.EventPublisher, func() error, error) {
	eventsCfg := f.cfg.GetEvents()
	var fanout events.Fanout
	closeFn := func() error { return nil }

	if eventsCfg.Log {
		fanout = append(fanout, events.NewLogPublisher(f.logger.Named("events")))
	}
	if eventsCfg.RedisEnabled {
		client := redis.NewClient(&redis.Options{
			Addr:     eventsCfg.Redis.Address,
			Password: eventsCfg.Redis.Password,
			DB:       eventsCfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to event Redis: %w", err)
		}
		pub := events.NewRedisPublisher(client, eventsCfg.Queue, eventsCfg.MaxLen)
		fanout = append(fanout, pub)
		closeFn = pub.Close
		f.logger.Info("Publishing events to Redis",
			zap.String("address", eventsCfg.Redis.Address),
			zap.String("queue", eventsCfg.Queue))
	}

	if len(fanout) == 0 {
		return nil, closeFn, nil
	}
	return fanout, closeFn, nil
}
