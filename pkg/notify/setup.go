package notify

import (
	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/permitdesk/pkg/config"
	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// NewFromConfig builds the dispatcher the server runs with. rdb may be nil
// when Redis is disabled. A disabled configuration yields a dispatcher
// without sinks.
func NewFromConfig(cfg config.NotificationsConfig, rdb *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithField("component", "notify")

	var sinks []Sink
	if cfg.Enabled {
		if rdb != nil && cfg.RedisChannel != "" {
			sinks = append(sinks, NewRedisPublisher(rdb, cfg.RedisChannel, cfg.BacklogKey, cfg.BacklogLength))
		}
		if cfg.WebhookURL != "" {
			retry := NewRetryPolicy(RetryConfig{
				MaxAttempts:  cfg.RetryAttempts,
				InitialDelay: cfg.RetryDelay,
			})
			sinks = append(sinks, NewWebhookSender(cfg.WebhookURL, cfg.WebhookSecret, retry))
		}
		if len(sinks) == 0 {
			sinks = append(sinks, NewLogSink(logger))
		}
	}

	return NewDispatcher(cfg.Workers, sinks, WithLogger(logger), WithMetrics(metrics))
}

// Sinks returns the names of the configured sinks
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}
