package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/permitdesk/pkg/api"
	"github.com/platinummonkey/permitdesk/pkg/config"
	"github.com/platinummonkey/permitdesk/pkg/middleware"
	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// jobTimeout bounds one run of a scheduled job
const jobTimeout = 10 * time.Minute

// newScheduler registers the permit expiry and token cleanup jobs. A
// disabled scheduler yields nil.
func newScheduler(cfg config.SchedulerConfig, services *api.Services, logger *observability.Logger) (*cron.Cron, error) {
	if !cfg.Enabled {
		logrus.Info("Scheduler disabled")
		return nil, nil
	}

	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(cfg.ExpirePermit, func() {
		defer observability.RecoverPanic(logger, "permit expiry job")
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		expired, err := services.Permits.ExpireDue(ctx)
		if err != nil {
			logrus.Errorf("Permit expiry failed after %d permits: %v", expired, err)
			return
		}
		logrus.Infof("Permit expiry completed: %d expired", expired)
	})
	if err != nil {
		return nil, err
	}
	logrus.Infof("Permit expiry schedule: %s", cfg.ExpirePermit)

	if cfg.CleanupTokens != "" {
		_, err = c.AddFunc(cfg.CleanupTokens, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()

			removed, err := services.Tokens.CleanupExpired(ctx)
			if err != nil {
				logrus.Errorf("Token cleanup failed: %v", err)
				return
			}
			if removed > 0 {
				logrus.Infof("Removed %d expired API tokens", removed)
			}
		})
		if err != nil {
			return nil, err
		}
		logrus.Infof("Token cleanup schedule: %s", cfg.CleanupTokens)
	}

	return c, nil
}

// newRateLimit builds the rate limit middleware, sharing counters through
// Redis when a client is available
func newRateLimit(ctx context.Context, cfg config.RateLimitConfig, rdb *redis.Client) *middleware.RateLimitMiddleware {
	if !cfg.Enabled {
		return nil
	}
	anonymous := &middleware.RateLimitConfig{RequestsPerWindow: cfg.AnonymousPerMin, WindowDuration: time.Minute, BurstSize: cfg.AnonymousBurst}
	users := &middleware.RateLimitConfig{RequestsPerWindow: cfg.UserPerMin, WindowDuration: time.Minute, BurstSize: cfg.UserBurst}

	var m *middleware.RateLimitMiddleware
	if rdb != nil {
		m = middleware.NewRateLimitMiddleware(
			middleware.NewDistributedRateLimiter(rdb, users, "permitdesk:ratelimit:user"),
			middleware.NewDistributedRateLimiter(rdb, anonymous, "permitdesk:ratelimit:anon"),
		)
		logrus.Info("Rate limiting through Redis")
	} else {
		userLimiter := middleware.NewRateLimiter(users)
		anonLimiter := middleware.NewRateLimiter(anonymous)
		userLimiter.StartCleanup(ctx)
		anonLimiter.StartCleanup(ctx)
		m = middleware.NewRateLimitMiddleware(userLimiter, anonLimiter)
		logrus.Info("Rate limiting in process")
	}
	m.SetFailOpen(cfg.FailOpen)
	return m
}
