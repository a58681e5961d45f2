// Package middleware provides HTTP rate limiting for the permitdesk API.
//
// # Overview
//
// RateLimitMiddleware keys authenticated callers by user ID and anonymous
// callers by client IP, so the public permit lookup cannot be scraped
// while clerks keep a generous budget. It must run after auth.Authenticator.
//
// Two Limiter implementations are provided:
//
//	// In-process token bucket, for single replicas and tests
//	limiter := middleware.NewRateLimiter(middleware.AnonymousRateLimitConfig())
//
//	// Fixed window counters shared through Redis
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "permitdesk:ratelimit:anon")
//
//	router.Use(middleware.NewRateLimitMiddleware(userLimiter, anonLimiter).Handler)
//
// Responses carry X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. Denied requests get 429 with Retry-After. When the
// Redis backend fails the request is let through unless SetFailOpen(false)
// was called.
package middleware
