package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter in Redis, keyed per caller.
type RateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (r *RateLimiter) Middleware(keyFunc func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := keyFunc(c)
		if key == "" {
			key = c.IP()
		}
		redisKey := fmt.Sprintf("%s:ratelimit:%s", r.prefix, key)
		count, err := r.client.Incr(c.Context(), redisKey).Result()
		if err != nil {
			// rate limiting is advisory, never block traffic on a redis hiccup
			return c.Next()
		}
		if count == 1 {
			r.client.Expire(c.Context(), redisKey, r.window)
		}
		if count > int64(r.limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false, "message": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
