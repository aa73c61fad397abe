package middlewares

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/utils"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per caller in fixed windows. Counters live in
// redis when a client is given and in process memory otherwise.
type RateLimiter struct {
	client *redis.Client
	local  *cache.Cache
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		local:  cache.New(window, 2*window),
		limit:  limit,
		window: window,
	}
}

// key prefers the authenticated user so callers behind one proxy don't share a budget.
func rateLimitKey(c *gin.Context) string {
	if id, ok := utils.GetUserIdFromContext(c.Request.Context()); ok {
		return "ratelimit:user:" + strconv.Itoa(id)
	}
	return "ratelimit:ip:" + c.ClientIP()
}

func (rl *RateLimiter) increment(c *gin.Context, key string) (int64, error) {
	if rl.client == nil {
		if err := rl.local.Add(key, int64(1), rl.window); err == nil {
			return 1, nil
		}
		return rl.local.IncrementInt64(key, 1)
	}
	ctx := c.Request.Context()
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := rateLimitKey(c)
	count, err := rl.increment(c, key)
	if err != nil {
		// Fail open when the counter store is unavailable.
		config.LogError(config.GetLogger(), "RateLimiter", "RateLimitMiddleware", "increment", key, err)
		c.Next()
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"code":    "rate_limit.exceeded",
			"message": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}
