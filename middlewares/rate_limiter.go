package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/utils"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	ginmiddleware "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

// rateLimitKey limits authenticated passengers individually and everyone else
// by client IP.
func rateLimitKey(c *gin.Context) string {
	if caller, err := utils.GetCallerFromContext(c); err == nil {
		return "passenger:" + caller.PassengerID.String()
	}
	return "ip:" + c.ClientIP()
}

// createStore uses Redis so limits hold across instances, and an in-process
// store when Redis is not configured.
func createStore(routeID string, period time.Duration, rdb *redis.Client) (limiter.Store, error) {
	opts := limiter.StoreOptions{
		Prefix:          fmt.Sprintf("rate_limiter:%s", routeID),
		MaxRetry:        3,
		CleanUpInterval: period,
	}
	if rdb == nil {
		return memorystore.NewStoreWithOptions(opts), nil
	}
	store, err := redisstore.NewStoreWithOptions(rdb, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis store for route %s: %w", routeID, err)
	}
	return store, nil
}

// ParseCustomRate accepts "<limit>-<n><unit>" with unit s, m or h, e.g. "10-2m".
func ParseCustomRate(rateStr string) (limiter.Rate, error) {
	parts := strings.Split(rateStr, "-")
	if len(parts) != 2 {
		return limiter.Rate{}, fmt.Errorf("invalid rate format: %s", rateStr)
	}

	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return limiter.Rate{}, fmt.Errorf("invalid limit: %s", parts[0])
	}

	durationStr := parts[1]
	if len(durationStr) < 2 {
		return limiter.Rate{}, fmt.Errorf("unsupported period: %s", durationStr)
	}

	var unit time.Duration
	switch durationStr[len(durationStr)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	default:
		return limiter.Rate{}, fmt.Errorf("unsupported period: %s", durationStr)
	}

	n, err := strconv.Atoi(durationStr[:len(durationStr)-1])
	if err != nil || n <= 0 {
		return limiter.Rate{}, fmt.Errorf("invalid duration: %s", durationStr)
	}

	return limiter.Rate{
		Period: time.Duration(n) * unit,
		Limit:  int64(limit),
	}, nil
}

// NewRateLimiter limits a route to rateStr per passenger. A nil rdb keeps the
// counters in memory.
func NewRateLimiter(rateStr, routeID string, rdb *redis.Client) gin.HandlerFunc {
	rate, err := ParseCustomRate(rateStr)
	if err != nil {
		logger.ErrorLogger.Errorf("Error parsing rate for route %s: %v", routeID, err)
		return func(c *gin.Context) { c.Next() }
	}

	store, err := createStore(routeID, rate.Period, rdb)
	if err != nil {
		logger.ErrorLogger.Errorf("Error creating rate limit store for route %s: %v", routeID, err)
		return func(c *gin.Context) { c.Next() }
	}

	return ginmiddleware.NewMiddleware(limiter.New(store, rate), ginmiddleware.WithKeyGetter(rateLimitKey))
}

// CombinedRateLimiter applies several windows to the same route, e.g. a burst
// limit and an hourly limit. Every window is counted on each request.
func CombinedRateLimiter(routeID string, rdb *redis.Client, rateStrings ...string) gin.HandlerFunc {
	limiters := make([]*limiter.Limiter, 0, len(rateStrings))
	for i, rateStr := range rateStrings {
		rate, err := ParseCustomRate(rateStr)
		if err != nil {
			logger.ErrorLogger.Errorf("Error parsing rate %d for route %s: %v", i, routeID, err)
			continue
		}
		store, err := createStore(fmt.Sprintf("%s_%d", routeID, i), rate.Period, rdb)
		if err != nil {
			logger.ErrorLogger.Errorf("Error creating rate limit store for route %s: %v", routeID, err)
			continue
		}
		limiters = append(limiters, limiter.New(store, rate))
	}

	return func(c *gin.Context) {
		key := rateLimitKey(c)
		for _, l := range limiters {
			lc, err := l.Get(c.Request.Context(), key)
			if err != nil {
				// Fail open.
				logger.ErrorLogger.Errorf("Rate limit lookup failed for route %s: %v", routeID, err)
				continue
			}
			if lc.Reached {
				c.Header("X-RateLimit-Limit", strconv.FormatInt(lc.Limit, 10))
				c.Header("X-RateLimit-Remaining", strconv.FormatInt(lc.Remaining, 10))
				c.Header("X-RateLimit-Reset", strconv.FormatInt(lc.Reset, 10))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": "rate_limited", "error": "Limit exceeded"})
				return
			}
		}
		c.Next()
	}
}
