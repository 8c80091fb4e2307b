package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Allower is a keyed token bucket.
type Allower interface {
	Allow(key string, capacity, refillPerSec float64) bool
}

type RateLimitConfig struct {
	Burst     float64
	PerSecond float64
	// KeyFunc picks the bucket; RealIP when nil.
	KeyFunc func(c echo.Context) string
}

// RateLimit answers 429 once the caller's bucket is empty. A zero Burst disables it.
func RateLimit(l Allower, cfg RateLimitConfig) echo.MiddlewareFunc {
	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = func(c echo.Context) string { return c.RealIP() }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if l == nil || cfg.Burst <= 0 {
			return next
		}
		return func(c echo.Context) error {
			if l.Allow(keyOf(c), cfg.Burst, cfg.PerSecond) {
				return next(c)
			}
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"status":  http.StatusTooManyRequests,
				"message": http.StatusText(http.StatusTooManyRequests),
			})
		}
	}
}
