package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

const HeaderRelayKey = "X-Relay-Key"

// APIKey rejects requests whose X-Relay-Key header does not match one of keys.
// An empty key list disables the check.
func APIKey(keys []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(keys) == 0 {
			return next
		}
		return func(c echo.Context) error {
			got := []byte(c.Request().Header.Get(HeaderRelayKey))
			for _, k := range keys {
				if subtle.ConstantTimeCompare(got, []byte(k)) == 1 {
					return next(c)
				}
			}
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"status":  http.StatusUnauthorized,
				"message": "missing or invalid " + HeaderRelayKey,
			})
		}
	}
}
