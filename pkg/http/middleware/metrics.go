package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ArbRelay/pkg/logger"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        *prometheus.GaugeVec
	httpResponseSize    *prometheus.HistogramVec

	regOnce sync.Once
)

func registerHTTPMetrics() {
	regOnce.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbrelay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"})

		httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbrelay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route", "method", "class"})

		httpInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbrelay_http_in_flight_requests",
			Help: "Current number of in-flight HTTP requests",
		}, []string{"route"})

		httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbrelay_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(200, 4, 8),
		}, []string{"route", "method"})
	})
}

// Metrics records request metrics labelled by the route template (c.Path()), never the raw URL.
// 5xx responses are logged as errors and requests slower than slowThreshold as warnings.
func Metrics(log *logger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	registerHTTPMetrics()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			httpInFlight.WithLabelValues(route).Inc()
			defer httpInFlight.WithLabelValues(route).Dec()
			start := time.Now()

			err := next(c)

			code := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					code = he.Code
				} else if code < http.StatusBadRequest {
					code = http.StatusInternalServerError
				}
			}
			dur := time.Since(start)
			httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
			httpRequestDuration.WithLabelValues(route, method, statusClass(code)).Observe(dur.Seconds())
			httpResponseSize.WithLabelValues(route, method).Observe(float64(c.Response().Size))

			if log == nil {
				return err
			}
			fields := []logger.Field{
				logger.String("route", route),
				logger.String("method", method),
				logger.Int("status", code),
				logger.Duration("duration_ms", dur),
			}
			switch {
			case code >= http.StatusInternalServerError:
				log.Error("http request failed", fields...)
			case slowThreshold > 0 && dur >= slowThreshold:
				log.Warn("http request slow", fields...)
			}
			return err
		}
	}
}

func statusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
