package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/platform/auth"
)

// Logger writes one line per request. Health probes are logged at debug so
// they do not drown out ingest and reconciliation traffic.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			// The error handler has not written the response yet.
			status := c.Response().Status
			var he *echo.HTTPError
			switch {
			case err == nil:
			case errors.As(err, &he):
				status = he.Code
			default:
				status = http.StatusInternalServerError
			}

			req := c.Request()
			var evt *zerolog.Event
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn().Err(err)
			case strings.HasPrefix(req.URL.Path, "/health"):
				evt = logger.Debug()
			default:
				evt = logger.Info()
			}

			for _, key := range []string{"request_id", "tenant_id", "batch_id"} {
				if v, ok := c.Get(key).(string); ok && v != "" {
					evt = evt.Str(key, v)
				}
			}
			if uid := auth.UserIDFromContext(req.Context()); uid != "" {
				evt = evt.Str("user_id", uid)
			}
			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int64("bytes_in", req.ContentLength).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
