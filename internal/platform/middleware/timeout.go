package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Long-running POST endpoints. Each runs its work inside one transaction.
const (
	VerificationRunPath = "/api/v1/verification/runs"
	PayerRollupPath     = "/api/v1/payer-performance/rollup"
)

// TimeoutConfig bounds request contexts. Long applies to POSTs on the paths
// listed in LongPaths.
type TimeoutConfig struct {
	Default   time.Duration
	Long      time.Duration
	LongPaths []string
}

// DefaultTimeoutConfig gives batch ingest, verification runs and the payer
// rollup the long budget.
func DefaultTimeoutConfig(d, long time.Duration) TimeoutConfig {
	return TimeoutConfig{
		Default:   d,
		Long:      long,
		LongPaths: []string{IngestPath, VerificationRunPath, PayerRollupPath},
	}
}

func (cfg TimeoutConfig) budget(r *http.Request) time.Duration {
	if r.Method != http.MethodPost {
		return cfg.Default
	}
	path := strings.TrimRight(r.URL.Path, "/")
	for _, p := range cfg.LongPaths {
		if path == p {
			return cfg.Long
		}
	}
	return cfg.Default
}

// RequestTimeout bounds each request's context and maps an expired deadline to
// 504 when nothing has been written yet.
func RequestTimeout(cfg TimeoutConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.budget(c.Request()))
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request processing exceeded the allowed time limit")
			}
			return err
		}
	}
}
