package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin   = "admin"
	RoleIngest  = "ingest"
	RoleBilling = "billing"
	RoleAuditor = "auditor"
)

// Operation names one action at a service boundary.
type Operation string

const (
	OpIngestBatch          Operation = "ingest.batch"
	OpReadClaims           Operation = "claims.read"
	OpReconcileClaim       Operation = "claims.reconcile"
	OpReadVerification     Operation = "verification.read"
	OpRunVerification      Operation = "verification.run"
	OpReadPayerPerformance Operation = "payer_performance.read"
	OpRunPayerRollup       Operation = "payer_performance.rollup"
)

// operationRoles lists the roles allowed to perform each operation. Admin is
// implicitly allowed everything.
var operationRoles = map[Operation][]string{
	OpIngestBatch:          {RoleIngest},
	OpReadClaims:           {RoleBilling, RoleAuditor},
	OpReconcileClaim:       {},
	OpReadVerification:     {RoleAuditor, RoleBilling},
	OpRunVerification:      {RoleAuditor},
	OpReadPayerPerformance: {RoleBilling},
	OpRunPayerRollup:       {RoleBilling},
}

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Authorize checks the principal in ctx against op.
func Authorize(ctx context.Context, op Operation) error {
	roles := RolesFromContext(ctx)
	if len(roles) == 0 {
		return fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}
	allowed, known := operationRoles[op]
	if !known {
		return fmt.Errorf("unknown operation %s: %w", op, ErrForbidden)
	}
	for _, has := range roles {
		if has == RoleAdmin {
			return nil
		}
		for _, want := range allowed {
			if has == want {
				return nil
			}
		}
	}
	return fmt.Errorf("%s requires one of [%s]: %w", op, strings.Join(append([]string{RoleAdmin}, allowed...), ", "), ErrForbidden)
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == RoleAdmin {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HTTPError maps an Authorize failure onto a 401 or 403. Other errors pass
// through untouched.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return err
}
