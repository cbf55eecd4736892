package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

const tenantSchemaPrefix = "tenant_"

// TenantSchema returns the schema name that holds a tenant's claim data.
func TenantSchema(tenantID string) string {
	return tenantSchemaPrefix + tenantID
}

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidTenantID reports whether id is usable as a schema suffix.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// tenantResolver pins each request to a connection whose search_path is the
// tenant schema. Schemas that were seen once are remembered; tenants are never
// dropped while the server runs.
type tenantResolver struct {
	defaultTenant string
	known         sync.Map
	exists        func(ctx context.Context, schema string) (bool, error)
}

func (r *tenantResolver) check(ctx context.Context, tenantID string) error {
	schema := TenantSchema(tenantID)
	if _, ok := r.known.Load(schema); ok {
		return nil
	}
	ok, err := r.exists(ctx, schema)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown tenant")
	}
	r.known.Store(schema, struct{}{})
	return nil
}

// resolve returns the tenant for the request. A tenant carried in the token
// wins; a conflicting X-Tenant-ID header is rejected rather than ignored.
func (r *tenantResolver) resolve(c echo.Context) (string, error) {
	header := strings.TrimSpace(c.Request().Header.Get("X-Tenant-ID"))
	tenantID := r.defaultTenant
	if tid, _ := c.Get("jwt_tenant_id").(string); tid != "" {
		if header != "" && header != tid {
			return "", echo.NewHTTPError(http.StatusForbidden, "tenant header does not match token")
		}
		tenantID = tid
	} else if header != "" {
		tenantID = header
	}

	if !ValidTenantID(tenantID) {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
	}
	return tenantID, nil
}

// TenantMiddleware resolves the request tenant and pins it to a tenant-scoped
// connection. Requests for which skip returns true pass through untouched.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string, skip func(echo.Context) bool) echo.MiddlewareFunc {
	r := &tenantResolver{
		defaultTenant: defaultTenant,
		exists: func(ctx context.Context, schema string) (bool, error) {
			return schemaExists(ctx, pool, schema)
		},
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}
			tenantID, err := r.resolve(c)
			if err != nil {
				return err
			}

			ctx := c.Request().Context()
			if err := r.check(ctx, tenantID); err != nil {
				return err
			}

			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()
			// Pooled connections go back with their startup search_path.
			defer conn.Exec(context.Background(), "RESET search_path")

			schema := pgx.Identifier{TenantSchema(tenantID)}.Sanitize()
			if _, err := conn.Exec(ctx, "SET search_path TO "+schema+", public"); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			ctx = context.WithValue(ctx, TenantIDKey, tenantID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

func schemaExists(ctx context.Context, pool *pgxpool.Pool, schema string) (bool, error) {
	var ok bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		schema).Scan(&ok)
	return ok, err
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema creates a new schema for a tenant and, when migrations is
// non-nil, applies them to it.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrations fs.FS) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %q", tenantID)
	}

	schema := TenantSchema(tenantID)
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrations != nil {
		if _, err := NewMigrator(pool, migrations).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}

// ListTenants returns the ids of all provisioned tenants, sorted.
func ListTenants(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT schema_name FROM information_schema.schemata
		 WHERE starts_with(schema_name, $1) ORDER BY schema_name`, tenantSchemaPrefix)
	if err != nil {
		return nil, fmt.Errorf("list tenant schemas: %w", err)
	}
	schemas, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tenant schemas: %w", err)
	}

	out := make([]string, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, strings.TrimPrefix(s, tenantSchemaPrefix))
	}
	return out, nil
}
