package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is a snapshot of the pgx pool.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func poolStats(pool *pgxpool.Pool) PoolStats {
	s := pool.Stat()
	return PoolStats{
		TotalConns:      s.TotalConns(),
		IdleConns:       s.IdleConns(),
		AcquiredConns:   s.AcquiredConns(),
		MaxConns:        s.MaxConns(),
		AcquireCount:    s.AcquireCount(),
		AcquireDuration: s.AcquireDuration().String(),
	}
}

// Checker is a dependency reported alongside the database, e.g. the read cache.
type Checker interface {
	Name() string
	Ping(ctx context.Context) error
}

// HealthReport is the body of /health/db. A failing checker degrades the
// report but only the database itself makes the probe fail.
type HealthReport struct {
	Status       string            `json:"status"`
	Error        string            `json:"error,omitempty"`
	Pool         PoolStats         `json:"pool"`
	Dependencies map[string]string `json:"dependencies"`
}

// checkDeps pings all checkers in parallel.
func checkDeps(ctx context.Context, checkers []Checker) map[string]string {
	out := make(map[string]string, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			state := "ok"
			if err := c.Ping(ctx); err != nil {
				state = "unavailable: " + err.Error()
			}
			mu.Lock()
			out[c.Name()] = state
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return out
}

func report(dbErr error, stats PoolStats, deps map[string]string) (int, HealthReport) {
	r := HealthReport{Status: "healthy", Pool: stats, Dependencies: deps}
	for _, state := range deps {
		if state != "ok" {
			r.Status = "degraded"
		}
	}
	if dbErr != nil {
		r.Status = "unhealthy"
		r.Error = dbErr.Error()
		return http.StatusServiceUnavailable, r
	}
	return http.StatusOK, r
}

// HealthHandler serves the database readiness probe.
func HealthHandler(pool *pgxpool.Pool, checkers ...Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := pool.Ping(ctx)
		code, body := report(err, poolStats(pool), checkDeps(ctx, checkers))
		return c.JSON(code, body)
	}
}

// migrationChecker reports a schema as unavailable while it has pending or
// modified migrations.
type migrationChecker struct {
	migrator *Migrator
	schema   string
}

// MigrationChecker returns a Checker for the migration state of schema.
func MigrationChecker(pool *pgxpool.Pool, migrations fs.FS, schema string) Checker {
	return &migrationChecker{migrator: NewMigrator(pool, migrations), schema: schema}
}

func (m *migrationChecker) Name() string { return "migrations:" + m.schema }

func (m *migrationChecker) Ping(ctx context.Context) error {
	sts, err := m.migrator.Status(ctx, m.schema)
	if err != nil {
		return err
	}
	return migrationProblems(sts)
}

func migrationProblems(sts []MigrationStatus) error {
	var pending, drifted []string
	for _, s := range sts {
		switch {
		case !s.Applied:
			pending = append(pending, s.Name)
		case s.Drifted:
			drifted = append(drifted, s.Name)
		}
	}
	sort.Strings(pending)
	switch {
	case len(drifted) > 0:
		return fmt.Errorf("modified after apply: %v", drifted)
	case len(pending) > 0:
		return fmt.Errorf("%d pending: %v", len(pending), pending)
	}
	return nil
}
