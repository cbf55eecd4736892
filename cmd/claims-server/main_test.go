package main

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/config"
	"github.com/ehr/claims/internal/platform/cache"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                     "test",
		DefaultTenant:           "default",
		VerificationSampleLimit: 10,
		CacheTTL:                time.Minute,
		RollupInterval:          time.Hour,
	}
}

func TestRegisterRoutes(t *testing.T) {
	a := newApp(nil, cache.Disabled(), testConfig(), zerolog.Nop())
	e := echo.New()
	a.registerRoutes(e.Group("/api/v1"))

	have := make(map[string]bool)
	for _, r := range e.Routes() {
		have[r.Method+" "+r.Path] = true
	}
	want := []string{
		"POST /api/v1/ingest/batches",
		"GET /api/v1/claims/:claim_id/events",
		"GET /api/v1/claims/:claim_id/payment",
		"GET /api/v1/claims/:claim_id/activities",
		"GET /api/v1/claims/:claim_id/financial-timeline",
		"POST /api/v1/claims/:claim_id/reconcile",
		"GET /api/v1/claims/:claim_id/status",
		"GET /api/v1/claims/:claim_id/status-history",
		"GET /api/v1/verification/runs/latest",
		"GET /api/v1/verification/runs/:id/results",
		"POST /api/v1/verification/runs",
		"GET /api/v1/payer-performance",
		"POST /api/v1/payer-performance/rollup",
	}
	for _, w := range want {
		if !have[w] {
			t.Errorf("route %s not registered", w)
		}
	}
}

func TestMigrationsFS_Embedded(t *testing.T) {
	names, err := fs.Glob(migrationsFS(""), "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) < 4 {
		t.Errorf("expected the embedded migrations, got %v", names)
	}
}

func TestMonthFlag(t *testing.T) {
	now := time.Date(2025, 7, 19, 15, 0, 0, 0, time.UTC)
	m, err := monthFlag("", now)
	if err != nil || !m.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("default month = %s, %v", m, err)
	}
	m, err = monthFlag("2024-11", now)
	if err != nil || m.Month() != time.November || m.Year() != 2024 {
		t.Errorf("explicit month = %s, %v", m, err)
	}
	if _, err := monthFlag("11/2024", now); err == nil {
		t.Error("expected error for malformed month")
	}
}

func TestAuthMiddleware_Development(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "development"
	e := echo.New()
	e.Use(authMiddleware(cfg))
	e.GET("/whoami", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	req, _ := http.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("development mode should let requests through, got %d", rec.Code)
	}
}

func TestAuthMiddleware_StandaloneRequiresToken(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = strings.Repeat("k", 32)
	e := echo.New()
	e.Use(authMiddleware(cfg))
	e.GET("/api/v1/claims/:claim_id/payment", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/claims/C1/payment", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}

	req, _ = http.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health should be public, got %d", rec.Code)
	}
}
