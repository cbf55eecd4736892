package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		op    Operation
		want  error
	}{
		{"ingest can ingest", []string{RoleIngest}, OpIngestBatch, nil},
		{"billing cannot ingest", []string{RoleBilling}, OpIngestBatch, ErrForbidden},
		{"billing reads claims", []string{RoleBilling}, OpReadClaims, nil},
		{"auditor reads claims", []string{RoleAuditor}, OpReadClaims, nil},
		{"ingest cannot read claims", []string{RoleIngest}, OpReadClaims, ErrForbidden},
		{"only admin reconciles", []string{RoleBilling, RoleAuditor}, OpReconcileClaim, ErrForbidden},
		{"admin reconciles", []string{RoleAdmin}, OpReconcileClaim, nil},
		{"auditor runs verification", []string{RoleAuditor}, OpRunVerification, nil},
		{"billing cannot run verification", []string{RoleBilling}, OpRunVerification, ErrForbidden},
		{"billing runs rollup", []string{RoleBilling}, OpRunPayerRollup, nil},
		{"auditor cannot read payer performance", []string{RoleAuditor}, OpReadPayerPerformance, ErrForbidden},
		{"no identity", nil, OpReadClaims, ErrUnauthenticated},
		{"unknown operation", []string{RoleBilling}, Operation("claims.delete"), ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.roles != nil {
				ctx = WithIdentity(ctx, "u1", tt.roles)
			}
			err := Authorize(ctx, tt.op)
			if tt.want == nil && err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSystemContext_IsAdmin(t *testing.T) {
	ctx := SystemContext(context.Background())
	for op := range operationRoles {
		if err := Authorize(ctx, op); err != nil {
			t.Errorf("system context denied %s: %v", op, err)
		}
	}
}

func TestHTTPError(t *testing.T) {
	err := HTTPError(Authorize(context.Background(), OpReadClaims))
	expectStatus(t, err, http.StatusUnauthorized)

	err = HTTPError(Authorize(WithIdentity(context.Background(), "u", []string{RoleIngest}), OpReadClaims))
	expectStatus(t, err, http.StatusForbidden)

	plain := errors.New("boom")
	if HTTPError(plain) != plain {
		t.Error("expected non-auth errors to pass through")
	}
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u", []string{RoleBilling}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := RequireRole(RoleBilling, RoleAuditor)(okHandler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u", []string{RoleIngest}))
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequireRole(RoleBilling)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u", []string{RoleAdmin}))
	c := e.NewContext(req, httptest.NewRecorder())

	if err := RequireRole(RoleAuditor)(okHandler)(c); err != nil {
		t.Error("admin should bypass role checks")
	}
}
