package timeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/domain/claims/claimstest"
	"github.com/ehr/claims/internal/domain/reconciliation"
	"github.com/ehr/claims/internal/platform/auth"
)

// -- Mocks --

type mockRepo struct {
	rows   []*Entry
	nextID int64
}

func (m *mockRepo) Append(_ context.Context, e *Entry) (bool, error) {
	for _, r := range m.rows {
		if r.ClaimEventID != nil && e.ClaimEventID != nil && *r.ClaimEventID == *e.ClaimEventID {
			return false, nil
		}
	}
	m.nextID++
	e.ID = m.nextID
	cp := *e
	m.rows = append(m.rows, &cp)
	return true, nil
}

func (m *mockRepo) forKey(claimKeyID int64) []*Entry {
	var out []*Entry
	for _, r := range m.rows {
		if r.ClaimKeyID == claimKeyID {
			out = append(out, r)
		}
	}
	return out
}

func (m *mockRepo) Current(_ context.Context, claimKeyID int64) (*Entry, error) {
	cur := Current(m.forKey(claimKeyID))
	if cur == nil {
		return nil, fmt.Errorf("status: %w", claims.ErrNotFound)
	}
	return cur, nil
}

func (m *mockRepo) History(_ context.Context, claimKeyID int64) ([]*Entry, error) {
	out := m.forKey(claimKeyID)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StatusTime.Equal(out[j].StatusTime) {
			return out[i].StatusTime.Before(out[j].StatusTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type fixedPayments map[time.Time]reconciliation.ActivityStatus

func (f fixedPayments) AsOf(_ context.Context, _ int64, t time.Time) (reconciliation.ActivityStatus, error) {
	best := reconciliation.StatusPending
	var bestT time.Time
	for at, s := range f {
		if !at.After(t) && !at.Before(bestT) {
			best, bestT = s, at
		}
	}
	return best, nil
}

func newTestService(p PaymentSource) (*Service, *claimstest.Repo, *mockRepo) {
	events := claimstest.NewRepo()
	repo := &mockRepo{}
	return NewService(events, p, repo, &claimstest.Tx{}, nil, time.Minute, zerolog.Nop()), events, repo
}

func ts(day int) time.Time { return time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC) }

func addEvent(t *testing.T, events *claimstest.Repo, keyID int64, typ claims.EventType, at time.Time) *claims.ClaimEvent {
	t.Helper()
	e := &claims.ClaimEvent{ClaimKeyID: keyID, Type: typ, EventTime: at}
	if _, err := events.AppendEvent(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

// -- Service Tests --

func TestService_OnEvent(t *testing.T) {
	svc, events, repo := newTestService(fixedPayments{ts(5): reconciliation.StatusPartiallyPaid})
	key, _ := events.EnsureClaimKey(context.Background(), "CLM-1")
	ctx := context.Background()

	sub := addEvent(t, events, key.ID, claims.EventSubmission, ts(1))
	rem := addEvent(t, events, key.ID, claims.EventRemittance, ts(5))

	e, inserted, err := svc.OnEvent(ctx, sub)
	if err != nil || !inserted || e.Status != StatusSubmitted {
		t.Fatalf("submission: %+v inserted=%v err=%v", e, inserted, err)
	}
	e, inserted, err = svc.OnEvent(ctx, rem)
	if err != nil || !inserted || e.Status != StatusPartiallyPaid {
		t.Fatalf("remittance: %+v inserted=%v err=%v", e, inserted, err)
	}

	// A duplicate delivery of the same event never emits a row.
	_, inserted, err = svc.OnEvent(ctx, rem)
	if err != nil || inserted {
		t.Fatalf("duplicate: inserted=%v err=%v", inserted, err)
	}
	if len(repo.rows) != 2 {
		t.Errorf("rows = %d, want 2", len(repo.rows))
	}
}

func TestService_OnEvent_RequiresStoredEvent(t *testing.T) {
	svc, _, _ := newTestService(fixedPayments{})
	_, _, err := svc.OnEvent(context.Background(), &claims.ClaimEvent{ClaimKeyID: 1, Type: claims.EventSubmission, EventTime: ts(1)})
	if !errors.Is(err, claims.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestService_OutOfOrderCurrentStatus(t *testing.T) {
	svc, events, _ := newTestService(fixedPayments{ts(3): reconciliation.StatusRejected, ts(8): reconciliation.StatusFullyPaid})
	key, _ := events.EnsureClaimKey(context.Background(), "CLM-1")
	ctx := context.Background()

	// The later remittance arrives first.
	late := addEvent(t, events, key.ID, claims.EventRemittance, ts(8))
	early := addEvent(t, events, key.ID, claims.EventRemittance, ts(3))
	if _, _, err := svc.OnEvent(ctx, late); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.OnEvent(ctx, early); err != nil {
		t.Fatal(err)
	}

	readCtx := auth.WithIdentity(ctx, "u1", []string{auth.RoleBilling})
	cur, err := svc.CurrentStatus(readCtx, "CLM-1")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != StatusPaid {
		t.Errorf("current = %s, want PAID (latest status_time wins)", cur.Status)
	}
	hist, _ := svc.History(readCtx, "CLM-1")
	if len(hist) != 2 || hist[0].Status != StatusRejected || hist[1].Status != StatusPaid {
		t.Errorf("history out of order: %+v", hist)
	}
}

func TestService_Rebuild(t *testing.T) {
	svc, events, repo := newTestService(fixedPayments{ts(4): reconciliation.StatusFullyPaid})
	key, _ := events.EnsureClaimKey(context.Background(), "CLM-1")
	addEvent(t, events, key.ID, claims.EventSubmission, ts(1))
	addEvent(t, events, key.ID, claims.EventResubmission, ts(2))
	addEvent(t, events, key.ID, claims.EventRemittance, ts(4))

	n, err := svc.Rebuild(context.Background(), key.ID)
	if err != nil || n != 3 {
		t.Fatalf("rebuild added %d err=%v", n, err)
	}
	n, err = svc.Rebuild(context.Background(), key.ID)
	if err != nil || n != 0 {
		t.Fatalf("second rebuild added %d err=%v", n, err)
	}
	if got := Current(repo.rows); got.Status != StatusPaid {
		t.Errorf("current = %s", got.Status)
	}
}

func TestService_WithAggregator(t *testing.T) {
	events := claimstest.NewRepo()
	agg := reconciliation.NewService(events, nopAggRepo{}, &claimstest.Tx{}, nil, 0, zerolog.Nop())
	repo := &mockRepo{}
	svc := NewService(events, agg, repo, &claimstest.Tx{}, nil, 0, zerolog.Nop())
	ctx := context.Background()

	key, _ := events.EnsureClaimKey(ctx, "CLM-1")
	events.AppendActivity(ctx, &claims.Activity{ClaimKeyID: key.ID, ActivityID: "A1", Net: decimal.NewFromInt(100)})
	denial := "CO-45"
	events.AppendRemittanceActivity(ctx, &claims.RemittanceActivity{ClaimKeyID: key.ID, ActivityID: "A1", CycleTime: ts(3), DenialCode: &denial})
	rem := addEvent(t, events, key.ID, claims.EventRemittance, ts(3))

	e, _, err := svc.OnEvent(ctx, rem)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != StatusRejected {
		t.Errorf("status = %s, want REJECTED", e.Status)
	}
}

func TestService_OnEvent_RemittanceBeforeActivities(t *testing.T) {
	events := claimstest.NewRepo()
	agg := reconciliation.NewService(events, nopAggRepo{}, &claimstest.Tx{}, nil, 0, zerolog.Nop())
	repo := &mockRepo{}
	svc := NewService(events, agg, repo, &claimstest.Tx{}, nil, 0, zerolog.Nop())
	ctx := context.Background()

	key, _ := events.EnsureClaimKey(ctx, "CLM-1")
	events.AppendRemittanceActivity(ctx, &claims.RemittanceActivity{
		ClaimKeyID: key.ID, ActivityID: "A1", CycleTime: ts(5), PaymentAmount: decimal.NewFromInt(100),
	})
	rem := addEvent(t, events, key.ID, claims.EventRemittance, ts(5))

	e, inserted, err := svc.OnEvent(ctx, rem)
	if err != nil || inserted || e != nil {
		t.Fatalf("remittance without activities: %+v inserted=%v err=%v", e, inserted, err)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("rows = %d, want none yet", len(repo.rows))
	}

	events.AppendActivity(ctx, &claims.Activity{ClaimKeyID: key.ID, ActivityID: "A1", Net: decimal.NewFromInt(100)})
	addEvent(t, events, key.ID, claims.EventSubmission, ts(1))
	n, err := svc.Rebuild(ctx, key.ID)
	if err != nil || n != 2 {
		t.Fatalf("rebuild added %d err=%v", n, err)
	}
	if got := Current(repo.rows); got.Status != StatusPaid || !got.StatusTime.Equal(ts(5)) {
		t.Errorf("current = %+v", got)
	}
}

type nopAggRepo struct{ reconciliation.Repository }

// -- Handler Tests --

func TestHandler_CurrentStatus_NotFound(t *testing.T) {
	svc, events, _ := newTestService(fixedPayments{})
	events.EnsureClaimKey(context.Background(), "CLM-1")
	h := NewHandler(svc)
	e := echo.New()

	ctx := auth.WithIdentity(context.Background(), "u1", []string{auth.RoleAuditor})
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("claim_id")
	c.SetParamValues("CLM-1")

	err := h.CurrentStatus(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a claim without timeline, got %v", err)
	}
}

func TestHandler_History(t *testing.T) {
	svc, events, _ := newTestService(fixedPayments{})
	key, _ := events.EnsureClaimKey(context.Background(), "CLM-1")
	sub := addEvent(t, events, key.ID, claims.EventSubmission, ts(1))
	svc.OnEvent(context.Background(), sub)
	h := NewHandler(svc)
	e := echo.New()

	ctx := auth.WithIdentity(context.Background(), "u1", []string{auth.RoleBilling})
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("claim_id")
	c.SetParamValues("CLM-1")

	if err := h.History(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
