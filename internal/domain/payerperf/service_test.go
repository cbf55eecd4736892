package payerperf

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/domain/claims/claimstest"
	"github.com/ehr/claims/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	outcomes []*ClaimOutcome
	stored   map[time.Time][]*Summary
	queried  [][2]time.Time
	replaced []time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{stored: make(map[time.Time][]*Summary)}
}

func (m *mockRepo) ListOutcomes(_ context.Context, from, to time.Time) ([]*ClaimOutcome, error) {
	m.queried = append(m.queried, [2]time.Time{from, to})
	var out []*ClaimOutcome
	for _, o := range m.outcomes {
		if o.SettlementDate != nil && !o.SettlementDate.Before(from) && o.SettlementDate.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockRepo) ReplaceMonth(_ context.Context, month time.Time, rows []*Summary) error {
	m.replaced = append(m.replaced, month)
	m.stored[month] = rows
	return nil
}

func (m *mockRepo) List(_ context.Context, month time.Time, limit, offset int) ([]*Summary, int, error) {
	if month.IsZero() {
		var all []*Summary
		for _, rows := range m.stored {
			all = append(all, rows...)
		}
		return all, len(all), nil
	}
	return m.stored[month], len(m.stored[month]), nil
}

func newTestService() (*Service, *mockRepo, *claimstest.Tx) {
	repo := newMockRepo()
	tx := &claimstest.Tx{}
	return NewService(repo, tx, zerolog.Nop()), repo, tx
}

func billingCtx() context.Context {
	return auth.WithIdentity(context.Background(), "u1", []string{auth.RoleBilling})
}

// -- Service Tests --

func TestService_RunMonth_Overwrites(t *testing.T) {
	svc, repo, tx := newTestService()
	repo.outcomes = []*ClaimOutcome{
		outcome(ptrStr("P1"), "100", "100", "0", day(2025, 5, 3), ptrInt(7)),
	}
	month := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	if _, err := svc.RunMonth(billingCtx(), month); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo.outcomes = append(repo.outcomes, outcome(ptrStr("P1"), "100", "0", "100", day(2025, 5, 9), ptrInt(9)))
	got, err := svc.RunMonth(billingCtx(), month)
	if err != nil {
		t.Fatal(err)
	}

	bucket := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	if len(repo.stored[bucket]) != 1 || repo.stored[bucket][0].TotalClaims != 2 {
		t.Errorf("stored = %+v", repo.stored[bucket])
	}
	if !got[0].PaymentRate.Equal(d("50")) {
		t.Errorf("payment rate = %s", got[0].PaymentRate)
	}
	if tx.Calls != 2 {
		t.Errorf("each run should be one transaction, got %d", tx.Calls)
	}
	if q := repo.queried[0]; !q[0].Equal(bucket) || !q[1].Equal(bucket.AddDate(0, 1, 0)) {
		t.Errorf("queried range = %v", q)
	}
}

func TestService_Authorization(t *testing.T) {
	svc, _, _ := newTestService()
	auditor := auth.WithIdentity(context.Background(), "u2", []string{auth.RoleAuditor})
	if _, err := svc.RunMonth(auditor, time.Now()); !errors.Is(err, auth.ErrForbidden) {
		t.Errorf("auditor should not run the rollup, got %v", err)
	}
	if _, _, err := svc.List(context.Background(), time.Time{}, 10, 0); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("anonymous list should be unauthenticated, got %v", err)
	}
	if _, _, err := svc.List(auth.SystemContext(context.Background()), time.Time{}, 10, 0); err != nil {
		t.Errorf("system context should read: %v", err)
	}
}

// -- Scheduler Tests --

func TestScheduler_TickRollsCurrentAndPreviousMonth(t *testing.T) {
	svc, repo, _ := newTestService()
	s := NewScheduler(svc, nil, time.Hour, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC) }

	if !s.Tick(context.Background()) {
		t.Fatal("a disabled cache always grants the lease")
	}
	want := []time.Time{
		time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if len(repo.replaced) != 2 || !repo.replaced[0].Equal(want[0]) || !repo.replaced[1].Equal(want[1]) {
		t.Errorf("replaced months = %v, want %v", repo.replaced, want)
	}
}

func TestScheduler_StartStopsOnCancel(t *testing.T) {
	svc, repo, _ := newTestService()
	s := NewScheduler(svc, nil, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if len(repo.replaced) != 2 {
		t.Errorf("start should run one tick immediately, replaced %d months", len(repo.replaced))
	}
}

// -- Handler Tests --

func TestHandler_List_BadMonth(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?month=2025-99", nil).WithContext(billingCtx())
	rec := httptest.NewRecorder()

	err := h.List(e.NewContext(req, rec))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_RollupThenList(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.outcomes = []*ClaimOutcome{
		outcome(nil, "80", "20", "60", day(2025, 6, 30), ptrInt(12)),
	}
	h := NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"month":"2025-06"}`)).WithContext(billingCtx())
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Rollup(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"payer_ref":"UNKNOWN"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/?month=2025-06", nil).WithContext(billingCtx())
	rec = httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"rejection_rate":"75"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_Rollup_MissingMonth(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)).WithContext(billingCtx())
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.Rollup(e.NewContext(req, rec))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
