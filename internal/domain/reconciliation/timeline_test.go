package reconciliation

import (
	"testing"
	"time"

	"github.com/ehr/claims/internal/domain/claims"
)

func TestFinancialTimeline(t *testing.T) {
	sub := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c1 := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	resub := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	c2 := time.Date(2025, 1, 25, 0, 0, 0, 0, time.UTC)
	c3 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	acts := []*claims.Activity{
		{ActivityID: "A1", Net: d("100")},
		{ActivityID: "A2", Net: d("50")},
	}
	lines := []*claims.RemittanceActivity{
		{ActivityID: "A1", CycleTime: c1, PaymentAmount: d("0"), DenialCode: ptrStr("CO-45")},
		{ActivityID: "A2", CycleTime: c1, PaymentAmount: d("50")},
		{ActivityID: "A1", CycleTime: c2, PaymentAmount: d("100")},
		{ActivityID: "A1", CycleTime: c3, PaymentAmount: d("-40")},
	}
	// Deliberately out of order.
	events := []*claims.ClaimEvent{
		{ID: 4, ClaimKeyID: 1, Type: claims.EventRemittance, EventTime: c2},
		{ID: 1, ClaimKeyID: 1, Type: claims.EventSubmission, EventTime: sub},
		{ID: 5, ClaimKeyID: 1, Type: claims.EventRemittance, EventTime: c3},
		{ID: 2, ClaimKeyID: 1, Type: claims.EventRemittance, EventTime: c1},
		{ID: 3, ClaimKeyID: 1, Type: claims.EventResubmission, EventTime: resub},
	}

	rows := FinancialTimeline(d("150"), events, acts, lines)
	want := []struct {
		eventID  int64
		typ      string
		amount   string
		paid     string
		rejected string
	}{
		{1, TimelineSubmission, "150", "0", "0"},
		{2, TimelinePayment, "50", "50", "100"},
		{3, TimelineResubmission, "150", "50", "100"},
		{4, TimelinePayment, "100", "150", "0"},
		{5, TimelinePayment, "-40", "110", "0"},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i, w := range want {
		r := rows[i]
		if r.ClaimEventID != w.eventID || r.EventType != w.typ || !r.Amount.Equal(d(w.amount)) ||
			!r.CumulativePaid.Equal(d(w.paid)) || !r.CumulativeRejected.Equal(d(w.rejected)) {
			t.Errorf("row %d = {event %d %s amount %s paid %s rejected %s}, want %+v",
				i, r.ClaimEventID, r.EventType, r.Amount, r.CumulativePaid, r.CumulativeRejected, w)
		}
	}
}

func TestFinancialTimeline_CumulativePaidIsNetOfTakebacks(t *testing.T) {
	c1 := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	c2 := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	acts := []*claims.Activity{{ActivityID: "A1", Net: d("100")}}
	lines := []*claims.RemittanceActivity{
		{ActivityID: "A1", CycleTime: c1, PaymentAmount: d("100")},
		{ActivityID: "A1", CycleTime: c2, PaymentAmount: d("-30")},
	}
	events := []*claims.ClaimEvent{
		{ID: 1, Type: claims.EventSubmission, EventTime: c1.Add(-time.Hour)},
		{ID: 2, Type: claims.EventRemittance, EventTime: c1},
		{ID: 3, Type: claims.EventRemittance, EventTime: c2},
	}

	rows := FinancialTimeline(d("100"), events, acts, lines)
	if len(rows) != 3 {
		t.Fatalf("got %d rows", len(rows))
	}
	sum := d("0")
	for _, r := range rows[1:] {
		sum = sum.Add(r.Amount)
		if !r.CumulativePaid.Equal(sum) {
			t.Errorf("event %d: cumulative paid %s, running payment sum %s", r.ClaimEventID, r.CumulativePaid, sum)
		}
	}
	if !rows[2].CumulativePaid.Equal(d("70")) {
		t.Errorf("after takeback got %s, want 70", rows[2].CumulativePaid)
	}
}

func TestTimelineRow_Denial(t *testing.T) {
	c1 := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	acts := []*claims.Activity{{ActivityID: "A1", Net: d("80")}}
	lines := []*claims.RemittanceActivity{
		{ActivityID: "A1", CycleTime: c1, PaymentAmount: d("0"), DenialCode: ptrStr("CO-16")},
	}
	row := TimelineRow(d("80"), &claims.ClaimEvent{ID: 7, Type: claims.EventRemittance, EventTime: c1}, acts, lines)
	if row.EventType != TimelineDenial {
		t.Fatalf("type = %s, want DENIAL", row.EventType)
	}
	if !row.Amount.Equal(d("80")) || !row.CumulativeRejected.Equal(d("80")) {
		t.Errorf("amount=%s rejected=%s", row.Amount, row.CumulativeRejected)
	}
	if row.DenialCode == nil || *row.DenialCode != "CO-16" {
		t.Errorf("denial code = %v", row.DenialCode)
	}
}

func TestStateAsOf(t *testing.T) {
	c1 := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	c2 := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	acts := []*claims.Activity{{ActivityID: "A1", Net: d("100")}}
	lines := []*claims.RemittanceActivity{
		{ActivityID: "A1", CycleTime: c2, PaymentAmount: d("100")},
		{ActivityID: "A1", CycleTime: c1, PaymentAmount: d("0"), DenialCode: ptrStr("CO-45")},
	}
	if s := StateAsOf(acts, lines, c1.Add(-time.Hour)).Status; s != StatusPending {
		t.Errorf("before any cycle = %s", s)
	}
	if s := StateAsOf(acts, lines, c1).Status; s != StatusRejected {
		t.Errorf("at c1 = %s", s)
	}
	if s := StateAsOf(acts, lines, c2).Status; s != StatusFullyPaid {
		t.Errorf("at c2 = %s", s)
	}
}
