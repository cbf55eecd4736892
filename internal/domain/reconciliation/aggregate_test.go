package reconciliation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(n int) time.Time { return time.Date(2025, 1, n, 10, 0, 0, 0, time.UTC) }

func cyc(dayN int, amount, denial string) Cycle {
	return Cycle{Time: day(dayN), Amount: d(amount), DenialCode: denial}
}

func TestSummarizeActivity_Scenarios(t *testing.T) {
	tests := []struct {
		name         string
		submitted    string
		cycles       []Cycle
		paid         string
		denied       string
		takenBack    string
		netPaid      string
		status       ActivityStatus
		remittances  int
		latestDenial string
	}{
		{
			name: "two partial payments add up to full", submitted: "100",
			cycles: []Cycle{cyc(1, "60", ""), cyc(2, "40", "")},
			paid:   "100", denied: "0", takenBack: "0", netPaid: "100", status: StatusFullyPaid, remittances: 2,
		},
		{
			name: "denied in full", submitted: "100",
			cycles: []Cycle{cyc(1, "0", "CO-45")},
			paid:   "0", denied: "100", takenBack: "0", netPaid: "0", status: StatusRejected, remittances: 1,
			latestDenial: "CO-45",
		},
		{
			name: "later payment overrides earlier denial", submitted: "100",
			cycles: []Cycle{cyc(1, "0", "CO-45"), cyc(2, "100", "")},
			paid:   "100", denied: "0", takenBack: "0", netPaid: "100", status: StatusFullyPaid, remittances: 2,
			latestDenial: "CO-45",
		},
		{
			name: "payment reversed by takeback", submitted: "100",
			cycles: []Cycle{cyc(1, "100", ""), cyc(2, "-100", "")},
			paid:   "100", denied: "0", takenBack: "100", netPaid: "0", status: StatusTakenBack, remittances: 2,
		},
		{
			name: "partial takeback", submitted: "100",
			cycles: []Cycle{cyc(1, "100", ""), cyc(2, "-30", "")},
			paid:   "100", denied: "0", takenBack: "30", netPaid: "70", status: StatusPartiallyTakenBack, remittances: 2,
		},
		{
			name: "overpayment is capped", submitted: "100",
			cycles: []Cycle{cyc(1, "80", ""), cyc(2, "80", "")},
			paid:   "100", denied: "0", takenBack: "0", netPaid: "100", status: StatusFullyPaid, remittances: 2,
		},
		{
			name: "partial payment then denial of remainder", submitted: "100",
			cycles: []Cycle{cyc(1, "40", ""), cyc(2, "0", "CO-97")},
			paid:   "40", denied: "60", takenBack: "0", netPaid: "40", status: StatusPartiallyPaid, remittances: 2,
			latestDenial: "CO-97",
		},
		{
			name: "no remittance", submitted: "100",
			paid: "0", denied: "0", takenBack: "0", netPaid: "0", status: StatusPending,
		},
		{
			name: "zero submitted is settled by its remittance", submitted: "0",
			cycles: []Cycle{cyc(1, "0", "")},
			paid:   "0", denied: "0", takenBack: "0", netPaid: "0", status: StatusFullyPaid, remittances: 1,
		},
		{
			name: "zero submitted without remittance stays pending", submitted: "0",
			paid: "0", denied: "0", takenBack: "0", netPaid: "0", status: StatusPending,
		},
		{
			name: "re-paid after takeback keeps takeback", submitted: "100",
			cycles: []Cycle{cyc(1, "100", ""), cyc(2, "-100", ""), cyc(3, "100", "")},
			paid:   "100", denied: "0", takenBack: "100", netPaid: "0", status: StatusTakenBack, remittances: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SummarizeActivity(d(tt.submitted), tt.cycles)
			if !s.PaidAmount.Equal(d(tt.paid)) {
				t.Errorf("paid = %s, want %s", s.PaidAmount, tt.paid)
			}
			if !s.DeniedAmount.Equal(d(tt.denied)) {
				t.Errorf("denied = %s, want %s", s.DeniedAmount, tt.denied)
			}
			if !s.RejectedAmount.Equal(s.DeniedAmount) {
				t.Errorf("rejected = %s, want denied %s", s.RejectedAmount, s.DeniedAmount)
			}
			if !s.TakenBackAmount.Equal(d(tt.takenBack)) {
				t.Errorf("taken back = %s, want %s", s.TakenBackAmount, tt.takenBack)
			}
			if !s.NetPaidAmount.Equal(d(tt.netPaid)) {
				t.Errorf("net paid = %s, want %s", s.NetPaidAmount, tt.netPaid)
			}
			if s.Status != tt.status {
				t.Errorf("status = %s, want %s", s.Status, tt.status)
			}
			if s.RemittanceCount != tt.remittances {
				t.Errorf("remittance count = %d, want %d", s.RemittanceCount, tt.remittances)
			}
			if s.DenialCodes.Latest() != tt.latestDenial {
				t.Errorf("latest denial = %q, want %q", s.DenialCodes.Latest(), tt.latestDenial)
			}
			if err := s.CheckInvariants(); err != nil {
				t.Errorf("invariants: %v", err)
			}
		})
	}
}

func TestSummarizeActivity_OrderIndependent(t *testing.T) {
	cycles := []Cycle{
		cyc(1, "30", ""), cyc(2, "0", "CO-45"), cyc(3, "50", ""),
		cyc(4, "-20", ""), cyc(5, "0", "CO-16"), cyc(5, "10", ""),
	}
	want := SummarizeActivity(d("100"), cycles)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := make([]Cycle, len(cycles))
		copy(shuffled, cycles)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := SummarizeActivity(d("100"), shuffled)
		if !got.PaidAmount.Equal(want.PaidAmount) || !got.DeniedAmount.Equal(want.DeniedAmount) ||
			!got.NetPaidAmount.Equal(want.NetPaidAmount) || got.Status != want.Status ||
			got.DenialCodes.Latest() != want.DenialCodes.Latest() || len(got.DenialCodes) != len(want.DenialCodes) {
			t.Fatalf("permutation %d changed the result: got %+v want %+v", i, got, want)
		}
	}
}

func TestSummarizeActivity_DenialCodesMostRecentFirst(t *testing.T) {
	s := SummarizeActivity(d("100"), []Cycle{
		cyc(1, "0", "A"), cyc(2, "0", "B"), cyc(3, "0", "A"), cyc(4, "0", "C"),
	})
	want := []string{"C", "A", "B"}
	if len(s.DenialCodes) != len(want) {
		t.Fatalf("codes = %v, want %v", s.DenialCodes, want)
	}
	for i := range want {
		if s.DenialCodes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", s.DenialCodes, want)
		}
	}
	if s.DenialCodes.Latest() != "C" || s.DenialCodes.First() != "B" {
		t.Errorf("latest=%s first=%s", s.DenialCodes.Latest(), s.DenialCodes.First())
	}
}

func TestSummarizeActivity_SameTimeTieBreak(t *testing.T) {
	// At one cycle time a denial line sorts after the plain line, so it is
	// the latest regardless of arrival order.
	a := SummarizeActivity(d("100"), []Cycle{cyc(1, "40", ""), cyc(2, "0", "CO-45"), cyc(2, "0", "")})
	b := SummarizeActivity(d("100"), []Cycle{cyc(2, "0", ""), cyc(2, "0", "CO-45"), cyc(1, "40", "")})
	if !a.DeniedAmount.Equal(d("60")) || !b.DeniedAmount.Equal(d("60")) {
		t.Errorf("denied a=%s b=%s, want 60", a.DeniedAmount, b.DeniedAmount)
	}
	if a.RemittanceCount != 2 {
		t.Errorf("remittance count = %d, want 2 distinct cycles", a.RemittanceCount)
	}
}

func TestSummarizeActivity_CapAndNetPaidInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		submitted := decimal.NewFromInt(int64(rng.Intn(500)))
		var cycles []Cycle
		n := rng.Intn(6)
		for j := 0; j < n; j++ {
			amt := decimal.NewFromInt(int64(rng.Intn(400) - 150))
			code := ""
			if rng.Intn(3) == 0 {
				code = "CO-45"
			}
			cycles = append(cycles, Cycle{Time: day(1 + rng.Intn(20)), Amount: amt, DenialCode: code})
		}
		s := SummarizeActivity(submitted, cycles)
		if err := s.CheckInvariants(); err != nil {
			t.Fatalf("case %d: %v (cycles %+v)", i, err, cycles)
		}
		if s.DeniedAmount.IsNegative() || s.TakenBackAmount.IsNegative() {
			t.Fatalf("case %d: negative amounts %+v", i, s)
		}
	}
}

func TestSortCycles(t *testing.T) {
	cycles := []Cycle{cyc(2, "5", "B"), cyc(2, "1", ""), cyc(1, "9", "A"), cyc(2, "0", "B")}
	SortCycles(cycles)
	if !cycles[0].Time.Equal(day(1)) {
		t.Errorf("first = %+v", cycles[0])
	}
	if cycles[1].DenialCode != "" {
		t.Errorf("empty denial code should sort first within a time, got %+v", cycles[1])
	}
	if !cycles[3].Amount.Equal(d("5")) {
		t.Errorf("amount should break remaining ties, last = %+v", cycles[3])
	}
}
