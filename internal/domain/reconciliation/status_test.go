package reconciliation

import (
	"errors"
	"testing"
)

func TestDeriveActivityStatus(t *testing.T) {
	tests := []struct {
		name string
		s    ActivitySummary
		want ActivityStatus
	}{
		{"pending", ActivitySummary{SubmittedAmount: d("100"), PaidAmount: d("0"), DeniedAmount: d("0"), TakenBackAmount: d("0"), NetPaidAmount: d("0")}, StatusPending},
		{"fully paid", ActivitySummary{SubmittedAmount: d("100"), PaidAmount: d("100"), DeniedAmount: d("0"), TakenBackAmount: d("0"), NetPaidAmount: d("100")}, StatusFullyPaid},
		{"partially paid", ActivitySummary{SubmittedAmount: d("100"), PaidAmount: d("20"), DeniedAmount: d("0"), TakenBackAmount: d("0"), NetPaidAmount: d("20")}, StatusPartiallyPaid},
		{"rejected", ActivitySummary{SubmittedAmount: d("100"), PaidAmount: d("0"), DeniedAmount: d("100"), TakenBackAmount: d("0"), NetPaidAmount: d("0")}, StatusRejected},
		{"partially denied without payment", ActivitySummary{SubmittedAmount: d("100"), PaidAmount: d("0"), DeniedAmount: d("50"), TakenBackAmount: d("0"), NetPaidAmount: d("0")}, StatusPending},
		{"taken back", ActivitySummary{SubmittedAmount: d("100"), PaidAmount: d("100"), DeniedAmount: d("0"), TakenBackAmount: d("100"), NetPaidAmount: d("0")}, StatusTakenBack},
		{"partially taken back", ActivitySummary{SubmittedAmount: d("100"), PaidAmount: d("100"), DeniedAmount: d("0"), TakenBackAmount: d("10"), NetPaidAmount: d("90")}, StatusPartiallyTakenBack},
		{"zero net remitted", ActivitySummary{SubmittedAmount: d("0"), PaidAmount: d("0"), DeniedAmount: d("0"), TakenBackAmount: d("0"), NetPaidAmount: d("0"), RemittanceCount: 1}, StatusFullyPaid},
		{"zero net not yet remitted", ActivitySummary{SubmittedAmount: d("0"), PaidAmount: d("0"), DeniedAmount: d("0"), TakenBackAmount: d("0"), NetPaidAmount: d("0")}, StatusPending},
		{"takeback without payment", ActivitySummary{SubmittedAmount: d("100"), PaidAmount: d("0"), DeniedAmount: d("0"), TakenBackAmount: d("10"), NetPaidAmount: d("0")}, StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveActivityStatus(tt.s); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func counts(statuses ...ActivityStatus) StatusCounts {
	var c StatusCounts
	for _, s := range statuses {
		c.Add(s)
	}
	return c
}

func TestDeriveClaimStatus(t *testing.T) {
	tests := []struct {
		name string
		c    StatusCounts
		want ActivityStatus
	}{
		{"no activities", counts(), StatusPending},
		{"all paid", counts(StatusFullyPaid, StatusFullyPaid), StatusFullyPaid},
		{"all rejected", counts(StatusRejected, StatusRejected), StatusRejected},
		{"all taken back", counts(StatusTakenBack), StatusTakenBack},
		{"mixed outcomes", counts(StatusFullyPaid, StatusPending, StatusRejected), StatusPartiallyPaid},
		{"partial takeback holds money", counts(StatusPartiallyTakenBack, StatusRejected), StatusPartiallyPaid},
		{"taken back and rejected", counts(StatusTakenBack, StatusRejected), StatusTakenBack},
		{"all pending", counts(StatusPending, StatusPending), StatusPending},
		{"rejected and pending", counts(StatusRejected, StatusPending), StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveClaimStatus(tt.c); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestZeroNetClaim_PaidOnceRemitted(t *testing.T) {
	before := RollupClaim(1, []ActivitySummary{SummarizeActivity(d("0"), nil)}, ClaimFacts{})
	if before.PaymentStatus != StatusPending {
		t.Errorf("before remittance = %s", before.PaymentStatus)
	}
	after := RollupClaim(1, []ActivitySummary{SummarizeActivity(d("0"), []Cycle{cyc(3, "0", "")})}, ClaimFacts{})
	if after.PaymentStatus != StatusFullyPaid || after.Paid != 1 {
		t.Errorf("after remittance = %s counts=%+v", after.PaymentStatus, after.StatusCounts)
	}
}

func TestStatusCounts_SumMatchesTotal(t *testing.T) {
	c := counts(StatusFullyPaid, StatusPartiallyPaid, StatusRejected, StatusPending,
		StatusTakenBack, StatusPartiallyTakenBack, ActivityStatus("bogus"))
	if c.Sum() != c.Total || c.Total != 7 {
		t.Errorf("sum=%d total=%d", c.Sum(), c.Total)
	}
	if c.Pending != 2 {
		t.Errorf("unknown status should count as pending, pending=%d", c.Pending)
	}
}

func TestCheckInvariants_Drift(t *testing.T) {
	s := ActivitySummary{ActivityID: "A1", SubmittedAmount: d("100"), PaidAmount: d("120"), TakenBackAmount: d("0"), NetPaidAmount: d("120")}
	if err := s.CheckInvariants(); !errors.Is(err, ErrReconciliationDrift) {
		t.Errorf("expected drift for paid > submitted, got %v", err)
	}
	s = ActivitySummary{ActivityID: "A1", SubmittedAmount: d("100"), PaidAmount: d("100"), TakenBackAmount: d("30"), NetPaidAmount: d("100")}
	if err := s.CheckInvariants(); !errors.Is(err, ErrReconciliationDrift) {
		t.Errorf("expected drift for wrong net paid, got %v", err)
	}

	p := ClaimPayment{ClaimKeyID: 1, TotalSubmittedAmount: d("10"), TotalPaidAmount: d("0"), TotalNetPaidAmount: d("0"), ProcessingCycles: 1}
	p.Total = 2
	p.Paid = 1
	if err := p.CheckInvariants(); !errors.Is(err, ErrReconciliationDrift) {
		t.Errorf("expected drift for status counts, got %v", err)
	}
}
