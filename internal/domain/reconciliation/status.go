package reconciliation

import "github.com/shopspring/decimal"

type statusRule struct {
	status ActivityStatus
	match  func(s ActivitySummary) bool
}

// activityRules are evaluated in order; the first match wins. Takeback rules
// come first so money paid and then recovered never reads as FULLY_PAID.
var activityRules = []statusRule{
	{StatusTakenBack, func(s ActivitySummary) bool {
		return s.TakenBackAmount.IsPositive() && s.PaidAmount.IsPositive() && !s.NetPaidAmount.IsPositive()
	}},
	{StatusPartiallyTakenBack, func(s ActivitySummary) bool {
		return s.TakenBackAmount.IsPositive() && s.NetPaidAmount.IsPositive() && s.NetPaidAmount.LessThan(s.PaidAmount)
	}},
	// A zero-net activity is settled by its first remittance, not before.
	{StatusFullyPaid, func(s ActivitySummary) bool {
		return s.PaidAmount.Equal(s.SubmittedAmount) && (s.SubmittedAmount.IsPositive() || s.RemittanceCount > 0)
	}},
	{StatusRejected, func(s ActivitySummary) bool {
		return s.PaidAmount.IsZero() && s.DeniedAmount.IsPositive() && s.DeniedAmount.Equal(s.SubmittedAmount)
	}},
	{StatusPartiallyPaid, func(s ActivitySummary) bool {
		return s.PaidAmount.IsPositive() && s.PaidAmount.LessThan(s.SubmittedAmount)
	}},
}

func DeriveActivityStatus(s ActivitySummary) ActivityStatus {
	for _, r := range activityRules {
		if r.match(s) {
			return r.status
		}
	}
	return StatusPending
}

// DeriveClaimStatus collapses activity counts into one claim status. The
// claim level never reports PARTIALLY_TAKEN_BACK; money still held reads as
// PARTIALLY_PAID.
func DeriveClaimStatus(c StatusCounts) ActivityStatus {
	switch {
	case c.Total == 0:
		return StatusPending
	case c.Paid == c.Total:
		return StatusFullyPaid
	case c.Rejected == c.Total:
		return StatusRejected
	case c.TakenBack == c.Total:
		return StatusTakenBack
	case c.Paid+c.PartiallyPaid+c.PartiallyTakenBack > 0:
		return StatusPartiallyPaid
	case c.TakenBack > 0:
		return StatusTakenBack
	}
	return StatusPending
}

// CheckInvariants verifies the cap and net-paid rules on one summary.
func (s ActivitySummary) CheckInvariants() error {
	if s.PaidAmount.GreaterThan(s.SubmittedAmount) {
		return driftf("activity %s: paid %s exceeds submitted %s", s.ActivityID, s.PaidAmount, s.SubmittedAmount)
	}
	want := decimal.Max(decimal.Zero, s.PaidAmount.Sub(s.TakenBackAmount))
	if !s.NetPaidAmount.Equal(want) {
		return driftf("activity %s: net paid %s, want %s", s.ActivityID, s.NetPaidAmount, want)
	}
	if s.NetPaidAmount.GreaterThan(s.SubmittedAmount) {
		return driftf("activity %s: net paid %s exceeds submitted %s", s.ActivityID, s.NetPaidAmount, s.SubmittedAmount)
	}
	return nil
}

// CheckInvariants verifies status counts and the claim-level money rules.
func (p *ClaimPayment) CheckInvariants() error {
	if p.Sum() != p.Total {
		return driftf("claim key %d: status counts sum to %d, total is %d", p.ClaimKeyID, p.Sum(), p.Total)
	}
	if p.TotalPaidAmount.GreaterThan(p.TotalSubmittedAmount) {
		return driftf("claim key %d: paid %s exceeds submitted %s", p.ClaimKeyID, p.TotalPaidAmount, p.TotalSubmittedAmount)
	}
	if p.TotalNetPaidAmount.GreaterThan(p.TotalSubmittedAmount) {
		return driftf("claim key %d: net paid %s exceeds submitted %s", p.ClaimKeyID, p.TotalNetPaidAmount, p.TotalSubmittedAmount)
	}
	if p.ProcessingCycles != p.ResubmissionCount+1 {
		return driftf("claim key %d: processing cycles %d with %d resubmissions", p.ClaimKeyID, p.ProcessingCycles, p.ResubmissionCount)
	}
	return nil
}
