package reconciliation

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/domain/claims"
)

func driftf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrReconciliationDrift, fmt.Sprintf(format, args...))
}

// RollupClaim sums activity summaries into the claim row and derives the
// lifecycle fields from the claim's facts.
func RollupClaim(claimKeyID int64, summaries []ActivitySummary, facts ClaimFacts) ClaimPayment {
	p := ClaimPayment{
		ClaimKeyID:           claimKeyID,
		TotalSubmittedAmount: decimal.Zero,
		TotalPaidAmount:      decimal.Zero,
		TotalRejectedAmount:  decimal.Zero,
		TotalDeniedAmount:    decimal.Zero,
		TotalTakenBackAmount: decimal.Zero,
		TotalNetPaidAmount:   decimal.Zero,
		PaymentReferences:    []string{},
	}
	for _, s := range summaries {
		p.TotalSubmittedAmount = p.TotalSubmittedAmount.Add(s.SubmittedAmount)
		p.TotalPaidAmount = p.TotalPaidAmount.Add(s.PaidAmount)
		p.TotalRejectedAmount = p.TotalRejectedAmount.Add(s.RejectedAmount)
		p.TotalDeniedAmount = p.TotalDeniedAmount.Add(s.DeniedAmount)
		p.TotalTakenBackAmount = p.TotalTakenBackAmount.Add(s.TakenBackAmount)
		p.TotalNetPaidAmount = p.TotalNetPaidAmount.Add(s.NetPaidAmount)
		p.StatusCounts.Add(s.Status)
	}
	p.PaymentStatus = DeriveClaimStatus(p.StatusCounts)

	applyLifecycle(&p, facts)
	return p
}

func applyLifecycle(p *ClaimPayment, f ClaimFacts) {
	var txAt time.Time
	bump := func(t time.Time) {
		if t.After(txAt) {
			txAt = t
		}
	}

	var submissions []time.Time
	for _, e := range f.Events {
		bump(e.EventTime)
		switch e.Type {
		case claims.EventSubmission:
			submissions = append(submissions, e.EventTime)
		case claims.EventResubmission:
			submissions = append(submissions, e.EventTime)
			p.ResubmissionCount++
		}
	}
	if len(submissions) == 0 && f.Claim != nil && !f.Claim.SubmittedAt.IsZero() {
		submissions = append(submissions, f.Claim.SubmittedAt)
	}
	p.FirstSubmissionDate, p.LastSubmissionDate = minMaxDate(submissions)
	p.ProcessingCycles = p.ResubmissionCount + 1

	var cycles, payments []time.Time
	distinct := make(map[int64]bool)
	for _, l := range f.Lines {
		bump(l.CycleTime)
		if ns := l.CycleTime.UnixNano(); !distinct[ns] {
			distinct[ns] = true
			cycles = append(cycles, l.CycleTime)
		}
		if l.PaymentAmount.IsPositive() {
			payments = append(payments, l.CycleTime)
		}
	}
	for _, r := range f.Remittances {
		bump(r.CycleTime)
		if ns := r.CycleTime.UnixNano(); !distinct[ns] {
			distinct[ns] = true
			cycles = append(cycles, r.CycleTime)
		}
	}
	p.RemittanceCount = len(cycles)
	p.FirstRemittanceDate, p.LastRemittanceDate = minMaxDate(cycles)
	p.FirstPaymentDate, p.LastPaymentDate = minMaxDate(payments)

	remits := make([]*claims.RemittanceClaim, len(f.Remittances))
	copy(remits, f.Remittances)
	sort.SliceStable(remits, func(i, j int) bool { return remits[i].CycleTime.Before(remits[j].CycleTime) })

	var settlements []time.Time
	seenRef := make(map[string]bool)
	var latestPayer *string
	for _, r := range remits {
		if r.DateSettlement != nil {
			settlements = append(settlements, *r.DateSettlement)
		}
		if r.PaymentReference != nil && *r.PaymentReference != "" {
			ref := *r.PaymentReference
			p.LatestPaymentReference = &ref
			if !seenRef[ref] {
				seenRef[ref] = true
				p.PaymentReferences = append(p.PaymentReferences, ref)
			}
		}
		if r.PayerRef != nil && *r.PayerRef != "" {
			latestPayer = r.PayerRef
		}
	}
	if _, last := minMaxDate(settlements); last != nil {
		p.LatestSettlementDate = last
	} else {
		p.LatestSettlementDate = p.LastRemittanceDate
	}

	if f.Claim != nil && f.Claim.PayerRef != nil {
		p.PayerRef = f.Claim.PayerRef
	} else if latestPayer != nil {
		ref := *latestPayer
		p.PayerRef = &ref
	}

	if p.FirstSubmissionDate != nil && p.FirstPaymentDate != nil {
		d := daysBetween(*p.FirstSubmissionDate, *p.FirstPaymentDate)
		p.DaysToFirstPayment = &d
	}
	if isFinal(p.PaymentStatus) && p.FirstSubmissionDate != nil && p.LatestSettlementDate != nil {
		d := daysBetween(*p.FirstSubmissionDate, *p.LatestSettlementDate)
		p.DaysToFinalSettlement = &d
	}
	p.TxAt = txAt
}

func isFinal(s ActivityStatus) bool {
	return s == StatusFullyPaid || s == StatusRejected || s == StatusTakenBack
}

// dateOf truncates t to its UTC calendar date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func minMaxDate(ts []time.Time) (first, last *time.Time) {
	for _, t := range ts {
		d := dateOf(t)
		if first == nil || d.Before(*first) {
			v := d
			first = &v
		}
		if last == nil || d.After(*last) {
			v := d
			last = &v
		}
	}
	return first, last
}

func daysBetween(from, to time.Time) int {
	d := int(dateOf(to).Sub(dateOf(from)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
