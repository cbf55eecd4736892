package reconciliation

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/domain/claims"
)

// CyclesFrom converts stored remittance lines into cycles.
func CyclesFrom(lines []*claims.RemittanceActivity) []Cycle {
	out := make([]Cycle, 0, len(lines))
	for _, l := range lines {
		var code string
		if l.DenialCode != nil {
			code = strings.TrimSpace(*l.DenialCode)
		}
		out = append(out, Cycle{Time: l.CycleTime, Amount: l.PaymentAmount, DenialCode: code})
	}
	return out
}

// SortCycles orders cycles by time, then denial code (empty first), then
// amount. The last element is the latest cycle.
func SortCycles(cycles []Cycle) {
	sort.SliceStable(cycles, func(i, j int) bool {
		a, b := cycles[i], cycles[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.DenialCode != b.DenialCode {
			return a.DenialCode < b.DenialCode
		}
		return a.Amount.LessThan(b.Amount)
	})
}

// SummarizeActivity folds every remittance cycle of an activity into its
// summary. The result does not depend on the order of cycles.
func SummarizeActivity(submitted decimal.Decimal, cycles []Cycle) ActivitySummary {
	sorted := make([]Cycle, len(cycles))
	copy(sorted, cycles)
	SortCycles(sorted)

	s := ActivitySummary{
		SubmittedAmount: submitted,
		PaidAmount:      decimal.Zero,
		RejectedAmount:  decimal.Zero,
		DeniedAmount:    decimal.Zero,
		TakenBackAmount: decimal.Zero,
		NetPaidAmount:   decimal.Zero,
		DenialCodes:     DenialCodes{},
	}

	positive := decimal.Zero
	seen := make(map[int64]bool)
	for _, c := range sorted {
		switch {
		case c.Amount.IsPositive():
			positive = positive.Add(c.Amount)
		case c.Amount.IsNegative():
			s.TakenBackAmount = s.TakenBackAmount.Add(c.Amount.Abs())
			s.TakenBackCount++
		}
		if ns := c.Time.UnixNano(); !seen[ns] {
			seen[ns] = true
			s.RemittanceCount++
		}
	}
	s.PaidAmount = decimal.Min(submitted, positive)
	s.NetPaidAmount = decimal.Max(decimal.Zero, s.PaidAmount.Sub(s.TakenBackAmount))

	if n := len(sorted); n > 0 {
		first, last := sorted[0].Time, sorted[n-1].Time
		s.FirstRemittanceAt, s.LastRemittanceAt = &first, &last

		latest := sorted[n-1]
		if latest.DenialCode != "" && latest.Amount.IsZero() {
			s.DeniedAmount = decimal.Max(decimal.Zero, submitted.Sub(s.PaidAmount))
		}

		codes := make(map[string]bool)
		for i := n - 1; i >= 0; i-- {
			code := sorted[i].DenialCode
			if code != "" && !codes[code] {
				codes[code] = true
				s.DenialCodes = append(s.DenialCodes, code)
			}
		}
	}
	s.RejectedAmount = s.DeniedAmount
	s.Status = DeriveActivityStatus(s)
	return s
}

// ClaimState is the claim-wide financial position derived from a subset of
// the remittance lines.
type ClaimState struct {
	Submitted decimal.Decimal
	Paid      decimal.Decimal
	NetPaid   decimal.Decimal
	Rejected  decimal.Decimal
	Counts    StatusCounts
	Status    ActivityStatus
	// DenialCode is the latest denial code across activities, if any.
	DenialCode string
}

// StateWhere summarizes every activity using only the lines whose cycle time
// satisfies keep.
func StateWhere(activities []*claims.Activity, lines []*claims.RemittanceActivity, keep func(time.Time) bool) ClaimState {
	byActivity := make(map[string][]*claims.RemittanceActivity)
	for _, l := range lines {
		if keep != nil && !keep(l.CycleTime) {
			continue
		}
		byActivity[l.ActivityID] = append(byActivity[l.ActivityID], l)
	}

	st := ClaimState{Submitted: decimal.Zero, Paid: decimal.Zero, NetPaid: decimal.Zero, Rejected: decimal.Zero}
	var latestDenial time.Time
	for _, a := range activities {
		s := SummarizeActivity(a.Net, CyclesFrom(byActivity[a.ActivityID]))
		st.Submitted = st.Submitted.Add(s.SubmittedAmount)
		st.Paid = st.Paid.Add(s.PaidAmount)
		st.NetPaid = st.NetPaid.Add(s.NetPaidAmount)
		st.Rejected = st.Rejected.Add(s.RejectedAmount)
		st.Counts.Add(s.Status)
		if code := s.DenialCodes.Latest(); code != "" && s.LastRemittanceAt != nil && !s.LastRemittanceAt.Before(latestDenial) {
			latestDenial = *s.LastRemittanceAt
			st.DenialCode = code
		}
	}
	st.Status = DeriveClaimStatus(st.Counts)
	return st
}

// StateAsOf is the claim state using only cycles at or before t.
func StateAsOf(activities []*claims.Activity, lines []*claims.RemittanceActivity, t time.Time) ClaimState {
	return StateWhere(activities, lines, func(ct time.Time) bool { return !ct.After(t) })
}
