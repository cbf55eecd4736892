package reconciliation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/domain/claims"
)

// FinancialTimeline derives one row per event, ordered by (event_time, id).
// Cumulative columns reflect the claim as of each event's time. Remittance
// events get no row while the claim has no activities.
func FinancialTimeline(claimNet decimal.Decimal, events []*claims.ClaimEvent, activities []*claims.Activity, lines []*claims.RemittanceActivity) []TimelineEntry {
	ordered := make([]*claims.ClaimEvent, 0, len(events))
	for _, e := range events {
		if e.Type == claims.EventRemittance && len(activities) == 0 {
			continue
		}
		ordered = append(ordered, e)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].EventTime.Equal(ordered[j].EventTime) {
			return ordered[i].EventTime.Before(ordered[j].EventTime)
		}
		return ordered[i].ID < ordered[j].ID
	})

	out := make([]TimelineEntry, 0, len(ordered))
	for _, e := range ordered {
		out = append(out, TimelineRow(claimNet, e, activities, lines))
	}
	return out
}

// TimelineRow computes the financial timeline row for a single event.
func TimelineRow(claimNet decimal.Decimal, e *claims.ClaimEvent, activities []*claims.Activity, lines []*claims.RemittanceActivity) TimelineEntry {
	after := StateAsOf(activities, lines, e.EventTime)
	row := TimelineEntry{
		ClaimKeyID:         e.ClaimKeyID,
		ClaimEventID:       e.ID,
		EventTime:          e.EventTime,
		CumulativePaid:     after.NetPaid,
		CumulativeRejected: after.Rejected,
	}

	switch e.Type {
	case claims.EventSubmission:
		row.EventType = TimelineSubmission
		row.Amount = claimNet
	case claims.EventResubmission:
		row.EventType = TimelineResubmission
		row.Amount = claimNet
	default:
		before := StateWhere(activities, lines, func(ct time.Time) bool { return ct.Before(e.EventTime) })
		paidDelta := after.NetPaid.Sub(before.NetPaid)
		rejectedDelta := after.Rejected.Sub(before.Rejected)
		if rejectedDelta.IsPositive() && !paidDelta.IsPositive() {
			row.EventType = TimelineDenial
			row.Amount = rejectedDelta
			if code := denialAt(lines, e.EventTime); code != "" {
				row.DenialCode = &code
			} else if after.DenialCode != "" {
				code := after.DenialCode
				row.DenialCode = &code
			}
		} else {
			row.EventType = TimelinePayment
			row.Amount = paidDelta
		}
	}
	return row
}

// denialAt returns the latest denial code among the lines of one cycle.
func denialAt(lines []*claims.RemittanceActivity, t time.Time) string {
	var cycles []Cycle
	for _, c := range CyclesFrom(lines) {
		if c.Time.Equal(t) {
			cycles = append(cycles, c)
		}
	}
	SortCycles(cycles)
	for i := len(cycles) - 1; i >= 0; i-- {
		if cycles[i].DenialCode != "" {
			return cycles[i].DenialCode
		}
	}
	return ""
}
