package payerperf

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Compute buckets the outcomes settled within month by payer. Rerunning it
// over the same outcomes yields the same summaries.
func Compute(month time.Time, outcomes []*ClaimOutcome) []*Summary {
	start := MonthOf(month)
	end := start.AddDate(0, 1, 0)

	type acc struct {
		s        *Summary
		days     int
		daysSeen int
	}
	byPayer := make(map[string]*acc)
	for _, o := range outcomes {
		if o.SettlementDate == nil || o.SettlementDate.Before(start) || !o.SettlementDate.Before(end) {
			continue
		}
		payer := UnknownPayer
		if o.PayerRef != nil && *o.PayerRef != "" {
			payer = *o.PayerRef
		}
		a, ok := byPayer[payer]
		if !ok {
			a = &acc{s: &Summary{PayerRef: payer, MonthBucket: start}}
			byPayer[payer] = a
		}
		a.s.TotalClaims++
		a.s.TotalSubmittedAmount = a.s.TotalSubmittedAmount.Add(o.Submitted)
		a.s.TotalPaidAmount = a.s.TotalPaidAmount.Add(o.NetPaid)
		a.s.TotalRejectedAmount = a.s.TotalRejectedAmount.Add(o.Rejected)
		if o.DaysToFinalSettlement != nil {
			a.days += *o.DaysToFinalSettlement
			a.daysSeen++
		}
	}

	out := make([]*Summary, 0, len(byPayer))
	for _, a := range byPayer {
		a.s.PaymentRate = rate(a.s.TotalPaidAmount, a.s.TotalSubmittedAmount)
		a.s.RejectionRate = rate(a.s.TotalRejectedAmount, a.s.TotalSubmittedAmount)
		if a.daysSeen > 0 {
			avg := decimal.NewFromInt(int64(a.days)).
				Div(decimal.NewFromInt(int64(a.daysSeen))).Round(2)
			a.s.AvgProcessingDays = &avg
		}
		out = append(out, a.s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayerRef < out[j].PayerRef })
	return out
}

// rate is part/whole as a percentage rounded to cents and clamped to
// [0, 100]. It is zero when whole is not positive.
func rate(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	r := part.Div(whole).Mul(hundred).Round(2)
	switch {
	case r.IsNegative():
		return decimal.Zero
	case r.GreaterThan(hundred):
		return hundred
	}
	return r
}
