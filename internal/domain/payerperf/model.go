package payerperf

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UnknownPayer buckets claims that carry no payer reference.
const UnknownPayer = "UNKNOWN"

// Summary is one payer's outcome for one calendar month.
type Summary struct {
	PayerRef             string           `json:"payer_ref"`
	MonthBucket          time.Time        `json:"month_bucket"`
	TotalClaims          int              `json:"total_claims"`
	TotalSubmittedAmount decimal.Decimal  `json:"total_submitted_amount"`
	TotalPaidAmount      decimal.Decimal  `json:"total_paid_amount"`
	TotalRejectedAmount  decimal.Decimal  `json:"total_rejected_amount"`
	PaymentRate          decimal.Decimal  `json:"payment_rate"`
	RejectionRate        decimal.Decimal  `json:"rejection_rate"`
	AvgProcessingDays    *decimal.Decimal `json:"avg_processing_days,omitempty"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// ClaimOutcome is the slice of a claim payment row the rollup reads.
type ClaimOutcome struct {
	ClaimKeyID            int64
	PayerRef              *string
	Submitted             decimal.Decimal
	NetPaid               decimal.Decimal
	Rejected              decimal.Decimal
	SettlementDate        *time.Time
	DaysToFinalSettlement *int
}

// MonthOf returns the first day of t's UTC month.
func MonthOf(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// ParseMonth parses a YYYY-MM month bucket.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	return t, nil
}
