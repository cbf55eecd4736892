package payerperf

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, dd int) *time.Time {
	t := time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
	return &t
}

func ptrStr(s string) *string { return &s }
func ptrInt(n int) *int       { return &n }

func outcome(payer *string, submitted, paid, rejected string, settled *time.Time, days *int) *ClaimOutcome {
	return &ClaimOutcome{
		PayerRef: payer, Submitted: d(submitted), NetPaid: d(paid), Rejected: d(rejected),
		SettlementDate: settled, DaysToFinalSettlement: days,
	}
}

func TestCompute_BucketsByPayerAndMonth(t *testing.T) {
	month := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	outcomes := []*ClaimOutcome{
		outcome(ptrStr("PAYER-A"), "100", "100", "0", day(2025, 3, 1), ptrInt(10)),
		outcome(ptrStr("PAYER-A"), "300", "150", "150", day(2025, 3, 31), ptrInt(20)),
		outcome(ptrStr("PAYER-B"), "50", "0", "50", day(2025, 3, 15), nil),
		outcome(nil, "10", "10", "0", day(2025, 3, 2), ptrInt(3)),
		outcome(ptrStr("PAYER-A"), "999", "999", "0", day(2025, 4, 1), ptrInt(1)),
		outcome(ptrStr("PAYER-A"), "999", "999", "0", day(2025, 2, 28), ptrInt(1)),
		outcome(ptrStr("PAYER-A"), "999", "0", "0", nil, nil),
	}

	got := Compute(month, outcomes)
	if len(got) != 3 {
		t.Fatalf("summaries = %d, want 3", len(got))
	}
	if got[0].PayerRef != "PAYER-A" || got[1].PayerRef != "PAYER-B" || got[2].PayerRef != UnknownPayer {
		t.Fatalf("order = %s, %s, %s", got[0].PayerRef, got[1].PayerRef, got[2].PayerRef)
	}

	a := got[0]
	if a.TotalClaims != 2 || !a.TotalSubmittedAmount.Equal(d("400")) || !a.TotalPaidAmount.Equal(d("250")) ||
		!a.TotalRejectedAmount.Equal(d("150")) {
		t.Errorf("payer A totals = %+v", a)
	}
	if !a.PaymentRate.Equal(d("62.5")) || !a.RejectionRate.Equal(d("37.5")) {
		t.Errorf("payer A rates = %s / %s", a.PaymentRate, a.RejectionRate)
	}
	if a.AvgProcessingDays == nil || !a.AvgProcessingDays.Equal(d("15")) {
		t.Errorf("payer A avg days = %v", a.AvgProcessingDays)
	}
	if !a.MonthBucket.Equal(month) {
		t.Errorf("month bucket = %s", a.MonthBucket)
	}

	if got[1].AvgProcessingDays != nil {
		t.Error("avg days should be absent when no claim has settled days")
	}
	if !got[1].RejectionRate.Equal(d("100")) {
		t.Errorf("payer B rejection rate = %s", got[1].RejectionRate)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	month := time.Date(2025, 3, 17, 12, 0, 0, 0, time.UTC)
	outcomes := []*ClaimOutcome{
		outcome(ptrStr("P"), "100", "40", "60", day(2025, 3, 5), ptrInt(4)),
	}
	first := Compute(month, outcomes)
	second := Compute(month, outcomes)
	if !first[0].TotalPaidAmount.Equal(second[0].TotalPaidAmount) || first[0].TotalClaims != second[0].TotalClaims {
		t.Error("rerunning the rollup must not accumulate")
	}
	if !first[0].MonthBucket.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("bucket should truncate to the first of the month, got %s", first[0].MonthBucket)
	}
}

func TestRate(t *testing.T) {
	tests := []struct {
		part, whole, want string
	}{
		{"50", "100", "50"},
		{"1", "3", "33.33"},
		{"150", "100", "100"},
		{"-5", "100", "0"},
		{"10", "0", "0"},
		{"10", "-1", "0"},
	}
	for _, tt := range tests {
		if got := rate(d(tt.part), d(tt.whole)); !got.Equal(d(tt.want)) {
			t.Errorf("rate(%s, %s) = %s, want %s", tt.part, tt.whole, got, tt.want)
		}
	}
}

func TestParseMonth(t *testing.T) {
	m, err := ParseMonth("2025-02")
	if err != nil || !m.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ParseMonth = %s, %v", m, err)
	}
	for _, bad := range []string{"2025-13", "2025/02", "Feb 2025", ""} {
		if _, err := ParseMonth(bad); err == nil {
			t.Errorf("ParseMonth(%q) should fail", bad)
		}
	}
}
