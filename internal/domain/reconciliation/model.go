package reconciliation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/domain/claims"
)

// ErrReconciliationDrift means a rebuilt aggregate broke one of its own
// invariants. It is a defect, never a data problem, and aborts the write.
var ErrReconciliationDrift = errors.New("reconciliation drift")

// ActivityStatus is the payment state of a single activity.
type ActivityStatus string

const (
	StatusPending            ActivityStatus = "PENDING"
	StatusPartiallyPaid      ActivityStatus = "PARTIALLY_PAID"
	StatusFullyPaid          ActivityStatus = "FULLY_PAID"
	StatusRejected           ActivityStatus = "REJECTED"
	StatusTakenBack          ActivityStatus = "TAKEN_BACK"
	StatusPartiallyTakenBack ActivityStatus = "PARTIALLY_TAKEN_BACK"
)

// DenialCodes holds distinct codes, most recent first.
type DenialCodes []string

func (d DenialCodes) Latest() string {
	if len(d) == 0 {
		return ""
	}
	return d[0]
}

func (d DenialCodes) First() string {
	if len(d) == 0 {
		return ""
	}
	return d[len(d)-1]
}

// Cycle is one remittance line for an activity. Amount is signed.
type Cycle struct {
	Time       time.Time
	Amount     decimal.Decimal
	DenialCode string
}

type ActivitySummary struct {
	ClaimKeyID        int64           `json:"claim_key_id"`
	ActivityID        string          `json:"activity_id"`
	SubmittedAmount   decimal.Decimal `json:"submitted_amount"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	RejectedAmount    decimal.Decimal `json:"rejected_amount"`
	DeniedAmount      decimal.Decimal `json:"denied_amount"`
	TakenBackAmount   decimal.Decimal `json:"taken_back_amount"`
	TakenBackCount    int             `json:"taken_back_count"`
	NetPaidAmount     decimal.Decimal `json:"net_paid_amount"`
	RemittanceCount   int             `json:"remittance_count"`
	DenialCodes       DenialCodes     `json:"denial_codes"`
	Status            ActivityStatus  `json:"activity_status"`
	FirstRemittanceAt *time.Time      `json:"first_remittance_at,omitempty"`
	LastRemittanceAt  *time.Time      `json:"last_remittance_at,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// StatusCounts tallies activities per status. The six buckets always sum to
// Total.
type StatusCounts struct {
	Total              int `json:"total_activities"`
	Paid               int `json:"paid_activities"`
	PartiallyPaid      int `json:"partially_paid_activities"`
	Rejected           int `json:"rejected_activities"`
	Pending            int `json:"pending_activities"`
	TakenBack          int `json:"taken_back_activities"`
	PartiallyTakenBack int `json:"partially_taken_back_activities"`
}

func (c *StatusCounts) Add(s ActivityStatus) {
	c.Total++
	switch s {
	case StatusFullyPaid:
		c.Paid++
	case StatusPartiallyPaid:
		c.PartiallyPaid++
	case StatusRejected:
		c.Rejected++
	case StatusTakenBack:
		c.TakenBack++
	case StatusPartiallyTakenBack:
		c.PartiallyTakenBack++
	default:
		c.Pending++
	}
}

func (c StatusCounts) Sum() int {
	return c.Paid + c.PartiallyPaid + c.Rejected + c.Pending + c.TakenBack + c.PartiallyTakenBack
}

// ClaimPayment is the claim-level rollup row.
type ClaimPayment struct {
	ClaimKeyID           int64           `json:"claim_key_id"`
	PayerRef             *string         `json:"payer_ref,omitempty"`
	TotalSubmittedAmount decimal.Decimal `json:"total_submitted_amount"`
	TotalPaidAmount      decimal.Decimal `json:"total_paid_amount"`
	TotalRejectedAmount  decimal.Decimal `json:"total_rejected_amount"`
	TotalDeniedAmount    decimal.Decimal `json:"total_denied_amount"`
	TotalTakenBackAmount decimal.Decimal `json:"total_taken_back_amount"`
	TotalNetPaidAmount   decimal.Decimal `json:"total_net_paid_amount"`
	StatusCounts
	PaymentStatus ActivityStatus `json:"payment_status"`

	RemittanceCount        int        `json:"remittance_count"`
	ResubmissionCount      int        `json:"resubmission_count"`
	FirstSubmissionDate    *time.Time `json:"first_submission_date,omitempty"`
	LastSubmissionDate     *time.Time `json:"last_submission_date,omitempty"`
	FirstRemittanceDate    *time.Time `json:"first_remittance_date,omitempty"`
	LastRemittanceDate     *time.Time `json:"last_remittance_date,omitempty"`
	FirstPaymentDate       *time.Time `json:"first_payment_date,omitempty"`
	LastPaymentDate        *time.Time `json:"last_payment_date,omitempty"`
	LatestSettlementDate   *time.Time `json:"latest_settlement_date,omitempty"`
	DaysToFirstPayment     *int       `json:"days_to_first_payment,omitempty"`
	DaysToFinalSettlement  *int       `json:"days_to_final_settlement,omitempty"`
	ProcessingCycles       int        `json:"processing_cycles"`
	LatestPaymentReference *string    `json:"latest_payment_reference,omitempty"`
	PaymentReferences      []string   `json:"payment_references"`
	TxAt                   time.Time  `json:"tx_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// ClaimFacts is everything in the event log about one claim that the rollup
// needs beyond the activity summaries.
type ClaimFacts struct {
	Claim       *claims.Claim
	Events      []*claims.ClaimEvent
	Remittances []*claims.RemittanceClaim
	Lines       []*claims.RemittanceActivity
}

// Financial timeline row types.
const (
	TimelineSubmission   = "SUBMISSION"
	TimelineResubmission = "RESUBMISSION"
	TimelinePayment      = "PAYMENT"
	TimelineDenial       = "DENIAL"
)

type TimelineEntry struct {
	ID                 int64           `json:"id"`
	ClaimKeyID         int64           `json:"claim_key_id"`
	ClaimEventID       int64           `json:"claim_event_id"`
	EventType          string          `json:"event_type"`
	EventTime          time.Time       `json:"event_time"`
	Amount             decimal.Decimal `json:"amount"`
	// CumulativePaid is net of takebacks, so it is the running sum of the
	// PAYMENT row amounts.
	CumulativePaid     decimal.Decimal `json:"cumulative_paid"`
	CumulativeRejected decimal.Decimal `json:"cumulative_rejected"`
	DenialCode         *string         `json:"denial_code,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}
