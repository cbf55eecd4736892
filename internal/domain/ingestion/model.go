package ingestion

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/domain/verification"
)

// Batch is one unit of ingestion. Every fact in it commits together or not
// at all.
type Batch struct {
	ID            uuid.UUID      `json:"batch_id"`
	Submissions   []Submission   `json:"submissions"`
	Resubmissions []Resubmission `json:"resubmissions"`
	Remittances   []Remittance   `json:"remittances"`
}

type Submission struct {
	ClaimID      string          `json:"claim_id"`
	PayerRef     *string         `json:"payer_ref,omitempty"`
	ProviderRef  *string         `json:"provider_ref,omitempty"`
	FacilityRef  *string         `json:"facility_ref,omitempty"`
	Gross        decimal.Decimal `json:"gross"`
	PatientShare decimal.Decimal `json:"patient_share"`
	Net          decimal.Decimal `json:"net"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	Activities   []Activity      `json:"activities"`
}

type Activity struct {
	ActivityID   string          `json:"activity_id"`
	StartAt      *time.Time      `json:"start_at,omitempty"`
	Type         *string         `json:"type,omitempty"`
	Code         *string         `json:"code,omitempty"`
	ClinicianRef *string         `json:"clinician_ref,omitempty"`
	Net          decimal.Decimal `json:"net"`
}

// Resubmission may introduce activities the original submission lacked.
// Activities already stored are left unchanged.
type Resubmission struct {
	ClaimID          string     `json:"claim_id"`
	EventTime        time.Time  `json:"event_time"`
	ResubmissionType string     `json:"resubmission_type"`
	Comment          *string    `json:"comment,omitempty"`
	Activities       []Activity `json:"activities,omitempty"`
}

type Remittance struct {
	ClaimID          string           `json:"claim_id"`
	CycleTime        time.Time        `json:"cycle_time"`
	PayerRef         *string          `json:"payer_ref,omitempty"`
	ProviderRef      *string          `json:"provider_ref,omitempty"`
	PaymentReference *string          `json:"payment_reference,omitempty"`
	DateSettlement   *time.Time       `json:"date_settlement,omitempty"`
	Activities       []RemittanceLine `json:"activities"`
}

type RemittanceLine struct {
	ActivityID    string          `json:"activity_id"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	DenialCode    *string         `json:"denial_code,omitempty"`
}

// Validate checks the batch shape. Per-fact rules are enforced when each
// fact is written.
func (b *Batch) Validate() error {
	if len(b.Submissions)+len(b.Resubmissions)+len(b.Remittances) == 0 {
		return fmt.Errorf("%w: batch has no facts", claims.ErrConstraintViolation)
	}
	for i, s := range b.Submissions {
		if strings.TrimSpace(s.ClaimID) == "" {
			return fmt.Errorf("%w: submissions[%d]: claim_id is required", claims.ErrConstraintViolation, i)
		}
	}
	for i, r := range b.Resubmissions {
		if strings.TrimSpace(r.ClaimID) == "" {
			return fmt.Errorf("%w: resubmissions[%d]: claim_id is required", claims.ErrConstraintViolation, i)
		}
		if strings.TrimSpace(r.ResubmissionType) == "" {
			return fmt.Errorf("%w: resubmissions[%d]: resubmission_type is required", claims.ErrConstraintViolation, i)
		}
	}
	for i, r := range b.Remittances {
		if strings.TrimSpace(r.ClaimID) == "" {
			return fmt.Errorf("%w: remittances[%d]: claim_id is required", claims.ErrConstraintViolation, i)
		}
		if len(r.Activities) == 0 {
			return fmt.Errorf("%w: remittances[%d]: no activities", claims.ErrConstraintViolation, i)
		}
	}
	return nil
}

// ClaimIDs returns the distinct external claim ids the batch touches, sorted.
func (b *Batch) ClaimIDs() []string {
	seen := make(map[string]bool)
	add := func(id string) { seen[strings.TrimSpace(id)] = true }
	for _, s := range b.Submissions {
		add(s.ClaimID)
	}
	for _, r := range b.Resubmissions {
		add(r.ClaimID)
	}
	for _, r := range b.Remittances {
		add(r.ClaimID)
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counts tallies facts by kind.
type Counts struct {
	Claims               int `json:"claims"`
	Activities           int `json:"activities"`
	RemittanceClaims     int `json:"remittance_claims"`
	RemittanceActivities int `json:"remittance_activities"`
	Events               int `json:"events"`
}

// ClaimOutcome is a touched claim's state after the batch committed.
type ClaimOutcome struct {
	ClaimID       string `json:"claim_id"`
	ClaimKeyID    int64  `json:"claim_key_id"`
	PaymentStatus string `json:"payment_status"`
	StatusRows    int    `json:"status_rows"`
}

type Result struct {
	BatchID      uuid.UUID         `json:"batch_id"`
	Inserted     Counts            `json:"inserted"`
	Duplicates   Counts            `json:"duplicates"`
	Claims       []ClaimOutcome    `json:"claims"`
	Verification *verification.Run `json:"verification,omitempty"`
}

func (r *Result) record(inserted bool, pick func(*Counts) *int) {
	if inserted {
		*pick(&r.Inserted)++
		return
	}
	*pick(&r.Duplicates)++
}

func claimsCount(c *Counts) *int               { return &c.Claims }
func activitiesCount(c *Counts) *int           { return &c.Activities }
func remittanceClaimsCount(c *Counts) *int     { return &c.RemittanceClaims }
func remittanceActivitiesCount(c *Counts) *int { return &c.RemittanceActivities }
func eventsCount(c *Counts) *int               { return &c.Events }
