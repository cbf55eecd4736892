package claims

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrConstraintViolation marks a fact rejected at the write boundary.
	ErrConstraintViolation = errors.New("constraint violation")
	ErrNotFound            = errors.New("not found")
)

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConstraintViolation, fmt.Sprintf(format, args...))
}

// EventType codes are stored as-is in claim_event.type.
type EventType int16

const (
	EventSubmission   EventType = 1
	EventResubmission EventType = 2
	EventRemittance   EventType = 3
)

var eventTypeNames = map[EventType]string{
	EventSubmission:   "SUBMISSION",
	EventResubmission: "RESUBMISSION",
	EventRemittance:   "REMITTANCE",
}

func (t EventType) Valid() bool {
	_, ok := eventTypeNames[t]
	return ok
}

func (t EventType) String() string {
	if n, ok := eventTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("EventType(%d)", int16(t))
}

// ParseEventType accepts either the name or the numeric code.
func ParseEventType(s string) (EventType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for t, n := range eventTypeNames {
		if s == n || s == fmt.Sprint(int16(t)) {
			return t, nil
		}
	}
	return 0, violation("invalid event type %q", s)
}

type ClaimKey struct {
	ID        int64     `db:"id" json:"id"`
	ClaimID   string    `db:"claim_id" json:"claim_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Claim struct {
	ID           int64           `db:"id" json:"id"`
	ClaimKeyID   int64           `db:"claim_key_id" json:"claim_key_id"`
	PayerRef     *string         `db:"payer_ref" json:"payer_ref,omitempty"`
	ProviderRef  *string         `db:"provider_ref" json:"provider_ref,omitempty"`
	FacilityRef  *string         `db:"facility_ref" json:"facility_ref,omitempty"`
	Gross        decimal.Decimal `db:"gross" json:"gross"`
	PatientShare decimal.Decimal `db:"patient_share" json:"patient_share"`
	Net          decimal.Decimal `db:"net" json:"net"`
	SubmittedAt  time.Time       `db:"submitted_at" json:"submitted_at"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

func (c *Claim) Validate() error {
	if c.ClaimKeyID == 0 {
		return violation("claim_key_id is required")
	}
	if c.Gross.IsNegative() || c.PatientShare.IsNegative() || c.Net.IsNegative() {
		return violation("claim amounts must not be negative")
	}
	if c.SubmittedAt.IsZero() {
		return violation("submitted_at is required")
	}
	return nil
}

type Activity struct {
	ID           int64           `db:"id" json:"id"`
	ClaimKeyID   int64           `db:"claim_key_id" json:"claim_key_id"`
	ActivityID   string          `db:"activity_id" json:"activity_id"`
	StartAt      *time.Time      `db:"start_at" json:"start_at,omitempty"`
	Type         *string         `db:"type" json:"type,omitempty"`
	Code         *string         `db:"code" json:"code,omitempty"`
	ClinicianRef *string         `db:"clinician_ref" json:"clinician_ref,omitempty"`
	Net          decimal.Decimal `db:"net" json:"net"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

func (a *Activity) Validate() error {
	if a.ClaimKeyID == 0 {
		return violation("claim_key_id is required")
	}
	if strings.TrimSpace(a.ActivityID) == "" {
		return violation("activity_id is required")
	}
	if a.Net.IsNegative() {
		return violation("activity %s: net must not be negative, got %s", a.ActivityID, a.Net)
	}
	return nil
}

// RemittanceClaim is the claim-level header of one remittance cycle.
type RemittanceClaim struct {
	ID               int64      `db:"id" json:"id"`
	ClaimKeyID       int64      `db:"claim_key_id" json:"claim_key_id"`
	CycleTime        time.Time  `db:"cycle_time" json:"cycle_time"`
	PayerRef         *string    `db:"payer_ref" json:"payer_ref,omitempty"`
	ProviderRef      *string    `db:"provider_ref" json:"provider_ref,omitempty"`
	PaymentReference *string    `db:"payment_reference" json:"payment_reference,omitempty"`
	DateSettlement   *time.Time `db:"date_settlement" json:"date_settlement,omitempty"`
	BatchID          *uuid.UUID `db:"batch_id" json:"batch_id,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

func (r *RemittanceClaim) Validate() error {
	if r.ClaimKeyID == 0 {
		return violation("claim_key_id is required")
	}
	if r.CycleTime.IsZero() {
		return violation("cycle_time is required")
	}
	return nil
}

// RemittanceActivity is one payer response line. PaymentAmount is signed;
// a negative amount is a takeback.
type RemittanceActivity struct {
	ID            int64           `db:"id" json:"id"`
	ClaimKeyID    int64           `db:"claim_key_id" json:"claim_key_id"`
	ActivityID    string          `db:"activity_id" json:"activity_id"`
	CycleTime     time.Time       `db:"cycle_time" json:"cycle_time"`
	PaymentAmount decimal.Decimal `db:"payment_amount" json:"payment_amount"`
	DenialCode    *string         `db:"denial_code" json:"denial_code,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

func (r *RemittanceActivity) Validate() error {
	if r.ClaimKeyID == 0 {
		return violation("claim_key_id is required")
	}
	if strings.TrimSpace(r.ActivityID) == "" {
		return violation("activity_id is required")
	}
	if r.CycleTime.IsZero() {
		return violation("activity %s: cycle_time is required", r.ActivityID)
	}
	if r.DenialCode != nil && strings.TrimSpace(*r.DenialCode) == "" {
		r.DenialCode = nil
	}
	return nil
}

// SameFact reports whether two remittance lines are the identical tuple
// (claim, activity, cycle, amount, denial code).
func (r *RemittanceActivity) SameFact(o *RemittanceActivity) bool {
	return r.ClaimKeyID == o.ClaimKeyID &&
		r.ActivityID == o.ActivityID &&
		r.CycleTime.Equal(o.CycleTime) &&
		r.PaymentAmount.Equal(o.PaymentAmount) &&
		deref(r.DenialCode) == deref(o.DenialCode)
}

type ClaimEvent struct {
	ID         int64      `db:"id" json:"id"`
	ClaimKeyID int64      `db:"claim_key_id" json:"claim_key_id"`
	Type       EventType  `db:"type" json:"type"`
	EventTime  time.Time  `db:"event_time" json:"event_time"`
	BatchID    *uuid.UUID `db:"batch_id" json:"batch_id,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

func (e *ClaimEvent) Validate() error {
	if e.ClaimKeyID == 0 {
		return violation("claim_key_id is required")
	}
	if !e.Type.Valid() {
		return violation("invalid event type %d", int16(e.Type))
	}
	if e.EventTime.IsZero() {
		return violation("event_time is required")
	}
	return nil
}

// EventActivity is the state of one activity captured at an event.
type EventActivity struct {
	ClaimEventID         int64               `db:"claim_event_id" json:"claim_event_id"`
	ActivityID           string              `db:"activity_id" json:"activity_id"`
	NetAtEvent           decimal.NullDecimal `db:"net_at_event" json:"net_at_event"`
	PaymentAmountAtEvent decimal.NullDecimal `db:"payment_amount_at_event" json:"payment_amount_at_event"`
	DenialCodeAtEvent    *string             `db:"denial_code_at_event" json:"denial_code_at_event,omitempty"`
}

// Resubmission carries the payer-facing reason attached to a RESUBMISSION event.
type Resubmission struct {
	ClaimEventID     int64   `db:"claim_event_id" json:"claim_event_id"`
	ResubmissionType string  `db:"resubmission_type" json:"resubmission_type"`
	Comment          *string `db:"comment" json:"comment,omitempty"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
