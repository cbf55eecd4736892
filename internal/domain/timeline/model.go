package timeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status codes are persisted verbatim and must not be renumbered.
type Status int16

const (
	StatusSubmitted     Status = 1
	StatusResubmitted   Status = 2
	StatusPaid          Status = 3
	StatusPartiallyPaid Status = 4
	StatusRejected      Status = 5
	StatusUnknown       Status = 6
)

var statusNames = map[Status]string{
	StatusSubmitted:     "SUBMITTED",
	StatusResubmitted:   "RESUBMITTED",
	StatusPaid:          "PAID",
	StatusPartiallyPaid: "PARTIALLY_PAID",
	StatusRejected:      "REJECTED",
	StatusUnknown:       "UNKNOWN",
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int16(s))
}

// Entry is one row of the claim status timeline.
type Entry struct {
	ID           int64     `json:"id"`
	ClaimKeyID   int64     `json:"claim_key_id"`
	Status       Status    `json:"status"`
	StatusTime   time.Time `json:"status_time"`
	ClaimEventID *int64    `json:"claim_event_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// MarshalJSON adds the status name next to the numeric code.
func (e Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	return json.Marshal(struct {
		alias
		StatusName string `json:"status_name"`
	}{alias(e), e.Status.String()})
}
