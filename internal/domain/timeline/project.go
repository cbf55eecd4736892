package timeline

import (
	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/domain/reconciliation"
)

// Project maps an event and the claim's payment status as of that event to
// a timeline status.
func Project(t claims.EventType, payment reconciliation.ActivityStatus) Status {
	switch t {
	case claims.EventSubmission:
		return StatusSubmitted
	case claims.EventResubmission:
		return StatusResubmitted
	case claims.EventRemittance:
		switch payment {
		case reconciliation.StatusFullyPaid:
			return StatusPaid
		case reconciliation.StatusPartiallyPaid, reconciliation.StatusPartiallyTakenBack:
			return StatusPartiallyPaid
		case reconciliation.StatusRejected:
			return StatusRejected
		}
	}
	return StatusUnknown
}

// Current picks the row with the greatest (status_time, id).
func Current(rows []*Entry) *Entry {
	var cur *Entry
	for _, r := range rows {
		if cur == nil || r.StatusTime.After(cur.StatusTime) ||
			(r.StatusTime.Equal(cur.StatusTime) && r.ID > cur.ID) {
			cur = r
		}
	}
	return cur
}
