package reconciliation

import (
	"context"

	"github.com/ehr/claims/internal/domain/claims"
)

// Repository stores the reconciled aggregates.
type Repository interface {
	UpsertActivitySummary(ctx context.Context, s *ActivitySummary) error
	ListActivitySummaries(ctx context.Context, claimKeyID int64) ([]*ActivitySummary, error)
	UpsertClaimPayment(ctx context.Context, p *ClaimPayment) error
	GetClaimPayment(ctx context.Context, claimKeyID int64) (*ClaimPayment, error)
	// AppendTimeline is a no-op when the event already has a row.
	AppendTimeline(ctx context.Context, e *TimelineEntry) (bool, error)
	ListFinancialTimeline(ctx context.Context, claimKeyID int64) ([]*TimelineEntry, error)
}

// EventLog is the slice of the claims repository the aggregator reads.
type EventLog interface {
	GetClaimKey(ctx context.Context, claimID string) (*claims.ClaimKey, error)
	LockClaimKey(ctx context.Context, claimKeyID int64) error
	GetClaim(ctx context.Context, claimKeyID int64) (*claims.Claim, error)
	ListActivities(ctx context.Context, claimKeyID int64) ([]*claims.Activity, error)
	ListRemittanceClaims(ctx context.Context, claimKeyID int64) ([]*claims.RemittanceClaim, error)
	ListRemittanceActivities(ctx context.Context, claimKeyID int64) ([]*claims.RemittanceActivity, error)
	ListEvents(ctx context.Context, claimKeyID int64) ([]*claims.ClaimEvent, error)
}
