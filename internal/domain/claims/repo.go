package claims

import (
	"context"
)

// Repository is the append-only event log. Every Append* is idempotent:
// re-appending an identical fact reports inserted=false and changes nothing.
type Repository interface {
	EnsureClaimKey(ctx context.Context, claimID string) (*ClaimKey, error)
	GetClaimKey(ctx context.Context, claimID string) (*ClaimKey, error)
	// LockClaimKey takes the per-claim exclusive lock for the rest of the
	// enclosing transaction.
	LockClaimKey(ctx context.Context, claimKeyID int64) error

	CreateClaim(ctx context.Context, c *Claim) (bool, error)
	BackfillRefs(ctx context.Context, claimKeyID int64, payerRef, providerRef, facilityRef *string) error
	GetClaim(ctx context.Context, claimKeyID int64) (*Claim, error)

	AppendActivity(ctx context.Context, a *Activity) (bool, error)
	ListActivities(ctx context.Context, claimKeyID int64) ([]*Activity, error)

	AppendRemittanceClaim(ctx context.Context, r *RemittanceClaim) (bool, error)
	ListRemittanceClaims(ctx context.Context, claimKeyID int64) ([]*RemittanceClaim, error)
	AppendRemittanceActivity(ctx context.Context, r *RemittanceActivity) (bool, error)
	ListRemittanceActivities(ctx context.Context, claimKeyID int64) ([]*RemittanceActivity, error)

	// AppendEvent sets e.ID whether or not the event was new.
	AppendEvent(ctx context.Context, e *ClaimEvent) (bool, error)
	ListEvents(ctx context.Context, claimKeyID int64) ([]*ClaimEvent, error)
	SnapshotActivities(ctx context.Context, claimEventID int64, snaps []EventActivity) error
	ListEventActivities(ctx context.Context, claimEventID int64) ([]*EventActivity, error)
	AppendResubmission(ctx context.Context, r *Resubmission) error
}
