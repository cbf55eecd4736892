package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/domain/reconciliation"
	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/cache"
	"github.com/ehr/claims/internal/platform/db"
)

// EventLog is the slice of the claims repository the projector reads.
type EventLog interface {
	GetClaimKey(ctx context.Context, claimID string) (*claims.ClaimKey, error)
	ListEvents(ctx context.Context, claimKeyID int64) ([]*claims.ClaimEvent, error)
}

// PaymentSource answers the claim's payment status at a point in time. An
// empty status means the claim has no activities yet.
type PaymentSource interface {
	AsOf(ctx context.Context, claimKeyID int64, t time.Time) (reconciliation.ActivityStatus, error)
}

type Service struct {
	events   EventLog
	payments PaymentSource
	repo     Repository
	tx       db.Transactor
	cache    *cache.Cache
	ttl      time.Duration
	logger   zerolog.Logger
}

func NewService(events EventLog, payments PaymentSource, repo Repository, tx db.Transactor, c *cache.Cache, ttl time.Duration, logger zerolog.Logger) *Service {
	if c == nil {
		c = cache.Disabled()
	}
	return &Service{events: events, payments: payments, repo: repo, tx: tx, cache: c, ttl: ttl, logger: logger}
}

func statusCacheKey(ctx context.Context, claimID string) string {
	return cache.TenantKey(ctx, "status", claimID)
}

// OnEvent appends the timeline row for a newly stored event. Calling it again
// for the same event leaves the timeline unchanged. A remittance that arrives
// before the claim has any activities gets no row yet; Rebuild adds it once
// the submission is stored.
func (s *Service) OnEvent(ctx context.Context, e *claims.ClaimEvent) (*Entry, bool, error) {
	if e.ID == 0 {
		return nil, false, fmt.Errorf("%w: event has no id", claims.ErrConstraintViolation)
	}
	var payment reconciliation.ActivityStatus
	if e.Type == claims.EventRemittance {
		st, err := s.payments.AsOf(ctx, e.ClaimKeyID, e.EventTime)
		if err != nil {
			return nil, false, fmt.Errorf("payment status as of %s: %w", e.EventTime.Format(time.RFC3339), err)
		}
		if st == "" {
			return nil, false, nil
		}
		payment = st
	}
	eventID := e.ID
	entry := &Entry{
		ClaimKeyID:   e.ClaimKeyID,
		Status:       Project(e.Type, payment),
		StatusTime:   e.EventTime,
		ClaimEventID: &eventID,
	}
	inserted, err := s.repo.Append(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	return entry, inserted, nil
}

// Rebuild replays every event of a claim, filling any missing rows.
func (s *Service) Rebuild(ctx context.Context, claimKeyID int64) (int, error) {
	added := 0
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		events, err := s.events.ListEvents(ctx, claimKeyID)
		if err != nil {
			return err
		}
		for _, e := range events {
			_, inserted, err := s.OnEvent(ctx, e)
			if err != nil {
				return err
			}
			if inserted {
				added++
			}
		}
		return nil
	})
	return added, err
}

func (s *Service) resolve(ctx context.Context, claimID string) (*claims.ClaimKey, error) {
	if err := auth.Authorize(ctx, auth.OpReadClaims); err != nil {
		return nil, err
	}
	if claimID == "" {
		return nil, fmt.Errorf("%w: claim_id is required", claims.ErrConstraintViolation)
	}
	return s.events.GetClaimKey(ctx, claimID)
}

func (s *Service) CurrentStatus(ctx context.Context, claimID string) (*Entry, error) {
	key, err := s.resolve(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return cache.GetOrLoad(ctx, s.cache, statusCacheKey(ctx, claimID), s.ttl,
		func(ctx context.Context) (*Entry, error) {
			return s.repo.Current(ctx, key.ID)
		})
}

func (s *Service) History(ctx context.Context, claimID string) ([]*Entry, error) {
	key, err := s.resolve(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return s.repo.History(ctx, key.ID)
}

func (s *Service) InvalidateClaim(ctx context.Context, claimID string) error {
	return s.cache.Invalidate(ctx, statusCacheKey(ctx, claimID))
}
