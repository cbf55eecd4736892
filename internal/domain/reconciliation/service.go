package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/cache"
	"github.com/ehr/claims/internal/platform/db"
)

type Service struct {
	events EventLog
	repo   Repository
	tx     db.Transactor
	cache  *cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewService(events EventLog, repo Repository, tx db.Transactor, c *cache.Cache, ttl time.Duration, logger zerolog.Logger) *Service {
	if c == nil {
		c = cache.Disabled()
	}
	return &Service{events: events, repo: repo, tx: tx, cache: c, ttl: ttl, logger: logger}
}

func paymentCacheKey(ctx context.Context, claimID string) string {
	return cache.TenantKey(ctx, "payment", claimID)
}

func (s *Service) summarize(act *claims.Activity, lines []*claims.RemittanceActivity) (*ActivitySummary, error) {
	if act.Net.IsNegative() {
		return nil, fmt.Errorf("%w: activity %s has negative net %s", claims.ErrConstraintViolation, act.ActivityID, act.Net)
	}
	sum := SummarizeActivity(act.Net, CyclesFrom(lines))
	sum.ClaimKeyID = act.ClaimKeyID
	sum.ActivityID = act.ActivityID
	if err := sum.CheckInvariants(); err != nil {
		return nil, err
	}
	return &sum, nil
}

// RecomputeClaim rebuilds every activity summary, the claim rollup and any
// missing financial timeline rows for one claim. Remittance lines for an
// activity that has not been submitted yet stay out of the summaries until
// it is. It joins the caller's transaction and holds the claim lock until
// that transaction ends.
func (s *Service) RecomputeClaim(ctx context.Context, claimKeyID int64) (*ClaimPayment, error) {
	var out *ClaimPayment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.events.LockClaimKey(ctx, claimKeyID); err != nil {
			return err
		}
		facts, acts, err := s.loadFacts(ctx, claimKeyID)
		if err != nil {
			return err
		}

		byActivity := make(map[string][]*claims.RemittanceActivity, len(acts))
		known := make(map[string]bool, len(acts))
		for _, a := range acts {
			known[a.ActivityID] = true
		}
		waiting := 0
		for _, l := range facts.Lines {
			if !known[l.ActivityID] {
				waiting++
				continue
			}
			byActivity[l.ActivityID] = append(byActivity[l.ActivityID], l)
		}
		if waiting > 0 {
			s.logger.Debug().Int64("claim_key_id", claimKeyID).Int("lines", waiting).
				Msg("remittance lines waiting for their activity")
		}

		summaries := make([]ActivitySummary, 0, len(acts))
		for _, a := range acts {
			sum, err := s.summarize(a, byActivity[a.ActivityID])
			if err != nil {
				return err
			}
			if err := s.repo.UpsertActivitySummary(ctx, sum); err != nil {
				return err
			}
			summaries = append(summaries, *sum)
		}

		p := RollupClaim(claimKeyID, summaries, facts)
		if err := p.CheckInvariants(); err != nil {
			return err
		}
		if err := s.repo.UpsertClaimPayment(ctx, &p); err != nil {
			return err
		}

		net := claimNet(facts.Claim, acts)
		for _, row := range FinancialTimeline(net, facts.Events, acts, facts.Lines) {
			row := row
			if _, err := s.repo.AppendTimeline(ctx, &row); err != nil {
				return err
			}
		}
		out = &p
		return nil
	})
	return out, err
}

func claimNet(c *claims.Claim, acts []*claims.Activity) decimal.Decimal {
	if c != nil {
		return c.Net
	}
	total := decimal.Zero
	for _, a := range acts {
		total = total.Add(a.Net)
	}
	return total
}

func (s *Service) loadFacts(ctx context.Context, claimKeyID int64) (ClaimFacts, []*claims.Activity, error) {
	var f ClaimFacts
	c, err := s.events.GetClaim(ctx, claimKeyID)
	switch {
	case err == nil:
		f.Claim = c
	case !errors.Is(err, claims.ErrNotFound):
		return f, nil, err
	}
	acts, err := s.events.ListActivities(ctx, claimKeyID)
	if err != nil {
		return f, nil, fmt.Errorf("list activities: %w", err)
	}
	if f.Remittances, err = s.events.ListRemittanceClaims(ctx, claimKeyID); err != nil {
		return f, nil, fmt.Errorf("list remittances: %w", err)
	}
	if f.Lines, err = s.events.ListRemittanceActivities(ctx, claimKeyID); err != nil {
		return f, nil, fmt.Errorf("list remittance activities: %w", err)
	}
	if f.Events, err = s.events.ListEvents(ctx, claimKeyID); err != nil {
		return f, nil, fmt.Errorf("list events: %w", err)
	}
	return f, acts, nil
}

// AsOf is the claim payment status using only remittance cycles at or
// before t. It is empty while the claim has no activities.
func (s *Service) AsOf(ctx context.Context, claimKeyID int64, t time.Time) (ActivityStatus, error) {
	acts, err := s.events.ListActivities(ctx, claimKeyID)
	if err != nil {
		return "", err
	}
	if len(acts) == 0 {
		return "", nil
	}
	lines, err := s.events.ListRemittanceActivities(ctx, claimKeyID)
	if err != nil {
		return "", err
	}
	return StateAsOf(acts, lines, t).Status, nil
}

func (s *Service) resolve(ctx context.Context, op auth.Operation, claimID string) (*claims.ClaimKey, error) {
	if err := auth.Authorize(ctx, op); err != nil {
		return nil, err
	}
	if claimID == "" {
		return nil, fmt.Errorf("%w: claim_id is required", claims.ErrConstraintViolation)
	}
	return s.events.GetClaimKey(ctx, claimID)
}

func (s *Service) GetClaimPayment(ctx context.Context, claimID string) (*ClaimPayment, error) {
	key, err := s.resolve(ctx, auth.OpReadClaims, claimID)
	if err != nil {
		return nil, err
	}
	return cache.GetOrLoad(ctx, s.cache, paymentCacheKey(ctx, claimID), s.ttl,
		func(ctx context.Context) (*ClaimPayment, error) {
			return s.repo.GetClaimPayment(ctx, key.ID)
		})
}

func (s *Service) ListActivitySummaries(ctx context.Context, claimID string) ([]*ActivitySummary, error) {
	key, err := s.resolve(ctx, auth.OpReadClaims, claimID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListActivitySummaries(ctx, key.ID)
}

func (s *Service) ListFinancialTimeline(ctx context.Context, claimID string) ([]*TimelineEntry, error) {
	key, err := s.resolve(ctx, auth.OpReadClaims, claimID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFinancialTimeline(ctx, key.ID)
}

// Reconcile forces a full rebuild of one claim from the event log.
func (s *Service) Reconcile(ctx context.Context, claimID string) (*ClaimPayment, error) {
	key, err := s.resolve(ctx, auth.OpReconcileClaim, claimID)
	if err != nil {
		return nil, err
	}
	p, err := s.RecomputeClaim(ctx, key.ID)
	if err != nil {
		return nil, err
	}
	if err := s.InvalidateClaim(ctx, claimID); err != nil {
		s.logger.Warn().Err(err).Str("claim_id", claimID).Msg("cache invalidation failed")
	}
	s.logger.Info().Str("claim_id", claimID).Str("payment_status", string(p.PaymentStatus)).
		Str("user_id", auth.UserIDFromContext(ctx)).Msg("claim reconciled")
	return p, nil
}

func (s *Service) InvalidateClaim(ctx context.Context, claimID string) error {
	return s.cache.Invalidate(ctx, paymentCacheKey(ctx, claimID))
}
