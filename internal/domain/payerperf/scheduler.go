package payerperf

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/cache"
)

const leaseKey = "payer-rollup"

// Scheduler rolls up the current and previous month on a fixed interval.
// When several replicas share a Redis cache only the lease holder runs a tick.
type Scheduler struct {
	svc      *Service
	cache    *cache.Cache
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewScheduler(svc *Service, c *cache.Cache, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if c == nil {
		c = cache.Disabled()
	}
	return &Scheduler{svc: svc, cache: c, interval: interval, logger: logger, now: time.Now}
}

// Start runs a tick immediately and then once per interval. It blocks until
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one rollup pass. It reports whether this replica held the
// lease and ran it.
func (s *Scheduler) Tick(ctx context.Context) bool {
	acquired, release, err := s.cache.Lease(ctx, leaseKey, s.interval)
	if err != nil {
		s.logger.Error().Err(err).Msg("payer rollup lease failed")
		return false
	}
	if !acquired {
		s.logger.Debug().Msg("payer rollup held by another replica")
		return false
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Msg("payer rollup lease release failed")
		}
	}()

	ctx = auth.SystemContext(ctx)
	current := MonthOf(s.now())
	for _, month := range []time.Time{current.AddDate(0, -1, 0), current} {
		if _, err := s.svc.RunMonth(ctx, month); err != nil {
			s.logger.Error().Err(err).Str("month", month.Format("2006-01")).Msg("payer rollup failed")
		}
	}
	return true
}
