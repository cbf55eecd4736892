package payerperf

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/db"
)

type Service struct {
	repo   Repository
	tx     db.Transactor
	logger zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tx: tx, logger: logger}
}

// RunMonth recomputes every payer's summary for the month containing month
// and overwrites what was stored for it.
func (s *Service) RunMonth(ctx context.Context, month time.Time) ([]*Summary, error) {
	if err := auth.Authorize(ctx, auth.OpRunPayerRollup); err != nil {
		return nil, err
	}
	start := MonthOf(month)
	var out []*Summary
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		outcomes, err := s.repo.ListOutcomes(ctx, start, start.AddDate(0, 1, 0))
		if err != nil {
			return err
		}
		out = Compute(start, outcomes)
		return s.repo.ReplaceMonth(ctx, start, out)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("month", start.Format("2006-01")).
		Int("payers", len(out)).
		Msg("payer performance rolled up")
	return out, nil
}

// List returns stored summaries. A zero month lists every month.
func (s *Service) List(ctx context.Context, month time.Time, limit, offset int) ([]*Summary, int, error) {
	if err := auth.Authorize(ctx, auth.OpReadPayerPerformance); err != nil {
		return nil, 0, err
	}
	if !month.IsZero() {
		month = MonthOf(month)
	}
	return s.repo.List(ctx, month, limit, offset)
}
