package verification

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/claims/internal/platform/auth"
)

type Service struct {
	engine *Engine
	repo   Repository
}

func NewService(engine *Engine, repo Repository) *Service {
	return &Service{engine: engine, repo: repo}
}

// RunNow executes the catalog on demand, optionally scoped to a batch.
func (s *Service) RunNow(ctx context.Context, batchID *uuid.UUID) (*Report, error) {
	if err := auth.Authorize(ctx, auth.OpRunVerification); err != nil {
		return nil, err
	}
	return s.engine.Run(ctx, batchID)
}

func (s *Service) LatestRun(ctx context.Context) (*Report, error) {
	if err := auth.Authorize(ctx, auth.OpReadVerification); err != nil {
		return nil, err
	}
	run, err := s.repo.LatestRun(ctx)
	if err != nil {
		return nil, err
	}
	results, err := s.repo.ListResults(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return &Report{Run: run, Results: results}, nil
}

func (s *Service) GetRun(ctx context.Context, id int64) (*Run, error) {
	if err := auth.Authorize(ctx, auth.OpReadVerification); err != nil {
		return nil, err
	}
	return s.repo.GetRun(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	if err := auth.Authorize(ctx, auth.OpReadVerification); err != nil {
		return nil, 0, err
	}
	return s.repo.ListRuns(ctx, limit, offset)
}

func (s *Service) ListResults(ctx context.Context, runID int64) ([]*Result, error) {
	if err := auth.Authorize(ctx, auth.OpReadVerification); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.repo.ListResults(ctx, runID)
}

func (s *Service) ListRules(ctx context.Context) ([]*Rule, error) {
	if err := auth.Authorize(ctx, auth.OpReadVerification); err != nil {
		return nil, err
	}
	return s.repo.ListRules(ctx, false)
}
