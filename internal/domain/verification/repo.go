package verification

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

type Repository interface {
	// UpsertRule inserts or updates a rule by code and sets r.ID.
	UpsertRule(ctx context.Context, r *Rule) error
	ListRules(ctx context.Context, activeOnly bool) ([]*Rule, error)

	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	AddResult(ctx context.Context, res *Result) error
	LatestRun(ctx context.Context) (*Run, error)
	GetRun(ctx context.Context, id int64) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error)
	ListResults(ctx context.Context, runID int64) ([]*Result, error)

	// Evaluate runs a rule's query, returning the number of violating rows
	// and up to sampleLimit of them as a JSON array.
	Evaluate(ctx context.Context, r *Rule, batchID *uuid.UUID, sampleLimit int) (int64, json.RawMessage, error)
}
