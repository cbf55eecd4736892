package payerperf

import (
	"context"
	"time"
)

type Repository interface {
	// ListOutcomes returns claim payments settled in [from, to).
	ListOutcomes(ctx context.Context, from, to time.Time) ([]*ClaimOutcome, error)
	// ReplaceMonth makes rows the complete set of summaries for month.
	ReplaceMonth(ctx context.Context, month time.Time, rows []*Summary) error
	// List returns summaries for month, or for every month when month is zero.
	List(ctx context.Context, month time.Time, limit, offset int) ([]*Summary, int, error)
}
