package timeline

import "context"

type Repository interface {
	// Append is a no-op when the event already has a row.
	Append(ctx context.Context, e *Entry) (bool, error)
	Current(ctx context.Context, claimKeyID int64) (*Entry, error)
	History(ctx context.Context, claimKeyID int64) ([]*Entry, error)
}
