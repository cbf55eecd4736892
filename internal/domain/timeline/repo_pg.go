package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, claim_key_id, status, status_time, claim_event_id, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var status int16
	if err := row.Scan(&e.ID, &e.ClaimKeyID, &status, &e.StatusTime, &e.ClaimEventID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	return &e, nil
}

func (r *repoPG) Append(ctx context.Context, e *Entry) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_status_timeline (claim_key_id, status, status_time, claim_event_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (claim_event_id) DO NOTHING
		RETURNING id, created_at`,
		e.ClaimKeyID, int16(e.Status), e.StatusTime, e.ClaimEventID).Scan(&e.ID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("append status timeline: %w", err)
	}
	return true, nil
}

func (r *repoPG) Current(ctx context.Context, claimKeyID int64) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM claim_status_timeline
		WHERE claim_key_id = $1
		ORDER BY status_time DESC, id DESC
		LIMIT 1`, claimKeyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("status for claim key %d: %w", claimKeyID, claims.ErrNotFound)
	}
	return e, err
}

func (r *repoPG) History(ctx context.Context, claimKeyID int64) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM claim_status_timeline
		WHERE claim_key_id = $1 ORDER BY status_time, id`, claimKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
