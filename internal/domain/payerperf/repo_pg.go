package payerperf

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

// ListOutcomes skips claims whose submission has not arrived yet.
func (r *repoPG) ListOutcomes(ctx context.Context, from, to time.Time) ([]*ClaimOutcome, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT claim_key_id, payer_ref, total_submitted_amount, total_net_paid_amount,
			total_rejected_amount, latest_settlement_date, days_to_final_settlement
		FROM claim_payment
		WHERE latest_settlement_date >= $1 AND latest_settlement_date < $2
			AND total_activities > 0
		ORDER BY claim_key_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list claim outcomes: %w", err)
	}
	defer rows.Close()
	var items []*ClaimOutcome
	for rows.Next() {
		var o ClaimOutcome
		if err := rows.Scan(&o.ClaimKeyID, &o.PayerRef, &o.Submitted, &o.NetPaid,
			&o.Rejected, &o.SettlementDate, &o.DaysToFinalSettlement); err != nil {
			return nil, err
		}
		items = append(items, &o)
	}
	return items, rows.Err()
}

func (r *repoPG) ReplaceMonth(ctx context.Context, month time.Time, rows []*Summary) error {
	q := r.conn(ctx)
	payers := make([]string, 0, len(rows))
	for _, s := range rows {
		payers = append(payers, s.PayerRef)
	}
	if _, err := q.Exec(ctx, `
		DELETE FROM payer_performance_summary
		WHERE month_bucket = $1 AND NOT (payer_ref = ANY($2))`, month, payers); err != nil {
		return fmt.Errorf("clear payer performance %s: %w", month.Format("2006-01"), err)
	}
	for _, s := range rows {
		err := q.QueryRow(ctx, `
			INSERT INTO payer_performance_summary (payer_ref, month_bucket, total_claims,
				total_submitted_amount, total_paid_amount, total_rejected_amount,
				payment_rate, rejection_rate, avg_processing_days)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (payer_ref, month_bucket) DO UPDATE SET
				total_claims = EXCLUDED.total_claims,
				total_submitted_amount = EXCLUDED.total_submitted_amount,
				total_paid_amount = EXCLUDED.total_paid_amount,
				total_rejected_amount = EXCLUDED.total_rejected_amount,
				payment_rate = EXCLUDED.payment_rate,
				rejection_rate = EXCLUDED.rejection_rate,
				avg_processing_days = EXCLUDED.avg_processing_days,
				updated_at = NOW()
			RETURNING updated_at`,
			s.PayerRef, s.MonthBucket, s.TotalClaims,
			s.TotalSubmittedAmount, s.TotalPaidAmount, s.TotalRejectedAmount,
			s.PaymentRate, s.RejectionRate, s.AvgProcessingDays).Scan(&s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert payer performance %s: %w", s.PayerRef, err)
		}
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, month time.Time, limit, offset int) ([]*Summary, int, error) {
	where, args := "", []interface{}{}
	if !month.IsZero() {
		where, args = "WHERE month_bucket = $1", append(args, month)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payer_performance_summary `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT payer_ref, month_bucket, total_claims, total_submitted_amount, total_paid_amount,
			total_rejected_amount, payment_rate, rejection_rate, avg_processing_days, updated_at
		FROM payer_performance_summary %s
		ORDER BY month_bucket DESC, payer_ref
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.PayerRef, &s.MonthBucket, &s.TotalClaims, &s.TotalSubmittedAmount,
			&s.TotalPaidAmount, &s.TotalRejectedAmount, &s.PaymentRate, &s.RejectionRate,
			&s.AvgProcessingDays, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &s)
	}
	return items, total, rows.Err()
}
