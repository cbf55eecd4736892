package reconciliation

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

// -- Activity summaries --

func (r *repoPG) UpsertActivitySummary(ctx context.Context, s *ActivitySummary) error {
	codes := []string(s.DenialCodes)
	if codes == nil {
		codes = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_activity_summary (claim_key_id, activity_id, submitted_amount, paid_amount,
			rejected_amount, denied_amount, taken_back_amount, taken_back_count, net_paid_amount,
			remittance_count, denial_codes, activity_status, first_remittance_at, last_remittance_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (claim_key_id, activity_id) DO UPDATE SET
			submitted_amount = EXCLUDED.submitted_amount,
			paid_amount = EXCLUDED.paid_amount,
			rejected_amount = EXCLUDED.rejected_amount,
			denied_amount = EXCLUDED.denied_amount,
			taken_back_amount = EXCLUDED.taken_back_amount,
			taken_back_count = EXCLUDED.taken_back_count,
			net_paid_amount = EXCLUDED.net_paid_amount,
			remittance_count = EXCLUDED.remittance_count,
			denial_codes = EXCLUDED.denial_codes,
			activity_status = EXCLUDED.activity_status,
			first_remittance_at = EXCLUDED.first_remittance_at,
			last_remittance_at = EXCLUDED.last_remittance_at,
			updated_at = NOW()
		RETURNING updated_at`,
		s.ClaimKeyID, s.ActivityID, s.SubmittedAmount, s.PaidAmount,
		s.RejectedAmount, s.DeniedAmount, s.TakenBackAmount, s.TakenBackCount, s.NetPaidAmount,
		s.RemittanceCount, codes, string(s.Status), s.FirstRemittanceAt, s.LastRemittanceAt).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert activity summary %s: %w", s.ActivityID, err)
	}
	return nil
}

func (r *repoPG) ListActivitySummaries(ctx context.Context, claimKeyID int64) ([]*ActivitySummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT claim_key_id, activity_id, submitted_amount, paid_amount, rejected_amount,
			denied_amount, taken_back_amount, taken_back_count, net_paid_amount, remittance_count,
			denial_codes, activity_status, first_remittance_at, last_remittance_at, updated_at
		FROM claim_activity_summary WHERE claim_key_id = $1 ORDER BY activity_id`, claimKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ActivitySummary
	for rows.Next() {
		var s ActivitySummary
		var codes []string
		var status string
		if err := rows.Scan(&s.ClaimKeyID, &s.ActivityID, &s.SubmittedAmount, &s.PaidAmount,
			&s.RejectedAmount, &s.DeniedAmount, &s.TakenBackAmount, &s.TakenBackCount,
			&s.NetPaidAmount, &s.RemittanceCount, &codes, &status,
			&s.FirstRemittanceAt, &s.LastRemittanceAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.DenialCodes = DenialCodes(codes)
		s.Status = ActivityStatus(status)
		items = append(items, &s)
	}
	return items, rows.Err()
}

// -- Claim payment --

func (r *repoPG) UpsertClaimPayment(ctx context.Context, p *ClaimPayment) error {
	refs := p.PaymentReferences
	if refs == nil {
		refs = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_payment (claim_key_id, payer_ref, total_submitted_amount, total_paid_amount,
			total_rejected_amount, total_denied_amount, total_taken_back_amount, total_net_paid_amount,
			total_activities, paid_activities, partially_paid_activities, rejected_activities,
			pending_activities, taken_back_activities, partially_taken_back_activities, payment_status,
			remittance_count, resubmission_count, first_submission_date, last_submission_date,
			first_remittance_date, last_remittance_date, first_payment_date, last_payment_date,
			latest_settlement_date, days_to_first_payment, days_to_final_settlement, processing_cycles,
			latest_payment_reference, payment_references, tx_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
		ON CONFLICT (claim_key_id) DO UPDATE SET
			payer_ref = EXCLUDED.payer_ref,
			total_submitted_amount = EXCLUDED.total_submitted_amount,
			total_paid_amount = EXCLUDED.total_paid_amount,
			total_rejected_amount = EXCLUDED.total_rejected_amount,
			total_denied_amount = EXCLUDED.total_denied_amount,
			total_taken_back_amount = EXCLUDED.total_taken_back_amount,
			total_net_paid_amount = EXCLUDED.total_net_paid_amount,
			total_activities = EXCLUDED.total_activities,
			paid_activities = EXCLUDED.paid_activities,
			partially_paid_activities = EXCLUDED.partially_paid_activities,
			rejected_activities = EXCLUDED.rejected_activities,
			pending_activities = EXCLUDED.pending_activities,
			taken_back_activities = EXCLUDED.taken_back_activities,
			partially_taken_back_activities = EXCLUDED.partially_taken_back_activities,
			payment_status = EXCLUDED.payment_status,
			remittance_count = EXCLUDED.remittance_count,
			resubmission_count = EXCLUDED.resubmission_count,
			first_submission_date = EXCLUDED.first_submission_date,
			last_submission_date = EXCLUDED.last_submission_date,
			first_remittance_date = EXCLUDED.first_remittance_date,
			last_remittance_date = EXCLUDED.last_remittance_date,
			first_payment_date = EXCLUDED.first_payment_date,
			last_payment_date = EXCLUDED.last_payment_date,
			latest_settlement_date = EXCLUDED.latest_settlement_date,
			days_to_first_payment = EXCLUDED.days_to_first_payment,
			days_to_final_settlement = EXCLUDED.days_to_final_settlement,
			processing_cycles = EXCLUDED.processing_cycles,
			latest_payment_reference = EXCLUDED.latest_payment_reference,
			payment_references = EXCLUDED.payment_references,
			tx_at = EXCLUDED.tx_at,
			updated_at = NOW()
		RETURNING updated_at`,
		p.ClaimKeyID, p.PayerRef, p.TotalSubmittedAmount, p.TotalPaidAmount,
		p.TotalRejectedAmount, p.TotalDeniedAmount, p.TotalTakenBackAmount, p.TotalNetPaidAmount,
		p.Total, p.Paid, p.PartiallyPaid, p.Rejected,
		p.Pending, p.TakenBack, p.PartiallyTakenBack, string(p.PaymentStatus),
		p.RemittanceCount, p.ResubmissionCount, p.FirstSubmissionDate, p.LastSubmissionDate,
		p.FirstRemittanceDate, p.LastRemittanceDate, p.FirstPaymentDate, p.LastPaymentDate,
		p.LatestSettlementDate, p.DaysToFirstPayment, p.DaysToFinalSettlement, p.ProcessingCycles,
		p.LatestPaymentReference, refs, p.TxAt).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert claim payment %d: %w", p.ClaimKeyID, err)
	}
	return nil
}

func (r *repoPG) GetClaimPayment(ctx context.Context, claimKeyID int64) (*ClaimPayment, error) {
	var p ClaimPayment
	var status string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT claim_key_id, payer_ref, total_submitted_amount, total_paid_amount,
			total_rejected_amount, total_denied_amount, total_taken_back_amount, total_net_paid_amount,
			total_activities, paid_activities, partially_paid_activities, rejected_activities,
			pending_activities, taken_back_activities, partially_taken_back_activities, payment_status,
			remittance_count, resubmission_count, first_submission_date, last_submission_date,
			first_remittance_date, last_remittance_date, first_payment_date, last_payment_date,
			latest_settlement_date, days_to_first_payment, days_to_final_settlement, processing_cycles,
			latest_payment_reference, payment_references, tx_at, updated_at
		FROM claim_payment WHERE claim_key_id = $1`, claimKeyID).Scan(
		&p.ClaimKeyID, &p.PayerRef, &p.TotalSubmittedAmount, &p.TotalPaidAmount,
		&p.TotalRejectedAmount, &p.TotalDeniedAmount, &p.TotalTakenBackAmount, &p.TotalNetPaidAmount,
		&p.Total, &p.Paid, &p.PartiallyPaid, &p.Rejected,
		&p.Pending, &p.TakenBack, &p.PartiallyTakenBack, &status,
		&p.RemittanceCount, &p.ResubmissionCount, &p.FirstSubmissionDate, &p.LastSubmissionDate,
		&p.FirstRemittanceDate, &p.LastRemittanceDate, &p.FirstPaymentDate, &p.LastPaymentDate,
		&p.LatestSettlementDate, &p.DaysToFirstPayment, &p.DaysToFinalSettlement, &p.ProcessingCycles,
		&p.LatestPaymentReference, &p.PaymentReferences, &p.TxAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim payment for key %d: %w", claimKeyID, claims.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.PaymentStatus = ActivityStatus(status)
	return &p, nil
}

// -- Financial timeline --

func (r *repoPG) AppendTimeline(ctx context.Context, e *TimelineEntry) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_financial_timeline (claim_key_id, claim_event_id, event_type, event_time,
			amount, cumulative_paid, cumulative_rejected, denial_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (claim_key_id, claim_event_id) DO NOTHING
		RETURNING id, created_at`,
		e.ClaimKeyID, e.ClaimEventID, e.EventType, e.EventTime,
		e.Amount, e.CumulativePaid, e.CumulativeRejected, e.DenialCode).Scan(&e.ID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("append financial timeline: %w", err)
	}
	return true, nil
}

func (r *repoPG) ListFinancialTimeline(ctx context.Context, claimKeyID int64) ([]*TimelineEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_key_id, claim_event_id, event_type, event_time, amount,
			cumulative_paid, cumulative_rejected, denial_code, created_at
		FROM claim_financial_timeline WHERE claim_key_id = $1
		ORDER BY event_time, claim_event_id`, claimKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.ID, &e.ClaimKeyID, &e.ClaimEventID, &e.EventType, &e.EventTime,
			&e.Amount, &e.CumulativePaid, &e.CumulativeRejected, &e.DenialCode, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}
