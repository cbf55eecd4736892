package claims

import (
	"context"
	"errors"
	"fmt"

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

// mapPgError turns CHECK and foreign-key failures into constraint violations.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514", "23503", "23502", "22P02":
			return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.Message)
		}
	}
	return err
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// -- Claim keys --

// EnsureClaimKey inserts the key or returns the existing one. The lookup runs
// as its own statement: when a concurrent batch inserted the same claim_id,
// the INSERT waits for it and skips the conflict, and only a fresh snapshot
// can see the committed row.
func (r *repoPG) EnsureClaimKey(ctx context.Context, claimID string) (*ClaimKey, error) {
	var k ClaimKey
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_key (claim_id) VALUES ($1)
		ON CONFLICT (claim_id) DO NOTHING
		RETURNING id, claim_id, created_at`, claimID).Scan(&k.ID, &k.ClaimID, &k.CreatedAt)
	if err == nil {
		return &k, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ensure claim key %s: %w", claimID, err)
	}
	existing, err := r.GetClaimKey(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("ensure claim key %s: %w", claimID, err)
	}
	return existing, nil
}

func (r *repoPG) GetClaimKey(ctx context.Context, claimID string) (*ClaimKey, error) {
	var k ClaimKey
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, claim_id, created_at FROM claim_key WHERE claim_id = $1`, claimID).
		Scan(&k.ID, &k.ClaimID, &k.CreatedAt)
	if err != nil {
		return nil, notFound(err, "claim "+claimID)
	}
	return &k, nil
}

func (r *repoPG) LockClaimKey(ctx context.Context, claimKeyID int64) error {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM claim_key WHERE id = $1 FOR UPDATE`, claimKeyID).Scan(&id)
	if err != nil {
		return notFound(err, fmt.Sprintf("claim key %d", claimKeyID))
	}
	return nil
}

// -- Claims --

const claimCols = `id, claim_key_id, payer_ref, provider_ref, facility_ref,
	gross, patient_share, net, submitted_at, created_at, updated_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimKeyID, &c.PayerRef, &c.ProviderRef, &c.FacilityRef,
		&c.Gross, &c.PatientShare, &c.Net, &c.SubmittedAt, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) CreateClaim(ctx context.Context, c *Claim) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim (claim_key_id, payer_ref, provider_ref, facility_ref,
			gross, patient_share, net, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (claim_key_id) DO NOTHING
		RETURNING id, created_at, updated_at`,
		c.ClaimKeyID, c.PayerRef, c.ProviderRef, c.FacilityRef,
		c.Gross, c.PatientShare, c.Net, c.SubmittedAt).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapPgError(err)
	}
	return true, nil
}

// BackfillRefs only fills reference ids that are still NULL.
func (r *repoPG) BackfillRefs(ctx context.Context, claimKeyID int64, payerRef, providerRef, facilityRef *string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim SET
			payer_ref = COALESCE(payer_ref, $2),
			provider_ref = COALESCE(provider_ref, $3),
			facility_ref = COALESCE(facility_ref, $4),
			updated_at = NOW()
		WHERE claim_key_id = $1
		  AND ((payer_ref IS NULL AND $2::text IS NOT NULL)
		    OR (provider_ref IS NULL AND $3::text IS NOT NULL)
		    OR (facility_ref IS NULL AND $4::text IS NOT NULL))`,
		claimKeyID, payerRef, providerRef, facilityRef)
	return err
}

func (r *repoPG) GetClaim(ctx context.Context, claimKeyID int64) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claim WHERE claim_key_id = $1`, claimKeyID))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("claim for key %d", claimKeyID))
	}
	return c, nil
}

// -- Activities --

const activityCols = `id, claim_key_id, activity_id, start_at, type, code, clinician_ref, net, created_at`

func scanActivity(row pgx.Row) (*Activity, error) {
	var a Activity
	err := row.Scan(&a.ID, &a.ClaimKeyID, &a.ActivityID, &a.StartAt, &a.Type, &a.Code,
		&a.ClinicianRef, &a.Net, &a.CreatedAt)
	return &a, err
}

func (r *repoPG) AppendActivity(ctx context.Context, a *Activity) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO activity (claim_key_id, activity_id, start_at, type, code, clinician_ref, net)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (claim_key_id, activity_id) DO NOTHING
		RETURNING id, created_at`,
		a.ClaimKeyID, a.ActivityID, a.StartAt, a.Type, a.Code, a.ClinicianRef, a.Net).
		Scan(&a.ID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapPgError(err)
	}
	return true, nil
}

func (r *repoPG) ListActivities(ctx context.Context, claimKeyID int64) ([]*Activity, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+activityCols+` FROM activity WHERE claim_key_id = $1 ORDER BY activity_id`, claimKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// -- Remittances --

const remittanceClaimCols = `id, claim_key_id, cycle_time, payer_ref, provider_ref,
	payment_reference, date_settlement, batch_id, created_at`

func (r *repoPG) AppendRemittanceClaim(ctx context.Context, rc *RemittanceClaim) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO remittance_claim (claim_key_id, cycle_time, payer_ref, provider_ref,
			payment_reference, date_settlement, batch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (claim_key_id, cycle_time) DO NOTHING
		RETURNING id, created_at`,
		rc.ClaimKeyID, rc.CycleTime, rc.PayerRef, rc.ProviderRef,
		rc.PaymentReference, rc.DateSettlement, rc.BatchID).Scan(&rc.ID, &rc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapPgError(err)
	}
	return true, nil
}

func (r *repoPG) ListRemittanceClaims(ctx context.Context, claimKeyID int64) ([]*RemittanceClaim, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+remittanceClaimCols+` FROM remittance_claim WHERE claim_key_id = $1 ORDER BY cycle_time, id`, claimKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RemittanceClaim
	for rows.Next() {
		var rc RemittanceClaim
		if err := rows.Scan(&rc.ID, &rc.ClaimKeyID, &rc.CycleTime, &rc.PayerRef, &rc.ProviderRef,
			&rc.PaymentReference, &rc.DateSettlement, &rc.BatchID, &rc.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &rc)
	}
	return items, rows.Err()
}

const remittanceActivityCols = `id, claim_key_id, activity_id, cycle_time, payment_amount, denial_code, created_at`

func (r *repoPG) AppendRemittanceActivity(ctx context.Context, ra *RemittanceActivity) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO remittance_activity (claim_key_id, activity_id, cycle_time, payment_amount, denial_code)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (claim_key_id, activity_id, cycle_time, payment_amount, COALESCE(denial_code, '')) DO NOTHING
		RETURNING id, created_at`,
		ra.ClaimKeyID, ra.ActivityID, ra.CycleTime, ra.PaymentAmount, ra.DenialCode).Scan(&ra.ID, &ra.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapPgError(err)
	}
	return true, nil
}

func (r *repoPG) queryRemittanceActivities(ctx context.Context, sql string, args ...interface{}) ([]*RemittanceActivity, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RemittanceActivity
	for rows.Next() {
		var ra RemittanceActivity
		if err := rows.Scan(&ra.ID, &ra.ClaimKeyID, &ra.ActivityID, &ra.CycleTime,
			&ra.PaymentAmount, &ra.DenialCode, &ra.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &ra)
	}
	return items, rows.Err()
}

func (r *repoPG) ListRemittanceActivities(ctx context.Context, claimKeyID int64) ([]*RemittanceActivity, error) {
	return r.queryRemittanceActivities(ctx,
		`SELECT `+remittanceActivityCols+` FROM remittance_activity
		 WHERE claim_key_id = $1 ORDER BY activity_id, cycle_time, id`, claimKeyID)
}

// -- Events --

func (r *repoPG) AppendEvent(ctx context.Context, e *ClaimEvent) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_event (claim_key_id, type, event_time, batch_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (claim_key_id, type, event_time) DO NOTHING
		RETURNING id, created_at`,
		e.ClaimKeyID, int16(e.Type), e.EventTime, e.BatchID).Scan(&e.ID, &e.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, mapPgError(err)
	}

	err = r.conn(ctx).QueryRow(ctx, `
		SELECT id, batch_id, created_at FROM claim_event
		WHERE claim_key_id = $1 AND type = $2 AND event_time = $3`,
		e.ClaimKeyID, int16(e.Type), e.EventTime).Scan(&e.ID, &e.BatchID, &e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("load existing event: %w", err)
	}
	return false, nil
}

func (r *repoPG) ListEvents(ctx context.Context, claimKeyID int64) ([]*ClaimEvent, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_key_id, type, event_time, batch_id, created_at
		FROM claim_event WHERE claim_key_id = $1 ORDER BY event_time, id`, claimKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ClaimEvent
	for rows.Next() {
		var e ClaimEvent
		var typ int16
		if err := rows.Scan(&e.ID, &e.ClaimKeyID, &typ, &e.EventTime, &e.BatchID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		items = append(items, &e)
	}
	return items, rows.Err()
}

func (r *repoPG) SnapshotActivities(ctx context.Context, claimEventID int64, snaps []EventActivity) error {
	if len(snaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range snaps {
		batch.Queue(`
			INSERT INTO claim_event_activity (claim_event_id, activity_id, net_at_event,
				payment_amount_at_event, denial_code_at_event)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (claim_event_id, activity_id) DO NOTHING`,
			claimEventID, s.ActivityID, s.NetAtEvent, s.PaymentAmountAtEvent, s.DenialCodeAtEvent)
	}
	q := r.conn(ctx)
	sender, ok := q.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		for _, s := range snaps {
			if _, err := q.Exec(ctx, `
				INSERT INTO claim_event_activity (claim_event_id, activity_id, net_at_event,
					payment_amount_at_event, denial_code_at_event)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (claim_event_id, activity_id) DO NOTHING`,
				claimEventID, s.ActivityID, s.NetAtEvent, s.PaymentAmountAtEvent, s.DenialCodeAtEvent); err != nil {
				return mapPgError(err)
			}
		}
		return nil
	}
	if err := sender.SendBatch(ctx, batch).Close(); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *repoPG) ListEventActivities(ctx context.Context, claimEventID int64) ([]*EventActivity, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT claim_event_id, activity_id, net_at_event, payment_amount_at_event, denial_code_at_event
		FROM claim_event_activity WHERE claim_event_id = $1 ORDER BY activity_id`, claimEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*EventActivity
	for rows.Next() {
		var s EventActivity
		if err := rows.Scan(&s.ClaimEventID, &s.ActivityID, &s.NetAtEvent,
			&s.PaymentAmountAtEvent, &s.DenialCodeAtEvent); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

func (r *repoPG) AppendResubmission(ctx context.Context, rs *Resubmission) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_resubmission (claim_event_id, resubmission_type, comment)
		VALUES ($1,$2,$3)
		ON CONFLICT (claim_event_id) DO NOTHING`,
		rs.ClaimEventID, rs.ResubmissionType, rs.Comment)
	return mapPgError(err)
}
