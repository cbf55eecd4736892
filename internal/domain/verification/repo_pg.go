package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
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

// -- Rules --

func (r *repoPG) UpsertRule(ctx context.Context, rule *Rule) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO verification_rule (code, description, severity, sql_text, batch_scoped, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			severity = EXCLUDED.severity,
			sql_text = EXCLUDED.sql_text,
			batch_scoped = EXCLUDED.batch_scoped,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		rule.Code, rule.Description, int16(rule.Severity), rule.SQL, rule.BatchScoped, rule.Active).
		Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

func (r *repoPG) ListRules(ctx context.Context, activeOnly bool) ([]*Rule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, code, description, severity, sql_text, batch_scoped, active, created_at, updated_at
		FROM verification_rule
		WHERE active OR NOT $1
		ORDER BY code`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Rule
	for rows.Next() {
		var rule Rule
		var sev int16
		if err := rows.Scan(&rule.ID, &rule.Code, &rule.Description, &sev, &rule.SQL,
			&rule.BatchScoped, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		rule.Severity = Severity(sev)
		items = append(items, &rule)
	}
	return items, rows.Err()
}

// -- Runs --

const runCols = `id, batch_id, started_at, ended_at, passed, failed_rules, blocking_failures`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.BatchID, &run.StartedAt, &run.EndedAt, &run.Passed,
		&run.FailedRules, &run.BlockingFailures)
	return &run, err
}

func (r *repoPG) CreateRun(ctx context.Context, run *Run) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO verification_run (batch_id, started_at) VALUES ($1, $2)
		RETURNING id`, run.BatchID, run.StartedAt).Scan(&run.ID)
}

func (r *repoPG) FinishRun(ctx context.Context, run *Run) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE verification_run SET ended_at = $2, passed = $3, failed_rules = $4, blocking_failures = $5
		WHERE id = $1`, run.ID, run.EndedAt, run.Passed, run.FailedRules, run.BlockingFailures)
	return err
}

func (r *repoPG) AddResult(ctx context.Context, res *Result) error {
	var sample interface{}
	if len(res.Sample) > 0 {
		sample = string(res.Sample)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO verification_result (verification_run_id, rule_id, ok, rows_affected, sample_json, message, executed_at)
		VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7)
		RETURNING id`,
		res.RunID, res.RuleID, res.OK, res.RowsAffected, sample, res.Message, res.ExecutedAt).Scan(&res.ID)
}

func (r *repoPG) LatestRun(ctx context.Context) (*Run, error) {
	run, err := scanRun(r.conn(ctx).QueryRow(ctx,
		`SELECT `+runCols+` FROM verification_run ORDER BY started_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("verification run: %w", claims.ErrNotFound)
	}
	return run, err
}

func (r *repoPG) GetRun(ctx context.Context, id int64) (*Run, error) {
	run, err := scanRun(r.conn(ctx).QueryRow(ctx,
		`SELECT `+runCols+` FROM verification_run WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("verification run %d: %w", id, claims.ErrNotFound)
	}
	return run, err
}

func (r *repoPG) ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM verification_run`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+runCols+` FROM verification_run ORDER BY started_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, run)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListResults(ctx context.Context, runID int64) ([]*Result, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT res.id, res.verification_run_id, res.rule_id, vr.code, vr.severity, res.ok,
			res.rows_affected, res.sample_json, res.message, res.executed_at
		FROM verification_result res
		JOIN verification_rule vr ON vr.id = res.rule_id
		WHERE res.verification_run_id = $1
		ORDER BY vr.severity DESC, vr.code`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Result
	for rows.Next() {
		var res Result
		var sev int16
		var sample []byte
		if err := rows.Scan(&res.ID, &res.RunID, &res.RuleID, &res.RuleCode, &sev, &res.OK,
			&res.RowsAffected, &sample, &res.Message, &res.ExecutedAt); err != nil {
			return nil, err
		}
		res.Severity = Severity(sev)
		if len(sample) > 0 {
			res.Sample = json.RawMessage(sample)
		}
		items = append(items, &res)
	}
	return items, rows.Err()
}

// -- Evaluation --

// ruleQuery strips trailing semicolons so the rule can be wrapped as a
// subquery.
func ruleQuery(sql string) string {
	return strings.TrimRight(strings.TrimSpace(sql), "; \n\t")
}

func (r *repoPG) Evaluate(ctx context.Context, rule *Rule, batchID *uuid.UUID, sampleLimit int) (int64, json.RawMessage, error) {
	var args []interface{}
	if rule.BatchScoped {
		if batchID == nil {
			return 0, nil, fmt.Errorf("rule %s needs a batch id", rule.Code)
		}
		args = append(args, *batchID)
	}
	inner := ruleQuery(rule.SQL)

	q := r.conn(ctx)
	// Inside a transaction a failing rule would poison it; isolate each rule
	// in a savepoint that is always rolled back.
	if tx := db.TxFromContext(ctx); tx != nil {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return 0, nil, err
		}
		defer sp.Rollback(ctx)
		q = sp
	}

	var count int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM (`+inner+`) v`, args...).Scan(&count); err != nil {
		return 0, nil, fmt.Errorf("rule %s: %w", rule.Code, err)
	}
	if count == 0 || sampleLimit <= 0 {
		return count, nil, nil
	}

	var sample []byte
	sampleArgs := append(append([]interface{}{}, args...), sampleLimit)
	limitParam := fmt.Sprintf("$%d", len(sampleArgs))
	if err := q.QueryRow(ctx,
		`SELECT COALESCE(jsonb_agg(to_jsonb(v)), '[]'::jsonb) FROM (SELECT * FROM (`+inner+`) v0 LIMIT `+limitParam+`) v`,
		sampleArgs...).Scan(&sample); err != nil {
		return count, nil, fmt.Errorf("rule %s sample: %w", rule.Code, err)
	}
	return count, json.RawMessage(sample), nil
}
