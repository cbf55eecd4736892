package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine executes the active rule catalog and records a run. Rule failures
// are recorded as results, never returned as errors.
type Engine struct {
	repo        Repository
	sampleLimit int
	logger      zerolog.Logger
	now         func() time.Time
}

func NewEngine(repo Repository, sampleLimit int, logger zerolog.Logger) *Engine {
	if sampleLimit <= 0 {
		sampleLimit = 10
	}
	return &Engine{repo: repo, sampleLimit: sampleLimit, logger: logger, now: time.Now}
}

// SyncCatalog upserts every rule by code.
func (e *Engine) SyncCatalog(ctx context.Context, rules []Rule) error {
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return err
		}
		if err := e.repo.UpsertRule(ctx, &rules[i]); err != nil {
			return fmt.Errorf("sync rule %s: %w", rules[i].Code, err)
		}
	}
	e.logger.Info().Int("rules", len(rules)).Msg("verification catalog synced")
	return nil
}

// Run evaluates all active rules. Batch scoped rules are skipped when
// batchID is nil. The run passes when no BLOCKING rule failed.
func (e *Engine) Run(ctx context.Context, batchID *uuid.UUID) (*Report, error) {
	rules, err := e.repo.ListRules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	run := &Run{BatchID: batchID, StartedAt: e.now()}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	results := make([]*Result, 0, len(rules))
	for _, rule := range rules {
		res := e.evaluate(ctx, run.ID, rule, batchID)
		if err := e.repo.AddResult(ctx, res); err != nil {
			return nil, fmt.Errorf("record result for %s: %w", rule.Code, err)
		}
		if !res.OK {
			run.FailedRules++
			if rule.Severity == SeverityBlocking {
				run.BlockingFailures++
			}
		}
		results = append(results, res)
	}

	ended := e.now()
	passed := run.BlockingFailures == 0
	run.EndedAt, run.Passed = &ended, &passed
	if err := e.repo.FinishRun(ctx, run); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}

	ev := e.logger.Info()
	if !passed {
		ev = e.logger.Warn()
	}
	ev.Int64("run_id", run.ID).
		Int("rules", len(rules)).
		Int("failed_rules", run.FailedRules).
		Int("blocking_failures", run.BlockingFailures).
		Bool("passed", passed).
		Dur("duration", ended.Sub(run.StartedAt)).
		Msg("verification run finished")

	return &Report{Run: run, Results: results}, nil
}

func (e *Engine) evaluate(ctx context.Context, runID int64, rule *Rule, batchID *uuid.UUID) *Result {
	res := &Result{RunID: runID, RuleID: rule.ID, RuleCode: rule.Code, Severity: rule.Severity}
	if rule.BatchScoped && batchID == nil {
		res.OK = true
		res.Message = strPtr("skipped: no batch")
		res.ExecutedAt = e.now()
		return res
	}

	count, sample, err := e.repo.Evaluate(ctx, rule, batchID, e.sampleLimit)
	res.ExecutedAt = e.now()
	if err != nil {
		res.Message = strPtr("execution error: " + err.Error())
		e.logger.Error().Err(err).Str("rule", rule.Code).Msg("verification rule failed to execute")
		return res
	}
	res.RowsAffected = &count
	res.OK = count == 0
	if !res.OK {
		res.Sample = sample
		res.Message = strPtr(fmt.Sprintf("%d violating rows", count))
	}
	return res
}

func strPtr(s string) *string { return &s }
