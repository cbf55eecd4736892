package ingestion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/domain/reconciliation"
	"github.com/ehr/claims/internal/domain/timeline"
	"github.com/ehr/claims/internal/domain/verification"
	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/db"
)

// Aggregator rebuilds a claim's financial aggregates.
type Aggregator interface {
	RecomputeClaim(ctx context.Context, claimKeyID int64) (*reconciliation.ClaimPayment, error)
	InvalidateClaim(ctx context.Context, claimID string) error
}

// Projector appends status timeline rows for new events. Rebuild fills the
// rows of remittance events that were held back until the claim had
// activities.
type Projector interface {
	OnEvent(ctx context.Context, e *claims.ClaimEvent) (*timeline.Entry, bool, error)
	Rebuild(ctx context.Context, claimKeyID int64) (int, error)
	InvalidateClaim(ctx context.Context, claimID string) error
}

// Verifier checks the stored aggregates once a batch has committed.
type Verifier interface {
	Run(ctx context.Context, batchID *uuid.UUID) (*verification.Report, error)
}

type Service struct {
	events   claims.Repository
	agg      Aggregator
	proj     Projector
	verifier Verifier
	tx       db.Transactor
	logger   zerolog.Logger
}

// NewService wires the write path. verifier may be nil.
func NewService(events claims.Repository, agg Aggregator, proj Projector, verifier Verifier, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{events: events, agg: agg, proj: proj, verifier: verifier, tx: tx, logger: logger}
}

// batchWriter carries the state of one IngestBatch transaction.
type batchWriter struct {
	events    claims.Repository
	batchID   uuid.UUID
	keys      map[string]*claims.ClaimKey
	result    *Result
	newEvents []*claims.ClaimEvent
	// grown holds the claims that gained activities in this batch.
	grown map[int64]bool
}

// IngestBatch writes every fact in b, then recomputes each touched claim and
// projects each new event, all in one transaction. Claims are locked in
// ascending claim key order. Remittance lines may arrive before the activity
// they pay; they are stored and folded in once the submission lands.
// Verification runs after commit and never fails the batch.
func (s *Service) IngestBatch(ctx context.Context, b *Batch) (*Result, error) {
	if err := auth.Authorize(ctx, auth.OpIngestBatch); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	claimIDs := b.ClaimIDs()
	var res *Result
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		w := &batchWriter{
			events:  s.events,
			batchID: b.ID,
			keys:    make(map[string]*claims.ClaimKey, len(claimIDs)),
			result:  &Result{BatchID: b.ID},
			grown:   make(map[int64]bool),
		}
		ordered, err := w.lockClaims(ctx, claimIDs)
		if err != nil {
			return err
		}
		for i := range b.Submissions {
			if err := w.writeSubmission(ctx, &b.Submissions[i]); err != nil {
				return fmt.Errorf("submission %s: %w", b.Submissions[i].ClaimID, err)
			}
		}
		for i := range b.Resubmissions {
			if err := w.writeResubmission(ctx, &b.Resubmissions[i]); err != nil {
				return fmt.Errorf("resubmission %s: %w", b.Resubmissions[i].ClaimID, err)
			}
		}
		for i := range b.Remittances {
			if err := w.writeRemittance(ctx, &b.Remittances[i]); err != nil {
				return fmt.Errorf("remittance %s: %w", b.Remittances[i].ClaimID, err)
			}
		}

		outcomes := make(map[int64]*ClaimOutcome, len(ordered))
		for _, k := range ordered {
			p, err := s.agg.RecomputeClaim(ctx, k.ID)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", k.ClaimID, err)
			}
			o := &ClaimOutcome{ClaimID: k.ClaimID, ClaimKeyID: k.ID, PaymentStatus: string(p.PaymentStatus)}
			outcomes[k.ID] = o
		}

		sort.SliceStable(w.newEvents, func(i, j int) bool {
			x, y := w.newEvents[i], w.newEvents[j]
			if !x.EventTime.Equal(y.EventTime) {
				return x.EventTime.Before(y.EventTime)
			}
			return x.ID < y.ID
		})
		for _, e := range w.newEvents {
			inserted, err := s.project(ctx, e)
			if err != nil {
				return err
			}
			if inserted {
				outcomes[e.ClaimKeyID].StatusRows++
			}
		}
		for _, k := range ordered {
			if !w.grown[k.ID] {
				continue
			}
			added, err := s.proj.Rebuild(ctx, k.ID)
			if err != nil {
				return fmt.Errorf("rebuild status timeline %s: %w", k.ClaimID, err)
			}
			outcomes[k.ID].StatusRows += added
		}

		for _, k := range ordered {
			w.result.Claims = append(w.result.Claims, *outcomes[k.ID])
		}
		res = w.result
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("batch_id", b.ID.String()).Msg("ingestion batch rolled back")
		return nil, err
	}

	for _, id := range claimIDs {
		if err := s.agg.InvalidateClaim(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("claim_id", id).Msg("payment cache invalidation failed")
		}
		if err := s.proj.InvalidateClaim(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("claim_id", id).Msg("status cache invalidation failed")
		}
	}

	s.logger.Info().
		Str("batch_id", b.ID.String()).
		Int("claims", len(claimIDs)).
		Int("events", res.Inserted.Events).
		Int("remittance_activities", res.Inserted.RemittanceActivities).
		Int("duplicates", res.Duplicates.RemittanceActivities+res.Duplicates.Events).
		Msg("ingestion batch committed")

	if s.verifier != nil {
		batchID := b.ID
		report, err := s.verifier.Run(ctx, &batchID)
		if err != nil {
			s.logger.Error().Err(err).Str("batch_id", b.ID.String()).Msg("post-ingestion verification failed")
		} else {
			res.Verification = report.Run
		}
	}
	return res, nil
}

func (s *Service) project(ctx context.Context, e *claims.ClaimEvent) (bool, error) {
	_, inserted, err := s.proj.OnEvent(ctx, e)
	if err != nil {
		return false, fmt.Errorf("project event %d: %w", e.ID, err)
	}
	return inserted, nil
}

// lockClaims ensures a key for every claim id, then takes the claim locks in
// ascending key order.
func (w *batchWriter) lockClaims(ctx context.Context, claimIDs []string) ([]*claims.ClaimKey, error) {
	ordered := make([]*claims.ClaimKey, 0, len(claimIDs))
	for _, id := range claimIDs {
		k, err := w.events.EnsureClaimKey(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("claim key %s: %w", id, err)
		}
		w.keys[id] = k
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	for _, k := range ordered {
		if err := w.events.LockClaimKey(ctx, k.ID); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func (w *batchWriter) key(claimID string) int64 {
	return w.keys[strings.TrimSpace(claimID)].ID
}

func (w *batchWriter) writeSubmission(ctx context.Context, s *Submission) error {
	keyID := w.key(s.ClaimID)
	c := &claims.Claim{
		ClaimKeyID:   keyID,
		PayerRef:     s.PayerRef,
		ProviderRef:  s.ProviderRef,
		FacilityRef:  s.FacilityRef,
		Gross:        s.Gross,
		PatientShare: s.PatientShare,
		Net:          s.Net,
		SubmittedAt:  s.SubmittedAt,
	}
	if err := c.Validate(); err != nil {
		return err
	}
	inserted, err := w.events.CreateClaim(ctx, c)
	if err != nil {
		return err
	}
	w.result.record(inserted, claimsCount)
	if !inserted {
		if err := w.events.BackfillRefs(ctx, keyID, s.PayerRef, s.ProviderRef, s.FacilityRef); err != nil {
			return err
		}
	}

	if err := w.writeActivities(ctx, keyID, s.Activities); err != nil {
		return err
	}
	return w.appendEvent(ctx, keyID, claims.EventSubmission, s.SubmittedAt, nil)
}

func (w *batchWriter) writeResubmission(ctx context.Context, r *Resubmission) error {
	keyID := w.key(r.ClaimID)
	if err := w.writeActivities(ctx, keyID, r.Activities); err != nil {
		return err
	}
	return w.appendEvent(ctx, keyID, claims.EventResubmission, r.EventTime, &claims.Resubmission{
		ResubmissionType: strings.TrimSpace(r.ResubmissionType),
		Comment:          r.Comment,
	})
}

func (w *batchWriter) writeActivities(ctx context.Context, keyID int64, acts []Activity) error {
	for _, in := range acts {
		a := &claims.Activity{
			ClaimKeyID:   keyID,
			ActivityID:   strings.TrimSpace(in.ActivityID),
			StartAt:      in.StartAt,
			Type:         in.Type,
			Code:         in.Code,
			ClinicianRef: in.ClinicianRef,
			Net:          in.Net,
		}
		if err := a.Validate(); err != nil {
			return err
		}
		inserted, err := w.events.AppendActivity(ctx, a)
		if err != nil {
			return err
		}
		w.result.record(inserted, activitiesCount)
		if inserted {
			w.grown[keyID] = true
		}
	}
	return nil
}

func (w *batchWriter) writeRemittance(ctx context.Context, r *Remittance) error {
	keyID := w.key(r.ClaimID)
	batchID := w.batchID
	header := &claims.RemittanceClaim{
		ClaimKeyID:       keyID,
		CycleTime:        r.CycleTime,
		PayerRef:         r.PayerRef,
		ProviderRef:      r.ProviderRef,
		PaymentReference: r.PaymentReference,
		DateSettlement:   r.DateSettlement,
		BatchID:          &batchID,
	}
	if err := header.Validate(); err != nil {
		return err
	}
	inserted, err := w.events.AppendRemittanceClaim(ctx, header)
	if err != nil {
		return err
	}
	w.result.record(inserted, remittanceClaimsCount)

	for _, in := range r.Activities {
		line := &claims.RemittanceActivity{
			ClaimKeyID:    keyID,
			ActivityID:    strings.TrimSpace(in.ActivityID),
			CycleTime:     r.CycleTime,
			PaymentAmount: in.PaymentAmount,
			DenialCode:    in.DenialCode,
		}
		if err := line.Validate(); err != nil {
			return err
		}
		inserted, err := w.events.AppendRemittanceActivity(ctx, line)
		if err != nil {
			return err
		}
		w.result.record(inserted, remittanceActivitiesCount)
	}
	return w.appendEvent(ctx, keyID, claims.EventRemittance, r.CycleTime, nil)
}

// appendEvent stores the event and, when it is new, the activity snapshot
// and resubmission detail that belong to it.
func (w *batchWriter) appendEvent(ctx context.Context, keyID int64, typ claims.EventType, at time.Time, resub *claims.Resubmission) error {
	batchID := w.batchID
	e := &claims.ClaimEvent{ClaimKeyID: keyID, Type: typ, EventTime: at, BatchID: &batchID}
	if err := e.Validate(); err != nil {
		return err
	}
	inserted, err := w.events.AppendEvent(ctx, e)
	if err != nil {
		return err
	}
	w.result.record(inserted, eventsCount)
	if !inserted {
		return nil
	}

	if resub != nil {
		resub.ClaimEventID = e.ID
		if err := w.events.AppendResubmission(ctx, resub); err != nil {
			return err
		}
	}
	snaps, err := w.snapshot(ctx, keyID, typ, at)
	if err != nil {
		return err
	}
	if err := w.events.SnapshotActivities(ctx, e.ID, snaps); err != nil {
		return err
	}
	w.newEvents = append(w.newEvents, e)
	return nil
}

// snapshot captures each activity's net and, for a remittance, the payment
// and denial it received in that cycle.
func (w *batchWriter) snapshot(ctx context.Context, keyID int64, typ claims.EventType, at time.Time) ([]claims.EventActivity, error) {
	acts, err := w.events.ListActivities(ctx, keyID)
	if err != nil {
		return nil, err
	}
	type cycleLine struct {
		paid   decimal.Decimal
		denial *string
	}
	lines := make(map[string]*cycleLine)
	if typ == claims.EventRemittance {
		all, err := w.events.ListRemittanceActivities(ctx, keyID)
		if err != nil {
			return nil, err
		}
		for _, l := range all {
			if !l.CycleTime.Equal(at) {
				continue
			}
			cl, ok := lines[l.ActivityID]
			if !ok {
				cl = &cycleLine{}
				lines[l.ActivityID] = cl
			}
			cl.paid = cl.paid.Add(l.PaymentAmount)
			if l.DenialCode != nil {
				cl.denial = l.DenialCode
			}
		}
	}

	snaps := make([]claims.EventActivity, 0, len(acts))
	for _, a := range acts {
		s := claims.EventActivity{
			ActivityID: a.ActivityID,
			NetAtEvent: decimal.NewNullDecimal(a.Net),
		}
		if cl, ok := lines[a.ActivityID]; ok {
			s.PaymentAmountAtEvent = decimal.NewNullDecimal(cl.paid)
			s.DenialCodeAtEvent = cl.denial
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}
