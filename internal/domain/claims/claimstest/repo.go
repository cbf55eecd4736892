// Package claimstest provides an in-memory event log for tests.
package claimstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ehr/claims/internal/domain/claims"
)

// Repo is a claims.Repository backed by maps. It honors the same
// uniqueness rules as the PostgreSQL schema.
type Repo struct {
	mu sync.Mutex

	nextID      int64
	keys        map[string]*claims.ClaimKey
	claims      map[int64]*claims.Claim
	activities  map[int64]map[string]*claims.Activity
	remitClaims map[int64][]*claims.RemittanceClaim
	remitActs   map[int64][]*claims.RemittanceActivity
	events      map[int64][]*claims.ClaimEvent
	snapshots   map[int64][]*claims.EventActivity
	resubs      map[int64]*claims.Resubmission

	// Locks records every LockClaimKey call in order.
	Locks []int64
}

func NewRepo() *Repo {
	return &Repo{
		keys:        make(map[string]*claims.ClaimKey),
		claims:      make(map[int64]*claims.Claim),
		activities:  make(map[int64]map[string]*claims.Activity),
		remitClaims: make(map[int64][]*claims.RemittanceClaim),
		remitActs:   make(map[int64][]*claims.RemittanceActivity),
		events:      make(map[int64][]*claims.ClaimEvent),
		snapshots:   make(map[int64][]*claims.EventActivity),
		resubs:      make(map[int64]*claims.Resubmission),
	}
}

func (r *Repo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *Repo) EnsureClaimKey(_ context.Context, claimID string) (*claims.ClaimKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.keys[claimID]; ok {
		cp := *k
		return &cp, nil
	}
	k := &claims.ClaimKey{ID: r.id(), ClaimID: claimID, CreatedAt: time.Now()}
	r.keys[claimID] = k
	cp := *k
	return &cp, nil
}

func (r *Repo) GetClaimKey(_ context.Context, claimID string) (*claims.ClaimKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[claimID]
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", claimID, claims.ErrNotFound)
	}
	cp := *k
	return &cp, nil
}

func (r *Repo) LockClaimKey(_ context.Context, claimKeyID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.ID == claimKeyID {
			r.Locks = append(r.Locks, claimKeyID)
			return nil
		}
	}
	return fmt.Errorf("claim key %d: %w", claimKeyID, claims.ErrNotFound)
}

func (r *Repo) CreateClaim(_ context.Context, c *claims.Claim) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.claims[c.ClaimKeyID]; ok {
		return false, nil
	}
	c.ID = r.id()
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	cp := *c
	r.claims[c.ClaimKeyID] = &cp
	return true, nil
}

func (r *Repo) BackfillRefs(_ context.Context, claimKeyID int64, payerRef, providerRef, facilityRef *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[claimKeyID]
	if !ok {
		return nil
	}
	if c.PayerRef == nil {
		c.PayerRef = payerRef
	}
	if c.ProviderRef == nil {
		c.ProviderRef = providerRef
	}
	if c.FacilityRef == nil {
		c.FacilityRef = facilityRef
	}
	return nil
}

func (r *Repo) GetClaim(_ context.Context, claimKeyID int64) (*claims.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[claimKeyID]
	if !ok {
		return nil, fmt.Errorf("claim for key %d: %w", claimKeyID, claims.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r *Repo) AppendActivity(_ context.Context, a *claims.Activity) (bool, error) {
	if err := a.Validate(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.activities[a.ClaimKeyID]
	if m == nil {
		m = make(map[string]*claims.Activity)
		r.activities[a.ClaimKeyID] = m
	}
	if _, ok := m[a.ActivityID]; ok {
		return false, nil
	}
	a.ID = r.id()
	a.CreatedAt = time.Now()
	cp := *a
	m[a.ActivityID] = &cp
	return true, nil
}

func (r *Repo) ListActivities(_ context.Context, claimKeyID int64) ([]*claims.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*claims.Activity
	for _, a := range r.activities[claimKeyID] {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityID < out[j].ActivityID })
	return out, nil
}

func (r *Repo) AppendRemittanceClaim(_ context.Context, rc *claims.RemittanceClaim) (bool, error) {
	if err := rc.Validate(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.remitClaims[rc.ClaimKeyID] {
		if ex.CycleTime.Equal(rc.CycleTime) {
			return false, nil
		}
	}
	rc.ID = r.id()
	rc.CreatedAt = time.Now()
	cp := *rc
	r.remitClaims[rc.ClaimKeyID] = append(r.remitClaims[rc.ClaimKeyID], &cp)
	return true, nil
}

func (r *Repo) ListRemittanceClaims(_ context.Context, claimKeyID int64) ([]*claims.RemittanceClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*claims.RemittanceClaim
	for _, rc := range r.remitClaims[claimKeyID] {
		cp := *rc
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CycleTime.Before(out[j].CycleTime) })
	return out, nil
}

func (r *Repo) AppendRemittanceActivity(_ context.Context, ra *claims.RemittanceActivity) (bool, error) {
	if err := ra.Validate(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.remitActs[ra.ClaimKeyID] {
		if ex.SameFact(ra) {
			return false, nil
		}
	}
	ra.ID = r.id()
	ra.CreatedAt = time.Now()
	cp := *ra
	r.remitActs[ra.ClaimKeyID] = append(r.remitActs[ra.ClaimKeyID], &cp)
	return true, nil
}

func (r *Repo) listRemits(claimKeyID int64, match func(*claims.RemittanceActivity) bool) []*claims.RemittanceActivity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*claims.RemittanceActivity
	for _, ra := range r.remitActs[claimKeyID] {
		if match(ra) {
			cp := *ra
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ActivityID != out[j].ActivityID {
			return out[i].ActivityID < out[j].ActivityID
		}
		return out[i].CycleTime.Before(out[j].CycleTime)
	})
	return out
}

func (r *Repo) ListRemittanceActivities(_ context.Context, claimKeyID int64) ([]*claims.RemittanceActivity, error) {
	return r.listRemits(claimKeyID, func(*claims.RemittanceActivity) bool { return true }), nil
}

func (r *Repo) AppendEvent(_ context.Context, e *claims.ClaimEvent) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.events[e.ClaimKeyID] {
		if ex.Type == e.Type && ex.EventTime.Equal(e.EventTime) {
			e.ID, e.BatchID, e.CreatedAt = ex.ID, ex.BatchID, ex.CreatedAt
			return false, nil
		}
	}
	e.ID = r.id()
	e.CreatedAt = time.Now()
	cp := *e
	r.events[e.ClaimKeyID] = append(r.events[e.ClaimKeyID], &cp)
	return true, nil
}

func (r *Repo) ListEvents(_ context.Context, claimKeyID int64) ([]*claims.ClaimEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*claims.ClaimEvent
	for _, e := range r.events[claimKeyID] {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventTime.Equal(out[j].EventTime) {
			return out[i].EventTime.Before(out[j].EventTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Repo) SnapshotActivities(_ context.Context, claimEventID int64, snaps []claims.EventActivity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.snapshots[claimEventID]
next:
	for _, s := range snaps {
		for _, ex := range existing {
			if ex.ActivityID == s.ActivityID {
				continue next
			}
		}
		s.ClaimEventID = claimEventID
		cp := s
		existing = append(existing, &cp)
	}
	r.snapshots[claimEventID] = existing
	return nil
}

func (r *Repo) ListEventActivities(_ context.Context, claimEventID int64) ([]*claims.EventActivity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*claims.EventActivity
	for _, s := range r.snapshots[claimEventID] {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityID < out[j].ActivityID })
	return out, nil
}

func (r *Repo) AppendResubmission(_ context.Context, rs *claims.Resubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resubs[rs.ClaimEventID]; !ok {
		cp := *rs
		r.resubs[rs.ClaimEventID] = &cp
	}
	return nil
}

// Resubmission returns the stored resubmission detail for an event.
func (r *Repo) Resubmission(claimEventID int64) (*claims.Resubmission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.resubs[claimEventID]
	return rs, ok
}

// Tx is a db.Transactor that runs fn directly without rollback.
type Tx struct {
	Calls int
}

func (t *Tx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.Calls++
	return fn(ctx)
}

var _ claims.Repository = (*Repo)(nil)
