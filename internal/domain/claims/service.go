package claims

import (
	"context"
	"fmt"
	"strings"

	"github.com/ehr/claims/internal/platform/auth"
)

// Service exposes read access to the event log. Writes go through the
// ingestion path, which uses the Repository directly inside its transaction.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EventView is one claim event together with its activity snapshots.
type EventView struct {
	*ClaimEvent
	TypeName   string           `json:"type_name"`
	Activities []*EventActivity `json:"activities"`
}

// ClaimLog is the full fact history of one claim.
type ClaimLog struct {
	Key         *ClaimKey             `json:"claim_key"`
	Claim       *Claim                `json:"claim,omitempty"`
	Activities  []*Activity           `json:"activities"`
	Remittances []*RemittanceActivity `json:"remittances"`
	Events      []EventView           `json:"events"`
}

func (s *Service) ResolveClaim(ctx context.Context, claimID string) (*ClaimKey, error) {
	if err := auth.Authorize(ctx, auth.OpReadClaims); err != nil {
		return nil, err
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return nil, violation("claim_id is required")
	}
	return s.repo.GetClaimKey(ctx, claimID)
}

// ListEvents returns the claim's events. A non-empty typ (name or code)
// keeps only events of that type.
func (s *Service) ListEvents(ctx context.Context, claimID, typ string) ([]EventView, error) {
	key, err := s.ResolveClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	var only EventType
	if strings.TrimSpace(typ) != "" {
		if only, err = ParseEventType(typ); err != nil {
			return nil, err
		}
	}
	return s.eventViews(ctx, key.ID, only)
}

func (s *Service) eventViews(ctx context.Context, claimKeyID int64, only EventType) ([]EventView, error) {
	events, err := s.repo.ListEvents(ctx, claimKeyID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	views := make([]EventView, 0, len(events))
	for _, e := range events {
		if only != 0 && e.Type != only {
			continue
		}
		snaps, err := s.repo.ListEventActivities(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("list snapshots for event %d: %w", e.ID, err)
		}
		views = append(views, EventView{ClaimEvent: e, TypeName: e.Type.String(), Activities: snaps})
	}
	return views, nil
}

// GetLog returns every stored fact for a claim.
func (s *Service) GetLog(ctx context.Context, claimID string) (*ClaimLog, error) {
	key, err := s.ResolveClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	out := &ClaimLog{Key: key}
	claim, err := s.repo.GetClaim(ctx, key.ID)
	switch {
	case err == nil:
		out.Claim = claim
	case !isNotFound(err):
		return nil, err
	}
	if out.Activities, err = s.repo.ListActivities(ctx, key.ID); err != nil {
		return nil, err
	}
	if out.Remittances, err = s.repo.ListRemittanceActivities(ctx, key.ID); err != nil {
		return nil, err
	}
	if out.Events, err = s.eventViews(ctx, key.ID, 0); err != nil {
		return nil, err
	}
	return out, nil
}
