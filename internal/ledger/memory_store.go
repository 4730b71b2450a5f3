package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davidahmann/steward/pkg/types"
)

type InMemoryStore struct {
	mu sync.Mutex

	overrides   []types.OverrideRecord
	flags       []types.FlaggedAction
	resolutions []types.FlagResolution
	votes       []types.CouncilVote
	events      []types.AuditEvent
	escalations map[string]EscalationRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{escalations: make(map[string]EscalationRecord)}
}

func (s *InMemoryStore) AppendOverride(_ context.Context, rec types.OverrideRecord) error {
	if rec.OverrideID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = append(s.overrides, rec)
	return nil
}

func (s *InMemoryStore) ListOverrides(_ context.Context) ([]types.OverrideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.OverrideRecord{}, s.overrides...), nil
}

func (s *InMemoryStore) FindOverrides(_ context.Context, actionID, category string) ([]types.OverrideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.OverrideRecord{}
	for _, rec := range s.overrides {
		if rec.ActionID == actionID && rec.Category == category {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AppendFlag(_ context.Context, flag types.FlaggedAction) error {
	if flag.FlagID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.flags {
		if existing.FlagID == flag.FlagID {
			return ErrDuplicateID
		}
	}
	s.flags = append(s.flags, flag)
	return nil
}

func (s *InMemoryStore) ListFlags(_ context.Context) ([]types.FlaggedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.FlaggedAction{}, s.flags...), nil
}

func (s *InMemoryStore) AppendResolution(_ context.Context, res types.FlagResolution) error {
	if res.FlagID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.resolutions {
		if existing.FlagID == res.FlagID {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, res.FlagID)
		}
	}
	s.resolutions = append(s.resolutions, res)
	return nil
}

func (s *InMemoryStore) ListResolutions(_ context.Context) ([]types.FlagResolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.FlagResolution{}, s.resolutions...), nil
}

func (s *InMemoryStore) AppendVote(_ context.Context, vote types.CouncilVote) error {
	if vote.VoteID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes = append(s.votes, vote)
	return nil
}

func (s *InMemoryStore) ListVotes(_ context.Context, version string) ([]types.CouncilVote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.CouncilVote{}
	for _, vote := range s.votes {
		if vote.Version == version {
			out = append(out, vote)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AppendAuditEvent(_ context.Context, ev types.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Seq != int64(len(s.events))+1 {
		return ErrSeqConflict
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *InMemoryStore) ListAuditEvents(_ context.Context, filter AuditFilter) ([]types.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.AuditEvent{}
	for _, ev := range s.events {
		if !filter.Match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) LastAuditEvent(_ context.Context) (types.AuditEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return types.AuditEvent{}, false, nil
	}
	return s.events[len(s.events)-1], true, nil
}

func (s *InMemoryStore) PutEscalation(_ context.Context, rec EscalationRecord) error {
	if rec.EscalationID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations[rec.EscalationID] = rec
	return nil
}

func (s *InMemoryStore) GetEscalation(_ context.Context, escalationID string) (EscalationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.escalations[escalationID]
	return rec, ok, nil
}

func (s *InMemoryStore) ListEscalationsDue(_ context.Context, now time.Time, limit int) ([]EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []EscalationRecord{}
	for _, rec := range s.escalations {
		if rec.Due(now) {
			out = append(out, rec)
		}
	}
	SortEscalations(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
