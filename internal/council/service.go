// Package council implements community oversight: feedback flags on agent
// actions, their resolution by council members, policy version votes and
// the periodic override review.
package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/internal/override"
	"github.com/davidahmann/steward/pkg/types"
)

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, ev types.AuditEvent) (types.AuditEvent, error)
}

type Service struct {
	store     ledger.Store
	overrides *override.Ledger
	audit     Recorder
	now       func() time.Time
	newID     func(prefix string) string

	// resolveMu serializes the resolved check with the resolution append.
	resolveMu sync.Mutex

	mu            sync.RWMutex
	members       map[string]struct{}
	policyVersion string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDs(newID func(prefix string) string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store ledger.Store, audit Recorder, opts ...Option) *Service {
	s := &Service{
		store:     store,
		overrides: override.NewLedger(store),
		audit:     audit,
		now:       time.Now,
		newID:     func(prefix string) string { return prefix + uuid.NewString() },
		members:   map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure sets the council roster and the policy version stamped on audit
// events. An empty roster leaves voting open and resolution closed.
func (s *Service) Configure(members []string, policyVersion string) {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = set
	s.policyVersion = policyVersion
}

func (s *Service) isMember(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id]
	return ok
}

func (s *Service) rosterEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members) == 0
}

func (s *Service) version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policyVersion
}

func (s *Service) record(ctx context.Context, actor, action, verdict string, meta map[string]string) error {
	_, err := s.audit.Record(ctx, types.AuditEvent{
		ActorID:       actor,
		Subsystem:     types.SubsystemCouncil,
		Action:        action,
		PolicyVersion: s.version(),
		Verdict:       verdict,
		Metadata:      meta,
	})
	return err
}

// SubmitFeedback appends an unresolved flag on actionID.
func (s *Service) SubmitFeedback(ctx context.Context, actionID, comment, submittedBy string) (types.FlaggedAction, error) {
	actionID = strings.TrimSpace(actionID)
	if actionID == "" {
		return types.FlaggedAction{}, ErrMissingAction
	}
	if strings.TrimSpace(comment) == "" {
		return types.FlaggedAction{}, ErrMissingComment
	}
	flag := types.FlaggedAction{
		FlagID:      s.newID("flg_"),
		ActionID:    actionID,
		Comment:     comment,
		SubmittedBy: submittedBy,
		Timestamp:   s.now().UTC(),
	}
	if err := s.record(ctx, submittedBy, "submit_feedback", "flagged", map[string]string{
		"flag_id":   flag.FlagID,
		"action_id": flag.ActionID,
	}); err != nil {
		return types.FlaggedAction{}, err
	}
	if err := s.overrides.AppendFlag(ctx, flag); err != nil {
		return types.FlaggedAction{}, fmt.Errorf("append flag: %w", err)
	}
	return flag, nil
}

// ResolveFlag records that a council member addressed flagID. Flags are
// never resolved implicitly.
func (s *Service) ResolveFlag(ctx context.Context, flagID, resolvedBy, note string) (types.FlagResolution, error) {
	if !s.isMember(resolvedBy) {
		return types.FlagResolution{}, fmt.Errorf("%w: %s", ErrNotCouncilMember, resolvedBy)
	}
	s.resolveMu.Lock()
	defer s.resolveMu.Unlock()

	flags, err := s.store.ListFlags(ctx)
	if err != nil {
		return types.FlagResolution{}, err
	}
	resolutions, err := s.store.ListResolutions(ctx)
	if err != nil {
		return types.FlagResolution{}, err
	}
	found := false
	for _, flag := range ledger.ApplyResolutions(flags, resolutions) {
		if flag.FlagID != flagID {
			continue
		}
		if flag.Resolved {
			return types.FlagResolution{}, fmt.Errorf("%w: %s", ledger.ErrAlreadyResolved, flagID)
		}
		found = true
	}
	if !found {
		return types.FlagResolution{}, fmt.Errorf("%w: %s", ledger.ErrUnknownFlag, flagID)
	}

	res := types.FlagResolution{FlagID: flagID, ResolvedBy: resolvedBy, Note: note, Timestamp: s.now().UTC()}
	if err := s.record(ctx, resolvedBy, "resolve_flag", "resolved", map[string]string{"flag_id": flagID}); err != nil {
		return types.FlagResolution{}, err
	}
	if err := s.store.AppendResolution(ctx, res); err != nil {
		return types.FlagResolution{}, fmt.Errorf("append resolution: %w", err)
	}
	return res, nil
}

// CastVote appends one vote. Repeat votes by the same voter are kept; the
// tally counts every vote cast.
func (s *Service) CastVote(ctx context.Context, version, choice, voter string) (types.CouncilVote, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return types.CouncilVote{}, ErrMissingVersion
	}
	vote, err := types.ParseVoteChoice(choice)
	if err != nil {
		return types.CouncilVote{}, fmt.Errorf("%w: %v", ErrInvalidVote, err)
	}
	if !s.rosterEmpty() && !s.isMember(voter) {
		return types.CouncilVote{}, fmt.Errorf("%w: %s", ErrNotCouncilMember, voter)
	}

	rec := types.CouncilVote{
		VoteID:    s.newID("vot_"),
		Version:   version,
		Vote:      vote,
		Voter:     voter,
		Timestamp: s.now().UTC(),
	}
	if err := s.record(ctx, voter, "cast_vote", string(vote), map[string]string{
		"vote_id": rec.VoteID,
		"version": version,
	}); err != nil {
		return types.CouncilVote{}, err
	}
	if err := s.store.AppendVote(ctx, rec); err != nil {
		return types.CouncilVote{}, fmt.Errorf("append vote: %w", err)
	}
	return rec, nil
}

func (s *Service) SummarizeVotes(ctx context.Context, version string) (Tally, error) {
	if strings.TrimSpace(version) == "" {
		return Tally{}, ErrMissingVersion
	}
	votes, err := s.store.ListVotes(ctx, version)
	if err != nil {
		return Tally{}, err
	}
	return Summarize(version, votes), nil
}

// RunOverrideReview summarizes the override ledger. It has no side effects.
func (s *Service) RunOverrideReview(ctx context.Context) (override.Summary, error) {
	return s.overrides.Summarize(ctx)
}

// IsValidationError reports whether err came from caller input rather than
// storage or audit.
func IsValidationError(err error) bool {
	for _, target := range []error{ErrNotCouncilMember, ErrMissingAction, ErrMissingComment, ErrMissingVersion, ErrInvalidVote, ledger.ErrUnknownFlag, ledger.ErrAlreadyResolved} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
