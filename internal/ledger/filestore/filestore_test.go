package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/pkg/types"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestCollectionsLiveUnderAuditPrefix(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.AppendOverride(ctx, types.OverrideRecord{OverrideID: "ov1", Timestamp: t0, ActionID: "verify_payout", Category: types.CategoryFinancial}))
	require.NoError(t, s.AppendFlag(ctx, types.FlaggedAction{FlagID: "f1", ActionID: "launch_campaign", Timestamp: t0}))
	require.NoError(t, s.AppendResolution(ctx, types.FlagResolution{FlagID: "f1", ResolvedBy: "council-chair", Timestamp: t0}))
	require.ErrorIs(t, s.AppendResolution(ctx, types.FlagResolution{FlagID: "f1", ResolvedBy: "council-ethics", Timestamp: t0}), ledger.ErrAlreadyResolved)
	require.NoError(t, s.AppendVote(ctx, types.CouncilVote{VoteID: "v1", Version: "v1", Vote: types.VoteApprove, Timestamp: t0}))
	require.NoError(t, s.AppendAuditEvent(ctx, types.AuditEvent{EventID: "e1", Seq: 1, Timestamp: t0, Digest: "sha256:aa"}))

	for _, name := range []string{"override-history", "flagged-actions", "flag-resolutions", "council-votes", "audit-events"} {
		_, err := os.Stat(filepath.Join(dir, "audit", name+".jsonl"))
		require.NoError(t, err, name)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "audit", "override-history.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], `"action_id":"verify_payout"`)
}

func TestAppendOnlyAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.AppendAuditEvent(ctx, types.AuditEvent{EventID: "e1", Seq: 1, Timestamp: t0, Digest: "sha256:01"}))
	require.NoError(t, s.AppendAuditEvent(ctx, types.AuditEvent{EventID: "e2", Seq: 2, Timestamp: t0, Digest: "sha256:02", RequestID: "r2"}))

	reopened, err := Open(dir)
	require.NoError(t, err)
	err = reopened.AppendAuditEvent(ctx, types.AuditEvent{EventID: "dup", Seq: 2, Timestamp: t0})
	require.True(t, errors.Is(err, ledger.ErrSeqConflict), "got %v", err)
	require.NoError(t, reopened.AppendAuditEvent(ctx, types.AuditEvent{EventID: "e3", Seq: 3, Timestamp: t0, Digest: "sha256:03"}))

	last, ok, err := reopened.LastAuditEvent(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "e3", last.EventID)

	byRequest, err := reopened.ListAuditEvents(ctx, ledger.AuditFilter{RequestID: "r2"})
	require.NoError(t, err)
	require.Len(t, byRequest, 1)
	require.True(t, byRequest[0].Timestamp.Equal(t0))
}

func TestTornTailIsSkippedAndRepaired(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.AppendVote(ctx, types.CouncilVote{VoteID: "v1", Version: "v1", Vote: types.VoteApprove, Timestamp: t0}))

	path := filepath.Join(dir, "audit", "council-votes.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString(`{"vote_id":"v2","version":"v1","vo`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	votes, err := s.ListVotes(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, votes, 1)

	require.NoError(t, s.AppendVote(ctx, types.CouncilVote{VoteID: "v3", Version: "v1", Vote: types.VoteReject, Timestamp: t0}))
	votes, err = s.ListVotes(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, votes, 2)
	require.Equal(t, "v3", votes[1].VoteID)
}

func TestCompleteTailWithoutNewlineIsKept(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.AppendOverride(ctx, types.OverrideRecord{OverrideID: "o1", Timestamp: t0, ActionID: "verify_payout", Category: types.CategoryFinancial}))

	raw, err := json.Marshal(types.OverrideRecord{OverrideID: "o2", Timestamp: t0, ActionID: "execute_trade", Category: types.CategoryFinancial})
	require.NoError(t, err)
	path := filepath.Join(dir, "audit", "override-history.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	require.NoError(t, err)
	_, err = f.Write(raw)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ids := func() []string {
		recs, err := s.ListOverrides(ctx)
		require.NoError(t, err)
		out := make([]string, 0, len(recs))
		for _, rec := range recs {
			out = append(out, rec.OverrideID)
		}
		return out
	}
	require.Equal(t, []string{"o1", "o2"}, ids())

	require.NoError(t, s.AppendOverride(ctx, types.OverrideRecord{OverrideID: "o3", Timestamp: t0, ActionID: "verify_payout", Category: types.CategoryFinancial}))
	require.Equal(t, []string{"o1", "o2", "o3"}, ids())
}

func TestCorruptMiddleLineFails(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "audit", "flagged-actions.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"flag_id\":\"f1\"}\n"), 0o640))

	_, err = s.ListFlags(context.Background())
	require.Error(t, err)
}

func TestFlagsAndEscalations(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(dir)
	require.NoError(t, err)

	flag := types.FlaggedAction{FlagID: "f1", ActionID: "assist_learning", Comment: "confusing", Timestamp: t0, Resolved: true}
	require.NoError(t, s.AppendFlag(ctx, flag))
	require.ErrorIs(t, s.AppendFlag(ctx, flag), ledger.ErrDuplicateID)

	flags, err := s.ListFlags(ctx)
	require.NoError(t, err)
	require.False(t, flags[0].Resolved, "resolution is derived, never stored on the flag")

	rec := ledger.EscalationRecord{EscalationID: "x1", RequestID: "r1", PayloadJSON: []byte(`{}`), Status: ledger.EscalationPending, NextAttemptAt: t0, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.PutEscalation(ctx, rec))
	due, err := s.ListEscalationsDue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	rec.Status = ledger.EscalationSent
	require.NoError(t, s.PutEscalation(ctx, rec))
	due, err = s.ListEscalationsDue(ctx, t0, 10)
	require.NoError(t, err)
	require.Empty(t, due)

	got, ok, err := s.GetEscalation(ctx, "x1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ledger.EscalationSent, got.Status)

	bad := rec
	bad.PayloadJSON = []byte("{")
	require.ErrorIs(t, s.PutEscalation(ctx, bad), ledger.ErrInvalidPayload)
}

func TestStoreInterface(t *testing.T) {
	var _ ledger.Store = (*Store)(nil)
}
