package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davidahmann/steward/pkg/types"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestInMemoryStore_Overrides(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if got, _ := s.ListOverrides(ctx); len(got) != 0 {
		t.Fatalf("expected empty ledger, got %+v", got)
	}
	if err := s.AppendOverride(ctx, types.OverrideRecord{}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}

	recs := []types.OverrideRecord{
		{OverrideID: "ov1", Timestamp: t0, ActionID: "verify_payout", Category: types.CategoryFinancial, OverrideBy: "ops-lead", ApprovedBy: "compliance-officer", Reason: "manual check"},
		{OverrideID: "ov2", Timestamp: t0.Add(time.Minute), ActionID: "trigger_onboarding", Category: types.CategoryRelationship, OverrideBy: "ops-lead", ApprovedBy: "compliance-officer", Reason: "vip"},
	}
	for _, rec := range recs {
		if err := s.AppendOverride(ctx, rec); err != nil {
			t.Fatalf("append override: %v", err)
		}
	}

	found, err := s.FindOverrides(ctx, "verify_payout", types.CategoryFinancial)
	if err != nil || len(found) != 1 || found[0].OverrideID != "ov1" {
		t.Fatalf("find mismatch: err=%v got=%+v", err, found)
	}
	if found, _ := s.FindOverrides(ctx, "verify_payout", types.CategoryRelationship); len(found) != 0 {
		t.Fatalf("category must match: %+v", found)
	}

	all, _ := s.ListOverrides(ctx)
	latest, ok := LatestOverride(all)
	if !ok || latest.OverrideID != "ov2" {
		t.Fatalf("latest mismatch: ok=%v got=%+v", ok, latest)
	}
}

func TestInMemoryStore_FlagsAndResolutions(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	flag := types.FlaggedAction{FlagID: "f1", ActionID: "launch_campaign", Comment: "too pushy", SubmittedBy: "council-ethics", Timestamp: t0}
	if err := s.AppendFlag(ctx, flag); err != nil {
		t.Fatalf("append flag: %v", err)
	}
	if err := s.AppendFlag(ctx, flag); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if err := s.AppendFlag(ctx, types.FlaggedAction{FlagID: "f2", ActionID: "assist_learning", Timestamp: t0}); err != nil {
		t.Fatalf("append flag: %v", err)
	}
	if err := s.AppendResolution(ctx, types.FlagResolution{FlagID: "f1", ResolvedBy: "council-chair", Timestamp: t0.Add(time.Hour)}); err != nil {
		t.Fatalf("append resolution: %v", err)
	}
	if err := s.AppendResolution(ctx, types.FlagResolution{FlagID: "f1", ResolvedBy: "council-ethics", Timestamp: t0.Add(2 * time.Hour)}); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	flags, _ := s.ListFlags(ctx)
	resolutions, _ := s.ListResolutions(ctx)
	for _, f := range flags {
		if f.Resolved {
			t.Fatalf("stored flags must not be marked resolved: %+v", f)
		}
	}
	applied := ApplyResolutions(flags, resolutions)
	if !applied[0].Resolved || applied[1].Resolved {
		t.Fatalf("resolution mismatch: %+v", applied)
	}
	if flags[0].Resolved {
		t.Fatalf("ApplyResolutions must not modify its input")
	}
}

func TestInMemoryStore_Votes(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	votes := []types.CouncilVote{
		{VoteID: "v1", Version: "v1", Vote: types.VoteApprove, Timestamp: t0},
		{VoteID: "v2", Version: "v1", Vote: types.VoteReject, Timestamp: t0},
		{VoteID: "v3", Version: "v2", Vote: types.VotePause, Timestamp: t0},
	}
	for _, v := range votes {
		if err := s.AppendVote(ctx, v); err != nil {
			t.Fatalf("append vote: %v", err)
		}
	}
	if got, _ := s.ListVotes(ctx, "v1"); len(got) != 2 {
		t.Fatalf("expected 2 votes for v1, got %d", len(got))
	}
	if got, _ := s.ListVotes(ctx, "v3"); len(got) != 0 {
		t.Fatalf("expected no votes for unknown version, got %d", len(got))
	}
}

func TestInMemoryStore_AuditEvents(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, ok, err := s.LastAuditEvent(ctx); err != nil || ok {
		t.Fatalf("expected empty log: ok=%v err=%v", ok, err)
	}
	if err := s.AppendAuditEvent(ctx, types.AuditEvent{EventID: "e2", Seq: 2}); !errors.Is(err, ErrSeqConflict) {
		t.Fatalf("expected ErrSeqConflict for gap, got %v", err)
	}

	events := []types.AuditEvent{
		{EventID: "e1", Seq: 1, Subsystem: types.SubsystemGateway, RequestID: "r1"},
		{EventID: "e2", Seq: 2, Subsystem: types.SubsystemDispatch, RequestID: "r1"},
		{EventID: "e3", Seq: 3, Subsystem: types.SubsystemGateway, RequestID: "r2"},
	}
	for _, ev := range events {
		if err := s.AppendAuditEvent(ctx, ev); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	if err := s.AppendAuditEvent(ctx, types.AuditEvent{EventID: "dup", Seq: 3}); !errors.Is(err, ErrSeqConflict) {
		t.Fatalf("expected ErrSeqConflict for reused seq, got %v", err)
	}

	last, ok, err := s.LastAuditEvent(ctx)
	if err != nil || !ok || last.Seq != 3 {
		t.Fatalf("last mismatch: ok=%v err=%v got=%+v", ok, err, last)
	}

	cases := []struct {
		filter AuditFilter
		want   []string
	}{
		{AuditFilter{}, []string{"e1", "e2", "e3"}},
		{AuditFilter{RequestID: "r1"}, []string{"e1", "e2"}},
		{AuditFilter{Subsystem: types.SubsystemGateway}, []string{"e1", "e3"}},
		{AuditFilter{AfterSeq: 1, Limit: 1}, []string{"e2"}},
	}
	for _, tc := range cases {
		got, err := s.ListAuditEvents(ctx, tc.filter)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("filter %+v: got %d events, want %d", tc.filter, len(got), len(tc.want))
		}
		for i := range got {
			if got[i].EventID != tc.want[i] {
				t.Fatalf("filter %+v: got %s at %d, want %s", tc.filter, got[i].EventID, i, tc.want[i])
			}
		}
	}
}

func TestInMemoryStore_Escalations(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	due := EscalationRecord{EscalationID: "x1", RequestID: "r1", Status: EscalationPending, NextAttemptAt: t0, CreatedAt: t0, UpdatedAt: t0}
	later := EscalationRecord{EscalationID: "x2", RequestID: "r2", Status: EscalationPending, NextAttemptAt: t0.Add(time.Hour), CreatedAt: t0, UpdatedAt: t0}
	sent := EscalationRecord{EscalationID: "x3", RequestID: "r3", Status: EscalationSent, NextAttemptAt: t0, CreatedAt: t0, UpdatedAt: t0}
	for _, rec := range []EscalationRecord{due, later, sent} {
		if err := s.PutEscalation(ctx, rec); err != nil {
			t.Fatalf("put escalation: %v", err)
		}
	}

	got, err := s.ListEscalationsDue(ctx, t0, 10)
	if err != nil || len(got) != 1 || got[0].EscalationID != "x1" {
		t.Fatalf("due mismatch: err=%v got=%+v", err, got)
	}
	if rec, ok, err := s.GetEscalation(ctx, "x2"); err != nil || !ok || rec.RequestID != "r2" {
		t.Fatalf("get mismatch: ok=%v err=%v got=%+v", ok, err, rec)
	}
	if _, ok, _ := s.GetEscalation(ctx, "missing"); ok {
		t.Fatalf("expected missing escalation")
	}
}

var _ Store = (*InMemoryStore)(nil)
