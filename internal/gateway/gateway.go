// Package gateway is the single entry point agents call. It runs the
// checks in a fixed order, stops at the first one that fails, and records
// every terminal decision before returning it.
package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidahmann/steward/internal/dispatch"
	"github.com/davidahmann/steward/internal/policy"
	"github.com/davidahmann/steward/internal/risk"
	"github.com/davidahmann/steward/pkg/types"
)

const DefaultOverrideTimeout = 2 * time.Second

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Permissions interface {
	Allows(role types.Role, action string) bool
	HasRole(role types.Role) bool
}

type RiskDetector interface {
	MatchedSignals(ctx context.Context, targetID string, watch risk.WatchSet) ([]string, error)
}

type OverrideChecker interface {
	IsOverrideRequired(category string) bool
	HasActiveOverride(ctx context.Context, scope types.OverrideScope, at time.Time) (bool, error)
}

type Recorder interface {
	Record(ctx context.Context, ev types.AuditEvent) (types.AuditEvent, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req types.ActionRequest, d types.Decision) (dispatch.Result, error)
}

type PolicySource interface {
	Current() policy.LoadedPolicy
}

// Escalator is told about paused and override-required decisions.
type Escalator interface {
	Escalate(ctx context.Context, req types.ActionRequest, d types.Decision) error
}

// Deps are the collaborators the gateway is built from. Dispatcher and
// Escalator are optional.
type Deps struct {
	Policy      PolicySource
	Limiter     Limiter
	Permissions Permissions
	Risk        RiskDetector
	Overrides   OverrideChecker
	Audit       Recorder
	Dispatcher  Dispatcher
	Escalator   Escalator
}

type Gateway struct {
	deps            Deps
	logger          *zap.Logger
	overrideTimeout time.Duration
	now             func() time.Time
	newID           func() string
}

type Option func(*Gateway)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

func WithOverrideTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.overrideTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func WithIDs(newID func() string) Option {
	return func(g *Gateway) { g.newID = newID }
}

func New(deps Deps, opts ...Option) (*Gateway, error) {
	var missing []string
	if deps.Policy == nil {
		missing = append(missing, "policy")
	}
	if deps.Limiter == nil {
		missing = append(missing, "limiter")
	}
	if deps.Permissions == nil {
		missing = append(missing, "permissions")
	}
	if deps.Risk == nil {
		missing = append(missing, "risk")
	}
	if deps.Overrides == nil {
		missing = append(missing, "overrides")
	}
	if deps.Audit == nil {
		missing = append(missing, "audit")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingDependency, strings.Join(missing, ", "))
	}

	g := &Gateway{
		deps:            deps,
		logger:          zap.NewNop(),
		overrideTimeout: DefaultOverrideTimeout,
		now:             time.Now,
		newID:           func() string { return "req_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// evaluation carries one request through the checks.
type evaluation struct {
	req      types.ActionRequest
	loaded   policy.LoadedPolicy
	spec     policy.ActionSpec
	known    bool
	flow     types.FlowType
	signals  []string
	decision types.Decision
}

// Evaluate decides req. The returned error is non-nil only when the
// decision could not be recorded; the decision is then a deny with
// AUDIT_WRITE_FAILURE.
func (g *Gateway) Evaluate(ctx context.Context, req types.ActionRequest) (types.Decision, error) {
	if req.RequestID == "" {
		req.RequestID = g.newID()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = g.now()
	}
	req.RequestedAt = req.RequestedAt.UTC()

	ev := &evaluation{req: req, loaded: g.deps.Policy.Current()}
	ev.spec, ev.known = ev.loaded.Policy.Action(req.Action)
	ev.flow = req.FlowType
	if ev.known {
		ev.flow = ev.spec.FlowType
	}

	checks := []func(context.Context, *evaluation) bool{
		g.checkRate,
		g.checkFlowType,
		g.checkTier,
		g.checkPermission,
		g.checkRisk,
		g.checkOverride,
	}
	decided := false
	for _, check := range checks {
		if check(ctx, ev) {
			decided = true
			break
		}
	}
	if !decided {
		g.decide(ev, types.VerdictAdmit, types.CodeAdmitted, types.ReasonAdmitted)
	}
	return g.commit(ctx, ev)
}

func (g *Gateway) decide(ev *evaluation, verdict types.Verdict, code types.ReasonCode, reason string) {
	d := types.Decision{
		RequestID:     ev.req.RequestID,
		Verdict:       verdict,
		Code:          code,
		Reason:        reason,
		Action:        ev.req.Action,
		FlowType:      ev.flow,
		PolicyVersion: ev.loaded.Policy.PolicyVersion,
		DecidedAt:     g.now().UTC(),
	}
	if verdict == types.VerdictAdmit {
		d.FeeBps = ev.loaded.Policy.FeeBps(ev.flow)
	}
	ev.decision = d
}

func rateKey(req types.ActionRequest) string {
	actor := req.ActorID
	if actor == "" {
		actor = string(req.ActorRole)
	}
	return actor + "/" + req.Action
}

func (g *Gateway) checkRate(ctx context.Context, ev *evaluation) bool {
	ok, err := g.deps.Limiter.Allow(ctx, rateKey(ev.req))
	if err != nil {
		g.logger.Warn("rate limiter unavailable", zap.String("request_id", ev.req.RequestID), zap.Error(err))
		ok = false
	}
	if ok {
		return false
	}
	g.decide(ev, types.VerdictDeny, types.CodeRateLimited, types.ReasonRateLimited)
	return true
}

// checkFlowType rejects a caller-declared flow type that contradicts the
// action's configured flow.
func (g *Gateway) checkFlowType(_ context.Context, ev *evaluation) bool {
	if ev.req.FlowType == "" {
		return false
	}
	if ev.req.FlowType.Valid() && (!ev.known || ev.req.FlowType == ev.spec.FlowType) {
		return false
	}
	g.decide(ev, types.VerdictDeny, types.CodeFlowTypeMismatch, types.ReasonFlowTypeMismatch)
	return true
}

func (g *Gateway) checkTier(_ context.Context, ev *evaluation) bool {
	restriction, ok := ev.loaded.Policy.TierRestriction(ev.req.UserTier, ev.flow)
	if !ok {
		return false
	}
	g.decide(ev, types.VerdictDeny, types.CodeTierRestricted, restriction.Reason)
	return true
}

func (g *Gateway) checkPermission(_ context.Context, ev *evaluation) bool {
	switch {
	case !ev.req.ActorRole.Known() || !g.deps.Permissions.HasRole(ev.req.ActorRole) || !ev.known:
		g.decide(ev, types.VerdictDeny, types.CodeConfigurationMissing, types.ReasonPermissionDenied)
	case !g.deps.Permissions.Allows(ev.req.ActorRole, ev.req.Action):
		g.decide(ev, types.VerdictDeny, types.CodePermissionDenied, types.ReasonPermissionDenied)
	default:
		return false
	}
	return true
}

func (g *Gateway) checkRisk(ctx context.Context, ev *evaluation) bool {
	watch := risk.NewWatchSet(ev.loaded.Policy.WatchSet(ev.spec.RiskProfile)...)
	if len(watch) == 0 || ev.req.TargetID == "" {
		return false
	}
	matched, err := g.deps.Risk.MatchedSignals(ctx, ev.req.TargetID, watch)
	if err != nil {
		g.logger.Warn("signal source failed", zap.String("request_id", ev.req.RequestID), zap.Error(err))
		g.decide(ev, types.VerdictPause, types.CodeSignalSourceFailure, types.ReasonSignalUnavailable)
		return true
	}
	if len(matched) == 0 {
		return false
	}
	ev.signals = matched
	g.decide(ev, types.VerdictPause, types.CodeEmotionalFlagPause, types.ReasonEmotionalFlag)
	return true
}

// overrideActionID is the identifier an override must name. Requests
// without an action instance id are matched by action name.
func overrideActionID(req types.ActionRequest) string {
	if req.ActionID != "" {
		return req.ActionID
	}
	return req.Action
}

func (g *Gateway) checkOverride(ctx context.Context, ev *evaluation) bool {
	category := ev.flow.Category()
	if !g.deps.Overrides.IsOverrideRequired(category) {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, g.overrideTimeout)
	defer cancel()
	scope := types.OverrideScope{
		ActionID: overrideActionID(ev.req),
		Action:   ev.req.Action,
		Agent:    ev.req.ActorID,
		Category: category,
	}
	active, err := g.deps.Overrides.HasActiveOverride(checkCtx, scope, ev.req.RequestedAt)
	if err != nil {
		g.logger.Warn("override check failed", zap.String("request_id", ev.req.RequestID), zap.Error(err))
		g.decide(ev, types.VerdictPause, types.CodeOverrideCheckFailure, types.ReasonOverrideCheckFailed)
		return true
	}
	if active {
		return false
	}
	g.decide(ev, types.VerdictOverrideRequired, types.CodeOverrideRequired, types.ReasonOverrideRequired)
	return true
}

// commit writes the audit event for the decision. Without a durable record
// nothing is admitted.
func (g *Gateway) commit(ctx context.Context, ev *evaluation) (types.Decision, error) {
	d := ev.decision
	meta := map[string]string{
		"reason":     d.Reason,
		"actor_role": string(ev.req.ActorRole),
	}
	if ev.req.TargetID != "" {
		meta["target_id"] = ev.req.TargetID
	}
	if ev.req.ActionID != "" {
		meta["action_id"] = ev.req.ActionID
	}
	if ev.flow != "" {
		meta["flow_type"] = string(ev.flow)
	}
	if ev.req.UserTier != "" {
		meta["user_tier"] = ev.req.UserTier
	}
	if len(ev.signals) > 0 {
		meta["signals"] = strings.Join(ev.signals, ",")
	}
	if d.Admitted() {
		meta["fee_bps"] = strconv.Itoa(d.FeeBps)
	}

	committed, err := g.deps.Audit.Record(ctx, types.AuditEvent{
		ActorID:       ev.req.ActorID,
		Subsystem:     types.SubsystemGateway,
		Action:        ev.req.Action,
		PolicyVersion: d.PolicyVersion,
		Verdict:       string(d.Verdict),
		ReasonCode:    string(d.Code),
		RequestID:     d.RequestID,
		Metadata:      meta,
	})
	if err != nil {
		failed := d
		failed.Verdict = types.VerdictDeny
		failed.Code = types.CodeAuditWriteFailure
		failed.Reason = types.ReasonAuditWriteFailed
		failed.FeeBps = 0
		g.logDecision(failed, zap.String("intended_verdict", string(d.Verdict)), zap.Error(err))
		return failed, err
	}
	d.AuditEventID = committed.EventID
	g.logDecision(d)

	if g.deps.Escalator != nil && (d.Verdict == types.VerdictPause || d.Verdict == types.VerdictOverrideRequired) {
		if err := g.deps.Escalator.Escalate(context.WithoutCancel(ctx), ev.req, d); err != nil {
			g.logger.Warn("escalation enqueue failed", zap.String("request_id", d.RequestID), zap.Error(err))
		}
	}
	return d, nil
}

func (g *Gateway) logDecision(d types.Decision, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("request_id", d.RequestID),
		zap.String("action", d.Action),
		zap.String("verdict", string(d.Verdict)),
		zap.String("reason_code", string(d.Code)),
	}, extra...)
	if d.Code == types.CodeAuditWriteFailure {
		g.logger.Error("decision", fields...)
		return
	}
	g.logger.Info("decision", fields...)
}
