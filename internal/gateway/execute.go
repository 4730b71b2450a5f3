package gateway

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/davidahmann/steward/internal/dispatch"
	"github.com/davidahmann/steward/pkg/types"
)

// Execution is the outcome of Execute. Result is nil unless the action
// was admitted and dispatched.
type Execution struct {
	Decision types.Decision   `json:"decision"`
	Result   *dispatch.Result `json:"result,omitempty"`
}

// Execute evaluates req and, on admission, runs the registered handler.
// The handler outcome is recorded after the fact; it never changes the
// decision.
func (g *Gateway) Execute(ctx context.Context, req types.ActionRequest) (Execution, error) {
	if g.deps.Dispatcher == nil {
		return Execution{}, fmt.Errorf("%w: dispatcher", ErrMissingDependency)
	}
	d, err := g.Evaluate(ctx, req)
	if err != nil {
		return Execution{Decision: d}, err
	}
	if !d.Admitted() {
		return Execution{Decision: d}, nil
	}
	req.RequestID = d.RequestID

	res, dispatchErr := g.deps.Dispatcher.Dispatch(ctx, req, d)
	meta := map[string]string{"decision_event_id": d.AuditEventID}
	verdict := "dispatched"
	if dispatchErr != nil {
		verdict = "failed"
		meta["error"] = dispatchErr.Error()
	} else {
		meta["status"] = strconv.Itoa(res.Status)
	}
	if _, err := g.deps.Audit.Record(ctx, types.AuditEvent{
		ActorID:       req.ActorID,
		Subsystem:     types.SubsystemDispatch,
		Action:        req.Action,
		PolicyVersion: d.PolicyVersion,
		Verdict:       verdict,
		RequestID:     d.RequestID,
		Metadata:      meta,
	}); err != nil {
		g.logger.Error("dispatch audit failed", zap.String("request_id", d.RequestID), zap.Error(err))
	}

	if dispatchErr != nil {
		return Execution{Decision: d}, fmt.Errorf("%w: %w", ErrDispatch, dispatchErr)
	}
	return Execution{Decision: d, Result: &res}, nil
}
