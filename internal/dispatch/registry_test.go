package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidahmann/steward/internal/policy"
	"github.com/davidahmann/steward/pkg/types"
)

var admitted = types.Decision{RequestID: "r1", Verdict: types.VerdictAdmit, Code: types.CodeAdmitted, Action: "launch_campaign"}

func okHandler(status int) HandlerFunc {
	return func(context.Context, types.ActionRequest, types.Decision) (Result, error) {
		return Result{Status: status}, nil
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("launch_campaign", okHandler(200)))
	require.ErrorIs(t, reg.Register("launch_campaign", okHandler(200)), ErrDuplicateHandler)
}

func TestValidateReportsEveryMismatch(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("launch_campaign", okHandler(200)))
	require.NoError(t, reg.Register("retired_action", okHandler(200)))

	err := reg.Validate([]string{"launch_campaign", "assist_learning", "execute_trade"})
	require.ErrorIs(t, err, ErrMissingHandler)
	require.ErrorIs(t, err, ErrUnknownAction)
	require.Contains(t, err.Error(), "assist_learning")
	require.Contains(t, err.Error(), "execute_trade")
	require.Contains(t, err.Error(), "retired_action")

	require.NoError(t, reg.Validate([]string{"launch_campaign", "retired_action"}))
}

func TestDispatchOnlyAdmitted(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	require.NoError(t, reg.Register("launch_campaign", HandlerFunc(func(context.Context, types.ActionRequest, types.Decision) (Result, error) {
		calls++
		return Result{Status: 202}, nil
	})))
	req := types.ActionRequest{RequestID: "r1", Action: "launch_campaign"}

	for _, verdict := range []types.Verdict{types.VerdictDeny, types.VerdictPause, types.VerdictOverrideRequired} {
		d := admitted
		d.Verdict = verdict
		_, err := reg.Dispatch(context.Background(), req, d)
		require.ErrorIs(t, err, ErrNotAdmitted)
	}
	require.Zero(t, calls)

	res, err := reg.Dispatch(context.Background(), req, admitted)
	require.NoError(t, err)
	require.Equal(t, "launch_campaign", res.Action)
	require.Equal(t, 1, calls)

	_, err = reg.Dispatch(context.Background(), types.ActionRequest{Action: "unknown"}, admitted)
	require.ErrorIs(t, err, ErrMissingHandler)
}

func TestDispatchWrapsHandlerError(t *testing.T) {
	boom := errors.New("downstream exploded")
	reg := NewRegistry()
	require.NoError(t, reg.Register("launch_campaign", HandlerFunc(func(context.Context, types.ActionRequest, types.Decision) (Result, error) {
		return Result{}, boom
	})))
	_, err := reg.Dispatch(context.Background(), types.ActionRequest{Action: "launch_campaign"}, admitted)
	require.ErrorIs(t, err, boom)
}

func TestHTTPForwarder(t *testing.T) {
	var got forwardBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/flows/campaigns/launch", r.URL.Path)
		require.Equal(t, "r1", r.Header.Get("X-Request-ID"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"campaign_id":"c-9"}`))
	}))
	defer srv.Close()

	fwd, err := NewHTTPForwarder(srv.URL+"/", "/flows/campaigns/launch", time.Second)
	require.NoError(t, err)

	req := types.ActionRequest{RequestID: "r1", ActorID: "outreach-1", ActorRole: types.RoleOutreachAgent, Action: "launch_campaign", TargetID: "seller-7"}
	res, err := fwd.Handle(context.Background(), req, admitted)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.Status)
	require.JSONEq(t, `{"campaign_id":"c-9"}`, string(res.Output))
	require.Equal(t, "seller-7", got.Request.TargetID)
	require.Equal(t, types.VerdictAdmit, got.Decision.Verdict)
}

func TestHTTPForwarderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fwd, err := NewHTTPForwarder(srv.URL, "trade", time.Second)
	require.NoError(t, err)
	_, err = fwd.Handle(context.Background(), types.ActionRequest{Action: "execute_trade"}, admitted)
	require.ErrorContains(t, err, "502")
}

func TestFromPolicyCoversEveryAction(t *testing.T) {
	loaded, err := policy.LoadPolicy("../../policies/steward.yaml")
	require.NoError(t, err)

	reg, err := FromPolicy(loaded.Policy, "", time.Second, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, loaded.Policy.ActionNames(), reg.Actions())

	withDownstream, err := FromPolicy(loaded.Policy, "http://downstream.internal", time.Second, zap.NewNop())
	require.NoError(t, err)
	withDownstream.mu.RLock()
	h := withDownstream.handlers["execute_trade"]
	withDownstream.mu.RUnlock()
	fwd, ok := h.(*HTTPForwarder)
	require.True(t, ok)
	require.Contains(t, fwd.Endpoint(), "http://downstream.internal/")
}

func TestReloadCoversActionsAddedByPolicy(t *testing.T) {
	loaded, err := policy.LoadPolicy("../../policies/steward.yaml")
	require.NoError(t, err)
	reg, err := FromPolicy(loaded.Policy, "", time.Second, zap.NewNop())
	require.NoError(t, err)

	next := loaded.Policy
	next.Actions = make(map[string]policy.ActionSpec, len(loaded.Policy.Actions)+1)
	for name, spec := range loaded.Policy.Actions {
		next.Actions[name] = spec
	}
	next.Actions["send_newsletter"] = policy.ActionSpec{FlowType: types.FlowBasic, RiskProfile: "outreach"}

	req := types.ActionRequest{RequestID: "r1", Action: "send_newsletter"}
	_, err = reg.Dispatch(context.Background(), req, admitted)
	require.ErrorIs(t, err, ErrMissingHandler)

	require.NoError(t, reg.Reload(next, "", time.Second, zap.NewNop()))
	require.Contains(t, reg.Actions(), "send_newsletter")
	res, err := reg.Dispatch(context.Background(), req, admitted)
	require.NoError(t, err)
	require.Equal(t, "send_newsletter", res.Action)

	require.Error(t, reg.Reload(next, "://bad", time.Second, zap.NewNop()))
	require.Contains(t, reg.Actions(), "send_newsletter")
}
