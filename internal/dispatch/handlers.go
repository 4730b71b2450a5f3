package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/davidahmann/steward/pkg/types"
)

const maxResponseBytes = 1 << 20

// HTTPForwarder posts the admitted request to a downstream service.
type HTTPForwarder struct {
	endpoint string
	client   *http.Client
}

func NewHTTPForwarder(baseURL, path string, timeout time.Duration) (*HTTPForwarder, error) {
	endpoint, err := url.JoinPath(strings.TrimRight(baseURL, "/"), path)
	if err != nil {
		return nil, fmt.Errorf("downstream url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPForwarder{
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (f *HTTPForwarder) Endpoint() string { return f.endpoint }

type forwardBody struct {
	Request  types.ActionRequest `json:"request"`
	Decision types.Decision      `json:"decision"`
}

func (f *HTTPForwarder) Handle(ctx context.Context, req types.ActionRequest, d types.Decision) (Result, error) {
	payload, err := json.Marshal(forwardBody{Request: req, Decision: d})
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", req.RequestID)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("downstream status %d", resp.StatusCode)
	}
	res := Result{Action: req.Action, Status: resp.StatusCode}
	if json.Valid(body) && len(bytes.TrimSpace(body)) > 0 {
		res.Output = body
	}
	return res, nil
}

// LogHandler acknowledges the action without side effects beyond a log
// line. It stands in for actions with no downstream configured.
type LogHandler struct {
	logger *zap.Logger
}

func NewLogHandler(logger *zap.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(_ context.Context, req types.ActionRequest, d types.Decision) (Result, error) {
	h.logger.Info("action dispatched",
		zap.String("request_id", req.RequestID),
		zap.String("action", req.Action),
		zap.String("actor_id", req.ActorID),
		zap.String("target_id", req.TargetID),
		zap.Int("fee_bps", d.FeeBps),
	)
	return Result{Action: req.Action, Status: http.StatusAccepted}, nil
}
