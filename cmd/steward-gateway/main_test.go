package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/davidahmann/steward/internal/config"
)

const testPolicy = "../../policies/steward.yaml"

func envMap(values map[string]string) envFn {
	return func(key string) string { return values[key] }
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.PolicyPath != "policies/steward.yaml" || cfg.DB.Driver != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Audit.KeyID != "steward-1" || cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.yaml")
	raw := "listen_addr: \":9999\"\npolicy_path: \"./p.yaml\"\ndb:\n  driver: sqlite\n  dsn: file.db\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path, envMap(map[string]string{
		"STEWARD_LISTEN_ADDR": "127.0.0.1:7000",
		"STEWARD_REDIS_ADDR":  "localhost:6379",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("env should win, got %s", cfg.ListenAddr)
	}
	if cfg.PolicyPath != "./p.yaml" || cfg.DB.Driver != "sqlite" || cfg.DB.DSN != "file.db" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.RateLimit.Backend != "redis" {
		t.Fatalf("redis addr should select the redis backend, got %q", cfg.RateLimit.Backend)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	if _, err := loadConfig("", envMap(map[string]string{"STEWARD_DB_DRIVER": "mongo"})); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := loadConfig("", envMap(map[string]string{"STEWARD_INGRESS_RPS": "fast"})); err == nil {
		t.Fatalf("expected rps parse error")
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil)); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestRunStopsWhenListenerReturns(t *testing.T) {
	var built bool
	factory := func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
		built = true
		if cfg.ListenAddr != "127.0.0.1:1234" {
			t.Fatalf("unexpected addr %s", cfg.ListenAddr)
		}
		return &app{
			server: &http.Server{Addr: cfg.ListenAddr},
			background: []func(context.Context) error{
				func(ctx context.Context) error { <-ctx.Done(); return nil },
			},
		}, nil
	}
	listen := func(*http.Server) error { return http.ErrServerClosed }

	err := run(context.Background(), nil, envMap(map[string]string{"STEWARD_LISTEN_ADDR": "127.0.0.1:1234"}), listen, factory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !built {
		t.Fatalf("factory not called")
	}
}

func TestRunReturnsListenError(t *testing.T) {
	factory := func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
		return &app{server: &http.Server{Addr: cfg.ListenAddr}}, nil
	}
	listenErr := errors.New("listen failed")
	err := run(context.Background(), nil, envMap(nil), func(*http.Server) error { return listenErr }, factory)
	if !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestRunFactoryError(t *testing.T) {
	factoryErr := errors.New("boom")
	factory := func(context.Context, config.Config, *zap.Logger) (*app, error) { return nil, factoryErr }
	err := run(context.Background(), nil, envMap(nil), func(*http.Server) error { return nil }, factory)
	if !errors.Is(err, factoryErr) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	if err := run(context.Background(), []string{"-nope"}, envMap(nil), nil, nil); err == nil {
		t.Fatalf("expected flag error")
	}
}

func TestBuildAppServesHealthAndDecisions(t *testing.T) {
	cfg, err := loadConfig("", envMap(map[string]string{"STEWARD_POLICY_PATH": testPolicy}))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Stream.Enabled = true
	cfg.Escalation.Enabled = true
	cfg.Auth.Tokens = []config.TokenConfig{
		{Token: "agent-tok", Subject: "outreach-1", Kind: "agent", Role: "outreach-agent"},
		{Token: "human-tok", Subject: "ops-lead", Kind: "human"},
	}

	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()
	if len(a.background) != 2 {
		t.Fatalf("expected watcher and escalation worker, got %d tasks", len(a.background))
	}
	if a.handler.Stream == nil {
		t.Fatalf("expected audit stream hub")
	}

	res := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "2026-10-01") {
		t.Fatalf("healthz: %d %s", res.Code, res.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(`{"action":"launch_campaign"}`))
	req.Header.Set("Authorization", "Bearer agent-tok")
	res = httptest.NewRecorder()
	a.server.Handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"verdict":"admit"`) {
		t.Fatalf("evaluate: %d %s", res.Code, res.Body.String())
	}
}

func TestBuildAppWithSQLiteStore(t *testing.T) {
	cfg, err := loadConfig("", envMap(map[string]string{
		"STEWARD_POLICY_PATH": testPolicy,
		"STEWARD_DB_DRIVER":   "sqlite",
		"STEWARD_DB_DSN":      filepath.Join(t.TempDir(), "steward.db"),
	}))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()
	if a.handler.Stream != nil {
		t.Fatalf("stream should be off by default")
	}
}

func TestBuildAppMissingPolicy(t *testing.T) {
	cfg, err := loadConfig("", envMap(map[string]string{"STEWARD_POLICY_PATH": filepath.Join(t.TempDir(), "none.yaml")}))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if _, err := buildApp(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected policy error")
	}
}

func TestBuildAppDispatchesActionsAddedByReload(t *testing.T) {
	raw, err := os.ReadFile(testPolicy)
	if err != nil {
		t.Fatalf("read policy: %v", err)
	}
	policyPath := filepath.Join(t.TempDir(), "steward.yaml")
	if err := os.WriteFile(policyPath, raw, 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	cfg, err := loadConfig("", envMap(map[string]string{"STEWARD_POLICY_PATH": policyPath}))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Auth.Tokens = []config.TokenConfig{
		{Token: "agent-tok", Subject: "outreach-1", Kind: "agent", Role: "outreach-agent"},
		{Token: "human-tok", Subject: "ops-lead", Kind: "human"},
	}
	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	extended := strings.Replace(string(raw), "  outreach-agent:\n    - launch_campaign\n", "  outreach-agent:\n    - launch_campaign\n    - send_newsletter\n", 1)
	extended = strings.Replace(extended, "actions:\n", "actions:\n  send_newsletter:\n    flow_type: basic\n    risk_profile: outreach\n", 1)
	if extended == string(raw) {
		t.Fatalf("policy fixture changed shape")
	}
	if err := os.WriteFile(policyPath, []byte(extended), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	serve := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		res := httptest.NewRecorder()
		a.server.Handler.ServeHTTP(res, req)
		return res
	}
	if res := serve(http.MethodPost, "/v1/policy/reload", "human-tok", ""); res.Code != http.StatusOK {
		t.Fatalf("reload: %d %s", res.Code, res.Body.String())
	}
	res := serve(http.MethodPost, "/v1/execute", "agent-tok", `{"action":"send_newsletter"}`)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"verdict":"admit"`) {
		t.Fatalf("execute after reload: %d %s", res.Code, res.Body.String())
	}
}
