package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidahmann/steward/internal/api"
	"github.com/davidahmann/steward/internal/audit"
	"github.com/davidahmann/steward/internal/auth"
	"github.com/davidahmann/steward/internal/config"
	"github.com/davidahmann/steward/internal/council"
	"github.com/davidahmann/steward/internal/crypto"
	"github.com/davidahmann/steward/internal/dispatch"
	"github.com/davidahmann/steward/internal/escalation"
	"github.com/davidahmann/steward/internal/gateway"
	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/internal/ledger/filestore"
	"github.com/davidahmann/steward/internal/ledger/pgstore"
	"github.com/davidahmann/steward/internal/ledger/sqlstore"
	"github.com/davidahmann/steward/internal/override"
	"github.com/davidahmann/steward/internal/permission"
	"github.com/davidahmann/steward/internal/policy"
	"github.com/davidahmann/steward/internal/ratelimit"
	"github.com/davidahmann/steward/internal/risk"
	"github.com/davidahmann/steward/pkg/types"
)

// app is a fully wired gateway: the HTTP server plus the tasks that run
// beside it.
type app struct {
	server     *http.Server
	handler    *api.Handler
	background []func(context.Context) error
	closers    []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	holder, err := policy.NewHolder(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	p := holder.Current().Policy

	store, err := openStore(ctx, cfg.DB, a)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	signer, err := openSigner(cfg.Audit, logger)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	auditOpts := []audit.Option{
		audit.WithTimeout(cfg.AuditTimeout()),
		audit.WithLogger(logger),
		audit.WithMirror(audit.NewLogMirror(logger)),
	}
	if cfg.PubSub.Enabled {
		mirror, err := audit.NewPubSubMirror(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, mirror.Close)
		auditOpts = append(auditOpts, audit.WithMirror(mirror))
	}
	var hub *api.Hub
	if cfg.Stream.Enabled {
		hub = api.NewHub(cfg.Stream.AllowedOrigins...)
		auditOpts = append(auditOpts, audit.WithMirror(hub))
	}
	engine := audit.NewEngine(store, signer, auditOpts...)

	permissions := permission.NewRegistry(p)
	overrides := override.NewPolicy(store, p.OverrideMandatory)
	guard := override.NewGuard(override.NewLedger(store), engine)
	guard.Configure(p.OverrideApprovers, p.OverrideTTL(), p.PolicyVersion)
	svc := council.NewService(store, engine)
	svc.Configure(p.CouncilMembers, p.PolicyVersion)
	signals := risk.NewMemorySignals()

	limiter, err := newLimiter(cfg.RateLimit, p, a)
	if err != nil {
		return nil, err
	}

	registry, err := dispatch.FromPolicy(p, cfg.Downstream.BaseURL, cfg.DownstreamTimeout(), logger)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	holder.Subscribe(func(loaded policy.LoadedPolicy) {
		next := loaded.Policy
		if err := registry.Reload(next, cfg.Downstream.BaseURL, cfg.DownstreamTimeout(), logger); err != nil {
			logger.Error("dispatch reload failed", zap.String("policy_version", next.PolicyVersion), zap.Error(err))
		}
		permissions.Load(next)
		overrides.Configure(next.OverrideMandatory)
		guard.Configure(next.OverrideApprovers, next.OverrideTTL(), next.PolicyVersion)
		svc.Configure(next.CouncilMembers, next.PolicyVersion)
		limiter.Reconfigure(next.RateLimit.Capacity, next.RateWindow())
		logger.Info("policy applied",
			zap.String("policy_version", next.PolicyVersion),
			zap.String("policy_hash", loaded.Hash))
	})

	deps := gateway.Deps{
		Policy:      holder,
		Limiter:     limiter,
		Permissions: permissions,
		Risk:        risk.NewDetector(signals),
		Overrides:   overrides,
		Audit:       engine,
		Dispatcher:  registry,
	}
	if cfg.Escalation.Enabled {
		deps.Escalator = escalation.NewOutbox(store, nil)
		var notifier escalation.Notifier = escalation.LogNotifier{Logger: logger}
		if cfg.Escalation.WebhookURL != "" {
			notifier = escalation.NewWebhookNotifier(cfg.Escalation.WebhookURL, 5*time.Second)
		}
		interval := cfg.EscalationPollInterval()
		a.background = append(a.background, func(ctx context.Context) error {
			return escalation.RunWorker(ctx, store, notifier, interval, logger)
		})
	}
	gw, err := gateway.New(deps,
		gateway.WithLogger(logger),
		gateway.WithOverrideTimeout(cfg.OverrideCheckTimeout()),
	)
	if err != nil {
		return nil, err
	}

	watcher := policy.NewWatcher(holder, logger)
	a.background = append(a.background, watcher.Run)

	keyID, pub := engine.PublicKey()
	a.handler = &api.Handler{
		Auth:    auth.NewTokenAuthenticator(identities(cfg.Auth.Tokens)),
		Gateway: gw,
		Guard:   guard,
		Council: svc,
		Store:   store,
		Audit:   engine,
		Policy:  holder,
		Signals: signals,
		Keys:    audit.Keys{keyID: pub},
		Stream:  hub,
		Logger:  logger,
	}
	a.server = &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewRouter(a.handler, api.RouterOptions{
			IngressRPS:   cfg.Ingress.RPS,
			IngressBurst: cfg.Ingress.Burst,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ok = true
	return a, nil
}

func openStore(ctx context.Context, db config.DBConfig, a *app) (ledger.Store, error) {
	switch db.Driver {
	case "", "memory":
		return ledger.NewInMemoryStore(), nil
	case "file":
		return filestore.Open(db.DSN)
	case "sqlite":
		s, err := sqlstore.OpenSQLite(db.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, ledger.Migrate(ctx, s.DB(), ledger.DBSQLite)
	case "postgres":
		s, err := pgstore.OpenPostgres(db.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, ledger.Migrate(ctx, s.DB(), ledger.DBPostgres)
	default:
		return nil, fmt.Errorf("unsupported driver %q", db.Driver)
	}
}

func openSigner(cfg config.AuditConfig, logger *zap.Logger) (crypto.Signer, error) {
	if cfg.SigningKeyPath != "" {
		return crypto.LoadSigner(cfg.SigningKeyPath, cfg.KeyID)
	}
	logger.Warn("no signing key configured; using an ephemeral key", zap.String("key_id", cfg.KeyID))
	return crypto.EphemeralSigner(cfg.KeyID)
}

func newLimiter(cfg config.RateLimitConfig, p policy.Policy, a *app) (ratelimit.Backend, error) {
	if cfg.Backend != "redis" {
		return ratelimit.Local{Limiter: ratelimit.New(p.RateLimit.Capacity, p.RateWindow())}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, client.Close)
	return ratelimit.NewRedis(client, p.RateLimit.Capacity, p.RateWindow()), nil
}

func identities(tokens []config.TokenConfig) map[string]auth.Identity {
	out := make(map[string]auth.Identity, len(tokens))
	for _, tok := range tokens {
		out[tok.Token] = auth.Identity{
			Subject: tok.Subject,
			Kind:    auth.Kind(tok.Kind),
			Role:    types.Role(tok.Role),
		}
	}
	return out
}
