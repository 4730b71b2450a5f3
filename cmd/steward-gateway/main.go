package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/steward/internal/config"
	"github.com/davidahmann/steward/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runFn(ctx, os.Args[1:], os.Getenv, listenAndServe, buildApp); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string
type listenFn func(*http.Server) error
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error)

func run(ctx context.Context, args []string, getenv envFn, listen listenFn, factory appFactory) error {
	fs := flag.NewFlagSet("steward-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to steward config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(firstNonEmpty(*configPath, getenv("STEWARD_CONFIG_PATH")), getenv)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := factory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("steward-gateway listening", zap.String("addr", a.server.Addr))
		if err := listen(a.server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return errStopped
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	for _, task := range a.background {
		g.Go(func() error { return task(gctx) })
	}
	return ignoreStopped(g.Wait())
}

// loadConfig reads the optional config file and applies STEWARD_*
// overrides. Environment wins over file, file wins over defaults.
func loadConfig(path string, getenv envFn) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	cfg.ListenAddr = firstNonEmpty(getenv("STEWARD_LISTEN_ADDR"), cfg.ListenAddr, ":8080")
	cfg.PolicyPath = firstNonEmpty(getenv("STEWARD_POLICY_PATH"), cfg.PolicyPath, "policies/steward.yaml")
	cfg.DB.Driver = firstNonEmpty(getenv("STEWARD_DB_DRIVER"), cfg.DB.Driver, "memory")
	cfg.DB.DSN = firstNonEmpty(getenv("STEWARD_DB_DSN"), cfg.DB.DSN)
	cfg.Audit.SigningKeyPath = firstNonEmpty(getenv("STEWARD_SIGNING_KEY_PATH"), cfg.Audit.SigningKeyPath)
	cfg.Audit.KeyID = firstNonEmpty(getenv("STEWARD_KEY_ID"), cfg.Audit.KeyID, "steward-1")
	cfg.Downstream.BaseURL = firstNonEmpty(getenv("STEWARD_DOWNSTREAM_URL"), cfg.Downstream.BaseURL)
	cfg.Escalation.WebhookURL = firstNonEmpty(getenv("STEWARD_ESCALATION_WEBHOOK_URL"), cfg.Escalation.WebhookURL)
	cfg.RateLimit.RedisAddr = firstNonEmpty(getenv("STEWARD_REDIS_ADDR"), cfg.RateLimit.RedisAddr)
	if cfg.RateLimit.RedisAddr != "" && cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "redis"
	}
	cfg.Log.Level = firstNonEmpty(getenv("STEWARD_LOG_LEVEL"), cfg.Log.Level, "info")
	cfg.Log.Format = firstNonEmpty(getenv("STEWARD_LOG_FORMAT"), cfg.Log.Format, "json")
	if raw := getenv("STEWARD_INGRESS_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Ingress.RPS = rps
	}
	return cfg, cfg.Validate()
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

// errStopped ends the group once the listener returns so the background
// tasks are cancelled.
var errStopped = errors.New("server stopped")

func ignoreStopped(err error) error {
	if errors.Is(err, errStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
