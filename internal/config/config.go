package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string           `yaml:"listen_addr"`
	PolicyPath string           `yaml:"policy_path"`
	DB         DBConfig         `yaml:"db"`
	Audit      AuditConfig      `yaml:"audit"`
	Override   OverrideConfig   `yaml:"override"`
	Escalation EscalationConfig `yaml:"escalation"`
	PubSub     PubSubConfig     `yaml:"pubsub"`
	Downstream DownstreamConfig `yaml:"downstream"`
	Auth       AuthConfig       `yaml:"auth"`
	Ingress    IngressConfig    `yaml:"ingress"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Stream     StreamConfig     `yaml:"stream"`
	Log        LogConfig        `yaml:"log"`
}

// DBConfig selects the ledger store. Driver is memory, file, sqlite or
// postgres; for file the DSN is a directory.
type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuditConfig struct {
	TimeoutMS      int    `yaml:"timeout_ms"`
	SigningKeyPath string `yaml:"signing_key_path"`
	KeyID          string `yaml:"key_id"`
}

type OverrideConfig struct {
	CheckTimeoutMS int `yaml:"check_timeout_ms"`
}

type EscalationConfig struct {
	Enabled        bool   `yaml:"enabled"`
	WebhookURL     string `yaml:"webhook_url"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
}

type PubSubConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

type DownstreamConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig binds a static bearer token to an identity. Kind is agent
// or human; agents carry a role.
type TokenConfig struct {
	Token   string `yaml:"token"`
	Subject string `yaml:"subject"`
	Kind    string `yaml:"kind"`
	Role    string `yaml:"role"`
}

type IngressConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type RateLimitConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
}

type StreamConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.PolicyPath == "" {
		return fmt.Errorf("policy_path is required")
	}

	switch c.DB.Driver {
	case "", "memory":
	case "file", "sqlite", "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.driver is %s", c.DB.Driver)
		}
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}

	if c.Audit.TimeoutMS < 0 || c.Override.CheckTimeoutMS < 0 || c.Downstream.TimeoutMS < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id are required when pubsub.enabled=true")
	}

	switch c.RateLimit.Backend {
	case "", "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("ratelimit.redis_addr is required when ratelimit.backend=redis")
		}
	default:
		return fmt.Errorf("ratelimit.backend %q is not supported", c.RateLimit.Backend)
	}

	if c.Ingress.RPS < 0 || c.Ingress.Burst < 0 {
		return fmt.Errorf("ingress.rps and ingress.burst must not be negative")
	}

	seen := map[string]struct{}{}
	for i, tok := range c.Auth.Tokens {
		if tok.Token == "" || tok.Subject == "" {
			return fmt.Errorf("auth.tokens[%d]: token and subject are required", i)
		}
		if _, dup := seen[tok.Token]; dup {
			return fmt.Errorf("auth.tokens[%d]: duplicate token", i)
		}
		seen[tok.Token] = struct{}{}
		switch tok.Kind {
		case "agent":
			if tok.Role == "" {
				return fmt.Errorf("auth.tokens[%d]: agent tokens need a role", i)
			}
		case "human":
		default:
			return fmt.Errorf("auth.tokens[%d]: kind must be agent or human", i)
		}
	}
	return nil
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func (c Config) AuditTimeout() time.Duration {
	return millis(c.Audit.TimeoutMS, 2*time.Second)
}

func (c Config) OverrideCheckTimeout() time.Duration {
	return millis(c.Override.CheckTimeoutMS, 2*time.Second)
}

func (c Config) DownstreamTimeout() time.Duration {
	return millis(c.Downstream.TimeoutMS, 10*time.Second)
}

func (c Config) EscalationPollInterval() time.Duration {
	return millis(c.Escalation.PollIntervalMS, 2*time.Second)
}
