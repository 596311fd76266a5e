// Package config loads service configuration from an optional YAML file
// (CONFIG_FILE) with environment variables layered on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"commsplan/internal/logging"
	"commsplan/internal/observability"
	"commsplan/internal/timeline"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	DBMigrate   bool   `yaml:"db_migrate"`
	RedisURL    string `yaml:"redis_url"`

	Auth    AuthConfig                  `yaml:"auth"`
	Rate    RateConfig                  `yaml:"rate"`
	Webhook WebhookConfig               `yaml:"webhook"`
	Log     LogConfig                   `yaml:"log"`
	Tracing observability.TracingConfig `yaml:"tracing"`
	Engine  EngineConfig                `yaml:"engine"`
}

type AuthConfig struct {
	Mode        string `yaml:"mode"` // dev | hmac
	HMACSecret  string `yaml:"hmac_secret"`
	TenantClaim string `yaml:"tenant_claim"`
	RoleClaim   string `yaml:"role_claim"`
}

type RateConfig struct {
	RPS   float64 `yaml:"rps"` // 0 disables limiting
	Burst int     `yaml:"burst"`
}

type WebhookConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// EngineConfig tunes timeline computation.
type EngineConfig struct {
	JitterTolerance time.Duration `yaml:"jitter_tolerance"`
	BoundaryEpsilon time.Duration `yaml:"boundary_epsilon"`
	RouteCacheSize  int           `yaml:"route_cache_size"`
	Policy          PolicyConfig  `yaml:"policy"`
}

// PolicyConfig is the textual form of timeline.Policy. Empty fields keep the
// defaults.
type PolicyConfig struct {
	KaOutageSeverity   string   `yaml:"ka_outage_severity"`
	KuOverrideSeverity string   `yaml:"ku_override_severity"`
	AARSeverity        string   `yaml:"aar_severity"`
	AARTransports      []string `yaml:"aar_transports"`
	HandoffGapSeverity string   `yaml:"handoff_gap_severity"`
}

// Policy resolves the configured severities against timeline.DefaultPolicy.
func (pc PolicyConfig) Policy() (timeline.Policy, error) {
	p := timeline.DefaultPolicy()
	for _, f := range []struct {
		name string
		raw  string
		dst  *timeline.TransportState
	}{
		{"ka_outage_severity", pc.KaOutageSeverity, &p.KaOutageSeverity},
		{"ku_override_severity", pc.KuOverrideSeverity, &p.KuOverrideSeverity},
		{"aar_severity", pc.AARSeverity, &p.AARSeverity},
		{"handoff_gap_severity", pc.HandoffGapSeverity, &p.HandoffGapSeverity},
	} {
		if f.raw == "" {
			continue
		}
		s, err := timeline.ParseTransportState(f.raw)
		if err != nil {
			return p, fmt.Errorf("policy %s: %w", f.name, err)
		}
		*f.dst = s
	}
	if len(pc.AARTransports) > 0 {
		p.AARTransports = make([]timeline.Transport, 0, len(pc.AARTransports))
		for _, raw := range pc.AARTransports {
			t, err := timeline.ParseTransport(raw)
			if err != nil {
				return p, fmt.Errorf("policy aar_transports: %w", err)
			}
			p.AARTransports = append(p.AARTransports, t)
		}
	}
	return p, nil
}

// Options builds engine options for a request.
func (e EngineConfig) Options(policy timeline.Policy, lenient bool) timeline.Options {
	return timeline.Options{Policy: &policy, Lenient: lenient, BoundaryEpsilon: e.BoundaryEpsilon}
}

func Default() Config {
	return Config{
		Port:      "8080",
		DBMigrate: true,
		Auth:      AuthConfig{Mode: "dev", TenantClaim: "tenant", RoleClaim: "role"},
		Rate:      RateConfig{RPS: 0, Burst: 10},
		Webhook:   WebhookConfig{MaxAttempts: 8, PollInterval: time.Second},
		Log:       LogConfig{Level: "info", Format: "text"},
		Tracing:   observability.DefaultTracingConfig(),
		Engine: EngineConfig{
			JitterTolerance: timeline.DefaultJitterTolerance,
			BoundaryEpsilon: timeline.DefaultBoundaryEpsilon,
			RouteCacheSize:  256,
		},
	}
}

// Load reads CONFIG_FILE if set, then applies environment overrides.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()
	if path := getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := Parse(b, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML over cfg, leaving unspecified fields untouched.
func Parse(b []byte, cfg *Config) error {
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	boolean("DB_MIGRATE", &cfg.DBMigrate)
	str("REDIS_URL", &cfg.RedisURL)
	str("AUTH_MODE", &cfg.Auth.Mode)
	str("AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret)
	str("AUTH_TENANT_CLAIM", &cfg.Auth.TenantClaim)
	str("AUTH_ROLE_CLAIM", &cfg.Auth.RoleClaim)
	float("RATE_RPS", &cfg.Rate.RPS)
	num("RATE_BURST", &cfg.Rate.Burst)
	num("WEBHOOK_MAX_ATTEMPTS", &cfg.Webhook.MaxAttempts)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_FILE", &cfg.Log.File)
	boolean("TRACING_ENABLED", &cfg.Tracing.Enabled)
	str("TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("TRACING_SERVICE_NAME", &cfg.Tracing.ServiceName)
	str("OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	float("TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)
	num("ROUTE_CACHE_SIZE", &cfg.Engine.RouteCacheSize)
	str("POLICY_KA_OUTAGE_SEVERITY", &cfg.Engine.Policy.KaOutageSeverity)
	str("POLICY_KU_OVERRIDE_SEVERITY", &cfg.Engine.Policy.KuOverrideSeverity)
	str("POLICY_AAR_SEVERITY", &cfg.Engine.Policy.AARSeverity)
	str("POLICY_HANDOFF_GAP_SEVERITY", &cfg.Engine.Policy.HandoffGapSeverity)
	return errors.Join(errs...)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Auth.Mode) {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			errs = append(errs, errors.New("auth: hmac mode requires AUTH_HMAC_SECRET"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth: unsupported mode %q", c.Auth.Mode))
	}
	if c.Rate.RPS < 0 {
		errs = append(errs, errors.New("rate: rps must not be negative"))
	}
	if c.Rate.RPS > 0 && c.Rate.Burst < 1 {
		errs = append(errs, errors.New("rate: burst must be at least 1"))
	}
	if c.Webhook.MaxAttempts < 1 {
		errs = append(errs, errors.New("webhook: max_attempts must be at least 1"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing: sample_ratio must be within [0, 1]"))
	}
	if c.Engine.RouteCacheSize < 1 {
		errs = append(errs, errors.New("engine: route_cache_size must be at least 1"))
	}
	if _, err := c.Engine.Policy.Policy(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File, AddSource: true}
}
