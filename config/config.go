// Package config loads the worker configuration from defaults, an optional
// YAML file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"temporal-fulfillment/health"
	"temporal-fulfillment/resource"
)

// EnvPrefix prefixes every environment variable, e.g. FULFILLMENT_HTTP_ADDR
const EnvPrefix = "FULFILLMENT"

// Config represents the full worker configuration
type Config struct {
	Temporal TemporalConfig    `mapstructure:"temporal"`
	Services map[string]string `mapstructure:"services"`
	HTTP     HTTPConfig        `mapstructure:"http"`
	Health   HealthConfig      `mapstructure:"health"`
	Cache    CacheConfig       `mapstructure:"cache"`
	Audit    AuditConfig       `mapstructure:"audit"`
	Log      LogConfig         `mapstructure:"log"`
}

// TemporalConfig configures the Temporal client and worker
type TemporalConfig struct {
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
	BuildID   string `mapstructure:"build_id"`
	// EncryptionKey is a hex AES-256 key; empty generates one at start
	EncryptionKey string `mapstructure:"encryption_key"`
}

// HTTPConfig configures the trigger and feed API
type HTTPConfig struct {
	Addr      string  `mapstructure:"addr"`
	JWTSecret string  `mapstructure:"jwt_secret"`
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// TrustProxy honours forwarding headers for the rate limiter key
	TrustProxy bool `mapstructure:"trust_proxy"`
	// SagaTimeout bounds how long a trigger waits for the saga result
	SagaTimeout time.Duration `mapstructure:"saga_timeout"`
}

// HealthConfig configures the health monitor
type HealthConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	Jitter        time.Duration `mapstructure:"jitter"`
	Floor         time.Duration `mapstructure:"floor"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// CacheConfig configures both cache tiers
type CacheConfig struct {
	// RedisURL enables the shared tier when set
	RedisURL string        `mapstructure:"redis_url"`
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuditConfig configures the audit sink
type AuditConfig struct {
	DBPath   string `mapstructure:"db_path"`
	RingSize int    `mapstructure:"ring_size"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaultServices = map[string]string{
	resource.Customers: "http://customers:8000",
	resource.Products:  "http://products:8000",
	resource.Inventory: "http://inventory:8000",
	resource.Orders:    "http://orders:8000",
	resource.Payments:  "http://payments:8000",
	resource.Shipments: "http://shipments:8000",
}

// requiredServices are called by the saga
var requiredServices = []string{resource.Customers, resource.Orders, resource.Payments, resource.Shipments}

// legacyEnv maps keys to the unprefixed variable names used by existing deployments
var legacyEnv = map[string]string{
	"temporal.address":        "TEMPORAL_ADDRESS",
	"temporal.encryption_key": "ENCRYPTION_KEY",
	"temporal.build_id":       "BUILD_ID",
	"http.jwt_secret":         "JWT_SECRET",
	"cache.redis_url":         "REDIS_URL",
}

func setDefaults(v *viper.Viper) {
	policy := health.DefaultPolicy()
	timeouts := resource.DefaultTimeouts()

	v.SetDefault("temporal.address", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "fulfillment-queue")
	v.SetDefault("temporal.build_id", "")
	v.SetDefault("temporal.encryption_key", "")

	for name, u := range defaultServices {
		v.SetDefault("services."+name, u)
	}

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.jwt_secret", "")
	v.SetDefault("http.rate_limit", 10.0)
	v.SetDefault("http.rate_burst", 20)
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("http.saga_timeout", 30*time.Second)

	v.SetDefault("health.poll_interval", policy.PollInterval)
	v.SetDefault("health.backoff_factor", policy.Factor)
	v.SetDefault("health.backoff_max", policy.MaxBackoff)
	v.SetDefault("health.jitter", policy.Jitter)
	v.SetDefault("health.floor", policy.Floor)
	v.SetDefault("health.probe_timeout", timeouts.Probe)
	v.SetDefault("health.read_timeout", timeouts.Read)
	v.SetDefault("health.write_timeout", timeouts.Write)

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("cache.ttl", 60*time.Second)

	v.SetDefault("audit.db_path", "data/activity.db")
	v.SetDefault("audit.ring_size", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), name); err != nil {
			return err
		}
	}
	for name := range defaultServices {
		key := "services." + name
		if err := v.BindEnv(key, EnvPrefix+"_SERVICES_"+strings.ToUpper(name), strings.ToUpper(name)+"_SERVICE_URL"); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Temporal.Address == "" {
		errs = append(errs, errors.New("temporal.address is required"))
	}
	if c.Temporal.TaskQueue == "" {
		errs = append(errs, errors.New("temporal.task_queue is required"))
	}
	for _, name := range requiredServices {
		raw, ok := c.Services[name]
		if !ok || raw == "" {
			errs = append(errs, fmt.Errorf("services.%s is required", name))
			continue
		}
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("services.%s: %q is not an http(s) URL", name, raw))
		}
	}
	if c.HTTP.JWTSecret == "" {
		errs = append(errs, errors.New("http.jwt_secret is required"))
	}
	if c.HTTP.RateLimit <= 0 || c.HTTP.RateBurst <= 0 {
		errs = append(errs, errors.New("http.rate_limit and http.rate_burst must be positive"))
	}
	if c.Health.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("health.backoff_factor must be at least 1, got %v", c.Health.BackoffFactor))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("cache.capacity must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// HealthPolicy returns the normalized backoff policy
func (c *Config) HealthPolicy() health.Policy {
	return health.Policy{
		PollInterval: c.Health.PollInterval,
		Factor:       c.Health.BackoffFactor,
		MaxBackoff:   c.Health.BackoffMax,
		Jitter:       c.Health.Jitter,
		Floor:        c.Health.Floor,
	}.Normalize()
}

// Timeouts returns the per call class downstream deadlines
func (c *Config) Timeouts() resource.Timeouts {
	return resource.Timeouts{Probe: c.Health.ProbeTimeout, Read: c.Health.ReadTimeout, Write: c.Health.WriteTimeout}
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
