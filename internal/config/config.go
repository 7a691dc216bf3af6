// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session store backends accepted by SESSION_STORE.
const (
	StoreAuto     = "auto"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Job dispatch modes accepted by JOB_DISPATCH.
const (
	DispatchLocal = "local"
	DispatchKafka = "kafka"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is one of text, json, logfmt.
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// DatabaseURL is the Postgres DSN. Empty keeps users, sessions and jobs in memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is host:port of the Redis server used for sessions when selected.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// SessionStore selects where sessions live: auto, memory, postgres or redis.
	SessionStore string `mapstructure:"SESSION_STORE"`
	// SessionCookieName is the cookie that carries the session token.
	SessionCookieName string `mapstructure:"SESSION_COOKIE_NAME"`
	// SessionTTLRaw is the session lifetime (e.g. "24h"). "0" means sessions never expire.
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// CookieSecure sets the Secure attribute on the session cookie.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// LoginRatePerMinute limits login attempts per client IP. 0 disables the limiter.
	LoginRatePerMinute int `mapstructure:"LOGIN_RATE_PER_MINUTE"`
	LoginRateBurst     int `mapstructure:"LOGIN_RATE_BURST"`
	// TrustedProxies lists the IPs or CIDRs of reverse proxies whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means the peer address is always the client.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// JobDispatch is local (in-process workers) or kafka (cmd/worker consumes the topic).
	JobDispatch   string `mapstructure:"JOB_DISPATCH"`
	JobWorkers    int    `mapstructure:"JOB_WORKERS"`
	JobQueueSize  int    `mapstructure:"JOB_QUEUE_SIZE"`
	JobTimeoutRaw string `mapstructure:"JOB_TIMEOUT"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AudioJobsTopic carries job tickets when JobDispatch is kafka.
	AudioJobsTopic string `mapstructure:"AUDIO_JOBS_TOPIC"`
	// KafkaGroupID is the consumer group of cmd/worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// TelemetryGroupID is the consumer group of cmd/telemetry-worker.
	TelemetryGroupID string `mapstructure:"TELEMETRY_GROUP_ID"`
	// LokiURL is where the telemetry worker pushes logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint enables OpenTelemetry export when set.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Deepgram settings for the transcriber.
	DeepgramAPIKey   string `mapstructure:"DEEPGRAM_API_KEY"`
	DeepgramBaseURL  string `mapstructure:"DEEPGRAM_BASE_URL"`
	DeepgramModel    string `mapstructure:"DEEPGRAM_MODEL"`
	DeepgramLanguage string `mapstructure:"DEEPGRAM_LANGUAGE"`
	// TranscriberRatePerSecond throttles outbound transcription calls per process.
	TranscriberRatePerSecond float64 `mapstructure:"TRANSCRIBER_RATE_PER_SECOND"`

	// AudioBlockedHosts is a comma-separated deny list for audio URL hosts.
	AudioBlockedHosts string `mapstructure:"AUDIO_BLOCKED_HOSTS"`
	// AudioPolicyFile optionally replaces the built-in Rego submission policy.
	AudioPolicyFile string `mapstructure:"AUDIO_POLICY_FILE"`

	// S3 settings used to presign s3:// audio references. Empty keys fall back to the default AWS chain.
	S3Region        string `mapstructure:"S3_REGION"`
	S3Endpoint      string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey     string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey     string `mapstructure:"S3_SECRET_KEY"`
	S3PresignTTLRaw string `mapstructure:"S3_PRESIGN_TTL"`
	S3Enabled       bool   `mapstructure:"S3_ENABLED"`

	// MetricsEnabled exposes /metrics.
	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_STORE", StoreAuto)
	v.SetDefault("SESSION_COOKIE_NAME", "session_id")
	v.SetDefault("SESSION_TTL", "0")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 30)
	v.SetDefault("LOGIN_RATE_BURST", 10)
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("JOB_DISPATCH", DispatchLocal)
	v.SetDefault("JOB_WORKERS", 4)
	v.SetDefault("JOB_QUEUE_SIZE", 64)
	v.SetDefault("JOB_TIMEOUT", "5m")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIO_JOBS_TOPIC", "stt-audio-jobs")
	v.SetDefault("KAFKA_GROUP_ID", "stt-audio-worker")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "stt-telemetry")
	v.SetDefault("TELEMETRY_GROUP_ID", "stt-telemetry-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "stt-backend")
	v.SetDefault("DEEPGRAM_API_KEY", "")
	v.SetDefault("DEEPGRAM_BASE_URL", "https://api.deepgram.com")
	v.SetDefault("DEEPGRAM_MODEL", "nova-2")
	v.SetDefault("DEEPGRAM_LANGUAGE", "ru")
	v.SetDefault("TRANSCRIBER_RATE_PER_SECOND", 5.0)
	v.SetDefault("AUDIO_BLOCKED_HOSTS", "")
	v.SetDefault("AUDIO_POLICY_FILE", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_PRESIGN_TTL", "15m")
	v.SetDefault("S3_ENABLED", false)
	v.SetDefault("METRICS_ENABLED", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	switch cfg.SessionStore {
	case "", StoreAuto:
		cfg.SessionStore = StoreAuto
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: SESSION_STORE=postgres requires DATABASE_URL")
		}
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("config: SESSION_STORE=redis requires REDIS_ADDR")
		}
	default:
		return nil, errors.New("config: SESSION_STORE must be one of auto, memory, postgres, redis")
	}

	if strings.TrimSpace(cfg.SessionCookieName) == "" {
		return nil, errors.New("config: SESSION_COOKIE_NAME must not be empty")
	}
	if cfg.SessionTTLRaw != "" && cfg.SessionTTLRaw != "0" {
		if d, err := time.ParseDuration(cfg.SessionTTLRaw); err != nil || d < 0 {
			return nil, errors.New("config: SESSION_TTL must be a non-negative duration")
		}
	}

	if _, err := parsePrefixes(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
	}

	cfg.JobDispatch = strings.ToLower(strings.TrimSpace(cfg.JobDispatch))
	switch cfg.JobDispatch {
	case "", DispatchLocal:
		cfg.JobDispatch = DispatchLocal
	case DispatchKafka:
		if len(cfg.KafkaBrokersList()) == 0 {
			return nil, errors.New("config: JOB_DISPATCH=kafka requires KAFKA_BROKERS")
		}
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: JOB_DISPATCH=kafka requires DATABASE_URL so workers share job state")
		}
	default:
		return nil, errors.New("config: JOB_DISPATCH must be local or kafka")
	}
	if cfg.JobWorkers <= 0 {
		return nil, errors.New("config: JOB_WORKERS must be positive")
	}
	if cfg.JobQueueSize <= 0 {
		return nil, errors.New("config: JOB_QUEUE_SIZE must be positive")
	}
	if cfg.TranscriberRatePerSecond < 0 {
		return nil, errors.New("config: TRANSCRIBER_RATE_PER_SECOND must not be negative")
	}

	return &cfg, nil
}

// SessionTTL parses SessionTTLRaw. Returns 0 (no expiry) if unset, "0" or invalid.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionTTLRaw)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// JobTimeout parses JobTimeoutRaw. Returns 5m if unset or invalid.
func (c *Config) JobTimeout() time.Duration {
	d, err := time.ParseDuration(c.JobTimeoutRaw)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// S3PresignTTL parses S3PresignTTLRaw. Returns 15m if unset or invalid.
func (c *Config) S3PresignTTL() time.Duration {
	d, err := time.ParseDuration(c.S3PresignTTLRaw)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// ResolvedSessionStore returns the concrete session backend, resolving auto to
// redis, then postgres, then memory depending on what is configured.
func (c *Config) ResolvedSessionStore() string {
	if c.SessionStore != StoreAuto && c.SessionStore != "" {
		return c.SessionStore
	}
	switch {
	case c.RedisAddr != "":
		return StoreRedis
	case c.DatabaseURL != "":
		return StorePostgres
	default:
		return StoreMemory
	}
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// AudioBlockedHostsList returns the lower-cased host deny list.
func (c *Config) AudioBlockedHostsList() []string {
	if c == nil {
		return nil
	}
	hosts := splitList(c.AudioBlockedHosts)
	for i := range hosts {
		hosts[i] = strings.ToLower(hosts[i])
	}
	return hosts
}

// TrustedProxiesList returns the trusted proxy networks. A bare address becomes a single-host prefix.
// Invalid entries are skipped; Load rejects them.
func (c *Config) TrustedProxiesList() []netip.Prefix {
	if c == nil {
		return nil
	}
	prefixes, _ := parsePrefixes(c.TrustedProxies)
	return prefixes
}

func parsePrefixes(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	var errs []error
	for _, s := range splitList(raw) {
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, errors.Join(errs...)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
