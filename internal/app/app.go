// Package app builds the stores, telemetry and job runner shared by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	auditrepo "speech-to-text/backend/internal/audit/repository"
	"speech-to-text/backend/internal/config"
	"speech-to-text/backend/internal/db"
	healthhandler "speech-to-text/backend/internal/health/handler"
	jobrepo "speech-to-text/backend/internal/job/repository"
	"speech-to-text/backend/internal/job/runner"
	"speech-to-text/backend/internal/job/source"
	"speech-to-text/backend/internal/job/transcriber"
	"speech-to-text/backend/internal/metrics"
	sessionrepo "speech-to-text/backend/internal/session/repository"
	"speech-to-text/backend/internal/telemetry"
	otelsetup "speech-to-text/backend/internal/telemetry/otel"
	"speech-to-text/backend/internal/telemetry/producer"
	userrepo "speech-to-text/backend/internal/user/repository"
)

// Stores holds the repositories selected by configuration. DB and Redis are nil when not configured.
type Stores struct {
	DB       *sql.DB
	Redis    *redis.Client
	Users    userrepo.Repository
	Sessions sessionrepo.Repository
	Jobs     jobrepo.Repository
	Audit    auditrepo.Repository
}

// OpenStores connects to Postgres and Redis when configured and picks the repositories.
// Without DATABASE_URL every repository is in memory and state is lost on restart.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{
			MaxOpenConns:    cfg.JobWorkers + 16,
			MaxIdleConns:    8,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		s.DB = conn
		s.Users = userrepo.NewPostgresRepository(conn)
		s.Jobs = jobrepo.NewPostgresRepository(conn)
		s.Audit = auditrepo.NewPostgresRepository(conn)
	} else {
		log.Warn("DATABASE_URL not set; using in-memory stores")
		s.Users = userrepo.NewMemoryRepository()
		s.Jobs = jobrepo.NewMemoryRepository()
		s.Audit = auditrepo.NewMemoryRepository()
	}

	if cfg.RedisAddr != "" {
		s.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis: ping: %w", err)
		}
	}

	switch store := cfg.ResolvedSessionStore(); store {
	case config.StoreRedis:
		s.Sessions = sessionrepo.NewRedisRepository(s.Redis)
	case config.StorePostgres:
		s.Sessions = sessionrepo.NewPostgresRepository(s.DB)
	default:
		s.Sessions = sessionrepo.NewMemoryRepository()
	}
	log.Info("stores ready", "postgres", s.DB != nil, "redis", s.Redis != nil, "sessions", cfg.ResolvedSessionStore())
	return s, nil
}

// AddHealthChecks registers the configured backends as readiness checks.
func (s *Stores) AddHealthChecks(h *healthhandler.Server) {
	if s.DB != nil {
		h.AddPinger("db", s.DB)
	}
	if s.Redis != nil {
		h.AddCheck("redis", func(ctx context.Context) error { return s.Redis.Ping(ctx).Err() })
	}
}

// Close releases the connections. Safe to call on partially opened stores.
func (s *Stores) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}

// Telemetry bundles the OTel providers and the event emitter fanning out to OTel logs and Kafka.
type Telemetry struct {
	Providers *otelsetup.Providers
	Emitter   telemetry.EventEmitter
	producer  *producer.KafkaProducer
}

// NewTelemetry sets up OTel (exporting only when an OTLP endpoint is set) and the telemetry
// Kafka producer (only when brokers are set). The providers are installed globally.
func NewTelemetry(ctx context.Context, cfg *config.Config) (*Telemetry, error) {
	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, cfg.OTELServiceName, cfg.OTLPInsecure)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()

	t := &Telemetry{Providers: providers}
	var kafkaEmitter telemetry.EventEmitter
	if p := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.TelemetryKafkaTopic); p != nil {
		t.producer = p
		kafkaEmitter = p
	}
	var otelEmitter telemetry.EventEmitter
	if cfg.OTLPEndpoint != "" {
		otelEmitter = otelsetup.NewEventEmitter(providers.LoggerProvider)
	}
	t.Emitter = telemetry.Multi(otelEmitter, kafkaEmitter)
	return t, nil
}

// Shutdown waits for in-flight async emits, then flushes the producer and the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.Emitter != nil {
		select {
		case <-time.After(telemetry.ShutdownDrainDuration):
		case <-ctx.Done():
		}
	}
	var errs []error
	if t.producer != nil {
		errs = append(errs, t.producer.Close())
	}
	errs = append(errs, t.Providers.Shutdown(ctx))
	return errors.Join(errs...)
}

// NewRunner builds the transcription runner: Deepgram client, optional S3 presigning,
// rate limit and timeout from cfg.
func NewRunner(ctx context.Context, cfg *config.Config, jobs jobrepo.Repository, emitter telemetry.EventEmitter, m *metrics.Metrics) (*runner.Runner, error) {
	if cfg.DeepgramAPIKey == "" {
		log.Warn("DEEPGRAM_API_KEY not set; every job will fail")
	}
	var resolver source.Resolver = source.Passthrough{}
	if cfg.S3Enabled {
		r, err := source.NewS3Resolver(ctx, source.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			TTL:       cfg.S3PresignTTL(),
		})
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	dg := transcriber.NewDeepgram(transcriber.Config{
		APIKey:   cfg.DeepgramAPIKey,
		BaseURL:  cfg.DeepgramBaseURL,
		Model:    cfg.DeepgramModel,
		Language: cfg.DeepgramLanguage,
	})
	return runner.New(jobs, dg, runner.Options{
		Resolver:      resolver,
		RatePerSecond: cfg.TranscriberRatePerSecond,
		Timeout:       cfg.JobTimeout(),
		Emitter:       emitter,
		Metrics:       m,
		Tracer:        otelsetup.Tracer("speech-to-text/runner"),
	}), nil
}

// OrphanReason is recorded on jobs that were queued or running when the previous process exited.
const OrphanReason = "interrupted by restart"

// FailOrphanedJobs fails every job still active from before startedAt. Only safe when this process
// is the sole executor of jobs, which holds for in-process dispatch.
func FailOrphanedJobs(ctx context.Context, jobs jobrepo.Repository, startedAt time.Time) (int, error) {
	n, err := jobs.FailStale(ctx, startedAt, OrphanReason, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("fail orphaned jobs: %w", err)
	}
	if n > 0 {
		log.Warn("failed jobs orphaned by a previous run", "count", n)
	}
	return n, nil
}
