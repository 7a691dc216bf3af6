// Server exposes the speech-to-text HTTP API. With JOB_DISPATCH=local (default) transcription runs
// in-process; with JOB_DISPATCH=kafka jobs are published for cmd/worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"speech-to-text/backend/internal/app"
	"speech-to-text/backend/internal/audit"
	"speech-to-text/backend/internal/config"
	healthhandler "speech-to-text/backend/internal/health/handler"
	identityhandler "speech-to-text/backend/internal/identity/handler"
	identityservice "speech-to-text/backend/internal/identity/service"
	jobhandler "speech-to-text/backend/internal/job/handler"
	"speech-to-text/backend/internal/job/runner"
	jobservice "speech-to-text/backend/internal/job/service"
	"speech-to-text/backend/internal/logging"
	"speech-to-text/backend/internal/metrics"
	"speech-to-text/backend/internal/policy/engine"
	"speech-to-text/backend/internal/security"
	"speech-to-text/backend/internal/server"
	"speech-to-text/backend/internal/server/middleware"
	sessionservice "speech-to-text/backend/internal/session/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", "err", err)
	}
	logging.Install(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	startedAt := time.Now().UTC()

	tel, err := app.NewTelemetry(ctx, cfg)
	if err != nil {
		log.Fatal("telemetry", "err", err)
	}

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatal("stores", "err", err)
	}
	defer stores.Close()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.NewMetrics(reg)
	}

	policy, err := engine.NewOPAEvaluator(ctx, engine.Options{
		PolicyFile:   cfg.AudioPolicyFile,
		BlockedHosts: cfg.AudioBlockedHostsList(),
		S3Enabled:    cfg.S3Enabled,
	})
	if err != nil {
		log.Fatal("policy", "err", err)
	}

	auditLogger := audit.NewLogger(stores.Audit, middleware.ClientIP)
	sessions := sessionservice.NewManager(stores.Sessions, cfg.SessionTTL())
	auth := identityservice.NewAuthService(stores.Users, sessions, security.NewHasher(cfg.BcryptCost), auditLogger)

	var (
		dispatcher jobservice.Dispatcher
		pool       *runner.Pool
		kafkaJobs  *runner.KafkaDispatcher
	)
	switch cfg.JobDispatch {
	case config.DispatchKafka:
		kafkaJobs = runner.NewKafkaDispatcher(cfg.KafkaBrokersList(), cfg.AudioJobsTopic)
		dispatcher = kafkaJobs
		log.Info("dispatching jobs to kafka", "topic", cfg.AudioJobsTopic)
	default:
		r, err := app.NewRunner(ctx, cfg, stores.Jobs, tel.Emitter, m)
		if err != nil {
			log.Fatal("runner", "err", err)
		}
		if _, err := app.FailOrphanedJobs(ctx, stores.Jobs, startedAt); err != nil {
			log.Fatal("recover jobs", "err", err)
		}
		pool = runner.NewPool(r, cfg.JobWorkers, cfg.JobQueueSize)
		pool.Start(ctx)
		dispatcher = pool
		log.Info("running jobs in-process", "workers", cfg.JobWorkers, "queue", cfg.JobQueueSize)
	}

	jobs := jobservice.NewJobService(stores.Jobs, dispatcher, jobservice.Options{
		Policy:  policy,
		Audit:   auditLogger,
		Emitter: tel.Emitter,
		Metrics: m,
	})

	health := healthhandler.NewServer().AddPolicy(policy)
	stores.AddHealthChecks(health)

	handler := server.NewRouter(server.Deps{
		Auth:           identityhandler.NewHandler(auth, identityhandler.CookieConfig{Name: cfg.SessionCookieName, Secure: cfg.CookieSecure}),
		Jobs:           jobhandler.NewHandler(jobs),
		Sessions:       sessions,
		CookieName:     cfg.SessionCookieName,
		Health:         health,
		Metrics:        m,
		Emitter:        tel.Emitter,
		LoginLimiter:   middleware.NewIPRateLimiter(cfg.LoginRatePerMinute, cfg.LoginRateBurst),
		TrustedProxies: cfg.TrustedProxiesList(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		log.Info("HTTP server listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("serve", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	if pool != nil {
		if err := pool.Stop(shutdownCtx); err != nil {
			log.Warn("job pool stopped before draining", "err", err)
		}
	}
	if kafkaJobs != nil {
		if err := kafkaJobs.Close(); err != nil {
			log.Warn("kafka dispatcher close", "err", err)
		}
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown", "err", err)
	}
	log.Info("HTTP server stopped")
}
