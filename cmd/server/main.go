package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tourwise/gatekeeper/internal/admission"
	"github.com/tourwise/gatekeeper/internal/config"
	"github.com/tourwise/gatekeeper/internal/events"
	httpinfra "github.com/tourwise/gatekeeper/internal/infra/http"
	"github.com/tourwise/gatekeeper/internal/infra/jobs"
	"github.com/tourwise/gatekeeper/internal/infra/redis"
	"github.com/tourwise/gatekeeper/internal/session"
	"github.com/tourwise/gatekeeper/pkg/jwt"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)

	poolStatsStop := redis.StartPoolStatsCollector(context.Background(), redisClient, 15*time.Second)
	defer poolStatsStop()

	windowStore, err := redis.NewWindowStore(redisClient, log)
	if err != nil {
		log.Error("failed to create window store", "error", err)
		return 1
	}
	throttleStore, err := redis.NewThrottleStore(redisClient, log)
	if err != nil {
		log.Error("failed to create throttle store", "error", err)
		return 1
	}
	sessionStore, err := redis.NewSessionStore(redisClient, log)
	if err != nil {
		log.Error("failed to create session store", "error", err)
		return 1
	}

	// ==========================================================================
	// Security events
	// ==========================================================================
	var emitter events.Dispatcher = events.NewLogDispatcher(log)
	var worker *jobs.Worker
	if cfg.Jobs.Enabled {
		jobClient, err := jobs.NewClient(jobs.ClientConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			log.Error("failed to create job client", "error", err)
			return 1
		}
		defer closeWithLog(jobClient, "job client", log)
		emitter = jobClient

		worker, err = jobs.NewWorker(jobs.WorkerConfig{
			RedisAddr:      cfg.Redis.Addr(),
			RedisPassword:  cfg.Redis.Password,
			RedisDB:        cfg.Redis.DB,
			Concurrency:    cfg.Jobs.Concurrency,
			SIEMWebhookURL: cfg.Jobs.SIEMWebhook,
		}, log)
		if err != nil {
			log.Error("failed to create job worker", "error", err)
			return 1
		}
	}

	// ==========================================================================
	// Admission core
	// ==========================================================================
	policy, err := admission.LoadPolicy(cfg.RateLimit.PolicyFile)
	if err != nil {
		log.Error("failed to load tier policy", "error", err)
		return 1
	}

	limiter, err := admission.NewRateLimiter(windowStore, admission.RateLimiterConfig{
		Policy:     policy,
		FailClosed: cfg.RateLimit.FailClosed,
	}, log)
	if err != nil {
		log.Error("failed to create rate limiter", "error", err)
		return 1
	}

	throttler, err := admission.NewAdaptiveThrottler(throttleStore, throttleStore, admission.ThrottlerConfig{
		Retention:         cfg.Throttle.Retention,
		MaxPerRetention:   cfg.Throttle.MaxPerRetention,
		BurstWindow:       cfg.Throttle.BurstWindow,
		MaxPerBurst:       cfg.Throttle.MaxPerBurst,
		BaseBlockDuration: cfg.Throttle.BaseBlockDuration,
		EscalationFactor:  cfg.Throttle.EscalationFactor,
		MaxBlockDuration:  cfg.Throttle.MaxBlockDuration,
		OffenceRetention:  cfg.Throttle.OffenceRetention,
		FailClosed:        cfg.Throttle.FailClosed,
	}, log)
	if err != nil {
		log.Error("failed to create throttler", "error", err)
		return 1
	}

	sessions, err := session.NewManager(sessionStore, session.ManagerConfig{
		TTL:           cfg.Session.TTL,
		SlidingExpiry: cfg.Session.SlidingExpiry,
		FailClosed:    cfg.Session.FailClosed,
	}, emitter, log)
	if err != nil {
		log.Error("failed to create session manager", "error", err)
		return 1
	}

	pipeline := admission.NewPipeline(limiter, throttler, sessions, emitter, log)

	var tokens *jwt.Manager
	if cfg.Auth.JWTSecret != "" {
		tokens, err = jwt.NewManager(jwt.Config{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.Issuer,
		})
		if err != nil {
			log.Error("failed to create token manager", "error", err)
			return 1
		}
	}

	// ==========================================================================
	// HTTP server + worker
	// ==========================================================================
	server := httpinfra.NewServer(cfg, httpinfra.Deps{
		Pipeline: pipeline,
		Sessions: sessions,
		Tokens:   tokens,
		Store:    redisClient,
		Version:  version,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	if worker != nil {
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("application started", "http_addr", cfg.Server.Addr())

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("application error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

func initLogger(cfg *config.Config) *logger.Logger {
	var log *logger.Logger
	if cfg.IsProduction() {
		log = logger.NewProduction()
	} else {
		log = logger.NewDevelopment()
	}
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
