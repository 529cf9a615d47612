// Package main runs the HERA API gateway: the enforcement layer between
// external HTTP clients and the multi-tenant backing store.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/heraerp/heraerp-prd-sub016/internal/audit"
	"github.com/heraerp/heraerp-prd-sub016/internal/backend"
	"github.com/heraerp/heraerp-prd-sub016/internal/cache"
	"github.com/heraerp/heraerp-prd-sub016/internal/config"
	"github.com/heraerp/heraerp-prd-sub016/internal/gateway"
	"github.com/heraerp/heraerp-prd-sub016/internal/guardrail"
	"github.com/heraerp/heraerp-prd-sub016/internal/idempotency"
	"github.com/heraerp/heraerp-prd-sub016/internal/identity"
	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
	"github.com/heraerp/heraerp-prd-sub016/internal/metrics"
	"github.com/heraerp/heraerp-prd-sub016/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("hera-gateway", "info", "json").WithError(err).Fatal("configuration failed")
	}

	logger := logging.New("hera-gateway", cfg.LogLevel, cfg.LogFormat)
	logger.WithField("env", cfg.Env).Info("starting gateway")

	store := cache.NewRedis(cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Timeout:  cfg.CacheTimeout,
	})
	defer store.Close()

	auditSink, err := audit.NewFileSink(cfg.AuditLogPath)
	if err != nil {
		logger.WithError(err).Fatal("audit sink failed")
	}
	auditLog := audit.NewLog(1000, auditSink, &audit.LogAlertSink{Logger: logger}, logger)

	invoker, err := backend.NewPostgres(cfg.DatabaseURL, cfg.DispatchTimeout, logger)
	if err != nil {
		logger.WithError(err).Fatal("backend connection failed")
	}
	defer invoker.Close()

	resolver := identity.NewResolver(identity.Config{
		JWTSecret: []byte(cfg.JWTSecret),
		Cache:     store,
		Directory: backend.NewDirectory(invoker),
		Audit:     auditLog,
		Logger:    logger,
		CacheTTL:  cfg.IdentityCacheTTL,
		Timeout:   cfg.AuthTimeout,
	})

	rules := ratelimit.DefaultRules()
	if cfg.RateLimitRulesPath != "" {
		if loaded, err := ratelimit.LoadRules(cfg.RateLimitRulesPath); err == nil {
			rules = loaded
		} else {
			logger.WithError(err).Warn("rate limit rules file rejected, using defaults")
		}
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewScriptStore(store), rules, logger)

	server := gateway.New(gateway.Deps{
		Logger:          logger,
		Audit:           auditLog,
		Resolver:        resolver,
		Guardrails:      guardrail.NewValidator(auditLog, logger),
		Limiter:         limiter,
		Idempotency:     idempotency.NewHandler(store, cfg.IdempotencyTTL, logger),
		Invoker:         invoker,
		Cache:           store,
		AllowedOrigins:  cfg.Origins(),
		DispatchTimeout: cfg.DispatchTimeout,
	})

	scheduler := cron.New()
	scheduler.AddFunc("@every 30s", func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CacheTimeout)
		defer cancel()
		metrics.SetCacheUp(store.Ping(ctx) == nil)
	})
	if cfg.RateLimitRulesPath != "" {
		scheduler.AddFunc("@every 1m", func() {
			if loaded, err := ratelimit.LoadRules(cfg.RateLimitRulesPath); err == nil {
				limiter.SetRules(loaded)
			}
		})
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
	}
}
