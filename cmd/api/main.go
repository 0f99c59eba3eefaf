package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/sessions"

	"admin-dashboard/core"
)

func main() {
	cfg := core.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()
	core.WarnInsecureDefaults(cfg)

	if cfg.AutoMigrate {
		if err := core.Migrate(ctx, cfg.DatabaseURL); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
	}

	db, err := core.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	metrics := core.NewMetrics()
	auditRepo := core.NewPgAuditRepository(db)
	auditOpts := []core.AuditLoggerOption{
		core.WithAuditFailureHook(metrics.AuditFailureHook()),
		core.WithAuditTimeout(cfg.QueryTimeout),
	}
	var spillStatus *core.SpillStatusService
	if cfg.RedisURL != "" {
		redisClient, err := core.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer redisClient.Close()
		auditOpts = append(auditOpts, core.WithAuditSpiller(core.NewRedisAuditSpiller(core.NewRedisQueue(redisClient), metrics)))
		spillStatus = core.NewSpillStatusService(redisClient)
		log.Printf("audit spill queue enabled (%s)", core.PendingAuditKey)
	}
	audit := core.NewAuditLogger(auditRepo, auditOpts...)

	tokens, err := core.NewTokenIssuer(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}

	userRepo := core.NewPgUserRepository(db)
	authService := core.NewAuthService(userRepo, tokens, audit, metrics, cfg.QueryTimeout)

	if err := core.BootstrapAdmin(ctx, userRepo, cfg); err != nil {
		log.Fatalf("bootstrap admin failed: %v", err)
	}
	if _, err := core.SeedUsers(ctx, userRepo, cfg.SeedUsersPath); err != nil {
		log.Fatalf("seed users failed: %v", err)
	}

	// Gorilla cookie store backs the CSRF session only.
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))

	router := core.NewRouter(cfg, core.RouterDeps{
		Auth:         authService,
		Audit:        audit,
		Dashboard:    core.NewDashboardService(authService, audit),
		SessionStore: store,
		Metrics:      metrics,
		DB:           db,
		SpillStatus:  spillStatus,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("starting api server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}
