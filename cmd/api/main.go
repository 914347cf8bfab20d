package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"athenaeum.org/internal/audit"
	"athenaeum.org/internal/auth"
	"athenaeum.org/internal/config"
	"athenaeum.org/internal/httpapi"
	"athenaeum.org/internal/mail"
	"athenaeum.org/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	auditor := audit.NewDispatcher(audit.LogSink{}, cfg.AuditBuffer)
	defer auditor.Close()

	// Postgres when a DSN is set, in-memory otherwise (local development).
	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		log.Println("no DSN configured, using in-memory store")
		store = auth.NewInMemoryStore()
	}

	// Refresh tokens can live in Redis with native TTL.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = auth.WithTokenStore(store, auth.NewRedisTokenStore(rdb))
	}

	var sender mail.Sender = mail.LogSender{}
	if cfg.Production() {
		if cfg.SMTPAddr == "" {
			log.Fatal("production requires ATHENAEUM_SMTP_ADDR")
		}
		sender = &mail.SMTPSender{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom}
	}

	svc, err := auth.NewService(store,
		auth.WithTokenSecret(cfg.JWTSecret),
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.JWTExpiry),
		auth.WithRefreshLifetime(cfg.RefreshTokenLifetime),
		auth.WithMailer(sender),
		auth.WithAuditor(auditor),
		auth.WithDevMode(!cfg.Production()),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure permission catalog: %v", err)
	}

	// Redis ages tokens out itself; everything else needs the sweeper.
	if cfg.RedisAddr == "" {
		go auth.NewTokenSweeper(store, cfg.SweepInterval).Run(ctx)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc,
		httpapi.WithBaseURL(cfg.BaseURL))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting athenaeum-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
