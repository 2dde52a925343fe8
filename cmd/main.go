package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"relaychat/backend/internal/api/handler"
	"relaychat/backend/internal/auth"
	"relaychat/backend/internal/chathub"
	"relaychat/backend/internal/config"
	"relaychat/backend/internal/metrics"
	"relaychat/backend/internal/middleware"
	"relaychat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupStorage opens Postgres and Redis when configured and falls back to
// the in-memory store otherwise.
func setupStorage(ctx context.Context, cfg *config.Config) storage.Storage {
	if cfg.DatabaseDSN == "" {
		log.Println("WARNING: DATABASE_DSN not set, using in-memory storage")
		return storage.NewMemory()
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			log.Fatalf("Failed to connect Redis: %v", err)
		}
	}

	s := storage.NewStorageService(db, rdb)
	// Nobody is connected to a process that just started.
	if err := s.ResetPresence(ctx); err != nil {
		log.Printf("WARNING: Failed to reset stale presence: %v", err)
	}
	log.Println("Database and Redis connections established, migrations complete.")
	return s
}

func main() {
	cfg := config.Load()
	if cfg.Silent() {
		log.SetOutput(io.Discard)
		gin.DefaultWriter = io.Discard
	}
	if cfg.JWTSecret == config.DefaultJWTSecret {
		log.Println("WARNING: JWT_SECRET not set, using the development secret")
	}
	log.Println("Starting RelayChat Backend...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := setupStorage(ctx, cfg)
	m := metrics.New()

	hub := chathub.NewManagerService(s, cfg, m)
	go hub.Run(ctx)

	limiter := middleware.NewIPRateLimiter(cfg.HTTPRate, cfg.HTTPBurst)
	go limiter.Run(ctx)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	r := handler.NewRouter(handler.NewHandler(hub, s, cfg), verifier, limiter, m)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("INFO: listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("INFO: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: graceful shutdown failed: %v", err)
	}
}
