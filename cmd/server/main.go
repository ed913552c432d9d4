package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkoval/todolist/internal/app/migrate"
	httpx "github.com/dkoval/todolist/internal/http"
	"github.com/dkoval/todolist/internal/repository/postgres"
	"github.com/dkoval/todolist/internal/service/auth"
	"github.com/dkoval/todolist/internal/service/task"
	"github.com/dkoval/todolist/internal/session"
	"github.com/dkoval/todolist/pkg/config"
	"github.com/dkoval/todolist/pkg/logger"
)

func main() {
	cfg := config.LoadAppConfig()
	log := logger.New("web", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	sessions := session.NewMemoryStore()
	if addr := strings.TrimSpace(cfg.SessionRedisAddr); addr != "" {
		redisSessions, err := session.NewRedisStore(addr, cfg.SessionRedisPass, cfg.SessionRedisDB, log)
		if err != nil {
			log.Warn("redis session store unavailable, using memory store", "error", err)
		} else {
			sessions.Close()
			sessions = redisSessions
		}
	}
	defer sessions.Close()

	authSvc := auth.New(repo, sessions, log, cfg)
	taskSvc := task.New(repo, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.SessionRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.SessionRedisPass, cfg.SessionRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router, err := httpx.NewRouter(log, authSvc, taskSvc, limiter, cfg, pool.Ping)
	if err != nil {
		log.Error("failed to build router", "error", err)
		os.Exit(1)
	}
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("web server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("web server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
