package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cebarrett/todo/internal/app"
	"github.com/cebarrett/todo/internal/auth"
	"github.com/cebarrett/todo/internal/config"
	"github.com/cebarrett/todo/internal/idempotency"
	"github.com/cebarrett/todo/internal/logging"
	"github.com/cebarrett/todo/internal/search"
	"github.com/cebarrett/todo/internal/store"
	"github.com/charmbracelet/log"
)

const usage = `usage:
  api serve                     run the HTTP API
  api token <owner> [scope...]  print a signed development token
`

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"serve"}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	switch args[0] {
	case "serve":
		if err := serve(cfg, logger); err != nil {
			logger.Fatal("server stopped", "err", err)
		}
	case "token":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		verifier := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
		token, err := verifier.Issue(args[1], args[2:], cfg.DevTokenTTL)
		if err != nil {
			logger.Fatal("issue token", "err", err)
		}
		fmt.Println(token)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func serve(cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	databaseURL := cfg.DatabaseURL
	if cfg.DatabaseDriver == store.DriverSQLite && !strings.Contains(databaseURL, "_txlock=") {
		sep := "?"
		if strings.Contains(databaseURL, "?") {
			sep = "&"
		}
		databaseURL += sep + "_txlock=immediate"
	}
	db, err := store.Open(ctx, cfg.DatabaseDriver, databaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	migrations, err := store.Migrations(cfg.DatabaseDriver, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewSQLStore(db, cfg.DatabaseDriver)

	opts := []app.Option{app.WithLogger(logger)}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		idem, err := idempotency.NewRedisStore(cfg.RedisURL, cfg.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer idem.Close()
		logger.Info("idempotency keys enabled", "ttl", cfg.IdempotencyTTL)
		opts = append(opts, app.WithIdempotency(idem))
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		searchService := search.NewService(meili, search.NewStoreFallback(dataStore), logger)
		if items, err := dataStore.ListAll(ctx); err != nil {
			logger.Warn("reindex skipped", "err", err)
		} else {
			searchService.Reindex(app.SearchRecords(items))
		}
		opts = append(opts, app.WithSearch(searchService))
	}

	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
	service := app.New(dataStore, verifier, opts...)
	httpServer, err := app.NewHTTPServer(service, app.HTTPConfig{
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("todo API listening", "addr", cfg.Addr, "driver", cfg.DatabaseDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
