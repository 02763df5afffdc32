// Command agentdbd runs the learning engine's debug/ops HTTP surface:
// trajectory ingestion, training trigger control, pattern CRUD, and
// routing, behind an optional admin bearer-token gate.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sona-engine/agentdb/internal/auth"
	"github.com/sona-engine/agentdb/internal/config"
	"github.com/sona-engine/agentdb/internal/engine"
	"github.com/sona-engine/agentdb/internal/httpapi"
)

func main() {
	cfg := config.Load()

	logger := log.New(os.Stderr)
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	eng, err := engine.New(*cfg, nil, logger)
	if err != nil {
		logger.Fatal("failed to build engine", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	eng.StartBackground(ctx)

	adminAuth := auth.New(cfg.AdminTokenSecret)

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(adminAuth.Middleware)
	router.Mount("/", httpapi.New(eng, logger).Routes())

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("agentdbd listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}

	if err := eng.Shutdown(); err != nil {
		logger.Error("engine shutdown error", "err", err)
	}
}
