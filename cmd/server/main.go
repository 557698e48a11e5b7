package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/api/rest"
	"github.com/clintrovert/praxis/internal/config"
	"github.com/clintrovert/praxis/internal/metrics"
	"github.com/clintrovert/praxis/internal/store"
	"github.com/clintrovert/praxis/internal/temporal"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics.Register()

	db, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	temporalClient, err := temporal.NewClient(cfg.TemporalAddress, cfg.TemporalNamespace, cfg.TaskQueue, logger)
	if err != nil {
		logger.Fatal("failed to create temporal client", zap.Error(err))
	}
	defer temporalClient.Close()

	handler := rest.NewHandler(db, temporalClient, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", handler.RegisterRoutes)

	srv := &http.Server{
		Addr:    ":" + cfg.RESTPort,
		Handler: r,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.RESTPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down cleanly", zap.Error(err))
	}
}
