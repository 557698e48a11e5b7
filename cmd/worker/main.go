package main

import (
	"log"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/activities"
	"github.com/clintrovert/praxis/internal/config"
	"github.com/clintrovert/praxis/internal/dynconfig"
	"github.com/clintrovert/praxis/internal/githubapp"
	"github.com/clintrovert/praxis/internal/metrics"
	"github.com/clintrovert/praxis/internal/store"
	"github.com/clintrovert/praxis/internal/sync"
	"github.com/clintrovert/praxis/internal/temporal"
	"github.com/clintrovert/praxis/internal/temporal/workflows"
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
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	metrics.Register()

	var settings dynconfig.Provider
	if cfg.DynamicSettingsPath != "" {
		fileSettings, err := dynconfig.NewFileProvider(cfg.DynamicSettingsPath, logger)
		if err != nil {
			logger.Fatal("failed to load dynamic settings", zap.Error(err))
		}
		settings = fileSettings
	} else {
		settings = dynconfig.NewStatic(nil)
	}

	db, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	appTokens := githubapp.NewAppTokenHolder(
		githubapp.PrivateKeyFromFile(cfg.GitHubPrivateKeyPath), settings, nil)
	installationTokens := githubapp.NewInstallationTokenCache(settings, nil)
	githubFactory := githubapp.NewClientFactory(
		cfg.GitHubAppID, cfg.GitHubBaseURL, appTokens, installationTokens, settings, logger)

	dedup := sync.NewDeduplicator(rdb, 0, logger)
	scheduler := sync.NewScheduler(
		db, githubFactory, dedup, cfg.JiraUsername, cfg.JiraAPIToken, cfg.TaskRequeueDelay, logger)

	temporalClient, err := temporal.NewClient(cfg.TemporalAddress, cfg.TemporalNamespace, cfg.TaskQueue, logger)
	if err != nil {
		logger.Fatal("failed to create temporal client", zap.Error(err))
	}
	defer temporalClient.Close()

	backfill := activities.NewBackfill(scheduler, logger)

	w := worker.New(temporalClient.Raw(), cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.BackfillWorkflow)
	w.RegisterActivityWithOptions(backfill.ProcessInstallation, activity.RegisterOptions{
		Name: workflows.ProcessInstallationActivity,
	})

	logger.Info("starting worker",
		zap.String("task_queue", cfg.TaskQueue),
		zap.String("namespace", cfg.TemporalNamespace),
	)

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}

	logger.Info("shutting down worker")
}
