package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the process-level configuration read from the environment at
// startup. Settings that can change at runtime live in the dynconfig package.
type Config struct {
	TemporalAddress   string
	TemporalNamespace string
	TaskQueue         string

	DatabasePath string

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	GitHubAppID          int64
	GitHubPrivateKeyPath string
	GitHubBaseURL        string

	JiraUsername string
	JiraAPIToken string

	RESTPort string

	DynamicSettingsPath string

	// TaskRequeueDelay is the delay between two pages of the same task.
	TaskRequeueDelay time.Duration
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		TemporalAddress:      getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace:    getEnv("TEMPORAL_NAMESPACE", "default"),
		TaskQueue:            getEnv("TASK_QUEUE", "backfill-queue"),
		DatabasePath:         getEnv("DATABASE_PATH", "praxis.db"),
		RedisAddress:         getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		GitHubPrivateKeyPath: getEnv("GITHUB_PRIVATE_KEY_PATH", ""),
		GitHubBaseURL:        getEnv("GITHUB_BASE_URL", ""),
		JiraUsername:         getEnv("JIRA_USERNAME", ""),
		JiraAPIToken:         getEnv("JIRA_TOKEN", ""),
		RESTPort:             getEnv("REST_PORT", "8080"),
		DynamicSettingsPath:  getEnv("DYNAMIC_SETTINGS_PATH", ""),
	}

	appID, err := strconv.ParseInt(getEnv("GITHUB_APP_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GITHUB_APP_ID: %w", err)
	}
	cfg.GitHubAppID = appID

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	delay, err := time.ParseDuration(getEnv("TASK_REQUEUE_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TASK_REQUEUE_DELAY: %w", err)
	}
	cfg.TaskRequeueDelay = delay

	return cfg, nil
}

// Validate checks the settings without which the workers cannot run.
func (c *Config) Validate() error {
	if c.GitHubAppID == 0 {
		return fmt.Errorf("GITHUB_APP_ID is required")
	}
	if c.GitHubPrivateKeyPath == "" {
		return fmt.Errorf("GITHUB_PRIVATE_KEY_PATH is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
