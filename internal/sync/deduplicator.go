package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DedupResult is the verdict of a single-flight attempt.
type DedupResult int

const (
	// DedupExecuted means this process held the flag and ran the job.
	DedupExecuted DedupResult = iota
	// DedupOtherWorker means another process is running the same job.
	DedupOtherWorker
	// DedupNotSure means the flag state could not be determined, for example
	// this process crashed mid-job earlier or Redis was unreachable.
	DedupNotSure
)

// defaultJobFlagTTL bounds how long a crashed worker can block the job.
const defaultJobFlagTTL = 2 * time.Minute

var releaseFlagScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Deduplicator ensures at most one worker processes a given job key at a
// time, across processes, using a Redis in-progress flag.
type Deduplicator struct {
	rdb      *redis.Client
	runnerID string
	flagTTL  time.Duration
	logger   *zap.Logger
}

// NewDeduplicator creates a deduplicator with a unique runner identity.
func NewDeduplicator(rdb *redis.Client, flagTTL time.Duration, logger *zap.Logger) *Deduplicator {
	if flagTTL <= 0 {
		flagTTL = defaultJobFlagTTL
	}
	return &Deduplicator{
		rdb:      rdb,
		runnerID: uuid.NewString(),
		flagTTL:  flagTTL,
		logger:   logger,
	}
}

// Execute runs job if no other worker holds the in-progress flag for jobKey.
// The returned error is the job's own error and is only meaningful when the
// result is DedupExecuted.
func (d *Deduplicator) Execute(ctx context.Context, jobKey string, job func(ctx context.Context) error) (DedupResult, error) {
	key := flagKey(jobKey)

	acquired, err := d.rdb.SetNX(ctx, key, d.runnerID, d.flagTTL).Result()
	if err != nil {
		d.logger.Warn("failed to acquire in-progress flag", zap.String("job", jobKey), zap.Error(err))
		return DedupNotSure, nil
	}
	if !acquired {
		owner, err := d.rdb.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			d.logger.Warn("failed to read in-progress flag", zap.String("job", jobKey), zap.Error(err))
			return DedupNotSure, nil
		}
		if owner == d.runnerID {
			// The flag is ours but we are not inside Execute for it. A
			// previous run must have died before releasing; wait it out.
			return DedupNotSure, nil
		}
		return DedupOtherWorker, nil
	}

	defer func() {
		if _, err := releaseFlagScript.Run(context.WithoutCancel(ctx), d.rdb, []string{key}, d.runnerID).Result(); err != nil {
			d.logger.Warn("failed to release in-progress flag", zap.String("job", jobKey), zap.Error(err))
		}
	}()

	return DedupExecuted, job(ctx)
}

func flagKey(jobKey string) string {
	return fmt.Sprintf("backfill:inprogress:%s", jobKey)
}
