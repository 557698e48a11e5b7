package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDeduplicator(t *testing.T) (*Deduplicator, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewDeduplicator(client, time.Minute, zap.NewNop()), s
}

func TestDeduplicator(t *testing.T) {
	ctx := context.Background()

	t.Run("RunsTheJobAndReleasesTheFlag", func(t *testing.T) {
		d, s := newTestDeduplicator(t)
		ran := false
		res, err := d.Execute(ctx, "host:1", func(context.Context) error {
			ran = true
			assert.True(t, s.Exists(flagKey("host:1")))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, DedupExecuted, res)
		assert.True(t, ran)
		assert.False(t, s.Exists(flagKey("host:1")))
	})

	t.Run("PropagatesJobError", func(t *testing.T) {
		d, _ := newTestDeduplicator(t)
		boom := errors.New("boom")
		res, err := d.Execute(ctx, "host:1", func(context.Context) error { return boom })
		assert.Equal(t, DedupExecuted, res)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("OtherWorkerHoldsTheFlag", func(t *testing.T) {
		d, s := newTestDeduplicator(t)
		require.NoError(t, s.Set(flagKey("host:1"), "some-other-runner"))

		ran := false
		res, err := d.Execute(ctx, "host:1", func(context.Context) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, DedupOtherWorker, res)
		assert.False(t, ran)
	})

	t.Run("OwnStaleFlagMeansNotSure", func(t *testing.T) {
		d, s := newTestDeduplicator(t)
		require.NoError(t, s.Set(flagKey("host:1"), d.runnerID))

		res, err := d.Execute(ctx, "host:1", func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, DedupNotSure, res)
	})

	t.Run("DifferentJobKeysDoNotContend", func(t *testing.T) {
		d, s := newTestDeduplicator(t)
		require.NoError(t, s.Set(flagKey("host:1"), "some-other-runner"))

		res, err := d.Execute(ctx, "host:2", func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, DedupExecuted, res)
	})

	t.Run("FlagExpiresAfterTTL", func(t *testing.T) {
		d, s := newTestDeduplicator(t)
		require.NoError(t, s.Set(flagKey("host:1"), "dead-runner"))
		s.SetTTL(flagKey("host:1"), time.Minute)
		s.FastForward(2 * time.Minute)

		res, err := d.Execute(ctx, "host:1", func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, DedupExecuted, res)
	})
}
