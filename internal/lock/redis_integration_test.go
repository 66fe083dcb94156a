//go:build integration

package lock

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T, ttl time.Duration) *Redis {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}
	r, err := NewRedisFromURL(url, ttl, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisMutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, setupRedis(t, 5*time.Second), "it-"+uuid.NewString())
}

func TestRedisLockExpires(t *testing.T) {
	r := setupRedis(t, 100*time.Millisecond)
	project := "it-" + uuid.NewString()

	_, err := r.Lock(context.Background(), project)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	unlock, err := r.Lock(ctx, project)
	require.NoError(t, err)
	unlock()
}

func TestRedisStaleUnlockDoesNotReleaseNewHolder(t *testing.T) {
	r := setupRedis(t, 100*time.Millisecond)
	project := "it-" + uuid.NewString()

	staleUnlock, err := r.Lock(context.Background(), project)
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	unlock, err := r.Lock(context.Background(), project)
	require.NoError(t, err)
	defer unlock()
	staleUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = r.Lock(ctx, project)
	assert.ErrorIs(t, err, ErrNotAcquired)
}
