package engine

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGuard_Exclusive(t *testing.T) {
	g := NewLocalGuard()
	ctx := context.Background()

	release, err := g.TryAcquire(ctx, "schedule:a")
	require.NoError(t, err)

	_, err = g.TryAcquire(ctx, "schedule:a")
	require.ErrorIs(t, err, ErrInProgress)

	// Other keys are independent.
	releaseB, err := g.TryAcquire(ctx, "schedule:b")
	require.NoError(t, err)
	releaseB()

	release()
	release() // idempotent

	release, err = g.TryAcquire(ctx, "schedule:a")
	require.NoError(t, err)
	release()
}

func TestLocalGuard_ReleaseForgetsKey(t *testing.T) {
	g := NewLocalGuard()
	ctx := context.Background()

	for _, key := range []string{ScheduleKey("gone"), DeviceKey("dev-1"), DeviceKey("dev-2")} {
		release, err := g.TryAcquire(ctx, key)
		require.NoError(t, err)
		release()
	}

	held, err := g.TryAcquire(ctx, ScheduleKey("a"))
	require.NoError(t, err)
	_, err = g.TryAcquire(ctx, ScheduleKey("a"))
	require.ErrorIs(t, err, ErrInProgress)

	g.mu.Lock()
	assert.Len(t, g.held, 1, "only the key in use is tracked")
	g.mu.Unlock()

	held()
	g.mu.Lock()
	assert.Empty(t, g.held)
	g.mu.Unlock()
}

func TestLocalGuard_ConcurrentAcquireAdmitsOne(t *testing.T) {
	g := NewLocalGuard()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	hold := make(chan struct{})

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, err := g.TryAcquire(context.Background(), "device:dev-1")
			if err != nil {
				return
			}
			admitted.Add(1)
			<-hold
			release()
		}()
	}

	close(start)
	require.Eventually(t, func() bool { return admitted.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(hold)
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "schedule:abc", ScheduleKey("abc"))
	assert.Equal(t, "device:dev-1", DeviceKey("dev-1"))
}

func TestRedisGuard(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	g := NewRedisGuard(client, 2*time.Second)
	key := "test:" + t.Name() + ":" + time.Now().Format(time.RFC3339Nano)

	release, err := g.TryAcquire(ctx, key)
	require.NoError(t, err)

	_, err = g.TryAcquire(ctx, key)
	require.ErrorIs(t, err, ErrInProgress)

	release()

	release, err = g.TryAcquire(ctx, key)
	require.NoError(t, err)
	release()
}
