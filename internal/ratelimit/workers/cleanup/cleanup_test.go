package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixgate/internal/ratelimit/store/bucket"
)

func TestRunOnce(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := bucket.NewInMemoryBucketStore(bucket.WithClock(clock))
	ctx := context.Background()

	_, err := store.Allow(ctx, "stale", 5, time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	removed, err := New(store).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, store.Len())
}

func TestStartStopsOnCancel(t *testing.T) {
	store := bucket.NewInMemoryBucketStore()
	svc := New(store, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
