package schedule_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-crm-session/internal/schedule"
	"github.com/stretchr/testify/require"
)

func TestEvery_Immediately(t *testing.T) {
	var runs atomic.Int32
	h := schedule.Every(context.Background(), time.Hour, func(context.Context) {
		runs.Add(1)
	}, schedule.Immediately())
	defer h.Stop()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEvery_Repeats(t *testing.T) {
	var runs atomic.Int32
	h := schedule.Every(context.Background(), time.Second, func(context.Context) {
		runs.Add(1)
	})
	defer h.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 20*time.Millisecond)
}

func TestHandle_StopWaitsForRunningTask(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	h := schedule.Every(context.Background(), time.Hour, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	}, schedule.Immediately())

	<-started
	h.Stop()
	require.True(t, finished.Load())

	// A second stop is a no-op.
	h.Stop()
}

func TestEvery_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	h := schedule.Every(ctx, time.Second, func(context.Context) {
		runs.Add(1)
	})
	cancel()
	h.Stop()

	time.Sleep(1200 * time.Millisecond)
	require.Zero(t, runs.Load())
}
