package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoReturnsResult(t *testing.T) {
	pool := NewPool(2)
	got, err := Do(context.Background(), pool, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestDoReturnsError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Do(context.Background(), NewPool(1), func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestDoStopsWaitingAtDeadline(t *testing.T) {
	pool := NewPool(1)
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Do(ctx, pool, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoPassesContextToTask(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cancelled := make(chan struct{})
	_, err := Do(ctx, NewPool(1), func(taskCtx context.Context) (int, error) {
		<-taskCtx.Done()
		close(cancelled)
		return 0, taskCtx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
}

func TestDoWaitingForSlotHonoursContext(t *testing.T) {
	pool := NewPool(1)
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = Do(context.Background(), pool, func(context.Context) (int, error) {
			close(started)
			<-release
			return 0, nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Do(ctx, pool, func(context.Context) (int, error) {
		t.Error("task must not run without a slot")
		return 0, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var running, peak atomic.Int32

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Do(context.Background(), pool, func(context.Context) (int, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return 0, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, pool.Size())
}

func TestDoRecoversPanic(t *testing.T) {
	pool := NewPool(1)
	_, err := Do(context.Background(), pool, func(context.Context) (int, error) {
		panic("bad page")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad page")

	got, err := Do(context.Background(), pool, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}
