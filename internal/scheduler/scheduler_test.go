package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/config"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/scheduler"
)

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	cfg := config.Default()
	s := scheduler.New(cfg, zerolog.Nop(), nil)
	t.Cleanup(s.Close)
	return s
}

func TestSubmitRunsQueryAndReturnsResult(t *testing.T) {
	s := newTestScheduler(t)
	rows, err := s.Submit(context.Background(), scheduler.KindQueryHigh, func(ctx context.Context, tok scheduler.BatchToken) (int, error) {
		require.True(t, tok.OpenNew)
		require.True(t, tok.MustEnd)
		return 0, nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, rows)
}

func TestHighPriorityWriteAlwaysEndsItsOwnBatch(t *testing.T) {
	s := newTestScheduler(t)
	rows, err := s.Submit(context.Background(), scheduler.KindUpdateHigh, func(ctx context.Context, tok scheduler.BatchToken) (int, error) {
		require.True(t, tok.MustEnd)
		return 5, nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, rows)
}

func TestLoneLowPriorityUpdateEndsItsBatch(t *testing.T) {
	s := newTestScheduler(t)
	_, err := s.Submit(context.Background(), scheduler.KindUpdateLow, func(ctx context.Context, tok scheduler.BatchToken) (int, error) {
		require.True(t, tok.OpenNew)
		// Nothing else queued to coalesce with: the batch must commit now,
		// not wait out the notification-delay window.
		require.True(t, tok.MustEnd)
		return 1, nil
	})
	require.NoError(t, err)
}

func TestConcurrentQueriesRunInParallel(t *testing.T) {
	s := newTestScheduler(t)
	var wg sync.WaitGroup
	var concurrent int32
	var maxConcurrent int32

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), scheduler.KindQueryLow, func(ctx context.Context, tok scheduler.BatchToken) (int, error) {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					old := atomic.LoadInt32(&maxConcurrent)
					if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return 0, nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Greater(t, atomic.LoadInt32(&maxConcurrent), int32(1))
}

func TestRetryBusyRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	err := scheduler.RetryBusy(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return quillerr.New(quillerr.KindStorageBusy, nil, "busy")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryBusyGivesUpAfterBudget(t *testing.T) {
	err := scheduler.RetryBusy(context.Background(), func() error {
		return quillerr.New(quillerr.KindStorageBusy, nil, "busy")
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, quillerr.StorageBusy))
}

func TestRetryBusyPassesThroughOtherErrors(t *testing.T) {
	want := quillerr.New(quillerr.KindTypeMismatch, nil, "nope")
	err := scheduler.RetryBusy(context.Background(), func() error { return want })
	require.Equal(t, want, err)
}
