package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(zap.NewNop())
	t.Cleanup(s.Shutdown)
	return s
}

func TestSchedule_Fires(t *testing.T) {
	s := newTestScheduler(t)
	fired := make(chan struct{})

	id, err := s.Schedule("alice", 10*time.Millisecond, func(ctx context.Context) {
		close(fired)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("action did not fire")
	}

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Cancel("alice", id), ErrNotFound, "fired tasks cannot be cancelled")
}

func TestSchedule_IDsArePerOwnerAndNeverReused(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) {}

	a0, _ := s.Schedule("alice", time.Hour, noop)
	a1, _ := s.Schedule("alice", time.Hour, noop)
	b0, _ := s.Schedule("bob", time.Hour, noop)
	assert.Equal(t, 0, a0)
	assert.Equal(t, 1, a1)
	assert.Equal(t, 0, b0)

	require.NoError(t, s.Cancel("alice", a0))
	a2, _ := s.Schedule("alice", time.Hour, noop)
	assert.Equal(t, 2, a2)
	assert.Equal(t, []int{1, 2}, s.Pending("alice"))
	assert.Equal(t, 3, s.Len())
}

func TestCancel_PreventsAction(t *testing.T) {
	s := newTestScheduler(t)
	var fired atomic.Bool

	id, err := s.Schedule("alice", 30*time.Millisecond, func(context.Context) {
		fired.Store(true)
	})
	require.NoError(t, err)
	require.NoError(t, s.Cancel("alice", id))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.ErrorIs(t, s.Cancel("alice", id), ErrNotFound)
}

func TestCancel_Unknown(t *testing.T) {
	s := newTestScheduler(t)
	assert.ErrorIs(t, s.Cancel("alice", 0), ErrNotFound)

	_, _ = s.Schedule("alice", time.Hour, func(context.Context) {})
	assert.ErrorIs(t, s.Cancel("bob", 0), ErrNotFound, "ids are scoped to their owner")
	assert.ErrorIs(t, s.Cancel("alice", -1), ErrNotFound)
}

func TestShutdown_DropsPendingTasks(t *testing.T) {
	s := New(zap.NewNop())
	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		_, err := s.Schedule("alice", time.Hour, func(context.Context) { fired.Add(1) })
		require.NoError(t, err)
	}

	s.Shutdown()
	assert.Zero(t, fired.Load())
	assert.Zero(t, s.Len())

	_, err := s.Schedule("alice", time.Millisecond, func(context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestShutdown_WaitsForRunningAction(t *testing.T) {
	s := New(zap.NewNop())
	started := make(chan struct{})
	var sawCancel atomic.Bool

	_, err := s.Schedule("alice", 0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
	})
	require.NoError(t, err)

	<-started
	s.Shutdown()
	assert.True(t, sawCancel.Load())
}

func TestCancelRacingFire(t *testing.T) {
	s := newTestScheduler(t)

	for i := 0; i < 50; i++ {
		var fired atomic.Bool
		id, err := s.Schedule("alice", time.Millisecond, func(context.Context) { fired.Store(true) })
		require.NoError(t, err)

		time.Sleep(time.Millisecond)
		cancelErr := s.Cancel("alice", id)

		// Either the cancel won and nothing fires, or the task already
		// left the scheduler and cancel reports ErrNotFound.
		if cancelErr == nil {
			time.Sleep(5 * time.Millisecond)
			assert.False(t, fired.Load())
		} else {
			assert.ErrorIs(t, cancelErr, ErrNotFound)
		}
	}
}

func TestSchedule_Concurrent(t *testing.T) {
	s := newTestScheduler(t)
	var wg sync.WaitGroup
	ids := make(chan int, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Schedule("alice", time.Hour, func(context.Context) {})
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}
