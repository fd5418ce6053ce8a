package kernel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnStartsOnResume(t *testing.T) {
	var ran atomic.Bool
	th, err := SpawnThread(func(self *Self, arg any) int32 {
		ran.Store(true)
		return arg.(int32)
	}, "worker", NormalPriority, int32(3))
	require.NoError(t, err)
	defer th.Delete()

	assert.Equal(t, "worker", th.Name())
	assert.Equal(t, StateReady, th.State())
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran.Load(), "a spawned thread waits for Resume")

	require.NoError(t, th.Resume())
	status, err := th.Wait(Relative(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int32(3), status)
	assert.True(t, ran.Load())
	assert.Equal(t, StateExited, th.State())

	assert.ErrorIs(t, th.Resume(), ErrNotAllowed)
}

func TestWaitStartsReadyThread(t *testing.T) {
	th, err := SpawnThread(func(*Self, any) int32 { return 11 }, "", LowPriority, nil)
	require.NoError(t, err)
	defer th.Delete()

	assert.Contains(t, th.Name(), "thr_")

	status, err := th.Wait(Infinite)
	require.NoError(t, err)
	assert.Equal(t, int32(11), status)
}

func TestSpawnValidation(t *testing.T) {
	_, err := SpawnThread(nil, "", NormalPriority, nil)
	assert.ErrorIs(t, err, ErrBadValue)

	_, err = SpawnThread(func(*Self, any) int32 { return 0 }, "", MaxPriority+1, nil)
	assert.ErrorIs(t, err, ErrBadValue)

	_, err = SpawnThread(func(*Self, any) int32 { return 0 }, "", -1, nil)
	assert.ErrorIs(t, err, ErrBadValue)
}

func TestExitCallbacksRunLIFOOnce(t *testing.T) {
	var (
		mu    sync.Mutex
		order []int
	)
	record := func(i int) func() {
		return func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}
	}

	lateErr := make(chan error, 1)
	th, err := SpawnThread(func(self *Self, _ any) int32 {
		self.OnExit(record(1))
		self.OnExit(record(2))
		OnExit(record(3))
		self.OnExit(func() { lateErr <- self.OnExit(record(99)) })
		self.Exit(7)
		return 0
	}, "", NormalPriority, nil)
	require.NoError(t, err)
	defer th.Delete()

	status, err := th.Wait(Relative(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int32(7), status, "Exit sets the status")

	mu.Lock()
	assert.Equal(t, []int{3, 2, 1}, order)
	mu.Unlock()
	assert.ErrorIs(t, <-lateErr, ErrNotAllowed)
}

func TestOnExitOutsideThread(t *testing.T) {
	assert.ErrorIs(t, OnExit(func() {}), ErrNotFound)
}

func TestSuspendResume(t *testing.T) {
	var steps atomic.Int32
	th, err := SpawnThread(func(self *Self, _ any) int32 {
		steps.Add(1)
		if err := self.Suspend(Infinite); err != nil {
			return -1
		}
		steps.Add(1)
		return 0
	}, "", NormalPriority, nil)
	require.NoError(t, err)
	defer th.Delete()

	require.NoError(t, th.Resume())
	require.Eventually(t, func() bool { return th.State() == StateSuspended }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), steps.Load())

	require.NoError(t, th.Resume())
	status, err := th.Wait(Relative(time.Second))
	require.NoError(t, err)
	assert.Zero(t, status)
	assert.Equal(t, int32(2), steps.Load())
}

func TestSuspendTimeout(t *testing.T) {
	th, err := SpawnThread(func(self *Self, _ any) int32 {
		start := time.Now()
		if err := self.Suspend(Relative(50 * time.Millisecond)); err != ErrTimedOut {
			return 1
		}
		if time.Since(start) < 50*time.Millisecond {
			return 2
		}
		if err := self.Suspend(NoWait); err != ErrWouldBlock {
			return 3
		}
		return 0
	}, "", NormalPriority, nil)
	require.NoError(t, err)
	defer th.Delete()

	status, err := th.Wait(Relative(time.Second))
	require.NoError(t, err)
	assert.Zero(t, status)
}

func TestSelfFromAnotherGoroutine(t *testing.T) {
	selfc := make(chan *Self, 1)
	release := make(chan struct{})
	th, err := SpawnThread(func(self *Self, _ any) int32 {
		selfc <- self
		<-release
		return 0
	}, "", NormalPriority, nil)
	require.NoError(t, err)
	defer th.Delete()
	require.NoError(t, th.Resume())

	self := <-selfc
	assert.ErrorIs(t, self.Suspend(Infinite), ErrNotAllowed)
	assert.NotPanics(t, func() { self.Exit(1) }, "exit from a foreign goroutine is refused")

	close(release)
	status, err := th.Wait(Relative(time.Second))
	require.NoError(t, err)
	assert.Zero(t, status)
}

func TestWaitForSelfNotAllowed(t *testing.T) {
	result := make(chan error, 1)
	th, err := SpawnThread(func(self *Self, _ any) int32 {
		me, err := OpenThread(self.ID())
		if err != nil {
			result <- err
			return 0
		}
		_, err = me.Wait(Infinite)
		me.Delete()
		result <- err
		return 0
	}, "", NormalPriority, nil)
	require.NoError(t, err)
	defer th.Delete()

	_, err = th.Wait(Relative(time.Second))
	require.NoError(t, err)
	assert.ErrorIs(t, <-result, ErrNotAllowed)
}

func TestWaitTimesOutThenJoinsAfterClose(t *testing.T) {
	sem, err := CreateSemaphore(0, "", AccessOwner)
	require.NoError(t, err)
	defer sem.Delete()

	th, err := SpawnThread(func(*Self, any) int32 {
		if err := sem.Acquire(Infinite); err == ErrClosed {
			return 5
		}
		return 0
	}, "", NormalPriority, nil)
	require.NoError(t, err)
	defer th.Delete()

	_, err = th.Wait(Relative(50 * time.Millisecond))
	assert.ErrorIs(t, err, ErrTimedOut)

	_, err = th.Wait(NoWait)
	assert.ErrorIs(t, err, ErrWouldBlock)

	require.NoError(t, sem.Close())
	within(t, time.Second, func() {
		status, err := th.Wait(Infinite)
		assert.NoError(t, err)
		assert.Equal(t, int32(5), status)
	})
}

func TestDeleteDiscardsNeverStartedThread(t *testing.T) {
	var ran atomic.Bool
	th, err := SpawnThread(func(*Self, any) int32 {
		ran.Store(true)
		return 0
	}, "", NormalPriority, nil)
	require.NoError(t, err)
	tid := th.ID()

	within(t, time.Second, func() { assert.NoError(t, th.Delete()) })
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran.Load())

	_, err = OpenThread(tid)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, th.Delete(), ErrDeleted)
}

func TestDeleteLastWaitsForExit(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	th, err := SpawnThread(func(*Self, any) int32 {
		<-release
		finished.Store(true)
		return 0
	}, "", NormalPriority, nil)
	require.NoError(t, err)
	require.NoError(t, th.Resume())

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()
	within(t, time.Second, func() { assert.NoError(t, th.Delete()) })
	assert.True(t, finished.Load())
}

func TestThreadDestroyedOnce(t *testing.T) {
	t.Run("deleted by another thread", func(t *testing.T) {
		m := withMetrics(t)

		th, err := SpawnThread(func(*Self, any) int32 {
			time.Sleep(50 * time.Millisecond)
			return 0
		}, "", NormalPriority, nil)
		require.NoError(t, err)
		require.NoError(t, th.Resume())
		require.NoError(t, th.Delete())

		assert.Equal(t, 1.0, testutil.ToFloat64(m.ResourcesDestroyed.WithLabelValues("thread", "local")))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.ResourcesOpen.WithLabelValues("thread")))
	})

	t.Run("deleted by itself", func(t *testing.T) {
		m := withMetrics(t)

		handle := make(chan *Thread, 1)
		th, err := SpawnThread(func(*Self, any) int32 {
			own := <-handle
			_ = own.Delete()
			return 0
		}, "", NormalPriority, nil)
		require.NoError(t, err)
		id := th.ID()
		handle <- th
		require.NoError(t, th.Resume())

		destroyed := m.ResourcesDestroyed.WithLabelValues("thread", "local")
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(destroyed) >= 1
		}, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		_, err = GetThreadInfo(id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1.0, testutil.ToFloat64(destroyed))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.ResourcesOpen.WithLabelValues("thread")))
	})
}

func TestOpenFindClone(t *testing.T) {
	release := make(chan struct{})
	name := uniqueName()
	th, err := SpawnThread(func(*Self, any) int32 {
		<-release
		return 4
	}, name, NormalPriority, nil)
	require.NoError(t, err)

	found, err := FindThread(name)
	require.NoError(t, err)
	assert.Equal(t, th.ID(), found.ID())

	opened, err := OpenThread(th.ID())
	require.NoError(t, err)
	clone, err := th.Clone()
	require.NoError(t, err)

	info, err := opened.Info()
	require.NoError(t, err)
	assert.Equal(t, name, info.Name)
	assert.Equal(t, CurrentTeamID(), info.Team)
	assert.Equal(t, StateReady, info.State)

	require.NoError(t, th.Delete())
	require.NoError(t, found.Delete())
	require.NoError(t, opened.Delete())

	close(release)
	status, err := clone.Wait(Relative(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int32(4), status)
	require.NoError(t, clone.Delete())

	_, err = FindThread(name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThreadInfoWithoutHandle(t *testing.T) {
	th, err := SpawnThread(func(*Self, any) int32 { return 0 }, "listed", DisplayPriority, nil)
	require.NoError(t, err)

	info, err := GetThreadInfo(th.ID())
	require.NoError(t, err)
	assert.Equal(t, "listed", info.Name)
	assert.Equal(t, StateReady, info.State)
	assert.Equal(t, DisplayPriority, info.Priority)

	var found bool
	for _, ti := range ListThreads() {
		if ti.ID == th.ID() {
			found = true
		}
	}
	assert.True(t, found)

	// Reading info takes no reference, so this Delete is still the last.
	require.NoError(t, th.Delete())
	_, err = GetThreadInfo(info.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetPriority(t *testing.T) {
	release := make(chan struct{})
	th, err := SpawnThread(func(*Self, any) int32 {
		<-release
		return 0
	}, "", LowPriority, nil)
	require.NoError(t, err)
	defer th.Delete()

	prev, err := th.SetPriority(NormalPriority)
	require.NoError(t, err)
	assert.Equal(t, LowPriority, prev)

	require.NoError(t, th.Resume())

	// Raising priority may need privileges; the value is kept regardless.
	prev, err = th.SetPriority(UrgentPriority)
	require.NoError(t, err)
	assert.Equal(t, NormalPriority, prev)

	info, _ := th.Info()
	assert.Equal(t, UrgentPriority, info.Priority)

	_, err = th.SetPriority(MaxPriority + 1)
	assert.ErrorIs(t, err, ErrBadValue)

	close(release)
	_, err = th.Wait(Relative(time.Second))
	assert.NoError(t, err)
}

func TestPriorityMapping(t *testing.T) {
	assert.Equal(t, 19, niceValue(MinPriority))
	assert.Equal(t, 10, niceValue(LowPriority))
	assert.Equal(t, 0, niceValue(NormalPriority))
	assert.Equal(t, 0, niceValue(NormalPriority+1))
	assert.Equal(t, -20, niceValue(RealTimeDisplayPriority-1))

	assert.Equal(t, 1, rtPriority(RealTimeDisplayPriority))
	assert.Equal(t, 50, rtPriority(UrgentPriority))
	assert.Equal(t, 99, rtPriority(RealTimePriority))
}

func TestAdoptCurrent(t *testing.T) {
	type outcome struct {
		id      int64
		second  error
		onExit  bool
		adopted *Thread
	}
	res := make(chan outcome, 1)
	var exited atomic.Bool

	go func() {
		th, self, err := AdoptCurrent("adopted")
		if err != nil {
			res <- outcome{second: err}
			return
		}
		_, _, second := AdoptCurrent("again")
		clone, _ := th.Clone()
		th.Delete()
		res <- outcome{id: self.ID(), second: second, onExit: OnExit(func() { exited.Store(true) }) == nil, adopted: clone}
		self.Exit(9)
	}()

	out := <-res
	require.NotNil(t, out.adopted)
	assert.ErrorIs(t, out.second, ErrBusy)
	assert.True(t, out.onExit)
	assert.Equal(t, out.id, out.adopted.ID())

	status, err := out.adopted.Wait(Relative(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int32(9), status)
	assert.True(t, exited.Load())
	require.NoError(t, out.adopted.Delete())
}
