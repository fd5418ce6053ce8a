package kernel

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLockerMutualExclusion(t *testing.T) {
	l := NewLocker()
	defer l.Delete()

	const (
		workers    = 8
		increments = 1000
	)

	counter := 0
	inside := 0
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				if !assert.NoError(t, l.Lock(Infinite)) {
					return
				}
				inside++
				assert.Equal(t, 1, inside)
				counter++
				inside--
				assert.NoError(t, l.Unlock())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*increments, counter)
	assert.Zero(t, l.Holder())
}

func TestLockerReentrancy(t *testing.T) {
	for _, depth := range []int64{1, 2, 10} {
		t.Run(fmt.Sprintf("depth %d", depth), func(t *testing.T) {
			l := NewLocker()
			defer l.Delete()

			for i := int64(0); i < depth; i++ {
				require.NoError(t, l.Lock(Infinite))
			}
			assert.Equal(t, depth, l.CountLocks())
			assert.True(t, l.IsLockedByCurrent())
			assert.Equal(t, CurrentThreadID(), l.Holder())

			// tryOther probes the locker from another goroutine.
			tryOther := func() (int64, error) {
				type probe struct {
					count int64
					err   error
				}
				res := make(chan probe, 1)
				go func() {
					count := l.CountLocks()
					err := l.Lock(NoWait)
					if err == nil {
						err = l.Unlock()
					}
					res <- probe{count: count, err: err}
				}()
				p := <-res
				return p.count, p.err
			}

			count, err := tryOther()
			assert.ErrorIs(t, err, ErrWouldBlock)
			assert.Equal(t, -depth, count)

			for i := int64(0); i < depth-1; i++ {
				require.NoError(t, l.Unlock())
			}
			assert.Equal(t, int64(1), l.CountLocks())

			require.NoError(t, l.Unlock())
			assert.Zero(t, l.CountLocks())

			count, err = tryOther()
			assert.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestLockerUnlockByNonHolder(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	l := NewLocker()
	defer l.Delete()

	assert.ErrorIs(t, l.Unlock(), ErrNotAllowed, "unheld")

	require.NoError(t, l.Lock(Infinite))
	errc := make(chan error, 1)
	go func() { errc <- l.Unlock() }()
	assert.ErrorIs(t, <-errc, ErrNotAllowed)
	assert.Equal(t, int64(1), l.CountLocks(), "a failed unlock changes nothing")
	require.NoError(t, l.Unlock())

	assert.Equal(t, 2, logs.FilterMessage("locker unlocked by a thread that does not hold it").Len())
}

func TestLockerTimeout(t *testing.T) {
	l := NewLocker()
	defer l.Delete()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		l.Lock(Infinite)
		close(held)
		<-release
		l.Unlock()
	}()
	<-held

	start := time.Now()
	assert.ErrorIs(t, l.Lock(Relative(100*time.Millisecond)), ErrTimedOut)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 150*time.Millisecond)

	close(release)
	require.NoError(t, l.Lock(Relative(time.Second)))
	require.NoError(t, l.Unlock())
}

func TestLockerCloseUnblocksWaiters(t *testing.T) {
	l := NewLocker()
	defer l.Delete()

	require.NoError(t, l.Lock(Infinite))

	done := make(chan error, 1)
	go func() { done <- l.Lock(Infinite) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, l.Close())
	within(t, time.Second, func() { assert.ErrorIs(t, <-done, ErrClosed) })

	assert.ErrorIs(t, l.Lock(Infinite), ErrClosed, "the holder cannot relock a closed locker")
	assert.NoError(t, l.Unlock(), "the holder may still unlock")
	assert.ErrorIs(t, l.Close(), ErrClosed)
}

func TestLockerUnlockFullyRelock(t *testing.T) {
	l := NewLocker()
	defer l.Delete()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Lock(Infinite))
	}

	depth, err := l.UnlockFully()
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)
	assert.Zero(t, l.CountLocks())

	// Another thread can take the lock in between.
	errc := make(chan error, 1)
	go func() {
		if err := l.Lock(NoWait); err != nil {
			errc <- err
			return
		}
		errc <- l.Unlock()
	}()
	require.NoError(t, <-errc)

	require.NoError(t, l.Relock(depth, Infinite))
	assert.Equal(t, int64(3), l.CountLocks())
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Unlock())
	}

	_, err = l.UnlockFully()
	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.ErrorIs(t, l.Relock(0, Infinite), ErrBadValue)
}

func TestLockerCloneRefcount(t *testing.T) {
	l := NewLocker()
	c, err := l.Clone()
	require.NoError(t, err)

	require.NoError(t, l.Lock(Infinite))
	assert.Equal(t, int64(1), c.CountLocks(), "clones share the lock")
	require.NoError(t, c.Unlock())

	require.NoError(t, l.Delete())
	assert.ErrorIs(t, l.Lock(NoWait), ErrDeleted)
	assert.ErrorIs(t, l.Delete(), ErrDeleted)

	require.NoError(t, c.Lock(NoWait))
	require.NoError(t, c.Unlock())
	require.NoError(t, c.Delete())
}

func TestLockerDeleteWakesOwnWaiters(t *testing.T) {
	l := NewLocker()
	c, err := l.Clone()
	require.NoError(t, err)

	require.NoError(t, l.Lock(Infinite))
	done := make(chan error, 1)
	go func() { done <- c.Lock(Infinite) }()
	time.Sleep(20 * time.Millisecond)

	// Dropping the blocked clone wakes its waiter.
	within(t, time.Second, func() { assert.NoError(t, c.Delete()) })
	assert.ErrorIs(t, <-done, ErrDeleted)

	require.NoError(t, l.Unlock())
	require.NoError(t, l.Delete())
}

func TestLockerDeleteRacingLock(t *testing.T) {
	l := NewLocker()
	c, err := l.Clone()
	require.NoError(t, err)
	require.NoError(t, l.Lock(Infinite))

	// A lock call that has entered the clone but not yet queued up when
	// Delete broadcasts must still observe the deletion.
	require.NoError(t, c.enter())
	deleted := make(chan error, 1)
	go func() { deleted <- c.Delete() }()
	require.Eventually(t, c.deleted.Load, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // Let Delete broadcast and block on the in-flight call

	within(t, time.Second, func() {
		assert.ErrorIs(t, c.lock(-1, Infinite.start()), ErrDeleted)
	})
	c.leave()

	within(t, time.Second, func() { assert.NoError(t, <-deleted) })
	require.NoError(t, l.Unlock())
	require.NoError(t, l.Delete())
}
