package kernel

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutStart(t *testing.T) {
	assert.True(t, NoWait.start().try)
	assert.True(t, Relative(0).start().try)
	assert.True(t, Relative(-time.Second).start().try)
	assert.True(t, Infinite.start().infinite)
	assert.True(t, Relative(math.MaxInt64).start().infinite)

	dl := Relative(time.Hour).start()
	assert.False(t, dl.try)
	assert.False(t, dl.expired())
	assert.Greater(t, dl.remaining(), 59*time.Minute)
}

func TestAbsoluteTimeout(t *testing.T) {
	past := Absolute(time.Now().Add(-time.Second)).start()
	assert.False(t, past.try, "an absolute deadline is never a try")
	assert.True(t, past.expired())
	assert.Equal(t, time.Duration(0), past.remaining())

	future := Absolute(time.Now().Add(time.Minute)).start()
	assert.False(t, future.expired())
}

func TestDeadlineCarriesOver(t *testing.T) {
	dl := Relative(time.Minute).start()
	assert.Equal(t, timeoutAbsolute, dl.timeout().kind)
	assert.Equal(t, timeoutInfinite, Infinite.start().timeout().kind)
	assert.True(t, NoWait.start().timeout().start().try)
}

func TestTimeoutString(t *testing.T) {
	assert.Equal(t, "infinite", Infinite.String())
	assert.Equal(t, "no-wait", NoWait.String())
	assert.Equal(t, "1.5s", Relative(1500*time.Millisecond).String())
}

func TestLocalQueueWait(t *testing.T) {
	q := newLocalQueue()

	q.lock()
	start := time.Now()
	timedOut := q.wait(20 * time.Millisecond)
	q.unlock()
	assert.True(t, timedOut)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// The broadcaster can only get the lock once wait has released it.
	q.lock()
	go func() {
		q.lock()
		q.broadcast()
		q.unlock()
	}()
	timedOut = q.wait(-1)
	q.unlock()
	assert.False(t, timedOut)
}
