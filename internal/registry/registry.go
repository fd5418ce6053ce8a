package registry

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/kernelkit/internal/shm"
)

// Table maps ids to live objects of one kind.
type Table[V any] struct {
	mu    sync.RWMutex
	items map[int64]V // Protected by mu
	next  atomic.Int64
}

// NewTable creates an empty table. Generated ids start at 1.
func NewTable[V any]() *Table[V] {
	return &Table[V]{items: make(map[int64]V)}
}

// Register stores v under a fresh id and returns the id.
func (t *Table[V]) Register(v V) int64 {
	id := t.next.Add(1)

	t.mu.Lock()
	t.items[id] = v
	t.mu.Unlock()

	return id
}

// RegisterAs stores v under a caller-chosen id, failing if the id is taken.
func (t *Table[V]) RegisterAs(id int64, v V) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.items[id]; exists {
		return fmt.Errorf("registry: id %d already registered", id)
	}
	t.items[id] = v
	return nil
}

// Lookup retrieves the object registered under id.
func (t *Table[V]) Lookup(id int64) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.items[id]
	return v, ok
}

// Find returns the first object for which match reports true. The match
// function runs under the table's read lock and must not call back into it.
func (t *Table[V]) Find(match func(V) bool) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, v := range t.items {
		if match(v) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// Snapshot returns the registered objects ordered by id.
func (t *Table[V]) Snapshot() []V {
	t.mu.RLock()
	ids := make([]int64, 0, len(t.items))
	for id := range t.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.items[id])
	}
	t.mu.RUnlock()
	return out
}

// Unregister removes id and reports whether it was present.
func (t *Table[V]) Unregister(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.items[id]; !ok {
		return false
	}
	delete(t.items, id)
	return true
}

// Len returns the number of registered objects.
func (t *Table[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// IPCLock serialises create-or-open of named resources. It combines a process
// mutex with an flock on a shared lock file so that other processes using the
// same shm directory are excluded too.
type IPCLock struct {
	mu   sync.Mutex
	path string
	file *shm.FileLock // Opened lazily; nil if the lock file is unusable
	once sync.Once
	err  error
}

// NewIPCLock creates a lock backed by the file at path.
func NewIPCLock(path string) *IPCLock {
	return &IPCLock{path: path}
}

// Lock acquires the process mutex and then the file lock. If the lock file
// cannot be used the process mutex alone is held and the error is returned
// for reporting; the lock is still held in that case.
func (l *IPCLock) Lock() error {
	l.mu.Lock()

	l.once.Do(func() {
		l.file, l.err = shm.OpenLock(l.path)
	})
	if l.file == nil {
		return l.err
	}
	return l.file.Lock()
}

// Unlock releases both locks.
func (l *IPCLock) Unlock() {
	if l.file != nil {
		l.file.Unlock()
	}
	l.mu.Unlock()
}
