package goid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{name: "running", in: "goroutine 123 [running]:\nmain.main()", want: 123},
		{name: "single digit", in: "goroutine 1 [running]:", want: 1},
		{name: "bad prefix", in: "thread 5 [running]", want: 0},
		{name: "short", in: "gor", want: 0},
		{name: "no digits", in: "goroutine [running]", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parse([]byte(tt.in)))
		})
	}
}

func TestCurrentDistinct(t *testing.T) {
	self := Current()
	assert.Positive(t, self)
	assert.Equal(t, self, Current())

	const n = 16
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- Current()
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{self: true}
	for id := range ids {
		assert.False(t, seen[id], "duplicate goroutine id %d", id)
		seen[id] = true
	}
}
