package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAndIncrements(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
}

func TestClock_ConcurrentNextIsUnique(t *testing.T) {
	c := NewClock()
	const goroutines, calls = 50, 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seq := c.Next()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*calls)
}
