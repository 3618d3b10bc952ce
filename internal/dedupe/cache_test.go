// ABOUTME: Tests for the event dedupe cache
// ABOUTME: Covers marking, expiry, size eviction and concurrent CheckAndMark

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_CheckAndMark(t *testing.T) {
	c := New(time.Minute, 10)

	assert.False(t, c.CheckAndMark("$event1"), "first delivery is new")
	assert.True(t, c.CheckAndMark("$event1"), "second delivery is a duplicate")
	assert.True(t, c.CheckAndMark("$event1"), "duplicates stay duplicates")
	assert.False(t, c.CheckAndMark("$event2"))
	assert.Equal(t, 2, c.Len())
}

func TestCache_Expiry(t *testing.T) {
	c := New(50*time.Millisecond, 10)

	assert.False(t, c.CheckAndMark("k"))
	time.Sleep(120 * time.Millisecond)
	assert.False(t, c.CheckAndMark("k"), "expired keys are new again")
}

func TestCache_EvictsOldest(t *testing.T) {
	c := New(time.Minute, 2)

	c.CheckAndMark("a")
	c.CheckAndMark("b")
	c.CheckAndMark("c")

	assert.Equal(t, 2, c.Len())
	assert.True(t, c.CheckAndMark("b"))
	assert.True(t, c.CheckAndMark("c"))
	assert.False(t, c.CheckAndMark("a"), "the oldest key was evicted")
}

func TestCache_Defaults(t *testing.T) {
	c := New(0, 0)
	for i := 0; i < 100; i++ {
		c.CheckAndMark(fmt.Sprintf("k%d", i))
	}
	assert.Equal(t, 100, c.Len())
}

func TestCache_ConcurrentCheckAndMark(t *testing.T) {
	c := New(time.Minute, 100)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("$same") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load())
}
