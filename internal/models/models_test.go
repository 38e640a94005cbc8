package models

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterBound(t *testing.T) {
	c := NewCounter(3)
	var wg sync.WaitGroup
	var running, peak atomic.Int32
	gate := make(chan struct{})
	done := make(chan struct{})

	work := func() {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-gate
		running.Add(-1)
	}

	go func() {
		for range 10 {
			c.Go(&wg, work)
		}
		close(done)
	}()

	require.Eventually(t, func() bool {
		return running.Load() == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, 3, c.Get())

	close(gate)
	<-done
	wg.Wait()

	assert.Equal(t, int32(3), peak.Load())
	assert.Equal(t, 0, c.Get())
}

func TestCounterTryInc(t *testing.T) {
	c := NewCounter(0)
	assert.Equal(t, 1, c.Max())
	require.NoError(t, c.TryInc())
	assert.ErrorIs(t, c.TryInc(), ErrorCounterFull)
	c.Dec()
	c.Dec()
	assert.Equal(t, 0, c.Get())
}

func TestTable(t *testing.T) {
	tab := NewTable[string, int](0)
	tab.Add("a", 1)
	tab.Add("b", 2)

	v, ok := tab.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	snap := tab.Snapshot()
	tab.Remove("a")
	assert.Len(t, snap, 2)
	assert.Equal(t, 1, tab.Len())

	_, ok = tab.Get("a")
	assert.False(t, ok)
}
