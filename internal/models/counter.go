package models

import (
	"errors"
	"sync"
)

/* THREAD SAFE COUNTER */

// Bounded counter of work in flight, used to cap
// how many goroutines a single request may spawn.
type Counter struct {
	cond *sync.Cond
	val  int
	max  int
}

var ErrorCounterFull error = errors.New("counter is at max value") // counter is at max value

/* FUNCTIONS */

// Creates a new counter with the max value it can have.
// Values below 1 are treated as 1.
func NewCounter(max int) *Counter {
	if max < 1 {
		max = 1
	}

	return &Counter{
		max:  max,
		cond: sync.NewCond(new(sync.Mutex)),
	}
}

// Returns the value of the counter
func (c *Counter) Get() int {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	return c.val
}

// Returns the max value of the counter
func (c *Counter) Max() int {
	return c.max
}

// Increases the value of the counter
// Will block while the value is max
func (c *Counter) Inc() {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	for c.val >= c.max {
		c.cond.Wait()
	}

	c.val++
}

// Tries to increase the value unless it is max
func (c *Counter) TryInc() error {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	if c.val >= c.max {
		return ErrorCounterFull
	}

	c.val++
	return nil
}

// Decreases the value of the counter
// Notifies one waiting goroutine
func (c *Counter) Dec() {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	if c.val > 0 {
		c.val--
	}

	c.cond.Signal()
}

// Runs the function in a new goroutine once the counter
// has room for it, registering it in the wait group.
func (c *Counter) Go(wg *sync.WaitGroup, f func()) {
	c.Inc()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.Dec()
		f()
	}()
}
