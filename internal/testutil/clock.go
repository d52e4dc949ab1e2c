package testutil

import (
	"strconv"
	"sync"
)

// Clock is a deterministic store clock for tests. Each reading advances it
// by one second, so timestamps written by a store are reproducible.
//
// Thread-safety: All methods are safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now int64
}

// NewClock returns a clock whose first reading is start+1.
func NewClock(start int64) *Clock {
	return &Clock{now: start}
}

// Now advances the clock and returns the new reading in Unix seconds.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

// Peek returns the last reading without advancing.
func (c *Clock) Peek() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tokens hands out reservation tokens "token-1", "token-2", ... in order.
type Tokens struct {
	mu   sync.Mutex
	next int
}

// Next returns the next token.
func (g *Tokens) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return "token-" + strconv.Itoa(g.next)
}
