package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_AdvancesBySecond(t *testing.T) {
	clock := NewClock(1000)
	assert.Equal(t, int64(1000), clock.Peek())
	assert.Equal(t, int64(1001), clock.Now())
	assert.Equal(t, int64(1002), clock.Now())
	assert.Equal(t, int64(1002), clock.Peek())
}

func TestClock_ThreadSafe(t *testing.T) {
	clock := NewClock(0)
	const numGoroutines = 50
	const callsPerGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make([][]int64, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]int64, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = clock.Now()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, row := range results {
		for _, v := range row {
			require.False(t, seen[v], "duplicate reading %d", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}

func TestTokens_Sequential(t *testing.T) {
	var tokens Tokens
	assert.Equal(t, "token-1", tokens.Next())
	assert.Equal(t, "token-2", tokens.Next())
}
