package jobs

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobAdvanceForwardOnly(t *testing.T) {
	j := &Job{}
	assert.Equal(t, StateCreated, j.State())

	assert.True(t, j.advance(StateDispatched))
	assert.False(t, j.advance(StateDispatched))
	assert.False(t, j.advance(StateCreated))
	assert.True(t, j.advance(StatePolling))
	assert.True(t, j.advance(StateCompleted))

	assert.False(t, j.advance(StateFailed))
	assert.Equal(t, StateCompleted, j.State())
}

func TestJobTerminalOnce(t *testing.T) {
	j := &Job{}
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := StateCompleted
			if i%2 == 0 {
				next = StateFailed
			}
			if j.advance(next) {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.True(t, j.State().Terminal())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
