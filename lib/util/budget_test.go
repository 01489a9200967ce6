package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBudgetLimit(t *testing.T) {
	b := NewBudget(100)

	assert.True(t, b.Reserve(60))
	assert.False(t, b.Reserve(41), "reservation beyond the limit must fail")
	assert.Equal(t, int64(60), b.Used(), "failed reservation must not change the budget")
	assert.True(t, b.Reserve(40))
	assert.Equal(t, int64(100), b.Peak())

	b.Release(70)
	assert.Equal(t, int64(30), b.Used())
	assert.Equal(t, int64(100), b.Peak())
	assert.True(t, b.Reserve(0))
}

func TestBudgetUnlimited(t *testing.T) {
	b := NewBudget(0)
	assert.True(t, b.Reserve(1<<40))
	assert.Equal(t, int64(0), b.Limit())

	assert.Equal(t, int64(0), NewBudget(-5).Limit())
}

func TestBudgetConcurrent(t *testing.T) {
	b := NewBudget(1000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if b.Reserve(10) {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, granted, "exactly limit/size reservations must succeed")
	assert.Equal(t, int64(1000), b.Used())
}
