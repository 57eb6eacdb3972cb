package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedExecutorFIFOPerKey(t *testing.T) {
	exec := newKeyedExecutor()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		exec.Submit("conv-1", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	exec.Wait()

	for i := 0; i < 20; i++ {
		assert.Equal(t, i, order[i])
	}
}

func TestKeyedExecutorKeysRunConcurrently(t *testing.T) {
	exec := newKeyedExecutor()

	release := make(chan struct{})
	fastDone := make(chan struct{})

	exec.Submit("slow", func() { <-release })
	exec.Submit("fast", func() { close(fastDone) })

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("independent key was blocked by another key's task")
	}
	close(release)
	exec.Wait()
}

func TestKeyedExecutorReusesKeyAfterDrain(t *testing.T) {
	exec := newKeyedExecutor()

	var count int
	var mu sync.Mutex
	exec.Submit("conv-1", func() { mu.Lock(); count++; mu.Unlock() })
	exec.Wait()
	exec.Submit("conv-1", func() { mu.Lock(); count++; mu.Unlock() })
	exec.Wait()

	assert.Equal(t, 2, count)
}
