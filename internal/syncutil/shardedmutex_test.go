package syncutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_SerializesSameKey(t *testing.T) {
	var mu ShardedMutex
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := mu.Lock("case-1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestShardedMutex_IndependentKeys(t *testing.T) {
	var mu ShardedMutex
	unlockA := mu.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		if mu.shard("a") != mu.shard("b") {
			unlockB := mu.Lock("b")
			unlockB()
		}
		close(done)
	}()
	<-done
}
