package listener

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockRegistryReturnsSameHandle(t *testing.T) {
	var reg LockRegistry

	a := reg.Get("stk-1")
	b := reg.Get("stk-1")
	c := reg.Get("stk-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, reg.Len())
}

func TestLockRegistrySequentialLookupsExclude(t *testing.T) {
	var reg LockRegistry

	first := reg.Get("proc-1")
	first.Lock()

	second := reg.Get("proc-1")
	assert.False(t, second.TryLock(), "second lookup must see the held lock")

	first.Unlock()
	assert.True(t, second.TryLock())
	second.Unlock()
}

func TestLockRegistryConcurrentFirstUse(t *testing.T) {
	var reg LockRegistry

	const n = 64
	handles := make([]*sync.Mutex, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			handles[i] = reg.Get("new-id")
		}()
	}
	close(start)
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, handles[0], handles[i])
	}
	assert.Equal(t, 1, reg.Len())
}

func TestLockRegistryLenMatchesEntries(t *testing.T) {
	var reg LockRegistry

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Get(fmt.Sprintf("id-%d", i%10))
		}()
	}
	wg.Wait()

	entries := 0
	reg.locks.Range(func(_, _ any) bool {
		entries++
		return true
	})
	assert.Equal(t, 10, entries)
	assert.Equal(t, entries, reg.Len())
}
