package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserLocks(t *testing.T) {
	locks := newUserLocks()

	var wg sync.WaitGroup
	counters := map[string]*int{"u1": new(int), "u2": new(int)}
	for i := 0; i < 50; i++ {
		for _, user := range []string{"u1", "u2"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				unlock := locks.lock(user)
				defer unlock()
				*counters[user]++
			}(user)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, *counters["u1"])
	assert.Equal(t, 50, *counters["u2"])
	assert.Zero(t, locks.size())
}
