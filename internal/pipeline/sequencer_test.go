package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSequencer_SameKeyRunsInOrder(t *testing.T) {
	seq := NewSequencer(8, zap.NewNop())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		err := seq.Submit("user-1/binance/BTCUSDT", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		assert.NoError(t, err)
	}
	seq.Close()

	assert.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v, "jobs for one key must run in submission order")
	}
}

func TestSequencer_NoConcurrentJobsPerKey(t *testing.T) {
	seq := NewSequencer(8, zap.NewNop())

	var running int32
	var maxRunning int32
	for i := 0; i < 50; i++ {
		err := seq.Submit("user-1/binance/ETHUSDT", func() {
			n := atomic.AddInt32(&running, 1)
			for {
				prev := atomic.LoadInt32(&maxRunning)
				if n <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
		assert.NoError(t, err)
	}
	seq.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning),
		"no two jobs for the same key may run simultaneously")
}

func TestSequencer_DistinctKeysRunInParallel(t *testing.T) {
	seq := NewSequencer(2, zap.NewNop())

	started := make(chan string, 2)
	release := make(chan struct{})

	assert.NoError(t, seq.Submit("key-a", func() {
		started <- "a"
		<-release
	}))
	assert.NoError(t, seq.Submit("key-b", func() {
		started <- "b"
		<-release
	}))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-started:
			seen[k] = true
		case <-time.After(time.Second):
			t.Fatal("jobs for distinct keys did not run in parallel")
		}
	}
	assert.True(t, seen["a"] && seen["b"])
	close(release)
	seq.Close()
}

func TestSequencer_SubmitAfterCloseRejected(t *testing.T) {
	seq := NewSequencer(2, zap.NewNop())
	seq.Close()

	err := seq.Submit("key", func() {})
	assert.ErrorIs(t, err, ErrSequencerClosed)
}

func TestSequencer_CloseDrainsQueuedJobs(t *testing.T) {
	seq := NewSequencer(4, zap.NewNop())

	var done int32
	for i := 0; i < 20; i++ {
		assert.NoError(t, seq.Submit("key", func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&done, 1)
		}))
	}
	seq.Close()

	assert.Equal(t, int32(20), atomic.LoadInt32(&done), "Close must wait for queued work")
	assert.Equal(t, 0, seq.PendingKeys())
}
