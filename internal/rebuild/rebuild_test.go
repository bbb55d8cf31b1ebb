package rebuild

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRebuildRunsOnce(t *testing.T) {
	var calls int32
	m := NewManager(func(ctx context.Context, collection string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)

	m.Request(context.Background(), "c1")
	m.Wait("c1")

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRebuildCoalescesBurstsOfRequests(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	m := NewManager(func(ctx context.Context, collection string) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)

	m.Request(context.Background(), "c1")
	<-started // first rebuild is now blocked inside fn

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Request(context.Background(), "c1")
		}()
	}
	wg.Wait()

	release <- struct{}{} // let the first rebuild finish; a coalesced second one should follow
	release <- struct{}{}

	m.Wait("c1")

	got := atomic.LoadInt32(&calls)
	assert.GreaterOrEqual(t, got, int32(1))
	assert.LessOrEqual(t, got, int32(2), "N sequential requests must coalesce to at most 2 rebuilds")
}

func TestRebuildIsolatedPerCollection(t *testing.T) {
	calls := make(map[string]int)
	var mu sync.Mutex
	m := NewManager(func(ctx context.Context, collection string) error {
		mu.Lock()
		calls[collection]++
		mu.Unlock()
		return nil
	}, nil)

	m.Request(context.Background(), "a")
	m.Request(context.Background(), "b")
	m.Wait("a")
	m.Wait("b")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls["a"])
	assert.Equal(t, 1, calls["b"])
}

func TestRebuildFailureDoesNotBlockFutureRequests(t *testing.T) {
	var calls int32
	m := NewManager(func(ctx context.Context, collection string) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return assert.AnError
		}
		return nil
	}, nil)

	m.Request(context.Background(), "c1")
	m.Wait("c1")
	assert.False(t, m.InFlight("c1"))

	m.Request(context.Background(), "c1")
	m.Wait("c1")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWaitOnNeverRequestedCollectionReturnsImmediately(t *testing.T) {
	m := NewManager(func(ctx context.Context, collection string) error { return nil }, nil)

	done := make(chan struct{})
	go func() {
		m.Wait("never-touched")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait on an untouched collection should return immediately")
	}
}
