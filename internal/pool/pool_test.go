package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	id     string
	closed atomic.Bool
}

func (f *fakePage) Close() error {
	f.closed.Store(true)
	return nil
}

func fakeFactory(opened *atomic.Int32) Factory {
	return func(ctx context.Context) (Page, error) {
		n := opened.Add(1)
		return &fakePage{id: fmt.Sprintf("page-%d", n)}, nil
	}
}

func TestAcquireReusesSameTab(t *testing.T) {
	var opened atomic.Int32
	p := New(2, fakeFactory(&opened), nil)
	defer p.Close()
	ctx := context.Background()

	first, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	p.Release("a")

	second, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	p.Release("a")

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), opened.Load())
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	var opened atomic.Int32
	p := New(2, fakeFactory(&opened), nil)
	defer p.Close()
	ctx := context.Background()

	now := time.Now()
	p.now = func() time.Time { return now }

	pa, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	p.Release("a")

	now = now.Add(time.Second)
	_, err = p.Acquire(ctx, "b")
	require.NoError(t, err)
	p.Release("b")

	// Touch a so b becomes least recently used.
	now = now.Add(time.Second)
	_, err = p.Acquire(ctx, "a")
	require.NoError(t, err)
	p.Release("a")

	// A third tab evicts b, never a.
	now = now.Add(time.Second)
	_, err = p.Acquire(ctx, "c")
	require.NoError(t, err)
	p.Release("c")

	assert.True(t, p.Has("a"))
	assert.False(t, p.Has("b"))
	assert.True(t, p.Has("c"))
	assert.False(t, pa.(*fakePage).closed.Load())
	assert.Equal(t, int32(3), opened.Load())
}

func TestActivePagesAreNeverEvicted(t *testing.T) {
	var opened atomic.Int32
	p := New(2, fakeFactory(&opened), nil)
	defer p.Close()
	ctx := context.Background()

	_, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	_, err = p.Acquire(ctx, "b")
	require.NoError(t, err)

	// Both active: a third acquire must block until the context expires.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(waitCtx, "c")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	assert.True(t, p.Has("a"))
	assert.True(t, p.Has("b"))
}

func TestBlockedAcquireProceedsAfterRelease(t *testing.T) {
	var opened atomic.Int32
	p := New(1, fakeFactory(&opened), nil)
	defer p.Close()
	ctx := context.Background()

	_, err := p.Acquire(ctx, "a")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, "b")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release("a")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestReleaseUnknownTabIsNoop(t *testing.T) {
	p := New(1, fakeFactory(new(atomic.Int32)), nil)
	defer p.Close()
	p.Release("ghost")

	idle, active := p.Stats()
	assert.Zero(t, idle)
	assert.Zero(t, active)
}

func TestCloseTabRemovesAndCloses(t *testing.T) {
	var opened atomic.Int32
	p := New(2, fakeFactory(&opened), nil)
	defer p.Close()
	ctx := context.Background()

	page, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	p.Release("a")

	require.NoError(t, p.CloseTab("a"))
	assert.False(t, p.Has("a"))
	assert.True(t, page.(*fakePage).closed.Load())
	assert.NoError(t, p.CloseTab("a"), "closing a missing tab is not an error")
}

func TestAcquireAfterCloseFails(t *testing.T) {
	p := New(1, fakeFactory(new(atomic.Int32)), nil)
	require.NoError(t, p.Close())

	_, err := p.Acquire(context.Background(), "a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFactoryFailureFreesSlot(t *testing.T) {
	calls := 0
	factory := func(ctx context.Context) (Page, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return &fakePage{}, nil
	}
	p := New(1, factory, nil)
	defer p.Close()
	ctx := context.Background()

	_, err := p.Acquire(ctx, "a")
	require.Error(t, err)
	assert.False(t, p.Has("a"))

	_, err = p.Acquire(ctx, "a")
	require.NoError(t, err)
}

func TestRunParallelBoundsConcurrency(t *testing.T) {
	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
	}

	var inFlight, peak atomic.Int32
	var mu sync.Mutex

	outcomes := RunParallel(context.Background(), urls, 3, func(ctx context.Context, url string, slot int) (any, error) {
		cur := inFlight.Add(1)
		mu.Lock()
		if cur > peak.Load() {
			peak.Store(cur)
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return url, nil
	})

	require.Len(t, outcomes, len(urls))
	assert.LessOrEqual(t, peak.Load(), int32(3))
	for i, o := range outcomes {
		assert.Equal(t, urls[i], o.URL)
		assert.True(t, o.OK)
	}
}

func TestRunParallelIsolatesFailures(t *testing.T) {
	urls := []string{"https://ok.example.com", "https://bad.example.com", "https://ok2.example.com"}

	outcomes := RunParallel(context.Background(), urls, 2, func(ctx context.Context, url string, slot int) (any, error) {
		if url == "https://bad.example.com" {
			return nil, errors.New("navigation refused")
		}
		return "content", nil
	})

	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].OK)
	assert.False(t, outcomes[1].OK)
	assert.Contains(t, outcomes[1].Error, "navigation refused")
	assert.True(t, outcomes[2].OK)
}

func TestRunParallelCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := RunParallel(ctx, []string{"a", "b"}, 1, func(ctx context.Context, url string, slot int) (any, error) {
		return "never", nil
	})

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.False(t, o.OK)
		assert.NotEmpty(t, o.Error)
	}
}
