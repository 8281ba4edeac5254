package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T, n int) *Manager {
	t.Helper()
	return NewManager(Config{BufferSize: 64, NumberOfBuffersInGlobalPool: n, MaxUnpooledBytes: 1024}, nil)
}

func TestGetBufferNoBlockingExhaustion(t *testing.T) {
	m := testManager(t, 2)

	b1, ok := m.GetBufferNoBlocking()
	require.True(t, ok)
	b2, ok := m.GetBufferNoBlocking()
	require.True(t, ok)

	_, ok = m.GetBufferNoBlocking()
	assert.False(t, ok, "pool should be exhausted")

	b1.Release()
	b3, ok := m.GetBufferNoBlocking()
	require.True(t, ok, "released buffer should re-enter the pool")
	assert.Equal(t, uint32(64), b3.BufferSize())

	b2.Release()
	b3.Release()
}

func TestGetBufferBlockingWaitsAndCancels(t *testing.T) {
	m := testManager(t, 1)
	b, ok := m.GetBufferNoBlocking()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := m.GetBufferBlocking(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var wg sync.WaitGroup
	wg.Add(1)
	got := make(chan *TupleBuffer, 1)
	go func() {
		defer wg.Done()
		buf, err := m.GetBufferBlocking(context.Background())
		if err == nil {
			got <- buf
		}
	}()

	time.Sleep(10 * time.Millisecond)
	b.Release()
	wg.Wait()
	select {
	case buf := <-got:
		buf.Release()
	default:
		t.Fatal("expected blocking getter to receive the released buffer")
	}
}

func TestUnpooledAllocationCeiling(t *testing.T) {
	m := testManager(t, 1)

	b, err := m.GetUnpooledBuffer(512)
	require.NoError(t, err)
	assert.Equal(t, uint32(512), b.BufferSize())

	_, err = m.GetUnpooledBuffer(1024)
	require.Error(t, err)
	var allocErr *ErrCannotAllocateBuffer
	assert.ErrorAs(t, err, &allocErr)

	b.Release()
	b2, err := m.GetUnpooledBuffer(1024)
	require.NoError(t, err, "releasing should free the unpooled budget")
	b2.Release()
}

func TestChildBufferLifecycleReleasesWithParent(t *testing.T) {
	m := testManager(t, 2)

	parent, ok := m.GetBufferNoBlocking()
	require.True(t, ok)
	child, err := m.GetUnpooledBuffer(128)
	require.NoError(t, err)

	idx := parent.StoreChildBuffer(child)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 1, parent.ChildCount())

	loaded, err := parent.LoadChildBuffer(idx)
	require.NoError(t, err)
	assert.Same(t, child, loaded)
	loaded.Release()

	metricsBefore := m.Metrics()
	parent.Release()
	metricsAfter := m.Metrics()
	assert.Equal(t, metricsBefore.UnpooledReleased+1, metricsAfter.UnpooledReleased, "child must be released with its parent")
}

func TestRetainRequiresMatchingRelease(t *testing.T) {
	m := testManager(t, 1)
	b, ok := m.GetBufferNoBlocking()
	require.True(t, ok)

	b.Retain()
	b.Release()
	_, ok = m.GetBufferNoBlocking()
	assert.False(t, ok, "buffer must not return to pool until the retained reference is also released")

	b.Release()
	_, ok = m.GetBufferNoBlocking()
	assert.True(t, ok)
}
