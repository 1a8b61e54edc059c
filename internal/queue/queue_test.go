package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New[int](8, Block, nil)

	for i := 1; i <= 5; i++ {
		ok, dropped := q.Push(i)
		require.True(t, ok)
		require.False(t, dropped)
	}

	for i := 1; i <= 5; i++ {
		item, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, item)
	}

	assert.Equal(t, 0, q.Len())
}

func TestQueue_DropPolicy(t *testing.T) {
	var droppedItems []int
	q := New[int](2, Drop, func(item int) {
		droppedItems = append(droppedItems, item)
	})

	q.Push(1)
	q.Push(2)
	ok, dropped := q.Push(3)

	assert.True(t, ok)
	assert.True(t, dropped)
	assert.Equal(t, []int{3}, droppedItems)
	assert.Equal(t, uint64(1), q.Stats().Dropped)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_BlockPolicyAppliesBackpressure(t *testing.T) {
	q := New[int](1, Block, nil)
	q.Push(1)

	pushDone := make(chan struct{})
	go func() {
		q.Push(2)
		close(pushDone)
	}()

	select {
	case <-pushDone:
		t.Fatal("push should block while queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, item)

	select {
	case <-pushDone:
	case <-time.After(time.Second):
		t.Fatal("push should complete after space frees up")
	}
}

func TestQueue_CloseDrainsRemainingItems(t *testing.T) {
	q := New[int](8, Block, nil)
	q.Push(1)
	q.Push(2)
	q.Close()

	// Pushes after close are rejected.
	ok, _ := q.Push(3)
	assert.False(t, ok)

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, item)

	item, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, item)

	// Drained and closed: Pop reports exhaustion without blocking.
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_CloseWakesBlockedPop(t *testing.T) {
	q := New[int](4, Block, nil)

	popDone := make(chan bool)
	go func() {
		_, ok := q.Pop()
		popDone <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-popDone:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop should return after Close")
	}
}

func TestQueue_CloseIdempotent(t *testing.T) {
	q := New[int](4, Block, nil)
	q.Close()
	q.Close()
	assert.True(t, q.Closed())
}

func TestQueue_ConcurrentProducersPreservePerProducerOrder(t *testing.T) {
	q := New[int](128, Block, nil)

	var wg sync.WaitGroup
	const perProducer = 50

	// Two producers with disjoint ranges.
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base + i)
			}
		}(p * 1000)
	}

	received := make([]int, 0, 2*perProducer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(received) < 2*perProducer {
			item, ok := q.Pop()
			if !ok {
				return
			}
			received = append(received, item)
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not finish")
	}

	// Per-producer FIFO order must hold even under interleaving.
	lastA, lastB := -1, 999
	for _, v := range received {
		if v < 1000 {
			assert.Greater(t, v, lastA)
			lastA = v
		} else {
			assert.Greater(t, v, lastB)
			lastB = v
		}
	}
}

func TestQueue_TryPop(t *testing.T) {
	q := New[string](4, Block, nil)

	_, ok := q.TryPop()
	assert.False(t, ok)

	q.Push("a")
	item, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "a", item)
}
