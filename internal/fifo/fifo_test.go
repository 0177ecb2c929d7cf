package fifo

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityInvariant(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)
	defer q.Close()

	assert.Equal(t, 4, q.Capacity())

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Push(i, 0))
		assert.LessOrEqual(t, q.Len(), 4)
	}

	// Full queue, zero timeout: immediate failure.
	assert.Equal(t, ErrFull, q.Push(99, 0))
	assert.Equal(t, 4, q.Len())

	// Bounded wait on a full queue also fails.
	assert.Equal(t, ErrFull, q.Push(99, 10*time.Millisecond))
}

func TestFIFOOrder(t *testing.T) {
	q, err := New(8)
	require.NoError(t, err)
	defer q.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(i, 0))
	}
	for i := 0; i < 5; i++ {
		item, err := q.Pop(0)
		require.NoError(t, err)
		assert.Equal(t, i, item)
	}

	_, err = q.Pop(0)
	assert.Equal(t, ErrEmpty, err)
}

func TestPopTimeout(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)
	defer q.Close()

	start := time.Now()
	_, err = q.Pop(20 * time.Millisecond)
	assert.Equal(t, ErrEmpty, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCloseUnblocksAllWaiters(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)

	const waiters = 5
	errs := make(chan error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Pop(-1)
			errs <- err
		}()
	}

	// Give the waiters a chance to block.
	time.Sleep(10 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters still blocked after Close")
	}

	for i := 0; i < waiters; i++ {
		assert.Equal(t, ErrClosed, <-errs)
	}
}

func TestPushPopAfterClose(t *testing.T) {
	q, err := New(2)
	require.NoError(t, err)
	require.NoError(t, q.Push(1, 0))
	q.Close()
	q.Close() // idempotent

	assert.Equal(t, ErrClosed, q.Push(2, 0))
	_, err = q.Pop(0)
	assert.Equal(t, ErrClosed, err)
}

func TestBlockedPushUnblocksOnPop(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Push("a", 0))

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push("b", -1)
	}()

	time.Sleep(10 * time.Millisecond)
	item, err := q.Pop(0)
	require.NoError(t, err)
	assert.Equal(t, "a", item)

	select {
	case err := <-pushed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push still blocked after pop freed a slot")
	}
}

func TestPopNilItem(t *testing.T) {
	q, err := New(2)
	require.NoError(t, err)
	defer q.Close()

	// A nil that slipped into the queue is surfaced as "no item", not
	// returned to the caller.
	require.NoError(t, q.Push(nil, 0))
	_, err = q.Pop(0)
	assert.Equal(t, ErrEmpty, err)
}

func TestInvalidCapacity(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
	_, err = New(-3)
	assert.Error(t, err)
}
