package pqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStrictPriorityOrdering(t *testing.T) {
	q := New(100)
	require.NoError(t, q.Enqueue(Item{Priority: PriorityFileMetadata, Payload: "meta"}))
	require.NoError(t, q.Enqueue(Item{Priority: PriorityText, Payload: "text"}))
	require.NoError(t, q.Enqueue(Item{Priority: PriorityControl, Payload: "ctrl"}))
	require.NoError(t, q.Enqueue(Item{Priority: PriorityVoice, Payload: "voice"}))
	require.NoError(t, q.Enqueue(Item{Priority: PriorityFileChunk, Payload: "chunk"}))

	order := []string{}
	for i := 0; i < 5; i++ {
		item, ok := q.Dequeue()
		require.True(t, ok)
		order = append(order, item.Payload.(string))
	}
	require.Equal(t, []string{"ctrl", "voice", "text", "chunk", "meta"}, order)
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New(100)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Item{Priority: PriorityText, Payload: i}))
	}
	for i := 0; i < 5; i++ {
		item, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, i, item.Payload)
	}
}

func TestBackpressureRejectsOnlyTwoLowestPriorities(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue(Item{Priority: PriorityControl}))
	require.NoError(t, q.Enqueue(Item{Priority: PriorityControl}))
	// queue now at watermark (size=2)
	require.ErrorIs(t, q.Enqueue(Item{Priority: PriorityFileChunk}), ErrOverloaded)
	require.ErrorIs(t, q.Enqueue(Item{Priority: PriorityFileMetadata}), ErrOverloaded)
	// control/voice/text are never rejected for backpressure alone
	require.NoError(t, q.Enqueue(Item{Priority: PriorityControl}))
	require.NoError(t, q.Enqueue(Item{Priority: PriorityVoice}))
	require.NoError(t, q.Enqueue(Item{Priority: PriorityText}))
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(10)
	done := make(chan Item, 1)
	go func() {
		item, ok := q.Dequeue()
		if ok {
			done <- item
		}
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(Item{Priority: PriorityControl, Payload: "x"}))

	select {
	case item := <-done:
		require.Equal(t, "x", item.Payload)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock")
	}
}

func TestCloseUnblocksDequeue(t *testing.T) {
	q := New(10)
	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		_, ok = q.Dequeue()
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()
	require.False(t, ok)
}

func TestTryDequeueNonBlocking(t *testing.T) {
	q := New(10)
	_, ok := q.TryDequeue()
	require.False(t, ok)
	require.NoError(t, q.Enqueue(Item{Priority: PriorityControl, Payload: 1}))
	item, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, 1, item.Payload)
}

func TestLenTracksSize(t *testing.T) {
	q := New(10)
	require.Equal(t, 0, q.Len())
	require.NoError(t, q.Enqueue(Item{Priority: PriorityText}))
	require.Equal(t, 1, q.Len())
	_, _ = q.Dequeue()
	require.Equal(t, 0, q.Len())
}
