// Package pqueue implements the outbound strict-priority queue (spec §4.4):
// five priority levels, FIFO within a level, with backpressure that only
// ever rejects the two lowest levels.
package pqueue

import (
	"errors"
	"sync"
)

// Priority levels, lowest numeric value served first (spec §4.4).
type Priority int

const (
	PriorityControl Priority = iota // ACK/PING/PONG
	PriorityVoice
	PriorityText
	PriorityFileChunk
	PriorityFileMetadata // includes discovery traffic
	numPriorities
)

// ErrOverloaded is returned when an enqueue at a low priority is rejected
// because the queue is at or above its high-watermark (spec §4.4).
// Control/voice/text are never rejected for backpressure alone.
var ErrOverloaded = errors.New("pqueue: overloaded")

// DefaultHighWatermark is the queue depth (spec §5: outbound queue ≤10,000
// messages) above which the two lowest priorities start being rejected.
const DefaultHighWatermark = 10_000

// Item is one queued outbound unit of work; Payload is opaque to the queue.
type Item struct {
	Priority Priority
	Payload  interface{}
}

// Queue is a multi-producer/multi-consumer strict-priority FIFO.
type Queue struct {
	mu            sync.Mutex
	notEmpty      *sync.Cond
	lanes         [numPriorities][]Item
	highWatermark int
	closed        bool
	size          int
}

func New(highWatermark int) *Queue {
	if highWatermark <= 0 {
		highWatermark = DefaultHighWatermark
	}
	q := &Queue{highWatermark: highWatermark}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// lowPriorityRejectable reports whether p is one of the two lowest
// priorities eligible for backpressure rejection.
func lowPriorityRejectable(p Priority) bool {
	return p == PriorityFileChunk || p == PriorityFileMetadata
}

// Enqueue adds item to its priority lane. Returns ErrOverloaded if the
// queue is at capacity and item's priority is one of the two lowest.
func (q *Queue) Enqueue(item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.New("pqueue: closed")
	}
	if q.size >= q.highWatermark && lowPriorityRejectable(item.Priority) {
		return ErrOverloaded
	}

	q.lanes[item.Priority] = append(q.lanes[item.Priority], item)
	q.size++
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until an item is available or the queue is closed, then
// returns the highest-priority, oldest item. ok is false only once the
// queue is closed and drained.
func (q *Queue) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.size == 0 {
		return Item{}, false
	}
	for p := Priority(0); p < numPriorities; p++ {
		lane := q.lanes[p]
		if len(lane) == 0 {
			continue
		}
		item := lane[0]
		q.lanes[p] = lane[1:]
		q.size--
		return item, true
	}
	// Unreachable: size > 0 implies some lane is non-empty.
	return Item{}, false
}

// TryDequeue is the non-blocking variant, used by pollers that interleave
// queue draining with other work.
func (q *Queue) TryDequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return Item{}, false
	}
	for p := Priority(0); p < numPriorities; p++ {
		lane := q.lanes[p]
		if len(lane) == 0 {
			continue
		}
		item := lane[0]
		q.lanes[p] = lane[1:]
		q.size--
		return item, true
	}
	return Item{}, false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Close unblocks any pending Dequeue callers once the queue is drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}
