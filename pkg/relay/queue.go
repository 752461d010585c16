package relay

import (
	"context"
	"sync"
)

// DefaultOutboundQueueSize bounds the client-to-remote direction.
const DefaultOutboundQueueSize = 5

// OutboundQueue is a bounded FIFO of client frames. Push blocks while the queue
// is full, which in turn stops the client reader and pushes back on the socket.
type OutboundQueue struct {
	ch chan OutboundItem
}

func NewOutboundQueue(size int) *OutboundQueue {
	if size <= 0 {
		size = DefaultOutboundQueueSize
	}
	return &OutboundQueue{ch: make(chan OutboundItem, size)}
}

func (q *OutboundQueue) Push(ctx context.Context, item OutboundItem) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (q *OutboundQueue) Pop(ctx context.Context) (OutboundItem, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return OutboundItem{}, context.Cause(ctx)
	}
}

// InboundQueue is an unbounded FIFO of remote audio payloads. Push never
// blocks.
type InboundQueue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

func NewInboundQueue() *InboundQueue {
	return &InboundQueue{notify: make(chan struct{}, 1)}
}

func (q *InboundQueue) Push(data []byte) {
	q.mu.Lock()
	q.items = append(q.items, data)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest payload without waiting.
func (q *InboundQueue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	data := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return data, true
}

// Ready fires after a Push. A receive does not guarantee a payload is still
// queued; callers follow it with TryPop.
func (q *InboundQueue) Ready() <-chan struct{} { return q.notify }

func (q *InboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
