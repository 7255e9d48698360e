package eventbus

import (
	"container/heap"
	"context"
	"sync"
)

// pqueue is a container/heap.Interface over *Event, ordered strictly by
// (priority ascending, created_at ascending) per spec §3.3/§4.6.
type pqueue []*Event

func (q pqueue) Len() int { return len(q) }
func (q pqueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	return q[i].CreatedAt.Before(q[j].CreatedAt)
}
func (q pqueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pqueue) Push(x any)   { *q = append(*q, x.(*Event)) }
func (q *pqueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Bus is a single-consumer priority queue of events. Put is safe to call
// from any goroutine; Get blocks until an event is available or ctx is
// cancelled.
type Bus struct {
	mu     sync.Mutex
	queue  pqueue
	notify chan struct{}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

// Put enqueues an event and wakes a blocked Get.
func (b *Bus) Put(e *Event) {
	b.mu.Lock()
	heap.Push(&b.queue, e)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// PutThreadsafe is an alias for Put — Go has no separate async/thread
// distinction, but the name is kept so callers can mirror the reference
// adapters' call sites (spec §4.6).
func (b *Bus) PutThreadsafe(e *Event) { b.Put(e) }

// Get blocks until the highest-priority event is available, or ctx is
// done.
func (b *Bus) Get(ctx context.Context) (*Event, error) {
	for {
		b.mu.Lock()
		if b.queue.Len() > 0 {
			e := heap.Pop(&b.queue).(*Event)
			b.mu.Unlock()
			return e, nil
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryGet returns the highest-priority event without blocking, or
// (nil, false) if the bus is empty.
func (b *Bus) TryGet() (*Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&b.queue).(*Event), true
}

// TaskDone is a no-op placeholder kept for symmetry with the reference
// put/get/task_done protocol — Go's GC needs no explicit completion
// signal, but callers (Event Processor) still call it after Get so the
// call sites read the same either way.
func (b *Bus) TaskDone() {}

// Empty reports whether the bus currently holds no events.
func (b *Bus) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len() == 0
}

// Qsize returns the number of queued events.
func (b *Bus) Qsize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// Peek returns the highest-priority event without removing it, or
// (nil, false) if empty.
func (b *Bus) Peek() (*Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue.Len() == 0 {
		return nil, false
	}
	return b.queue[0], true
}
