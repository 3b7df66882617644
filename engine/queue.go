package engine

import (
	"context"
	"errors"
	"time"

	"github.com/franksops/gorelocate/provider"
)

// ErrQueueFull is returned by Stop when there is no reserved room left for
// sentinels, which only happens when Stop is called more than once.
var ErrQueueFull = errors.New("queue: no room for stop sentinels")

// Queue is the bounded hand-off between the enumerator and the workers.
//
// Ordinary items need a slot, so at most capacity of them are ever
// buffered. The item channel has extra room for one sentinel per worker,
// which lets Stop push sentinels without blocking even when every slot is
// taken and no worker is left to drain them.
type Queue struct {
	slots chan struct{}
	items chan WorkItem
}

// NewQueue creates a queue buffering up to capacity objects, with headroom
// for the given number of stop sentinels.
func NewQueue(capacity, sentinels int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		slots: make(chan struct{}, capacity),
		items: make(chan WorkItem, capacity+sentinels),
	}
}

// Put enqueues obj. It returns false with a nil error when no slot became
// free within timeout, which is the backpressure signal; it returns the
// context error once ctx is done.
func (q *Queue) Put(ctx context.Context, obj provider.Object, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, nil
	case q.slots <- struct{}{}:
	}

	// Holding a slot guarantees room in items.
	q.items <- WorkItem{Object: obj}
	return true, nil
}

// Get blocks until an item is available or ctx is done.
func (q *Queue) Get(ctx context.Context) (WorkItem, error) {
	select {
	case <-ctx.Done():
		return WorkItem{}, ctx.Err()
	case item := <-q.items:
		if !item.IsStop() {
			<-q.slots
		}
		return item, nil
	}
}

// Stop pushes n stop sentinels. It never blocks.
func (q *Queue) Stop(n int) error {
	for range n {
		select {
		case q.items <- StopItem():
		default:
			return ErrQueueFull
		}
	}
	return nil
}

// Len returns the number of buffered items, sentinels included.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the number of objects the queue buffers before Put blocks.
func (q *Queue) Cap() int {
	return cap(q.slots)
}
