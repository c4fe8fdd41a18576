// Package reducerqueue implements a priority-FIFO single-writer mailbox
// over a state cell of type T. At most one reducer runs at a time; among
// pending reducers, higher priority runs first, equal priority is FIFO.
package reducerqueue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/google/uuid"
)

// Reducer transforms the current state into a new state. A failing reducer
// leaves the state cell unchanged.
type Reducer[T any] func(ctx context.Context, state T) (T, error)

// Future resolves to the state produced by the reducer it was returned from.
type Future[T any] struct {
	id   uuid.UUID
	done chan struct{}
	val  T
	err  error
}

// ID returns the opaque handle identity for this future.
func (f *Future[T]) ID() uuid.UUID { return f.id }

// Wait blocks until the reducer has run, returning its result or error.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type job[T any] struct {
	reducer  Reducer[T]
	priority int
	seq      uint64
	future   *Future[T]
}

// jobHeap orders by priority descending, then seq ascending (FIFO within a
// priority level).
type jobHeap[T any] []*job[T]

func (h jobHeap[T]) Len() int { return len(h) }
func (h jobHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap[T]) Push(x any)        { *h = append(*h, x.(*job[T])) }
func (h *jobHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a ReducerQueue over a state cell of type T.
type Queue[T any] struct {
	mu          sync.Mutex
	cond        *sync.Cond
	pending     jobHeap[T]
	state       T
	nextSeq     uint64
	stopped     bool
	subscribers map[uuid.UUID]func(T)
}

// New creates a Queue seeded with the given initial state and starts its
// pump goroutine.
func New[T any](initial T) *Queue[T] {
	q := &Queue[T]{
		state:       initial,
		subscribers: make(map[uuid.UUID]func(T)),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

// Add enqueues a reducer at the given priority and returns a Future that
// resolves to the post-reduction state. Higher numerical priority runs
// before lower; equal priority is FIFO.
func (q *Queue[T]) Add(reducer Reducer[T], priority int) *Future[T] {
	fut := &Future[T]{id: uuid.New(), done: make(chan struct{})}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		fut.err = ErrStopped
		close(fut.done)
		return fut
	}
	seq := q.nextSeq
	q.nextSeq++
	heap.Push(&q.pending, &job[T]{reducer: reducer, priority: priority, seq: seq, future: fut})
	q.mu.Unlock()
	q.cond.Signal()
	return fut
}

// Clear discards all pending (not yet started) reducers. In-flight
// reducers run to completion.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.pending {
		j.future.err = ErrCleared
		close(j.future.done)
	}
	q.pending = nil
}

// RemoveAllListeners drops every data-event subscriber.
func (q *Queue[T]) RemoveAllListeners() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscribers = make(map[uuid.UUID]func(T))
}

// Subscribe registers a callback invoked with the new state after every
// successful reduction. The returned func removes the subscription.
func (q *Queue[T]) Subscribe(fn func(T)) func() {
	id := uuid.New()
	q.mu.Lock()
	q.subscribers[id] = fn
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.subscribers, id)
		q.mu.Unlock()
	}
}

// Snapshot returns the current state without going through the queue. It
// may be stale relative to an in-flight reduction.
func (q *Queue[T]) Snapshot() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Stop clears pending work and stops the pump. Safe to call multiple times.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for _, j := range q.pending {
		j.future.err = ErrStopped
		close(j.future.done)
	}
	q.pending = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue[T]) pump() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		j := heap.Pop(&q.pending).(*job[T])
		current := q.state
		q.mu.Unlock()

		newState, err := j.reducer(context.Background(), current)

		q.mu.Lock()
		if err == nil {
			q.state = newState
			subs := make([]func(T), 0, len(q.subscribers))
			for _, fn := range q.subscribers {
				subs = append(subs, fn)
			}
			q.mu.Unlock()
			for _, fn := range subs {
				fn(newState)
			}
			j.future.val = newState
		} else {
			q.mu.Unlock()
			j.future.err = err
			j.future.val = current
		}
		close(j.future.done)
	}
}
