package reducerqueue

import "errors"

// ErrStopped is returned by futures for reducers enqueued on (or pending
// when) a stopped queue.
var ErrStopped = errors.New("reducerqueue: queue stopped")

// ErrCleared is returned by futures for reducers discarded by Clear.
var ErrCleared = errors.New("reducerqueue: cleared before running")
