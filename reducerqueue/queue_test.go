package reducerqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddAppliesReducer(t *testing.T) {
	q := New(0)
	defer q.Stop()

	fut := q.Add(func(_ context.Context, s int) (int, error) {
		return s + 1, nil
	}, 0)

	v, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, v)
	require.Equal(t, 1, q.Snapshot())
}

func TestFailedReducerLeavesStateUnchanged(t *testing.T) {
	q := New(5)
	defer q.Stop()

	errBoom := errFor(t)
	fut := q.Add(func(_ context.Context, s int) (int, error) {
		return 0, errBoom
	}, 0)

	_, err := fut.Wait(context.Background())
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 5, q.Snapshot())

	fut2 := q.Add(func(_ context.Context, s int) (int, error) {
		return s + 1, nil
	}, 0)
	v, err := fut2.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, v)
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	q := New(0)
	defer q.Stop()

	// Block the pump on a long-running low priority reducer so both higher
	// priority jobs are queued before either starts.
	release := make(chan struct{})
	started := make(chan struct{})
	q.Add(func(_ context.Context, s int) (int, error) {
		close(started)
		<-release
		return s, nil
	}, -1)
	<-started

	var mu sync.Mutex
	var order []int

	q.Add(func(_ context.Context, s int) (int, error) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		return s, nil
	}, 1)
	q.Add(func(_ context.Context, s int) (int, error) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		return s, nil
	}, 2)

	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{2, 1}, order)
}

func TestClearDiscardsPending(t *testing.T) {
	q := New(0)
	defer q.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	q.Add(func(_ context.Context, s int) (int, error) {
		close(started)
		<-release
		return s, nil
	}, 0)
	<-started

	fut := q.Add(func(_ context.Context, s int) (int, error) {
		return s + 100, nil
	}, 0)
	q.Clear()
	close(release)

	_, err := fut.Wait(context.Background())
	require.ErrorIs(t, err, ErrCleared)
}

func TestSubscribersNotifiedOnlyOnSuccess(t *testing.T) {
	q := New(0)
	defer q.Stop()

	var notified []int
	var mu sync.Mutex
	unsub := q.Subscribe(func(v int) {
		mu.Lock()
		notified = append(notified, v)
		mu.Unlock()
	})
	defer unsub()

	errBoom := errFor(t)
	q.Add(func(_ context.Context, s int) (int, error) { return 0, errBoom }, 0)
	fut := q.Add(func(_ context.Context, s int) (int, error) { return s + 1, nil }, 0)
	_, err := fut.Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1}, notified)
}

func errFor(t *testing.T) error {
	t.Helper()
	return errBoom
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
