package queue

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	badgerstore "github.com/kgantsov/rq/badger-store"
)

func openBadgerStore(t *testing.T) *badgerstore.Store {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "queue")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := badgerstore.Open(tmpDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestProduceConsume(t *testing.T) {
	store := openBadgerStore(t)

	producer, err := New("emails", store, Options{LockExpiry: time.Minute})
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := New("emails", store, Options{LockExpiry: time.Minute})
	require.NoError(t, err)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 1; i <= 3; i++ {
		id, err := producer.Enqueue(ctx, map[string]string{"n": strconv.Itoa(i)})
		require.NoError(t, err)
		assert.Equal(t, int64(i), id)
	}

	completed := make(chan *Task, 3)
	consumer.OnComplete(func(task *Task) { completed <- task })

	done := make(chan error, 1)
	go func() {
		done <- consumer.Dequeue(ctx, func(task *Task) { task.Done(nil) })
	}()

	// oldest first, one at a time
	var ids []int64
	for i := 0; i < 3; i++ {
		select {
		case task := <-completed:
			ids = append(ids, task.ID)
			assert.Equal(t, map[string]string{"n": strconv.FormatInt(task.ID, 10)}, task.Data)
		case <-time.After(5 * time.Second):
			t.Fatal("consumer did not complete every task")
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)

	// completed ids stay on the working list and their locks are gone
	stats, err := producer.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Queue: "emails", Waiting: 0, Working: 3}, stats)

	for i := 1; i <= 3; i++ {
		won, err := store.SetLock(ctx, lockKey("emails", int64(i)), "probe", time.Minute, false)
		require.NoError(t, err)
		assert.True(t, won)
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestOneConsumerReceivesTask(t *testing.T) {
	store := openBadgerStore(t)

	c1, err := New("emails", store, Options{LockExpiry: time.Minute})
	require.NoError(t, err)
	defer c1.Close()

	c2, err := New("emails", store, Options{LockExpiry: time.Minute})
	require.NoError(t, err)
	defer c2.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan int64, 2)
	handler := func(task *Task) {
		handled <- task.ID
		task.Done(nil)
	}

	done := make(chan error, 2)
	go func() { done <- c1.Dequeue(ctx, handler) }()
	go func() { done <- c2.Dequeue(ctx, handler) }()

	// both consumers are parked on the blocking claim
	time.Sleep(100 * time.Millisecond)

	_, err = c1.Enqueue(ctx, map[string]string{"foo": "bar"})
	require.NoError(t, err)

	select {
	case id := <-handled:
		assert.Equal(t, int64(1), id)
	case <-time.After(5 * time.Second):
		t.Fatal("no consumer claimed the task")
	}

	// the other consumer's blocking wait stays pending
	select {
	case id := <-handled:
		t.Fatalf("task %d was claimed twice", id)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	<-done
	<-done
}

func TestFailedTask(t *testing.T) {
	store := openBadgerStore(t)

	q, err := New("emails", store, Options{LockExpiry: time.Minute})
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = q.Enqueue(ctx, map[string]string{"to": "bob@example.com"})
	require.NoError(t, err)

	completed := make(chan *Task, 1)
	q.OnComplete(func(task *Task) { completed <- task })

	failed := make(chan error, 1)
	q.OnFail(func(err error, task *Task) { failed <- err })

	done := make(chan error, 1)
	go func() {
		done <- q.Dequeue(ctx, func(task *Task) {
			task.Done(errors.New("smtp: connection refused"))
		})
	}()

	select {
	case err := <-failed:
		assert.ErrorContains(t, err, "connection refused")
	case <-time.After(5 * time.Second):
		t.Fatal("expected a failed notification")
	}

	select {
	case <-completed:
		t.Fatal("no completed notification may fire for a failed task")
	default:
	}

	// the lock is released for failed tasks all the same
	won, err := store.SetLock(ctx, lockKey("emails", 1), "probe", time.Minute, false)
	require.NoError(t, err)
	assert.True(t, won)

	cancel()
	<-done
}
