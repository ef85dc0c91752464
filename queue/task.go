package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrTaskCompleted = errors.New("task already completed")
)

// Task is the unit of work a handler receives: the store-assigned id and the
// record the producer enqueued.
type Task struct {
	ID   int64
	Data map[string]string

	q         *Queue
	completed atomic.Bool
}

// Done completes the task exactly once: the task lock is released first, then
// a completed notification fires, or a failed one carrying taskErr when it is
// not nil. A second call does nothing and returns ErrTaskCompleted.
//
// A release failure is raised as an error notification and returned; the
// completed or failed notification still fires, since the release attempt was
// issued.
func (t *Task) Done(taskErr error) error {
	if !t.completed.CompareAndSwap(false, true) {
		return ErrTaskCompleted
	}

	// Completion may happen long after the claim, so it runs on its own
	// context.
	_, err := t.q.locks.Release(context.Background(), lockKey(t.q.name, t.ID))
	if err != nil {
		err = fmt.Errorf("task %d: %w", t.ID, err)
		t.q.emitError(err)
	}

	if taskErr != nil {
		t.q.emitFail(taskErr, t)
	} else {
		t.q.emitComplete(t)
	}

	return err
}
