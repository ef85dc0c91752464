package queue

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// observers holds the per-queue subscriber lists. Registration and emission
// may happen from any goroutine; emission invokes a snapshot of the list, so
// a subscriber may register more callbacks from inside one.
type observers struct {
	mu          sync.RWMutex
	errorFns    []func(err error)
	completeFns []func(task *Task)
	failFns     []func(err error, task *Task)
}

// OnError registers fn for error notifications: claim failures, renewal
// failures and release failures all land here.
func (q *Queue) OnError(fn func(err error)) {
	q.obs.mu.Lock()
	defer q.obs.mu.Unlock()

	q.obs.errorFns = append(q.obs.errorFns, fn)
}

// OnComplete registers fn for successful completions.
func (q *Queue) OnComplete(fn func(task *Task)) {
	q.obs.mu.Lock()
	defer q.obs.mu.Unlock()

	q.obs.completeFns = append(q.obs.completeFns, fn)
}

// OnFail registers fn for handler-reported failures.
func (q *Queue) OnFail(fn func(err error, task *Task)) {
	q.obs.mu.Lock()
	defer q.obs.mu.Unlock()

	q.obs.failFns = append(q.obs.failFns, fn)
}

func (q *Queue) emitError(err error) {
	q.obs.mu.RLock()
	fns := make([]func(error), len(q.obs.errorFns))
	copy(fns, q.obs.errorFns)
	q.obs.mu.RUnlock()

	log.Warn().Err(err).Msgf("Queue %s error", q.name)

	for _, fn := range fns {
		fn(err)
	}
}

func (q *Queue) emitComplete(task *Task) {
	q.obs.mu.RLock()
	fns := make([]func(*Task), len(q.obs.completeFns))
	copy(fns, q.obs.completeFns)
	q.obs.mu.RUnlock()

	log.Debug().Msgf("Task %d on %s completed", task.ID, q.name)

	for _, fn := range fns {
		fn(task)
	}
}

func (q *Queue) emitFail(err error, task *Task) {
	q.obs.mu.RLock()
	fns := make([]func(error, *Task), len(q.obs.failFns))
	copy(fns, q.obs.failFns)
	q.obs.mu.RUnlock()

	log.Debug().Err(err).Msgf("Task %d on %s failed", task.ID, q.name)

	for _, fn := range fns {
		fn(err, task)
	}
}
