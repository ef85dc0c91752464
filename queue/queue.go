package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kgantsov/rq/lock"
	redisstore "github.com/kgantsov/rq/redis-store"
	"github.com/kgantsov/rq/storage"
)

const (
	// DefaultLockExpiry is the task lock TTL when Options leaves it unset.
	DefaultLockExpiry = 30 * time.Second

	// claimBackoff is the pause after a failed claim before the next blocking
	// wait is armed, so a failing store is not hot-looped.
	claimBackoff = 250 * time.Millisecond
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrEmptyData       = errors.New("task data is empty")
)

// Handler processes one claimed task. It must call task.Done exactly once,
// either before returning or later from another goroutine.
type Handler func(task *Task)

// Options configures a Queue. Host, Port, Password, DB and Retries describe
// the Redis connection Open dials; New ignores them and uses the store it is
// given.
type Options struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Retries is the store's command retry budget for transient failures.
	Retries int

	// LockExpiry is the task lock TTL. Locks are renewed in the background at
	// half this interval while the task is being worked.
	LockExpiry time.Duration
}

// Queue is one process's handle on a named queue. Producers call Enqueue;
// consumers call Dequeue once to install a standing handler. Every Queue
// carries its own random lock token, so locks taken by different instances
// never release each other.
type Queue struct {
	name  string
	store storage.Store
	locks *lock.Manager
	token string
	obs   observers

	lockExpiry time.Duration
	ownsStore  bool
}

// New returns a Queue named name over the given store.
func New(name string, store storage.Store, opts Options) (*Queue, error) {
	if name == "" {
		return nil, errors.New("queue name is empty")
	}

	expiry := opts.LockExpiry
	if expiry <= 0 {
		expiry = DefaultLockExpiry
	}

	token := uuid.New().String()

	q := &Queue{
		name:       name,
		store:      store,
		token:      token,
		locks:      lock.New(store, token, expiry),
		lockExpiry: expiry,
	}
	q.locks.SetErrorFunc(q.emitError)

	log.Debug().Msgf("Created queue %s with lock expiry %s", name, expiry)

	return q, nil
}

// Open returns a Queue over a Redis store dialed from opts. The store is
// owned by the Queue and closed by Close.
func Open(name string, opts Options) (*Queue, error) {
	store := redisstore.New(redisstore.Options{
		Host:     opts.Host,
		Port:     opts.Port,
		Password: opts.Password,
		DB:       opts.DB,
		Retries:  opts.Retries,
	})

	q, err := New(name, store, opts)
	if err != nil {
		store.Close()
		return nil, err
	}

	q.ownsStore = true
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue allocates an id for data, then writes the record and makes the id
// claimable in one atomic batch. It returns the id. Failures are returned and
// also raised as error notifications.
func (q *Queue) Enqueue(ctx context.Context, data map[string]string) (int64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyData
	}

	id, err := q.store.NextID(ctx, idKey(q.name))
	if err != nil {
		err = fmt.Errorf("enqueue on %s: %w", q.name, err)
		q.emitError(err)
		return 0, err
	}

	err = q.store.Publish(
		ctx, waitingKey(q.name), recordKey(q.name, id), strconv.FormatInt(id, 10), data,
	)
	if err != nil {
		err = fmt.Errorf("enqueue task %d on %s: %w", id, q.name, err)
		q.emitError(err)
		return 0, err
	}

	log.Debug().Msgf("Enqueued task %d on %s", id, q.name)

	return id, nil
}

// Dequeue installs handler as the queue's consumer and blocks, claiming
// tasks one at a time: blocking move waiting → working, task lock, record
// read, dispatch. A claim that fails before dispatch raises an error
// notification instead of invoking the handler, then the loop backs off
// briefly and re-arms. Dequeue returns when ctx is done.
func (q *Queue) Dequeue(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		task, err := q.claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			q.emitError(err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(claimBackoff):
			}
			continue
		}

		handler(task)
	}
}

// claim runs one pass of the consumer pipeline and builds the Task.
func (q *Queue) claim(ctx context.Context) (*Task, error) {
	raw, err := q.store.MoveBlocking(ctx, waitingKey(q.name), workingKey(q.name))
	if err != nil {
		return nil, fmt.Errorf("claim on %s: %w", q.name, err)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("claim on %s: bad task id %q: %w", q.name, raw, err)
	}

	granted, err := q.locks.Acquire(ctx, lockKey(q.name, id), false)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	if !granted {
		return nil, fmt.Errorf("task %d: %w", id, ErrLockNotAcquired)
	}

	data, err := q.store.ReadRecord(ctx, recordKey(q.name, id))
	if err != nil {
		// The claim dies before dispatch; drop the lock so the task is not
		// kept locked and renewed with nobody working it.
		_, _ = q.locks.Release(ctx, lockKey(q.name, id))
		return nil, fmt.Errorf("task %d: %w", id, err)
	}

	log.Debug().Msgf("Claimed task %d on %s", id, q.name)

	return &Task{ID: id, Data: data, q: q}, nil
}

// Stats is a point-in-time view of a queue's list depths.
type Stats struct {
	Queue   string
	Waiting int64
	Working int64
}

// Stats reports the waiting and working list depths.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	waiting, err := q.store.ListLen(ctx, waitingKey(q.name))
	if err != nil {
		return Stats{}, fmt.Errorf("stats on %s: %w", q.name, err)
	}

	working, err := q.store.ListLen(ctx, workingKey(q.name))
	if err != nil {
		return Stats{}, fmt.Errorf("stats on %s: %w", q.name, err)
	}

	return Stats{Queue: q.name, Waiting: waiting, Working: working}, nil
}

// TaskData returns the record of task id, for inspection and audit. Records
// are retained after completion.
func (q *Queue) TaskData(ctx context.Context, id int64) (map[string]string, error) {
	return q.store.ReadRecord(ctx, recordKey(q.name, id))
}

// Ping checks the underlying store.
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

// Close stops lock renewals and closes the store when this Queue owns it.
// Held locks are left to expire.
func (q *Queue) Close() error {
	q.locks.Stop()

	if q.ownsStore {
		return q.store.Close()
	}
	return nil
}
