package queue

import (
	"context"
	"sync"
)

// Opener builds the Queue for a name the Registry sees for the first time.
type Opener func(name string) (*Queue, error)

// Registry caches one Queue per logical queue name. It is the multi-queue
// broker surface the HTTP service fronts.
type Registry struct {
	mu     sync.Mutex
	open   Opener
	queues map[string]*Queue
}

// NewRegistry returns a Registry that builds queues with open.
func NewRegistry(open Opener) *Registry {
	return &Registry{
		open:   open,
		queues: make(map[string]*Queue),
	}
}

// Get returns the Queue for name, creating it on first use.
func (r *Registry) Get(name string) (*Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q, nil
	}

	q, err := r.open(name)
	if err != nil {
		return nil, err
	}

	r.queues[name] = q
	return q, nil
}

// Enqueue enqueues data on the named queue.
func (r *Registry) Enqueue(ctx context.Context, name string, data map[string]string) (int64, error) {
	q, err := r.Get(name)
	if err != nil {
		return 0, err
	}

	return q.Enqueue(ctx, data)
}

// Stats reports the named queue's list depths.
func (r *Registry) Stats(ctx context.Context, name string) (Stats, error) {
	q, err := r.Get(name)
	if err != nil {
		return Stats{}, err
	}

	return q.Stats(ctx)
}

// TaskData returns the record of task id on the named queue.
func (r *Registry) TaskData(ctx context.Context, name string, id int64) (map[string]string, error) {
	q, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	return q.TaskData(ctx, id)
}

// Close closes every cached Queue.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for name, q := range r.queues {
		if cerr := q.Close(); err == nil {
			err = cerr
		}
		delete(r.queues, name)
	}

	return err
}
