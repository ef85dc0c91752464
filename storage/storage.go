package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store is the interface queue backends must implement. All cross-process
// coordination between producers and consumers goes through these primitives.
type Store interface {
	// NextID atomically increments the counter at key and returns the new value.
	NextID(ctx context.Context, key string) (int64, error)

	// Publish writes the task record at recordKey and pushes id onto the
	// waiting list in a single atomic batch. Once id is claimable from the
	// waiting list the record is readable.
	Publish(ctx context.Context, waitingKey, recordKey, id string, data map[string]string) error

	// MoveBlocking atomically pops the oldest element of src, pushes it onto
	// dst and returns it. It blocks until an element arrives or ctx is done.
	MoveBlocking(ctx context.Context, src, dst string) (string, error)

	// SetLock writes token at key with the given ttl. When renew is false the
	// write succeeds only if the key does not exist and the returned bool
	// reports whether it won. When renew is true the write overwrites
	// unconditionally, refreshing the ttl.
	SetLock(ctx context.Context, key, token string, ttl time.Duration, renew bool) (bool, error)

	// ReleaseLock deletes key only if it still holds token and returns whether
	// a delete happened. The comparison and the delete are atomic on the store.
	ReleaseLock(ctx context.Context, key, token string) (bool, error)

	// ReadRecord returns the record stored at recordKey. It returns
	// ErrNotFound when no record exists.
	ReadRecord(ctx context.Context, recordKey string) (map[string]string, error)

	// ListLen returns the length of the list at key.
	ListLen(ctx context.Context, key string) (int64, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's connections or files.
	Close() error
}
