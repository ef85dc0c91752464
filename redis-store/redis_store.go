package redisstore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kgantsov/rq/storage"
)

// blockTimeout bounds a single BLMOVE wait so context cancellation is
// observed between waits. Callers of MoveBlocking still see an indefinite
// block.
const blockTimeout = time.Second

// Options configures the connection to Redis. Retries is the command retry
// budget for transient failures; zero keeps the client default.
type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	Retries  int
}

// Store is a Redis-backed queue store. It holds two clients: one for regular
// commands and one reserved for the blocking claim, so a parked wait never
// starves command traffic.
type Store struct {
	client   *redis.Client
	blocking *redis.Client
}

var _ storage.Store = (*Store)(nil)

// New returns a Store connected to the Redis described by opts.
func New(opts Options) *Store {
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:       addr,
			Password:   opts.Password,
			DB:         opts.DB,
			MaxRetries: opts.Retries,
		}),
		blocking: redis.NewClient(&redis.Options{
			Addr:       addr,
			Password:   opts.Password,
			DB:         opts.DB,
			MaxRetries: opts.Retries,
		}),
	}
}

// NextID atomically increments the counter at key.
func (s *Store) NextID(ctx context.Context, key string) (int64, error) {
	id, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}

	return id, nil
}

// Publish writes the record hash and pushes id onto the waiting list in one
// MULTI batch.
func (s *Store) Publish(ctx context.Context, waitingKey, recordKey, id string, data map[string]string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recordKey, data)
	pipe.LPush(ctx, waitingKey, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", recordKey, err)
	}

	return nil
}

// MoveBlocking pops the oldest element of src and pushes it onto dst,
// blocking until one arrives or ctx is done. The wait runs on the dedicated
// blocking client.
func (s *Store) MoveBlocking(ctx context.Context, src, dst string) (string, error) {
	for {
		id, err := s.blocking.BLMove(ctx, src, dst, "RIGHT", "LEFT", blockTimeout).Result()
		if err == nil {
			return id, nil
		}
		if err != redis.Nil {
			return "", fmt.Errorf("blmove %s %s: %w", src, dst, err)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

// SetLock writes token at key with ttl: set-if-absent when taking the lock,
// unconditional overwrite when renewing it.
func (s *Store) SetLock(ctx context.Context, key, token string, ttl time.Duration, renew bool) (bool, error) {
	if renew {
		if err := s.client.Set(ctx, key, token, ttl).Err(); err != nil {
			return false, fmt.Errorf("set %s: %w", key, err)
		}
		return true, nil
	}

	won, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}

	return won, nil
}

// ReleaseLock runs the compare-and-delete script against key.
func (s *Store) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, token).Int()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}

	return n == 1, nil
}

// ReadRecord reads the full record hash. Redis returns an empty map for a
// missing key; that is normalized to storage.ErrNotFound.
func (s *Store) ReadRecord(ctx context.Context, recordKey string) (map[string]string, error) {
	data, err := s.client.HGetAll(ctx, recordKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", recordKey, err)
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return data, nil
}

// ListLen returns the length of the list at key.
func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}

	return n, nil
}

// Ping checks both connections.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return err
	}

	return s.blocking.Ping(ctx).Err()
}

// Close closes both clients.
func (s *Store) Close() error {
	err := s.client.Close()
	if berr := s.blocking.Close(); err == nil {
		err = berr
	}

	return err
}
