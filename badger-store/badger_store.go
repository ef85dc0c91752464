package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kgantsov/rq/storage"
)

// Key namespaces inside the Badger keyspace. Plain cells (counters, records,
// locks) live under kv/, list elements under list/ ordered by a per-list
// sequence, and the sequence counters themselves under meta/.
var (
	prefixKV   = []byte("kv/")
	prefixList = []byte("list/")
	prefixMeta = []byte("meta/")
)

// Store is an embedded queue store backed by Badger. It implements the same
// contract as the Redis store for single-node deployments and tests. A Store
// is safe for concurrent use; queue instances may share one.
type Store struct {
	db *badger.DB

	mu       sync.Mutex
	notifyCh chan struct{}
}

var _ storage.Store = (*Store)(nil)

// Open opens a store rooted at dir, creating it when missing.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}

	return &Store{
		db:       db,
		notifyCh: make(chan struct{}),
	}, nil
}

// update runs fn in a read-write transaction, retrying on conflict.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
}

// waitCh returns the channel closed by the next publish.
func (s *Store) waitCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.notifyCh
}

// notify wakes every waiter blocked on the current channel.
func (s *Store) notify() {
	s.mu.Lock()
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
	s.mu.Unlock()
}

// NextID atomically increments the counter at key. The counter is stored as
// a decimal string, matching Redis INCR semantics.
func (s *Store) NextID(ctx context.Context, key string) (int64, error) {
	k := addPrefix(prefixKV, key)

	var id int64
	err := s.update(func(txn *badger.Txn) error {
		var cur int64

		item, err := txn.Get(k)
		if err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cur, err = strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		id = cur + 1
		return txn.Set(k, []byte(strconv.FormatInt(id, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}

	return id, nil
}

// Publish writes the task record and appends id to the waiting list in one
// transaction, then wakes blocked movers.
func (s *Store) Publish(ctx context.Context, waitingKey, recordKey, id string, data map[string]string) error {
	record, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", recordKey, err)
	}

	err = s.update(func(txn *badger.Txn) error {
		if err := txn.Set(addPrefix(prefixKV, recordKey), record); err != nil {
			return err
		}
		return pushList(txn, waitingKey, id)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", recordKey, err)
	}

	s.notify()
	return nil
}

// MoveBlocking pops the oldest element of src and appends it to dst in one
// transaction, blocking until an element arrives or ctx is done.
func (s *Store) MoveBlocking(ctx context.Context, src, dst string) (string, error) {
	for {
		// Grab the wait channel before looking, so a publish that lands right
		// after an empty look still wakes us.
		ch := s.waitCh()

		var id string
		var found bool

		err := s.update(func(txn *badger.Txn) error {
			found = false

			v, ok, err := popList(txn, src)
			if err != nil || !ok {
				return err
			}

			found = true
			id = v
			return pushList(txn, dst, v)
		})
		if err != nil {
			return "", fmt.Errorf("move %s %s: %w", src, dst, err)
		}
		if found {
			return id, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ch:
		}
	}
}

// SetLock writes token at key with ttl. When renew is false the write only
// wins if no live entry exists; expired entries are invisible in Badger, so
// the existence check is the liveness check. Badger TTLs have one-second
// precision.
func (s *Store) SetLock(ctx context.Context, key, token string, ttl time.Duration, renew bool) (bool, error) {
	k := addPrefix(prefixKV, key)

	var won bool
	err := s.update(func(txn *badger.Txn) error {
		won = false

		if !renew {
			_, err := txn.Get(k)
			if err == nil {
				return nil
			}
			if err != badger.ErrKeyNotFound {
				return err
			}
		}

		e := badger.NewEntry(k, []byte(token)).WithTTL(ttl)
		if err := txn.SetEntry(e); err != nil {
			return err
		}

		won = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("set lock %s: %w", key, err)
	}

	return won, nil
}

// ReleaseLock deletes key only while it still holds token.
func (s *Store) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	k := addPrefix(prefixKV, key)

	var removed bool
	err := s.update(func(txn *badger.Txn) error {
		removed = false

		item, err := txn.Get(k)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(val) != token {
			return nil
		}

		if err := txn.Delete(k); err != nil {
			return err
		}

		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}

	return removed, nil
}

// ReadRecord returns the record stored at recordKey.
func (s *Store) ReadRecord(ctx context.Context, recordKey string) (map[string]string, error) {
	var data map[string]string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(addPrefix(prefixKV, recordKey))
		if err != nil {
			return err
		}

		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		return json.Unmarshal(val, &data)
	})
	if err == badger.ErrKeyNotFound {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", recordKey, err)
	}

	return data, nil
}

// ListLen counts the elements of the list at key.
func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	var n int64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := listEntryPrefix(key)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list len %s: %w", key, err)
	}

	return n, nil
}

// Ping reports whether the store is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return badger.ErrDBClosed
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// pushList appends value at the tail of the list at key inside txn.
func pushList(txn *badger.Txn, key, value string) error {
	seq, err := nextSeq(txn, key)
	if err != nil {
		return err
	}

	return txn.Set(listEntryKey(key, seq), []byte(value))
}

// popList removes and returns the oldest element of the list at key inside
// txn. ok is false when the list is empty.
func popList(txn *badger.Txn, key string) (string, bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 1

	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := listEntryPrefix(key)
	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		return "", false, nil
	}

	item := it.Item()

	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}
	if err := txn.Delete(item.KeyCopy(nil)); err != nil {
		return "", false, err
	}

	return string(val), true, nil
}

// nextSeq bumps the sequence counter of the list at key inside txn. Sequences
// only grow, so elements iterate in insertion order.
func nextSeq(txn *badger.Txn, key string) (uint64, error) {
	metaKey := addPrefix(prefixMeta, key)

	var seq uint64
	item, err := txn.Get(metaKey)
	if err == nil {
		val, err := item.ValueCopy(nil)
		if err != nil {
			return 0, err
		}
		seq = binary.BigEndian.Uint64(val)
	} else if err != badger.ErrKeyNotFound {
		return 0, err
	}

	seq++

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := txn.Set(metaKey, buf[:]); err != nil {
		return 0, err
	}

	return seq, nil
}

func addPrefix(prefix []byte, key string) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// listEntryPrefix returns the common prefix of the elements of the list at
// key. Format: list/{key}/
func listEntryPrefix(key string) []byte {
	out := make([]byte, 0, len(prefixList)+len(key)+1)
	out = append(out, prefixList...)
	out = append(out, key...)
	return append(out, '/')
}

// listEntryKey returns the element key for the given sequence.
// Format: list/{key}/{seq, big endian}
func listEntryKey(key string, seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)

	out := make([]byte, 0, len(prefixList)+len(key)+1+8)
	out = append(out, listEntryPrefix(key)...)
	return append(out, buf[:]...)
}
