package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kgantsov/rq/storage"
)

var (
	ErrNotAcquired = errors.New("lock not acquired")
)

// Manager takes and maintains task locks for a single queue instance. All of
// its locks share the instance's token and expiry. Every granted lock is
// renewed in the background at half the expiry until it is released or a
// renewal fails.
type Manager struct {
	store  storage.Store
	token  string
	expiry time.Duration

	mu       sync.Mutex
	renewals map[string]*renewal

	errorFn func(err error)
}

// renewal is the armed state of one held lock. stopped is guarded by the
// manager mutex; once it is set the scheduled callback issues no store
// commands and never re-arms.
type renewal struct {
	timer   *time.Timer
	stopped bool
}

// New returns a Manager bound to a store, a holder token and a lock expiry.
func New(store storage.Store, token string, expiry time.Duration) *Manager {
	return &Manager{
		store:    store,
		token:    token,
		expiry:   expiry,
		renewals: make(map[string]*renewal),
		errorFn:  func(error) {},
	}
}

// SetErrorFunc installs the callback invoked when a background renewal fails.
func (m *Manager) SetErrorFunc(fn func(err error)) {
	m.errorFn = fn
}

// Token returns the holder token shared by this manager's locks.
func (m *Manager) Token() string {
	return m.token
}

// Acquire takes the lock at key. When renew is false the lock is granted only
// if no other holder exists and the returned bool reports whether it was
// granted. A granted lock is scheduled for renewal at half the expiry.
func (m *Manager) Acquire(ctx context.Context, key string, renew bool) (bool, error) {
	granted, err := m.store.SetLock(ctx, key, m.token, m.expiry, renew)
	if err != nil {
		return false, fmt.Errorf("set lock %s: %w", key, err)
	}
	if !granted {
		return false, nil
	}

	log.Debug().Msgf("Acquired lock %s for %s", key, m.expiry)

	m.schedule(key)
	return true, nil
}

// schedule arms the renewal for key at half the expiry, replacing any renewal
// already armed for it.
func (m *Manager) schedule(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.renewals[key]; ok {
		prev.stopped = true
		prev.timer.Stop()
	}

	r := &renewal{}
	r.timer = time.AfterFunc(m.expiry/2, func() { m.renew(key, r) })
	m.renewals[key] = r
}

// renew refreshes the lock expiry and re-arms itself. A renewal stopped
// between firing and running does nothing. A renewal the store fails or
// rejects ends the chain for that key and reports through the error callback;
// there is no retry.
func (m *Manager) renew(key string, r *renewal) {
	m.mu.Lock()
	if r.stopped {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// Renewals outlive the acquiring call, so they run on their own context.
	granted, err := m.store.SetLock(context.Background(), key, m.token, m.expiry, true)

	m.mu.Lock()
	if r.stopped {
		m.mu.Unlock()
		return
	}

	if err == nil && granted {
		log.Debug().Msgf("Renewed lock %s for %s", key, m.expiry)
		r.timer = time.AfterFunc(m.expiry/2, func() { m.renew(key, r) })
		m.mu.Unlock()
		return
	}

	r.stopped = true
	delete(m.renewals, key)
	m.mu.Unlock()

	if err == nil {
		err = ErrNotAcquired
	}

	log.Warn().Err(err).Msgf("Stopped renewing lock %s", key)
	m.errorFn(fmt.Errorf("renew lock %s: %w", key, err))
}

// Release drops the lock at key. The armed renewal is cancelled first,
// synchronously, so no renewal fires once release has been requested; the
// store then deletes the lock only if it still holds this manager's token.
// The returned bool reports whether a delete happened.
func (m *Manager) Release(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	if r, ok := m.renewals[key]; ok {
		r.stopped = true
		r.timer.Stop()
		delete(m.renewals, key)
	}
	m.mu.Unlock()

	removed, err := m.store.ReleaseLock(ctx, key, m.token)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}

	log.Debug().Msgf("Released lock %s removed=%v", key, removed)

	return removed, nil
}

// Stop cancels every armed renewal. Held locks are left to expire on their
// own.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, r := range m.renewals {
		r.stopped = true
		r.timer.Stop()
		delete(m.renewals, key)
	}
}
