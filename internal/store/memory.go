package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
)

type memItem[T any] struct {
	val     T
	expires time.Time
}

// memLock is a per-chat semaphore shared by every caller waiting on it.
type memLock struct {
	sem  chan struct{}
	refs int
}

// Memory keeps registration state and the session cache in process. It is
// only correct for a single relay instance.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	regs      map[string]memItem[relay.RegistrationState]
	sessions  map[string]memItem[relay.CacheEntry]
	locks     map[string]*memLock
	nextSweep time.Time
}

// NewMemory returns an empty store. Entries older than ttl read as absent;
// a zero ttl keeps them forever.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:      ttl,
		now:      time.Now,
		regs:     make(map[string]memItem[relay.RegistrationState]),
		sessions: make(map[string]memItem[relay.CacheEntry]),
		locks:    make(map[string]*memLock),
	}
}

func (m *Memory) expiry() time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(m.ttl)
}

func (m *Memory) live(exp time.Time) bool {
	return exp.IsZero() || m.now().Before(exp)
}

// sweepLocked drops expired entries at most once per ttl. Callers hold m.mu.
func (m *Memory) sweepLocked() {
	if m.ttl <= 0 {
		return
	}
	now := m.now()
	if now.Before(m.nextSweep) {
		return
	}
	m.nextSweep = now.Add(m.ttl)
	for k, it := range m.regs {
		if !m.live(it.expires) {
			delete(m.regs, k)
		}
	}
	for k, it := range m.sessions {
		if !m.live(it.expires) {
			delete(m.sessions, k)
		}
	}
}

func (m *Memory) GetRegistration(_ context.Context, chatID string) (*relay.RegistrationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.regs[chatID]
	if !ok {
		return nil, nil
	}
	if !m.live(it.expires) {
		delete(m.regs, chatID)
		return nil, nil
	}
	st := it.val
	return &st, nil
}

func (m *Memory) PutRegistration(_ context.Context, chatID string, st relay.RegistrationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.regs[chatID] = memItem[relay.RegistrationState]{val: st, expires: m.expiry()}
	return nil
}

func (m *Memory) DeleteRegistration(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regs, chatID)
	return nil
}

func (m *Memory) GetSession(_ context.Context, chatID string) (*relay.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.sessions[chatID]
	if !ok {
		return nil, nil
	}
	if !m.live(it.expires) {
		delete(m.sessions, chatID)
		return nil, nil
	}
	e := it.val
	return &e, nil
}

func (m *Memory) PutSession(_ context.Context, chatID string, entry relay.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.sessions[chatID] = memItem[relay.CacheEntry]{val: entry, expires: m.expiry()}
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, chatID)
	return nil
}

// Lock blocks until the chat's lock is free or ctx ends. The returned
// release func is safe to call more than once. A chat's semaphore is
// dropped once nobody holds or waits on it.
func (m *Memory) Lock(ctx context.Context, chatID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[chatID]
	if !ok {
		l = &memLock{sem: make(chan struct{}, 1)}
		m.locks[chatID] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.unref(chatID, l)
		return nil, fmt.Errorf("lock chat %s: %w", chatID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.unref(chatID, l)
		})
	}, nil
}

func (m *Memory) unref(chatID string, l *memLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 && m.locks[chatID] == l {
		delete(m.locks, chatID)
	}
}

var _ relay.Store = (*Memory)(nil)
