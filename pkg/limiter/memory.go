package limiter

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store backed by a Go map. It is useful for
// tests and single-instance deployments; state is not shared between
// processes and entries are never evicted.
//
// MemoryStore also implements Locker, so a Limiter using it never loses
// updates between goroutines.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte

	lockMu sync.Mutex
	locks  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		locks:  make(map[string]*keyLock),
	}
}

func (m *MemoryStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.values[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

// Lock blocks until the per-key mutex is held. Lock entries are dropped once
// no goroutine holds or waits for them.
func (m *MemoryStore) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.lockMu.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{}
		m.locks[key] = kl
	}
	kl.refs++
	m.lockMu.Unlock()

	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()
			m.lockMu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(m.locks, key)
			}
			m.lockMu.Unlock()
		})
	}, nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
