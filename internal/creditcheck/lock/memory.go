package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker serializes holders within one process. Use RedisLocker when
// more than one instance serves purchases.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (m *MemoryLocker) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.slots[key] = ch
	}
	return ch
}

func (m *MemoryLocker) Obtain(ctx context.Context, key string, wait time.Duration) (Lock, error) {
	ch := m.slot(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return &memoryLock{ch: ch}, nil
	case <-timer.C:
		return nil, timeoutError(key, wait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryLock struct {
	once sync.Once
	ch   chan struct{}
}

func (l *memoryLock) Release(_ context.Context) error {
	l.once.Do(func() { <-l.ch })
	return nil
}
