package lock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// writerWeight вес эксклюзивного захвата; читатели берут вес 1
const writerWeight int64 = 1 << 30

// KeyedLock read-write блокировка по ключу (id теста).
// Разные ключи не конкурируют, глобальной блокировки нет.
// Записи ключей удаляются, когда ими никто не пользуется.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*lockEntry)}
}

// Lock захватывает ключ эксклюзивно. Ожидание прерывается по ctx.
func (l *KeyedLock) Lock(ctx context.Context, key string) (func(), error) {
	return l.acquire(ctx, key, writerWeight)
}

// RLock захватывает ключ на чтение, совместно с другими читателями
func (l *KeyedLock) RLock(ctx context.Context, key string) (func(), error) {
	return l.acquire(ctx, key, 1)
}

// Len количество ключей с активными владельцами или ожидающими
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *KeyedLock) acquire(ctx context.Context, key string, weight int64) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(writerWeight)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, weight); err != nil {
		l.unref(key, entry)
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(weight)
			l.unref(key, entry)
		})
	}, nil
}

func (l *KeyedLock) unref(key string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}
