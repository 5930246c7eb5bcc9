// Package lock 提供按 key 互斥的锁，用于串行化同一 (稿件, 站点) 的发布。
package lock

import (
	"context"
	"fmt"
	"sync"
)

// Locker 获取指定 key 的锁，返回的 unlock 必须调用且只调用一次。
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// DistributionKey 返回 (稿件, 站点) 的锁 key。
func DistributionKey(newsPostID, portalID uint) string {
	return fmt.Sprintf("distribution:%d:%d", newsPostID, portalID)
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker 是进程内的按 key 互斥锁，无人持有的 key 会被回收。
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

// NewLocalLocker 构造 LocalLocker。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedEntry)}
}

// Lock 阻塞直到获得锁或 ctx 结束。
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.release(key, entry)
		})
	}, nil
}

func (l *LocalLocker) release(key string, entry *keyedEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
