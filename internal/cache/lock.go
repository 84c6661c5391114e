package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/logfields"
)

const lockRetryDelay = 50 * time.Millisecond

type keyLock struct {
	sem  chan struct{}
	refs int
}

// keyLocks serializes goroutines of this process per key.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

func (k *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*keyLock)
	}
	l := k.m[key]
	if l == nil {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.drop(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			k.drop(key, l)
		})
	}, nil
}

// held reports whether a goroutine of this process holds or waits for key.
func (k *keyLocks) held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.m[key]
	return ok
}

func (k *keyLocks) drop(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.m, key)
	}
}

// Lock takes the build lock for key. At most one holder exists per key
// across goroutines of this process and across processes sharing the cache
// directory. Waiters queue until the holder calls the returned unlock func
// or ctx is done.
func (m *Manager) Lock(ctx context.Context, key string) (func(), error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	release, err := m.locks.acquire(ctx, key)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryCache, "waiting for build lock").
			WithContext("cache_key", key).
			Build()
	}

	lockDir := filepath.Join(m.dir, lockDirName)
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		release()
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create lock directory").
			WithContext("path", lockDir).
			Build()
	}

	fl, err := lockFile(ctx, m.lockPath(key))
	if err != nil {
		release()
		return nil, ferrors.WrapError(err, ferrors.CategoryCache, "failed to acquire build lock").
			WithContext("cache_key", key).
			Build()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.finishPending(key)
			if err := fl.Unlock(); err != nil {
				m.logger.Warn("Failed to release build lock", logfields.CacheKey(key), logfields.Error(err))
			}
			release()
			m.mu.Lock()
			if _, indexed := m.entries[key]; !indexed {
				m.removeLockFile(key)
			}
			m.mu.Unlock()
		})
	}, nil
}

func (m *Manager) lockPath(key string) string {
	return filepath.Join(m.dir, lockDirName, key+".lock")
}

// lockFile locks path, retrying when the file was removed or replaced
// between opening and locking it.
func lockFile(ctx context.Context, path string) (*flock.Flock, error) {
	for {
		fl := flock.New(path)
		locked, err := fl.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, ctx.Err()
		}
		if sameFile(fl, path) {
			return fl, nil
		}
		_ = fl.Unlock()
	}
}

// sameFile reports whether the locked handle of fl still is the file at path.
func sameFile(fl *flock.Flock, path string) bool {
	held, err := fl.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

// removeLockFile deletes the lock file of key unless a goroutine of this
// process or another process holds it. Callers hold m.mu.
func (m *Manager) removeLockFile(key string) {
	if m.locks.held(key) {
		return
	}
	path := m.lockPath(key)
	if _, err := os.Stat(path); err != nil {
		return
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil || !locked {
		return
	}
	if sameFile(fl, path) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("Failed to remove build lock file", logfields.CacheKey(key), logfields.Error(err))
		}
	}
	_ = fl.Unlock()
}

// finishPending deletes the directory of key if it was evicted while its
// build lock was held and the build did not index it again.
func (m *Manager) finishPending(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[key]; !ok {
		return
	}
	delete(m.pending, key)
	if _, indexed := m.entries[key]; indexed {
		return
	}
	if err := os.RemoveAll(m.EntryDir(key)); err != nil {
		m.logger.Warn("Failed to delete evicted cache entry", logfields.CacheKey(key), logfields.Error(err))
	}
}
