// Package cache implements the content-addressed render cache: an
// LRU-bounded set of entry directories keyed by content hash, with the
// recency order persisted after every mutation.
package cache

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/metrics"
)

const (
	// DirName is the cache directory below the base directory.
	DirName = "render_cache"
	// StateFileName holds the persisted recency snapshot.
	StateFileName   = "lru_states.json"
	DefaultCapacity = 500

	lockDirName = ".locks"
)

// Options configures a Manager.
type Options struct {
	Capacity int
	Logger   *slog.Logger
	Recorder metrics.Recorder
}

type entry struct {
	key  string
	tick uint64
	used time.Time
}

// Manager owns the cache directory. Build one per process and pass it to
// every component that needs it.
type Manager struct {
	dir       string
	statePath string
	capacity  int
	logger    *slog.Logger
	recorder  metrics.Recorder

	mu       sync.Mutex
	index    *lru.Cache
	entries  map[string]*entry
	tick     uint64
	removing bool
	// pending holds evicted keys whose directory removal waits for their
	// build lock to be released.
	pending map[string]struct{}

	locks keyLocks
}

// Stats summarizes the cache.
type Stats struct {
	Dir      string
	Entries  int
	Capacity int
	Bytes    int64
}

// New opens the cache below baseDir, creating the directory and loading
// the persisted recency order if present. An unreadable state file is
// logged and replaced on the next mutation.
func New(baseDir string, opts Options) (*Manager, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dir := filepath.Join(baseDir, DirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create cache directory").
			WithContext("path", dir).
			Build()
	}

	m := &Manager{
		dir:       dir,
		statePath: filepath.Join(dir, StateFileName),
		capacity:  opts.Capacity,
		logger:    opts.Logger.With(slog.String("component", "cache")),
		recorder:  metrics.OrNoop(opts.Recorder),
		entries:   make(map[string]*entry),
		pending:   make(map[string]struct{}),
	}
	m.index = lru.New(opts.Capacity)
	m.index.OnEvicted = m.onEvicted

	m.load()
	m.recorder.SetCacheEntries(len(m.entries))
	return m, nil
}

// Dir returns the cache directory.
func (m *Manager) Dir() string { return m.dir }

// Capacity returns the maximum number of indexed keys.
func (m *Manager) Capacity() int { return m.capacity }

// EntryDir returns the backing directory of key.
func (m *Manager) EntryDir(key string) string {
	return filepath.Join(m.dir, key)
}

// onEvicted runs inside index operations while m.mu is held.
func (m *Manager) onEvicted(k lru.Key, _ any) {
	key, _ := k.(string)
	delete(m.entries, key)
	if m.removing {
		return
	}
	if err := m.discardLocked(key); err != nil {
		m.logger.Warn("Failed to delete evicted cache entry", logfields.CacheKey(key), logfields.Error(err))
	}
	m.recorder.IncCacheEviction()
	m.logger.Debug("Evicted cache entry", logfields.CacheKey(key))
}

// discardLocked deletes the directory and lock file of an unindexed key.
// While the build lock of key is held in this process the directory is
// left to the holder and removed on unlock.
func (m *Manager) discardLocked(key string) error {
	if m.locks.held(key) {
		m.pending[key] = struct{}{}
		return nil
	}
	if err := os.RemoveAll(m.EntryDir(key)); err != nil {
		return err
	}
	m.removeLockFile(key)
	return nil
}

func (m *Manager) load() {
	state, err := readState(m.statePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("Ignoring unreadable cache state", logfields.Path(m.statePath), logfields.Error(err))
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Oldest first so the most recent key ends up at the front.
	for i := len(state.Entries) - 1; i >= 0; i-- {
		se := state.Entries[i]
		if validateKey(se.Key) != nil {
			continue
		}
		m.touchLocked(se.Key, time.UnixMilli(se.Value))
	}
	m.logger.Debug("Loaded cache state", logfields.Count(len(m.entries)))
}

func (m *Manager) touchLocked(key string, used time.Time) {
	m.tick++
	e, ok := m.entries[key]
	if !ok {
		e = &entry{key: key}
		m.entries[key] = e
	}
	e.tick = m.tick
	e.used = used
	m.index.Add(key, e)
}

// removeLocked drops key from the index without touching its directory.
func (m *Manager) removeLocked(key string) {
	m.removing = true
	m.index.Remove(key)
	m.removing = false
	delete(m.entries, key)
}

// Exists reports whether key is indexed and its directory exists. A key
// whose directory vanished is dropped from the index.
func (m *Manager) Exists(key string) bool {
	if validateKey(key) != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok {
		return false
	}
	if info, err := os.Stat(m.EntryDir(key)); err == nil && info.IsDir() {
		return true
	}

	m.logger.Debug("Dropping stale cache entry", logfields.CacheKey(key))
	m.removeLocked(key)
	if err := m.dumpLocked(); err != nil {
		m.logger.Warn("Failed to persist cache state", logfields.Error(err))
	}
	return false
}

// Set marks key most recently used, creates its directory and persists the
// recency order before returning. Inserting past capacity evicts the least
// recently used key and deletes its directory.
func (m *Manager) Set(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touchLocked(key, time.Now())
	delete(m.pending, key)
	if err := os.MkdirAll(m.EntryDir(key), 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create cache entry").
			WithContext("cache_key", key).
			Build()
	}
	m.recorder.SetCacheEntries(len(m.entries))
	return m.dumpLocked()
}

// EnsureEntryDir creates the directory of key without indexing it.
func (m *Manager) EnsureEntryDir(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	dir := m.EntryDir(key)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create cache entry").
			WithContext("cache_key", key).
			Build()
	}
	return dir, nil
}

// DeleteEntry removes key from the index and deletes its directory. It is
// also used by the holder of the build lock of key to roll back a failed
// build.
func (m *Manager) DeleteEntry(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, indexed := m.entries[key]
	m.removeLocked(key)
	delete(m.pending, key)
	if err := os.RemoveAll(m.EntryDir(key)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to delete cache entry").
			WithContext("cache_key", key).
			Build()
	}
	m.removeLockFile(key)
	m.recorder.SetCacheEntries(len(m.entries))
	if !indexed {
		return nil
	}
	return m.dumpLocked()
}

// Keys returns the indexed keys, most recently used first.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keysLocked()
}

func (m *Manager) keysLocked() []string {
	ordered := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].tick > ordered[j].tick })
	keys := make([]string, len(ordered))
	for i, e := range ordered {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of indexed keys.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Dump returns the current recency snapshot.
func (m *Manager) Dump() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	s := State{Version: stateVersion, Entries: make([]StateEntry, 0, len(m.entries))}
	for _, key := range m.keysLocked() {
		s.Entries = append(s.Entries, StateEntry{Key: key, Value: m.entries[key].used.UnixMilli()})
	}
	return s
}

func (m *Manager) dumpLocked() error {
	if err := writeState(m.statePath, m.snapshotLocked()); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryCache, "failed to persist cache state").
			WithContext("path", m.statePath).
			Build()
	}
	return nil
}

// Sweep drops every indexed key whose directory is gone and returns the
// dropped keys.
func (m *Manager) Sweep() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []string
	for _, key := range m.keysLocked() {
		if info, err := os.Stat(m.EntryDir(key)); err == nil && info.IsDir() {
			continue
		}
		stale = append(stale, key)
		m.removeLocked(key)
	}
	if len(stale) == 0 {
		return nil, nil
	}
	m.recorder.SetCacheEntries(len(m.entries))
	m.logger.Info("Swept stale cache entries", logfields.Count(len(stale)))
	return stale, m.dumpLocked()
}

// Orphans lists entry directories that are not indexed.
func (m *Manager) Orphans() ([]string, error) {
	dirents, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to list cache directory").
			WithContext("path", m.dir).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var orphans []string
	for _, d := range dirents {
		if !d.IsDir() || validateKey(d.Name()) != nil {
			continue
		}
		if _, ok := m.entries[d.Name()]; !ok {
			orphans = append(orphans, d.Name())
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

// Clear deletes every entry and resets the persisted state.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range m.keysLocked() {
		m.removeLocked(key)
		if err := m.discardLocked(key); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to delete cache entry").
				WithContext("cache_key", key).
				Build()
		}
	}
	m.recorder.SetCacheEntries(0)
	return m.dumpLocked()
}

// Stats walks the cache directory and reports its size.
func (m *Manager) Stats() (Stats, error) {
	s := Stats{Dir: m.dir, Entries: m.Len(), Capacity: m.capacity}
	err := filepath.WalkDir(m.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			s.Bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return s, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to measure cache").Build()
	}
	return s, nil
}

// validateKey rejects keys that would escape the cache directory or clash
// with its bookkeeping files.
func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.HasPrefix(key, ".") ||
		strings.ContainsAny(key, `/\`) || key == StateFileName {
		return ferrors.ValidationError("invalid cache key").WithContext("cache_key", key).Build()
	}
	return nil
}
