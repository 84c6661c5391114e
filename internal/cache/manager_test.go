package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, capacity int) (*Manager, string) {
	t.Helper()
	base := t.TempDir()
	m, err := New(base, Options{Capacity: capacity})
	require.NoError(t, err)
	return m, base
}

func TestNew_Defaults(t *testing.T) {
	m, base := newManager(t, 0)
	assert.Equal(t, DefaultCapacity, m.Capacity())
	assert.Equal(t, filepath.Join(base, DirName), m.Dir())
	assert.DirExists(t, m.Dir())
}

func TestSet_CreatesDirAndPersists(t *testing.T) {
	m, _ := newManager(t, 10)
	require.NoError(t, m.Set("abc"))

	assert.DirExists(t, m.EntryDir("abc"))
	assert.True(t, m.Exists("abc"))

	data, err := os.ReadFile(filepath.Join(m.Dir(), StateFileName))
	require.NoError(t, err)
	var s State
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, stateVersion, s.Version)
	require.Len(t, s.Entries, 1)
	assert.Equal(t, "abc", s.Entries[0].Key)
}

func TestSet_EvictsLeastRecentlyUsed(t *testing.T) {
	m, _ := newManager(t, 2)
	require.NoError(t, m.Set("x"))
	require.NoError(t, m.Set("y"))
	require.NoError(t, m.Set("z"))

	assert.NoDirExists(t, m.EntryDir("x"))
	assert.False(t, m.Exists("x"))
	assert.True(t, m.Exists("y"))
	assert.True(t, m.Exists("z"))
	assert.Equal(t, []string{"z", "y"}, m.Keys())
}

func TestSet_RefreshChangesEvictionVictim(t *testing.T) {
	m, _ := newManager(t, 2)
	require.NoError(t, m.Set("x"))
	require.NoError(t, m.Set("y"))
	require.NoError(t, m.Set("x"))
	require.NoError(t, m.Set("z"))

	assert.True(t, m.Exists("x"))
	assert.False(t, m.Exists("y"))
	assert.NoDirExists(t, m.EntryDir("y"))
}

func TestExists_SelfHeals(t *testing.T) {
	m, _ := newManager(t, 10)
	require.NoError(t, m.Set("gone"))
	require.NoError(t, os.RemoveAll(m.EntryDir("gone")))

	assert.False(t, m.Exists("gone"))
	assert.Equal(t, 0, m.Len())
	assert.NoDirExists(t, m.EntryDir("gone"), "self-heal never recreates the directory")
	assert.Empty(t, m.Dump().Entries)
}

func TestExists_UnindexedDirectory(t *testing.T) {
	m, _ := newManager(t, 10)
	_, err := m.EnsureEntryDir("loose")
	require.NoError(t, err)
	assert.False(t, m.Exists("loose"))

	orphans, err := m.Orphans()
	require.NoError(t, err)
	assert.Equal(t, []string{"loose"}, orphans)
}

func TestNew_RestoresRecencyOrder(t *testing.T) {
	base := t.TempDir()
	m, err := New(base, Options{Capacity: 3})
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c", "a"} {
		require.NoError(t, m.Set(k))
	}
	assert.Equal(t, []string{"a", "c", "b"}, m.Keys())

	reopened, err := New(base, Options{Capacity: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, reopened.Keys())

	require.NoError(t, reopened.Set("d"))
	assert.False(t, reopened.Exists("b"), "restored order decides the eviction victim")
	assert.True(t, reopened.Exists("c"))
}

func TestNew_IgnoresCorruptState(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, DirName)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte("{not json"), 0o600))

	m, err := New(base, Options{Capacity: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
	require.NoError(t, m.Set("k"))
	assert.Equal(t, []string{"k"}, m.Dump().keys())
}

func TestDeleteEntry(t *testing.T) {
	m, _ := newManager(t, 10)
	require.NoError(t, m.Set("k"))
	require.NoError(t, os.WriteFile(filepath.Join(m.EntryDir("k"), "output.png"), []byte("x"), 0o600))

	require.NoError(t, m.DeleteEntry("k"))
	assert.NoDirExists(t, m.EntryDir("k"))
	assert.False(t, m.Exists("k"))
	require.NoError(t, m.DeleteEntry("never"))
}

func TestSweepAndClear(t *testing.T) {
	m, _ := newManager(t, 10)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, m.Set(k))
	}
	require.NoError(t, os.RemoveAll(m.EntryDir("b")))

	stale, err := m.Sweep()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, stale)
	assert.Equal(t, []string{"c", "a"}, m.Keys())

	require.NoError(t, os.WriteFile(filepath.Join(m.EntryDir("a"), "f"), []byte("12345"), 0o600))
	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.GreaterOrEqual(t, stats.Bytes, int64(5))

	require.NoError(t, m.Clear())
	assert.Equal(t, 0, m.Len())
	assert.NoDirExists(t, m.EntryDir("a"))
}

func TestInvalidKeys(t *testing.T) {
	m, _ := newManager(t, 10)
	for _, k := range []string{"", "..", "../escape", "a/b", ".locks", StateFileName} {
		assert.Error(t, m.Set(k), k)
		assert.False(t, m.Exists(k), k)
	}
}

func TestLock_SerializesPerKey(t *testing.T) {
	m, _ := newManager(t, 10)
	ctx := context.Background()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "samehash")
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			for {
				cur := maxActive.Load()
				if n <= cur || maxActive.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
	assert.NoFileExists(t, filepath.Join(m.Dir(), lockDirName, "samehash.lock"), "unindexed keys drop their lock file")
}

func TestEviction_DefersDeleteWhileLocked(t *testing.T) {
	m, _ := newManager(t, 1)
	ctx := context.Background()
	require.NoError(t, m.Set("a"))

	unlock, err := m.Lock(ctx, "a")
	require.NoError(t, err)
	out := filepath.Join(m.EntryDir("a"), "out.txt")
	require.NoError(t, os.WriteFile(out, []byte("x"), 0o600))

	require.NoError(t, m.Set("b"))
	assert.False(t, m.Exists("a"))
	assert.FileExists(t, out, "directory of a locked key survives eviction")

	unlock()
	assert.NoDirExists(t, m.EntryDir("a"))
	assert.NoFileExists(t, filepath.Join(m.Dir(), lockDirName, "a.lock"))
	assert.DirExists(t, m.EntryDir("b"))
}

func TestEviction_ReindexedWhileLockedKeepsDir(t *testing.T) {
	m, _ := newManager(t, 1)
	require.NoError(t, m.Set("a"))

	unlock, err := m.Lock(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, m.Set("b"))
	require.NoError(t, m.Set("a"))
	unlock()

	assert.True(t, m.Exists("a"))
	assert.NoDirExists(t, m.EntryDir("b"))
}

func TestLockFiles_RemovedWithEntries(t *testing.T) {
	m, _ := newManager(t, 1)
	ctx := context.Background()
	lockPath := func(key string) string { return filepath.Join(m.Dir(), lockDirName, key+".lock") }
	build := func(key string) {
		unlock, err := m.Lock(ctx, key)
		require.NoError(t, err)
		require.NoError(t, m.Set(key))
		unlock()
	}

	build("a")
	assert.FileExists(t, lockPath("a"), "indexed keys keep their lock file")
	require.NoError(t, m.DeleteEntry("a"))
	assert.NoFileExists(t, lockPath("a"))

	build("b")
	build("c")
	assert.NoFileExists(t, lockPath("b"), "evicted")
	assert.FileExists(t, lockPath("c"))

	require.NoError(t, m.Clear())
	assert.NoFileExists(t, lockPath("c"))

	build("c")
	assert.FileExists(t, lockPath("c"), "lock file is recreated after removal")
}

func TestLock_ContextCanceledWhileWaiting(t *testing.T) {
	m, _ := newManager(t, 10)
	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := m.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()
}

func TestLock_UnlockIsIdempotent(t *testing.T) {
	m, _ := newManager(t, 10)
	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock()

	again, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func (s State) keys() []string {
	out := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Key
	}
	return out
}
