package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), time.Hour)
	require.NoError(t, err)

	key := testKey("ReadTemperature()", "def ReadTemperature(): pass")
	now := time.Now()
	saved := &Entry{
		Code:           "def ReadTemperature(): pass",
		DeployedAt:     now,
		LastAccessedAt: now,
		AccessCount:    3,
		DeployTime:     25 * time.Millisecond,
		Status:         StatusActive,
	}
	require.NoError(t, store.Save(key, saved))

	loaded, ok, err := store.Load(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved.Code, loaded.Code)
	assert.EqualValues(t, 3, loaded.AccessCount)
	assert.Equal(t, saved.DeployTime, loaded.DeployTime)
	assert.Equal(t, saved.DeployedAt.Unix(), loaded.DeployedAt.Unix())
}

func TestFileStoreAbsentKey(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), time.Hour)
	require.NoError(t, err)

	_, ok, err := store.Load(testKey("Nothing()", "pass"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreDiscardsExpiredOnLoad(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), time.Hour)
	require.NoError(t, err)

	key := testKey("Stale()", "def Stale(): pass")
	stale := &Entry{
		Code:       "def Stale(): pass",
		DeployedAt: time.Now().Add(-48 * time.Hour),
		Status:     StatusActive,
	}
	require.NoError(t, store.Save(key, stale))

	_, ok, err := store.Load(key)
	require.NoError(t, err)
	assert.False(t, ok, "expired entries must be discarded, not promoted")

	_, statErr := os.Stat(store.path(key))
	assert.True(t, os.IsNotExist(statErr), "expired file must be removed")
}

func TestFileStoreDeleteExpired(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), time.Hour)
	require.NoError(t, err)

	fresh := testKey("Fresh()", "def Fresh(): pass")
	stale := testKey("Stale()", "def Stale(): pass")
	require.NoError(t, store.Save(fresh, &Entry{Code: "f", DeployedAt: time.Now(), Status: StatusActive}))
	require.NoError(t, store.Save(stale, &Entry{Code: "s", DeployedAt: time.Now().Add(-48 * time.Hour), Status: StatusActive}))

	require.NoError(t, store.DeleteExpired())

	_, ok, err := store.Load(fresh)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = store.Load(stale)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachePromotesPersistedEntries(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, time.Hour)
	require.NoError(t, err)

	key := testKey("Persisted()", "def Persisted(): pass")
	deploys := 0
	first := New(Config{MaxAge: time.Hour, IdleFor: time.Hour, Capacity: 10}, store)
	_, err = first.GetOrDeploy(context.Background(), key, countingDeploy("def Persisted(): pass", &deploys))
	require.NoError(t, err)
	require.Equal(t, 1, deploys)

	// a fresh cache over the same store serves the persisted deployment
	second := New(Config{MaxAge: time.Hour, IdleFor: time.Hour, Capacity: 10}, store)
	entry, err := second.GetOrDeploy(context.Background(), key, countingDeploy("def Persisted(): pass", &deploys))
	require.NoError(t, err)
	assert.Equal(t, 1, deploys, "persisted entry must satisfy the miss")
	assert.Equal(t, "def Persisted(): pass", entry.Code)
}
