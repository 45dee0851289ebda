package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	level, err := NewLevelDB(filepath.Join(t.TempDir(), "level"))
	require.NoError(t, err)
	bolt, err := NewBoltDB(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		level.Close()
		bolt.Close()
	})
	return map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": level,
		"bolt":    bolt,
	}
}

func TestDatabaseGetMissingKey(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDatabaseBatchAppliesInOrder(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("stale"), []byte("x")))

			batch := NewBatch()
			batch.Put([]byte("a"), []byte("1"))
			batch.Put([]byte("a"), []byte("2"))
			batch.Delete([]byte("stale"))
			require.Equal(t, 3, batch.Len())
			require.NoError(t, db.Write(batch))

			got, err := db.Get([]byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("2"), got)

			_, err = db.Get([]byte("stale"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("key"), []byte("value")))
	db.Close()

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}
