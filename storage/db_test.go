package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a"), []byte{1, 2, 3}))
	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)

	batch := db.NewBatch()
	batch.Put([]byte("b"), []byte{4})
	batch.Delete([]byte("a"))
	require.Equal(t, 2, batch.Len())

	// Nothing is visible before Write.
	_, err = db.Get([]byte("b"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, batch.Write())
	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
	got, err = db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte{4}, got)

	require.NoError(t, db.Delete([]byte("b")))
	require.NoError(t, db.Delete([]byte("b")))
	_, err = db.Get([]byte("b"))
	require.ErrorIs(t, err, ErrNotFound)

	exerciseIterate(t, db)
}

func exerciseIterate(t *testing.T, db Database) {
	t.Helper()

	require.NoError(t, db.Put([]byte("acct/2"), []byte{2}))
	require.NoError(t, db.Put([]byte("acct/1"), []byte{1}))
	require.NoError(t, db.Put([]byte("other"), []byte{9}))

	var keys []string
	var values [][]byte
	require.NoError(t, db.Iterate([]byte("acct/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		values = append(values, value)
		return nil
	}))
	require.Equal(t, []string{"acct/1", "acct/2"}, keys)
	require.Equal(t, [][]byte{{1}, {2}}, values)

	stop := errors.New("stop")
	visited := 0
	err := db.Iterate([]byte("acct/"), func(key, value []byte) error {
		visited++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, visited)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte{9}
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 0
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte{9}, got)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	exerciseDatabase(t, db)
}
