package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_SetAndGet(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "ledger:2026-10-16", []byte(`{"date":"2026-10-16"}`)))

	v, err := s.Get(ctx, "ledger:2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, `{"date":"2026-10-16"}`, string(v))
}

func TestSQLite_GetMissing(t *testing.T) {
	s := setupDB(t)

	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_SetOverwrites(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "goals", []byte("old")))
	require.NoError(t, s.Set(ctx, "goals", []byte("new")))

	v, err := s.Get(ctx, "goals")
	require.NoError(t, err)
	assert.Equal(t, "new", string(v))
}

func TestSQLite_DeleteIsIdempotent(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_KeysAndDeletePrefix(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()

	for _, k := range []string{"ledger:2026-10-15", "ledger:2026-10-14", "goals", "ledger_x"} {
		require.NoError(t, s.Set(ctx, k, []byte("1")))
	}

	keys, err := s.Keys(ctx, "ledger:")
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger:2026-10-14", "ledger:2026-10-15"}, keys)

	n, err := s.DeletePrefix(ctx, "ledger:")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	keys, err = s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"goals", "ledger_x"}, keys)
}

func TestMemoryStorage_MatchesContract(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "a:1", []byte("x")))
	require.NoError(t, m.Set(ctx, "a:2", []byte("y")))
	require.NoError(t, m.Set(ctx, "b", []byte("z")))

	keys, err := m.Keys(ctx, "a:")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "a:2"}, keys)

	n, err := m.DeletePrefix(ctx, "a:")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	v, err := m.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "z", string(v))
}
