package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/syncstore/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreImplementsInterface(t *testing.T) {
	var _ types.Store = (*BoltStore)(nil)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{}, nil)
	assert.Error(t, err)
}

func TestSetGetDelete(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("user-cache:profile:u1", []byte(`{"a":1}`)))

	v, ok, err := s.Get("user-cache:profile:u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"a":1}`), v)

	require.NoError(t, s.Delete("user-cache:profile:u1"))
	_, ok, err = s.Get("user-cache:profile:u1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is not an error
	assert.NoError(t, s.Delete("user-cache:profile:u1"))
}

func TestPrefixScan(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("event-cache:event:e1", []byte("1")))
	require.NoError(t, s.Set("event-cache:event:e2", []byte("2")))
	require.NoError(t, s.Set("user-cache:profile:u1", []byte("3")))

	keys, err := s.Keys("event-cache:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"event-cache:event:e1", "event-cache:event:e2"}, keys)

	seen := map[string]string{}
	err = s.ForEachPrefix("event-cache:", func(key string, value []byte) error {
		seen[key] = string(value)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"event-cache:event:e1": "1",
		"event-cache:event:e2": "2",
	}, seen)
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", []byte("v")))
	require.NoError(t, s.Close())

	s2, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	v, ok, err := s2.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}
