package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStorePutGetDeleteRoundtrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	fs, err := Open(path)
	require.NoError(t, err)

	_, ok, err := fs.Get("alice:account")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, fs.Put("alice:account", []byte(`{"balance":0}`)))
	val, ok, err := fs.Get("alice:account")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"balance":0}`, string(val))

	require.NoError(t, fs.Delete("alice:account"))
	_, ok, err = fs.Get("alice:account")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	fs, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, fs.Put("0xbeef:incoming-channel", []byte("alice")))

	reopened, err := Open(path)
	require.NoError(t, err)
	val, ok, err := reopened.Get("0xbeef:incoming-channel")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", string(val))
}
