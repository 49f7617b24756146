package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStores(t *testing.T) {
	stores := map[string]func(t *testing.T) BlobStore{
		"file": func(t *testing.T) BlobStore {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) BlobStore {
			s, err := NewSQLiteStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			ok, err := store.Exists(ctx, VectorStoreKey)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = store.Get(ctx, VectorStoreKey)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Put(ctx, VectorStoreKey, []byte(`[1]`)))
			require.NoError(t, store.Put(ctx, VectorStoreKey, []byte(`[1,2]`)))

			data, err := store.Get(ctx, VectorStoreKey)
			require.NoError(t, err)
			assert.Equal(t, `[1,2]`, string(data))

			ok, err = store.Exists(ctx, VectorStoreKey)
			require.NoError(t, err)
			assert.True(t, ok)

			err = store.Put(ctx, "", []byte("x"))
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../escape", "a/b", ".hidden"} {
		err := store.Put(context.Background(), key, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}
