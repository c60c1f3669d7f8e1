package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	stores := map[string]Store{
		"local":  NewLocalStore(t.TempDir()),
		"memory": NewMemoryStore(),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// 1. Put and Get
			require.NoError(t, s.Put(ctx, "backup_1/vector_0.json", []byte("page")))
			require.NoError(t, s.Put(ctx, "backup_1/tombstones.json", []byte("[]")))
			require.NoError(t, s.Put(ctx, "backup_2/vector_0.json", []byte("page2")))

			data, err := s.Get(ctx, "backup_1/vector_0.json")
			require.NoError(t, err)
			assert.Equal(t, []byte("page"), data)

			// 2. List by prefix
			names, err := s.List(ctx, "backup_1/")
			require.NoError(t, err)
			assert.Equal(t, []string{"backup_1/tombstones.json", "backup_1/vector_0.json"}, names)

			// 3. Delete is idempotent
			require.NoError(t, s.Delete(ctx, "backup_1/vector_0.json"))
			require.NoError(t, s.Delete(ctx, "backup_1/vector_0.json"))

			_, err = s.Get(ctx, "backup_1/vector_0.json")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
