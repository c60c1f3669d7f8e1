package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UniformVectors(8, 32)

	assert.Equal(t, 8, len(v))
	assert.Equal(t, 32, len(v[0]))
	assert.LessOrEqual(t, v[0][0], float32(1.0))
	assert.GreaterOrEqual(t, v[1][0], float32(0.0))
}

func TestUnitVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UnitVectors(8, 32)

	assert.Equal(t, 8, len(v))
	for _, vec := range v {
		var sum float32
		for _, val := range vec {
			sum += val * val
		}
		assert.InDelta(t, float32(1.0), sum, 1e-5)
	}
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	v1 := rng.UniformVectors(1, 10)

	rng.Reset()
	v2 := rng.UniformVectors(1, 10)

	assert.Equal(t, v1, v2)
}

func TestEntries(t *testing.T) {
	rng := NewRNG(1)

	entries := rng.Entries(10, EntryOptions{Dimension: 4, Files: 3, Models: []string{"a", "b"}})
	require.Len(t, entries, 10)

	seen := map[string]bool{}
	for _, e := range entries {
		require.NoError(t, e.Validate())
		key := e.Metadata.FilePath + "#" + e.Metadata.ChunkID
		assert.False(t, seen[key], "duplicate chunk %s", key)
		seen[key] = true
	}
	assert.True(t, entries[1].Metadata.CreatedAt.After(entries[0].Metadata.CreatedAt))
	assert.Equal(t, "b", entries[1].Metadata.ModelName)
}
