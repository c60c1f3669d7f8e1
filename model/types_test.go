package model

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	e := NewEntry([]float32{1, 2, 3}, "a.md", "c1", "hello world", "mini")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, 3, e.Dimension())
	assert.Equal(t, HashText("hello world"), e.Metadata.TextHash)
	assert.Equal(t, "hello world", e.Metadata.ContentPreview)
	assert.Equal(t, 11, e.Metadata.TextLength)
	assert.Equal(t, e.Metadata.CreatedAt, e.Metadata.UpdatedAt)
	require.NoError(t, e.Validate())

	other := NewEntry([]float32{1}, "a.md", "c2", "hello world", "mini")
	assert.NotEqual(t, e.ID, other.ID)
	assert.Equal(t, e.Metadata.TextHash, other.Metadata.TextHash)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("ä", 250)
	p := Preview(long, PreviewLength)
	assert.Equal(t, PreviewLength, len([]rune(p)))
	assert.Equal(t, "abc", Preview("abc", 10))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		entry *EmbeddingEntry
		field string
	}{
		{"nil", nil, "entry"},
		{"empty id", &EmbeddingEntry{Vector: []float32{1}, Metadata: EmbeddingMetadata{FilePath: "f"}}, "id"},
		{"empty vector", &EmbeddingEntry{ID: "x", Metadata: EmbeddingMetadata{FilePath: "f"}}, "vector"},
		{"nan", &EmbeddingEntry{ID: "x", Vector: []float32{float32(math.NaN())}, Metadata: EmbeddingMetadata{FilePath: "f"}}, "vector"},
		{"inf", &EmbeddingEntry{ID: "x", Vector: []float32{1, float32(math.Inf(-1))}, Metadata: EmbeddingMetadata{FilePath: "f"}}, "vector"},
		{"no file", &EmbeddingEntry{ID: "x", Vector: []float32{1}}, "file_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			require.ErrorIs(t, err, ErrInvalidEntry)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestCloneAndTouch(t *testing.T) {
	e := NewEntry([]float32{1, 2}, "a.md", "c", "t", "m")
	e.Metadata.CustomMetadata = map[string]string{"k": "v"}

	c := e.Clone()
	c.Vector[0] = 9
	c.Metadata.CustomMetadata["k"] = "changed"
	assert.Equal(t, float32(1), e.Vector[0])
	assert.Equal(t, "v", e.Metadata.CustomMetadata["k"])

	before := e.Metadata.UpdatedAt
	time.Sleep(time.Millisecond)
	e.Touch()
	assert.True(t, e.Metadata.UpdatedAt.After(before))
	assert.Equal(t, before, e.Metadata.CreatedAt)
}

func TestIndexMetadataProjection(t *testing.T) {
	e := NewEntry([]float32{1, 2, 3, 4}, "a.md", "c", "t", "m")
	im := e.IndexMetadata()
	assert.Equal(t, e.ID, im.ID)
	assert.Equal(t, 4, im.Dimension)
	assert.Equal(t, e.Metadata.TextHash, im.ContentHash)
	assert.Equal(t, HourBucket(e.Metadata.CreatedAt), e.Metadata.CreatedAt.Unix()/3600)
	assert.Greater(t, e.SizeBytes(), int64(16))
}
