package model

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// PreviewLength is the maximum number of runes kept in ContentPreview.
const PreviewLength = 200

// EmbeddingMetadata describes where an embedding came from.
type EmbeddingMetadata struct {
	FilePath       string            `json:"file_path"`
	ChunkID        string            `json:"chunk_id"`
	ModelName      string            `json:"model_name"`
	TextHash       string            `json:"text_hash"`
	ContentPreview string            `json:"content_preview"`
	TextLength     int               `json:"text_length"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
}

// EmbeddingEntry is one embedding vector plus its metadata.
type EmbeddingEntry struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata EmbeddingMetadata `json:"metadata"`
}

// NewEntry creates an entry with a fresh id, the SHA-256 hash of text, a
// bounded preview and both timestamps set to now.
func NewEntry(vector []float32, filePath, chunkID, text, modelName string) *EmbeddingEntry {
	now := time.Now().UTC()
	return &EmbeddingEntry{
		ID:     NewID(),
		Vector: vector,
		Metadata: EmbeddingMetadata{
			FilePath:       filePath,
			ChunkID:        chunkID,
			ModelName:      modelName,
			TextHash:       HashText(text),
			ContentPreview: Preview(text, PreviewLength),
			TextLength:     len(text),
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
}

// NewID returns a new globally unique entry id.
func NewID() string {
	return uuid.NewString()
}

// HashText returns the hex SHA-256 of text, used for deduplication.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Preview returns at most n runes of text.
func Preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}

// Dimension returns the vector dimension.
func (e *EmbeddingEntry) Dimension() int {
	return len(e.Vector)
}

// Touch bumps UpdatedAt to now. UpdatedAt never moves backwards.
func (e *EmbeddingEntry) Touch() {
	now := time.Now().UTC()
	if now.Before(e.Metadata.UpdatedAt) {
		now = e.Metadata.UpdatedAt
	}
	e.Metadata.UpdatedAt = now
}

// Clone returns a deep copy of the entry.
func (e *EmbeddingEntry) Clone() *EmbeddingEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Vector = append([]float32(nil), e.Vector...)
	if e.Metadata.CustomMetadata != nil {
		c.Metadata.CustomMetadata = maps.Clone(e.Metadata.CustomMetadata)
	}
	return &c
}

// SizeBytes estimates the in-memory footprint of the entry.
func (e *EmbeddingEntry) SizeBytes() int64 {
	const overhead = 160 // struct headers, timestamps, map header
	n := int64(overhead + 4*len(e.Vector) + len(e.ID))
	m := &e.Metadata
	n += int64(len(m.FilePath) + len(m.ChunkID) + len(m.ModelName) + len(m.TextHash) + len(m.ContentPreview))
	for k, v := range m.CustomMetadata {
		n += int64(len(k) + len(v) + 16)
	}
	return n
}

// IndexMetadata returns the vector-free projection of the entry.
func (e *EmbeddingEntry) IndexMetadata() IndexMetadata {
	return IndexMetadata{
		ID:          e.ID,
		FilePath:    e.Metadata.FilePath,
		ChunkID:     e.Metadata.ChunkID,
		ModelName:   e.Metadata.ModelName,
		ContentHash: e.Metadata.TextHash,
		CreatedAt:   e.Metadata.CreatedAt,
		UpdatedAt:   e.Metadata.UpdatedAt,
		Dimension:   len(e.Vector),
	}
}

// IndexMetadata is the lightweight per-entry projection kept in memory for
// lookups that must not load vectors.
type IndexMetadata struct {
	ID          string    `json:"id"`
	FilePath    string    `json:"file_path"`
	ChunkID     string    `json:"chunk_id"`
	ModelName   string    `json:"model_name"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Dimension   int       `json:"dimension"`
}

// HourBucket returns the hour bucket a timestamp falls into.
func HourBucket(t time.Time) int64 {
	return t.Unix() / 3600
}
