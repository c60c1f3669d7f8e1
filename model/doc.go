// Package model defines the entry types shared by every component.
//
// # Types
//
//   - EmbeddingEntry: the atomic unit of storage (id, vector, metadata)
//   - EmbeddingMetadata: source location, model, content hash and timestamps
//   - IndexMetadata: the vector-free projection kept in memory by the indexes
//
// Components never share live pointers into each other's tables; they pass
// entries by value or reference each other by entry id only.
//
// # Creating entries
//
//	e := model.NewEntry(vec, "notes/today.md", "chunk-3", text, "all-MiniLM-L6-v2")
//	if err := e.Validate(); err != nil {
//	    // errors.Is(err, model.ErrInvalidEntry)
//	}
package model
