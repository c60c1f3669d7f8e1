// Package index maintains the in-memory secondary indexes over stored entries.
//
// Every entry gets a dense uint32 ordinal. Five posting structures map keys to
// roaring bitmaps of ordinals:
//
//   - file path
//   - model name
//   - content hash (the canonical id is the earliest CreatedAt, ties broken by id)
//   - (file path, chunk id), one ordinal per model
//   - CreatedAt hour bucket
//
// A vector-free metadata projection backs precise range filtering and fast
// startup: the projection is persisted to a zstd-compressed side file and a
// missing, unreadable or stale side file leads to a full rebuild from storage.
//
// All five indexes and the projection change under one write lock. A rebuild
// fills a fresh Builder and swaps it in only when complete.
package index
