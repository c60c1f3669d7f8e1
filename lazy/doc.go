// Package lazy materializes stored embeddings on demand in fixed-size chunks.
//
// Ids are partitioned into chunks once, from the index order, and new ids are
// appended to the tail chunk. A chunk is loaded from storage on the first
// access to any of its entries and stays resident until it is evicted, either
// because the memory ceiling was exceeded (least recently accessed first) or
// because it was not touched within the configured TTL.
//
// When access learning is enabled the manager counts chunk-to-chunk
// transitions and, on a cache hit, prefetches the most frequent successors of
// the current chunk in the background.
package lazy
