// Package cache provides the page cache that sits between the storage layer
// and the page files on disk.
//
// Pages are cached after decompression and checksum verification, so a cache
// hit skips both gzip and CRC work. Every page rewrite (store, update,
// compaction) removes the page from the cache before the new file is
// published; readers therefore never see a stale page after a write returns.
//
// The LRU is bounded in bytes and optionally reports its usage to a
// resource.Controller so the page cache and other memory consumers share one
// budget.
package cache
