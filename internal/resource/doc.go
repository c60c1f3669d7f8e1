// Package resource implements the controller for global limits and governance.
//
// The Controller manages three resource types:
//
//   - Memory: track (lazy-loaded chunks) or hard-limit (page cache) usage
//   - Concurrency: limit background jobs (cleanup tasks, compaction, prefetch)
//   - IO: rate-limit background rewrites so foreground reads are not starved
//
// Memory reservations are non-blocking: TryAcquireMemory reports false
// immediately and the caller decides whether to evict or skip caching. TrackMemory records usage whose bound is enforced by the
// caller itself, as the lazy loader does through chunk eviction.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     64 << 20,
//	    MaxBackgroundWorkers: 2,
//	    IOLimitBytesPerSec:   32 << 20,
//	})
//
// A nil *Controller is valid everywhere and imposes no limits.
package resource
