// Package vecstore is an embedded, file-backed store for embedding vectors.
//
// Entries are written to compressed JSON pages with atomic replace, looked
// up through in-memory indexes by id, file path, model, content hash, chunk
// and creation time, and loaded lazily within a memory budget. The store
// can validate itself and rebuild its indexes from the pages.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := vecstore.Open(ctx, "./data")
//	defer db.Close()
//
//	id, _ := db.Vectors().StoreEmbedding(ctx, vec, "docs/a.md", "chunk_0", text, "text-embedding-3-small")
//	e, _ := db.Vectors().GetEmbedding(ctx, id)
//
// # Operations
//
// Operations are grouped by concern:
//
//	db.Vectors()     // single-entry CRUD and lookups
//	db.Batch()       // all-or-nothing batch variants
//	db.Validation()  // integrity checks and duplicate detection
//	db.Cleanup()     // orphan, file, age and duplicate removal, compaction
//
// Input is validated before anything is written. A batch with one invalid
// item writes nothing and returns a *BatchError.
//
// # Maintenance
//
// Open starts a cron-scheduled cleanup manager (temp files, stale locks,
// cache eviction, compaction, log rotation, backup retention) unless
// WithoutBackgroundTasks is given. RebuildIndexes reconstructs every index
// from storage and swaps it in only when complete. HealthCheck and
// QuickHealthCheck report corruption without repairing it.
//
// # Configuration
//
// The config package loads YAML, .env files and VECSTORE_* environment
// variables:
//
//	cfg, _ := config.Load("vecstore.yaml", ".env")
//	db, _ := vecstore.Open(ctx, cfg.StorageDir, vecstore.WithConfig(cfg))
package vecstore
