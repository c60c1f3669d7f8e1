// Package storage persists embedding entries in fixed-capacity JSON pages.
//
// # Layout
//
//	<dir>/vector_<n>.json[.gz]   pages of up to MaxEntriesPerFile records
//	<dir>/vector_<n>.json.lock   held while a writer rewrites the page
//	<dir>/tombstones.json        logically deleted ids awaiting compaction
//	<dir>/references.json        delta-compression reference vectors
//	<dir>/.ainote_initialized    written after every successful open
//	<dir>/temp/                  in-flight atomic writes
//	<dir>/backups/backup_<ts>/   point-in-time copies
//
// Every write goes to a temporary file that is fsynced and renamed over the
// target, so a page is either its old or its new content, never a prefix.
// Readers refuse pages locked by another process instead of waiting.
// Stale locks are never cleared here; that is the cleanup manager's job.
package storage
