// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with write/sync capabilities
//   - [FileSystem]: open, read, remove, rename and directory operations
//
// # Implementations
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that injects torn writes, sync and rename failures
//
// # Atomic writes
//
// [WriteFileAtomic] is the single write primitive used for every file the store
// publishes (pages, tombstones, reference pool, index side file, marker):
//
//	temp/<name>.<nanos>.<seq>.tmp  --write--> fsync --> rename --> fsync(dir)
//
// A crash at any point leaves either the old file or the new file under the
// final name, plus at most an orphaned temp file that the cleanup manager sweeps.
//
// This package intentionally does NOT include context.Context parameters.
// Local filesystem operations are not interruptible at the syscall level.
package fs
