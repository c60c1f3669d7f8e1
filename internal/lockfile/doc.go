// Package lockfile implements the advisory lock files that serialize writers
// of the same page file across processes.
//
// A lock is a sibling file "<target>.lock" created with O_EXCL and holding the
// owner's PID, hostname and creation time. Acquire fails fast when the file
// exists; AcquireWait polls until a timeout. Locks are removed on Release and
// by ReleaseAll when a store closes or the CLI shuts down.
//
// The package never removes someone else's lock. Stale locks (owner process
// gone, or older than a threshold) are detected with Info.IsStale and cleared
// by the cleanup manager.
package lockfile
