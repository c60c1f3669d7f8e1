// Package rebuild reconstructs the indexes from storage and checks the
// health of a store.
//
// A Rebuilder reads every page with a bounded set of parallel readers into an
// index.Builder and swaps the result into the live index only after the whole
// store was read. Cancellation is checked between batches of pages; a
// cancelled or timed out rebuild leaves the live index untouched.
//
// A HealthChecker runs three independent passes (integrity, performance and
// corruption) and folds them into a Status with recommendations. It never
// repairs anything.
package rebuild
