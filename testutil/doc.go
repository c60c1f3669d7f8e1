// Package testutil provides testing utilities for vecstore.
//
// This package is intended for use in tests only. It provides helpers for
// generating random vectors and fully populated embedding entries.
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UnitVectors(100, 384)
//	entries := rng.Entries(1000, testutil.EntryOptions{Dimension: 384, Files: 10})
package testutil
