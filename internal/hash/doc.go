// Package hash provides the checksum used to detect corrupted page files.
//
// CRC32-C (Castagnoli) is hardware accelerated on amd64 (SSE4.2) and arm64 and
// is strong enough to detect torn or bit-flipped pages; it is not a
// cryptographic hash and is never used for content deduplication (entries use
// SHA-256 text hashes for that).
package hash
