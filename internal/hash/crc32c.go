package hash

import (
	"fmt"
	"hash/crc32"
)

// crc32cTable is pre-computed for the CRC32-Castagnoli polynomial.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// Checksum returns the CRC32-C of data as a fixed-width hex string, the form
// stored in page envelopes.
func Checksum(data []byte) string {
	return fmt.Sprintf("%08x", CRC32C(data))
}

// Verify reports whether data matches a checksum produced by Checksum.
// An empty expected checksum always verifies (checksums disabled at write time).
func Verify(data []byte, expected string) bool {
	if expected == "" {
		return true
	}
	return Checksum(data) == expected
}
