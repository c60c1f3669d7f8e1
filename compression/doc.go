// Package compression encodes embedding vectors.
//
// Vectors are stored raw, 8- or 16-bit scalar quantized, or as a quantized
// difference against a reference vector (delta). Quantization is lossy with
// a per-component error bound of scale/2, where scale = (max-min)/(2^bits-1).
//
// Delta references live in a ReferencePool owned by the storage layer and
// persisted next to the pages. A delta whose reference cannot be found fails
// to decode with ErrReferenceNotFound; it is never silently reinterpreted.
//
// The package also carries the byte-stream codecs used for pages (gzip) and
// for archiving old pages (lz4).
package compression
