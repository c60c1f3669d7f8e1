package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hupe1980/vecstore/compression"
	"github.com/hupe1980/vecstore/internal/hash"
	"github.com/hupe1980/vecstore/model"
)

const (
	pageVersion = 1

	pagePrefix = "vector_"
	pageExt    = ".json"
	gzipExt    = ".gz"

	// TempDirName is the directory for in-flight atomic writes.
	TempDirName = "temp"
	// BackupDirName is the directory holding backups.
	BackupDirName = "backups"

	tombstonesFile = "tombstones.json"
	referencesFile = "references.json"
)

var pageRe = regexp.MustCompile(`^vector_(\d+)\.json(\.gz)?$`)

// PageName returns the file name of page n.
func PageName(n int, gzipped bool) string {
	name := pagePrefix + strconv.Itoa(n) + pageExt
	if gzipped {
		name += gzipExt
	}
	return name
}

// ParsePageName returns the page number of a page file name.
func ParsePageName(name string) (n int, gzipped bool, ok bool) {
	m := pageRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false, false
	}
	return n, m[2] != "", true
}

// IsPageFile reports whether name is a page file.
func IsPageFile(name string) bool {
	_, _, ok := ParsePageName(name)
	return ok
}

// envelope is the on-disk page layout. Checksum covers the raw Entries bytes.
type envelope struct {
	Version  int             `json:"version"`
	Count    int             `json:"count"`
	Checksum string          `json:"checksum,omitempty"`
	Entries  json.RawMessage `json:"entries"`
}

// record is one stored entry with its encoded vector.
type record struct {
	ID       string                        `json:"id"`
	Vector   *compression.CompressedVector `json:"vector"`
	Metadata model.EmbeddingMetadata       `json:"metadata"`
}

func (s *Storage) encodePage(records []record) (data, entries []byte, err error) {
	entries, err = s.codec.Marshal(records)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	env := envelope{Version: pageVersion, Count: len(records), Entries: entries}
	if s.cfg.EnableChecksums {
		env.Checksum = hash.Checksum(entries)
	}
	data, err = s.codec.Marshal(env)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if s.cfg.EnableCompression {
		if data, err = compression.Gzip(data); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrSerialization, err)
		}
	}
	return data, entries, nil
}

// decodePage verifies a page file and returns its raw entries bytes and the
// declared record count.
func (s *Storage) decodePage(name string, data []byte) ([]byte, int, error) {
	if strings.HasSuffix(name, gzipExt) {
		var err error
		if data, err = compression.Gunzip(data); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}
	var env envelope
	if err := s.codec.Unmarshal(data, &env); err != nil {
		return nil, 0, fmt.Errorf("%w: %w: %w", ErrCorrupt, ErrSerialization, err)
	}
	if env.Version > pageVersion {
		return nil, 0, fmt.Errorf("%w: unsupported page version %d", ErrCorrupt, env.Version)
	}
	if s.cfg.EnableChecksums && !hash.Verify(env.Entries, env.Checksum) {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return env.Entries, env.Count, nil
}

// decodeRecords parses raw entries bytes. A negative count skips the count check.
func (s *Storage) decodeRecords(entries []byte, count int) ([]record, error) {
	var records []record
	if err := s.codec.Unmarshal(entries, &records); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrCorrupt, ErrSerialization, err)
	}
	if count >= 0 && count != len(records) {
		return nil, fmt.Errorf("%w: header declares %d records, found %d", ErrCorrupt, count, len(records))
	}
	return records, nil
}
