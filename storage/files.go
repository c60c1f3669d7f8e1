package storage

import (
	"errors"
	"os"
	"strings"
	"time"
)

// FileMetrics describes the on-disk footprint.
type FileMetrics struct {
	TotalFiles       int       `json:"total_files"`
	TotalSizeBytes   int64     `json:"total_size_bytes"`
	PageBytes        int64     `json:"page_bytes"`
	SideFileBytes    int64     `json:"side_file_bytes"`
	TotalEntries     int       `json:"total_entries"`
	DeletedEntries   int       `json:"deleted_entries"`
	AverageFileSize  int64     `json:"average_file_size"`
	LargestFileBytes int64     `json:"largest_file_bytes"`
	CompressedFiles  int       `json:"compressed_files"`
	OldestModified   time.Time `json:"oldest_modified"`
	NewestModified   time.Time `json:"newest_modified"`
}

// FileMetrics stats every page and side file in the directory.
func (s *Storage) FileMetrics() (*FileMetrics, error) {
	dirEntries, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		return nil, wrap("readdir", s.dir, err)
	}

	m := &FileMetrics{}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, wrap("stat", de.Name(), err)
		}
		if !IsPageFile(de.Name()) {
			if de.Name() == tombstonesFile || de.Name() == referencesFile || strings.HasPrefix(de.Name(), "index.") {
				m.SideFileBytes += info.Size()
			}
			continue
		}

		m.TotalFiles++
		m.PageBytes += info.Size()
		m.LargestFileBytes = max(m.LargestFileBytes, info.Size())
		if strings.HasSuffix(de.Name(), gzipExt) {
			m.CompressedFiles++
		}
		mt := info.ModTime()
		if m.OldestModified.IsZero() || mt.Before(m.OldestModified) {
			m.OldestModified = mt
		}
		if mt.After(m.NewestModified) {
			m.NewestModified = mt
		}
	}

	m.TotalSizeBytes = m.PageBytes + m.SideFileBytes
	if m.TotalFiles > 0 {
		m.AverageFileSize = m.PageBytes / int64(m.TotalFiles)
	}
	m.TotalEntries = s.Count()
	m.DeletedEntries = s.PendingDeletions()
	return m, nil
}
