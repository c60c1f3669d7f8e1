package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/vecstore/compression"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/lockfile"
	"github.com/hupe1980/vecstore/storage"
)

// Task names.
const (
	TaskTempFiles           = "temp_files"
	TaskStaleLocks          = "stale_locks"
	TaskCacheEviction       = "cache_eviction"
	TaskStorageOptimization = "storage_optimization"
	TaskLogRotation         = "log_rotation"
	TaskBackupRetention     = "backup_retention"
	TaskAgeCompression      = "age_compression"
)

// TaskNames lists every task in execution order.
var TaskNames = []string{
	TaskTempFiles,
	TaskStaleLocks,
	TaskCacheEviction,
	TaskStorageOptimization,
	TaskLogRotation,
	TaskBackupRetention,
	TaskAgeCompression,
}

// TaskResult is the outcome of one task run.
type TaskResult struct {
	Task         string        `json:"task"`
	FilesCleaned int           `json:"files_cleaned"`
	BytesFreed   int64         `json:"bytes_freed"`
	Duration     time.Duration `json:"duration"`
	Message      string        `json:"message,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (r *TaskResult) removed(size int64) {
	r.FilesCleaned++
	r.BytesFreed += size
}

// sweepTemp deletes files under the temp directory older than the threshold.
func (m *Manager) sweepTemp(ctx context.Context) (TaskResult, error) {
	var res TaskResult
	dir := filepath.Join(m.dir, storage.TempDirName)
	cutoff := m.now().Add(-m.cfg.TempFileAgeThreshold)
	err := walkFiles(m.fsys, dir, func(path string, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := m.fsys.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return classify("remove temp file", path, err)
		}
		res.removed(info.Size())
		return nil
	})
	return res, err
}

// SweepStaleLocks removes lock files in dir whose owner is gone or that are
// older than maxAge. Unreadable lock files older than maxAge are removed too.
func SweepStaleLocks(fsys fs.FileSystem, dir string, maxAge time.Duration, now time.Time) (TaskResult, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	res := TaskResult{Task: TaskStaleLocks}
	des, err := fsys.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, classify("list locks", dir, err)
	}
	for _, de := range des {
		if de.IsDir() || !lockfile.IsLockFile(de.Name()) {
			continue
		}
		path := filepath.Join(dir, de.Name())
		info, err := de.Info()
		if err != nil {
			continue
		}
		stale := false
		if li, err := lockfile.Read(fsys, path); err == nil {
			stale = li.IsStale(now, maxAge)
		} else {
			stale = now.Sub(info.ModTime()) > maxAge
		}
		if !stale {
			continue
		}
		if err := fsys.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return res, classify("remove lock", path, err)
		}
		res.removed(info.Size())
	}
	return res, nil
}

func (m *Manager) sweepLocks(context.Context) (TaskResult, error) {
	return SweepStaleLocks(m.fsys, m.dir, m.cfg.StaleLockAge, m.now())
}

// lz4Ext marks a compressed log file.
const lz4Ext = ".lz4"

// isLogFile matches app.log, rotated app.log.1 and their LZ4 copies.
func isLogFile(name string) bool {
	return strings.HasSuffix(name, ".log") || strings.Contains(name, ".log.")
}

// rotateLogs deletes log files older than MaxLogAgeDays.
func (m *Manager) rotateLogs(ctx context.Context) (TaskResult, error) {
	var res TaskResult
	if m.logDirErr != nil {
		return res, m.logDirErr
	}
	if m.cfg.MaxLogAgeDays <= 0 {
		return res, nil
	}
	cutoff := m.now().AddDate(0, 0, -m.cfg.MaxLogAgeDays)
	err := walkFiles(m.fsys, m.logDir, func(path string, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !isLogFile(info.Name()) || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := m.fsys.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return classify("remove log", path, err)
		}
		res.removed(info.Size())
		return nil
	})
	return res, err
}

// compressLogs replaces log files older than CompressAfter with an LZ4 copy.
func (m *Manager) compressLogs(ctx context.Context) (TaskResult, error) {
	var res TaskResult
	if m.logDirErr != nil {
		return res, m.logDirErr
	}
	if m.cfg.CompressAfter <= 0 {
		return res, nil
	}
	cutoff := m.now().Add(-m.cfg.CompressAfter)
	tmp := filepath.Join(m.dir, storage.TempDirName)
	err := walkFiles(m.fsys, m.logDir, func(path string, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := info.Name()
		if !isLogFile(name) || strings.HasSuffix(name, lz4Ext) || !info.ModTime().Before(cutoff) {
			return nil
		}
		data, err := m.fsys.ReadFile(path)
		if err != nil {
			return classify("read log", path, err)
		}
		packed, err := compression.LZ4(data)
		if err != nil {
			return err
		}
		if err := fs.WriteFileAtomic(m.fsys, tmp, path+lz4Ext, packed, 0o644); err != nil {
			return classify("write compressed log", path, err)
		}
		if err := m.fsys.Remove(path); err != nil {
			return classify("remove log", path, err)
		}
		res.FilesCleaned++
		res.BytesFreed += info.Size() - int64(len(packed))
		return nil
	})
	return res, err
}

// pruneBackups deletes the oldest backups beyond MaxBackupsToKeep.
func (m *Manager) pruneBackups(ctx context.Context) (TaskResult, error) {
	var res TaskResult
	if m.cfg.MaxBackupsToKeep <= 0 {
		return res, nil
	}
	root := filepath.Join(m.dir, storage.BackupDirName)
	des, err := m.fsys.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, classify("list backups", root, err)
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	var backups []backup
	for _, de := range des {
		if !de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{filepath.Join(root, de.Name()), info.ModTime()})
	}
	if len(backups) <= m.cfg.MaxBackupsToKeep {
		return res, nil
	}
	slices.SortFunc(backups, func(a, b backup) int { return a.modTime.Compare(b.modTime) })

	for _, b := range backups[:len(backups)-m.cfg.MaxBackupsToKeep] {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		files, size := dirSize(m.fsys, b.path)
		if err := m.fsys.RemoveAll(b.path); err != nil {
			return res, classify("remove backup", b.path, err)
		}
		res.FilesCleaned += files
		res.BytesFreed += size
	}
	return res, nil
}

// walkFiles calls fn for every regular file below dir. A missing dir is empty.
func walkFiles(fsys fs.FileSystem, dir string, fn func(path string, info os.FileInfo) error) error {
	des, err := fsys.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return classify("list", dir, err)
	}
	for _, de := range des {
		path := filepath.Join(dir, de.Name())
		if de.IsDir() {
			if err := walkFiles(fsys, path, fn); err != nil {
				return err
			}
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if err := fn(path, info); err != nil {
			return err
		}
	}
	return nil
}

func dirSize(fsys fs.FileSystem, dir string) (files int, size int64) {
	_ = walkFiles(fsys, dir, func(_ string, info os.FileInfo) error {
		files++
		size += info.Size()
		return nil
	})
	return files, size
}
