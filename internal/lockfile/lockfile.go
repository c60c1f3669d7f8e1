package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/vecstore/internal/fs"
)

// Suffix is appended to the guarded file's path to form the lock path.
const Suffix = ".lock"

// ErrLocked is returned when the lock is held by someone else.
var ErrLocked = errors.New("file is locked")

// Info is the content of a lock file.
type Info struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	CreatedAt time.Time `json:"created_at"`
}

// Age returns how long the lock has existed at now.
func (i Info) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}

// IsStale reports whether the owner of the lock is gone or the lock is older
// than maxAge. Liveness is only checked for locks created on this host.
func (i Info) IsStale(now time.Time, maxAge time.Duration) bool {
	if maxAge > 0 && i.Age(now) > maxAge {
		return true
	}
	if i.PID <= 0 {
		return true
	}
	if host, _ := os.Hostname(); i.Hostname != "" && i.Hostname != host {
		return false
	}
	return !processAlive(i.PID)
}

// Path returns the lock file path guarding target.
func Path(target string) string { return target + Suffix }

// IsLockFile reports whether name is a lock file.
func IsLockFile(name string) bool { return strings.HasSuffix(name, Suffix) }

// Lock is a held advisory lock.
type Lock struct {
	fsys fs.FileSystem
	path string
	once sync.Once
}

// held tracks every lock acquired by this process so ReleaseAll can remove
// them on shutdown.
var held sync.Map // path -> *Lock

// Acquire creates the lock file for target exclusively. It fails fast with
// ErrLocked when the lock file already exists.
func Acquire(fsys fs.FileSystem, target string) (*Lock, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	path := Path(target)
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, err
	}

	host, _ := os.Hostname()
	data, _ := json.Marshal(Info{PID: os.Getpid(), Hostname: host, CreatedAt: time.Now().UTC()})
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = fsys.Remove(path)
		return nil, err
	}

	l := &Lock{fsys: fsys, path: path}
	held.Store(path, l)
	return l, nil
}

// AcquireWait retries Acquire until it succeeds, timeout elapses or ctx is done.
func AcquireWait(ctx context.Context, fsys fs.FileSystem, target string, timeout, poll time.Duration) (*Lock, error) {
	if poll <= 0 {
		poll = 5 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		l, err := Acquire(fsys, target)
		if err == nil || !errors.Is(err, ErrLocked) || !time.Now().Before(deadline) {
			return l, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	var err error
	l.once.Do(func() {
		held.Delete(l.path)
		if rerr := l.fsys.Remove(l.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
	})
	return err
}

// ReleaseAll removes every lock this process still holds below dir. An
// empty dir releases all of them.
func ReleaseAll(dir string) error {
	prefix := ""
	if dir != "" {
		prefix = filepath.Clean(dir) + string(filepath.Separator)
	}
	var errs []error
	held.Range(func(k, v any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			errs = append(errs, v.(*Lock).Release())
		}
		return true
	})
	return errors.Join(errs...)
}

// IsHeld reports whether a lock file exists for target.
func IsHeld(fsys fs.FileSystem, target string) bool {
	if fsys == nil {
		fsys = fs.Default
	}
	_, err := fsys.Stat(Path(target))
	return err == nil
}

// Read parses the lock file at lockPath.
func Read(fsys fs.FileSystem, lockPath string) (Info, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	data, err := fsys.ReadFile(lockPath)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("parse lock %s: %w", lockPath, err)
	}
	return info, nil
}
