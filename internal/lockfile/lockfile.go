// Package lockfile arbitrates compute devices between independent processes.
//
// A device is identified extrinsically by a canonical lock file path. Holding a
// non-blocking exclusive advisory lock (flock) on that path means the device is
// claimed. The lock is dropped when the handle is closed, or by the kernel when
// the owning process exits.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxnlabs/oclarbiter/internal/metrics"
	"go.uber.org/zap"
)

const (
	// DefaultDir is where lock files live unless configured otherwise.
	DefaultDir = "/tmp"

	filePrefix = "gpu"
	fileSuffix = ".lck"

	// filePermissions lets other users open and lock a file created by us.
	filePermissions = 0666
)

var (
	// ErrBusy is returned when another holder owns the lock.
	ErrBusy = errors.New("lock file is already locked")

	// ErrUnsupported is returned on systems without flock.
	ErrUnsupported = errors.New("advisory file locking is not supported on this system")
)

// Key identifies one device across processes.
type Key struct {
	PlatformOffset int
	DeviceIndex    int
	PlatformName   string
	DeviceName     string
}

// Path returns the canonical lock file path for k inside dir.
func (k Key) Path(dir string) string {
	raw := fmt.Sprintf("%d_%d_%s_%s", k.PlatformOffset, k.DeviceIndex, k.PlatformName, k.DeviceName)
	return filepath.Join(dir, filePrefix+sanitize(raw)+fileSuffix)
}

func (k Key) String() string {
	return fmt.Sprintf("platform %d device %d (%s, %s)", k.PlatformOffset, k.DeviceIndex, k.PlatformName, k.DeviceName)
}

// FilePath returns the canonical lock file path in DefaultDir. The same inputs
// always produce the same path so that competing processes target one file.
func FilePath(deviceIndex, platformOffset int, platformName, deviceName string) string {
	return Key{
		PlatformOffset: platformOffset,
		DeviceIndex:    deviceIndex,
		PlatformName:   platformName,
		DeviceName:     deviceName,
	}.Path(DefaultDir)
}

// sanitize replaces every byte outside [A-Za-z0-9] with an underscore.
// Works on bytes, not runes: a two-byte UTF-8 character yields two underscores.
func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !isLetter && !isDigit {
			b[i] = '_'
		}
	}
	return string(b)
}

// Handle is a held advisory lock.
type Handle struct {
	f      *os.File
	path   string
	logger *zap.Logger
}

// Path returns the locked file's path.
func (h *Handle) Path() string {
	return h.path
}

// Release closes the file, which drops the lock. Calling it again is a no-op.
func (h *Handle) Release() error {
	if h == nil || h.f == nil {
		return nil
	}
	h.logger.Debug("closing lock file", zap.String("path", h.path))
	err := h.f.Close()
	h.f = nil
	metrics.DevicesLocked.Dec()
	if err != nil {
		return fmt.Errorf("closing lock file %s: %w", h.path, err)
	}
	return nil
}

// Locker performs advisory lock operations on files inside one directory.
type Locker struct {
	dir    string
	logger *zap.Logger
}

// New creates a Locker rooted at dir. An empty dir means DefaultDir.
func New(dir string, logger *zap.Logger) *Locker {
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{
		dir:    dir,
		logger: logger,
	}
}

// Dir returns the directory lock files are created in.
func (l *Locker) Dir() string {
	return l.dir
}

// Path returns the canonical lock file path of k.
func (l *Locker) Path(k Key) string {
	return k.Path(l.dir)
}

// TryAcquire opens (creating if absent) the file at path and takes a
// non-blocking exclusive lock on it. It never waits: if another holder owns
// the lock it fails at once with ErrBusy. Any other failure is returned as is.
func (l *Locker) TryAcquire(path string) (*Handle, error) {
	l.logger.Debug("attempting to open and lock file", zap.String("path", path))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, filePermissions)
	if err != nil {
		metrics.LockAttempts.WithLabelValues(metrics.ResultError).Inc()
		l.logger.Warn("could not open lock file", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := tryLock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrBusy) {
			metrics.LockAttempts.WithLabelValues(metrics.ResultBusy).Inc()
			l.logger.Info("lock file is already locked", zap.String("path", path))
			return nil, fmt.Errorf("%s: %w", path, ErrBusy)
		}
		metrics.LockAttempts.WithLabelValues(metrics.ResultError).Inc()
		l.logger.Warn("file lock operation failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	metrics.LockAttempts.WithLabelValues(metrics.ResultAcquired).Inc()
	metrics.DevicesLocked.Inc()
	return &Handle{
		f:      f,
		path:   path,
		logger: l.logger,
	}, nil
}

// Probe reports whether path is currently locked by some holder. It acquires
// the lock and immediately releases it, so the answer may be stale by the time
// the caller acts on it. Open or lock failures count as "in use".
func (l *Locker) Probe(path string) bool {
	h, err := l.TryAcquire(path)
	if err != nil {
		return true
	}
	if err := h.Release(); err != nil {
		l.logger.Warn("failed to release probe lock", zap.String("path", path), zap.Error(err))
	}
	return false
}

// InUse implements Reserver.
func (l *Locker) InUse(k Key) bool {
	return l.Probe(l.Path(k))
}

// Reserve implements Reserver.
func (l *Locker) Reserve(k Key) (Reservation, error) {
	h, err := l.TryAcquire(l.Path(k))
	if err != nil {
		return nil, err
	}
	return h, nil
}
