package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long a write waits for another process.
const DefaultLockTimeout = 2 * time.Second

// FileStorage stores containers as files. Writes are atomic, serialized by
// a lock file and restricted to the owner.
type FileStorage struct {
	lockTimeout time.Duration
	logger      *slog.Logger
}

// FileOption configures a FileStorage.
type FileOption func(*FileStorage)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) FileOption {
	return func(s *FileStorage) {
		s.lockTimeout = d
	}
}

// WithFileLogger sets the logger.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(s *FileStorage) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewFileStorage creates a FileStorage.
func NewFileStorage(opts ...FileOption) *FileStorage {
	s := &FileStorage{
		lockTimeout: DefaultLockTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadBytes returns the contents of location.
func (s *FileStorage) ReadBytes(location string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(location))
	if err != nil {
		return nil, mapFSError(location, err)
	}
	if err := EnsureFilePermissions(location); err != nil {
		s.logger.Warn("could not tighten vault file permissions", slog.String("path", location), slog.Any("error", err))
	}
	return data, nil
}

// WriteBytes atomically replaces location with data.
func (s *FileStorage) WriteBytes(location string, data []byte) error {
	location = filepath.Clean(location)
	lock := NewFileLock(location)
	if err := lock.Lock(s.lockTimeout); err != nil {
		if errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrLocked) {
			return fmt.Errorf("%w: %s", ErrLocked, location)
		}
		return mapFSError(location, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("failed to release vault lock", slog.String("path", lock.Path()), slog.Any("error", err))
		}
	}()

	if err := AtomicWriteFile(location, data); err != nil {
		return mapFSError(location, err)
	}
	s.logger.Debug("vault written", slog.String("path", location), slog.Int("bytes", len(data)))
	return nil
}

// Exists reports whether a file is present at location.
func (s *FileStorage) Exists(location string) bool {
	_, err := os.Stat(location)
	return err == nil
}

func mapFSError(location string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, location)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, location)
	default:
		return fmt.Errorf("%w: %s: %v", ErrIO, location, err)
	}
}

// MemoryStorage is an in-process ByteStorage.
type MemoryStorage struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{files: make(map[string][]byte)}
}

func (m *MemoryStorage) ReadBytes(location string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStorage) WriteBytes(location string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[location] = append([]byte(nil), data...)
	return nil
}
