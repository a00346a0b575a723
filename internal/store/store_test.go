package store

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestFileLock(t *testing.T) {
	target := filepath.Join(t.TempDir(), "test.lockbox")

	lock1 := NewFileLock(target)
	if err := lock1.Lock(time.Second); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if !lock1.IsLocked() {
		t.Error("Lock should be held")
	}
	if pid, ok := lock1.Holder(); !ok || pid != os.Getpid() {
		t.Errorf("Holder() = %d, %v; want own pid", pid, ok)
	}

	lock2 := NewFileLock(target)
	if err := lock2.Lock(100 * time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}

	if err := lock1.Unlock(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	if lock1.IsLocked() {
		t.Error("Lock should be released")
	}
	if err := lock1.Unlock(); !errors.Is(err, ErrLockNotHeld) {
		t.Errorf("Expected ErrLockNotHeld, got %v", err)
	}

	if err := lock2.Lock(time.Second); err != nil {
		t.Fatalf("Failed to acquire lock after release: %v", err)
	}
	if err := lock2.Unlock(); err != nil {
		t.Fatalf("Failed to release second lock: %v", err)
	}
}

func TestFileLockStale(t *testing.T) {
	target := filepath.Join(t.TempDir(), "test.lockbox")
	lock := NewFileLock(target)

	if err := os.WriteFile(lock.Path(), []byte("999999"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * DefaultStaleLockAge)
	if err := os.Chtimes(lock.Path(), old, old); err != nil {
		t.Fatal(err)
	}

	if err := lock.Lock(100 * time.Millisecond); err != nil {
		t.Fatalf("stale lock should be taken over: %v", err)
	}
	_ = lock.Unlock()
}

func TestAtomicWriter(t *testing.T) {
	tempDir := t.TempDir()
	targetPath := filepath.Join(tempDir, "test.txt")

	writer, err := NewAtomicWriter(targetPath)
	if err != nil {
		t.Fatalf("Failed to create atomic writer: %v", err)
	}
	testData := []byte("Hello, World!")
	if _, err := writer.Write(testData); err != nil {
		t.Fatalf("Failed to write data: %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	data, err := os.ReadFile(targetPath)
	if err != nil {
		t.Fatalf("Failed to read target file: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("File content mismatch: got %s, want %s", data, testData)
	}

	writer2, err := NewAtomicWriter(targetPath + ".2")
	if err != nil {
		t.Fatalf("Failed to create second atomic writer: %v", err)
	}
	_, _ = writer2.Write([]byte("This should be aborted"))
	if err := writer2.Abort(); err != nil {
		t.Fatalf("Failed to abort: %v", err)
	}
	if _, err := os.Stat(targetPath + ".2"); !os.IsNotExist(err) {
		t.Error("Aborted file should not exist")
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestFileStorage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "vault.lockbox")
	s := NewFileStorage()

	if _, err := s.ReadBytes(path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if s.Exists(path) {
		t.Error("file should not exist yet")
	}

	if err := s.WriteBytes(path, []byte("v1")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := s.WriteBytes(path, []byte("v2")); err != nil {
		t.Fatalf("WriteBytes overwrite: %v", err)
	}

	data, err := s.ReadBytes(path)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("got %q, want v2", data)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("vault permissions = %v, want 0600", info.Mode().Perm())
		}
	}
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Error("lock file should be removed after write")
	}
}

func TestFileStorageLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.lockbox")
	held := NewFileLock(path)
	if err := held.Lock(time.Second); err != nil {
		t.Fatal(err)
	}
	defer held.Unlock()

	s := NewFileStorage(WithLockTimeout(100 * time.Millisecond))
	if err := s.WriteBytes(path, []byte("x")); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	if _, err := s.ReadBytes("a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	src := []byte("data")
	if err := s.WriteBytes("a", src); err != nil {
		t.Fatal(err)
	}
	src[0] = 'X'

	got, err := s.ReadBytes("a")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "data" {
		t.Errorf("stored bytes must be copied, got %q", got)
	}
}

var _ ByteStorage = (*FileStorage)(nil)
var _ ByteStorage = (*MemoryStorage)(nil)
var _ HistoryStore = (*BoltHistory)(nil)
