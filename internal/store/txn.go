package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AtomicWriter writes a file through a temp file in the same directory and
// renames it over the target on Commit, so readers never see a partial
// container.
type AtomicWriter struct {
	targetPath string
	tempPath   string
	tempFile   *os.File
}

// NewAtomicWriter creates a new atomic writer for the target path
func NewAtomicWriter(targetPath string) (*AtomicWriter, error) {
	dir := filepath.Dir(targetPath)
	base := filepath.Base(targetPath)

	cleanDir := filepath.Clean(dir)
	if cleanDir != dir {
		return nil, fmt.Errorf("invalid directory path: potential directory traversal detected")
	}
	if base == "." || strings.Contains(base, "..") || strings.ContainsRune(base, filepath.Separator) {
		return nil, fmt.Errorf("invalid filename: %s", base)
	}

	if err := os.MkdirAll(cleanDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(cleanDir, "."+base+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := tempFile.Chmod(0o600); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempFile.Name())
		return nil, fmt.Errorf("failed to set temp file permissions: %w", err)
	}

	return &AtomicWriter{
		targetPath: targetPath,
		tempPath:   tempFile.Name(),
		tempFile:   tempFile,
	}, nil
}

// Write writes data to the temporary file. On error the write is aborted.
func (aw *AtomicWriter) Write(data []byte) (int, error) {
	if aw.tempFile == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	n, err := aw.tempFile.Write(data)
	if err != nil {
		return n, errors.Join(err, aw.Abort())
	}
	return n, nil
}

// Commit syncs the temp file and renames it over the target.
func (aw *AtomicWriter) Commit() error {
	if aw.tempFile == nil {
		return fmt.Errorf("writer is closed")
	}

	if err := aw.tempFile.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync temp file: %w", err), aw.Abort())
	}
	if err := aw.tempFile.Close(); err != nil {
		aw.tempFile = nil
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), aw.Abort())
	}
	aw.tempFile = nil

	if err := os.Rename(aw.tempPath, aw.targetPath); err != nil {
		_ = os.Remove(aw.tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	syncDir(filepath.Dir(aw.targetPath))
	return nil
}

// Abort cancels the write and removes the temporary file.
func (aw *AtomicWriter) Abort() error {
	var err error
	if aw.tempFile != nil {
		err = aw.tempFile.Close()
		aw.tempFile = nil
	}
	if removeErr := os.Remove(aw.tempPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && err == nil {
		err = removeErr
	}
	return err
}

// AtomicWriteFile writes data to path atomically with 0600 permissions.
func AtomicWriteFile(path string, data []byte) error {
	writer, err := NewAtomicWriter(path)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Commit()
}

// EnsureFilePermissions tightens the file to 0600 if group or others have access.
func EnsureFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o077 != 0 {
		return os.Chmod(path, 0o600)
	}
	return nil
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
