// Package store provides the host side collaborators of the vault engine:
// byte storage for container files, the history of recently opened vaults
// and the location chooser contract.
package store

import (
	"errors"

	"github.com/vault-cli/lockbox/internal/domain"
)

var (
	// ErrNotFound is returned when a location or history record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when the OS refuses access to a location.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrIO wraps any other storage failure.
	ErrIO = errors.New("storage i/o error")
	// ErrLocked is returned when another process holds the vault or history lock.
	ErrLocked = errors.New("locked by another process")
)

// ByteStorage reads and writes whole container files.
type ByteStorage interface {
	ReadBytes(location string) ([]byte, error)
	WriteBytes(location string, data []byte) error
}

// FileFilter narrows a location picker, e.g. {"Lockbox vault", ["lockbox"]}.
type FileFilter struct {
	Name       string
	Extensions []string
}

// VaultFilter matches container files.
var VaultFilter = FileFilter{Name: "Lockbox vault", Extensions: []string{"lockbox"}}

// LocationChooser asks the user for a location. ok is false when the user
// cancelled.
type LocationChooser interface {
	ChooseOpenLocation(filter FileFilter) (location string, ok bool, err error)
	ChooseSaveLocation(suggestedName string, filter FileFilter) (location string, ok bool, err error)
}

// MaxHistory is the number of history records kept.
const MaxHistory = 10

// HistoryStore persists recently opened vaults, most recent first.
type HistoryStore interface {
	// Add records an open of rec.Location. An existing record for the same
	// location keeps its ID and is refreshed in place.
	Add(rec domain.HistoryRecord) (domain.HistoryRecord, error)
	List() ([]domain.HistoryRecord, error)
	Find(location string) (domain.HistoryRecord, bool, error)
	Remove(location string) error
}
