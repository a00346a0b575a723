package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/vault-cli/lockbox/internal/domain"
)

// HistoryBucket holds one JSON HistoryRecord per location key.
var HistoryBucket = []byte("history")

// BoltHistory implements HistoryStore on a bbolt database.
type BoltHistory struct {
	db     *bbolt.DB
	now    func() time.Time
	logger *slog.Logger
}

// HistoryOption configures a BoltHistory.
type HistoryOption func(*BoltHistory)

// WithHistoryClock overrides the time source for LastOpenedAt.
func WithHistoryClock(now func() time.Time) HistoryOption {
	return func(h *BoltHistory) {
		h.now = now
	}
}

// WithHistoryLogger sets the logger.
func WithHistoryLogger(l *slog.Logger) HistoryOption {
	return func(h *BoltHistory) {
		if l != nil {
			h.logger = l
		}
	}
}

// OpenHistory opens (creating if needed) the history database at path.
func OpenHistory(path string, opts ...HistoryOption) (*BoltHistory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, mapFSError(path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(HistoryBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history bucket: %w", err)
	}

	h := &BoltHistory{
		db:     db,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Close closes the database.
func (h *BoltHistory) Close() error {
	return h.db.Close()
}

// Add records that rec.Location was just opened. The stored record is
// returned. Records beyond MaxHistory are evicted, least recently opened first.
func (h *BoltHistory) Add(rec domain.HistoryRecord) (domain.HistoryRecord, error) {
	if rec.Location == "" {
		return domain.HistoryRecord{}, fmt.Errorf("history record needs a location")
	}

	rec.LastOpenedAt = h.now().UTC()

	err := h.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HistoryBucket)

		if existing := b.Get([]byte(rec.Location)); existing != nil {
			var prev domain.HistoryRecord
			if err := json.Unmarshal(existing, &prev); err == nil {
				rec.ID = prev.ID
			}
		}
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal history record: %w", err)
		}
		if err := b.Put([]byte(rec.Location), data); err != nil {
			return err
		}

		if err := dropCorrupt(b, h.logger); err != nil {
			return err
		}
		records, err := readAll(b, h.logger)
		if err != nil {
			return err
		}
		// The record just added survives eviction even when timestamps tie.
		kept := []domain.HistoryRecord{rec}
		for _, r := range records {
			if r.Location != rec.Location {
				kept = append(kept, r)
			}
		}
		for _, old := range kept[min(len(kept), MaxHistory):] {
			if err := b.Delete([]byte(old.Location)); err != nil {
				return err
			}
			h.logger.Debug("evicted history record", slog.String("location", old.Location))
		}
		return nil
	})
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return rec, nil
}

// List returns the records, most recently opened first.
func (h *BoltHistory) List() ([]domain.HistoryRecord, error) {
	var records []domain.HistoryRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		var err error
		records, err = readAll(tx.Bucket(HistoryBucket), h.logger)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return records, nil
}

// Find returns the record for location.
func (h *BoltHistory) Find(location string) (domain.HistoryRecord, bool, error) {
	var (
		rec   domain.HistoryRecord
		found bool
	)
	err := h.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(HistoryBucket).Get([]byte(location))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return domain.HistoryRecord{}, false, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return rec, found, nil
}

// Remove deletes the record for location.
func (h *BoltHistory) Remove(location string) error {
	return h.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HistoryBucket)
		if b.Get([]byte(location)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return b.Delete([]byte(location))
	})
}

// dropCorrupt deletes records that no longer decode.
func dropCorrupt(b *bbolt.Bucket, logger *slog.Logger) error {
	var corrupt [][]byte
	err := b.ForEach(func(k, v []byte) error {
		var rec domain.HistoryRecord
		if json.Unmarshal(v, &rec) != nil {
			corrupt = append(corrupt, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range corrupt {
		if err := b.Delete(k); err != nil {
			return err
		}
		logger.Warn("deleted corrupt history record", slog.String("location", string(k)))
	}
	return nil
}

// readAll decodes every record, skipping corrupt ones, sorted most recent first.
func readAll(b *bbolt.Bucket, logger *slog.Logger) ([]domain.HistoryRecord, error) {
	var records []domain.HistoryRecord
	err := b.ForEach(func(k, v []byte) error {
		var rec domain.HistoryRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			logger.Warn("skipping corrupt history record", slog.String("location", string(k)), slog.Any("error", err))
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastOpenedAt.After(records[j].LastOpenedAt)
	})
	return records, nil
}
