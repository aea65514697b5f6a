// Package store persists completed scans in a bbolt file.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/MeKo-Tech/labelscan/internal/fields"
)

const bucketName = "scans"

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("store: scan not found")

// Entry is one recorded scan.
type Entry struct {
	ID         string           `json:"scan_id"`
	Fields     *fields.FieldSet `json:"fields"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// BoltRecorder implements scan.Recorder on top of bbolt. Keys are scan ids;
// since ids are UUIDv7 the key order is submission order.
type BoltRecorder struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*BoltRecorder, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening scan store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &BoltRecorder{db: db, now: time.Now}, nil
}

// Record stores fs under id, replacing any previous entry.
func (b *BoltRecorder) Record(ctx context.Context, id string, fs *fields.FieldSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return errors.New("store: empty scan id")
	}
	data, err := json.Marshal(Entry{ID: id, Fields: fs, RecordedAt: b.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshaling scan: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(id), data)
	})
}

// Get returns the entry stored under id.
func (b *BoltRecorder) Get(id string) (*Entry, error) {
	var e *Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (b *BoltRecorder) List(limit int) ([]*Entry, error) {
	entries := make([]*Entry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling scan %s: %w", k, err)
			}
			entries = append(entries, &e)
			if limit > 0 && len(entries) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Count returns the number of stored scans.
func (b *BoltRecorder) Count() (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database.
func (b *BoltRecorder) Close() error {
	return b.db.Close()
}
