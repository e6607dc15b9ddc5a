package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/uptime-industries/pixcut-link/pkg/avocado/device"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/job"
	"go.etcd.io/bbolt"
)

var (
	jobsBucket = []byte("jobs")

	ErrNotFound = errors.New("job not found")
)

// Entry is what the journal knows about one job.
type Entry struct {
	job.Handle
	// Status is the last observed job state, nil until one was seen.
	Status    *device.JobStatusInfo `json:"status,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Journal persists job handles and their last known state in a bbolt file.
// It implements job.Recorder.
type Journal struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	}); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func jobKey(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	return b
}

// RecordHandle stores a newly accepted job. A job with the same ID replaces
// the previous entry.
func (j *Journal) RecordHandle(h job.Handle) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(jobsBucket), Entry{Handle: h, UpdatedAt: j.now()})
	})
}

// RecordStatus updates the state of a known job. States for unknown jobs are
// stored with an empty handle.
func (j *Journal) RecordStatus(info device.JobStatusInfo) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		entry, err := get(b, info.JobID)
		if errors.Is(err, ErrNotFound) {
			entry = Entry{Handle: job.Handle{JobID: info.JobID}}
		} else if err != nil {
			return err
		}
		entry.Status = &info
		entry.UpdatedAt = j.now()
		return put(b, entry)
	})
}

// Get returns the entry for jobID.
func (j *Journal) Get(jobID uint32) (Entry, error) {
	var entry Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		var err error
		entry, err = get(tx.Bucket(jobsBucket), jobID)
		return err
	})
	return entry, err
}

// List returns every entry, most recently updated first.
func (j *Journal) List() ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode job %d: %w", binary.BigEndian.Uint32(k), err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].UpdatedAt.After(entries[b].UpdatedAt)
	})
	return entries, nil
}

func get(b *bbolt.Bucket, id uint32) (Entry, error) {
	v := b.Get(jobKey(id))
	if v == nil {
		return Entry{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	var entry Entry
	if err := json.Unmarshal(v, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode job %d: %w", id, err)
	}
	return entry, nil
}

func put(b *bbolt.Bucket, entry Entry) error {
	v, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.Put(jobKey(entry.JobID), v)
}
