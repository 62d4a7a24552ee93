package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	snapshotsBucket = []byte("snapshots")
	metaBucket      = []byte("metadata")

	rateLimitKey = []byte("last_rate_limit")
)

// ErrNotFound is returned when a requested snapshot does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *bolt.DB
}

func NewStore(dbPath string) (*Store, error) {
	return NewStoreWithTimeout(dbPath, 1*time.Second)
}

// NewStoreWithTimeout opens the archive, waiting at most timeout for the
// file lock held by another process.
func NewStoreWithTimeout(dbPath string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{snapshotsBucket, metaBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot stores snap under its date, replacing any earlier snapshot
// of the same day.
func (s *Store) SaveSnapshot(snap *Snapshot) error {
	if snap.Date == "" {
		return fmt.Errorf("snapshot date is empty")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotsBucket)
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return b.Put([]byte(snap.Date), data)
	})
}

func (s *Store) GetSnapshot(date string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotsBucket)
		data := b.Get([]byte(date))
		if data == nil {
			return fmt.Errorf("snapshot %s: %w", date, ErrNotFound)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// LatestSnapshot returns the most recent archived day.
func (s *Store) LatestSnapshot() (*Snapshot, error) {
	var latest []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		// Keys are YYYY-MM-DD, so byte order is date order.
		_, v := tx.Bucket(snapshotsBucket).Cursor().Last()
		if v == nil {
			return fmt.Errorf("latest snapshot: %w", ErrNotFound)
		}
		latest = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(latest, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

// ListDates returns the archived dates, newest first.
func (s *Store) ListDates() ([]string, error) {
	var dates []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotsBucket)
		return b.ForEach(func(k, _ []byte) error {
			dates = append(dates, string(k))
			return nil
		})
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, err
}

func (s *Store) DeleteSnapshot(date string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotsBucket)
		if b.Get([]byte(date)) == nil {
			return fmt.Errorf("snapshot %s: %w", date, ErrNotFound)
		}
		return b.Delete([]byte(date))
	})
}

// PruneBefore deletes every snapshot older than date and reports how many
// were removed.
func (s *Store) PruneBefore(date string) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotsBucket)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && string(k) < date; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		// Deleting through the cursor while iterating skips keys.
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *Store) SaveRateLimit(rl RateLimit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rl)
		if err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put(rateLimitKey, data)
	})
}

func (s *Store) GetRateLimit() (*RateLimit, error) {
	var rl RateLimit
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(metaBucket).Get(rateLimitKey)
		if data == nil {
			return fmt.Errorf("rate limit: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &rl)
	})
	if err != nil {
		return nil, err
	}
	return &rl, nil
}
