// Package recovery persists hard-delete sweep progress so a crashed sweep
// can resume without redoing or skipping records. The per-record recovery
// tokens are opaque bytes produced by the scan; this package only stores
// and returns them.
package recovery

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	tokensBucket     = []byte("tokens")
	checkpointBucket = []byte("checkpoint")
	checkpointKey    = []byte("last_offset")
)

// Store is a bbolt-backed recovery journal keyed by segment offset.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the recovery journal at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open recovery journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(tokensBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(checkpointBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// SaveToken records the recovery token for the record at offset and advances
// the checkpoint to that offset, in one transaction.
func (s *Store) SaveToken(offset int64, token []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(tokensBucket).Put(offsetKey(offset), token); err != nil {
			return err
		}
		return tx.Bucket(checkpointBucket).Put(checkpointKey, offsetKey(offset))
	})
}

// Token returns the stored token for offset, or nil if none exists.
func (s *Store) Token(offset int64) ([]byte, error) {
	var token []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(tokensBucket).Get(offsetKey(offset)); v != nil {
			token = append([]byte(nil), v...)
		}
		return nil
	})
	return token, err
}

// LastCheckpoint returns the offset of the last record whose token was
// persisted, and whether any checkpoint exists.
func (s *Store) LastCheckpoint() (int64, bool, error) {
	var offset int64
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(checkpointBucket).Get(checkpointKey); v != nil {
			offset = int64(binary.BigEndian.Uint64(v))
			ok = true
		}
		return nil
	})
	return offset, ok, err
}

// ForEachToken visits persisted tokens in ascending offset order.
func (s *Store) ForEachToken(fn func(offset int64, token []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(k, v []byte) error {
			return fn(int64(binary.BigEndian.Uint64(k)), v)
		})
	})
}

// Reset drops all tokens and the checkpoint, after a sweep completes and
// its replacements are synced.
func (s *Store) Reset() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(tokensBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(tokensBucket); err != nil {
			return err
		}
		return tx.Bucket(checkpointBucket).Delete(checkpointKey)
	})
}

// Close closes the journal.
func (s *Store) Close() error {
	return s.db.Close()
}

// offsetKey encodes offsets big-endian so bbolt's byte order matches
// numeric order.
func offsetKey(offset int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(offset))
	return buf
}
