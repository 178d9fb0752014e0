// Package state is the local, durable cache of user→container assignments.
// The container labels on the runtime stay authoritative; this cache exists
// so the orphan reaper still knows which users are tracked after a process
// restart.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/lsclear/sandbox/pkg/types"
)

var bucketContainers = []byte("containers")

// BoltStore persists container records in a local BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the state database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "sandbox.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketContainers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutContainer records (or replaces) the container assignment for a user.
func (s *BoltStore) PutContainer(rec *types.ContainerRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.UserID), data)
	})
}

// GetContainer returns the recorded assignment for a user, or nil when none
// exists.
func (s *BoltStore) GetContainer(userID string) (*types.ContainerRecord, error) {
	var rec *types.ContainerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContainers).Get([]byte(userID))
		if data == nil {
			return nil
		}
		rec = &types.ContainerRecord{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

// DeleteContainer drops the assignment for a user. Missing keys are not an
// error.
func (s *BoltStore) DeleteContainer(userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).Delete([]byte(userID))
	})
}

// ListContainers returns every recorded assignment.
func (s *BoltStore) ListContainers() ([]*types.ContainerRecord, error) {
	var recs []*types.ContainerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).ForEach(func(k, v []byte) error {
			var rec types.ContainerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	return recs, err
}
