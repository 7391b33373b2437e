package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/termdeck/backend/internal/shared/types"
)

// Bucket and key names. The whole snapshot lives under one well-known key
// so an ordered write is atomic and a partial state can never be read back.
var (
	bucketConsole = []byte("console")
	keySessions   = []byte("sessions")
)

// Record is the durable subset of a session. Transport state, focus and
// stack order are never persisted: connections cannot be serialized, and
// exactly one session becomes active as part of restoration, not as stored
// truth.
type Record struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Position    types.Position `json:"position"`
	Size        types.Size     `json:"size"`
	IsMinimized bool           `json:"is_minimized"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Store persists session snapshots
type Store interface {
	// Load returns the snapshot in stored order. A missing or malformed
	// snapshot returns (nil, nil): both mean "no snapshot", never an error.
	Load() ([]Record, error)
	// Save replaces the snapshot
	Save(records []Record) error
	Close() error
}

// boltStore implements Store using BoltDB
type boltStore struct {
	db  *bolt.DB
	log *zap.Logger
}

// NewStore opens (creating if needed) the snapshot database at path
func NewStore(path string, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(bucketConsole)
		return createErr
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create console bucket: %w", err)
	}

	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Load() ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConsole).Get(keySessions)
		if data == nil {
			return nil
		}
		if unmarshalErr := json.Unmarshal(data, &records); unmarshalErr != nil {
			// A corrupt snapshot is treated as absent, never fatal.
			s.log.Warn("discarding malformed session snapshot", zap.Error(unmarshalErr))
			records = nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	return records, nil
}

func (s *boltStore) Save(records []Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConsole).Put(keySessions, data)
	})
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
