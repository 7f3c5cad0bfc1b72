// Package store provides the durable key/value substrate shared by every
// namespaced cache and the offline sync queue. It is a thin adapter over
// an embedded bbolt database with a single bucket; consumers partition the
// keyspace by prefix.
package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	syncerr "github.com/gatherly/syncstore/pkg/errors"
)

var bucketName = []byte("syncstore")

// BoltStore implements types.Store on top of a bbolt database file.
type BoltStore struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Config represents store configuration.
type Config struct {
	// Path is the database file location. Parent directories are created.
	Path string `yaml:"path"`
	// OpenTimeout bounds the wait for the file lock.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// Open opens (creating if necessary) the database file and its bucket.
func Open(cfg Config, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, syncerr.NewError(syncerr.ErrCodeInvalidConfig, "store path is required").
			WithComponent("store")
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, syncerr.Wrap(syncerr.ErrCodeStorageRead, "failed to open store", err).
			WithComponent("store").WithContext("path", cfg.Path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	logger.Debug("store opened", zap.String("path", cfg.Path))
	return &BoltStore{db: db, logger: logger}, nil
}

// Get returns the raw bytes for key, or ok=false if absent.
func (s *BoltStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v != nil {
			// bbolt memory is only valid inside the transaction
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, syncerr.Wrap(syncerr.ErrCodeStorageRead, "read failed", err).
			WithComponent("store").WithContext("key", key)
	}
	return value, value != nil, nil
}

// Set writes the raw bytes for key, replacing any existing value.
func (s *BoltStore) Set(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
	if err != nil {
		return syncerr.Wrap(syncerr.ErrCodeStorageWrite, "write failed", err).
			WithComponent("store").WithContext("key", key)
	}
	return nil
}

// Delete removes key; deleting an absent key is not an error.
func (s *BoltStore) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return syncerr.Wrap(syncerr.ErrCodeStorageWrite, "delete failed", err).
			WithComponent("store").WithContext("key", key)
	}
	return nil
}

// Keys returns every key beginning with prefix.
func (s *BoltStore) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.ForEachPrefix(prefix, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ForEachPrefix visits every key/value pair under prefix via a cursor seek.
// Errors returned by fn stop the scan and propagate to the caller unwrapped.
func (s *BoltStore) ForEachPrefix(prefix string, fn func(key string, value []byte) error) error {
	p := []byte(prefix)
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := fn(string(k), append([]byte(nil), v...)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
