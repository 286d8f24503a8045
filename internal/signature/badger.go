package signature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dyluth/glint/pkg/blackboard"
)

const badgerKeyPrefix = "sig:"

// BadgerConfig configures the on-disk store.
type BadgerConfig struct {
	Path       string // Directory for database files; ignored when InMemory
	InMemory   bool   // Keep everything in memory (tests)
	SyncWrites bool   // fsync every write
}

// DefaultBadgerConfig returns durable settings for the given directory.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns settings for an ephemeral database.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore persists signatures as JSON values in BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (creating if needed) a badger-backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent signature store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create signature directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Get loads the signature for key.
func (s *BadgerStore) Get(ctx context.Context, key string) (*blackboard.Signature, error) {
	var sig blackboard.Signature
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sig)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read signature %s: %w", key, err)
	}
	return &sig, nil
}

// Set writes the signature in a single transaction.
func (s *BadgerStore) Set(ctx context.Context, sig *blackboard.Signature) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signature: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+sig.Key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write signature %s: %w", sig.Key, err)
	}
	return nil
}

// Keys lists stored signature keys in key order.
func (s *BadgerStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(badgerKeyPrefix):]))
		}
		return nil
	})
	return keys, err
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
