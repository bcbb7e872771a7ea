package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"places_service/internal/config"
	"places_service/internal/domain/model"
	"places_service/internal/logging"
)

// SchemaVersion is bumped whenever a partition is added.
const SchemaVersion = 2

// Key layout
const (
	featurePrefix = "features/"
	schemaKey     = "meta/schema_version"
	partitionKey  = "meta/partition/"
)

var partitions = []string{"features", "waypoints"}

// BadgerStore is the embedded feature cache. Entries live under the
// features partition keyed by canonical identity.
type BadgerStore struct {
	db       *badger.DB
	inMemory bool
}

func OpenBadgerStore(cfg config.CacheConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger feature store: %w", err)
	}
	return &BadgerStore{db: db, inMemory: cfg.InMemory}, nil
}

// NewBadgerStore wraps an already opened database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, inMemory: db.Opts().InMemory}
}

func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

// Migrate creates missing partitions and records the schema version. Data in
// existing partitions is left untouched.
func (s *BadgerStore) Migrate(ctx context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		current := 0
		item, err := txn.Get([]byte(schemaKey))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("read schema version: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				current, err = strconv.Atoi(string(val))
				return err
			}); err != nil {
				return fmt.Errorf("parse schema version: %w", err)
			}
		}

		if current >= SchemaVersion {
			return nil
		}

		for _, name := range partitions {
			key := []byte(partitionKey + name)
			if _, err := txn.Get(key); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("check partition %s: %w", name, err)
			}
			if err := txn.Set(key, []byte{1}); err != nil {
				return fmt.Errorf("create partition %s: %w", name, err)
			}
			logging.Info().Str("partition", name).Msg("created feature store partition")
		}

		logging.Info().Int("from", current).Int("to", SchemaVersion).Msg("feature store migrated")
		return txn.Set([]byte(schemaKey), []byte(strconv.Itoa(SchemaVersion)))
	})
}

// Version reads the stored container version, 0 if never migrated.
func (s *BadgerStore) Version() (int, error) {
	version := 0
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			version, err = strconv.Atoi(string(val))
			return err
		})
	})
	return version, err
}

// Put writes entries, last write wins.
func (s *BadgerStore) Put(ctx context.Context, entries []model.CacheEntry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal cache entry %s: %w", e.Key, err)
		}
		if err := wb.Set([]byte(featurePrefix+e.Key), data); err != nil {
			return fmt.Errorf("write cache entry %s: %w", e.Key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush cache entries: %w", err)
	}
	return nil
}

func (s *BadgerStore) GetAll(ctx context.Context) ([]model.CacheEntry, error) {
	var entries []model.CacheEntry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(featurePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e model.CacheEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode cache entry %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetMany returns the cached features for keys; missing keys are absent.
func (s *BadgerStore) GetMany(ctx context.Context, keys []string) (map[string]model.Feature, error) {
	found := make(map[string]model.Feature, len(keys))

	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(featurePrefix + key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get cache entry %s: %w", key, err)
			}
			var e model.CacheEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode cache entry %s: %w", key, err)
			}
			found[key] = e.Feature
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Clear drops the features partition. Waypoints and metadata survive.
func (s *BadgerStore) Clear(ctx context.Context) error {
	if err := s.db.DropPrefix([]byte(featurePrefix)); err != nil {
		return fmt.Errorf("clear feature cache: %w", err)
	}
	return nil
}

// RunGC runs value-log garbage collection until nothing is left to rewrite.
func (s *BadgerStore) RunGC(discardRatio float64) error {
	if s.inMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func validateEntries(entries []model.CacheEntry) error {
	for _, e := range entries {
		if !e.Feature.ID.Valid() {
			return fmt.Errorf("%w: cache entry with invalid identity", model.ErrInvalidInput)
		}
		if e.Key != e.Feature.Key() {
			return fmt.Errorf("%w: cache key %q does not match feature %s", model.ErrInvalidInput, e.Key, e.Feature.Key())
		}
	}
	return nil
}
