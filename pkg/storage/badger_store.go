package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"site-ingest/pkg/log"
	"site-ingest/pkg/utils"
)

// recordsDBDir is the subdirectory of the state dir holding Badger files
const recordsDBDir = "records_db"

// BadgerStore implements Store using BadgerDB, one JSON document per key
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the record database under stateDir.
// With reset true any existing database is removed first.
func NewBadgerStore(stateDir string, reset bool, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, recordsDBDir)

	if reset {
		logger.Warnf("Reset requested. REMOVING existing record database: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing record database %s: %v", dbPath, err)
		}
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrDatabase, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	logger.WithField("path", dbPath).Info("Record database opened")
	return &BadgerStore{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// Update implements RecordStore. Badger transaction conflicts are retried; they
// resolve in microseconds so no backoff is applied.
func (s *BadgerStore) Update(ctx context.Context, fn func(Tx) error) error {
	for i := range maxConflictRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return txnError(err)
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// txnError labels a batch too large for one Badger transaction as a database failure
func txnError(err error) error {
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("%w: batch exceeds the transaction size limit, lower max_pages: %w", utils.ErrDatabase, err)
	}
	return err
}

// View implements RecordStore
func (s *BadgerStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// Filter implements RecordStore
func (s *BadgerStore) Filter(ctx context.Context, c Criteria, fn func(key string, raw []byte) error) error {
	prefix := []byte(c.Prefix())
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("%w: reading '%s': %w", utils.ErrDatabase, string(item.Key()), err)
			}
			if err := fn(string(item.KeyCopy(nil)), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count implements StoreAdmin
func (s *BadgerStore) Count(ctx context.Context, c Criteria) (int, error) {
	prefix := []byte(c.Prefix())
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// RunGC runs BadgerDB's value log garbage collection every interval until ctx is done
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				// Rewrite while at least half of a value log file is reclaimable
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing record DB: %v", err)
		return err
	}
	s.log.Debug("Record DB closed")
	return nil
}

type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) Get(key string, out any) (bool, error) {
	raw, found, err := t.raw(key)
	if err != nil || !found {
		return false, err
	}
	resetOut(out)
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("%w: decoding JSON at '%s': %w", utils.ErrParsing, key, err)
	}
	return true, nil
}

func (t *badgerTx) GetOrCreate(key string, defaults any, out any) (bool, error) {
	found, err := t.Get(key, out)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}

	raw, err := json.Marshal(defaults)
	if err != nil {
		return false, fmt.Errorf("%w: encoding JSON for '%s': %w", utils.ErrParsing, key, err)
	}
	if err := t.set(key, raw); err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("%w: decoding JSON at '%s': %w", utils.ErrParsing, key, err)
	}
	return true, nil
}

func (t *badgerTx) Save(key string, record any, changed []string) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encoding JSON for '%s': %w", utils.ErrParsing, key, err)
	}
	if len(changed) == 0 {
		return t.set(key, raw)
	}

	stored, found, err := t.raw(key)
	if err != nil {
		return err
	}
	if !found {
		return t.set(key, raw)
	}

	merged, err := mergeFields(stored, raw, changed)
	if err != nil {
		return fmt.Errorf("%w: merging fields at '%s': %w", utils.ErrParsing, key, err)
	}
	return t.set(key, merged)
}

func (t *badgerTx) raw(key string) ([]byte, bool, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: getting '%s': %w", utils.ErrDatabase, key, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading '%s': %w", utils.ErrDatabase, key, err)
	}
	return raw, true, nil
}

func (t *badgerTx) set(key string, raw []byte) error {
	if err := t.txn.SetEntry(badger.NewEntry([]byte(key), raw)); err != nil {
		return fmt.Errorf("%w: setting '%s': %w", utils.ErrDatabase, key, err)
	}
	return nil
}

// resetOut zeroes the value out points to, so fields absent from the stored
// document do not survive from a previous decode
func resetOut(out any) {
	v := reflect.ValueOf(out)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().Set(reflect.Zero(v.Elem().Type()))
	}
}

// mergeFields copies the named top-level fields of update into stored. A named
// field absent from update (omitempty) is removed from stored.
func mergeFields(stored, update []byte, fields []string) ([]byte, error) {
	var doc, patch map[string]json.RawMessage
	if err := json.Unmarshal(stored, &doc); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(update, &patch); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage, len(patch))
	}
	for _, f := range fields {
		if v, ok := patch[f]; ok {
			doc[f] = v
		} else {
			delete(doc, f)
		}
	}
	return json.Marshal(doc)
}
