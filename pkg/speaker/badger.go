package speaker

import (
	"errors"
	"fmt"
	"log"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// BadgerStore persists profiles in a BadgerDB database, one entry per
// profile keyed speakers/<model>/<name> with msgpack values.
type BadgerStore struct {
	db *badger.DB
}

// BadgerStoreOptions configures a BadgerStore.
type BadgerStoreOptions struct {
	// Dir is the directory for database files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs badger without disk persistence. Useful for
	// testing against the real engine.
	InMemory bool
}

// NewBadgerStore opens or creates the database.
func NewBadgerStore(opts BadgerStoreOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("speaker: BadgerStoreOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("speaker: open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func profileKey(modelID, name string) []byte {
	return []byte("speakers/" + modelID + "/" + name)
}

func modelPrefix(modelID string) []byte {
	return []byte("speakers/" + modelID + "/")
}

func (s *BadgerStore) Load(modelID string) ([]Profile, error) {
	var profiles []Profile
	prefix := modelPrefix(modelID)
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var p Profile
			if err := msgpack.Unmarshal(val, &p); err != nil {
				return fmt.Errorf("decode profile %s: %w", it.Item().Key(), err)
			}
			profiles = append(profiles, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// Save replaces the model's stored set in one transaction, so deleted
// and renamed profiles do not linger.
func (s *BadgerStore) Save(modelID string, profiles []Profile) error {
	prefix := modelPrefix(modelID)
	return s.db.Update(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		for _, p := range profiles {
			val, err := msgpack.Marshal(p)
			if err != nil {
				return fmt.Errorf("encode profile %q: %w", p.Name, err)
			}
			if err := txn.Set(profileKey(modelID, p.Name), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger errors and warnings to the standard
// logger and drops the chatty info/debug output.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{})   { log.Printf("[badger] ERROR: "+f, v...) }
func (badgerLogger) Warningf(f string, v ...interface{}) { log.Printf("[badger] WARN: "+f, v...) }
func (badgerLogger) Infof(string, ...interface{})        {}
func (badgerLogger) Debugf(string, ...interface{})       {}
