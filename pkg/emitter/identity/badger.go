package identity

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/log"
	"golang.org/x/sync/singleflight"
)

// BadgerStore persists ids in a badger database so the same anonymous id
// survives process restarts.
//
// Concurrent first calls for a key within one process are collapsed so
// only one id is ever generated. Badger holds a directory lock, so two
// processes cannot share a path.
type BadgerStore struct {
	db       *badger.DB
	owned    bool
	group    singleflight.Group
	generate IDGenerator
}

// OpenBadgerStore opens (or creates) a database at path. An empty path
// gives an in-memory database, which is mostly useful in tests.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}

	// logrus.Logger satisfies badger.Logger
	opts = opts.WithLogger(log.RootLogger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store at %q: %w", path, err)
	}

	s := NewBadgerStore(db)
	s.owned = true

	return s, nil
}

// NewBadgerStore wraps an already open database. Close will not close it.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{
		db:       db,
		generate: defaultGenerator,
	}
}

func (s *BadgerStore) WithGenerator(generate IDGenerator) *BadgerStore {
	s.generate = generate
	return s
}

func (s *BadgerStore) GetOrCreate(key string) (string, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.getOrCreate(key)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (s *BadgerStore) getOrCreate(key string) (string, error) {
	var id string

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err == nil {
			err = item.Value(func(val []byte) error {
				id = string(val)
				return nil
			})
			if err != nil {
				return err
			}

			if id != "" {
				return nil
			}
		}

		id = s.generate()
		log.Debugf("storing new anonymous id under %s", key)

		return txn.Set([]byte(key), []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", key, err)
	}

	return id, nil
}

func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}

	return s.db.Close()
}
