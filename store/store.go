package store

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Co-Epi/coepi-core/protocol"
)

// recordVersion tags every stored value. Readers reject versions they do not
// understand instead of misparsing them.
const recordVersion byte = 1

// Key namespaces, one per component.
const (
	nsObservation = "obs/"
	nsAlert       = "alert/"
	nsAlertSeen   = "seen/"
	nsPref        = "pref/"
	nsChain       = "chain/"
)

// Store is the durable ordered KV store shared by the core's components.
// It is safe for concurrent use.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) the store at path. It fails closed: a missing or
// unopenable database is a StorageError, never a silent in-memory fallback.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, protocol.Storagef("open", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return protocol.Storagef("close", err)
	}
	return nil
}

// put writes a versioned record.
func (s *Store) put(key string, payload []byte) error {
	record := make([]byte, 1+len(payload))
	record[0] = recordVersion
	copy(record[1:], payload)
	if err := s.db.Put([]byte(key), record, nil); err != nil {
		return protocol.Storagef("put "+key, err)
	}
	return nil
}

// get reads a versioned record. The second return value is false if the key
// does not exist.
func (s *Store) get(key string) ([]byte, bool, error) {
	record, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, protocol.Storagef("get "+key, err)
	}
	return unwrapRecord(key, record)
}

func unwrapRecord(key string, record []byte) ([]byte, bool, error) {
	if len(record) == 0 {
		return nil, false, protocol.Storagef("get "+key, fmt.Errorf("empty record"))
	}
	if record[0] != recordVersion {
		return nil, false, protocol.Storagef("get "+key, fmt.Errorf("unknown record version %d", record[0]))
	}
	return record[1:], true, nil
}

func (s *Store) delete(key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return protocol.Storagef("delete "+key, err)
	}
	return nil
}

func (s *Store) has(key string) (bool, error) {
	ok, err := s.db.Has([]byte(key), nil)
	if err != nil {
		return false, protocol.Storagef("has "+key, err)
	}
	return ok, nil
}

// iterate walks all records under a namespace prefix in key order, invoking
// fn with the full key and the unwrapped payload. Returning false from fn
// stops the walk.
func (s *Store) iterate(prefix string, fn func(key string, payload []byte) (bool, error)) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		key := string(iter.Key())
		payload, ok, err := unwrapRecord(key, iter.Value())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		cont, err := fn(key, payload)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return protocol.Storagef("iterate "+prefix, err)
	}
	return nil
}
