package storage

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

type Config struct {
	Path string
}

type Sequence interface {
	Next() (uint64, error)
	Release() error
}

// Storage is the durable keyed store every cache in the node is built on:
// block number cursors, task states, the node lifecycle state and the
// persistent event queue all live behind this interface so tests can swap
// in-memory fakes for the badger backend.
type Storage interface {
	Setup() error
	Close() error

	GetSequence(prefix []byte, inflightItem uint64) (Sequence, error)

	Exist(key []byte) (bool, error)
	GetKey(key []byte) ([]byte, error)
	GetByPrefix(prefix []byte) ([]*KeyValueItem, error)
	FirstKVHasPrefix(prefix []byte) ([]byte, []byte, error)

	// A key only operation that returns key that has a prefix
	ListKeys(prefix string) ([]string, error)

	Set(key, value []byte) error
	Delete(key []byte) error
	Move(src, dest []byte) error

	GetCounter(key []byte, defaultValue ...uint64) (uint64, error)
	SetCounter(key []byte, value uint64) error
	Vacuum() error

	// Backup streams every entry written at or after the since version to w
	// and returns the version the next incremental backup should start from.
	Backup(w io.Writer, since uint64) (uint64, error)

	DbPath() string
}

type KeyValueItem struct {
	Key   []byte
	Value []byte
}

type BadgerStorage struct {
	config *Config
	db     *badger.DB
	seqs   []*badger.Sequence
}

// Create storage pool at the particular path
func NewWithPath(path string) (Storage, error) {
	return New(&Config{
		Path: path,
	})
}

// Create storage pool with the given config
func New(c *Config) (Storage, error) {
	opts := badger.DefaultOptions(c.Path)
	db, err := badger.Open(
		opts.WithSyncWrites(true),
	)

	if err != nil {
		return nil, err
	}

	return &BadgerStorage{
		config: c,
		db:     db,

		seqs: make([]*badger.Sequence, 0),
	}, nil
}

func (s *BadgerStorage) Setup() error {
	return nil
}

func (s *BadgerStorage) Close() error {
	for _, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			return err
		}
	}
	return s.db.Close()
}

func (s *BadgerStorage) Set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerStorage) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *BadgerStorage) Exist(key []byte) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err != nil {
			return err
		}

		found = true
		return nil
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}

	return found, err
}

func (s *BadgerStorage) GetKey(key []byte) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...)
			return nil
		})
	})

	return value, err
}

// GetByPrefix return a list of key/value item whose key prefix matches
func (s *BadgerStorage) GetByPrefix(prefix []byte) ([]*KeyValueItem, error) {
	var result []*KeyValueItem

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 30
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			k := item.KeyCopy(nil)
			v, e := item.ValueCopy(nil)
			if e != nil {
				return e
			}

			result = append(result, &KeyValueItem{
				Key:   k,
				Value: v,
			})
		}
		return nil
	})

	return result, err
}

func (s *BadgerStorage) FirstKVHasPrefix(prefix []byte) ([]byte, []byte, error) {
	var k []byte
	var v []byte

	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = true
		itOpts.PrefetchSize = 1
		it := txn.NewIterator(itOpts)

		// go to smallest key after prefix
		it.Seek(prefix)
		defer it.Close()
		// iteration done, no item found
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		item := it.Item()

		k = item.KeyCopy(nil)

		var err error
		v, err = item.ValueCopy(nil)
		return err
	})

	if err == nil {
		return k, v, nil
	}

	return nil, nil, err
}

func (s *BadgerStorage) Move(src []byte, dest []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(src)
		if err != nil {
			return err
		}

		b, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		// key is found, we will delete from source, then set on target
		if err := txn.Delete(src); err != nil {
			return err
		}

		return txn.Set(dest, b)
	})
}

func (s *BadgerStorage) ListKeys(prefix string) ([]string, error) {
	var keys []string

	if prefix == "*" {
		prefix = ""
	} else if strings.HasSuffix(prefix, "*") {
		prefix = prefix[:len(prefix)-1]
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			keys = append(keys, string(key))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

// Wrap badgerdb sequence
func (s *BadgerStorage) GetSequence(prefix []byte, inflightItem uint64) (Sequence, error) {
	seq, e := s.db.GetSequence(prefix, inflightItem)
	if e != nil {
		return nil, e
	}

	s.seqs = append(s.seqs, seq)
	return seq, nil
}

// GetCounter retrieves a counter value for a given key.
// If the key doesn't exist and defaultValue is provided, it returns the defaultValue.
func (s *BadgerStorage) GetCounter(key []byte, defaultValue ...uint64) (uint64, error) {
	var counter uint64

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			if len(defaultValue) > 0 {
				counter = defaultValue[0]
				return nil
			}
			return err
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			parsedCounter, err := strconv.ParseUint(string(val), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid counter format: %w", err)
			}
			counter = parsedCounter
			return nil
		})
	})

	if err != nil {
		return 0, err
	}

	return counter, nil
}

// SetCounter sets a counter value for a given key.
// This overwrites any existing value.
func (s *BadgerStorage) SetCounter(key []byte, value uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		// Stored as a string so we can inspect them easier in console
		return txn.Set(key, []byte(strconv.FormatUint(value, 10)))
	})
}

func (s *BadgerStorage) Backup(w io.Writer, since uint64) (uint64, error) {
	return s.db.Backup(w, since)
}

func (s *BadgerStorage) Vacuum() error {
	return s.db.RunValueLogGC(0.7)
}

func (s *BadgerStorage) DbPath() string {
	return s.config.Path
}

// Destroy is destructive action that shutdown a database, and wipe out its entire data directory
func Destroy(s *BadgerStorage) error {
	s.Close()
	return os.RemoveAll(s.config.Path)
}
