package bundlestore

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Table is a prefix-scoped key-value view over the store's database,
// used for the auxiliary durable tables (links by name, registrations by
// regid, pending ACS by key). Values are opaque encoded records; callers
// own the encoding.
type Table struct {
	db     *badger.DB
	prefix []byte
}

// Table returns the durable table scoped under prefix. Prefixes must be
// distinct per table and must not collide with the bundle prefix "b:".
func (s *Store) Table(prefix string) *Table {
	return &Table{db: s.db, prefix: []byte(prefix)}
}

func (t *Table) key(k string) []byte {
	return append(append([]byte(nil), t.prefix...), k...)
}

// Put stores val under key.
func (t *Table) Put(key string, val []byte) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.key(key), val)
	})
	if err != nil {
		return fmt.Errorf("bundlestore: table %q put: %w", t.prefix, err)
	}
	return nil
}

// Get loads the value stored under key, or ErrNotFound.
func (t *Table) Get(key string) ([]byte, error) {
	var data []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.key(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Del removes key; deleting an absent key is a no-op.
func (t *Table) Del(key string) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(t.key(key))
	})
	if err != nil {
		return fmt.Errorf("bundlestore: table %q del: %w", t.prefix, err)
	}
	return nil
}

// ForEach invokes fn for every (key, value) pair under the table's
// prefix, with the prefix stripped from the key.
func (t *Table) ForEach(fn func(key string, val []byte) error) error {
	return t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(t.prefix); it.ValidForPrefix(t.prefix); it.Next() {
			key := string(it.Item().KeyCopy(nil)[len(t.prefix):])
			err := it.Item().Value(func(val []byte) error {
				return fn(key, append([]byte(nil), val...))
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
