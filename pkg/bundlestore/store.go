// Package bundlestore implements the persistent bundle store: a single
// id-indexed table backed by BadgerDB, payload-file
// lifecycle behind an LRU fd cache, and quota accounting independent of
// the id-map lock.
package bundlestore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dtnd/pkg/bundle"
)

const prefixBundle = "b:"

func keyBundle(localID uint64) []byte {
	key := make([]byte, len(prefixBundle)+8)
	copy(key, prefixBundle)
	binary.BigEndian.PutUint64(key[len(prefixBundle):], localID)
	return key
}

func bundleIDFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(prefixBundle):])
}

// Config configures a Store.
type Config struct {
	// DBDir is the BadgerDB directory for bundle records.
	DBDir string
	// PayloadDir is the directory payload files are stored under.
	PayloadDir string
	// Quota is the maximum total durable payload size in bytes; zero
	// means unlimited.
	Quota uint64
	// FDCacheSize bounds concurrently open payload file descriptors.
	FDCacheSize int
}

// Store is the bundle store: `add`, `get`, `update`, `del`, and an
// iterator over all bundles
type Store struct {
	db     *badger.DB
	quota  *quota
	fds    *fdCache
	nextID atomic.Uint64
}

// Open opens (creating if necessary) the bundle store at cfg.DBDir and
// cfg.PayloadDir, recovering the next bundle-id allocation from the
// highest persisted id.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.PayloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("bundlestore: create payload dir: %w", err)
	}

	opts := badger.DefaultOptions(cfg.DBDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("bundlestore: open badger db: %w", err)
	}

	s := &Store{
		db:    db,
		quota: newQuota(cfg.Quota),
		fds:   newFDCache(cfg.PayloadDir, cfg.FDCacheSize),
	}

	if err := s.recoverNextID(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.recoverQuota(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database and every open payload file
// descriptor.
func (s *Store) Close() error {
	s.fds.closeAll()
	return s.db.Close()
}

// recoverNextID scans the highest persisted bundle-id and resumes
// allocation from max+1, preserving the ids of reloaded bundles so
// forwarding-log entries keyed by bundle-id remain valid across
// restarts.
func (s *Store) recoverNextID() error {
	var max uint64
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixBundle)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := bundleIDFromKey(it.Item().KeyCopy(nil))
			if id > max {
				max = id
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bundlestore: recover next id: %w", err)
	}
	s.nextID.Store(max + 1)
	return nil
}

// recoverQuota replays every persisted bundle's reserved payload size
// into the in-memory quota counter, so total_size matches the durable
// state after a restart.
func (s *Store) recoverQuota() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixBundle)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				r, err := decodeRecord(val)
				if err != nil {
					return err
				}
				if r.SpaceReserved {
					s.quota.TryReserve(r.PayloadLength)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// NextID allocates the next local bundle-id.
func (s *Store) NextID() uint64 {
	return s.nextID.Add(1) - 1
}

// Add persists b, reserving quota for its payload length if b carries a
// payload, in memory or on disk. Returns ErrQuotaExceeded without mutating
// total_size if the reservation would exceed the configured quota.
func (s *Store) Add(b *bundle.Bundle) error {
	b.Lock()
	needsReserve := b.Payload.Location != bundle.PayloadNowhere
	length := b.Payload.Length
	var r record
	if needsReserve {
		if !s.quota.TryReserve(length) {
			b.Unlock()
			return ErrQuotaExceeded
		}
	}
	r = toRecord(b, needsReserve)
	b.Unlock()

	data, err := encodeRecord(r)
	if err != nil {
		if needsReserve {
			s.quota.Release(length)
		}
		return fmt.Errorf("bundlestore: encode record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyBundle(r.LocalID), data)
	})
	if err != nil {
		if needsReserve {
			s.quota.Release(length)
		}
		return fmt.Errorf("bundlestore: put record: %w", err)
	}
	return nil
}

// Get loads the bundle stored under localID, or ErrNotFound.
func (s *Store) Get(localID uint64) (*bundle.Bundle, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyBundle(localID))
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

	r, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("bundlestore: decode record: %w", err)
	}
	return fromRecord(r), nil
}

// Update replaces the persisted record for b.LocalID with its current
// in-memory state. The caller is responsible for having already adjusted
// quota reservation via Add/Del if the payload length changed; Update
// itself does not re-reserve.
func (s *Store) Update(b *bundle.Bundle) error {
	b.Lock()
	spaceReserved := b.Payload.Location != bundle.PayloadNowhere
	r := toRecord(b, spaceReserved)
	b.Unlock()

	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("bundlestore: encode record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyBundle(r.LocalID), data)
	})
}

// Del removes the persisted record for localID, releases any reserved
// quota, and deletes the payload file from disk if present. Deleting a
// bundle that was never added is a no-op, keeping add/del idempotent
// with respect to quota.
func (s *Store) Del(localID uint64) error {
	var r record
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyBundle(localID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			var derr error
			r, derr = decodeRecord(val)
			return derr
		})
	})
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyBundle(localID))
	}); err != nil {
		return fmt.Errorf("bundlestore: delete record: %w", err)
	}

	if r.SpaceReserved {
		s.quota.Release(r.PayloadLength)
	}
	if r.PayloadLocation == bundle.PayloadDisk && r.PayloadFilename != "" {
		if err := s.fds.remove(r.PayloadFilename); err != nil {
			return err
		}
	}
	return nil
}

// ForEach invokes fn for every persisted bundle, in ascending
// bundle-id order. Iteration stops early if fn returns an error, which
// ForEach then returns.
func (s *Store) ForEach(fn func(*bundle.Bundle) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixBundle)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r record
			err := it.Item().Value(func(val []byte) error {
				var derr error
				r, derr = decodeRecord(val)
				return derr
			})
			if err != nil {
				return err
			}
			if err := fn(fromRecord(r)); err != nil {
				return err
			}
		}
		return nil
	})
}

// TotalSize returns the store's current reserved payload total.
func (s *Store) TotalSize() uint64 {
	return s.quota.TotalSize()
}

// TryReservePayload reserves n bytes of payload quota ahead of writing a
// payload file, e.g. before streaming an inbound bundle to disk.
func (s *Store) TryReservePayload(n uint64) bool {
	return s.quota.TryReserve(n)
}

// ReleasePayload releases a reservation made via TryReservePayload
// without a corresponding Add/Del (e.g. a reservation abandoned after a
// mid-write failure).
func (s *Store) ReleasePayload(n uint64) {
	s.quota.Release(n)
}

// OpenPayloadFile returns the (cached) file descriptor backing localID's
// payload, creating it if necessary. The caller must not close it.
func (s *Store) OpenPayloadFile(localID uint64) (*os.File, string, error) {
	name := payloadFilename(localID)
	f, err := s.fds.open(name)
	return f, name, err
}
