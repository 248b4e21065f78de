package storage

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dreamware/coordsvc/internal/coordpath"
	"github.com/dreamware/coordsvc/internal/entrymodel"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/sessionmodel"
)

const (
	entryKeyPrefix   = "e:"
	sessionKeyPrefix = "s:"
)

// BadgerStore implements Store over an embedded github.com/dgraph-io/badger/v4
// database, giving the coordination engine a durable, crash-safe backing
// store. The CAS contract is layered on top of Badger's own
// transactional reads and writes: UpdateEntry/UpdateSession open a
// read-write transaction (see badger.DB.Update), re-read the current
// row inside it, compare storage_version, and only then write —
// Badger's transaction conflict detection rejects the commit if a
// concurrent transaction touched the same keys first, so the version
// check and the write are effectively atomic.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (creating if necessary) a Badger database
// rooted at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("storage: open badger at %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying Badger database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// wireEntry is the on-disk encoding of an Entry; coordpath.Path has no
// exported fields so it is flattened to its canonical string form.
type wireEntry struct {
	Path           string
	Value          []byte
	ReadLocks      []string
	WriteLock      *string
	Children       []string
	Version        uint64
	StorageVersion uint64
	EphemeralOwner *string
	CreationTime   int64
	LastWriteTime  int64
}

func encodeEntry(e *entrymodel.Entry) ([]byte, error) {
	w := wireEntry{
		Path:           e.Path.String(),
		Value:          e.Value,
		Children:       e.Children,
		Version:        e.Version,
		StorageVersion: e.StorageVersion,
		CreationTime:   e.CreationTime.UnixNano(),
		LastWriteTime:  e.LastWriteTime.UnixNano(),
	}
	for _, s := range e.ReadLocks {
		w.ReadLocks = append(w.ReadLocks, string(s))
	}
	if e.WriteLock.Present {
		v := string(e.WriteLock.ID)
		w.WriteLock = &v
	}
	if e.EphemeralOwner.Present {
		v := string(e.EphemeralOwner.ID)
		w.EphemeralOwner = &v
	}
	return json.Marshal(w)
}

func decodeEntry(data []byte) (*entrymodel.Entry, error) {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	path, err := coordpath.Parse(w.Path)
	if err != nil {
		return nil, err
	}
	e := entrymodel.Entry{
		Path:           path,
		Value:          w.Value,
		Children:       w.Children,
		Version:        w.Version,
		StorageVersion: w.StorageVersion,
		CreationTime:   nsTime(w.CreationTime),
		LastWriteTime:  nsTime(w.LastWriteTime),
	}
	for _, s := range w.ReadLocks {
		e.ReadLocks = append(e.ReadLocks, sessionid.ID(s))
	}
	if w.WriteLock != nil {
		e.WriteLock = entrymodel.Some(sessionid.ID(*w.WriteLock))
	}
	if w.EphemeralOwner != nil {
		e.EphemeralOwner = entrymodel.Some(sessionid.ID(*w.EphemeralOwner))
	}
	return &e, nil
}

type wireSession struct {
	ID             string
	IsEnded        bool
	LeaseEnd       int64
	EntryPaths     []string
	StorageVersion uint64
}

func encodeSession(s *sessionmodel.Session) ([]byte, error) {
	w := wireSession{
		ID:             string(s.ID),
		IsEnded:        s.IsEnded,
		LeaseEnd:       s.LeaseEnd.UnixNano(),
		EntryPaths:     s.EntryPaths,
		StorageVersion: s.StorageVersion,
	}
	return json.Marshal(w)
}

func decodeSession(data []byte) (*sessionmodel.Session, error) {
	var w wireSession
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &sessionmodel.Session{
		ID:             sessionid.ID(w.ID),
		IsEnded:        w.IsEnded,
		LeaseEnd:       nsTime(w.LeaseEnd),
		EntryPaths:     w.EntryPaths,
		StorageVersion: w.StorageVersion,
	}, nil
}

func (b *BadgerStore) GetEntry(_ context.Context, path coordpath.Path) (*entrymodel.Entry, error) {
	var out *entrymodel.Entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(entryKeyPrefix + path.String()))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out, err = decodeEntry(val)
			return err
		})
	})
	return out, err
}

func (b *BadgerStore) UpdateEntry(_ context.Context, desired, expected *entrymodel.Entry) (*entrymodel.Entry, error) {
	var key string
	switch {
	case desired != nil:
		key = entryKeyPrefix + desired.Path.String()
	case expected != nil:
		key = entryKeyPrefix + expected.Path.String()
	default:
		return nil, nil
	}

	var result *entrymodel.Entry
	var conflict bool
	err := b.db.Update(func(txn *badger.Txn) error {
		conflict = false
		current, err := readEntry(txn, key)
		if err != nil {
			return err
		}
		if (current == nil) != (expected == nil) || versionOf(current) != versionOf(expected) {
			result, conflict = current, true
			return nil
		}
		if desired == nil {
			result = nil
			return txn.Delete([]byte(key))
		}
		encoded, err := encodeEntry(desired)
		if err != nil {
			return err
		}
		result = desired
		return txn.Set([]byte(key), encoded)
	})
	if err != nil {
		return nil, err
	}
	if conflict {
		return result, ErrVersionConflict
	}
	return result, nil
}

func readEntry(txn *badger.Txn, key string) (*entrymodel.Entry, error) {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out *entrymodel.Entry
	err = item.Value(func(val []byte) error {
		var derr error
		out, derr = decodeEntry(val)
		return derr
	})
	return out, err
}

func (b *BadgerStore) ScanEntries(_ context.Context) ([]entrymodel.Entry, error) {
	var out []entrymodel.Entry
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				out = append(out, *e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (b *BadgerStore) GetSession(_ context.Context, id sessionid.ID) (*sessionmodel.Session, error) {
	var out *sessionmodel.Session
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + string(id)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out, err = decodeSession(val)
			return err
		})
	})
	return out, err
}

func (b *BadgerStore) UpdateSession(_ context.Context, desired, expected *sessionmodel.Session) (*sessionmodel.Session, error) {
	var key string
	switch {
	case desired != nil:
		key = sessionKeyPrefix + string(desired.ID)
	case expected != nil:
		key = sessionKeyPrefix + string(expected.ID)
	default:
		return nil, nil
	}

	var result *sessionmodel.Session
	var conflict bool
	err := b.db.Update(func(txn *badger.Txn) error {
		conflict = false
		current, err := readSession(txn, key)
		if err != nil {
			return err
		}
		if (current == nil) != (expected == nil) || sessionVersionOf(current) != sessionVersionOf(expected) {
			result, conflict = current, true
			return nil
		}
		if desired == nil {
			result = nil
			return txn.Delete([]byte(key))
		}
		encoded, err := encodeSession(desired)
		if err != nil {
			return err
		}
		result = desired
		return txn.Set([]byte(key), encoded)
	})
	if err != nil {
		return nil, err
	}
	if conflict {
		return result, ErrVersionConflict
	}
	return result, nil
}

func readSession(txn *badger.Txn, key string) (*sessionmodel.Session, error) {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out *sessionmodel.Session
	err = item.Value(func(val []byte) error {
		var derr error
		out, derr = decodeSession(val)
		return derr
	})
	return out, err
}

func (b *BadgerStore) ScanSessions(_ context.Context) ([]sessionmodel.Session, error) {
	var out []sessionmodel.Session
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				s, err := decodeSession(val)
				if err != nil {
					return err
				}
				out = append(out, *s)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
