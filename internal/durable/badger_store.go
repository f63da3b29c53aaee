// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"context"
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
)

const badgerInstancePrefix = "inst:"

// BadgerStore keeps one JSON document per instance under "inst:<id>".
// Badger transactions give serializable conflict detection; Update retries on ErrConflict.
type BadgerStore struct {
	db *badger.DB
}

func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func badgerKey(id string) []byte {
	return []byte(badgerInstancePrefix + id)
}

func readInstance(txn *badger.Txn, key []byte) (*Instance, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	var out Instance
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &out)
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) Create(ctx context.Context, inst *Instance) error {
	key := badgerKey(inst.ID)
	cp := inst.Clone()
	cp.Version = 1
	buf, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			cur, err := readInstance(txn, key)
			switch {
			case errors.Is(err, ErrInstanceNotFound):
			case err != nil:
				return err
			case !cur.Status.IsTerminal():
				return ErrInstanceExists
			}
			return txn.Set(key, buf)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	inst.Version = 1
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*Instance, error) {
	var out *Instance
	err := s.db.View(func(txn *badger.Txn) error {
		inst, err := readInstance(txn, badgerKey(id))
		out = inst
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Update(ctx context.Context, id string, fn func(*Instance) error) (*Instance, error) {
	key := badgerKey(id)
	var out *Instance
	var err error
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			cur, err := readInstance(txn, key)
			if err != nil {
				return err
			}
			prev := cur.Version
			if err := fn(cur); err != nil {
				return err
			}
			cur.ID = id
			cur.Version = prev + 1
			buf, err := json.Marshal(cur)
			if err != nil {
				return err
			}
			out = cur
			return txn.Set(key, buf)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
	}
	if errors.Is(err, badger.ErrConflict) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) List(ctx context.Context, q Query) ([]*Instance, error) {
	var out []*Instance
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerInstancePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var inst Instance
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inst)
			}); err != nil {
				return err
			}
			if q.Matches(&inst) {
				out = append(out, &inst)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreation(out)
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(badgerKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

var _ Store = (*BadgerStore)(nil)
