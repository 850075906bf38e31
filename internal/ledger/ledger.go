// Package ledger keeps the most recent sync decision per artifact in badger.
// Skipped syncs keep the time and size of the last real download, so
// operators can still see when each model directory was last materialized.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/yourorg/model-serve/internal/artifacts"
)

// ErrNotFound indicates no sync has been recorded for the artifact.
var ErrNotFound = errors.New("no sync recorded")

var keyPrefix = []byte("sync/")

type Ledger struct {
	db *badger.DB
}

var _ artifacts.Recorder = (*Ledger)(nil)

// Open opens a ledger under dir. An empty dir keeps the ledger in memory.
func Open(dir string) (*Ledger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func key(name string) []byte { return append(append([]byte(nil), keyPrefix...), name...) }

// Record overwrites the entry for r.Name. When r is a skip, the download
// time and sizes of the previous entry are carried over.
func (l *Ledger) Record(ctx context.Context, r artifacts.Result) error {
	return l.db.Update(func(txn *badger.Txn) error {
		if !r.Downloaded {
			prev, err := get(txn, r.Name)
			switch {
			case err == nil:
				r.LastDownloaded = prev.LastDownloaded
				r.Objects = prev.Objects
				r.Bytes = prev.Bytes
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return txn.Set(key(r.Name), b)
	})
}

func get(txn *badger.Txn, name string) (artifacts.Result, error) {
	var r artifacts.Result
	item, err := txn.Get(key(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &r) })
	return r, err
}

func (l *Ledger) Get(name string) (artifacts.Result, error) {
	var r artifacts.Result
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = get(txn, name)
		return err
	})
	return r, err
}

// List returns every recorded artifact ordered by name.
func (l *Ledger) List() ([]artifacts.Result, error) {
	var out []artifacts.Result
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			var r artifacts.Result
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &r) }); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}
