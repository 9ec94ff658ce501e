package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
)

var _ ds.Batching = (*BadgerDatastore)(nil)

// BadgerOptions configures a BadgerDatastore.
type BadgerOptions struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// GCInterval runs value log garbage collection periodically. Zero
	// disables it.
	GCInterval time.Duration
}

// BadgerDatastore is an embedded, persistent go-datastore for single node
// deployments.
type BadgerDatastore struct {
	db     *badger.DB
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBadgerDatastore opens the database described by opts.
func NewBadgerDatastore(opts BadgerOptions) (*BadgerDatastore, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bd := &BadgerDatastore{db: db, cancel: cancel, done: make(chan struct{})}
	if opts.GCInterval > 0 && !opts.InMemory {
		go bd.runGC(ctx, opts.GCInterval)
	} else {
		close(bd.done)
	}
	return bd, nil
}

func (bd *BadgerDatastore) runGC(ctx context.Context, interval time.Duration) {
	defer close(bd.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Repeat until there is nothing left to collect.
			for bd.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func (bd *BadgerDatastore) Put(ctx context.Context, key ds.Key, value []byte) error {
	return bd.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key.Bytes(), value)
	})
}

func (bd *BadgerDatastore) Get(ctx context.Context, key ds.Key) ([]byte, error) {
	var out []byte
	err := bd.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key.Bytes())
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ds.ErrNotFound
	}
	return out, err
}

func (bd *BadgerDatastore) Has(ctx context.Context, key ds.Key) (bool, error) {
	_, err := bd.GetSize(ctx, key)
	if errors.Is(err, ds.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (bd *BadgerDatastore) GetSize(ctx context.Context, key ds.Key) (int, error) {
	size := -1
	err := bd.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key.Bytes())
		if err != nil {
			return err
		}
		size = int(item.ValueSize())
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return -1, ds.ErrNotFound
	}
	return size, err
}

// Delete removes a key. Missing keys are not an error.
func (bd *BadgerDatastore) Delete(ctx context.Context, key ds.Key) error {
	return bd.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key.Bytes())
	})
}

// CompareAndSwap relies on badger's transaction conflict detection.
func (bd *BadgerDatastore) CompareAndSwap(ctx context.Context, key ds.Key, old, value []byte) error {
	err := bd.db.Update(func(txn *badger.Txn) error {
		var current []byte
		item, err := txn.Get(key.Bytes())
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if current, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		if (old == nil) != (current == nil) || !bytes.Equal(current, old) {
			return ErrSwapMismatch
		}
		return txn.Set(key.Bytes(), value)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrSwapMismatch
	}
	return err
}

// Query iterates keys under q.Prefix.
func (bd *BadgerDatastore) Query(ctx context.Context, q dsq.Query) (dsq.Results, error) {
	var prefix []byte
	if q.Prefix != "" {
		prefix = []byte(ds.NewKey(q.Prefix).String() + "/")
	}

	var entries []dsq.Entry
	err := bd.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = !q.KeysOnly
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			entry := dsq.Entry{Key: string(item.KeyCopy(nil)), Size: int(item.ValueSize())}
			if !q.KeysOnly {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				entry.Value = v
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dsq.NaiveQueryApply(q, dsq.ResultsWithEntries(dsq.Query{}, entries)), nil
}

// Batch returns a write batch committed on Commit.
func (bd *BadgerDatastore) Batch(ctx context.Context) (ds.Batch, error) {
	return &badgerBatch{wb: bd.db.NewWriteBatch()}, nil
}

func (bd *BadgerDatastore) Sync(ctx context.Context, prefix ds.Key) error {
	return bd.db.Sync()
}

// Close stops garbage collection and closes the database.
func (bd *BadgerDatastore) Close() error {
	bd.cancel()
	<-bd.done
	return bd.db.Close()
}

type badgerBatch struct {
	wb *badger.WriteBatch
}

func (b *badgerBatch) Put(ctx context.Context, key ds.Key, value []byte) error {
	return b.wb.Set(key.Bytes(), value)
}

func (b *badgerBatch) Delete(ctx context.Context, key ds.Key) error {
	return b.wb.Delete(key.Bytes())
}

func (b *badgerBatch) Commit(ctx context.Context) error {
	return b.wb.Flush()
}
