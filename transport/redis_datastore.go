package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
)

var _ ds.Datastore = (*RedisDatastore)(nil)
var _ ds.Batching = (*RedisDatastore)(nil)

// RedisOptions configures a RedisDatastore.
type RedisOptions struct {
	// TTL expires keys after the duration. Zero keeps them forever.
	TTL time.Duration
	// ScanCount is the COUNT hint used by Query.
	ScanCount int64
}

// DefaultRedisOptions returns options that keep scene data forever.
func DefaultRedisOptions() *RedisOptions {
	return &RedisOptions{
		ScanCount: 100,
	}
}

// RedisDatastore is a go-datastore backed by plain Redis string keys.
type RedisDatastore struct {
	client *redis.Client
	ttl    time.Duration
	count  int64
}

// NewRedisDatastore wraps client. The connection is checked with PING.
func NewRedisDatastore(ctx context.Context, client *redis.Client, opts *RedisOptions) (*RedisDatastore, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if opts == nil {
		opts = DefaultRedisOptions()
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = 100
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDatastore{
		client: client,
		ttl:    opts.TTL,
		count:  opts.ScanCount,
	}, nil
}

// Put stores a value.
func (rd *RedisDatastore) Put(ctx context.Context, key ds.Key, value []byte) error {
	return rd.client.Set(ctx, key.String(), value, rd.ttl).Err()
}

// Get reads a value.
func (rd *RedisDatastore) Get(ctx context.Context, key ds.Key) ([]byte, error) {
	data, err := rd.client.Get(ctx, key.String()).Bytes()
	if err == redis.Nil {
		return nil, ds.ErrNotFound
	}
	return data, err
}

// Has checks whether the key exists.
func (rd *RedisDatastore) Has(ctx context.Context, key ds.Key) (bool, error) {
	n, err := rd.client.Exists(ctx, key.String()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetSize returns the value length.
func (rd *RedisDatastore) GetSize(ctx context.Context, key ds.Key) (int, error) {
	ok, err := rd.Has(ctx, key)
	if err != nil {
		return -1, err
	}
	if !ok {
		return -1, ds.ErrNotFound
	}
	size, err := rd.client.StrLen(ctx, key.String()).Result()
	if err != nil {
		return -1, err
	}
	return int(size), nil
}

// Delete removes a key. Missing keys are not an error.
func (rd *RedisDatastore) Delete(ctx context.Context, key ds.Key) error {
	return rd.client.Del(ctx, key.String()).Err()
}

// CompareAndSwap replaces the value inside a WATCH transaction.
func (rd *RedisDatastore) CompareAndSwap(ctx context.Context, key ds.Key, old, value []byte) error {
	k := key.String()
	err := rd.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		switch {
		case err == redis.Nil:
			current = nil
		case err != nil:
			return err
		}
		if (old == nil) != (current == nil) || !bytes.Equal(current, old) {
			return ErrSwapMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, value, rd.ttl)
			return nil
		})
		return err
	}, k)
	if err == redis.TxFailedErr {
		return ErrSwapMismatch
	}
	return err
}

// Query scans keys under q.Prefix.
func (rd *RedisDatastore) Query(ctx context.Context, q dsq.Query) (dsq.Results, error) {
	pattern := "*"
	if q.Prefix != "" {
		pattern = ds.NewKey(q.Prefix).String() + "/*"
	}

	var keys []string
	var cursor uint64
	for {
		page, next, err := rd.client.Scan(ctx, cursor, pattern, rd.count).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	entries := make([]dsq.Entry, 0, len(keys))
	for _, key := range keys {
		entry := dsq.Entry{Key: key}
		if !q.KeysOnly {
			value, err := rd.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, err
			}
			entry.Value = value
			entry.Size = len(value)
		}
		entries = append(entries, entry)
	}

	return dsq.NaiveQueryApply(q, dsq.ResultsWithEntries(dsq.Query{}, entries)), nil
}

// Batch returns a pipelined batch.
func (rd *RedisDatastore) Batch(ctx context.Context) (ds.Batch, error) {
	return &redisBatch{ds: rd, pipeline: rd.client.Pipeline()}, nil
}

// Sync is a no-op: Redis persistence is configured server side.
func (rd *RedisDatastore) Sync(ctx context.Context, prefix ds.Key) error {
	return nil
}

// Close closes the client.
func (rd *RedisDatastore) Close() error {
	return rd.client.Close()
}

type redisBatch struct {
	ds       *RedisDatastore
	pipeline redis.Pipeliner
	size     int
}

func (rb *redisBatch) Put(ctx context.Context, key ds.Key, value []byte) error {
	rb.pipeline.Set(ctx, key.String(), value, rb.ds.ttl)
	rb.size++
	return nil
}

func (rb *redisBatch) Delete(ctx context.Context, key ds.Key) error {
	rb.pipeline.Del(ctx, key.String())
	rb.size++
	return nil
}

func (rb *redisBatch) Commit(ctx context.Context) error {
	if rb.size == 0 {
		return nil
	}
	_, err := rb.pipeline.Exec(ctx)
	return err
}
