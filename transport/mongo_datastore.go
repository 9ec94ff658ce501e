package transport

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ ds.Batching = (*MongoDatastore)(nil)

// MongoOptions configures a MongoDatastore.
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
	// Timeout bounds connecting and pinging.
	Timeout time.Duration
}

// DefaultMongoOptions returns options for a local server.
func DefaultMongoOptions() *MongoOptions {
	return &MongoOptions{
		URI:        "mongodb://localhost:27017",
		Database:   "fogmask",
		Collection: "kv",
		Timeout:    5 * time.Second,
	}
}

type mongoEntry struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"value"`
}

// MongoDatastore stores one document per key. Swaps use the stored value as
// the update filter, so a concurrent writer makes the update match nothing.
type MongoDatastore struct {
	client     *mongo.Client
	collection *mongo.Collection
	owned      bool
}

// NewMongoDatastore connects to the server in opts.
func NewMongoDatastore(ctx context.Context, opts *MongoOptions) (*MongoDatastore, error) {
	if opts == nil {
		opts = DefaultMongoOptions()
	}
	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	md := NewMongoDatastoreFromCollection(client.Database(opts.Database).Collection(opts.Collection))
	md.client = client
	md.owned = true
	return md, nil
}

// NewMongoDatastoreFromCollection uses an existing collection. Close leaves
// the client connected.
func NewMongoDatastoreFromCollection(coll *mongo.Collection) *MongoDatastore {
	return &MongoDatastore{collection: coll}
}

func (md *MongoDatastore) Put(ctx context.Context, key ds.Key, value []byte) error {
	_, err := md.collection.UpdateOne(ctx,
		bson.M{"_id": key.String()},
		bson.M{"$set": bson.M{"value": value}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (md *MongoDatastore) Get(ctx context.Context, key ds.Key) ([]byte, error) {
	var entry mongoEntry
	err := md.collection.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ds.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if entry.Value == nil {
		entry.Value = []byte{}
	}
	return entry.Value, nil
}

func (md *MongoDatastore) Has(ctx context.Context, key ds.Key) (bool, error) {
	n, err := md.collection.CountDocuments(ctx, bson.M{"_id": key.String()}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (md *MongoDatastore) GetSize(ctx context.Context, key ds.Key) (int, error) {
	v, err := md.Get(ctx, key)
	if err != nil {
		return -1, err
	}
	return len(v), nil
}

// Delete removes a key. Missing keys are not an error.
func (md *MongoDatastore) Delete(ctx context.Context, key ds.Key) error {
	_, err := md.collection.DeleteOne(ctx, bson.M{"_id": key.String()})
	return err
}

// CompareAndSwap inserts when old is nil and updates conditionally
// otherwise.
func (md *MongoDatastore) CompareAndSwap(ctx context.Context, key ds.Key, old, value []byte) error {
	if old == nil {
		_, err := md.collection.InsertOne(ctx, mongoEntry{Key: key.String(), Value: value})
		if mongo.IsDuplicateKeyError(err) {
			return ErrSwapMismatch
		}
		return err
	}

	res, err := md.collection.UpdateOne(ctx,
		bson.M{"_id": key.String(), "value": old},
		bson.M{"$set": bson.M{"value": value}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSwapMismatch
	}
	return nil
}

// Query finds keys under q.Prefix.
func (md *MongoDatastore) Query(ctx context.Context, q dsq.Query) (dsq.Results, error) {
	filter := bson.M{}
	if q.Prefix != "" {
		prefix := ds.NewKey(q.Prefix).String() + "/"
		filter["_id"] = bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}
	}
	findOpts := options.Find()
	if q.KeysOnly {
		findOpts.SetProjection(bson.M{"_id": 1})
	}

	cursor, err := md.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []dsq.Entry
	for cursor.Next(ctx) {
		var e mongoEntry
		if err := cursor.Decode(&e); err != nil {
			return nil, err
		}
		entry := dsq.Entry{Key: e.Key}
		if !q.KeysOnly {
			entry.Value = e.Value
			entry.Size = len(e.Value)
		}
		entries = append(entries, entry)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return dsq.NaiveQueryApply(q, dsq.ResultsWithEntries(dsq.Query{}, entries)), nil
}

// Batch collects writes into one unordered bulk write.
func (md *MongoDatastore) Batch(ctx context.Context) (ds.Batch, error) {
	return &mongoBatch{md: md}, nil
}

func (md *MongoDatastore) Sync(ctx context.Context, prefix ds.Key) error {
	return nil
}

// Close disconnects the client when the datastore created it.
func (md *MongoDatastore) Close() error {
	if !md.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return md.client.Disconnect(ctx)
}

type mongoBatch struct {
	md     *MongoDatastore
	models []mongo.WriteModel
}

func (b *mongoBatch) Put(ctx context.Context, key ds.Key, value []byte) error {
	b.models = append(b.models, mongo.NewUpdateOneModel().
		SetFilter(bson.M{"_id": key.String()}).
		SetUpdate(bson.M{"$set": bson.M{"value": value}}).
		SetUpsert(true))
	return nil
}

func (b *mongoBatch) Delete(ctx context.Context, key ds.Key) error {
	b.models = append(b.models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": key.String()}))
	return nil
}

func (b *mongoBatch) Commit(ctx context.Context) error {
	if len(b.models) == 0 {
		return nil
	}
	_, err := b.md.collection.BulkWrite(ctx, b.models, options.BulkWrite().SetOrdered(false))
	return err
}
