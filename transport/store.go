package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("fogmask/transport")

// Options configures a Store.
type Options struct {
	// Namespace prefixes every key written to the datastore.
	Namespace string
	// ID identifies this store in published changes. Generated when empty.
	ID string
}

// NewOptions returns the default options.
func NewOptions() *Options {
	return &Options{
		Namespace: "/fogmask",
	}
}

// swapDatastore is implemented by datastores with a native atomic swap.
type swapDatastore interface {
	CompareAndSwap(ctx context.Context, key ds.Key, old, value []byte) error
}

// Store is a Transport over any go-datastore backend plus a Notifier.
type Store struct {
	store    ds.Datastore
	notifier Notifier
	options  *Options

	// swapMu serializes CompareAndSwap when the datastore has no native swap.
	swapMu sync.Mutex

	mutex    sync.RWMutex
	handlers map[uint64]ChangeFunc
	nextID   uint64
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

var (
	_ Transport = (*Store)(nil)
	_ Swapper   = (*Store)(nil)
	_ Lister    = (*Store)(nil)
)

// NewMemoryStore returns a Store over a thread-safe in-memory datastore with
// an in-process notifier.
func NewMemoryStore() (*Store, error) {
	return NewStore(dssync.MutexWrap(ds.NewMapDatastore()), NewMemoryNotifier(), nil)
}

// NewStore creates a Store and subscribes it to the notifier.
func NewStore(store ds.Datastore, notifier Notifier, options *Options) (*Store, error) {
	if store == nil {
		return nil, errors.New("datastore cannot be nil")
	}
	if notifier == nil {
		return nil, errors.New("notifier cannot be nil")
	}
	if options == nil {
		options = NewOptions()
	}
	if options.ID == "" {
		options.ID = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		store:    store,
		notifier: notifier,
		options:  options,
		handlers: make(map[uint64]ChangeFunc),
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := notifier.Subscribe(ctx, options.ID, s.dispatch); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}
	return s, nil
}

// ID returns the origin id stamped on changes written by this store.
func (s *Store) ID() string {
	return s.options.ID
}

func (s *Store) key(scope, key string) ds.Key {
	return ds.NewKey(s.options.Namespace).ChildString("scenes").ChildString(scope).ChildString(key)
}

// Get reads a value.
func (s *Store) Get(ctx context.Context, scope, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	data, err := s.store.Get(ctx, s.key(scope, key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", scope, key, err)
	}
	return data, nil
}

// Set writes a value and publishes the change.
func (s *Store) Set(ctx context.Context, scope, key string, value []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.store.Put(ctx, s.key(scope, key), value); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", scope, key, err)
	}
	return s.publish(ctx, scope, key)
}

// Unset deletes a value and publishes the change.
func (s *Store) Unset(ctx context.Context, scope, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.store.Delete(ctx, s.key(scope, key)); err != nil {
		return fmt.Errorf("failed to unset %s/%s: %w", scope, key, err)
	}
	return s.publish(ctx, scope, key)
}

// CompareAndSwap writes value only if the stored value still equals old.
func (s *Store) CompareAndSwap(ctx context.Context, scope, key string, old, value []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	k := s.key(scope, key)

	if sw, ok := s.store.(swapDatastore); ok {
		if err := sw.CompareAndSwap(ctx, k, old, value); err != nil {
			return err
		}
		return s.publish(ctx, scope, key)
	}

	s.swapMu.Lock()
	current, err := s.store.Get(ctx, k)
	switch {
	case errors.Is(err, ds.ErrNotFound):
		current = nil
	case err != nil:
		s.swapMu.Unlock()
		return fmt.Errorf("failed to get %s/%s: %w", scope, key, err)
	}
	if (old == nil) != (current == nil) || !bytes.Equal(current, old) {
		s.swapMu.Unlock()
		return ErrSwapMismatch
	}
	err = s.store.Put(ctx, k, value)
	s.swapMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", scope, key, err)
	}
	return s.publish(ctx, scope, key)
}

// Scopes lists every scope that holds at least one key.
func (s *Store) Scopes(ctx context.Context) ([]string, error) {
	prefix := ds.NewKey(s.options.Namespace).ChildString("scenes")
	results, err := s.store.Query(ctx, dsq.Query{Prefix: prefix.String(), KeysOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to query scopes: %w", err)
	}
	defer results.Close()

	seen := make(map[string]struct{})
	for r := range results.Next() {
		if r.Error != nil {
			return nil, r.Error
		}
		rest := strings.TrimPrefix(r.Key, prefix.String()+"/")
		if rest == r.Key {
			continue
		}
		if i := strings.Index(rest, "/"); i > 0 {
			seen[rest[:i]] = struct{}{}
		}
	}

	scopes := make([]string, 0, len(seen))
	for scope := range seen {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// OnChange registers fn for every change, in registration order.
func (s *Store) OnChange(fn ChangeFunc) func() {
	s.mutex.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	s.mutex.Unlock()

	return func() {
		s.mutex.Lock()
		delete(s.handlers, id)
		s.mutex.Unlock()
	}
}

// Close unsubscribes from the notifier. The datastore is left open.
func (s *Store) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	s.mutex.Unlock()

	err := s.notifier.Unsubscribe(s.options.ID)
	s.cancel()
	return err
}

func (s *Store) publish(ctx context.Context, scope, key string) error {
	c := Change{Scope: scope, Keys: []string{key}, Origin: s.options.ID}
	if err := s.notifier.Publish(ctx, c); err != nil {
		return fmt.Errorf("failed to publish change for %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *Store) dispatch(ctx context.Context, c Change) error {
	s.mutex.RLock()
	ids := make([]uint64, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]ChangeFunc, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.handlers[id])
	}
	s.mutex.RUnlock()

	logger.Debugf("change %s %v from %s", c.Scope, c.Keys, c.Origin)
	for _, fn := range handlers {
		fn(ctx, c)
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.closed
}
