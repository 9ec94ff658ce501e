package transport

import (
	"context"
	"fmt"
	"sync"
)

// Notifier broadcasts changes between stores.
type Notifier interface {
	// Publish sends the change to every subscriber, the publisher included.
	Publish(ctx context.Context, c Change) error
	// Subscribe registers handler under subscriberID.
	Subscribe(ctx context.Context, subscriberID string, handler func(ctx context.Context, c Change) error) error
	// Unsubscribe removes the subscriber.
	Unsubscribe(subscriberID string) error
	// Close stops all deliveries.
	Close() error
}

// MemoryNotifier delivers changes inside one process. Each subscriber gets
// its own queue and goroutine so delivery order matches publish order.
type MemoryNotifier struct {
	subscribers map[string]*memorySubscriber
	bufferSize  int
	mutex       sync.RWMutex
	closed      bool
}

type memorySubscriber struct {
	ch     chan Change
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryNotifier creates an in-process notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{
		subscribers: make(map[string]*memorySubscriber),
		bufferSize:  256,
	}
}

// Publish queues the change for every subscriber.
func (n *MemoryNotifier) Publish(ctx context.Context, c Change) error {
	n.mutex.RLock()
	defer n.mutex.RUnlock()

	if n.closed {
		return ErrClosed
	}

	for _, sub := range n.subscribers {
		select {
		case sub.ch <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe starts delivering changes to handler.
func (n *MemoryNotifier) Subscribe(ctx context.Context, subscriberID string, handler func(ctx context.Context, c Change) error) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.closed {
		return ErrClosed
	}
	if _, ok := n.subscribers[subscriberID]; ok {
		return fmt.Errorf("already subscribed with subscriberID: %s", subscriberID)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySubscriber{
		ch:     make(chan Change, n.bufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	n.subscribers[subscriberID] = sub

	go func() {
		defer close(sub.done)
		for {
			select {
			case <-subCtx.Done():
				return
			case c := <-sub.ch:
				if err := handler(subCtx, c); err != nil {
					logger.Warnf("subscriber %s failed to handle change for %s: %v", subscriberID, c.Scope, err)
				}
			}
		}
	}()
	return nil
}

// Unsubscribe stops delivering to subscriberID.
func (n *MemoryNotifier) Unsubscribe(subscriberID string) error {
	n.mutex.Lock()
	sub, ok := n.subscribers[subscriberID]
	delete(n.subscribers, subscriberID)
	n.mutex.Unlock()

	if !ok {
		return fmt.Errorf("not subscribed: %s", subscriberID)
	}
	sub.cancel()
	<-sub.done
	return nil
}

// Close stops every subscriber.
func (n *MemoryNotifier) Close() error {
	n.mutex.Lock()
	if n.closed {
		n.mutex.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subscribers
	n.subscribers = make(map[string]*memorySubscriber)
	n.mutex.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
	return nil
}
