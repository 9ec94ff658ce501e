package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisNotifier broadcasts changes over a Redis PUB/SUB channel.
type RedisNotifier struct {
	client        *redis.Client
	channel       string
	subscriptions map[string]*redisSubscription
	mutex         sync.RWMutex
	closed        bool
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisNotifier creates a notifier publishing on channel.
func NewRedisNotifier(client *redis.Client, channel string) (*RedisNotifier, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channel == "" {
		channel = "fogmask-changes"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisNotifier{
		client:        client,
		channel:       channel,
		subscriptions: make(map[string]*redisSubscription),
	}, nil
}

// Publish sends the change as JSON.
func (n *RedisNotifier) Publish(ctx context.Context, c Change) error {
	n.mutex.RLock()
	closed := n.closed
	n.mutex.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	return n.client.Publish(ctx, n.channel, data).Err()
}

// Subscribe opens a dedicated Redis subscription for subscriberID.
func (n *RedisNotifier) Subscribe(ctx context.Context, subscriberID string, handler func(ctx context.Context, c Change) error) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.closed {
		return ErrClosed
	}
	if _, ok := n.subscriptions[subscriberID]; ok {
		return fmt.Errorf("already subscribed with subscriberID: %s", subscriberID)
	}

	ps := n.client.Subscribe(ctx, n.channel)
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("failed to subscribe to channel %s: %w", n.channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{pubsub: ps, cancel: cancel, done: make(chan struct{})}
	n.subscriptions[subscriberID] = sub

	go n.handleMessages(subCtx, subscriberID, sub, handler)
	return nil
}

func (n *RedisNotifier) handleMessages(ctx context.Context, subscriberID string, sub *redisSubscription, handler func(ctx context.Context, c Change) error) {
	defer close(sub.done)

	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				logger.Warnf("dropping malformed change on %s: %v", msg.Channel, err)
				continue
			}
			if err := handler(ctx, c); err != nil {
				logger.Warnf("subscriber %s failed to handle change for %s: %v", subscriberID, c.Scope, err)
			}
		}
	}
}

// Unsubscribe closes the subscription of subscriberID.
func (n *RedisNotifier) Unsubscribe(subscriberID string) error {
	n.mutex.Lock()
	sub, ok := n.subscriptions[subscriberID]
	delete(n.subscriptions, subscriberID)
	n.mutex.Unlock()

	if !ok {
		return fmt.Errorf("not subscribed: %s", subscriberID)
	}
	return n.stop(sub)
}

// Close closes every subscription. The Redis client stays open.
func (n *RedisNotifier) Close() error {
	n.mutex.Lock()
	if n.closed {
		n.mutex.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subscriptions
	n.subscriptions = make(map[string]*redisSubscription)
	n.mutex.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := n.stop(sub); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (n *RedisNotifier) stop(sub *redisSubscription) error {
	sub.cancel()
	err := sub.pubsub.Close()
	<-sub.done
	return err
}
