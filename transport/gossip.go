package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// GossipNotifier broadcasts changes between server instances over a libp2p
// gossipsub topic. Locally published messages are delivered locally too.
type GossipNotifier struct {
	host   host.Host
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	ctx    context.Context
	cancel context.CancelFunc

	subscriptions map[string]*gossipSubscription
	mutex         sync.Mutex
	closed        bool
}

type gossipSubscription struct {
	sub    *pubsub.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHost starts a libp2p host listening on listenAddr, e.g.
// "/ip4/0.0.0.0/tcp/0".
func NewHost(listenAddr string) (host.Host, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.DisableRelay(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	logger.Infof("libp2p host created. ID: %s", h.ID())
	for _, addr := range h.Addrs() {
		logger.Infof("Listening on: %s/p2p/%s", addr, h.ID())
	}
	return h, nil
}

// ConnectPeers dials a comma separated list of /p2p multiaddrs. Failures are
// logged and skipped.
func ConnectPeers(ctx context.Context, h host.Host, peers string) int {
	connected := 0
	for _, addrStr := range strings.Split(peers, ",") {
		addrStr = strings.TrimSpace(addrStr)
		if addrStr == "" {
			continue
		}

		addr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			logger.Errorf("Invalid peer address %q: %v", addrStr, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logger.Errorf("Failed to parse peer info: %v", err)
			continue
		}
		if info.ID == h.ID() {
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			logger.Warnf("Failed to connect to peer %s: %v", info.ID, err)
			continue
		}
		logger.Infof("Connected to peer: %s", info.ID)
		connected++
	}
	return connected
}

// NewGossipNotifier joins topicName on a new gossipsub router for h.
func NewGossipNotifier(ctx context.Context, h host.Host, topicName string) (*GossipNotifier, error) {
	if h == nil {
		return nil, fmt.Errorf("libp2p host cannot be nil")
	}
	if topicName == "" {
		topicName = "fogmask-changes"
	}

	ctx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}
	topic, err := ps.Join(topicName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to join pubsub topic: %w", err)
	}

	return &GossipNotifier{
		host:          h,
		ps:            ps,
		topic:         topic,
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[string]*gossipSubscription),
	}, nil
}

// Publish sends the change to the topic.
func (n *GossipNotifier) Publish(ctx context.Context, c Change) error {
	n.mutex.Lock()
	closed := n.closed
	n.mutex.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	return n.topic.Publish(ctx, data)
}

// Subscribe reads the topic on a dedicated subscription.
func (n *GossipNotifier) Subscribe(ctx context.Context, subscriberID string, handler func(ctx context.Context, c Change) error) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.closed {
		return ErrClosed
	}
	if _, ok := n.subscriptions[subscriberID]; ok {
		return fmt.Errorf("already subscribed with subscriberID: %s", subscriberID)
	}

	sub, err := n.topic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	gs := &gossipSubscription{sub: sub, cancel: cancel, done: make(chan struct{})}
	n.subscriptions[subscriberID] = gs

	go func() {
		defer close(gs.done)
		for {
			msg, err := sub.Next(subCtx)
			if err != nil {
				return
			}
			var c Change
			if err := json.Unmarshal(msg.Data, &c); err != nil {
				logger.Warnf("dropping malformed change from %s: %v", msg.ReceivedFrom, err)
				continue
			}
			if err := handler(subCtx, c); err != nil {
				logger.Warnf("subscriber %s failed to handle change for %s: %v", subscriberID, c.Scope, err)
			}
		}
	}()
	return nil
}

// Unsubscribe cancels the subscription of subscriberID.
func (n *GossipNotifier) Unsubscribe(subscriberID string) error {
	n.mutex.Lock()
	gs, ok := n.subscriptions[subscriberID]
	delete(n.subscriptions, subscriberID)
	n.mutex.Unlock()

	if !ok {
		return fmt.Errorf("not subscribed: %s", subscriberID)
	}
	gs.cancel()
	gs.sub.Cancel()
	<-gs.done
	return nil
}

// Close leaves the topic. The host is owned by the caller.
func (n *GossipNotifier) Close() error {
	n.mutex.Lock()
	if n.closed {
		n.mutex.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subscriptions
	n.subscriptions = make(map[string]*gossipSubscription)
	n.mutex.Unlock()

	for _, gs := range subs {
		gs.cancel()
		gs.sub.Cancel()
		<-gs.done
	}
	err := n.topic.Close()
	n.cancel()
	return err
}
