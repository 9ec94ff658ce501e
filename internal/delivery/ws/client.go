package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fogmask/internal/domain"
	"fogmask/maskop"
)

// Message types exchanged with clients.
const (
	MessagePaint   = "paint"
	MessageGesture = "gesture"
	MessageCommit  = "commit"
	MessageCancel  = "cancel"
	MessageUndo    = "undo"
	MessageEvent   = "event"
	MessageAck     = "ack"
	MessageError   = "error"
)

const (
	// sendQueue is how many frames a client may lag behind before events
	// are dropped for it.
	sendQueue = 64
	writeWait = 10 * time.Second
)

var errQueueFull = errors.New("send queue is full")

// Message is one WebSocket frame.
type Message struct {
	Type       string             `json:"type"`
	SceneID    string             `json:"sceneId,omitempty"`
	Operations []maskop.Operation `json:"operations,omitempty"`
	Gesture    *domain.Gesture    `json:"gesture,omitempty"`
	Steps      int                `json:"steps,omitempty"`
	Painted    int                `json:"painted,omitempty"`
	Event      *domain.Event      `json:"event,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Client is one WebSocket connection following a scene.
type Client struct {
	conn    *websocket.Conn
	id      string
	userID  string
	sceneID string
	fogUC   domain.FogUseCase
	hub     *Hub
	logger  *zap.Logger
	send    chan []byte

	mutex  sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(ctx context.Context, conn *websocket.Conn, id, userID, sceneID string, hub *Hub) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:    conn,
		id:      id,
		userID:  userID,
		sceneID: sceneID,
		fogUC:   hub.fogUC,
		hub:     hub,
		logger:  hub.logger.With(zap.String("client_id", id), zap.String("scene_id", sceneID)),
		send:    make(chan []byte, sendQueue),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the client id.
func (c *Client) ID() string {
	return c.id
}

// Start registers the client and runs its receive loop until the
// connection drops. Frames are written by a separate goroutine so a
// stalled peer never blocks a publisher.
func (c *Client) Start() {
	c.hub.register(c)
	go c.writeLoop()
	c.receiveLoop()
}

func (c *Client) writeLoop() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) receiveLoop() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Failed to parse WebSocket message", zap.Error(err))
			c.sendMessage(&Message{Type: MessageError, Error: "invalid message"})
			continue
		}

		reply, err := c.handleMessage(&msg)
		if err != nil {
			c.logger.Warn("Failed to handle WebSocket message", zap.String("message_type", msg.Type), zap.Error(err))
			reply = &Message{Type: MessageError, Error: err.Error()}
		}
		// A peer that cannot take its own replies is gone.
		if err := c.sendMessage(reply); errors.Is(err, errQueueFull) {
			c.logger.Warn("Client is not reading, closing")
			return
		}
	}
}

func (c *Client) handleMessage(msg *Message) (*Message, error) {
	reply := &Message{Type: MessageAck, SceneID: c.sceneID}

	switch msg.Type {
	case MessagePaint:
		return reply, c.fogUC.Paint(c.ctx, c.sceneID, msg.Operations)
	case MessageGesture:
		if msg.Gesture == nil {
			return nil, fmt.Errorf("%w: gesture is missing", domain.ErrInvalidGesture)
		}
		n, err := c.fogUC.PaintGesture(c.ctx, c.sceneID, c.userID, *msg.Gesture)
		reply.Painted = n
		return reply, err
	case MessageCommit:
		return reply, c.fogUC.Commit(c.ctx, c.sceneID)
	case MessageCancel:
		return reply, c.fogUC.Cancel(c.ctx, c.sceneID)
	case MessageUndo:
		steps := msg.Steps
		if steps == 0 {
			steps = 1
		}
		return reply, c.fogUC.Undo(c.ctx, c.sceneID, steps)
	default:
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// SendEvent queues a scene event for the client. It never blocks: when
// the queue is full the event is dropped.
func (c *Client) SendEvent(ev domain.Event) error {
	return c.sendMessage(&Message{Type: MessageEvent, SceneID: ev.SceneID, Event: &ev})
}

func (c *Client) sendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errQueueFull
	}
}

// Close unregisters the client and closes the connection.
func (c *Client) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	err := c.conn.Close()
	c.mutex.Unlock()

	c.hub.unregister(c)
	return err
}
