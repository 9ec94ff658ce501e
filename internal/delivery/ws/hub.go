package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fogmask/internal/domain"
)

// Hub tracks WebSocket clients per scene and fans scene events out to
// them.
type Hub struct {
	fogUC    domain.FogUseCase
	logger   *zap.Logger
	upgrader websocket.Upgrader
	ctx      context.Context

	mu      sync.RWMutex
	clients map[string]map[string]*Client
}

// NewHub creates a hub. ctx bounds every client connection.
func NewHub(ctx context.Context, fogUC domain.FogUseCase, logger *zap.Logger) *Hub {
	return &Hub{
		fogUC:  fogUC,
		logger: logger,
		ctx:    ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[string]*Client),
	}
}

// HandleWebSocket upgrades the request and serves the client until it
// disconnects. Query parameters: sceneId (required), clientId, userId.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sceneID := r.URL.Query().Get("sceneId")
	if sceneID == "" {
		http.Error(w, "sceneId is required", http.StatusBadRequest)
		return
	}
	if _, err := h.fogUC.GetScene(r.Context(), sceneID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h.ctx, conn, clientID, r.URL.Query().Get("userId"), sceneID, h)
	client.Start()
}

// Publish queues ev for every client of its scene without waiting on any
// connection.
func (h *Hub) Publish(ev domain.Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[ev.SceneID]))
	for _, c := range h.clients[ev.SceneID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		err := c.SendEvent(ev)
		switch {
		case errors.Is(err, errQueueFull):
			h.logger.Warn("Client is too slow, dropping event", zap.String("client_id", c.id), zap.String("event_type", ev.Type))
		case err != nil:
			h.logger.Debug("Failed to send event", zap.String("client_id", c.id), zap.Error(err))
		}
	}
}

// Clients returns how many clients follow sceneID.
func (h *Hub) Clients(sceneID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sceneID])
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	scene, ok := h.clients[c.sceneID]
	if !ok {
		scene = make(map[string]*Client)
		h.clients[c.sceneID] = scene
	}
	scene[c.id] = c
	h.logger.Debug("Client registered", zap.String("client_id", c.id), zap.String("scene_id", c.sceneID))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	scene := h.clients[c.sceneID]
	if scene[c.id] == c {
		delete(scene, c.id)
	}
	if len(scene) == 0 {
		delete(h.clients, c.sceneID)
	}
}
