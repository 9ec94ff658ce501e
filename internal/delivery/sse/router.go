package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fogmask/internal/domain"
)

var logger = logging.Logger("fogmask/sse")

var clientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fogmask_sse_clients",
	Help: "Connected server-sent event clients.",
})

// clientBuffer is how many events a slow client may lag behind before
// events are dropped for it.
const clientBuffer = 64

// Client represents a connected SSE client
type Client struct {
	ID      string
	SceneID string
	events  chan domain.Event
}

// Router handles SSE connections and events
type Router struct {
	fogUC   domain.FogUseCase
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewRouter creates a new SSE router
func NewRouter(fogUC domain.FogUseCase) *Router {
	return &Router{
		fogUC:   fogUC,
		clients: make(map[string]*Client),
	}
}

// HandleEvents streams the events of one scene. The current history is
// sent first.
func (r *Router) HandleEvents(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sceneID := req.URL.Query().Get("sceneId")
	if sceneID == "" {
		http.Error(w, "sceneId is required", http.StatusBadRequest)
		return
	}
	clientID := req.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	log, err := r.fogUC.History(req.Context(), sceneID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := &Client{
		ID:      clientID,
		SceneID: sceneID,
		events:  make(chan domain.Event, clientBuffer),
	}
	key := sceneID + "/" + clientID

	r.mu.Lock()
	r.clients[key] = client
	r.mu.Unlock()
	clientsGauge.Inc()
	logger.Debugf("client %s joined scene %s", clientID, sceneID)

	defer func() {
		r.mu.Lock()
		if r.clients[key] == client {
			delete(r.clients, key)
		}
		r.mu.Unlock()
		clientsGauge.Dec()
		logger.Debugf("client %s left scene %s", clientID, sceneID)
	}()

	r.sendEvent(w, flusher, domain.Event{Type: domain.EventHistory, SceneID: sceneID, Payload: log})

	for {
		select {
		case <-req.Context().Done():
			return
		case ev := <-client.events:
			r.sendEvent(w, flusher, ev)
		}
	}
}

// Publish queues ev for every client of its scene.
func (r *Router) Publish(ev domain.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, client := range r.clients {
		if client.SceneID != ev.SceneID {
			continue
		}
		select {
		case client.events <- ev:
		default:
			logger.Warnf("client %s is too slow, dropping %s event", client.ID, ev.Type)
		}
	}
}

// Clients returns how many clients follow sceneID.
func (r *Router) Clients(sceneID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.clients {
		if c.SceneID == sceneID {
			n++
		}
	}
	return n
}

func (r *Router) sendEvent(w http.ResponseWriter, flusher http.Flusher, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("failed to encode %s event: %v", ev.Type, err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
