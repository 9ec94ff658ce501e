package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fogmask/internal/delivery/sse"
	"fogmask/internal/delivery/ws"
	"fogmask/pkg/utils"
)

// Router handles HTTP routing
type Router struct {
	handler   *Handler
	sseRouter *sse.Router
	hub       *ws.Hub
	zap       *zap.Logger
	static    string
}

// NewRouter creates a new HTTP router. static is the directory of the web
// client; empty disables it.
func NewRouter(handler *Handler, sseRouter *sse.Router, hub *ws.Hub, static string) *Router {
	return &Router{
		handler:   handler,
		sseRouter: sseRouter,
		hub:       hub,
		zap:       logger.Desugar(),
		static:    static,
	}
}

// Setup sets up the HTTP routes
func (r *Router) Setup() http.Handler {
	apiMux := http.NewServeMux()
	streamMux := http.NewServeMux()

	apiMux.HandleFunc("/api/scenes", r.handler.ListScenes)
	apiMux.HandleFunc("/api/scenes/create", r.handler.CreateScene)
	apiMux.HandleFunc("/api/scenes/get", r.handler.GetScene)

	apiMux.HandleFunc("/api/fog/paint", r.handler.Paint)
	apiMux.HandleFunc("/api/fog/gesture", r.handler.Gesture)
	apiMux.HandleFunc("/api/fog/commit", r.handler.Commit)
	apiMux.HandleFunc("/api/fog/undo", r.handler.Undo)
	apiMux.HandleFunc("/api/fog/reset", r.handler.Reset)
	apiMux.HandleFunc("/api/fog/blank", r.handler.Blank)
	apiMux.HandleFunc("/api/fog/cancel", r.handler.Cancel)
	apiMux.HandleFunc("/api/fog/history", r.handler.History)
	apiMux.HandleFunc("/api/fog/mask.png", r.handler.Mask)
	apiMux.HandleFunc("/api/fog/visibility", r.handler.Visibility)

	apiMux.HandleFunc("/api/placeables/add", r.handler.AddPlaceable)

	apiMux.HandleFunc("/api/settings", r.handler.Settings)
	apiMux.HandleFunc("/api/settings/update", r.handler.UpdateSettings)
	apiMux.HandleFunc("/api/settings/user", r.handler.UpdateUserSettings)

	apiMux.Handle("/metrics", promhttp.Handler())

	if r.static != "" {
		apiMux.Handle("/", http.FileServer(http.Dir(r.static)))
	}

	// Streaming routes - no middleware
	streamMux.HandleFunc("/api/events", r.sseRouter.HandleEvents)
	streamMux.HandleFunc("/api/ws", r.hub.HandleWebSocket)

	errorMiddleware := func(next http.Handler) http.Handler {
		return utils.ErrorHandlerMiddleware(r.zap, next)
	}
	apiHandler := ApplyMiddleware(apiMux, errorMiddleware, LoggingMiddleware, utils.RequestIDMiddleware)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/events", "/api/ws":
			streamMux.ServeHTTP(w, req)
		default:
			apiHandler.ServeHTTP(w, req)
		}
	})
}
