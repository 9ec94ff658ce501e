package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	logging "github.com/ipfs/go-log/v2"

	"fogmask/engine"
	"fogmask/internal/domain"
	"fogmask/maskop"
	"fogmask/pkg/utils"
	"fogmask/settings"
)

var logger = logging.Logger("fogmask/http")

// maxBodySize bounds request bodies.
const maxBodySize = 4 << 20

var errInvalidParam = errors.New("invalid parameter")

// Handler handles HTTP requests
type Handler struct {
	fogUC domain.FogUseCase
}

// NewHandler creates a new HTTP handler
func NewHandler(fogUC domain.FogUseCase) *Handler {
	return &Handler{fogUC: fogUC}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSceneNotFound), errors.Is(err, domain.ErrPlaceableNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSceneExists), errors.Is(err, engine.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidScene),
		errors.Is(err, domain.ErrInvalidGesture),
		errors.Is(err, domain.ErrInvalidPlaceable),
		errors.Is(err, settings.ErrInvalid),
		errors.Is(err, errInvalidParam):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, r *http.Request, err error, code int) {
	if !utils.SetError(r, err, code) {
		http.Error(w, err.Error(), code)
	}
}

func failErr(w http.ResponseWriter, r *http.Request, err error) {
	fail(w, r, err, statusFor(err))
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Error encoding response: %v", err)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		if !utils.SetErrorMessage(r, err, http.StatusBadRequest, "Error reading request body") {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
		}
		return nil, false
	}
	return body, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		fail(w, r, err, http.StatusBadRequest)
		return false
	}
	return true
}

func sceneParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.URL.Query().Get(name)
	if id == "" {
		http.Error(w, name+" is required", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func viewerParam(r *http.Request) domain.Viewer {
	gm, _ := strconv.ParseBool(r.URL.Query().Get("gm"))
	return domain.Viewer{UserID: r.URL.Query().Get("userId"), GM: gm}
}

// ListScenes handles GET /api/scenes
func (h *Handler) ListScenes(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	scenes, err := h.fogUC.ListScenes(r.Context())
	if err != nil {
		failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scenes)
}

// CreateScene handles POST /api/scenes/create
func (h *Handler) CreateScene(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Name     string `json:"name"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		GridSize int    `json:"gridSize"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	scene, err := h.fogUC.CreateScene(r.Context(), req.Name, req.Width, req.Height, req.GridSize)
	if err != nil {
		failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, scene)
}

// GetScene handles GET /api/scenes/get?id=
func (h *Handler) GetScene(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id, ok := sceneParam(w, r, "id")
	if !ok {
		return
	}
	scene, err := h.fogUC.GetScene(r.Context(), id)
	if err != nil {
		failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

// Paint handles POST /api/fog/paint?sceneId= with {"operations": [...]}.
func (h *Handler) Paint(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	sceneID, ok := sceneParam(w, r, "sceneId")
	if !ok {
		return
	}
	var req struct {
		Operations []maskop.Operation `json:"operations"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.fogUC.Paint(r.Context(), sceneID, req.Operations); err != nil {
		failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"painted": len(req.Operations)})
}

// Gesture handles POST /api/fog/gesture?sceneId=&userId=
func (h *Handler) Gesture(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	sceneID, ok := sceneParam(w, r, "sceneId")
	if !ok {
		return
	}
	var g domain.Gesture
	if !decodeBody(w, r, &g) {
		return
	}
	n, err := h.fogUC.PaintGesture(r.Context(), sceneID, r.URL.Query().Get("userId"), g)
	if err != nil {
		failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"painted": n})
}

// sceneAction wraps the POST endpoints that only take a scene id.
func (h *Handler) sceneAction(action func(r *http.Request, sceneID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		sceneID, ok := sceneParam(w, r, "sceneId")
		if !ok {
			return
		}
		if err := action(r, sceneID); err != nil {
			failErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Commit handles POST /api/fog/commit?sceneId=
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	h.sceneAction(func(r *http.Request, id string) error { return h.fogUC.Commit(r.Context(), id) })(w, r)
}

// Undo handles POST /api/fog/undo?sceneId=&steps=
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	h.sceneAction(func(r *http.Request, id string) error {
		steps := 1
		if s := r.URL.Query().Get("steps"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("%w: steps: %v", errInvalidParam, err)
			}
			steps = n
		}
		return h.fogUC.Undo(r.Context(), id, steps)
	})(w, r)
}

// Reset handles POST /api/fog/reset?sceneId=
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.sceneAction(func(r *http.Request, id string) error { return h.fogUC.Reset(r.Context(), id) })(w, r)
}

// Blank handles POST /api/fog/blank?sceneId=
func (h *Handler) Blank(w http.ResponseWriter, r *http.Request) {
	h.sceneAction(func(r *http.Request, id string) error { return h.fogUC.Blank(r.Context(), id) })(w, r)
}

// Cancel handles POST /api/fog/cancel?sceneId=
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.sceneAction(func(r *http.Request, id string) error { return h.fogUC.Cancel(r.Context(), id) })(w, r)
}

// History handles GET /api/fog/history?sceneId=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	sceneID, ok := sceneParam(w, r, "sceneId")
	if !ok {
		return
	}
	log, err := h.fogUC.History(r.Context(), sceneID)
	if err != nil {
		failErr(w, r, err)
		return
	}
	data, err := maskop.Encode(log)
	if err != nil {
		failErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Mask handles GET /api/fog/mask.png?sceneId=&userId=&gm=
func (h *Handler) Mask(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	sceneID, ok := sceneParam(w, r, "sceneId")
	if !ok {
		return
	}
	// Render to a buffer first so a failure can still get an error response.
	var buf bytes.Buffer
	if err := h.fogUC.ExportMask(r.Context(), sceneID, viewerParam(r), &buf); err != nil {
		failErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// Visibility handles GET /api/fog/visibility?sceneId=&userId=&gm=
func (h *Handler) Visibility(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	sceneID, ok := sceneParam(w, r, "sceneId")
	if !ok {
		return
	}
	placeables, err := h.fogUC.Visibility(r.Context(), sceneID, viewerParam(r))
	if err != nil {
		failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, placeables)
}

// AddPlaceable handles POST /api/placeables/add
func (h *Handler) AddPlaceable(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var p domain.Placeable
	if !decodeBody(w, r, &p) {
		return
	}
	if err := h.fogUC.AddPlaceable(r.Context(), &p); err != nil {
		failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

// Settings handles GET /api/settings?sceneId=&userId=
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	sceneID, ok := sceneParam(w, r, "sceneId")
	if !ok {
		return
	}
	cfg, err := h.fogUC.Settings(r.Context(), sceneID, r.URL.Query().Get("userId"))
	if err != nil {
		failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateSettings handles POST /api/settings/update?sceneId= with a partial
// settings object.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	sceneID, ok := sceneParam(w, r, "sceneId")
	if !ok {
		return
	}
	patch, ok := readBody(w, r)
	if !ok {
		return
	}
	cfg, err := h.fogUC.UpdateSettings(r.Context(), sceneID, patch)
	if err != nil {
		failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateUserSettings handles POST /api/settings/user?userId=
func (h *Handler) UpdateUserSettings(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	userID, ok := sceneParam(w, r, "userId")
	if !ok {
		return
	}
	patch, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := h.fogUC.UpdateUserSettings(r.Context(), userID, patch); err != nil {
		failErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
