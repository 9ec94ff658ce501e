package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fogmask/internal/delivery/sse"
	"fogmask/internal/delivery/ws"
	"fogmask/internal/domain"
	"fogmask/internal/repository/memory"
	"fogmask/internal/usecase"
	"fogmask/maskop"
	"fogmask/transport"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	store, err := transport.NewMemoryStore()
	require.NoError(t, err)

	uc := usecase.NewFogUseCase(context.Background(), store, memory.NewSceneRepository(), memory.NewPlaceableRepository())
	sseRouter := sse.NewRouter(uc)
	hub := ws.NewHub(context.Background(), uc, zap.NewNop())
	uc.AddPublisher(sseRouter)
	uc.AddPublisher(hub)
	t.Cleanup(func() {
		uc.Close()
		store.Close()
	})

	return NewRouter(NewHandler(uc), sseRouter, hub, "").Setup()
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, &buf))
	return rec
}

func createScene(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/scenes/create", map[string]any{"name": "crypt", "width": 200, "height": 200, "gridSize": 50})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var scene domain.Scene
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scene))
	return scene.ID
}

func TestSceneRoutes(t *testing.T) {
	h := newTestServer(t)
	id := createScene(t, h)

	rec := do(t, h, http.MethodGet, "/api/scenes/get?id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"crypt"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/api/scenes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var scenes []domain.Scene
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scenes))
	assert.Len(t, scenes, 1)

	rec = do(t, h, http.MethodGet, "/api/scenes/get?id=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "scene not found")

	rec = do(t, h, http.MethodPost, "/api/scenes/create", map[string]any{"name": "bad", "width": 0, "height": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/scenes/create", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/scenes/create", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFogRoutes(t *testing.T) {
	h := newTestServer(t)
	id := createScene(t, h)

	gesture := domain.Gesture{Tool: domain.ToolBox, Points: []domain.Point{{X: 0, Y: 0}, {X: 100, Y: 100}}}
	rec := do(t, h, http.MethodPost, "/api/fog/gesture?sceneId="+id+"&userId=gm", gesture)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"painted":1}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/fog/commit?sceneId="+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/fog/paint?sceneId="+id, map[string]any{
		"operations": []maskop.Operation{maskop.NewBox(100, 100, 20, 20, maskop.FillRevealed)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/api/fog/commit?sceneId="+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/fog/undo?sceneId="+id+"&steps=1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/fog/history?sceneId="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	log, err := maskop.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, log.Events, 2)
	assert.Equal(t, 1, log.Pointer)

	rec = do(t, h, http.MethodGet, "/api/fog/mask.png?sceneId="+id+"&gm=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = do(t, h, http.MethodPost, "/api/fog/undo?sceneId="+id+"&steps=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/fog/gesture?sceneId="+id, domain.Gesture{Tool: "spray", Points: []domain.Point{{}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, path := range []string{"/api/fog/cancel", "/api/fog/blank", "/api/fog/reset"} {
		rec = do(t, h, http.MethodPost, path+"?sceneId="+id, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
	}
	rec = do(t, h, http.MethodGet, "/api/fog/history?sceneId="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	log, err = maskop.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Empty(t, log.Events)

	rec = do(t, h, http.MethodPost, "/api/fog/commit", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsAndVisibilityRoutes(t *testing.T) {
	h := newTestServer(t)
	id := createScene(t, h)

	rec := do(t, h, http.MethodPost, "/api/settings/update?sceneId="+id, `{"visible":true,"autoVisibility":true,"transition":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"autoVisibility":true`)

	rec = do(t, h, http.MethodPost, "/api/settings/update?sceneId="+id, `{"gmColorAlpha":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/settings/user?userId=alice", `{"brushSize":12}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/settings?sceneId="+id+"&userId=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"brushSize":12`)

	rec = do(t, h, http.MethodPost, "/api/placeables/add", domain.Placeable{
		ID: "tok", SceneID: id, Kind: domain.PlaceableToken, Position: &domain.Point{X: 150, Y: 150}, Visible: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/fog/visibility?sceneId="+id+"&userId=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var placeables []domain.Placeable
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placeables))
	require.Len(t, placeables, 1)
	assert.False(t, placeables[0].Visible, "fogged at the default threshold")
}

func TestMetricsRoute(t *testing.T) {
	h := newTestServer(t)
	createScene(t, h)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fogmask_http_requests_total")
}
