package usecase

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fogmask/internal/domain"
	"fogmask/internal/repository/memory"
	"fogmask/maskop"
	"fogmask/transport"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func setup(t *testing.T) (*FogUseCase, *recorder, *domain.Scene) {
	t.Helper()
	store, err := transport.NewMemoryStore()
	require.NoError(t, err)

	uc := NewFogUseCase(context.Background(), store, memory.NewSceneRepository(), memory.NewPlaceableRepository())
	rec := &recorder{}
	uc.AddPublisher(rec)
	t.Cleanup(func() {
		uc.Close()
		store.Close()
	})

	scene, err := uc.CreateScene(context.Background(), "cellar", 200, 200, 50)
	require.NoError(t, err)
	return uc, rec, scene
}

func drag(tool string, x0, y0, x1, y1 float64) domain.Gesture {
	return domain.Gesture{Tool: tool, Points: []domain.Point{{X: x0, Y: y0}, {X: x1, Y: y1}}}
}

func TestCreateAndListScenes(t *testing.T) {
	uc, _, scene := setup(t)
	ctx := context.Background()

	got, err := uc.GetScene(ctx, scene.ID)
	require.NoError(t, err)
	assert.Equal(t, "cellar", got.Name)

	_, err = uc.CreateScene(ctx, "bad", 0, 10, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidScene)

	list, err := uc.ListScenes(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUnknownScene(t *testing.T) {
	uc, _, _ := setup(t)
	err := uc.Commit(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSceneNotFound)
}

func TestGestureCommitAndHistory(t *testing.T) {
	uc, rec, scene := setup(t)
	ctx := context.Background()

	n, err := uc.PaintGesture(ctx, scene.ID, "alice", drag(domain.ToolBox, 0, 0, 100, 100))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, uc.Commit(ctx, scene.ID))

	log, err := uc.History(ctx, scene.ID)
	require.NoError(t, err)
	require.Len(t, log.Events, 1)
	assert.Equal(t, maskop.Box, log.Events[0][0].Shape)
	assert.Equal(t, 1, log.Pointer)

	assert.Contains(t, rec.types(), domain.EventPainted)
	assert.Contains(t, rec.types(), domain.EventHistory)
}

func TestInvalidGestures(t *testing.T) {
	uc, _, scene := setup(t)
	ctx := context.Background()

	tests := []domain.Gesture{
		{Tool: domain.ToolBrush},
		{Tool: domain.ToolBox, Points: []domain.Point{{X: 1, Y: 1}}},
		{Tool: "spray", Points: []domain.Point{{X: 1, Y: 1}}},
	}
	for _, g := range tests {
		_, err := uc.PaintGesture(ctx, scene.ID, "alice", g)
		assert.ErrorIs(t, err, domain.ErrInvalidGesture, g.Tool)
	}
}

func TestGridGesturePaintsEachCellOnce(t *testing.T) {
	uc, _, scene := setup(t)
	g := domain.Gesture{Tool: domain.ToolGrid, Points: []domain.Point{{X: 10, Y: 10}, {X: 20, Y: 20}, {X: 60, Y: 10}}}
	n, err := uc.PaintGesture(context.Background(), scene.ID, "alice", g)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGridCellsStayPaintedUntilCommit(t *testing.T) {
	uc, _, scene := setup(t)
	ctx := context.Background()

	cells := func(pts ...domain.Point) int {
		n, err := uc.PaintGesture(ctx, scene.ID, "alice", domain.Gesture{Tool: domain.ToolGrid, Points: pts})
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 1, cells(domain.Point{X: 10, Y: 10}))
	assert.Equal(t, 1, cells(domain.Point{X: 20, Y: 20}, domain.Point{X: 60, Y: 10}), "the first cell was already painted")

	n, err := uc.PaintGesture(ctx, scene.ID, "bob", domain.Gesture{Tool: domain.ToolGrid, Points: []domain.Point{{X: 10, Y: 10}}})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "cells are tracked per user")

	require.NoError(t, uc.Commit(ctx, scene.ID))
	assert.Equal(t, 1, cells(domain.Point{X: 10, Y: 10}))

	require.NoError(t, uc.Cancel(ctx, scene.ID))
	assert.Equal(t, 1, cells(domain.Point{X: 10, Y: 10}))
}

func TestPolygonSpansGestures(t *testing.T) {
	uc, _, scene := setup(t)
	ctx := context.Background()

	click := func(x, y float64) int {
		n, err := uc.PaintGesture(ctx, scene.ID, "alice", domain.Gesture{Tool: domain.ToolPolygon, Points: []domain.Point{{X: x, Y: y}}})
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 0, click(0, 0))
	assert.Equal(t, 0, click(100, 0))
	assert.Equal(t, 0, click(100, 100))
	assert.Equal(t, 1, click(2, 2), "a click near the first vertex closes the polygon")
}

func TestUndo(t *testing.T) {
	uc, _, scene := setup(t)
	ctx := context.Background()

	for _, x := range []float64{0, 100} {
		_, err := uc.PaintGesture(ctx, scene.ID, "alice", drag(domain.ToolBox, x, 0, x+50, 50))
		require.NoError(t, err)
		require.NoError(t, uc.Commit(ctx, scene.ID))
	}
	require.NoError(t, uc.Undo(ctx, scene.ID, 1))

	log, err := uc.History(ctx, scene.ID)
	require.NoError(t, err)
	assert.Len(t, log.Events, 2)
	assert.Equal(t, 1, log.Pointer)
}

func alphaAt(t *testing.T, data []byte, x, y int) uint8 {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA).A
}

func TestExportMask(t *testing.T) {
	uc, _, scene := setup(t)
	ctx := context.Background()

	_, err := uc.UpdateSettings(ctx, scene.ID, []byte(`{"visible":true,"blurEnable":false,"transition":false}`))
	require.NoError(t, err)

	_, err = uc.PaintGesture(ctx, scene.ID, "alice", drag(domain.ToolBox, 0, 0, 100, 100))
	require.NoError(t, err)
	require.NoError(t, uc.Commit(ctx, scene.ID))

	var buf bytes.Buffer
	require.NoError(t, uc.ExportMask(ctx, scene.ID, domain.Viewer{UserID: "bob"}, &buf))
	assert.Equal(t, uint8(0), alphaAt(t, buf.Bytes(), 10, 10), "revealed area is clear")
	assert.Equal(t, uint8(255), alphaAt(t, buf.Bytes(), 150, 150), "fog is opaque for players")

	buf.Reset()
	require.NoError(t, uc.ExportMask(ctx, scene.ID, domain.Viewer{UserID: "gm", GM: true}, &buf))
	assert.Equal(t, uint8(153), alphaAt(t, buf.Bytes(), 150, 150), "gm sees fog at 0.6")
}

func TestExportHiddenLayer(t *testing.T) {
	uc, _, scene := setup(t)
	var buf bytes.Buffer
	require.NoError(t, uc.ExportMask(context.Background(), scene.ID, domain.Viewer{}, &buf))
	assert.Equal(t, uint8(0), alphaAt(t, buf.Bytes(), 150, 150))
}

func TestVisibility(t *testing.T) {
	uc, _, scene := setup(t)
	ctx := context.Background()

	_, err := uc.UpdateSettings(ctx, scene.ID, []byte(`{"visible":true,"autoVisibility":true,"vThreshold":0.5}`))
	require.NoError(t, err)
	_, err = uc.PaintGesture(ctx, scene.ID, "gm", drag(domain.ToolBox, 0, 0, 100, 100))
	require.NoError(t, err)
	require.NoError(t, uc.Commit(ctx, scene.ID))

	placeables := []*domain.Placeable{
		{ID: "a", SceneID: scene.ID, Kind: domain.PlaceableToken, Position: &domain.Point{X: 0, Y: 0}},
		{ID: "b", SceneID: scene.ID, Kind: domain.PlaceableToken, Position: &domain.Point{X: 150, Y: 150}, Visible: true},
		{ID: "c", SceneID: scene.ID, Kind: domain.PlaceableWall, Door: &domain.DoorControl{Position: &domain.Point{X: 25, Y: 25}}},
		{ID: "d", SceneID: scene.ID, Kind: domain.PlaceableNote, Position: &domain.Point{X: 150, Y: 150}, Observers: []string{"bob"}, Visible: true},
	}
	for _, p := range placeables {
		require.NoError(t, uc.AddPlaceable(ctx, p))
	}

	out, err := uc.Visibility(ctx, scene.ID, domain.Viewer{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, out, 4)

	byID := map[string]*domain.Placeable{}
	for _, p := range out {
		byID[p.ID] = p
	}
	assert.True(t, byID["a"].Visible)
	assert.False(t, byID["b"].Visible)
	assert.True(t, byID["c"].Door.Visible)
	assert.False(t, byID["c"].Visible, "doors only change their control")
	assert.True(t, byID["d"].Visible, "observed placeables are left alone")
}

func TestMaskChangesReevaluateVisibility(t *testing.T) {
	uc, rec, scene := setup(t)
	ctx := context.Background()

	_, err := uc.UpdateSettings(ctx, scene.ID, []byte(`{"visible":true,"autoVisibility":true,"vThreshold":0.5}`))
	require.NoError(t, err)
	require.NoError(t, uc.AddPlaceable(ctx, &domain.Placeable{ID: "a", SceneID: scene.ID, Kind: domain.PlaceableToken, Position: &domain.Point{X: 0, Y: 0}}))

	_, err = uc.PaintGesture(ctx, scene.ID, "gm", drag(domain.ToolBox, 0, 0, 100, 100))
	require.NoError(t, err)
	require.NoError(t, uc.Commit(ctx, scene.ID))

	p, err := uc.placeables.Get("a")
	require.NoError(t, err)
	assert.True(t, p.Visible, "revealed by the commit")
	assert.Contains(t, rec.types(), domain.EventVisibility)

	require.NoError(t, uc.Undo(ctx, scene.ID, 1))
	p, err = uc.placeables.Get("a")
	require.NoError(t, err)
	assert.False(t, p.Visible, "fogged again by the undo")
}

func TestAutoVisibilityNeedsSetting(t *testing.T) {
	uc, rec, scene := setup(t)
	ctx := context.Background()

	_, err := uc.UpdateSettings(ctx, scene.ID, []byte(`{"visible":true}`))
	require.NoError(t, err)
	require.NoError(t, uc.AddPlaceable(ctx, &domain.Placeable{ID: "a", SceneID: scene.ID, Kind: domain.PlaceableToken, Position: &domain.Point{X: 0, Y: 0}}))

	_, err = uc.PaintGesture(ctx, scene.ID, "gm", drag(domain.ToolBox, 0, 0, 100, 100))
	require.NoError(t, err)
	require.NoError(t, uc.Commit(ctx, scene.ID))

	p, err := uc.placeables.Get("a")
	require.NoError(t, err)
	assert.False(t, p.Visible)
	assert.NotContains(t, rec.types(), domain.EventVisibility)
}

func TestAddPlaceableNeedsScene(t *testing.T) {
	uc, _, _ := setup(t)
	err := uc.AddPlaceable(context.Background(), &domain.Placeable{ID: "x", SceneID: "missing", Kind: domain.PlaceableToken})
	assert.ErrorIs(t, err, domain.ErrSceneNotFound)
}

func TestSettingsResolution(t *testing.T) {
	uc, rec, scene := setup(t)
	ctx := context.Background()

	_, err := uc.UpdateSettings(ctx, scene.ID, []byte(`{"brushSize":20}`))
	require.NoError(t, err)
	require.NoError(t, uc.UpdateUserSettings(ctx, "alice", []byte(`{"brushSize":80,"handleSize":5}`)))

	cfg, err := uc.Settings(ctx, scene.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.BrushSize, "scene settings win")
	assert.Equal(t, 5, cfg.HandleSize)

	assert.Contains(t, rec.types(), domain.EventSettings)
	assert.Error(t, uc.UpdateUserSettings(ctx, "", []byte(`{}`)))
}

func TestAlphaChangeWithoutTransition(t *testing.T) {
	uc, rec, scene := setup(t)
	ctx := context.Background()

	_, err := uc.UpdateSettings(ctx, scene.ID, []byte(`{"transition":false,"playerColorAlpha":0.2}`))
	require.NoError(t, err)

	st, err := uc.state(ctx, scene.ID)
	require.NoError(t, err)
	_, player := st.alphas()
	assert.Equal(t, 0.2, player)
	assert.Contains(t, rec.types(), domain.EventAlpha)
}

func TestAlphaTransition(t *testing.T) {
	uc, _, scene := setup(t)
	ctx := context.Background()

	_, err := uc.UpdateSettings(ctx, scene.ID, []byte(`{"transition":true,"transitionSpeed":50,"gmColorAlpha":0.1}`))
	require.NoError(t, err)
	uc.WaitTransitions(scene.ID)

	st, err := uc.state(ctx, scene.ID)
	require.NoError(t, err)
	gm, _ := st.alphas()
	assert.InDelta(t, 0.1, gm, 1e-9)
}
