package migration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fogmask/engine"
	"fogmask/maskop"
	"fogmask/settings"
	"fogmask/transport"
)

func newStore(t *testing.T) *transport.Store {
	t.Helper()
	s, err := transport.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

const legacyHistory = `{"events":[[{"shape":"ellipse","x":10.6,"y":20.2,"width":5,"height":5,"fill":"0xFFFFFF","visible":true,"alpha":1}],[{"shape":"polygon","x":0,"y":0,"vertices":[0,0,10,0,10,10],"fill":0}]],"pointer":2}`

func TestRunMigratesEveryScene(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Set(ctx, "scene-1", engine.HistoryKey, []byte(legacyHistory)))
	require.NoError(t, s.Set(ctx, "scene-1", settings.StorageKey, []byte(`{"gmAlpha":0.3,"layerZindex":4000,"fogTextureFilePath":"fog.png"}`)))
	require.NoError(t, s.Set(ctx, "scene-2", settings.StorageKey, []byte(`{"visible":true}`)))

	version, err := Run(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, Latest(), version)

	data, err := s.Get(ctx, "scene-1", engine.HistoryKey)
	require.NoError(t, err)
	log, err := maskop.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, maskop.Batch{maskop.NewEllipse(11, 20, 5, 5, maskop.FillFogged)}, log.Events[0])
	assert.Equal(t, maskop.Polygon, log.Events[1][0].Shape)
	assert.Equal(t, 2, log.Pointer)

	store := settings.NewStore(s)
	one, err := store.Resolve(ctx, "scene-1", "")
	require.NoError(t, err, "renamed keys decode")
	assert.Equal(t, 0.3, one.GMColorAlpha)
	assert.Equal(t, 4000, one.FogImageOverlayZIndex)
	assert.Equal(t, "fog.png", one.FogImageOverlayFilePath)

	raw, err := store.Raw(ctx, "scene-2")
	require.NoError(t, err)
	for _, k := range []string{settings.KeyGMColorAlpha, settings.KeyGMColorTint, settings.KeyPlayerColorAlpha, settings.KeyPlayerColorTint, settings.KeyFogImageOverlayZIndex} {
		assert.Contains(t, raw, k, "defaults are pinned")
	}
	assert.NotContains(t, raw, settings.KeyFogImageOverlayFilePath)
}

func TestRunIsOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	version, err := Run(ctx, s)
	require.NoError(t, err)
	require.Equal(t, Latest(), version)

	require.NoError(t, s.Set(ctx, "scene-1", settings.StorageKey, []byte(`{"gmAlpha":0.3}`)))
	version, err = Run(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, Latest(), version)

	data, err := s.Get(ctx, "scene-1", settings.StorageKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"gmAlpha":0.3}`, string(data), "completed migrations never rerun")
}

func TestRunResumesFromStoredVersion(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Set(ctx, SystemScope, VersionKey, []byte("1")))
	require.NoError(t, s.Set(ctx, "scene-1", engine.HistoryKey, []byte(legacyHistory)))
	require.NoError(t, s.Set(ctx, "scene-1", settings.StorageKey, []byte(`{"playerTint":"0x112233"}`)))

	version, err := Run(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	data, err := s.Get(ctx, "scene-1", engine.HistoryKey)
	require.NoError(t, err)
	assert.Equal(t, legacyHistory, string(data), "step 1 already ran")

	var raw map[string]any
	data, err = s.Get(ctx, "scene-1", settings.StorageKey)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "0x112233", raw[settings.KeyPlayerColorTint])
	assert.NotContains(t, raw, "playerTint")
}

func TestRunSkipsUserScopes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	userScope := settings.UserScope("alice")
	require.NoError(t, s.Set(ctx, userScope, settings.StorageKey, []byte(`{"brushSize":10}`)))

	_, err := Run(ctx, s)
	require.NoError(t, err)

	data, err := s.Get(ctx, userScope, settings.StorageKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"brushSize":10}`, string(data))
}

func TestVersion(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	v, err := Version(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, s.Set(ctx, SystemScope, VersionKey, []byte("x")))
	_, err = Version(ctx, s)
	assert.Error(t, err)
}

type plainTransport struct{ transport.Transport }

func TestRunNeedsLister(t *testing.T) {
	_, err := Run(context.Background(), plainTransport{newStore(t)})
	assert.ErrorIs(t, err, ErrNoLister)
}
