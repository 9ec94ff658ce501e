package settings

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fogmask/maskop"
	"fogmask/transport"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	require.NoError(t, d.Validate())

	assert.False(t, d.Visible)
	assert.True(t, d.BlurEnable)
	assert.Equal(t, 5.0, d.BlurRadius)
	assert.Equal(t, 0.6, d.GMColorAlpha)
	assert.Equal(t, 1.0, d.PlayerColorAlpha)
	assert.Equal(t, 6000, d.FogImageOverlayZIndex)
	assert.Equal(t, 800, d.TransitionSpeed)
	assert.Equal(t, maskop.Fill(0x00FFFF), d.PreviewColor)
	assert.Equal(t, 20, d.HandleSize)
	assert.Equal(t, 1.0, d.VThreshold)
	assert.Equal(t, 50, d.BrushSize)
	assert.Equal(t, maskop.FillRevealed, d.BrushFill())
}

func TestBrushFill(t *testing.T) {
	s := Defaults()
	s.BrushOpacity = 0
	assert.Equal(t, maskop.FillFogged, s.BrushFill())
	s.BrushOpacity = 0.5
	assert.Equal(t, maskop.FillFromPercent(50), s.BrushFill())
}

func TestBrushReveals(t *testing.T) {
	s := Defaults()
	assert.True(t, s.BrushReveals())

	s.BrushOpacity = 0
	assert.False(t, s.BrushReveals(), "a fogging brush never reveals")

	s.BrushOpacity = 0.5
	s.VThreshold = 0.4
	assert.False(t, s.BrushReveals())
	s.VThreshold = 0.6
	assert.True(t, s.BrushReveals())
}

func TestDecodeOverlaysDefaults(t *testing.T) {
	s, err := Decode([]byte(`{"visible":true,"gmColorTint":"0x112233","playerColorTint":255,"vThreshold":0.5}`))
	require.NoError(t, err)

	assert.True(t, s.Visible)
	assert.Equal(t, maskop.Fill(0x112233), s.GMColorTint)
	assert.Equal(t, maskop.Fill(0x0000FF), s.PlayerColorTint)
	assert.Equal(t, 0.5, s.VThreshold)
	assert.Equal(t, 0.6, s.GMColorAlpha, "unset keys keep defaults")
}

func TestDecodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"unknown key", `{"gmAlpha":0.5}`},
		{"alpha too large", `{"gmColorAlpha":1.5}`},
		{"negative threshold", `{"vThreshold":-0.1}`},
		{"negative blur", `{"blurRadius":-1}`},
		{"zero brush", `{"brushSize":0}`},
		{"wrong type", `{"visible":"yes"}`},
		{"bad color", `{"gmColorTint":"teal"}`},
		{"not an object", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.json))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestMergeKeepsReceiverOnError(t *testing.T) {
	s := Defaults()
	out, err := s.Merge([]byte(`{"previewAlpha":2}`))
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, s, out)

	out, err = s.Merge([]byte(`{"previewAlpha":0.2}`))
	require.NoError(t, err)
	assert.Equal(t, 0.2, out.PreviewAlpha)
}

func TestEncodeUsesPersistedKeys(t *testing.T) {
	data, err := Encode(Defaults())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, k := range Keys {
		assert.Contains(t, raw, k)
	}
	assert.Len(t, raw, len(Keys))
}

func TestStoreResolveOrder(t *testing.T) {
	ctx := context.Background()
	ts, err := transport.NewMemoryStore()
	require.NoError(t, err)
	defer ts.Close()
	s := NewStore(ts)

	require.NoError(t, s.Update(ctx, UserScope("alice"), []byte(`{"brushSize":80,"previewAlpha":0.1}`)))
	require.NoError(t, s.Update(ctx, "scene-1", []byte(`{"brushSize":30}`)))

	got, err := s.Resolve(ctx, "scene-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 30, got.BrushSize, "scene wins over user")
	assert.Equal(t, 0.1, got.PreviewAlpha, "user wins over default")
	assert.Equal(t, 20, got.HandleSize, "default otherwise")

	got, err = s.Resolve(ctx, "scene-1", "")
	require.NoError(t, err)
	assert.Equal(t, 0.4, got.PreviewAlpha)
}

func TestStoreUpdate(t *testing.T) {
	ctx := context.Background()
	ts, err := transport.NewMemoryStore()
	require.NoError(t, err)
	defer ts.Close()
	s := NewStore(ts)

	require.NoError(t, s.Update(ctx, "scene-1", []byte(`{"visible":true,"brushSize":30}`)))
	assert.ErrorIs(t, s.Update(ctx, "scene-1", []byte(`{"vThreshold":3}`)), ErrInvalid)

	raw, err := s.Raw(ctx, "scene-1")
	require.NoError(t, err)
	assert.Len(t, raw, 2, "rejected update leaves the stored object alone")

	require.NoError(t, s.Update(ctx, "scene-1", []byte(`{"brushSize":null}`)))
	raw, err = s.Raw(ctx, "scene-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]json.RawMessage{"visible": json.RawMessage("true")}, raw)
}
