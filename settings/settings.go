// Package settings defines the typed per-scene fog configuration.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"fogmask/maskop"
)

// Key names as persisted.
const (
	KeyVisible                    = "visible"
	KeyBlurEnable                 = "blurEnable"
	KeyBlurRadius                 = "blurRadius"
	KeyBlurQuality                = "blurQuality"
	KeyGMColorAlpha               = "gmColorAlpha"
	KeyGMColorTint                = "gmColorTint"
	KeyPlayerColorAlpha           = "playerColorAlpha"
	KeyPlayerColorTint            = "playerColorTint"
	KeyFogImageOverlayFilePath    = "fogImageOverlayFilePath"
	KeyFogImageOverlayZIndex      = "fogImageOverlayZIndex"
	KeyFogImageOverlayGMAlpha     = "fogImageOverlayGMAlpha"
	KeyFogImageOverlayPlayerAlpha = "fogImageOverlayPlayerAlpha"
	KeyLayerZIndex                = "layerZIndex"
	KeyTransition                 = "transition"
	KeyTransitionSpeed            = "transitionSpeed"
	KeyPreviewColor               = "previewColor"
	KeyPreviewAlpha               = "previewAlpha"
	KeyHandleSize                 = "handleSize"
	KeyAutoVisibility             = "autoVisibility"
	KeyAutoVisGM                  = "autoVisGM"
	KeyVThreshold                 = "vThreshold"
	KeyBrushSize                  = "brushSize"
	KeyBrushOpacity               = "brushOpacity"
)

// Keys lists every recognized setting.
var Keys = []string{
	KeyVisible, KeyBlurEnable, KeyBlurRadius, KeyBlurQuality,
	KeyGMColorAlpha, KeyGMColorTint, KeyPlayerColorAlpha, KeyPlayerColorTint,
	KeyFogImageOverlayFilePath, KeyFogImageOverlayZIndex, KeyFogImageOverlayGMAlpha, KeyFogImageOverlayPlayerAlpha,
	KeyLayerZIndex, KeyTransition, KeyTransitionSpeed, KeyPreviewColor, KeyPreviewAlpha, KeyHandleSize,
	KeyAutoVisibility, KeyAutoVisGM, KeyVThreshold, KeyBrushSize, KeyBrushOpacity,
}

var ErrInvalid = errors.New("invalid scene settings")

// Scene is the fog configuration of one scene.
type Scene struct {
	Visible    bool `json:"visible"`
	BlurEnable bool `json:"blurEnable"`
	// BlurRadius is the blur sigma in pixels.
	BlurRadius  float64 `json:"blurRadius"`
	BlurQuality int     `json:"blurQuality"`

	GMColorAlpha     float64     `json:"gmColorAlpha"`
	GMColorTint      maskop.Fill `json:"gmColorTint"`
	PlayerColorAlpha float64     `json:"playerColorAlpha"`
	PlayerColorTint  maskop.Fill `json:"playerColorTint"`

	FogImageOverlayFilePath    string  `json:"fogImageOverlayFilePath"`
	FogImageOverlayZIndex      int     `json:"fogImageOverlayZIndex"`
	FogImageOverlayGMAlpha     float64 `json:"fogImageOverlayGMAlpha"`
	FogImageOverlayPlayerAlpha float64 `json:"fogImageOverlayPlayerAlpha"`
	LayerZIndex                int     `json:"layerZIndex"`

	Transition bool `json:"transition"`
	// TransitionSpeed is the alpha fade duration in milliseconds.
	TransitionSpeed int `json:"transitionSpeed"`

	PreviewColor maskop.Fill `json:"previewColor"`
	PreviewAlpha float64     `json:"previewAlpha"`
	HandleSize   int         `json:"handleSize"`

	AutoVisibility bool `json:"autoVisibility"`
	AutoVisGM      bool `json:"autoVisGM"`
	// VThreshold is the normalized mask intensity below which placeables are
	// visible.
	VThreshold float64 `json:"vThreshold"`

	BrushSize int `json:"brushSize"`
	// BrushOpacity is how strongly the brush reveals, 1 being fully clear.
	BrushOpacity float64 `json:"brushOpacity"`
}

// BrushFill is the fill the brush tools paint with.
func (s Scene) BrushFill() maskop.Fill {
	return maskop.FillFromPercent(100 - int(math.Round(s.BrushOpacity*100)))
}

// Defaults returns the settings of a freshly enabled scene.
func Defaults() Scene {
	return Scene{
		Visible:                    false,
		BlurEnable:                 true,
		BlurRadius:                 5,
		BlurQuality:                2,
		GMColorAlpha:               0.6,
		GMColorTint:                maskop.FillRevealed,
		PlayerColorAlpha:           1,
		PlayerColorTint:            maskop.FillRevealed,
		FogImageOverlayZIndex:      6000,
		FogImageOverlayGMAlpha:     0.6,
		FogImageOverlayPlayerAlpha: 1,
		LayerZIndex:                220,
		Transition:                 true,
		TransitionSpeed:            800,
		PreviewColor:               maskop.Fill(0x00FFFF),
		PreviewAlpha:               0.4,
		HandleSize:                 20,
		AutoVisibility:             false,
		AutoVisGM:                  false,
		VThreshold:                 1,
		BrushSize:                  50,
		BrushOpacity:               1,
	}
}

// Validate checks ranges.
func (s Scene) Validate() error {
	alphas := map[string]float64{
		KeyGMColorAlpha:               s.GMColorAlpha,
		KeyPlayerColorAlpha:           s.PlayerColorAlpha,
		KeyFogImageOverlayGMAlpha:     s.FogImageOverlayGMAlpha,
		KeyFogImageOverlayPlayerAlpha: s.FogImageOverlayPlayerAlpha,
		KeyPreviewAlpha:               s.PreviewAlpha,
		KeyVThreshold:                 s.VThreshold,
		KeyBrushOpacity:               s.BrushOpacity,
	}
	for _, k := range Keys {
		v, ok := alphas[k]
		if ok && (v < 0 || v > 1) {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", ErrInvalid, k, v)
		}
	}

	switch {
	case s.BlurRadius < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalid, KeyBlurRadius)
	case s.BlurQuality < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalid, KeyBlurQuality)
	case s.TransitionSpeed < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalid, KeyTransitionSpeed)
	case s.HandleSize < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalid, KeyHandleSize)
	case s.BrushSize <= 0:
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyBrushSize)
	}
	return nil
}

// Decode overlays the stored JSON object onto defaults. Unknown keys are
// rejected so typos surface at load time. Color keys accept "0xRRGGBB"
// strings as well as integers.
func Decode(data []byte) (Scene, error) {
	s := Defaults()
	if len(data) == 0 {
		return s, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := applyRaw(&s, raw); err != nil {
		return s, err
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Merge applies a partial JSON object on top of s and validates the result.
func (s Scene) Merge(patch []byte) (Scene, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(patch, &raw); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out := s
	if err := applyRaw(&out, raw); err != nil {
		return s, err
	}
	if err := out.Validate(); err != nil {
		return s, err
	}
	return out, nil
}

// BrushReveals reports whether the brush fill samples as visible under the
// scene threshold. Previews are tinted from it.
func (s Scene) BrushReveals() bool {
	return float64(s.BrushFill().Percent())/100 < s.VThreshold
}

// Encode serializes the settings.
func Encode(s Scene) ([]byte, error) {
	return json.Marshal(s)
}

func applyRaw(s *Scene, raw map[string]json.RawMessage) error {
	known := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		known[k] = true
	}

	colors := map[string]*maskop.Fill{
		KeyGMColorTint:     &s.GMColorTint,
		KeyPlayerColorTint: &s.PlayerColorTint,
		KeyPreviewColor:    &s.PreviewColor,
	}

	plain := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if !known[k] {
			return fmt.Errorf("%w: unknown key %q", ErrInvalid, k)
		}
		dst, ok := colors[k]
		if !ok {
			plain[k] = v
			continue
		}
		f, err := decodeColor(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, k, err)
		}
		*dst = f
	}

	if len(plain) == 0 {
		return nil
	}
	data, err := json.Marshal(plain)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func decodeColor(v json.RawMessage) (maskop.Fill, error) {
	var str string
	if err := json.Unmarshal(v, &str); err == nil {
		return maskop.ParseFill(str)
	}
	var n uint32
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, err
	}
	return maskop.Fill(n & 0xFFFFFF), nil
}
