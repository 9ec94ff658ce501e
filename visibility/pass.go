package visibility

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fogmask/raster"
	"fogmask/settings"
)

var updatesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fogmask_visibility_updates_total",
	Help: "Placeables whose visibility was set by auto-visibility.",
})

// Observed is implemented by placeables that know whether the viewing user
// has observer permission on them.
type Observed interface {
	Observed() bool
}

// Viewer is the user the pass runs for.
type Viewer struct {
	GM bool
}

// Objects are the placeables of a scene. Walls that are not doors are
// ignored.
type Objects struct {
	Tokens []Placeable
	Notes  []Placeable
	Walls  []Placeable
}

// Pass applies auto-visibility to every object of the scene and returns how
// many were updated. Nothing is touched when the fog layer is hidden, when
// auto-visibility is off, or for a GM unless autoVisGM is on.
func Pass(cfg settings.Scene, viewer Viewer, surface raster.Surface, gridSize int, objs Objects) int {
	if !cfg.Visible || !cfg.AutoVisibility {
		return 0
	}
	if viewer.GM && !cfg.AutoVisGM {
		return 0
	}

	s := Sampler{GridSize: gridSize, Threshold: cfg.VThreshold}
	updated := 0
	apply := func(p Placeable) {
		if o, ok := p.(Observed); ok && o.Observed() && !viewer.GM {
			return
		}
		if !s.Apply(p, surface) {
			return
		}
		updated++
	}

	for _, p := range objs.Tokens {
		apply(p)
	}
	for _, p := range objs.Notes {
		apply(p)
	}
	for _, p := range objs.Walls {
		if _, ok := p.(Door); ok {
			apply(p)
		}
	}

	updatesTotal.Add(float64(updated))
	logger.Debugf("auto-visibility updated %d placeables", updated)
	return updated
}
