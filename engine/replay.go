package engine

import (
	"fogmask/brush"
	"fogmask/maskop"
	"fogmask/raster"
)

// Replay renders events[from:to] of log onto the surface without touching
// the live buffer.
//
// A to at or before the applied pointer means the view is stale (undo or
// full resync): the surface is blanked and replay restarts from zero. Both
// bounds are clamped so a malformed persisted pointer cannot panic.
func (e *Engine) Replay(log *maskop.OperationLog, from, to int) error {
	e.mu.Lock()
	ev, err := e.replayLocked(log, from, to)
	e.synced = false
	e.mu.Unlock()

	e.notify(ev)
	return err
}

func (e *Engine) replayLocked(log *maskop.OperationLog, from, to int) (Event, error) {
	if log == nil {
		logger.Debugf("scene %s has no history, showing default fill", e.scene)
		e.current = nil
		e.applied = 0
		replaysTotal.WithLabelValues("missing").Inc()
		return Event{Kind: EventReset}, e.surface.Fill(e.options.DefaultFill)
	}

	e.current = log.Clone()

	if len(log.Events) == 0 {
		e.applied = 0
		replaysTotal.WithLabelValues("empty").Inc()
		return Event{Kind: EventReset}, e.surface.Fill(e.options.BlankFill)
	}

	to = clamp(to, 0, len(log.Events))
	from = clamp(from, 0, to)

	mode := "forward"
	if to <= e.applied {
		if err := e.surface.Fill(e.options.BlankFill); err != nil {
			return Event{Kind: EventReplayed, Pointer: e.applied}, err
		}
		from = 0
		mode = "rewind"
	}
	replaysTotal.WithLabelValues(mode).Inc()

	logger.Debugf("scene %s: rendering from %d to %d (%s)", e.scene, from, to, mode)
	painted, err := paintBatches(e.surface, log.Events[from:to])
	e.applied = to
	replayedOperations.Add(float64(painted))

	return Event{Kind: EventReplayed, Pointer: to, Operations: painted}, err
}

// paintBatches composites every drawable operation and returns how many were
// painted. A failing composite is logged and skipped so one bad operation
// cannot hide the rest of the history; the first error is returned.
func paintBatches(s raster.Surface, batches []maskop.Batch) (int, error) {
	var firstErr error
	painted := 0
	for _, batch := range batches {
		for _, op := range batch {
			prim, ok := brush.MakePrimitive(op)
			if !ok {
				continue
			}
			if err := s.Composite(prim); err != nil {
				logger.Errorf("failed to paint %s operation: %v", op.Shape, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			painted++
		}
	}
	return painted, firstErr
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
