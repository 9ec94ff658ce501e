package engine

import "sort"

// EventKind tells observers what happened to the mask.
type EventKind int

const (
	// EventPainted follows a live paint.
	EventPainted EventKind = iota
	// EventCommitted follows a successful commit.
	EventCommitted
	// EventReplayed follows a replay from the persisted log.
	EventReplayed
	// EventReset follows a reset of the surface.
	EventReset
	// EventCancelled follows a discarded gesture. Shape previews should be
	// hidden.
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventPainted:
		return "painted"
	case EventCommitted:
		return "committed"
	case EventReplayed:
		return "replayed"
	case EventReset:
		return "reset"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event is delivered to observers after the engine state changed.
type Event struct {
	Kind  EventKind
	Scene string
	// Pointer is the applied pointer after the change.
	Pointer int
	// Operations is the number of operations involved.
	Operations int
}

// Observer is called synchronously, outside of the engine lock.
type Observer func(Event)

// Observe registers fn and returns a function that removes it. Observers run
// in registration order.
func (e *Engine) Observe(fn Observer) (cancel func()) {
	e.obsMu.Lock()
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	e.obsMu.Unlock()

	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

func (e *Engine) notify(ev Event) {
	ev.Scene = e.scene

	e.obsMu.RLock()
	ids := make([]uint64, 0, len(e.observers))
	for id := range e.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Observer, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.observers[id])
	}
	e.obsMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
