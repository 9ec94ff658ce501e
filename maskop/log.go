package maskop

import (
	"errors"
	"fmt"
)

var (
	// ErrPointerOutOfRange is returned by Validate when the pointer is outside [0, len(events)].
	ErrPointerOutOfRange = errors.New("log pointer out of range")
	// ErrEmptyBatch is returned when committing a batch with no operations.
	ErrEmptyBatch = errors.New("empty batch")
)

// OperationLog is the persisted history of a scene mask. Events[0:Pointer]
// is the applied part; anything past Pointer is the redo tail left by undo.
type OperationLog struct {
	Events  []Batch `json:"events"`
	Pointer int     `json:"pointer"`
}

// NewLog returns an empty log.
func NewLog() *OperationLog {
	return &OperationLog{Events: []Batch{}, Pointer: 0}
}

// Len returns the number of batches, including the redo tail.
func (l *OperationLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Events)
}

// Validate checks the pointer invariant.
func (l *OperationLog) Validate() error {
	if l.Pointer < 0 || l.Pointer > len(l.Events) {
		return fmt.Errorf("%w: pointer %d, %d events", ErrPointerOutOfRange, l.Pointer, len(l.Events))
	}
	return nil
}

// ClampedPointer returns the pointer forced into [0, len(events)].
func (l *OperationLog) ClampedPointer() int {
	if l == nil {
		return 0
	}
	return clamp(l.Pointer, 0, len(l.Events))
}

// Clone returns a deep copy of the log.
func (l *OperationLog) Clone() *OperationLog {
	if l == nil {
		return nil
	}
	out := &OperationLog{Events: make([]Batch, len(l.Events)), Pointer: l.Pointer}
	for i, b := range l.Events {
		out.Events[i] = b.Clone()
	}
	return out
}

// Append returns a copy of the log with everything past the pointer dropped,
// the batch appended and the pointer moved to the end.
func (l *OperationLog) Append(batch Batch) (*OperationLog, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	base := l
	if base == nil {
		base = NewLog()
	}
	keep := base.ClampedPointer()

	out := &OperationLog{Events: make([]Batch, 0, keep+1)}
	for _, b := range base.Events[:keep] {
		out.Events = append(out.Events, b.Clone())
	}
	out.Events = append(out.Events, batch.Clone())
	out.Pointer = len(out.Events)
	return out, nil
}

// WithPointer returns a copy of the log pointing at p, clamped to the valid
// range. Events are never touched.
func (l *OperationLog) WithPointer(p int) *OperationLog {
	out := l.Clone()
	if out == nil {
		out = NewLog()
	}
	out.Pointer = clamp(p, 0, len(out.Events))
	return out
}

// Applied returns the batches covered by the pointer.
func (l *OperationLog) Applied() []Batch {
	if l == nil {
		return nil
	}
	return l.Events[:l.ClampedPointer()]
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
